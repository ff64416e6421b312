package providers

import (
	"context"
)

// BlobStore keeps the raw bytes of uploaded policy files
type BlobStore interface {
	// Put writes data under key. Writing identical content to an existing key succeeds.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads the bytes stored under key
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key; a missing key is not an error
	Delete(ctx context.Context, key string) error
}
