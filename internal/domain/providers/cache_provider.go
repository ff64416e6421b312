package providers

import (
	"context"
	"fmt"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
)

// CacheProvider defines the interface for caching operations
type CacheProvider interface {
	// Get retrieves a value from cache; a miss is reported as an error
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration
	Set(ctx context.Context, key string, value []byte, expirationSeconds int) error

	// SetNX stores a value only if the key is absent and reports whether it was stored
	SetNX(ctx context.Context, key string, value []byte, expirationSeconds int) (bool, error)

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// DeletePattern removes every key matching a glob pattern
	DeletePattern(ctx context.Context, pattern string) error

	// Exists checks if a key exists in cache
	Exists(ctx context.Context, key string) (bool, error)
}

// LatestCompletedCacheKey is the cache key of the authoritative entry of a (policy, stage)
func LatestCompletedCacheKey(policyID string, stage entities.Stage) string {
	return fmt.Sprintf("processing:latest:%s:%s", policyID, stage)
}

// PolicyProcessingCachePattern matches every processing cache key of a policy
func PolicyProcessingCachePattern(policyID string) string {
	return fmt.Sprintf("processing:*:%s:*", policyID)
}
