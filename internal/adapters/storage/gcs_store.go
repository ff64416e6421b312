package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	gcsclient "github.com/civiclens/civiclens/backend/internal/infrastructure/clients/gcs"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
)

// GCSStore keeps policy files in a Cloud Storage bucket
type GCSStore struct {
	bucket *storage.BucketHandle
	prefix string
}

var _ providers.BlobStore = (*GCSStore)(nil)

// NewGCSStore creates a blob store on the client's bucket
func NewGCSStore(client *gcsclient.Client) *GCSStore {
	return &GCSStore{bucket: client.Bucket(), prefix: client.Prefix()}
}

// Put writes the object only if it does not exist yet. Keys embed the policy
// id, so an existing object already holds this content.
func (s *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	name, err := s.objectName(key)
	if err != nil {
		return err
	}

	writer := s.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		if alreadyExists(err) {
			return nil
		}
		return apperrors.NewExternalError("failed to write object "+name, err)
	}
	if err := writer.Close(); err != nil {
		if alreadyExists(err) {
			log.Debug().Str("object", name).Msg("Object already exists, skipping write")
			return nil
		}
		return apperrors.NewExternalError("failed to finalize object "+name, err)
	}
	return nil
}

// Get reads the object bytes
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	name, err := s.objectName(key)
	if err != nil {
		return nil, err
	}

	reader, err := s.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("stored file %s not found", key))
	}
	if err != nil {
		return nil, apperrors.NewExternalError("failed to open object "+name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, apperrors.NewExternalError("failed to read object "+name, err)
	}
	return data, nil
}

// Delete removes the object; a missing object is ignored
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	name, err := s.objectName(key)
	if err != nil {
		return err
	}

	err = s.bucket.Object(name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return apperrors.NewExternalError("failed to delete object "+name, err)
	}
	return nil
}

func (s *GCSStore) objectName(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return s.prefix + key, nil
}

func alreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
