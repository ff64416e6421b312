package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
)

// LocalStore keeps policy files on the local filesystem under a root directory
type LocalStore struct {
	root string
}

var _ providers.BlobStore = (*LocalStore)(nil)

// NewLocalStore creates the root directory if needed
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("storage root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", root, err)
	}
	return &LocalStore{root: root}, nil
}

// Put writes data through a temporary file and renames it into place
func (s *LocalStore) Put(ctx context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.NewInternalError("failed to create storage directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return apperrors.NewInternalError("failed to create temporary file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.NewInternalError("failed to write file", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.NewInternalError("failed to write file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return apperrors.NewInternalError("failed to store file", err)
	}
	return nil
}

// Get reads the file stored under key
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("stored file %s not found", key))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to read file", err)
	}
	return data, nil
}

// Delete removes the file; a missing file is ignored
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperrors.NewInternalError("failed to delete file", err)
	}
	// drop the per-policy directory once it is empty
	_ = os.Remove(filepath.Dir(path))
	return nil
}

func (s *LocalStore) path(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return apperrors.NewValidationError("invalid storage key: " + key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return apperrors.NewValidationError("invalid storage key: " + key)
		}
	}
	return nil
}
