package storage_test

import (
	"context"
	"testing"

	"github.com/civiclens/civiclens/backend/internal/adapters/storage"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_RoundTrip(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key := "pol_1/health.pdf"
	require.NoError(t, store.Put(ctx, key, []byte("%PDF-1.4")))
	require.NoError(t, store.Put(ctx, key, []byte("%PDF-1.4")))

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key))

	_, err = store.Get(ctx, key)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "/etc/passwd", "../outside", "pol_1/../../x", "pol_1//a"} {
		err := store.Put(context.Background(), key, []byte("x"))
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation), key)
	}
}
