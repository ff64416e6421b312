package secrets_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/civiclens/civiclens/backend/pkg/retry"
	"github.com/civiclens/civiclens/backend/pkg/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vaultServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))
		assert.Equal(t, "/v1/secret/data/civiclens/api", r.URL.Path)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func vaultConfig(addr string) secrets.VaultConfig {
	return secrets.VaultConfig{
		Enabled:   true,
		Addr:      addr,
		Token:     "test-token",
		Mount:     "secret",
		Path:      "civiclens/api",
		KVVersion: 2,
		Timeout:   time.Second,
		Retry:     retry.Config{MaxAttempts: 1},
	}
}

func TestApplyVaultSecrets_KVv2(t *testing.T) {
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("TYPESENSE_API_KEY", "from-env")
	t.Setenv("UPLOAD_MAX_BYTES", "")

	server := vaultServer(t, http.StatusOK, `{"data":{"data":{"DB_PASSWORD":"s3cret","TYPESENSE_API_KEY":"from-vault","UPLOAD_MAX_BYTES":5242880}}}`)

	result, err := secrets.ApplyVaultSecrets(context.Background(), vaultConfig(server.URL))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Loaded)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, "s3cret", os.Getenv("DB_PASSWORD"))
	assert.Equal(t, "from-env", os.Getenv("TYPESENSE_API_KEY"))
	assert.Equal(t, "5242880", os.Getenv("UPLOAD_MAX_BYTES"))
}

func TestApplyVaultSecrets_Overwrite(t *testing.T) {
	t.Setenv("TYPESENSE_API_KEY", "from-env")
	server := vaultServer(t, http.StatusOK, `{"data":{"data":{"TYPESENSE_API_KEY":"from-vault"}}}`)

	cfg := vaultConfig(server.URL)
	cfg.Overwrite = true
	result, err := secrets.ApplyVaultSecrets(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Loaded)
	assert.Equal(t, "from-vault", os.Getenv("TYPESENSE_API_KEY"))
}

func TestApplyVaultSecrets_Errors(t *testing.T) {
	t.Run("disabled is a no-op", func(t *testing.T) {
		result, err := secrets.ApplyVaultSecrets(context.Background(), secrets.VaultConfig{})
		require.NoError(t, err)
		assert.False(t, result.Enabled)
	})

	t.Run("incomplete configuration", func(t *testing.T) {
		cfg := vaultConfig("")
		_, err := secrets.ApplyVaultSecrets(context.Background(), cfg)
		assert.Error(t, err)
	})

	t.Run("forbidden", func(t *testing.T) {
		server := vaultServer(t, http.StatusForbidden, `{"errors":["permission denied"]}`)
		_, err := secrets.ApplyVaultSecrets(context.Background(), vaultConfig(server.URL))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "permission denied")
	})

	t.Run("missing data", func(t *testing.T) {
		server := vaultServer(t, http.StatusOK, `{"data":null}`)
		_, err := secrets.ApplyVaultSecrets(context.Background(), vaultConfig(server.URL))
		assert.Error(t, err)
	})
}
