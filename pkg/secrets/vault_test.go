package secrets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketplace-chat/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kvResponse = `{
  "data": {
    "data": {"jwt_secret": "from-vault"},
    "metadata": {
      "created_time": "2024-01-01T00:00:00Z",
      "custom_metadata": null,
      "deletion_time": "",
      "destroyed": false,
      "version": 1
    }
  }
}`

func TestVaultManagerReadsKV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/secret/data/marketplace-chat" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "root", r.Header.Get("X-Vault-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(kvResponse))
	}))
	defer srv.Close()

	m, err := NewVaultManager(VaultConfig{
		Enabled: true,
		Address: srv.URL,
		Token:   "root",
		Path:    "marketplace-chat",
	}, logger.Discard())
	require.NoError(t, err)

	v, err := m.GetSecret(context.Background(), KeyJWTSecret)
	require.NoError(t, err)
	assert.Equal(t, "from-vault", v)
}

func TestVaultManagerDisabledUsesEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")

	m, err := NewVaultManager(VaultConfig{}, logger.Discard())
	require.NoError(t, err)

	v, err := m.GetSecret(context.Background(), KeyJWTSecret)
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	assert.Equal(t, "fallback", m.GetSecretWithDefault(context.Background(), "missing-key", "fallback"))
}

func TestVaultManagerRequiresToken(t *testing.T) {
	_, err := NewVaultManager(VaultConfig{Enabled: true, Address: "http://127.0.0.1:1"}, logger.Discard())
	assert.ErrorIs(t, err, ErrNoVaultToken)
}
