package server

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-dbinstance/pkg/auth"
	"github.com/txn2/mcp-dbinstance/pkg/platform"
)

func TestVersion(t *testing.T) {
	if Version != "dev" {
		t.Errorf("expected Version 'dev', got %q", Version)
	}
}

func TestNewWithDefaults(t *testing.T) {
	p, err := NewWithDefaults()
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "dev", p.Config().Server.Version)
	assert.Empty(t, p.InstanceNames())
	require.NoError(t, p.Close())
}

func TestNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  name: dbinstance-test
instances:
  - name: warehouse
    kind: postgres
    postgres:
      host: db.internal
      user: app
      database: warehouse
`), 0o600))

	p, err := New(path)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, []string{"warehouse"}, p.InstanceNames())
	require.NoError(t, p.Close())
}

func TestNew_MissingConfig(t *testing.T) {
	_, err := New("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestBuildAuthenticator_NoneEnabled(t *testing.T) {
	a, err := BuildAuthenticator(platform.AuthConfig{})
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestBuildAuthenticator_APIKeys(t *testing.T) {
	a, err := BuildAuthenticator(platform.AuthConfig{
		APIKeys: platform.APIKeyAuthConfig{
			Enabled: true,
			Keys:    []platform.APIKeyDef{{Key: "k1", Name: "ci"}},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, a)

	info, err := a.Authenticate(auth.WithToken(context.Background(), "k1"))
	require.NoError(t, err)
	assert.Equal(t, "apikey:ci", info.UserID)
}

func TestBuildAuthenticator_Chain(t *testing.T) {
	a, err := BuildAuthenticator(platform.AuthConfig{
		APIKeys: platform.APIKeyAuthConfig{
			Enabled: true,
			Keys:    []platform.APIKeyDef{{Key: "k1", Name: "ci"}},
		},
		Bearer: platform.BearerAuthConfig{
			Enabled:    true,
			SigningKey: base64.StdEncoding.EncodeToString([]byte("0123456789abcdef")),
			Issuer:     "https://auth.example.com",
		},
	})
	require.NoError(t, err)
	assert.IsType(t, &auth.ChainAuthenticator{}, a)
}

func TestBuildAuthenticator_BadSigningKey(t *testing.T) {
	_, err := BuildAuthenticator(platform.AuthConfig{
		Bearer: platform.BearerAuthConfig{
			Enabled:    true,
			SigningKey: "not base64!!!",
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding bearer signing key")
}
