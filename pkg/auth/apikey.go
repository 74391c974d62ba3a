package auth

import (
	"context"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyConfig holds API key configuration.
type APIKeyConfig struct {
	Keys []APIKey
}

// APIKey represents an API key entry. Exactly one of Key (plaintext) or
// KeyHash (bcrypt hash) should be set.
type APIKey struct {
	Key     string   // The API key value
	KeyHash string   // bcrypt hash of the key, for configs without plaintext
	Name    string   // Display name for the key
	Roles   []string // Roles assigned to this key
}

// APIKeyAuthenticator authenticates using API keys.
type APIKeyAuthenticator struct {
	keys []APIKey
}

// NewAPIKeyAuthenticator creates a new API key authenticator.
func NewAPIKeyAuthenticator(cfg APIKeyConfig) (*APIKeyAuthenticator, error) {
	for _, key := range cfg.Keys {
		if key.Key == "" && key.KeyHash == "" {
			return nil, fmt.Errorf("api key %q: key or key_hash is required", key.Name)
		}
	}
	keys := make([]APIKey, len(cfg.Keys))
	copy(keys, cfg.Keys)
	return &APIKeyAuthenticator{keys: keys}, nil
}

// Authenticate validates the API key and returns user info.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context) (*UserInfo, error) {
	token := GetToken(ctx)
	if token == "" {
		return nil, fmt.Errorf("no API key found in context")
	}

	var matched *APIKey
	for i := range a.keys {
		key := &a.keys[i]
		if key.Key != "" {
			// Constant-time comparison for plaintext keys.
			if subtle.ConstantTimeCompare([]byte(key.Key), []byte(token)) == 1 {
				matched = key
				break
			}
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(token)) == nil {
			matched = key
			break
		}
	}

	if matched == nil {
		return nil, fmt.Errorf("invalid API key")
	}

	return &UserInfo{
		UserID:   "apikey:" + matched.Name,
		Claims:   make(map[string]any),
		Roles:    matched.Roles,
		AuthType: "apikey",
	}, nil
}

// AddKey adds an API key at runtime.
func (a *APIKeyAuthenticator) AddKey(key APIKey) {
	a.keys = append(a.keys, key)
}

// RemoveKey removes an API key by name.
func (a *APIKeyAuthenticator) RemoveKey(name string) {
	for i := range a.keys {
		if a.keys[i].Name == name {
			a.keys = append(a.keys[:i], a.keys[i+1:]...)
			return
		}
	}
}

// Verify interface compliance.
var _ Authenticator = (*APIKeyAuthenticator)(nil)
