// Package auth provides authentication for the HTTP transport.
package auth

import (
	"context"
	"fmt"
)

// contextKey is a private type for context keys.
type contextKey int

const (
	tokenKey contextKey = iota
	userInfoKey
)

// UserInfo holds authenticated user information.
type UserInfo struct {
	UserID   string         `json:"user_id"`
	Email    string         `json:"email,omitempty"`
	Name     string         `json:"name,omitempty"`
	Roles    []string       `json:"roles,omitempty"`
	Claims   map[string]any `json:"claims,omitempty"`
	AuthType string         `json:"auth_type"` // "apikey", "bearer"
}

// HasRole checks if the user has a specific role.
func (u *UserInfo) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole checks if the user has any of the specified roles.
func (u *UserInfo) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if u.HasRole(role) {
			return true
		}
	}
	return false
}

// Authenticator validates the credential carried in the request context.
type Authenticator interface {
	// Authenticate reads the token placed in ctx by WithToken and returns
	// the authenticated user, or an error when the credential is invalid.
	Authenticate(ctx context.Context) (*UserInfo, error)
}

// WithToken adds a raw credential to the context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// GetToken retrieves the raw credential from the context.
func GetToken(ctx context.Context) string {
	if token, ok := ctx.Value(tokenKey).(string); ok {
		return token
	}
	return ""
}

// WithUserInfo adds authenticated user information to the context.
func WithUserInfo(ctx context.Context, info *UserInfo) context.Context {
	return context.WithValue(ctx, userInfoKey, info)
}

// GetUserInfo retrieves authenticated user information from the context.
func GetUserInfo(ctx context.Context) *UserInfo {
	if info, ok := ctx.Value(userInfoKey).(*UserInfo); ok {
		return info
	}
	return nil
}

// ChainAuthenticator tries each authenticator in order and returns the
// first successful result.
type ChainAuthenticator struct {
	authenticators []Authenticator
}

// NewChainAuthenticator creates an authenticator over an ordered chain.
func NewChainAuthenticator(authenticators ...Authenticator) *ChainAuthenticator {
	return &ChainAuthenticator{authenticators: authenticators}
}

// Authenticate tries each authenticator until one accepts the credential.
func (c *ChainAuthenticator) Authenticate(ctx context.Context) (*UserInfo, error) {
	if len(c.authenticators) == 0 {
		return nil, fmt.Errorf("no authenticators configured")
	}

	var lastErr error
	for _, a := range c.authenticators {
		info, err := a.Authenticate(ctx)
		if err == nil {
			return info, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Verify interface compliance.
var _ Authenticator = (*ChainAuthenticator)(nil)
