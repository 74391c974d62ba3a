package auth

import (
	"context"
	"fmt"
	"maps"

	"github.com/golang-jwt/jwt/v5"
)

// BearerConfig configures the JWT bearer authenticator.
type BearerConfig struct {
	// Issuer is the expected issuer claim in the JWT.
	Issuer string

	// SigningKey is the HMAC key used to verify JWT signatures.
	SigningKey []byte
}

// BearerAuthenticator validates HMAC-signed JWT bearer tokens.
type BearerAuthenticator struct {
	cfg BearerConfig
}

// NewBearerAuthenticator creates a new bearer token authenticator.
func NewBearerAuthenticator(cfg BearerConfig) (*BearerAuthenticator, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("bearer signing key is required")
	}
	return &BearerAuthenticator{cfg: cfg}, nil
}

// Authenticate validates the JWT token and returns user info.
func (a *BearerAuthenticator) Authenticate(ctx context.Context) (*UserInfo, error) {
	token := GetToken(ctx)
	if token == "" {
		return nil, fmt.Errorf("no token found in context")
	}

	claims, err := a.parseAndValidateToken(token)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return nil, fmt.Errorf("missing sub claim")
	}

	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)

	var roles []string
	if raw, ok := claims["roles"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	}

	return &UserInfo{
		UserID:   userID,
		Email:    email,
		Name:     name,
		Roles:    roles,
		Claims:   claims,
		AuthType: "bearer",
	}, nil
}

// parseAndValidateToken parses and validates the JWT.
func (a *BearerAuthenticator) parseAndValidateToken(tokenString string) (map[string]any, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		// Validate the algorithm is HMAC
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.cfg.SigningKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	if a.cfg.Issuer != "" {
		iss, ok := claims["iss"].(string)
		if !ok || iss != a.cfg.Issuer {
			return nil, fmt.Errorf("invalid issuer: got %q, want %q", iss, a.cfg.Issuer)
		}
	}

	claimsMap := make(map[string]any)
	maps.Copy(claimsMap, claims)

	return claimsMap, nil
}

// Verify interface compliance.
var _ Authenticator = (*BearerAuthenticator)(nil)
