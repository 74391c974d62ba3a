// Package http provides HTTP middleware for the MCP transport.
package http

import (
	"net/http"
	"strings"

	"github.com/txn2/mcp-dbinstance/pkg/auth"
)

// AuthMiddleware extracts authentication tokens from HTTP headers and adds
// them to the request context. It checks the Authorization header for a
// Bearer token first, then falls back to the X-API-Key header.
func AuthMiddleware(requireAuth bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			var token string

			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}

			if token == "" {
				token = r.Header.Get("X-API-Key")
			}

			if requireAuth && token == "" {
				http.Error(w, "Unauthorized: missing authentication token", http.StatusUnauthorized)
				return
			}

			if token != "" {
				ctx = auth.WithToken(ctx, token)
				r = r.WithContext(ctx)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuthenticateMiddleware validates the extracted credential with the given
// authenticator and places the resulting user info in the request context.
// When allowAnonymous is true, requests without a credential pass through
// unauthenticated; requests that carry an invalid credential are still
// rejected.
func AuthenticateMiddleware(authenticator auth.Authenticator, allowAnonymous bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if auth.GetToken(ctx) == "" {
				if !allowAnonymous {
					http.Error(w, "Unauthorized: missing authentication token", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			info, err := authenticator.Authenticate(ctx)
			if err != nil {
				http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
				return
			}

			r = r.WithContext(auth.WithUserInfo(ctx, info))
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth returns middleware that requires authentication.
func RequireAuth() func(http.Handler) http.Handler {
	return AuthMiddleware(true)
}

// OptionalAuth returns middleware that allows anonymous requests.
func OptionalAuth() func(http.Handler) http.Handler {
	return AuthMiddleware(false)
}
