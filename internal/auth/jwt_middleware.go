package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Principal represents an authenticated user from an access token.
// This is added to the request context after successful verification.
type Principal struct {
	UserID  string
	TokenID string
}

type contextKey int

const (
	principalContextKey contextKey = iota
)

// PrincipalFromContext extracts the authenticated principal from the request context.
// Returns nil if no principal is present (unauthenticated request).
func PrincipalFromContext(ctx context.Context) *Principal {
	principal, _ := ctx.Value(principalContextKey).(*Principal)
	return principal
}

// WithPrincipal returns a copy of ctx carrying principal.
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// RevocationChecker reports access tokens that were invalidated before
// their expiry, for example by sign-out or rotation.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) bool
}

// Middleware returns an HTTP middleware that requires a valid bearer access
// token. Rejections are written as a JSON error body with status 401.
func (v *Verifier) Middleware(revocations RevocationChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := BearerToken(r)
			if tokenString == "" {
				log.Debug().Msg("Missing Authorization header")
				writeUnauthorized(w, "Authentication credentials were not provided.")
				return
			}

			ctx := r.Context()

			claims, err := v.Verify(tokenString)
			if err != nil {
				log.Debug().Err(err).Msg("Failed to verify access token")
				writeUnauthorized(w, "Given token not valid for any token type")
				return
			}

			if revocations != nil && revocations.IsRevoked(ctx, claims.ID) {
				log.Debug().Str("token_id", claims.ID).Msg("Access token revoked")
				writeUnauthorized(w, "Given token not valid for any token type")
				return
			}

			ctx = WithPrincipal(ctx, &Principal{UserID: claims.Subject, TokenID: claims.ID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from the Authorization header, or returns
// an empty string.
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
