package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/brightcart/identity/internal/models"
	"github.com/google/uuid"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// ClaimsContextKey is the key for storing token claims in context
	ClaimsContextKey contextKey = "claims"
)

// UserRoleFetcher looks up a user's role for the admin guard.
type UserRoleFetcher interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Middleware validates bearer tokens of the given type and injects the
// claims into the request context.
func Middleware(tm *TokenManager, tokenType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := tm.ValidateToken(parts[1])
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			// Refresh and challenge tokens are only valid on their dedicated
			// endpoints.
			if claims.Type != tokenType {
				http.Error(w, "token not valid for this endpoint", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole ensures the authenticated user holds the given role.
func RequireRole(repo UserRoleFetcher, role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			userID, err := uuid.Parse(claims.UserID)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			user, err := repo.GetByID(r.Context(), userID)
			if err != nil || user.Role != role {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext extracts token claims injected by Middleware.
func ClaimsFromContext(ctx context.Context) (*models.TokenClaims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*models.TokenClaims)
	return claims, ok
}

// UserIDFromContext extracts the authenticated user's ID.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
