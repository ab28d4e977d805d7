package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/brightcart/identity/internal/models"
	pkghttp "github.com/brightcart/identity/pkg/http"
)

// SessionTokenHeader carries the opaque session token issued at login.
const SessionTokenHeader = "X-Session-Token"

// SessionValidator resolves a session token to a live session, sliding its
// expiry forward.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*models.Session, error)
}

// SessionActivity keeps device sessions alive: each authenticated request
// that presents a session token touches the session, pushing its expiry
// out. A request without the header passes through on the strength of its
// access token alone; a dead or unknown session is rejected.
func SessionActivity(sessions SessionValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(SessionTokenHeader)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			if _, err := sessions.Validate(r.Context(), token); err != nil {
				if errors.Is(err, models.ErrStoreUnavailable) {
					pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
					return
				}
				pkghttp.WriteUnauthorized(w, "Session expired or terminated")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
