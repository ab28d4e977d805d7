package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brightcart/identity/internal/middleware"
	"github.com/brightcart/identity/internal/models"
)

type stubSessionValidator struct {
	validateFunc func(ctx context.Context, token string) (*models.Session, error)
	calls        int
}

func (s *stubSessionValidator) Validate(ctx context.Context, token string) (*models.Session, error) {
	s.calls++
	if s.validateFunc != nil {
		return s.validateFunc(ctx, token)
	}
	return &models.Session{}, nil
}

func runSessionActivity(t *testing.T, validator *stubSessionValidator, token string) (*httptest.ResponseRecorder, bool) {
	t.Helper()

	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	if token != "" {
		req.Header.Set(middleware.SessionTokenHeader, token)
	}
	w := httptest.NewRecorder()

	middleware.SessionActivity(validator)(next).ServeHTTP(w, req)
	return w, reached
}

func TestSessionActivity_NoTokenPassesThrough(t *testing.T) {
	validator := &stubSessionValidator{}

	w, reached := runSessionActivity(t, validator, "")

	assert.True(t, reached)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, validator.calls)
}

func TestSessionActivity_TouchesPresentedSession(t *testing.T) {
	var seen string
	validator := &stubSessionValidator{
		validateFunc: func(ctx context.Context, token string) (*models.Session, error) {
			seen = token
			return &models.Session{}, nil
		},
	}

	w, reached := runSessionActivity(t, validator, "opaque-session-token")

	assert.True(t, reached)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "opaque-session-token", seen)
	assert.Equal(t, 1, validator.calls)
}

func TestSessionActivity_DeadSessionRejected(t *testing.T) {
	validator := &stubSessionValidator{
		validateFunc: func(ctx context.Context, token string) (*models.Session, error) {
			return nil, models.ErrSessionNotFound
		},
	}

	w, reached := runSessionActivity(t, validator, "stale-token")

	assert.False(t, reached)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionActivity_StoreOutage(t *testing.T) {
	validator := &stubSessionValidator{
		validateFunc: func(ctx context.Context, token string) (*models.Session, error) {
			return nil, models.ErrStoreUnavailable
		},
	}

	w, reached := runSessionActivity(t, validator, "any-token")

	assert.False(t, reached)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
