package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/brightcart/identity/internal/handlers"
	"github.com/brightcart/identity/internal/models"
)

func TestLockoutStatus_Active(t *testing.T) {
	userID := uuid.New()
	endsAt := time.Now().UTC().Add(10 * time.Minute)
	mockService := &handlers.MockLockoutService{
		StatusFunc: func(ctx context.Context, id uuid.UUID) (*models.LockoutRecord, error) {
			assert.Equal(t, userID, id)
			return &models.LockoutRecord{
				ID:          uuid.New(),
				UserID:      userID,
				LockoutType: models.LockoutTypeAutomatic,
				Reason:      models.LockoutReasonFailedAttempts,
				Level:       2,
				StartedAt:   time.Now().UTC().Add(-5 * time.Minute),
				EndsAt:      &endsAt,
				Active:      true,
			}, nil
		},
	}
	handler := handlers.NewLockoutHandler(mockService)

	req := handlers.NewTestRequest(t, "GET", "/admin/users/"+userID.String()+"/lockout", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"userID": userID.String()})
	w := httptest.NewRecorder()
	handler.Status(w, req)

	var resp handlers.LockoutResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, userID.String(), resp.UserID)
	assert.Equal(t, 2, resp.Level)
	assert.True(t, resp.Active)
	assert.Greater(t, resp.RemainingSeconds, 0)
}

func TestLockoutStatus_NoneActive(t *testing.T) {
	userID := uuid.New()
	mockService := &handlers.MockLockoutService{
		StatusFunc: func(ctx context.Context, id uuid.UUID) (*models.LockoutRecord, error) {
			return nil, nil
		},
	}
	handler := handlers.NewLockoutHandler(mockService)

	req := handlers.NewTestRequest(t, "GET", "/admin/users/"+userID.String()+"/lockout", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"userID": userID.String()})
	w := httptest.NewRecorder()
	handler.Status(w, req)

	handlers.AssertErrorResponse(t, w, 404, "not_found")
}

func TestLockoutStatus_InvalidUserID(t *testing.T) {
	handler := handlers.NewLockoutHandler(&handlers.MockLockoutService{})

	req := handlers.NewTestRequest(t, "GET", "/admin/users/not-a-uuid/lockout", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"userID": "not-a-uuid"})
	w := httptest.NewRecorder()
	handler.Status(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestManualLockout_Success(t *testing.T) {
	adminID := uuid.New()
	userID := uuid.New()
	var gotDuration *time.Duration
	mockService := &handlers.MockLockoutService{
		ManualLockoutFunc: func(ctx context.Context, id uuid.UUID, reason string, duration *time.Duration, createdBy uuid.UUID) (*models.LockoutRecord, error) {
			gotDuration = duration
			assert.Equal(t, adminID, createdBy)
			endsAt := time.Now().UTC().Add(*duration)
			return &models.LockoutRecord{
				ID:          uuid.New(),
				UserID:      id,
				LockoutType: models.LockoutTypeManual,
				Reason:      reason,
				Level:       1,
				StartedAt:   time.Now().UTC(),
				EndsAt:      &endsAt,
				Active:      true,
			}, nil
		},
	}
	handler := handlers.NewLockoutHandler(mockService)

	req := handlers.NewTestRequest(t, "POST", "/admin/users/"+userID.String()+"/lockout", handlers.ManualLockoutRequest{
		Reason:          "compromised credentials",
		DurationSeconds: 3600,
	})
	req = handlers.WithAuthContext(req, adminID, "admin@example.com")
	req = handlers.WithChiRouteContext(req, map[string]string{"userID": userID.String()})
	w := httptest.NewRecorder()
	handler.Lock(w, req)

	var resp handlers.LockoutResponse
	handlers.AssertJSONResponse(t, w, 201, &resp)
	assert.Equal(t, models.LockoutTypeManual, resp.LockoutType)
	if assert.NotNil(t, gotDuration) {
		assert.Equal(t, time.Hour, *gotDuration)
	}
}

func TestManualLockout_OpenEnded(t *testing.T) {
	adminID := uuid.New()
	userID := uuid.New()
	mockService := &handlers.MockLockoutService{
		ManualLockoutFunc: func(ctx context.Context, id uuid.UUID, reason string, duration *time.Duration, createdBy uuid.UUID) (*models.LockoutRecord, error) {
			assert.Nil(t, duration, "zero duration_seconds means open-ended")
			return &models.LockoutRecord{
				ID:          uuid.New(),
				UserID:      id,
				LockoutType: models.LockoutTypeManual,
				Reason:      reason,
				Level:       1,
				StartedAt:   time.Now().UTC(),
				Active:      true,
			}, nil
		},
	}
	handler := handlers.NewLockoutHandler(mockService)

	req := handlers.NewTestRequest(t, "POST", "/admin/users/"+userID.String()+"/lockout", handlers.ManualLockoutRequest{
		Reason: "fraud investigation",
	})
	req = handlers.WithAuthContext(req, adminID, "admin@example.com")
	req = handlers.WithChiRouteContext(req, map[string]string{"userID": userID.String()})
	w := httptest.NewRecorder()
	handler.Lock(w, req)

	var resp handlers.LockoutResponse
	handlers.AssertJSONResponse(t, w, 201, &resp)
	assert.Nil(t, resp.EndsAt)
	assert.Equal(t, 0, resp.RemainingSeconds)
}

func TestManualLockout_AlreadyLocked(t *testing.T) {
	adminID := uuid.New()
	userID := uuid.New()
	mockService := &handlers.MockLockoutService{
		ManualLockoutFunc: func(ctx context.Context, id uuid.UUID, reason string, duration *time.Duration, createdBy uuid.UUID) (*models.LockoutRecord, error) {
			return nil, models.ErrConflict
		},
	}
	handler := handlers.NewLockoutHandler(mockService)

	req := handlers.NewTestRequest(t, "POST", "/admin/users/"+userID.String()+"/lockout", handlers.ManualLockoutRequest{
		Reason: "stacking attempt",
	})
	req = handlers.WithAuthContext(req, adminID, "admin@example.com")
	req = handlers.WithChiRouteContext(req, map[string]string{"userID": userID.String()})
	w := httptest.NewRecorder()
	handler.Lock(w, req)

	handlers.AssertErrorResponse(t, w, 409, "conflict")
}

func TestManualLockout_Unauthenticated(t *testing.T) {
	userID := uuid.New()
	handler := handlers.NewLockoutHandler(&handlers.MockLockoutService{})

	req := handlers.NewTestRequest(t, "POST", "/admin/users/"+userID.String()+"/lockout", handlers.ManualLockoutRequest{
		Reason: "no claims in context",
	})
	req = handlers.WithChiRouteContext(req, map[string]string{"userID": userID.String()})
	w := httptest.NewRecorder()
	handler.Lock(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestLockoutRelease_Success(t *testing.T) {
	adminID := uuid.New()
	userID := uuid.New()
	mockService := &handlers.MockLockoutService{
		ReleaseFunc: func(ctx context.Context, id uuid.UUID, releasedBy uuid.UUID) error {
			assert.Equal(t, userID, id)
			assert.Equal(t, adminID, releasedBy)
			return nil
		},
	}
	handler := handlers.NewLockoutHandler(mockService)

	req := handlers.NewTestRequest(t, "DELETE", "/admin/users/"+userID.String()+"/lockout", nil)
	req = handlers.WithAuthContext(req, adminID, "admin@example.com")
	req = handlers.WithChiRouteContext(req, map[string]string{"userID": userID.String()})
	w := httptest.NewRecorder()
	handler.Release(w, req)

	var resp map[string]string
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "released", resp["status"])
}

func TestLockoutRelease_NotLocked(t *testing.T) {
	adminID := uuid.New()
	userID := uuid.New()
	mockService := &handlers.MockLockoutService{
		ReleaseFunc: func(ctx context.Context, id uuid.UUID, releasedBy uuid.UUID) error {
			return models.ErrNotFound
		},
	}
	handler := handlers.NewLockoutHandler(mockService)

	req := handlers.NewTestRequest(t, "DELETE", "/admin/users/"+userID.String()+"/lockout", nil)
	req = handlers.WithAuthContext(req, adminID, "admin@example.com")
	req = handlers.WithChiRouteContext(req, map[string]string{"userID": userID.String()})
	w := httptest.NewRecorder()
	handler.Release(w, req)

	handlers.AssertErrorResponse(t, w, 404, "not_found")
}
