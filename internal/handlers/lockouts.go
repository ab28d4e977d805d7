package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/brightcart/identity/internal/auth"
	"github.com/brightcart/identity/internal/models"
	pkghttp "github.com/brightcart/identity/pkg/http"
)

// LockoutServiceInterface defines the interface for admin lockout operations
type LockoutServiceInterface interface {
	Status(ctx context.Context, userID uuid.UUID) (*models.LockoutRecord, error)
	ManualLockout(ctx context.Context, userID uuid.UUID, reason string, duration *time.Duration, createdBy uuid.UUID) (*models.LockoutRecord, error)
	Release(ctx context.Context, userID uuid.UUID, releasedBy uuid.UUID) error
}

// LockoutHandler handles admin lockout HTTP requests
type LockoutHandler struct {
	service LockoutServiceInterface
}

// NewLockoutHandler creates a new LockoutHandler
func NewLockoutHandler(service LockoutServiceInterface) *LockoutHandler {
	return &LockoutHandler{service: service}
}

// ManualLockoutRequest represents the request body for locking an account.
// DurationSeconds zero means open-ended.
type ManualLockoutRequest struct {
	Reason          string `json:"reason" validate:"max=256"`
	DurationSeconds int64  `json:"duration_seconds" validate:"gte=0"`
}

// LockoutResponse represents a lockout record in API responses
type LockoutResponse struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	LockoutType      string     `json:"lockout_type"`
	Reason           string     `json:"reason"`
	Level            int        `json:"level"`
	StartedAt        time.Time  `json:"started_at"`
	EndsAt           *time.Time `json:"ends_at,omitempty"`
	RemainingSeconds int        `json:"remaining_seconds"`
	Active           bool       `json:"active"`
}

// Status returns the user's active lockout, 404 when none
func (h *LockoutHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromURL(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid user id")
		return
	}

	record, err := h.service.Status(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if record == nil {
		pkghttp.WriteNotFound(w, "No active lockout")
		return
	}
	writeJSON(w, http.StatusOK, toLockoutResponse(record))
}

// Lock applies a manual lockout to an account
func (h *LockoutHandler) Lock(w http.ResponseWriter, r *http.Request) {
	adminID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}
	userID, err := userIDFromURL(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid user id")
		return
	}

	var req ManualLockoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	var duration *time.Duration
	if req.DurationSeconds > 0 {
		d := time.Duration(req.DurationSeconds) * time.Second
		duration = &d
	}

	record, err := h.service.ManualLockout(r.Context(), userID, req.Reason, duration, adminID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLockoutResponse(record))
}

// Release ends the user's active lockout
func (h *LockoutHandler) Release(w http.ResponseWriter, r *http.Request) {
	adminID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}
	userID, err := userIDFromURL(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid user id")
		return
	}

	if err := h.service.Release(r.Context(), userID, adminID); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func toLockoutResponse(record *models.LockoutRecord) LockoutResponse {
	return LockoutResponse{
		ID:               record.ID.String(),
		UserID:           record.UserID.String(),
		LockoutType:      record.LockoutType,
		Reason:           record.Reason,
		Level:            record.Level,
		StartedAt:        record.StartedAt,
		EndsAt:           record.EndsAt,
		RemainingSeconds: int(record.Remaining(time.Now().UTC()).Seconds()),
		Active:           record.Active,
	}
}
