package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brightcart/identity/internal/auth"
	"github.com/brightcart/identity/internal/models"
	pkghttp "github.com/brightcart/identity/pkg/http"
)

// SessionServiceInterface defines the interface for session management
type SessionServiceInterface interface {
	List(ctx context.Context, userID uuid.UUID) ([]models.Session, error)
	Terminate(ctx context.Context, userID, sessionID uuid.UUID) error
	TerminateAllOthers(ctx context.Context, userID, keepSessionID uuid.UUID) (int64, error)
}

// SessionHandler handles session management HTTP requests
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

// SessionResponse represents one device session in API responses. The token
// hash never leaves the server.
type SessionResponse struct {
	ID              string    `json:"id"`
	IPAddress       string    `json:"ip_address"`
	OperatingSystem string    `json:"operating_system"`
	Browser         string    `json:"browser"`
	DeviceType      string    `json:"device_type"`
	Location        string    `json:"location,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// List returns the caller's active sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessions, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, SessionResponse{
			ID:              s.ID.String(),
			IPAddress:       s.IPAddress,
			OperatingSystem: s.OperatingSystem,
			Browser:         s.Browser,
			DeviceType:      s.DeviceType,
			Location:        s.Location,
			CreatedAt:       s.CreatedAt,
			LastActivityAt:  s.LastActivityAt,
			ExpiresAt:       s.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]SessionResponse{"sessions": resp})
}

// Terminate ends one of the caller's sessions
func (h *SessionHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid session id")
		return
	}

	if err := h.service.Terminate(r.Context(), userID, sessionID); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

// TerminateOthers ends every session except the given one
func (h *SessionHandler) TerminateOthers(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	keepID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid session id")
		return
	}

	n, err := h.service.TerminateAllOthers(r.Context(), userID, keepID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"terminated": n})
}
