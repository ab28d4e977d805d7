package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brightcart/identity/internal/models"
	pkghttp "github.com/brightcart/identity/pkg/http"
)

// userIDFromURL parses the {userID} route parameter
func userIDFromURL(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "userID"))
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// handleServiceError maps service-layer sentinel errors to HTTP responses.
// Anything unrecognized is a 500 with no detail leaked.
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrStoreUnavailable):
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Conflicting state")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrUnauthorized),
		errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Not allowed")
	case errors.Is(err, models.ErrAccountLocked):
		pkghttp.WriteError(w, http.StatusForbidden, "account_locked", "Account is temporarily locked")
	case errors.Is(err, models.ErrAccountSuspended),
		errors.Is(err, models.ErrAccountDisabled):
		pkghttp.WriteForbidden(w, "Account is not active")
	case errors.Is(err, models.ErrMfaNotEnabled):
		pkghttp.WriteError(w, http.StatusBadRequest, "mfa_not_enabled", "Multi-factor authentication is not enabled")
	case errors.Is(err, models.ErrMfaCodeInvalid):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_code", "Invalid verification code")
	case errors.Is(err, models.ErrMfaCodeExpired):
		pkghttp.WriteError(w, http.StatusUnauthorized, "code_expired", "Verification code has expired")
	case errors.Is(err, models.ErrMfaChannelBlocked):
		pkghttp.WriteError(w, http.StatusForbidden, "channel_blocked", "Too many failed attempts for this code")
	case errors.Is(err, models.ErrBackupCodesExhausted):
		pkghttp.WriteError(w, http.StatusUnauthorized, "backup_codes_exhausted", "No backup codes remaining")
	case errors.Is(err, models.ErrSessionNotFound):
		pkghttp.WriteNotFound(w, "Session not found")
	case errors.Is(err, models.ErrUnauthorizedSessionAccess):
		pkghttp.WriteForbidden(w, "Session belongs to another user")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
