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

// SettingsServiceInterface defines the interface for security policy management
type SettingsServiceInterface interface {
	Resolve(ctx context.Context, userID *uuid.UUID) (*models.SecuritySettings, error)
	Update(ctx context.Context, userID uuid.UUID, settings *models.SecuritySettings, updatedBy uuid.UUID) (*models.SecuritySettings, error)
	UpdateGlobal(ctx context.Context, settings *models.SecuritySettings, updatedBy uuid.UUID) (*models.SecuritySettings, error)
	Reset(ctx context.Context, userID uuid.UUID, resetBy uuid.UUID) error
}

// SettingsHandler handles security policy HTTP requests (admin only)
type SettingsHandler struct {
	service SettingsServiceInterface
}

// NewSettingsHandler creates a new SettingsHandler
func NewSettingsHandler(service SettingsServiceInterface) *SettingsHandler {
	return &SettingsHandler{service: service}
}

// SettingsRequest represents the request body for policy updates. Durations
// are given in seconds.
type SettingsRequest struct {
	MaxFailedAttempts     int                `json:"max_failed_attempts" validate:"required,gte=1,lte=100"`
	InitialLockoutSeconds int64              `json:"initial_lockout_seconds" validate:"required,gte=1"`
	MaxLockoutSeconds     int64              `json:"max_lockout_seconds" validate:"required,gte=1"`
	LockoutMultiplier     float64            `json:"lockout_multiplier" validate:"required,gte=1"`
	AttemptWindowSeconds  int64              `json:"attempt_window_seconds" validate:"required,gte=1"`
	ProgressiveLockout    bool               `json:"progressive_lockout"`
	SuspiciousThreshold   float64            `json:"suspicious_threshold" validate:"gte=0,lte=1"`
	RiskWeights           *models.RiskWeights `json:"risk_weights,omitempty"`
	GeolocationTracking   bool               `json:"geolocation_tracking"`
	DeviceFingerprinting  bool               `json:"device_fingerprinting"`
	MaxConcurrentSessions int                `json:"max_concurrent_sessions" validate:"required,gte=1,lte=100"`
	SessionTimeoutSeconds int64              `json:"session_timeout_seconds" validate:"required,gte=60"`
	AttemptRetentionDays  int                `json:"attempt_retention_days" validate:"required,gte=1,lte=3650"`
	SendSecurityAlerts    bool               `json:"send_security_alerts"`
}

// SettingsResponse mirrors the stored policy in API form
type SettingsResponse struct {
	UserID                *string            `json:"user_id,omitempty"`
	IsGlobalDefault       bool               `json:"is_global_default"`
	MaxFailedAttempts     int                `json:"max_failed_attempts"`
	InitialLockoutSeconds int64              `json:"initial_lockout_seconds"`
	MaxLockoutSeconds     int64              `json:"max_lockout_seconds"`
	LockoutMultiplier     float64            `json:"lockout_multiplier"`
	AttemptWindowSeconds  int64              `json:"attempt_window_seconds"`
	ProgressiveLockout    bool               `json:"progressive_lockout"`
	SuspiciousThreshold   float64            `json:"suspicious_threshold"`
	RiskWeights           models.RiskWeights `json:"risk_weights"`
	GeolocationTracking   bool               `json:"geolocation_tracking"`
	DeviceFingerprinting  bool               `json:"device_fingerprinting"`
	MaxConcurrentSessions int                `json:"max_concurrent_sessions"`
	SessionTimeoutSeconds int64              `json:"session_timeout_seconds"`
	AttemptRetentionDays  int                `json:"attempt_retention_days"`
	SendSecurityAlerts    bool               `json:"send_security_alerts"`
}

// GetEffective returns the policy that applies to a user after fallback
func (h *SettingsHandler) GetEffective(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromURL(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid user id")
		return
	}

	settings, err := h.service.Resolve(r.Context(), &userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(settings))
}

// GetGlobal returns the global default policy
func (h *SettingsHandler) GetGlobal(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.Resolve(r.Context(), nil)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(settings))
}

// Update stores a per-user policy override
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
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

	settings, ok := h.decodeSettings(w, r)
	if !ok {
		return
	}

	updated, err := h.service.Update(r.Context(), userID, settings, adminID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(updated))
}

// UpdateGlobal stores the global default policy
func (h *SettingsHandler) UpdateGlobal(w http.ResponseWriter, r *http.Request) {
	adminID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	settings, ok := h.decodeSettings(w, r)
	if !ok {
		return
	}

	updated, err := h.service.UpdateGlobal(r.Context(), settings, adminID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(updated))
}

// Reset removes a user's override so the global default applies
func (h *SettingsHandler) Reset(w http.ResponseWriter, r *http.Request) {
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

	if err := h.service.Reset(r.Context(), userID, adminID); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *SettingsHandler) decodeSettings(w http.ResponseWriter, r *http.Request) (*models.SecuritySettings, bool) {
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return nil, false
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return nil, false
	}

	settings := &models.SecuritySettings{
		MaxFailedAttempts:      req.MaxFailedAttempts,
		InitialLockoutDuration: time.Duration(req.InitialLockoutSeconds) * time.Second,
		MaxLockoutDuration:     time.Duration(req.MaxLockoutSeconds) * time.Second,
		LockoutMultiplier:      req.LockoutMultiplier,
		FailedAttemptWindow:    time.Duration(req.AttemptWindowSeconds) * time.Second,
		ProgressiveLockout:     req.ProgressiveLockout,
		SuspiciousThreshold:    req.SuspiciousThreshold,
		GeolocationTracking:    req.GeolocationTracking,
		DeviceFingerprinting:   req.DeviceFingerprinting,
		MaxConcurrentSessions:  req.MaxConcurrentSessions,
		SessionTimeout:         time.Duration(req.SessionTimeoutSeconds) * time.Second,
		AttemptRetention:       time.Duration(req.AttemptRetentionDays) * 24 * time.Hour,
		SendSecurityAlerts:     req.SendSecurityAlerts,
	}
	if req.RiskWeights != nil {
		settings.RiskWeights = *req.RiskWeights
	} else {
		settings.RiskWeights = models.DefaultSecuritySettings().RiskWeights
	}
	return settings, true
}

func toSettingsResponse(s *models.SecuritySettings) SettingsResponse {
	resp := SettingsResponse{
		IsGlobalDefault:       s.IsGlobalDefault,
		MaxFailedAttempts:     s.MaxFailedAttempts,
		InitialLockoutSeconds: int64(s.InitialLockoutDuration.Seconds()),
		MaxLockoutSeconds:     int64(s.MaxLockoutDuration.Seconds()),
		LockoutMultiplier:     s.LockoutMultiplier,
		AttemptWindowSeconds:  int64(s.FailedAttemptWindow.Seconds()),
		ProgressiveLockout:    s.ProgressiveLockout,
		SuspiciousThreshold:   s.SuspiciousThreshold,
		RiskWeights:           s.RiskWeights,
		GeolocationTracking:   s.GeolocationTracking,
		DeviceFingerprinting:  s.DeviceFingerprinting,
		MaxConcurrentSessions: s.MaxConcurrentSessions,
		SessionTimeoutSeconds: int64(s.SessionTimeout.Seconds()),
		AttemptRetentionDays:  int(s.AttemptRetention.Hours() / 24),
		SendSecurityAlerts:    s.SendSecurityAlerts,
	}
	if s.UserID != nil {
		id := s.UserID.String()
		resp.UserID = &id
	}
	return resp
}
