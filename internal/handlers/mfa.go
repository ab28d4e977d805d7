package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/brightcart/identity/internal/auth"
	"github.com/brightcart/identity/internal/models"
	"github.com/brightcart/identity/internal/services"
	pkghttp "github.com/brightcart/identity/pkg/http"
)

// MfaServiceInterface defines the interface for MFA management
type MfaServiceInterface interface {
	GetStatus(ctx context.Context, userID uuid.UUID) (*services.MfaStatus, error)
	InitiateSetup(ctx context.Context, userID uuid.UUID, req models.RequestContext) (*services.SetupResponse, error)
	ActivateTotp(ctx context.Context, userID uuid.UUID, code string, req models.RequestContext) error
	RegenerateBackupCodes(ctx context.Context, userID uuid.UUID, password string, req models.RequestContext) ([]string, error)
	Disable(ctx context.Context, userID uuid.UUID, password string, method models.MfaMethod, code string, req models.RequestContext) error
	SendEmailOtp(ctx context.Context, userID uuid.UUID, purpose string, sessionID *uuid.UUID, req models.RequestContext) error
	SetEnforcement(ctx context.Context, userID uuid.UUID, enforced bool, grace time.Duration, setBy uuid.UUID) error
}

// MfaHandler handles MFA management HTTP requests
type MfaHandler struct {
	service  MfaServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewMfaHandler creates a new MfaHandler
func NewMfaHandler(service MfaServiceInterface, ipConfig *pkghttp.IPConfig) *MfaHandler {
	return &MfaHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// ActivateRequest represents the request body for TOTP activation
type ActivateRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// RegenerateCodesRequest represents the request body for backup code regeneration
type RegenerateCodesRequest struct {
	Password string `json:"password" validate:"required"`
}

// DisableMfaRequest represents the request body for disabling MFA
type DisableMfaRequest struct {
	Password string `json:"password" validate:"required"`
	Method   string `json:"method" validate:"required,oneof=totp backup_code email_otp"`
	Code     string `json:"code" validate:"required,min=6,max=16"`
}

// EnforcementRequest represents the admin request to enforce MFA for a user
type EnforcementRequest struct {
	Enforced  bool `json:"enforced"`
	GraceDays int  `json:"grace_days" validate:"gte=0,lte=90"`
}

// GetStatus returns the caller's MFA state
func (h *MfaHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	status, err := h.service.GetStatus(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// InitiateSetup provisions a TOTP secret and backup codes
func (h *MfaHandler) InitiateSetup(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	resp, err := h.service.InitiateSetup(r.Context(), userID, h.requestContext(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Activate verifies the first TOTP code and turns MFA on
func (h *MfaHandler) Activate(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ActivateTotp(r.Context(), userID, req.Code, h.requestContext(r)); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

// RegenerateBackupCodes issues a fresh batch of recovery codes
func (h *MfaHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req RegenerateCodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	codes, err := h.service.RegenerateBackupCodes(r.Context(), userID, req.Password, h.requestContext(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"backup_codes": codes})
}

// Disable turns MFA off after re-verification
func (h *MfaHandler) Disable(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req DisableMfaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	method, err := models.ParseMfaMethod(req.Method)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Unknown verification method")
		return
	}

	if err := h.service.Disable(r.Context(), userID, req.Password, method, req.Code, h.requestContext(r)); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

// SendDisableOtp emails a code for the disable-MFA flow
func (h *MfaHandler) SendDisableOtp(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.SendEmailOtp(r.Context(), userID, models.OtpPurposeDisableMfa, nil, h.requestContext(r)); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// SetEnforcement is the admin control for requiring MFA on an account
func (h *MfaHandler) SetEnforcement(w http.ResponseWriter, r *http.Request) {
	adminID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	targetID, err := userIDFromURL(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid user id")
		return
	}

	var req EnforcementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	grace := time.Duration(req.GraceDays) * 24 * time.Hour
	if err := h.service.SetEnforcement(r.Context(), targetID, req.Enforced, grace, adminID); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enforced": req.Enforced})
}

func (h *MfaHandler) requestContext(r *http.Request) models.RequestContext {
	return models.RequestContext{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: pkghttp.ExtractUserAgent(r),
	}
}
