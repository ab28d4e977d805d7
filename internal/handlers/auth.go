package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brightcart/identity/internal/models"
	pkghttp "github.com/brightcart/identity/pkg/http"
)

// AuthServiceInterface defines the interface for the login flow
type AuthServiceInterface interface {
	Authenticate(ctx context.Context, email, password string, req models.RequestContext) (*models.AuthOutcome, error)
	CompleteMfa(ctx context.Context, challengeToken string, method models.MfaMethod, code string, req models.RequestContext) (*models.AuthOutcome, error)
	SendLoginOtp(ctx context.Context, challengeToken string, req models.RequestContext) error
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// MfaCompleteRequest represents the request body for finishing a challenge
type MfaCompleteRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
	Method         string `json:"method" validate:"required,oneof=totp backup_code email_otp"`
	Code           string `json:"code" validate:"required,min=6,max=16"`
}

// SendOtpRequest represents the request body for requesting a login OTP
type SendOtpRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LoginResponse represents the outcome of a login attempt
type LoginResponse struct {
	Status           string  `json:"status"`
	AccessToken      string  `json:"access_token,omitempty"`
	RefreshToken     string  `json:"refresh_token,omitempty"`
	SessionToken     string  `json:"session_token,omitempty"`
	SessionID        string  `json:"session_id,omitempty"`
	ChallengeToken   string  `json:"challenge_token,omitempty"`
	LockedForSeconds int     `json:"locked_for_seconds,omitempty"`
	RiskScore        float64 `json:"risk_score,omitempty"`
}

// Login handles the primary credential check
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	outcome, err := h.service.Authenticate(r.Context(), req.Email, req.Password, h.requestContext(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.writeOutcome(w, outcome)
}

// CompleteMfa handles the second factor of a pending login
func (h *AuthHandler) CompleteMfa(w http.ResponseWriter, r *http.Request) {
	var req MfaCompleteRequest
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

	outcome, err := h.service.CompleteMfa(r.Context(), req.ChallengeToken, method, req.Code, h.requestContext(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.writeOutcome(w, outcome)
}

// SendOtp emails a one-time code for a pending challenge
func (h *AuthHandler) SendOtp(w http.ResponseWriter, r *http.Request) {
	var req SendOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.SendLoginOtp(r.Context(), req.ChallengeToken, h.requestContext(r)); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// Refresh exchanges a refresh token for a new access token
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	accessToken, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"access_token": accessToken})
}

// writeOutcome maps an AuthOutcome to its HTTP shape. Locked outcomes get a
// Retry-After header; invalid credentials are a 401 with no detail about
// whether the account exists.
func (h *AuthHandler) writeOutcome(w http.ResponseWriter, outcome *models.AuthOutcome) {
	switch outcome.Status {
	case models.AuthOK:
		resp := LoginResponse{
			Status:       string(outcome.Status),
			AccessToken:  outcome.AccessToken,
			RefreshToken: outcome.RefreshToken,
			SessionToken: outcome.SessionToken,
			RiskScore:    outcome.RiskScore,
		}
		if outcome.Session != nil {
			resp.SessionID = outcome.Session.ID.String()
		}
		writeJSON(w, http.StatusOK, resp)

	case models.AuthMfaRequired:
		writeJSON(w, http.StatusOK, LoginResponse{
			Status:         string(outcome.Status),
			ChallengeToken: outcome.ChallengeToken,
		})

	case models.AuthLocked:
		var seconds int
		if outcome.LockedFor != nil {
			seconds = int(outcome.LockedFor.Round(time.Second).Seconds())
		}
		if seconds > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
		}
		writeJSON(w, http.StatusForbidden, LoginResponse{
			Status:           string(outcome.Status),
			LockedForSeconds: seconds,
		})

	default:
		writeJSON(w, http.StatusUnauthorized, LoginResponse{
			Status: string(models.AuthInvalidCredentials),
		})
	}
}

func (h *AuthHandler) requestContext(r *http.Request) models.RequestContext {
	return models.RequestContext{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: pkghttp.ExtractUserAgent(r),
	}
}
