package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/brightcart/identity/internal/auth"
	"github.com/brightcart/identity/internal/models"
	"github.com/brightcart/identity/internal/services"
	pkghttp "github.com/brightcart/identity/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID uuid.UUID, email string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID.String(),
		Email:  email,
		Type:   auth.TokenTypeAccess,
	}
	ctx := context.WithValue(req.Context(), auth.ClaimsContextKey, claims)
	return req.WithContext(ctx)
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	AuthenticateFunc func(ctx context.Context, email, password string, req models.RequestContext) (*models.AuthOutcome, error)
	CompleteMfaFunc  func(ctx context.Context, challengeToken string, method models.MfaMethod, code string, req models.RequestContext) (*models.AuthOutcome, error)
	SendLoginOtpFunc func(ctx context.Context, challengeToken string, req models.RequestContext) error
	RefreshFunc      func(ctx context.Context, refreshToken string) (string, error)
}

func (m *MockAuthService) Authenticate(ctx context.Context, email, password string, req models.RequestContext) (*models.AuthOutcome, error) {
	if m.AuthenticateFunc == nil {
		return &models.AuthOutcome{Status: models.AuthInvalidCredentials}, nil
	}
	return m.AuthenticateFunc(ctx, email, password, req)
}

func (m *MockAuthService) CompleteMfa(ctx context.Context, challengeToken string, method models.MfaMethod, code string, req models.RequestContext) (*models.AuthOutcome, error) {
	if m.CompleteMfaFunc == nil {
		return nil, models.ErrMfaCodeInvalid
	}
	return m.CompleteMfaFunc(ctx, challengeToken, method, code, req)
}

func (m *MockAuthService) SendLoginOtp(ctx context.Context, challengeToken string, req models.RequestContext) error {
	if m.SendLoginOtpFunc == nil {
		return nil
	}
	return m.SendLoginOtpFunc(ctx, challengeToken, req)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if m.RefreshFunc == nil {
		return "", models.ErrUnauthorized
	}
	return m.RefreshFunc(ctx, refreshToken)
}

// MockMfaService implements MfaServiceInterface for testing
type MockMfaService struct {
	GetStatusFunc             func(ctx context.Context, userID uuid.UUID) (*services.MfaStatus, error)
	InitiateSetupFunc         func(ctx context.Context, userID uuid.UUID, req models.RequestContext) (*services.SetupResponse, error)
	ActivateTotpFunc          func(ctx context.Context, userID uuid.UUID, code string, req models.RequestContext) error
	RegenerateBackupCodesFunc func(ctx context.Context, userID uuid.UUID, password string, req models.RequestContext) ([]string, error)
	DisableFunc               func(ctx context.Context, userID uuid.UUID, password string, method models.MfaMethod, code string, req models.RequestContext) error
	SendEmailOtpFunc          func(ctx context.Context, userID uuid.UUID, purpose string, sessionID *uuid.UUID, req models.RequestContext) error
	SetEnforcementFunc        func(ctx context.Context, userID uuid.UUID, enforced bool, grace time.Duration, setBy uuid.UUID) error
}

func (m *MockMfaService) GetStatus(ctx context.Context, userID uuid.UUID) (*services.MfaStatus, error) {
	if m.GetStatusFunc == nil {
		return &services.MfaStatus{}, nil
	}
	return m.GetStatusFunc(ctx, userID)
}

func (m *MockMfaService) InitiateSetup(ctx context.Context, userID uuid.UUID, req models.RequestContext) (*services.SetupResponse, error) {
	if m.InitiateSetupFunc == nil {
		return nil, models.ErrConflict
	}
	return m.InitiateSetupFunc(ctx, userID, req)
}

func (m *MockMfaService) ActivateTotp(ctx context.Context, userID uuid.UUID, code string, req models.RequestContext) error {
	if m.ActivateTotpFunc == nil {
		return nil
	}
	return m.ActivateTotpFunc(ctx, userID, code, req)
}

func (m *MockMfaService) RegenerateBackupCodes(ctx context.Context, userID uuid.UUID, password string, req models.RequestContext) ([]string, error) {
	if m.RegenerateBackupCodesFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.RegenerateBackupCodesFunc(ctx, userID, password, req)
}

func (m *MockMfaService) Disable(ctx context.Context, userID uuid.UUID, password string, method models.MfaMethod, code string, req models.RequestContext) error {
	if m.DisableFunc == nil {
		return nil
	}
	return m.DisableFunc(ctx, userID, password, method, code, req)
}

func (m *MockMfaService) SendEmailOtp(ctx context.Context, userID uuid.UUID, purpose string, sessionID *uuid.UUID, req models.RequestContext) error {
	if m.SendEmailOtpFunc == nil {
		return nil
	}
	return m.SendEmailOtpFunc(ctx, userID, purpose, sessionID, req)
}

func (m *MockMfaService) SetEnforcement(ctx context.Context, userID uuid.UUID, enforced bool, grace time.Duration, setBy uuid.UUID) error {
	if m.SetEnforcementFunc == nil {
		return nil
	}
	return m.SetEnforcementFunc(ctx, userID, enforced, grace, setBy)
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	ListFunc               func(ctx context.Context, userID uuid.UUID) ([]models.Session, error)
	TerminateFunc          func(ctx context.Context, userID, sessionID uuid.UUID) error
	TerminateAllOthersFunc func(ctx context.Context, userID, keepSessionID uuid.UUID) (int64, error)
}

func (m *MockSessionService) List(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	if m.ListFunc == nil {
		return nil, nil
	}
	return m.ListFunc(ctx, userID)
}

func (m *MockSessionService) Terminate(ctx context.Context, userID, sessionID uuid.UUID) error {
	if m.TerminateFunc == nil {
		return nil
	}
	return m.TerminateFunc(ctx, userID, sessionID)
}

func (m *MockSessionService) TerminateAllOthers(ctx context.Context, userID, keepSessionID uuid.UUID) (int64, error) {
	if m.TerminateAllOthersFunc == nil {
		return 0, nil
	}
	return m.TerminateAllOthersFunc(ctx, userID, keepSessionID)
}

// MockSettingsService implements SettingsServiceInterface for testing
type MockSettingsService struct {
	ResolveFunc      func(ctx context.Context, userID *uuid.UUID) (*models.SecuritySettings, error)
	UpdateFunc       func(ctx context.Context, userID uuid.UUID, settings *models.SecuritySettings, updatedBy uuid.UUID) (*models.SecuritySettings, error)
	UpdateGlobalFunc func(ctx context.Context, settings *models.SecuritySettings, updatedBy uuid.UUID) (*models.SecuritySettings, error)
	ResetFunc        func(ctx context.Context, userID uuid.UUID, resetBy uuid.UUID) error
}

func (m *MockSettingsService) Resolve(ctx context.Context, userID *uuid.UUID) (*models.SecuritySettings, error) {
	if m.ResolveFunc == nil {
		s := models.DefaultSecuritySettings()
		return &s, nil
	}
	return m.ResolveFunc(ctx, userID)
}

func (m *MockSettingsService) Update(ctx context.Context, userID uuid.UUID, settings *models.SecuritySettings, updatedBy uuid.UUID) (*models.SecuritySettings, error) {
	if m.UpdateFunc == nil {
		return settings, nil
	}
	return m.UpdateFunc(ctx, userID, settings, updatedBy)
}

func (m *MockSettingsService) UpdateGlobal(ctx context.Context, settings *models.SecuritySettings, updatedBy uuid.UUID) (*models.SecuritySettings, error) {
	if m.UpdateGlobalFunc == nil {
		return settings, nil
	}
	return m.UpdateGlobalFunc(ctx, settings, updatedBy)
}

func (m *MockSettingsService) Reset(ctx context.Context, userID uuid.UUID, resetBy uuid.UUID) error {
	if m.ResetFunc == nil {
		return nil
	}
	return m.ResetFunc(ctx, userID, resetBy)
}

// MockLockoutService implements LockoutServiceInterface for testing
type MockLockoutService struct {
	StatusFunc        func(ctx context.Context, userID uuid.UUID) (*models.LockoutRecord, error)
	ManualLockoutFunc func(ctx context.Context, userID uuid.UUID, reason string, duration *time.Duration, createdBy uuid.UUID) (*models.LockoutRecord, error)
	ReleaseFunc       func(ctx context.Context, userID uuid.UUID, releasedBy uuid.UUID) error
}

func (m *MockLockoutService) Status(ctx context.Context, userID uuid.UUID) (*models.LockoutRecord, error) {
	if m.StatusFunc == nil {
		return nil, nil
	}
	return m.StatusFunc(ctx, userID)
}

func (m *MockLockoutService) ManualLockout(ctx context.Context, userID uuid.UUID, reason string, duration *time.Duration, createdBy uuid.UUID) (*models.LockoutRecord, error) {
	if m.ManualLockoutFunc == nil {
		return nil, models.ErrConflict
	}
	return m.ManualLockoutFunc(ctx, userID, reason, duration, createdBy)
}

func (m *MockLockoutService) Release(ctx context.Context, userID uuid.UUID, releasedBy uuid.UUID) error {
	if m.ReleaseFunc == nil {
		return nil
	}
	return m.ReleaseFunc(ctx, userID, releasedBy)
}
