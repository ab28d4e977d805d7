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
	"github.com/brightcart/identity/internal/services"
)

func TestMfaGetStatus_Success(t *testing.T) {
	userID := uuid.New()
	mockService := &handlers.MockMfaService{
		GetStatusFunc: func(ctx context.Context, id uuid.UUID) (*services.MfaStatus, error) {
			assert.Equal(t, userID, id)
			return &services.MfaStatus{
				Enabled:              true,
				TotpEnabled:          true,
				BackupCodesRemaining: 7,
			}, nil
		},
	}
	handler := handlers.NewMfaHandler(mockService, nil)

	req := handlers.NewTestRequest(t, "GET", "/mfa/status", nil)
	req = handlers.WithAuthContext(req, userID, "user@example.com")
	w := httptest.NewRecorder()
	handler.GetStatus(w, req)

	var resp services.MfaStatus
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp.Enabled)
	assert.Equal(t, 7, resp.BackupCodesRemaining)
}

func TestMfaGetStatus_Unauthenticated(t *testing.T) {
	handler := handlers.NewMfaHandler(&handlers.MockMfaService{}, nil)

	req := handlers.NewTestRequest(t, "GET", "/mfa/status", nil)
	w := httptest.NewRecorder()
	handler.GetStatus(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestMfaInitiateSetup_Success(t *testing.T) {
	userID := uuid.New()
	mockService := &handlers.MockMfaService{
		InitiateSetupFunc: func(ctx context.Context, id uuid.UUID, req models.RequestContext) (*services.SetupResponse, error) {
			return &services.SetupResponse{
				QRCode:      "data:image/png;base64,abc",
				BackupCodes: []string{"AAAA2222", "BBBB3333"},
			}, nil
		},
	}
	handler := handlers.NewMfaHandler(mockService, nil)

	req := handlers.NewTestRequest(t, "POST", "/mfa/setup", nil)
	req = handlers.WithAuthContext(req, userID, "user@example.com")
	w := httptest.NewRecorder()
	handler.InitiateSetup(w, req)

	var resp services.SetupResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Contains(t, resp.QRCode, "data:image/png;base64,")
	assert.Len(t, resp.BackupCodes, 2)
}

func TestMfaInitiateSetup_AlreadyEnabled(t *testing.T) {
	userID := uuid.New()
	mockService := &handlers.MockMfaService{
		InitiateSetupFunc: func(ctx context.Context, id uuid.UUID, req models.RequestContext) (*services.SetupResponse, error) {
			return nil, models.ErrConflict
		},
	}
	handler := handlers.NewMfaHandler(mockService, nil)

	req := handlers.NewTestRequest(t, "POST", "/mfa/setup", nil)
	req = handlers.WithAuthContext(req, userID, "user@example.com")
	w := httptest.NewRecorder()
	handler.InitiateSetup(w, req)

	handlers.AssertErrorResponse(t, w, 409, "conflict")
}

func TestMfaActivate_Success(t *testing.T) {
	userID := uuid.New()
	var gotCode string
	mockService := &handlers.MockMfaService{
		ActivateTotpFunc: func(ctx context.Context, id uuid.UUID, code string, req models.RequestContext) error {
			gotCode = code
			return nil
		},
	}
	handler := handlers.NewMfaHandler(mockService, nil)

	req := handlers.NewTestRequest(t, "POST", "/mfa/activate", handlers.ActivateRequest{Code: "123456"})
	req = handlers.WithAuthContext(req, userID, "user@example.com")
	w := httptest.NewRecorder()
	handler.Activate(w, req)

	var resp map[string]string
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "enabled", resp["status"])
	assert.Equal(t, "123456", gotCode)
}

func TestMfaActivate_WrongCodeLength(t *testing.T) {
	userID := uuid.New()
	called := false
	mockService := &handlers.MockMfaService{
		ActivateTotpFunc: func(ctx context.Context, id uuid.UUID, code string, req models.RequestContext) error {
			called = true
			return nil
		},
	}
	handler := handlers.NewMfaHandler(mockService, nil)

	req := handlers.NewTestRequest(t, "POST", "/mfa/activate", handlers.ActivateRequest{Code: "1234"})
	req = handlers.WithAuthContext(req, userID, "user@example.com")
	w := httptest.NewRecorder()
	handler.Activate(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
	assert.False(t, called)
}

func TestMfaActivate_InvalidCode(t *testing.T) {
	userID := uuid.New()
	mockService := &handlers.MockMfaService{
		ActivateTotpFunc: func(ctx context.Context, id uuid.UUID, code string, req models.RequestContext) error {
			return models.ErrMfaCodeInvalid
		},
	}
	handler := handlers.NewMfaHandler(mockService, nil)

	req := handlers.NewTestRequest(t, "POST", "/mfa/activate", handlers.ActivateRequest{Code: "000000"})
	req = handlers.WithAuthContext(req, userID, "user@example.com")
	w := httptest.NewRecorder()
	handler.Activate(w, req)

	handlers.AssertErrorResponse(t, w, 401, "invalid_code")
}

func TestMfaRegenerateBackupCodes_Success(t *testing.T) {
	userID := uuid.New()
	mockService := &handlers.MockMfaService{
		RegenerateBackupCodesFunc: func(ctx context.Context, id uuid.UUID, password string, req models.RequestContext) ([]string, error) {
			assert.Equal(t, "ValidPass123!", password)
			return []string{"AAAA2222", "BBBB3333", "CCCC4444"}, nil
		},
	}
	handler := handlers.NewMfaHandler(mockService, nil)

	req := handlers.NewTestRequest(t, "POST", "/mfa/backup-codes", handlers.RegenerateCodesRequest{Password: "ValidPass123!"})
	req = handlers.WithAuthContext(req, userID, "user@example.com")
	w := httptest.NewRecorder()
	handler.RegenerateBackupCodes(w, req)

	var resp map[string][]string
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Len(t, resp["backup_codes"], 3)
}

func TestMfaRegenerateBackupCodes_WrongPassword(t *testing.T) {
	userID := uuid.New()
	mockService := &handlers.MockMfaService{
		RegenerateBackupCodesFunc: func(ctx context.Context, id uuid.UUID, password string, req models.RequestContext) ([]string, error) {
			return nil, models.ErrInvalidCredentials
		},
	}
	handler := handlers.NewMfaHandler(mockService, nil)

	req := handlers.NewTestRequest(t, "POST", "/mfa/backup-codes", handlers.RegenerateCodesRequest{Password: "wrong"})
	req = handlers.WithAuthContext(req, userID, "user@example.com")
	w := httptest.NewRecorder()
	handler.RegenerateBackupCodes(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestMfaDisable_Success(t *testing.T) {
	userID := uuid.New()
	var gotMethod models.MfaMethod
	mockService := &handlers.MockMfaService{
		DisableFunc: func(ctx context.Context, id uuid.UUID, password string, method models.MfaMethod, code string, req models.RequestContext) error {
			gotMethod = method
			return nil
		},
	}
	handler := handlers.NewMfaHandler(mockService, nil)

	req := handlers.NewTestRequest(t, "POST", "/mfa/disable", handlers.DisableMfaRequest{
		Password: "ValidPass123!",
		Method:   "totp",
		Code:     "123456",
	})
	req = handlers.WithAuthContext(req, userID, "user@example.com")
	w := httptest.NewRecorder()
	handler.Disable(w, req)

	var resp map[string]string
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "disabled", resp["status"])
	assert.Equal(t, models.MfaMethodTotp, gotMethod)
}

func TestMfaDisable_Enforced(t *testing.T) {
	userID := uuid.New()
	mockService := &handlers.MockMfaService{
		DisableFunc: func(ctx context.Context, id uuid.UUID, password string, method models.MfaMethod, code string, req models.RequestContext) error {
			return models.ErrForbidden
		},
	}
	handler := handlers.NewMfaHandler(mockService, nil)

	req := handlers.NewTestRequest(t, "POST", "/mfa/disable", handlers.DisableMfaRequest{
		Password: "ValidPass123!",
		Method:   "totp",
		Code:     "123456",
	})
	req = handlers.WithAuthContext(req, userID, "user@example.com")
	w := httptest.NewRecorder()
	handler.Disable(w, req)

	handlers.AssertErrorResponse(t, w, 403, "forbidden")
}

func TestMfaSendDisableOtp_Success(t *testing.T) {
	userID := uuid.New()
	var gotPurpose string
	mockService := &handlers.MockMfaService{
		SendEmailOtpFunc: func(ctx context.Context, id uuid.UUID, purpose string, sessionID *uuid.UUID, req models.RequestContext) error {
			gotPurpose = purpose
			assert.Nil(t, sessionID)
			return nil
		},
	}
	handler := handlers.NewMfaHandler(mockService, nil)

	req := handlers.NewTestRequest(t, "POST", "/mfa/disable/send-otp", nil)
	req = handlers.WithAuthContext(req, userID, "user@example.com")
	w := httptest.NewRecorder()
	handler.SendDisableOtp(w, req)

	var resp map[string]string
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "sent", resp["status"])
	assert.Equal(t, models.OtpPurposeDisableMfa, gotPurpose)
}

func TestMfaSetEnforcement_Success(t *testing.T) {
	adminID := uuid.New()
	targetID := uuid.New()
	var gotGrace time.Duration
	mockService := &handlers.MockMfaService{
		SetEnforcementFunc: func(ctx context.Context, id uuid.UUID, enforced bool, grace time.Duration, setBy uuid.UUID) error {
			assert.Equal(t, targetID, id)
			assert.True(t, enforced)
			assert.Equal(t, adminID, setBy)
			gotGrace = grace
			return nil
		},
	}
	handler := handlers.NewMfaHandler(mockService, nil)

	req := handlers.NewTestRequest(t, "PUT", "/admin/users/"+targetID.String()+"/mfa-enforcement", handlers.EnforcementRequest{
		Enforced:  true,
		GraceDays: 14,
	})
	req = handlers.WithAuthContext(req, adminID, "admin@example.com")
	req = handlers.WithChiRouteContext(req, map[string]string{"userID": targetID.String()})
	w := httptest.NewRecorder()
	handler.SetEnforcement(w, req)

	var resp map[string]bool
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp["enforced"])
	assert.Equal(t, 14*24*time.Hour, gotGrace)
}

func TestMfaSetEnforcement_GraceTooLong(t *testing.T) {
	adminID := uuid.New()
	targetID := uuid.New()
	called := false
	mockService := &handlers.MockMfaService{
		SetEnforcementFunc: func(ctx context.Context, id uuid.UUID, enforced bool, grace time.Duration, setBy uuid.UUID) error {
			called = true
			return nil
		},
	}
	handler := handlers.NewMfaHandler(mockService, nil)

	req := handlers.NewTestRequest(t, "PUT", "/admin/users/"+targetID.String()+"/mfa-enforcement", handlers.EnforcementRequest{
		Enforced:  true,
		GraceDays: 365,
	})
	req = handlers.WithAuthContext(req, adminID, "admin@example.com")
	req = handlers.WithChiRouteContext(req, map[string]string{"userID": targetID.String()})
	w := httptest.NewRecorder()
	handler.SetEnforcement(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
	assert.False(t, called)
}
