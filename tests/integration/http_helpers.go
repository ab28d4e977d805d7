package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/brightcart/identity/internal/auth"
	"github.com/brightcart/identity/internal/config"
	"github.com/brightcart/identity/internal/database"
	"github.com/brightcart/identity/internal/handlers"
	middlewareCustom "github.com/brightcart/identity/internal/middleware"
	"github.com/brightcart/identity/internal/repositories"
	"github.com/brightcart/identity/internal/routes"
	"github.com/brightcart/identity/internal/services"
	pkghttp "github.com/brightcart/identity/pkg/http"
	pkglogger "github.com/brightcart/identity/pkg/logger"
)

// SentEmail is one captured outbound message
type SentEmail struct {
	To      string
	Subject string
	Code    string // set for OTP emails
	Body    string
}

// CapturingEmailService records sent emails for test assertions instead of
// hitting SES.
type CapturingEmailService struct {
	mu   sync.Mutex
	sent []SentEmail
}

func (m *CapturingEmailService) SendOtpEmail(ctx context.Context, email, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentEmail{
		To:      email,
		Subject: "Your verification code",
		Code:    code,
	})
	return nil
}

func (m *CapturingEmailService) SendSecurityAlert(ctx context.Context, email, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentEmail{To: email, Subject: subject, Body: body})
	return nil
}

// LastEmail returns the most recent email sent, nil if none
func (m *CapturingEmailService) LastEmail() *SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	last := m.sent[len(m.sent)-1]
	return &last
}

// LastOtpCode returns the code from the most recent OTP email, "" if none
func (m *CapturingEmailService) LastOtpCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Code != "" {
			return m.sent[i].Code
		}
	}
	return ""
}

// TestServer wraps httptest.Server with the full service graph over a real
// database and a capturing email service.
type TestServer struct {
	Server       *httptest.Server
	DB           *database.DB
	EmailService *CapturingEmailService
	TokenManager *auth.TokenManager
	TOTPManager  *auth.TOTPManager

	// Service references for direct seeding in tests
	SettingsService *services.SettingsService
	LockoutService  *services.LockoutService
	MfaService      *services.MfaService
}

// NewTestServer wires the complete HTTP stack the way main does, minus the
// background cleanup worker, and seeds the global policy row.
func NewTestServer(ctx context.Context, db *database.DB) (*TestServer, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:          "integration-test-secret-32-chars!!",
			AccessTokenExpiry:  15 * time.Minute,
			RefreshTokenExpiry: 24 * time.Hour,
			ChallengeExpiry:    5 * time.Minute,
		},
		Mfa: config.MfaConfig{
			Issuer:        "IdentityTest",
			EncryptionKey: []byte("integration-test-mfa-key-32bytes"),
		},
		Server: config.ServerConfig{
			Env: "test",
		},
	}

	userRepo := repositories.NewUserRepository(db)
	settingsRepo := repositories.NewSecuritySettingsRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)
	lockoutRepo := repositories.NewLockoutRepository(db)
	mfaRepo := repositories.NewMfaSettingsRepository(db)
	backupCodeRepo := repositories.NewBackupCodeRepository(db)
	emailOtpRepo := repositories.NewEmailOtpRepository(db)
	mfaAuditRepo := repositories.NewMfaAuditRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)

	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
		cfg.Auth.ChallengeExpiry,
	)
	totpManager, err := auth.NewTOTPManager(cfg.Mfa.EncryptionKey, cfg.Mfa.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize totp manager: %w", err)
	}

	auditLogger := pkglogger.NewAuditLogger(logger)
	userLocks := auth.NewKeyedMutex()
	emailService := &CapturingEmailService{}

	settingsService := services.NewSettingsService(settingsRepo, logger, auditLogger)
	attemptService := services.NewAttemptService(attemptRepo, settingsService, logger, auditLogger)
	lockoutService := services.NewLockoutService(lockoutRepo, attemptService, settingsService, userLocks, logger, auditLogger)
	sessionService := services.NewSessionService(sessionRepo, settingsService, userRepo, emailService, userLocks, logger, auditLogger)
	mfaService := services.NewMfaService(mfaRepo, backupCodeRepo, emailOtpRepo, mfaAuditRepo, userRepo, totpManager, emailService, lockoutService, userLocks, logger, auditLogger)
	authService := services.NewAuthService(userRepo, attemptService, lockoutService, mfaService, sessionService, tokenManager, logger, auditLogger)

	if err := settingsService.EnsureGlobalDefault(ctx); err != nil {
		return nil, fmt.Errorf("failed to seed global security settings: %w", err)
	}

	ipConfig := &pkghttp.IPConfig{}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	mfaHandler := handlers.NewMfaHandler(mfaService, ipConfig)
	sessionHandler := handlers.NewSessionHandler(sessionService)
	settingsHandler := handlers.NewSettingsHandler(settingsService)
	lockoutHandler := handlers.NewLockoutHandler(lockoutService)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(chiMiddleware.Recoverer)

	routes.RegisterRoutes(router, authHandler, mfaHandler, sessionHandler, settingsHandler, lockoutHandler, tokenManager, userRepo, sessionService)

	return &TestServer{
		Server:          httptest.NewServer(router),
		DB:              db,
		EmailService:    emailService,
		TokenManager:    tokenManager,
		TOTPManager:     totpManager,
		SettingsService: settingsService,
		LockoutService:  lockoutService,
		MfaService:      mfaService,
	}, nil
}

// Close shuts down the underlying httptest server
func (ts *TestServer) Close() {
	ts.Server.Close()
}

// Request sends a JSON request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return ts.Server.Client().Do(req)
}

// RequestWithAuth sends a JSON request with a bearer token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	return ts.Request(method, path, body, map[string]string{
		"Authorization": "Bearer " + accessToken,
	})
}

// ParseJSONResponse decodes a response body into target and closes it
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode response %q: %w", string(data), err)
	}
	return nil
}

// LoginResult is the decoded body of a login or MFA completion response
type LoginResult struct {
	Status           string  `json:"status"`
	AccessToken      string  `json:"access_token"`
	RefreshToken     string  `json:"refresh_token"`
	SessionToken     string  `json:"session_token"`
	SessionID        string  `json:"session_id"`
	ChallengeToken   string  `json:"challenge_token"`
	LockedForSeconds int     `json:"locked_for_seconds"`
	RiskScore        float64 `json:"risk_score"`
}

// Login performs the credential step and decodes the outcome
func (ts *TestServer) Login(email, password string) (*LoginResult, int, error) {
	resp, err := ts.Request("POST", "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	if err != nil {
		return nil, 0, err
	}
	var result LoginResult
	if err := ParseJSONResponse(resp, &result); err != nil {
		return nil, resp.StatusCode, err
	}
	return &result, resp.StatusCode, nil
}

// GetErrorCode extracts the machine-readable error code from a response
func GetErrorCode(resp *http.Response) (string, error) {
	var errResp pkghttp.ErrorResponse
	if err := ParseJSONResponse(resp, &errResp); err != nil {
		return "", err
	}
	return errResp.Error, nil
}
