package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/brightcart/identity/internal/auth"
	"github.com/brightcart/identity/internal/models"
)

type authTestDeps struct {
	users       *MockUserRepository
	attemptRepo *MockLoginAttemptRepository
	lockoutRepo *MockLockoutRepository
	mfaRepo     *MockMfaSettingsRepository
	sessionRepo *MockSessionRepository
	tm          *auth.TokenManager
}

func newAuthTestDeps() *authTestDeps {
	return &authTestDeps{
		users:       &MockUserRepository{},
		attemptRepo: &MockLoginAttemptRepository{},
		lockoutRepo: &MockLockoutRepository{},
		mfaRepo:     &MockMfaSettingsRepository{},
		sessionRepo: &MockSessionRepository{},
		tm:          auth.NewTokenManager("test-signing-secret-with-enough-length", 15*time.Minute, 24*time.Hour, 5*time.Minute),
	}
}

func (d *authTestDeps) build() *AuthService {
	logger := slog.Default()
	audit := testAuditLogger()
	locks := auth.NewKeyedMutex()
	totpManager, err := auth.NewTOTPManager(make([]byte, 32), "BrightCart Test")
	if err != nil {
		panic(err)
	}

	settings := newTestSettingsService(&MockSecuritySettingsRepository{})
	attempts := NewAttemptService(d.attemptRepo, settings, logger, audit)
	lockouts := NewLockoutService(d.lockoutRepo, attempts, settings, locks, logger, audit)
	sessions := NewSessionService(d.sessionRepo, settings, d.users, &MockEmailService{}, locks, logger, audit)
	mfa := NewMfaService(d.mfaRepo, &MockBackupCodeRepository{}, &MockEmailOtpRepository{},
		&MockMfaAuditRepository{}, d.users, totpManager, &MockEmailService{}, lockouts, locks, logger, audit)
	return NewAuthService(d.users, attempts, lockouts, mfa, sessions, d.tm, logger, audit)
}

func (d *authTestDeps) withUser(user *models.User) {
	d.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		if email == user.Email {
			return user, nil
		}
		return nil, models.ErrNotFound
	}
	d.users.GetByIDFunc = func(ctx context.Context, id uuid.UUID) (*models.User, error) {
		if id == user.ID {
			return user, nil
		}
		return nil, models.ErrNotFound
	}
}

func TestAuthService_Authenticate_Success(t *testing.T) {
	user := NewTestUser("user@example.com", "correct-horse")
	deps := newAuthTestDeps()
	deps.withUser(user)

	var recorded *models.LoginAttempt
	deps.attemptRepo.RecordFunc = func(ctx context.Context, attempt *models.LoginAttempt) error {
		recorded = attempt
		return nil
	}
	deps.attemptRepo.StatsFunc = func(ctx context.Context, id uuid.UUID, since time.Time) (*models.AttemptStats, error) {
		req := testRequestContext()
		return &models.AttemptStats{
			KnownSourceIPs: []string{req.IPAddress},
			KnownDevices:   []string{DeviceFingerprint(req.IPAddress, req.UserAgent)},
		}, nil
	}

	svc := deps.build()

	outcome, err := svc.Authenticate(context.Background(), "user@example.com", "correct-horse", testRequestContext())

	assert.NoError(t, err)
	assert.Equal(t, models.AuthOK, outcome.Status)
	assert.NotEmpty(t, outcome.AccessToken)
	assert.NotEmpty(t, outcome.RefreshToken)
	assert.NotEmpty(t, outcome.SessionToken)
	assert.NotNil(t, outcome.Session)
	assert.True(t, recorded.Success)
	assert.Equal(t, user.ID, *recorded.UserID)
}

func TestAuthService_Authenticate_EmailNormalized(t *testing.T) {
	user := NewTestUser("user@example.com", "correct-horse")
	deps := newAuthTestDeps()
	deps.withUser(user)
	svc := deps.build()

	outcome, err := svc.Authenticate(context.Background(), "  USER@Example.COM ", "correct-horse", testRequestContext())

	assert.NoError(t, err)
	assert.Equal(t, models.AuthOK, outcome.Status)
}

func TestAuthService_Authenticate_UnknownIdentityRecorded(t *testing.T) {
	deps := newAuthTestDeps()

	var recorded *models.LoginAttempt
	deps.attemptRepo.RecordFunc = func(ctx context.Context, attempt *models.LoginAttempt) error {
		recorded = attempt
		return nil
	}

	svc := deps.build()

	outcome, err := svc.Authenticate(context.Background(), "ghost@example.com", "whatever", testRequestContext())

	assert.NoError(t, err)
	assert.Equal(t, models.AuthInvalidCredentials, outcome.Status)
	assert.NotNil(t, recorded)
	assert.Nil(t, recorded.UserID)
	assert.Equal(t, "ghost@example.com", recorded.Email)
	assert.Equal(t, models.FailureUnknownIdentity, *recorded.FailureReason)
}

func TestAuthService_Authenticate_EmptyCredentials(t *testing.T) {
	deps := newAuthTestDeps()
	recorded := false
	deps.attemptRepo.RecordFunc = func(ctx context.Context, attempt *models.LoginAttempt) error {
		recorded = true
		return nil
	}
	svc := deps.build()

	outcome, err := svc.Authenticate(context.Background(), "", "", testRequestContext())

	assert.NoError(t, err)
	assert.Equal(t, models.AuthInvalidCredentials, outcome.Status)
	assert.False(t, recorded)
}

func TestAuthService_Authenticate_LockedAccountConsumesNothing(t *testing.T) {
	user := NewTestUser("user@example.com", "correct-horse")
	deps := newAuthTestDeps()
	deps.withUser(user)

	endsAt := time.Now().UTC().Add(10 * time.Minute)
	deps.lockoutRepo.GetActiveFunc = func(ctx context.Context, id uuid.UUID) (*models.LockoutRecord, error) {
		return activeLockout(user.ID, endsAt), nil
	}
	recorded := false
	deps.attemptRepo.RecordFunc = func(ctx context.Context, attempt *models.LoginAttempt) error {
		recorded = true
		return nil
	}

	svc := deps.build()

	// Even the correct password is refused while locked, and no attempt is
	// written.
	outcome, err := svc.Authenticate(context.Background(), "user@example.com", "correct-horse", testRequestContext())

	assert.NoError(t, err)
	assert.Equal(t, models.AuthLocked, outcome.Status)
	assert.NotNil(t, outcome.LockedFor)
	assert.Greater(t, *outcome.LockedFor, time.Duration(0))
	assert.False(t, recorded)
}

func TestAuthService_Authenticate_WrongPasswordBelowThreshold(t *testing.T) {
	user := NewTestUser("user@example.com", "correct-horse")
	deps := newAuthTestDeps()
	deps.withUser(user)

	var recorded *models.LoginAttempt
	deps.attemptRepo.RecordFunc = func(ctx context.Context, attempt *models.LoginAttempt) error {
		recorded = attempt
		return nil
	}
	deps.attemptRepo.CountFailedFunc = func(ctx context.Context, id uuid.UUID, since time.Time) (int, error) {
		return 2, nil
	}

	svc := deps.build()

	outcome, err := svc.Authenticate(context.Background(), "user@example.com", "wrong-password", testRequestContext())

	assert.NoError(t, err)
	assert.Equal(t, models.AuthInvalidCredentials, outcome.Status)
	assert.Nil(t, outcome.LockedFor)
	assert.False(t, recorded.Success)
	assert.Equal(t, models.FailureInvalidCredentials, *recorded.FailureReason)
}

func TestAuthService_Authenticate_ThresholdFailureLocks(t *testing.T) {
	user := NewTestUser("user@example.com", "correct-horse")
	deps := newAuthTestDeps()
	deps.withUser(user)

	deps.attemptRepo.CountFailedFunc = func(ctx context.Context, id uuid.UUID, since time.Time) (int, error) {
		return 5, nil
	}
	var created *models.LockoutRecord
	deps.lockoutRepo.CreateFunc = func(ctx context.Context, record *models.LockoutRecord) error {
		created = record
		return nil
	}

	svc := deps.build()

	outcome, err := svc.Authenticate(context.Background(), "user@example.com", "wrong-password", testRequestContext())

	assert.NoError(t, err)
	assert.Equal(t, models.AuthLocked, outcome.Status)
	assert.NotNil(t, outcome.LockedFor)
	assert.NotNil(t, created)
	assert.Equal(t, user.ID, created.UserID)
	assert.Equal(t, 1, created.Level)
}

func TestAuthService_Authenticate_StoreOutageIsNotAFailedAttempt(t *testing.T) {
	user := NewTestUser("user@example.com", "correct-horse")
	deps := newAuthTestDeps()
	deps.withUser(user)

	deps.attemptRepo.RecordFunc = func(ctx context.Context, attempt *models.LoginAttempt) error {
		return models.ErrStoreUnavailable
	}
	lockedOut := false
	deps.lockoutRepo.CreateFunc = func(ctx context.Context, record *models.LockoutRecord) error {
		lockedOut = true
		return nil
	}

	svc := deps.build()

	outcome, err := svc.Authenticate(context.Background(), "user@example.com", "wrong-password", testRequestContext())

	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Nil(t, outcome)
	assert.False(t, lockedOut)
}

func TestAuthService_Authenticate_SuspendedAccount(t *testing.T) {
	user := NewTestUser("user@example.com", "correct-horse")
	user.Status = "suspended"
	deps := newAuthTestDeps()
	deps.withUser(user)
	svc := deps.build()

	outcome, err := svc.Authenticate(context.Background(), "user@example.com", "correct-horse", testRequestContext())

	assert.ErrorIs(t, err, models.ErrAccountSuspended)
	assert.Nil(t, outcome)
}

func TestAuthService_Authenticate_MfaRequired(t *testing.T) {
	user := NewTestUser("user@example.com", "correct-horse")
	deps := newAuthTestDeps()
	deps.withUser(user)

	deps.mfaRepo.GetByUserIDFunc = func(ctx context.Context, id uuid.UUID) (*models.MfaSettings, error) {
		return &models.MfaSettings{ID: uuid.New(), UserID: user.ID, Enabled: true, TotpEnabled: true}, nil
	}
	sessionCreated := false
	deps.sessionRepo.CreateFunc = func(ctx context.Context, s *models.Session) error {
		sessionCreated = true
		return nil
	}

	svc := deps.build()

	outcome, err := svc.Authenticate(context.Background(), "user@example.com", "correct-horse", testRequestContext())

	assert.NoError(t, err)
	assert.Equal(t, models.AuthMfaRequired, outcome.Status)
	assert.NotEmpty(t, outcome.ChallengeToken)
	assert.Empty(t, outcome.AccessToken)
	assert.False(t, sessionCreated)

	claims, err := deps.tm.ValidateToken(outcome.ChallengeToken)
	assert.NoError(t, err)
	assert.Equal(t, auth.TokenTypeMfaChallenge, claims.Type)
	assert.Equal(t, user.ID.String(), claims.UserID)
}

func TestAuthService_CompleteMfa_Success(t *testing.T) {
	user := NewTestUser("user@example.com", "correct-horse")
	deps := newAuthTestDeps()
	deps.withUser(user)

	totpManager, err := auth.NewTOTPManager(make([]byte, 32), "BrightCart Test")
	assert.NoError(t, err)
	encrypted, nonce, err := totpManager.EncryptSecret([]byte(testTotpSecret))
	assert.NoError(t, err)
	deps.mfaRepo.GetByUserIDFunc = func(ctx context.Context, id uuid.UUID) (*models.MfaSettings, error) {
		return &models.MfaSettings{
			ID:              uuid.New(),
			UserID:          user.ID,
			Enabled:         true,
			TotpEnabled:     true,
			TotpSecret:      encrypted,
			TotpSecretNonce: nonce,
		}, nil
	}
	sessionCreated := false
	deps.sessionRepo.CreateFunc = func(ctx context.Context, s *models.Session) error {
		sessionCreated = true
		return nil
	}

	svc := deps.build()

	challenge, err := deps.tm.GenerateMfaChallengeToken(user.ID, user.Email)
	assert.NoError(t, err)

	outcome, err := svc.CompleteMfa(context.Background(), challenge, models.MfaMethodTotp,
		totpCodeAt(t, time.Now().UTC()), testRequestContext())

	assert.NoError(t, err)
	assert.Equal(t, models.AuthOK, outcome.Status)
	assert.NotEmpty(t, outcome.AccessToken)
	assert.NotEmpty(t, outcome.SessionToken)
	assert.True(t, sessionCreated)
}

func TestAuthService_CompleteMfa_InvalidCodeRecordsAttempt(t *testing.T) {
	user := NewTestUser("user@example.com", "correct-horse")
	deps := newAuthTestDeps()
	deps.withUser(user)

	totpManager, err := auth.NewTOTPManager(make([]byte, 32), "BrightCart Test")
	assert.NoError(t, err)
	encrypted, nonce, err := totpManager.EncryptSecret([]byte(testTotpSecret))
	assert.NoError(t, err)
	deps.mfaRepo.GetByUserIDFunc = func(ctx context.Context, id uuid.UUID) (*models.MfaSettings, error) {
		return &models.MfaSettings{
			ID:              uuid.New(),
			UserID:          user.ID,
			Enabled:         true,
			TotpEnabled:     true,
			TotpSecret:      encrypted,
			TotpSecretNonce: nonce,
		}, nil
	}
	var recorded *models.LoginAttempt
	deps.attemptRepo.RecordFunc = func(ctx context.Context, attempt *models.LoginAttempt) error {
		recorded = attempt
		return nil
	}

	svc := deps.build()

	challenge, err := deps.tm.GenerateMfaChallengeToken(user.ID, user.Email)
	assert.NoError(t, err)

	outcome, err := svc.CompleteMfa(context.Background(), challenge, models.MfaMethodTotp, "000000", testRequestContext())

	assert.ErrorIs(t, err, models.ErrMfaCodeInvalid)
	assert.Nil(t, outcome)
	assert.NotNil(t, recorded)
	assert.Equal(t, models.FailureMfaFailed, *recorded.FailureReason)
}

func TestAuthService_CompleteMfa_WrongTokenType(t *testing.T) {
	user := NewTestUser("user@example.com", "correct-horse")
	deps := newAuthTestDeps()
	deps.withUser(user)
	svc := deps.build()

	// An access token must not open the MFA completion path
	accessToken, err := deps.tm.GenerateAccessToken(user.ID, user.Email)
	assert.NoError(t, err)

	outcome, err := svc.CompleteMfa(context.Background(), accessToken, models.MfaMethodTotp, "123456", testRequestContext())

	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Nil(t, outcome)
}

func TestAuthService_CompleteMfa_LockedSinceChallenge(t *testing.T) {
	user := NewTestUser("user@example.com", "correct-horse")
	deps := newAuthTestDeps()
	deps.withUser(user)

	deps.lockoutRepo.GetActiveFunc = func(ctx context.Context, id uuid.UUID) (*models.LockoutRecord, error) {
		return activeLockout(user.ID, time.Now().UTC().Add(10*time.Minute)), nil
	}

	svc := deps.build()

	challenge, err := deps.tm.GenerateMfaChallengeToken(user.ID, user.Email)
	assert.NoError(t, err)

	outcome, err := svc.CompleteMfa(context.Background(), challenge, models.MfaMethodTotp,
		totpCodeAt(t, time.Now().UTC()), testRequestContext())

	assert.NoError(t, err)
	assert.Equal(t, models.AuthLocked, outcome.Status)
}

func TestAuthService_Refresh_Success(t *testing.T) {
	user := NewTestUser("user@example.com", "correct-horse")
	deps := newAuthTestDeps()
	deps.withUser(user)
	svc := deps.build()

	refreshToken, err := deps.tm.GenerateRefreshToken(user.ID, user.Email)
	assert.NoError(t, err)

	accessToken, err := svc.Refresh(context.Background(), refreshToken)

	assert.NoError(t, err)
	assert.NotEmpty(t, accessToken)

	claims, err := deps.tm.ValidateToken(accessToken)
	assert.NoError(t, err)
	assert.Equal(t, auth.TokenTypeAccess, claims.Type)
}

func TestAuthService_Refresh_RejectsAccessToken(t *testing.T) {
	user := NewTestUser("user@example.com", "correct-horse")
	deps := newAuthTestDeps()
	deps.withUser(user)
	svc := deps.build()

	accessToken, err := deps.tm.GenerateAccessToken(user.ID, user.Email)
	assert.NoError(t, err)

	token, err := svc.Refresh(context.Background(), accessToken)

	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Empty(t, token)
}

func TestAuthService_Refresh_LockedAccount(t *testing.T) {
	user := NewTestUser("user@example.com", "correct-horse")
	deps := newAuthTestDeps()
	deps.withUser(user)
	deps.lockoutRepo.GetActiveFunc = func(ctx context.Context, id uuid.UUID) (*models.LockoutRecord, error) {
		return activeLockout(user.ID, time.Now().UTC().Add(10*time.Minute)), nil
	}
	svc := deps.build()

	refreshToken, err := deps.tm.GenerateRefreshToken(user.ID, user.Email)
	assert.NoError(t, err)

	token, err := svc.Refresh(context.Background(), refreshToken)

	assert.ErrorIs(t, err, models.ErrAccountLocked)
	assert.Empty(t, token)
}

func TestAuthService_SendLoginOtp_RequiresChallengeToken(t *testing.T) {
	user := NewTestUser("user@example.com", "correct-horse")
	deps := newAuthTestDeps()
	deps.withUser(user)
	svc := deps.build()

	accessToken, err := deps.tm.GenerateAccessToken(user.ID, user.Email)
	assert.NoError(t, err)

	err = svc.SendLoginOtp(context.Background(), accessToken, testRequestContext())

	assert.ErrorIs(t, err, models.ErrUnauthorized)
}
