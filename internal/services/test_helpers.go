package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/brightcart/identity/internal/models"
	pkglogger "github.com/brightcart/identity/pkg/logger"
)

// MockSecuritySettingsRepository implements SecuritySettingsRepository for testing
type MockSecuritySettingsRepository struct {
	GetGlobalDefaultFunc    func(ctx context.Context) (*models.SecuritySettings, error)
	GetByUserIDFunc         func(ctx context.Context, userID uuid.UUID) (*models.SecuritySettings, error)
	UpsertFunc              func(ctx context.Context, settings *models.SecuritySettings) error
	SoftDeleteFunc          func(ctx context.Context, userID uuid.UUID) error
	EnsureGlobalDefaultFunc func(ctx context.Context) error
}

func (m *MockSecuritySettingsRepository) GetGlobalDefault(ctx context.Context) (*models.SecuritySettings, error) {
	if m.GetGlobalDefaultFunc != nil {
		return m.GetGlobalDefaultFunc(ctx)
	}
	defaults := models.DefaultSecuritySettings()
	return &defaults, nil
}

func (m *MockSecuritySettingsRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.SecuritySettings, error) {
	if m.GetByUserIDFunc != nil {
		return m.GetByUserIDFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockSecuritySettingsRepository) Upsert(ctx context.Context, settings *models.SecuritySettings) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, settings)
	}
	return nil
}

func (m *MockSecuritySettingsRepository) SoftDelete(ctx context.Context, userID uuid.UUID) error {
	if m.SoftDeleteFunc != nil {
		return m.SoftDeleteFunc(ctx, userID)
	}
	return nil
}

func (m *MockSecuritySettingsRepository) EnsureGlobalDefault(ctx context.Context) error {
	if m.EnsureGlobalDefaultFunc != nil {
		return m.EnsureGlobalDefaultFunc(ctx)
	}
	return nil
}

// MockLoginAttemptRepository implements LoginAttemptRepository for testing
type MockLoginAttemptRepository struct {
	RecordFunc          func(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailedFunc     func(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	CountFailedByIPFunc func(ctx context.Context, ipAddress string, since time.Time) (int, error)
	StatsFunc           func(ctx context.Context, userID uuid.UUID, since time.Time) (*models.AttemptStats, error)
	LastSuccessTimeFunc func(ctx context.Context, userID uuid.UUID) (*time.Time, error)
	DeleteExpiredFunc   func(ctx context.Context) (int64, error)
}

func (m *MockLoginAttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, attempt)
	}
	return nil
}

func (m *MockLoginAttemptRepository) CountFailed(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	if m.CountFailedFunc != nil {
		return m.CountFailedFunc(ctx, userID, since)
	}
	return 0, nil
}

func (m *MockLoginAttemptRepository) CountFailedByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	if m.CountFailedByIPFunc != nil {
		return m.CountFailedByIPFunc(ctx, ipAddress, since)
	}
	return 0, nil
}

func (m *MockLoginAttemptRepository) Stats(ctx context.Context, userID uuid.UUID, since time.Time) (*models.AttemptStats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx, userID, since)
	}
	return &models.AttemptStats{}, nil
}

func (m *MockLoginAttemptRepository) LastSuccessTime(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	if m.LastSuccessTimeFunc != nil {
		return m.LastSuccessTimeFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockLoginAttemptRepository) DeleteExpired(ctx context.Context) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx)
	}
	return 0, nil
}

// MockLockoutRepository implements LockoutRepository for testing
type MockLockoutRepository struct {
	GetActiveFunc       func(ctx context.Context, userID uuid.UUID) (*models.LockoutRecord, error)
	GetLastForUserFunc  func(ctx context.Context, userID uuid.UUID) (*models.LockoutRecord, error)
	CreateFunc          func(ctx context.Context, record *models.LockoutRecord) error
	ReleaseFunc         func(ctx context.Context, id uuid.UUID, releaseReason string, releasedBy *uuid.UUID) error
	DeleteOlderThanFunc func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockLockoutRepository) GetActive(ctx context.Context, userID uuid.UUID) (*models.LockoutRecord, error) {
	if m.GetActiveFunc != nil {
		return m.GetActiveFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockLockoutRepository) GetLastForUser(ctx context.Context, userID uuid.UUID) (*models.LockoutRecord, error) {
	if m.GetLastForUserFunc != nil {
		return m.GetLastForUserFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockLockoutRepository) Create(ctx context.Context, record *models.LockoutRecord) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, record)
	}
	return nil
}

func (m *MockLockoutRepository) Release(ctx context.Context, id uuid.UUID, releaseReason string, releasedBy *uuid.UUID) error {
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx, id, releaseReason, releasedBy)
	}
	return nil
}

func (m *MockLockoutRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteOlderThanFunc != nil {
		return m.DeleteOlderThanFunc(ctx, cutoff)
	}
	return 0, nil
}

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByEmailFunc func(ctx context.Context, email string) (*models.User, error)
	GetByIDFunc    func(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateFunc     func(ctx context.Context, u *models.User) error
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, u *models.User) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, u)
	}
	return nil
}

// MockMfaSettingsRepository implements MfaSettingsRepository for testing
type MockMfaSettingsRepository struct {
	GetByUserIDFunc func(ctx context.Context, userID uuid.UUID) (*models.MfaSettings, error)
	CreateFunc      func(ctx context.Context, m *models.MfaSettings) error
	UpdateFunc      func(ctx context.Context, m *models.MfaSettings) error
}

func (m *MockMfaSettingsRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.MfaSettings, error) {
	if m.GetByUserIDFunc != nil {
		return m.GetByUserIDFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockMfaSettingsRepository) Create(ctx context.Context, s *models.MfaSettings) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, s)
	}
	return nil
}

func (m *MockMfaSettingsRepository) Update(ctx context.Context, s *models.MfaSettings) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, s)
	}
	return nil
}

// MockBackupCodeRepository implements BackupCodeRepository for testing
type MockBackupCodeRepository struct {
	CreateBatchFunc   func(ctx context.Context, userID uuid.UUID, batchID uuid.UUID, codeHashes []string, expiresAt *time.Time) error
	GetUsableFunc     func(ctx context.Context, userID uuid.UUID) ([]models.BackupCode, error)
	MarkUsedFunc      func(ctx context.Context, id uuid.UUID, fromIP string) error
	CountUsableFunc   func(ctx context.Context, userID uuid.UUID) (int, error)
	DeleteForUserFunc func(ctx context.Context, userID uuid.UUID) error
}

func (m *MockBackupCodeRepository) CreateBatch(ctx context.Context, userID uuid.UUID, batchID uuid.UUID, codeHashes []string, expiresAt *time.Time) error {
	if m.CreateBatchFunc != nil {
		return m.CreateBatchFunc(ctx, userID, batchID, codeHashes, expiresAt)
	}
	return nil
}

func (m *MockBackupCodeRepository) GetUsable(ctx context.Context, userID uuid.UUID) ([]models.BackupCode, error) {
	if m.GetUsableFunc != nil {
		return m.GetUsableFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockBackupCodeRepository) MarkUsed(ctx context.Context, id uuid.UUID, fromIP string) error {
	if m.MarkUsedFunc != nil {
		return m.MarkUsedFunc(ctx, id, fromIP)
	}
	return nil
}

func (m *MockBackupCodeRepository) CountUsable(ctx context.Context, userID uuid.UUID) (int, error) {
	if m.CountUsableFunc != nil {
		return m.CountUsableFunc(ctx, userID)
	}
	return 0, nil
}

func (m *MockBackupCodeRepository) DeleteForUser(ctx context.Context, userID uuid.UUID) error {
	if m.DeleteForUserFunc != nil {
		return m.DeleteForUserFunc(ctx, userID)
	}
	return nil
}

// MockEmailOtpRepository implements EmailOtpRepository for testing
type MockEmailOtpRepository struct {
	CreateFunc            func(ctx context.Context, otp *models.EmailOtp) error
	GetActiveFunc         func(ctx context.Context, userID uuid.UUID, purpose string) (*models.EmailOtp, error)
	IncrementAttemptsFunc func(ctx context.Context, id uuid.UUID) (int, bool, error)
	MarkUsedFunc          func(ctx context.Context, id uuid.UUID) error
	CountIssuedSinceFunc  func(ctx context.Context, userID uuid.UUID, purpose string, since time.Time) (int, error)
	DeleteExpiredFunc     func(ctx context.Context) (int64, error)
}

func (m *MockEmailOtpRepository) Create(ctx context.Context, otp *models.EmailOtp) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, otp)
	}
	return nil
}

func (m *MockEmailOtpRepository) GetActive(ctx context.Context, userID uuid.UUID, purpose string) (*models.EmailOtp, error) {
	if m.GetActiveFunc != nil {
		return m.GetActiveFunc(ctx, userID, purpose)
	}
	return nil, nil
}

func (m *MockEmailOtpRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, bool, error) {
	if m.IncrementAttemptsFunc != nil {
		return m.IncrementAttemptsFunc(ctx, id)
	}
	return 1, false, nil
}

func (m *MockEmailOtpRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	if m.MarkUsedFunc != nil {
		return m.MarkUsedFunc(ctx, id)
	}
	return nil
}

func (m *MockEmailOtpRepository) CountIssuedSince(ctx context.Context, userID uuid.UUID, purpose string, since time.Time) (int, error) {
	if m.CountIssuedSinceFunc != nil {
		return m.CountIssuedSinceFunc(ctx, userID, purpose, since)
	}
	return 0, nil
}

func (m *MockEmailOtpRepository) DeleteExpired(ctx context.Context) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx)
	}
	return 0, nil
}

// MockMfaAuditRepository implements MfaAuditRepository for testing
type MockMfaAuditRepository struct {
	RecordFunc                   func(ctx context.Context, e *models.MfaAuditEntry) error
	CountConsecutiveFailuresFunc func(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
}

func (m *MockMfaAuditRepository) Record(ctx context.Context, e *models.MfaAuditEntry) error {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, e)
	}
	return nil
}

func (m *MockMfaAuditRepository) CountConsecutiveFailures(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	if m.CountConsecutiveFailuresFunc != nil {
		return m.CountConsecutiveFailuresFunc(ctx, userID, since)
	}
	return 0, nil
}

// MockSessionRepository implements SessionRepository for testing
type MockSessionRepository struct {
	CreateFunc              func(ctx context.Context, s *models.Session) error
	GetByIDFunc             func(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetByTokenHashFunc      func(ctx context.Context, tokenHash string) (*models.Session, error)
	ListActiveFunc          func(ctx context.Context, userID uuid.UUID) ([]models.Session, error)
	DeactivateFunc          func(ctx context.Context, id uuid.UUID) error
	DeactivateAllExceptFunc func(ctx context.Context, userID uuid.UUID, keep uuid.UUID) (int64, error)
	TouchFunc               func(ctx context.Context, id uuid.UUID, expiresAt time.Time) error
	DeleteExpiredFunc       func(ctx context.Context, grace time.Duration) (int64, error)
}

func (m *MockSessionRepository) Create(ctx context.Context, s *models.Session) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, s)
	}
	return nil
}

func (m *MockSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrSessionNotFound
}

func (m *MockSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrSessionNotFound
}

func (m *MockSessionRepository) ListActive(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockSessionRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	if m.DeactivateFunc != nil {
		return m.DeactivateFunc(ctx, id)
	}
	return nil
}

func (m *MockSessionRepository) DeactivateAllExcept(ctx context.Context, userID uuid.UUID, keep uuid.UUID) (int64, error) {
	if m.DeactivateAllExceptFunc != nil {
		return m.DeactivateAllExceptFunc(ctx, userID, keep)
	}
	return 0, nil
}

func (m *MockSessionRepository) Touch(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
	if m.TouchFunc != nil {
		return m.TouchFunc(ctx, id, expiresAt)
	}
	return nil
}

func (m *MockSessionRepository) DeleteExpired(ctx context.Context, grace time.Duration) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx, grace)
	}
	return 0, nil
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	SendOtpEmailFunc      func(ctx context.Context, email, code string, expiresAt time.Time) error
	SendSecurityAlertFunc func(ctx context.Context, email, subject, body string) error
}

func (m *MockEmailService) SendOtpEmail(ctx context.Context, email, code string, expiresAt time.Time) error {
	if m.SendOtpEmailFunc != nil {
		return m.SendOtpEmailFunc(ctx, email, code, expiresAt)
	}
	return nil
}

func (m *MockEmailService) SendSecurityAlert(ctx context.Context, email, subject, body string) error {
	if m.SendSecurityAlertFunc != nil {
		return m.SendSecurityAlertFunc(ctx, email, subject, body)
	}
	return nil
}

// Test fixtures

func testAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(slog.Default())
}

func newTestSettingsService(repo SecuritySettingsRepository) *SettingsService {
	return NewSettingsService(repo, slog.Default(), testAuditLogger())
}

// NewTestUser builds a user with the given plaintext password already
// hashed. Uses a low bcrypt cost to keep tests fast.
func NewTestUser(email, password string) *models.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		Name:         "Test User",
		Role:         "user",
		Status:       "active",
		CreatedAt:    time.Now().UTC(),
	}
}

func testRequestContext() models.RequestContext {
	return models.RequestContext{
		IPAddress: "203.0.113.10",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Firefox/127.0",
	}
}
