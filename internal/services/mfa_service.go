package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/brightcart/identity/internal/auth"
	"github.com/brightcart/identity/internal/metrics"
	"github.com/brightcart/identity/internal/models"
	pkgauth "github.com/brightcart/identity/pkg/auth"
	pkglogger "github.com/brightcart/identity/pkg/logger"
)

// MfaSettingsRepository defines the interface for per-user MFA configuration
type MfaSettingsRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.MfaSettings, error)
	Create(ctx context.Context, m *models.MfaSettings) error
	Update(ctx context.Context, m *models.MfaSettings) error
}

// BackupCodeRepository defines the interface for recovery code storage
type BackupCodeRepository interface {
	CreateBatch(ctx context.Context, userID uuid.UUID, batchID uuid.UUID, codeHashes []string, expiresAt *time.Time) error
	GetUsable(ctx context.Context, userID uuid.UUID) ([]models.BackupCode, error)
	MarkUsed(ctx context.Context, id uuid.UUID, fromIP string) error
	CountUsable(ctx context.Context, userID uuid.UUID) (int, error)
	DeleteForUser(ctx context.Context, userID uuid.UUID) error
}

// EmailOtpRepository defines the interface for emailed one-time codes
type EmailOtpRepository interface {
	Create(ctx context.Context, otp *models.EmailOtp) error
	GetActive(ctx context.Context, userID uuid.UUID, purpose string) (*models.EmailOtp, error)
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int, bool, error)
	MarkUsed(ctx context.Context, id uuid.UUID) error
	CountIssuedSince(ctx context.Context, userID uuid.UUID, purpose string, since time.Time) (int, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// MfaAuditRepository defines the interface for the MFA audit trail
type MfaAuditRepository interface {
	Record(ctx context.Context, e *models.MfaAuditEntry) error
	CountConsecutiveFailures(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
}

const (
	backupCodeCount = 10

	emailOtpExpiry      = 10 * time.Minute
	emailOtpMaxAttempts = 3
	otpResendWindow     = 10 * time.Minute
	otpResendLimit      = 3

	// Consecutive verification failures across all methods before the
	// account is locked for a suspicious pattern.
	mfaFailureLockThreshold = 3
	mfaFailureLookback      = 15 * time.Minute
)

// MfaService handles MFA setup, verification, and management. Verification
// for a user is serialized so a TOTP code cannot be accepted twice in its
// window and a backup code cannot be spent twice.
type MfaService struct {
	mfaRepo     MfaSettingsRepository
	backupRepo  BackupCodeRepository
	otpRepo     EmailOtpRepository
	auditRepo   MfaAuditRepository
	users       UserRepository
	totp        *auth.TOTPManager
	email       EmailService
	lockouts    *LockoutService
	locks       *auth.KeyedMutex
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewMfaService creates a new MfaService
func NewMfaService(
	mfaRepo MfaSettingsRepository,
	backupRepo BackupCodeRepository,
	otpRepo EmailOtpRepository,
	auditRepo MfaAuditRepository,
	users UserRepository,
	totp *auth.TOTPManager,
	email EmailService,
	lockouts *LockoutService,
	locks *auth.KeyedMutex,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *MfaService {
	return &MfaService{
		mfaRepo:     mfaRepo,
		backupRepo:  backupRepo,
		otpRepo:     otpRepo,
		auditRepo:   auditRepo,
		users:       users,
		totp:        totp,
		email:       email,
		lockouts:    lockouts,
		locks:       locks,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// MfaStatus summarizes a user's MFA state for the API
type MfaStatus struct {
	Enabled              bool       `json:"enabled"`
	TotpEnabled          bool       `json:"totp_enabled"`
	EmailOtpEnabled      bool       `json:"email_otp_enabled"`
	BackupCodesRemaining int        `json:"backup_codes_remaining"`
	Enforced             bool       `json:"enforced"`
	EnforcementGraceEnd  *time.Time `json:"enforcement_grace_end,omitempty"`
	LastUsedAt           *time.Time `json:"last_used_at,omitempty"`
}

// SetupResponse is returned from InitiateSetup. The secret and backup codes
// are shown exactly once.
type SetupResponse struct {
	QRCode      string   `json:"qr_code"`
	BackupCodes []string `json:"backup_codes"`
}

// GetStatus returns the user's MFA state. Users without a settings row get
// the zero status, not an error.
func (s *MfaService) GetStatus(ctx context.Context, userID uuid.UUID) (*MfaStatus, error) {
	settings, err := s.mfaRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &MfaStatus{}, nil
		}
		return nil, err
	}

	remaining, err := s.backupRepo.CountUsable(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &MfaStatus{
		Enabled:              settings.Enabled,
		TotpEnabled:          settings.TotpEnabled,
		EmailOtpEnabled:      settings.EmailOtpEnabled,
		BackupCodesRemaining: remaining,
		Enforced:             settings.Enforced,
		EnforcementGraceEnd:  settings.EnforcementGraceEnd,
		LastUsedAt:           settings.LastUsedAt,
	}, nil
}

// InitiateSetup provisions a TOTP secret and a fresh batch of backup codes.
// MFA stays disabled until the user proves possession with ActivateTotp.
// Re-running setup before activation rotates the secret.
func (s *MfaService) InitiateSetup(ctx context.Context, userID uuid.UUID, req models.RequestContext) (*SetupResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	settings, err := s.mfaRepo.GetByUserID(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if settings != nil && settings.Enabled {
		return nil, models.ErrConflict
	}

	encrypted, nonce, qrCode, err := s.totp.GenerateSecretWithQR(user.Email)
	if err != nil {
		s.logger.Error("failed to generate totp secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if settings == nil {
		settings = &models.MfaSettings{
			ID:     uuid.New(),
			UserID: userID,
		}
		settings.TotpSecret = encrypted
		settings.TotpSecretNonce = nonce
		if err := s.mfaRepo.Create(ctx, settings); err != nil {
			return nil, err
		}
	} else {
		settings.TotpSecret = encrypted
		settings.TotpSecretNonce = nonce
		if err := s.mfaRepo.Update(ctx, settings); err != nil {
			return nil, err
		}
	}

	codes, err := s.issueBackupCodes(ctx, settings, req)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, userID, models.MfaMethodTotp, "setup_initiated", true, nil, req)
	return &SetupResponse{QRCode: qrCode, BackupCodes: codes}, nil
}

// ActivateTotp enables MFA after the user verifies the first code from
// their authenticator.
func (s *MfaService) ActivateTotp(ctx context.Context, userID uuid.UUID, code string, req models.RequestContext) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	settings, err := s.mfaRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrMfaNotEnabled
		}
		return err
	}
	if settings.Enabled {
		return models.ErrConflict
	}

	if err := s.checkTotp(settings, code); err != nil {
		s.recordAudit(ctx, userID, models.MfaMethodTotp, "activation_failed", false, strPtr("invalid_code"), req)
		return err
	}

	now := time.Now().UTC()
	settings.Enabled = true
	settings.TotpEnabled = true
	settings.BackupCodesEnabled = true
	settings.EmailOtpEnabled = true
	settings.EnabledAt = &now
	settings.DisabledAt = nil
	settings.LastTotpUsedAt = &now
	settings.LastUsedAt = &now
	if err := s.mfaRepo.Update(ctx, settings); err != nil {
		return err
	}

	s.recordAudit(ctx, userID, models.MfaMethodTotp, "activated", true, nil, req)
	s.auditLogger.LogMfaEvent("mfa_enabled", userID.String(), string(models.MfaMethodTotp), req.IPAddress, true)
	return nil
}

// Verify validates a second-factor code of the given method. A successful
// verification is recorded on the settings row; failures feed the
// consecutive-failure counter, and a run of failures locks the account.
func (s *MfaService) Verify(ctx context.Context, userID uuid.UUID, method models.MfaMethod, code string, req models.RequestContext) error {
	verifyErr := s.verifyLocked(ctx, userID, method, code, req)
	if verifyErr != nil {
		if isVerificationFailure(verifyErr) {
			metrics.MfaVerificationsTotal.WithLabelValues(string(method), "failure").Inc()
			s.recordAudit(ctx, userID, method, "failed", false, strPtr(verifyErr.Error()), req)
			s.auditLogger.LogMfaEvent("mfa_verification", userID.String(), string(method), req.IPAddress, false)
			// Must run outside the user lock: the lockout engine takes it.
			s.lockAfterRepeatedFailures(ctx, userID, req.IPAddress)
		}
		return verifyErr
	}

	metrics.MfaVerificationsTotal.WithLabelValues(string(method), "success").Inc()
	s.recordAudit(ctx, userID, method, "verified", true, nil, req)
	s.auditLogger.LogMfaEvent("mfa_verification", userID.String(), string(method), req.IPAddress, true)
	return nil
}

// verifyLocked runs the actual code check while holding the user's mutex.
func (s *MfaService) verifyLocked(ctx context.Context, userID uuid.UUID, method models.MfaMethod, code string, req models.RequestContext) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	settings, err := s.mfaRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrMfaNotEnabled
		}
		return err
	}
	if !settings.Enabled {
		return models.ErrMfaNotEnabled
	}

	now := time.Now().UTC()
	switch method {
	case models.MfaMethodTotp:
		if err := s.checkTotp(settings, code); err != nil {
			return err
		}
		settings.LastTotpUsedAt = &now
	case models.MfaMethodBackupCode:
		remaining, err := s.checkBackupCode(ctx, userID, code, req.IPAddress)
		if err != nil {
			return err
		}
		settings.BackupCodesRemaining = remaining
	case models.MfaMethodEmailOtp:
		if err := s.checkEmailOtp(ctx, userID, models.OtpPurposeLogin, code); err != nil {
			return err
		}
	default:
		return models.ErrBadRequest
	}

	settings.LastUsedAt = &now
	return s.mfaRepo.Update(ctx, settings)
}

// isVerificationFailure distinguishes a rejected code from infrastructure
// errors; only rejections feed the failure counter.
func isVerificationFailure(err error) bool {
	return errors.Is(err, models.ErrMfaCodeInvalid) ||
		errors.Is(err, models.ErrMfaCodeExpired) ||
		errors.Is(err, models.ErrMfaChannelBlocked) ||
		errors.Is(err, models.ErrBackupCodesExhausted)
}

// checkTotp validates a TOTP code against the encrypted secret, rejecting
// reuse inside the acceptance window.
func (s *MfaService) checkTotp(settings *models.MfaSettings, code string) error {
	if len(settings.TotpSecret) == 0 {
		return models.ErrMfaNotEnabled
	}
	secret, err := s.totp.DecryptSecret(settings.TotpSecret, settings.TotpSecretNonce)
	if err != nil {
		s.logger.Error("failed to decrypt totp secret", slog.Any("error", err))
		return models.ErrInternalServer
	}

	ok, err := s.totp.ValidateCode(secret, code, time.Now().UTC(), settings.LastTotpUsedAt)
	if err != nil {
		return models.ErrInternalServer
	}
	if !ok {
		return models.ErrMfaCodeInvalid
	}
	return nil
}

// checkBackupCode finds and spends a matching unused recovery code,
// returning how many codes the user has left.
func (s *MfaService) checkBackupCode(ctx context.Context, userID uuid.UUID, code string, fromIP string) (int, error) {
	codes, err := s.backupRepo.GetUsable(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(codes) == 0 {
		return 0, models.ErrBackupCodesExhausted
	}

	for _, entry := range codes {
		if bcrypt.CompareHashAndPassword([]byte(entry.CodeHash), []byte(code)) != nil {
			continue
		}
		// The guarded update loses to a concurrent spend of the same code
		if err := s.backupRepo.MarkUsed(ctx, entry.ID, fromIP); err != nil {
			return 0, err
		}
		if len(codes) == 1 {
			s.notifyCodesExhausted(ctx, userID)
		}
		return len(codes) - 1, nil
	}
	return 0, models.ErrMfaCodeInvalid
}

// checkEmailOtp validates an emailed code. A blocked OTP never verifies,
// even with the correct code.
func (s *MfaService) checkEmailOtp(ctx context.Context, userID uuid.UUID, purpose, code string) error {
	otp, err := s.otpRepo.GetActive(ctx, userID, purpose)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrMfaCodeInvalid
		}
		return err
	}
	if otp == nil {
		return models.ErrMfaCodeInvalid
	}
	if otp.Blocked {
		return models.ErrMfaChannelBlocked
	}
	if time.Now().UTC().After(otp.ExpiresAt) {
		return models.ErrMfaCodeExpired
	}

	if bcrypt.CompareHashAndPassword([]byte(otp.CodeHash), []byte(code)) != nil {
		_, blocked, err := s.otpRepo.IncrementAttempts(ctx, otp.ID)
		if err != nil {
			return err
		}
		if blocked {
			return models.ErrMfaChannelBlocked
		}
		return models.ErrMfaCodeInvalid
	}

	return s.otpRepo.MarkUsed(ctx, otp.ID)
}

// SendEmailOtp issues a fresh emailed code for the purpose, superseding any
// previous active one. Issuance is throttled per user.
func (s *MfaService) SendEmailOtp(ctx context.Context, userID uuid.UUID, purpose string, sessionID *uuid.UUID, req models.RequestContext) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	issued, err := s.otpRepo.CountIssuedSince(ctx, userID, purpose, time.Now().UTC().Add(-otpResendWindow))
	if err != nil {
		return err
	}
	if issued >= otpResendLimit {
		return models.ErrMfaChannelBlocked
	}

	code, err := s.totp.GenerateEmailOtp()
	if err != nil {
		return models.ErrInternalServer
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), pkgauth.BcryptCost)
	if err != nil {
		return models.ErrInternalServer
	}

	now := time.Now().UTC()
	otp := &models.EmailOtp{
		ID:           uuid.New(),
		UserID:       userID,
		CodeHash:     string(hash),
		EmailAddress: user.Email,
		Purpose:      purpose,
		ExpiresAt:    now.Add(emailOtpExpiry),
		MaxAttempts:  emailOtpMaxAttempts,
		SessionID:    sessionID,
	}
	if err := s.otpRepo.Create(ctx, otp); err != nil {
		return err
	}

	if err := s.email.SendOtpEmail(ctx, user.Email, code, otp.ExpiresAt); err != nil {
		return fmt.Errorf("failed to deliver otp: %w", err)
	}

	s.recordAudit(ctx, userID, models.MfaMethodEmailOtp, "sent", true, nil, req)
	return nil
}

// RegenerateBackupCodes issues a new batch after re-verifying the password.
// Unused codes from the previous batch stop working.
func (s *MfaService) RegenerateBackupCodes(ctx context.Context, userID uuid.UUID, password string, req models.RequestContext) ([]string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, models.ErrInvalidCredentials
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	settings, err := s.mfaRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrMfaNotEnabled
		}
		return nil, err
	}
	if !settings.Enabled {
		return nil, models.ErrMfaNotEnabled
	}

	codes, err := s.issueBackupCodes(ctx, settings, req)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, userID, models.MfaMethodBackupCode, "regenerated", true, nil, req)
	s.auditLogger.LogMfaEvent("backup_codes_regenerated", userID.String(), string(models.MfaMethodBackupCode), req.IPAddress, true)
	return codes, nil
}

// issueBackupCodes generates, hashes, and stores a batch, updating the
// remaining counter on the settings row.
func (s *MfaService) issueBackupCodes(ctx context.Context, settings *models.MfaSettings, req models.RequestContext) ([]string, error) {
	codes, err := s.totp.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hashes := make([]string, len(codes))
	for i, code := range codes {
		hash, err := bcrypt.GenerateFromPassword([]byte(code), pkgauth.BcryptCost)
		if err != nil {
			return nil, models.ErrInternalServer
		}
		hashes[i] = string(hash)
	}

	if err := s.backupRepo.CreateBatch(ctx, settings.UserID, uuid.New(), hashes, nil); err != nil {
		return nil, err
	}

	settings.BackupCodesRemaining = len(codes)
	if err := s.mfaRepo.Update(ctx, settings); err != nil {
		return nil, err
	}
	return codes, nil
}

// Disable turns MFA off after re-verifying the password and a current
// second factor. Enforced accounts cannot disable.
func (s *MfaService) Disable(ctx context.Context, userID uuid.UUID, password string, method models.MfaMethod, code string, req models.RequestContext) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.recordAudit(ctx, userID, method, "disable_failed", false, strPtr("invalid_password"), req)
		return models.ErrInvalidCredentials
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	settings, err := s.mfaRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrMfaNotEnabled
		}
		return err
	}
	if !settings.Enabled {
		return models.ErrMfaNotEnabled
	}
	if settings.EnforcementActive(time.Now().UTC()) {
		return models.ErrForbidden
	}

	var verifyErr error
	switch method {
	case models.MfaMethodTotp:
		verifyErr = s.checkTotp(settings, code)
	case models.MfaMethodBackupCode:
		_, verifyErr = s.checkBackupCode(ctx, userID, code, req.IPAddress)
	case models.MfaMethodEmailOtp:
		verifyErr = s.checkEmailOtp(ctx, userID, models.OtpPurposeDisableMfa, code)
	default:
		return models.ErrBadRequest
	}
	if verifyErr != nil {
		s.recordAudit(ctx, userID, method, "disable_failed", false, strPtr(verifyErr.Error()), req)
		return verifyErr
	}

	now := time.Now().UTC()
	settings.Enabled = false
	settings.TotpEnabled = false
	settings.BackupCodesEnabled = false
	settings.EmailOtpEnabled = false
	settings.TotpSecret = nil
	settings.TotpSecretNonce = nil
	settings.BackupCodesRemaining = 0
	settings.DisabledAt = &now
	if err := s.mfaRepo.Update(ctx, settings); err != nil {
		return err
	}
	if err := s.backupRepo.DeleteForUser(ctx, userID); err != nil {
		return err
	}

	s.recordAudit(ctx, userID, method, "disabled", true, nil, req)
	s.auditLogger.LogMfaEvent("mfa_disabled", userID.String(), string(method), req.IPAddress, true)

	if err := s.email.SendSecurityAlert(ctx, user.Email,
		"Two-factor authentication disabled",
		"Two-factor authentication was disabled on your account."); err != nil {
		s.logger.Warn("failed to send mfa disable alert", slog.Any("error", err))
	}
	return nil
}

// SetEnforcement sets the admin enforcement flag, optionally with a grace
// period during which the user can still log in without MFA.
func (s *MfaService) SetEnforcement(ctx context.Context, userID uuid.UUID, enforced bool, grace time.Duration, setBy uuid.UUID) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	settings, err := s.mfaRepo.GetByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return err
		}
		settings = &models.MfaSettings{
			ID:     uuid.New(),
			UserID: userID,
		}
		if err := s.mfaRepo.Create(ctx, settings); err != nil {
			return err
		}
	}

	settings.Enforced = enforced
	settings.EnforcementGraceEnd = nil
	if enforced && grace > 0 {
		end := time.Now().UTC().Add(grace)
		settings.EnforcementGraceEnd = &end
	}
	if err := s.mfaRepo.Update(ctx, settings); err != nil {
		return err
	}

	s.auditLogger.LogAccountAction("mfa_enforcement_changed", userID.String(), "", map[string]string{
		"enforced": fmt.Sprintf("%t", enforced),
		"set_by":   setBy.String(),
	})
	return nil
}

// Required reports whether the user must complete a second factor to log
// in: either MFA is enabled, or an admin enforcement is active.
func (s *MfaService) Required(ctx context.Context, userID uuid.UUID) (bool, error) {
	settings, err := s.mfaRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return settings.Enabled || settings.EnforcementActive(time.Now().UTC()), nil
}

// lockAfterRepeatedFailures locks the account when verification failures
// pile up without an intervening success.
func (s *MfaService) lockAfterRepeatedFailures(ctx context.Context, userID uuid.UUID, ipAddress string) {
	failures, err := s.auditRepo.CountConsecutiveFailures(ctx, userID, time.Now().UTC().Add(-mfaFailureLookback))
	if err != nil {
		s.logger.Error("failed to count mfa failures", slog.Any("error", err))
		return
	}
	if failures < mfaFailureLockThreshold {
		return
	}
	if _, err := s.lockouts.LockSuspicious(ctx, userID, ipAddress); err != nil {
		s.logger.Error("failed to lock account after mfa failures",
			slog.String("user_id", userID.String()),
			slog.Any("error", err))
	}
}

func (s *MfaService) notifyCodesExhausted(ctx context.Context, userID uuid.UUID) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return
	}
	if err := s.email.SendSecurityAlert(ctx, user.Email,
		"Backup codes exhausted",
		"You have used your last backup code. Generate a new batch from your security settings."); err != nil {
		s.logger.Warn("failed to send backup code alert", slog.Any("error", err))
	}
}

func (s *MfaService) recordAudit(ctx context.Context, userID uuid.UUID, method models.MfaMethod, action string, success bool, reason *string, req models.RequestContext) {
	entry := &models.MfaAuditEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Method:    method,
		Action:    action,
		Success:   success,
		Reason:    reason,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	}
	if err := s.auditRepo.Record(ctx, entry); err != nil {
		s.logger.Error("failed to record mfa audit entry", slog.Any("error", err))
	}
}

func strPtr(s string) *string {
	return &s
}
