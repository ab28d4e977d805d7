package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/brightcart/identity/internal/auth"
	"github.com/brightcart/identity/internal/metrics"
	"github.com/brightcart/identity/internal/models"
	pkglogger "github.com/brightcart/identity/pkg/logger"
)

// LockoutRepository defines the interface for lockout record storage
type LockoutRepository interface {
	GetActive(ctx context.Context, userID uuid.UUID) (*models.LockoutRecord, error)
	GetLastForUser(ctx context.Context, userID uuid.UUID) (*models.LockoutRecord, error)
	Create(ctx context.Context, record *models.LockoutRecord) error
	Release(ctx context.Context, id uuid.UUID, releaseReason string, releasedBy *uuid.UUID) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// How far back prior lockouts count toward the escalation level. A quiet
// day resets the ladder.
const escalationMemory = 24 * time.Hour

// LockoutService is the lockout state machine. All state transitions for a
// user run under that user's mutex, so concurrent failures observe each
// other and at most one lockout is ever active. The database backs this up
// with a partial unique index.
type LockoutService struct {
	repo        LockoutRepository
	attempts    *AttemptService
	settings    *SettingsService
	locks       *auth.KeyedMutex
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(repo LockoutRepository, attempts *AttemptService, settings *SettingsService, locks *auth.KeyedMutex, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *LockoutService {
	return &LockoutService{
		repo:        repo,
		attempts:    attempts,
		settings:    settings,
		locks:       locks,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Check returns the user's active lockout, or nil when the account is not
// locked. An expired record found here is released lazily with reason
// "expired". Check never consumes an attempt; callers run it before
// verifying credentials.
func (s *LockoutService) Check(ctx context.Context, userID uuid.UUID) (*models.LockoutRecord, error) {
	record, err := s.repo.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	if !record.Expired(now) {
		return record, nil
	}

	// Expired but still marked active. Close it under the user lock so a
	// concurrent escalation does not race the release.
	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.repo.Release(ctx, record.ID, models.ReleaseReasonExpired, nil); err != nil {
		// Another goroutine released it first
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	s.auditLogger.LogLockout("lockout_expired", userID.String(), record.Level, 0, nil)
	return nil, nil
}

// HandleFailedAttempt evaluates whether a failed login pushes the user over
// the threshold and, if so, applies the lockout. Returns the new lockout
// record, or nil when the account stays open. Runs under the user's mutex:
// two concurrent threshold crossings produce exactly one lockout.
func (s *LockoutService) HandleFailedAttempt(ctx context.Context, userID uuid.UUID, attempt *models.LoginAttempt) (*models.LockoutRecord, error) {
	settings, err := s.settings.Resolve(ctx, &userID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	// Already locked (possibly by a concurrent failure); nothing to do.
	existing, err := s.repo.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !existing.Expired(time.Now().UTC()) {
			return existing, nil
		}
		// Stale expired record; close it or the one-active index
		// rejects the new lockout.
		if err := s.releaseExpiredLocked(ctx, existing); err != nil {
			return nil, err
		}
	}

	failed, err := s.attempts.FailedCount(ctx, userID, settings.FailedAttemptWindow)
	if err != nil {
		return nil, err
	}
	if failed < settings.MaxFailedAttempts {
		return nil, nil
	}

	reason := models.LockoutReasonFailedAttempts
	if attempt != nil && attempt.Suspicious {
		reason = models.LockoutReasonSuspicious
	}
	ip := ""
	if attempt != nil {
		ip = attempt.IPAddress
	}
	return s.apply(ctx, userID, settings, reason, ip, failed)
}

// LockSuspicious applies a lockout for a detected abuse pattern regardless
// of the failed attempt counter. Used for repeated MFA failures.
func (s *LockoutService) LockSuspicious(ctx context.Context, userID uuid.UUID, ipAddress string) (*models.LockoutRecord, error) {
	settings, err := s.settings.Resolve(ctx, &userID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	existing, err := s.repo.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !existing.Expired(time.Now().UTC()) {
			return existing, nil
		}
		if err := s.releaseExpiredLocked(ctx, existing); err != nil {
			return nil, err
		}
	}

	return s.apply(ctx, userID, settings, models.LockoutReasonSuspicious, ipAddress, 0)
}

// releaseExpiredLocked closes an expired record that nobody swept yet.
// Callers must hold the user's mutex. Losing the race to another release
// is benign.
func (s *LockoutService) releaseExpiredLocked(ctx context.Context, record *models.LockoutRecord) error {
	if err := s.repo.Release(ctx, record.ID, models.ReleaseReasonExpired, nil); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	s.auditLogger.LogLockout("lockout_expired", record.UserID.String(), record.Level, 0, nil)
	return nil
}

// apply creates the lockout record at the next escalation level. Callers
// must hold the user's mutex.
func (s *LockoutService) apply(ctx context.Context, userID uuid.UUID, settings *models.SecuritySettings, reason, ip string, failedCount int) (*models.LockoutRecord, error) {
	now := time.Now().UTC()

	level := 1
	if settings.ProgressiveLockout {
		last, err := s.repo.GetLastForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if last != nil && now.Sub(last.StartedAt) < escalationMemory {
			level = last.Level + 1
		}
	}

	duration := LockoutDuration(settings, level)
	endsAt := now.Add(duration)

	record := &models.LockoutRecord{
		ID:           uuid.New(),
		UserID:       userID,
		LockoutType:  models.LockoutTypeAutomatic,
		Reason:       reason,
		StartedAt:    now,
		EndsAt:       &endsAt,
		Level:        level,
		FailedCount:  failedCount,
		TriggeringIP: ip,
		Active:       true,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		// Lost a race with a concurrent lockout of the same user; the
		// winner's record is the truth.
		if errors.Is(err, models.ErrConflict) {
			return s.repo.GetActive(ctx, userID)
		}
		return nil, err
	}

	metrics.LockoutsAppliedTotal.WithLabelValues(models.LockoutTypeAutomatic, reason).Inc()
	s.auditLogger.LogLockout("lockout_applied", userID.String(), level, duration, map[string]string{
		"reason":       reason,
		"lockout_type": models.LockoutTypeAutomatic,
	})
	return record, nil
}

// LockoutDuration computes the lockout length for an escalation level:
// the initial duration scaled by multiplier^(level-1), capped at the
// configured maximum. Non-progressive policies always get the initial
// duration.
func LockoutDuration(settings *models.SecuritySettings, level int) time.Duration {
	if !settings.ProgressiveLockout || level <= 1 {
		return settings.InitialLockoutDuration
	}

	scaled := float64(settings.InitialLockoutDuration) * math.Pow(settings.LockoutMultiplier, float64(level-1))
	if scaled >= float64(settings.MaxLockoutDuration) || math.IsInf(scaled, 1) {
		return settings.MaxLockoutDuration
	}
	return time.Duration(scaled)
}

// ManualLockout locks an account administratively. A nil duration means
// open-ended until manually released. Refuses to stack on an existing
// active lockout.
func (s *LockoutService) ManualLockout(ctx context.Context, userID uuid.UUID, reason string, duration *time.Duration, createdBy uuid.UUID) (*models.LockoutRecord, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	existing, err := s.repo.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !existing.Expired(time.Now().UTC()) {
			return nil, models.ErrConflict
		}
		if err := s.releaseExpiredLocked(ctx, existing); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	if reason == "" {
		reason = models.LockoutReasonAdministrative
	}
	record := &models.LockoutRecord{
		ID:          uuid.New(),
		UserID:      userID,
		LockoutType: models.LockoutTypeManual,
		Reason:      reason,
		StartedAt:   now,
		Level:       1,
		Active:      true,
		CreatedBy:   &createdBy,
	}
	if duration != nil {
		endsAt := now.Add(*duration)
		record.EndsAt = &endsAt
	}

	if err := s.repo.Create(ctx, record); err != nil {
		return nil, err
	}

	d := time.Duration(0)
	if duration != nil {
		d = *duration
	}
	metrics.LockoutsAppliedTotal.WithLabelValues(models.LockoutTypeManual, reason).Inc()
	s.auditLogger.LogLockout("manual_lockout_applied", userID.String(), 1, d, map[string]string{
		"reason":     reason,
		"created_by": createdBy.String(),
	})
	return record, nil
}

// Release manually ends the user's active lockout. Releasing an unlocked
// user returns ErrNotFound.
func (s *LockoutService) Release(ctx context.Context, userID uuid.UUID, releasedBy uuid.UUID) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	record, err := s.repo.GetActive(ctx, userID)
	if err != nil {
		return err
	}
	if record == nil {
		return models.ErrNotFound
	}

	if err := s.repo.Release(ctx, record.ID, models.ReleaseReasonManual, &releasedBy); err != nil {
		return err
	}

	s.auditLogger.LogLockout("lockout_released", userID.String(), record.Level, 0, map[string]string{
		"released_by": releasedBy.String(),
	})
	return nil
}

// HandleSuccessfulAuth closes any lingering active lockout after the user
// fully authenticates. Normally the record has already expired (a live
// lockout blocks login before credentials are checked); this just settles
// the bookkeeping.
func (s *LockoutService) HandleSuccessfulAuth(ctx context.Context, userID uuid.UUID) error {
	record, err := s.repo.GetActive(ctx, userID)
	if err != nil || record == nil {
		return err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.repo.Release(ctx, record.ID, models.ReleaseReasonSuccessfulMfa, nil); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}

	s.auditLogger.LogLockout("lockout_closed_after_auth", userID.String(), record.Level, 0, nil)
	return nil
}

// Status returns the active lockout for admin inspection, nil when none.
func (s *LockoutService) Status(ctx context.Context, userID uuid.UUID) (*models.LockoutRecord, error) {
	return s.repo.GetActive(ctx, userID)
}

// PurgeOld removes released lockout history past the retention cutoff.
// Active records are never purged.
func (s *LockoutService) PurgeOld(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.repo.DeleteOlderThan(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged old lockout records", slog.Int64("count", n))
	}
	return n, nil
}
