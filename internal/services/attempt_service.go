package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/brightcart/identity/internal/metrics"
	"github.com/brightcart/identity/internal/models"
	pkglogger "github.com/brightcart/identity/pkg/logger"
)

// LoginAttemptRepository defines the interface for attempt storage
type LoginAttemptRepository interface {
	Record(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailed(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	CountFailedByIP(ctx context.Context, ipAddress string, since time.Time) (int, error)
	Stats(ctx context.Context, userID uuid.UUID, since time.Time) (*models.AttemptStats, error)
	LastSuccessTime(ctx context.Context, userID uuid.UUID) (*time.Time, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// Per-IP velocity above which the source is considered hot, and the recent
// failure count that contributes to the score. Thresholds are structural;
// the weights applied to them are policy and live in settings.
const (
	hotSourcePerHour   = 10
	recentFailureFloor = 3
	riskLookbackForIP  = time.Hour
)

// AttemptService records authentication attempts and scores their risk.
// Attempts are immutable once written; the recorder is append-only.
type AttemptService struct {
	repo        LoginAttemptRepository
	settings    *SettingsService
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAttemptService creates a new AttemptService
func NewAttemptService(repo LoginAttemptRepository, settings *SettingsService, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AttemptService {
	return &AttemptService{
		repo:        repo,
		settings:    settings,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// RecordAttemptParams describes one attempt to record. UserID is nil when
// the identifier did not resolve to an account.
type RecordAttemptParams struct {
	UserID        *uuid.UUID
	Email         string
	Success       bool
	FailureReason string
	Request       models.RequestContext
}

// DeviceFingerprint derives a stable device identifier from the source
// address and agent string.
func DeviceFingerprint(ipAddress, userAgent string) string {
	sum := sha256.Sum256([]byte(ipAddress + userAgent))
	return hex.EncodeToString(sum[:])[:32]
}

// RecordAttempt scores and persists one attempt, returning the stored record
// with its risk assessment. A store outage surfaces as ErrStoreUnavailable
// and nothing is written; the caller must not treat that as a failed login.
func (s *AttemptService) RecordAttempt(ctx context.Context, params RecordAttemptParams) (*models.LoginAttempt, error) {
	settings, err := s.settings.Resolve(ctx, params.UserID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	attempt := &models.LoginAttempt{
		ID:          uuid.New(),
		UserID:      params.UserID,
		Email:       params.Email,
		Success:     params.Success,
		IPAddress:   params.Request.IPAddress,
		UserAgent:   params.Request.UserAgent,
		AttemptedAt: now,
		ExpiresAt:   now.Add(settings.AttemptRetention),
	}
	if params.FailureReason != "" {
		reason := params.FailureReason
		attempt.FailureReason = &reason
	}
	if settings.DeviceFingerprinting {
		attempt.DeviceFingerprint = DeviceFingerprint(params.Request.IPAddress, params.Request.UserAgent)
	}

	score, err := s.scoreAttempt(ctx, attempt, settings, now)
	if err != nil {
		return nil, err
	}
	attempt.RiskScore = score
	attempt.Suspicious = score >= settings.SuspiciousThreshold

	if err := s.repo.Record(ctx, attempt); err != nil {
		s.logger.Error("failed to record login attempt", slog.Any("error", err))
		return nil, err
	}

	outcome := "failure"
	if attempt.Success {
		outcome = "success"
	}
	metrics.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
	metrics.RiskScores.Observe(attempt.RiskScore)

	if attempt.Suspicious {
		s.logger.Warn("suspicious login attempt",
			slog.String("ip_address", attempt.IPAddress),
			slog.Float64("risk_score", attempt.RiskScore))

		userID := ""
		if attempt.UserID != nil {
			userID = attempt.UserID.String()
		}
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType: "suspicious_attempt",
			UserID:    userID,
			IPAddress: attempt.IPAddress,
			UserAgent: attempt.UserAgent,
			Success:   attempt.Success,
			Metadata: map[string]string{
				"risk_score": strconv.FormatFloat(attempt.RiskScore, 'f', 2, 64),
			},
		})
	}
	return attempt, nil
}

// scoreAttempt computes the weighted risk score in [0, 1]. Signals:
// identity does not resolve, source IP never seen on a successful login,
// device fingerprint never seen on a successful login, a run of recent
// failures, and high attempt velocity from the source IP.
func (s *AttemptService) scoreAttempt(ctx context.Context, attempt *models.LoginAttempt, settings *models.SecuritySettings, now time.Time) (float64, error) {
	w := settings.RiskWeights
	score := 0.0

	ipFailures, err := s.repo.CountFailedByIP(ctx, attempt.IPAddress, now.Add(-riskLookbackForIP))
	if err != nil {
		return 0, err
	}
	if ipFailures > hotSourcePerHour {
		score += w.HotSource
	}

	if attempt.UserID == nil {
		score += w.UnknownIdentity
		return clampScore(score), nil
	}

	stats, err := s.repo.Stats(ctx, *attempt.UserID, now.Add(-settings.FailedAttemptWindow))
	if err != nil {
		return 0, err
	}

	if !containsString(stats.KnownSourceIPs, attempt.IPAddress) {
		score += w.MultipleSources
	}
	if settings.DeviceFingerprinting && attempt.DeviceFingerprint != "" &&
		!containsString(stats.KnownDevices, attempt.DeviceFingerprint) {
		score += w.NovelDevice
	}
	if stats.FailedInWindow >= recentFailureFloor {
		score += w.FailureRate
	}

	return clampScore(score), nil
}

// FailedCount returns the failed attempt count for a user inside the
// window. A successful login resets the streak: failures before the most
// recent success never count.
func (s *AttemptService) FailedCount(ctx context.Context, userID uuid.UUID, window time.Duration) (int, error) {
	since := time.Now().UTC().Add(-window)
	lastSuccess, err := s.repo.LastSuccessTime(ctx, userID)
	if err != nil {
		return 0, err
	}
	if lastSuccess != nil && lastSuccess.After(since) {
		since = *lastSuccess
	}
	return s.repo.CountFailed(ctx, userID, since)
}

// PurgeExpired deletes attempts past their retention deadline.
func (s *AttemptService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged expired login attempts", slog.Int64("count", n))
	}
	return n, nil
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
