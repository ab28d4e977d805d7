package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/brightcart/identity/internal/database"
	"github.com/brightcart/identity/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SecuritySettingsRepository handles database operations for security policy
// rows
type SecuritySettingsRepository struct {
	db *database.DB
}

// NewSecuritySettingsRepository creates a new SecuritySettingsRepository
func NewSecuritySettingsRepository(db *database.DB) *SecuritySettingsRepository {
	return &SecuritySettingsRepository{db: db}
}

const settingsColumns = `
	id, user_id, is_global_default, max_failed_attempts,
	initial_lockout_seconds, max_lockout_seconds, lockout_multiplier,
	failed_attempt_window_seconds, progressive_lockout, suspicious_threshold,
	risk_weights, geolocation_tracking, device_fingerprinting,
	max_concurrent_sessions, session_timeout_seconds,
	attempt_retention_seconds, send_security_alerts, deleted,
	created_at, updated_at`

// GetGlobalDefault returns the single global-default row.
// Returns models.ErrConfigurationMissing if it does not exist.
func (r *SecuritySettingsRepository) GetGlobalDefault(ctx context.Context) (*models.SecuritySettings, error) {
	query := `SELECT ` + settingsColumns + ` FROM security_settings WHERE is_global_default = TRUE AND deleted = FALSE`

	settings, err := r.scanSettings(r.db.Pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(database.MapPostgresError(err), models.ErrNotFound) {
			return nil, models.ErrConfigurationMissing
		}
		return nil, database.MapPostgresError(err)
	}
	return settings, nil
}

// GetByUserID returns the per-user override row, or models.ErrNotFound if the
// user has none.
func (r *SecuritySettingsRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.SecuritySettings, error) {
	query := `SELECT ` + settingsColumns + ` FROM security_settings WHERE user_id = $1 AND deleted = FALSE`

	settings, err := r.scanSettings(r.db.Pool.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return settings, nil
}

// Upsert creates or replaces the per-user override row.
func (r *SecuritySettingsRepository) Upsert(ctx context.Context, settings *models.SecuritySettings) error {
	weights, err := json.Marshal(settings.RiskWeights)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO security_settings (
			user_id, is_global_default, max_failed_attempts,
			initial_lockout_seconds, max_lockout_seconds, lockout_multiplier,
			failed_attempt_window_seconds, progressive_lockout, suspicious_threshold,
			risk_weights, geolocation_tracking, device_fingerprinting,
			max_concurrent_sessions, session_timeout_seconds,
			attempt_retention_seconds, send_security_alerts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (user_id) WHERE user_id IS NOT NULL AND deleted = FALSE DO UPDATE SET
			max_failed_attempts = EXCLUDED.max_failed_attempts,
			initial_lockout_seconds = EXCLUDED.initial_lockout_seconds,
			max_lockout_seconds = EXCLUDED.max_lockout_seconds,
			lockout_multiplier = EXCLUDED.lockout_multiplier,
			failed_attempt_window_seconds = EXCLUDED.failed_attempt_window_seconds,
			progressive_lockout = EXCLUDED.progressive_lockout,
			suspicious_threshold = EXCLUDED.suspicious_threshold,
			risk_weights = EXCLUDED.risk_weights,
			geolocation_tracking = EXCLUDED.geolocation_tracking,
			device_fingerprinting = EXCLUDED.device_fingerprinting,
			max_concurrent_sessions = EXCLUDED.max_concurrent_sessions,
			session_timeout_seconds = EXCLUDED.session_timeout_seconds,
			attempt_retention_seconds = EXCLUDED.attempt_retention_seconds,
			send_security_alerts = EXCLUDED.send_security_alerts,
			updated_at = NOW()
	`

	_, err = r.db.Pool.Exec(ctx, query,
		settings.UserID,
		settings.IsGlobalDefault,
		settings.MaxFailedAttempts,
		int64(settings.InitialLockoutDuration.Seconds()),
		int64(settings.MaxLockoutDuration.Seconds()),
		settings.LockoutMultiplier,
		int64(settings.FailedAttemptWindow.Seconds()),
		settings.ProgressiveLockout,
		settings.SuspiciousThreshold,
		weights,
		settings.GeolocationTracking,
		settings.DeviceFingerprinting,
		settings.MaxConcurrentSessions,
		int64(settings.SessionTimeout.Seconds()),
		int64(settings.AttemptRetention.Seconds()),
		settings.SendSecurityAlerts,
	)
	return database.MapPostgresError(err)
}

// SoftDelete reverts a user to the global default by marking the override
// deleted.
func (r *SecuritySettingsRepository) SoftDelete(ctx context.Context, userID uuid.UUID) error {
	query := `UPDATE security_settings SET deleted = TRUE, updated_at = NOW() WHERE user_id = $1 AND deleted = FALSE`

	tag, err := r.db.Pool.Exec(ctx, query, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// EnsureGlobalDefault seeds the global-default row if it does not exist.
// Called at startup; a deployment without the row is fatal.
func (r *SecuritySettingsRepository) EnsureGlobalDefault(ctx context.Context) error {
	_, err := r.GetGlobalDefault(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrConfigurationMissing) {
		return err
	}

	defaults := models.DefaultSecuritySettings()
	weights, err := json.Marshal(defaults.RiskWeights)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO security_settings (
			user_id, is_global_default, max_failed_attempts,
			initial_lockout_seconds, max_lockout_seconds, lockout_multiplier,
			failed_attempt_window_seconds, progressive_lockout, suspicious_threshold,
			risk_weights, geolocation_tracking, device_fingerprinting,
			max_concurrent_sessions, session_timeout_seconds,
			attempt_retention_seconds, send_security_alerts
		) VALUES (NULL, TRUE, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (is_global_default) WHERE is_global_default = TRUE DO NOTHING
	`

	_, err = r.db.Pool.Exec(ctx, query,
		defaults.MaxFailedAttempts,
		int64(defaults.InitialLockoutDuration.Seconds()),
		int64(defaults.MaxLockoutDuration.Seconds()),
		defaults.LockoutMultiplier,
		int64(defaults.FailedAttemptWindow.Seconds()),
		defaults.ProgressiveLockout,
		defaults.SuspiciousThreshold,
		weights,
		defaults.GeolocationTracking,
		defaults.DeviceFingerprinting,
		defaults.MaxConcurrentSessions,
		int64(defaults.SessionTimeout.Seconds()),
		int64(defaults.AttemptRetention.Seconds()),
		defaults.SendSecurityAlerts,
	)
	return database.MapPostgresError(err)
}

func (r *SecuritySettingsRepository) scanSettings(row pgx.Row) (*models.SecuritySettings, error) {
	var (
		s                   models.SecuritySettings
		initialSec, maxSec  int64
		windowSec, sessSec  int64
		retentionSec        int64
		weights             []byte
	)

	err := row.Scan(
		&s.ID, &s.UserID, &s.IsGlobalDefault, &s.MaxFailedAttempts,
		&initialSec, &maxSec, &s.LockoutMultiplier,
		&windowSec, &s.ProgressiveLockout, &s.SuspiciousThreshold,
		&weights, &s.GeolocationTracking, &s.DeviceFingerprinting,
		&s.MaxConcurrentSessions, &sessSec,
		&retentionSec, &s.SendSecurityAlerts, &s.Deleted,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.InitialLockoutDuration = time.Duration(initialSec) * time.Second
	s.MaxLockoutDuration = time.Duration(maxSec) * time.Second
	s.FailedAttemptWindow = time.Duration(windowSec) * time.Second
	s.SessionTimeout = time.Duration(sessSec) * time.Second
	s.AttemptRetention = time.Duration(retentionSec) * time.Second

	if len(weights) > 0 {
		if err := json.Unmarshal(weights, &s.RiskWeights); err != nil {
			return nil, err
		}
	}
	return &s, nil
}
