package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/brightcart/identity/internal/database"
	"github.com/brightcart/identity/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LoginAttemptRepository handles database operations for login attempts
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// Record persists a login attempt. Attempts are append-only and never
// updated.
func (r *LoginAttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (user_id, email, success, failure_reason, ip_address, user_agent, device_fingerprint, risk_score, suspicious, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, attempted_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		attempt.UserID,
		attempt.Email,
		attempt.Success,
		attempt.FailureReason,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.DeviceFingerprint,
		attempt.RiskScore,
		attempt.Suspicious,
		attempt.ExpiresAt,
	).Scan(&attempt.ID, &attempt.AttemptedAt)

	return database.MapPostgresError(err)
}

// CountFailed returns failed attempts for a user since the given time.
func (r *LoginAttemptRepository) CountFailed(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE user_id = $1 AND success = FALSE AND attempted_at >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, userID, since).Scan(&count)
	return count, database.MapPostgresError(err)
}

// CountFailedByIP returns failed attempts from a source address since the
// given time, across all identities.
func (r *LoginAttemptRepository) CountFailedByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE ip_address = $1 AND success = FALSE AND attempted_at >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, ipAddress, since).Scan(&count)
	return count, database.MapPostgresError(err)
}

// Stats aggregates the recent history the risk scorer needs for one user.
func (r *LoginAttemptRepository) Stats(ctx context.Context, userID uuid.UUID, since time.Time) (*models.AttemptStats, error) {
	stats := &models.AttemptStats{}

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE success = FALSE),
			COUNT(DISTINCT ip_address),
			MAX(attempted_at) FILTER (WHERE success = TRUE),
			MAX(attempted_at) FILTER (WHERE success = FALSE)
		FROM login_attempts
		WHERE user_id = $1 AND attempted_at >= $2
	`

	err := r.db.Pool.QueryRow(ctx, query, userID, since).Scan(
		&stats.TotalInWindow,
		&stats.FailedInWindow,
		&stats.DistinctSourceIPs,
		&stats.LastSuccess,
		&stats.LastFailure,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	// Devices and addresses seen on prior successful logins, over a longer
	// horizon than the failure window, to judge novelty.
	knownQuery := `
		SELECT DISTINCT device_fingerprint, ip_address FROM login_attempts
		WHERE user_id = $1 AND success = TRUE AND attempted_at >= $2
	`

	rows, err := r.db.Pool.Query(ctx, knownQuery, userID, time.Now().Add(-30*24*time.Hour))
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var fp, ip string
		if err := rows.Scan(&fp, &ip); err != nil {
			return nil, database.MapPostgresError(err)
		}
		if fp != "" {
			stats.KnownDevices = append(stats.KnownDevices, fp)
		}
		stats.KnownSourceIPs = append(stats.KnownSourceIPs, ip)
	}
	return stats, database.MapPostgresError(rows.Err())
}

// LastSuccessTime returns the most recent successful login for a user, or nil.
func (r *LoginAttemptRepository) LastSuccessTime(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	query := `
		SELECT attempted_at FROM login_attempts
		WHERE user_id = $1 AND success = TRUE
		ORDER BY attempted_at DESC
		LIMIT 1
	`

	var t time.Time
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &t, nil
}

// DeleteExpired removes attempts past their retention expiry.
func (r *LoginAttemptRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM login_attempts WHERE expires_at < NOW()`)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
