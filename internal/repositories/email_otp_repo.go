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

// EmailOtpRepository handles database operations for emailed one-time codes
type EmailOtpRepository struct {
	db *database.DB
}

// NewEmailOtpRepository creates a new EmailOtpRepository
func NewEmailOtpRepository(db *database.DB) *EmailOtpRepository {
	return &EmailOtpRepository{db: db}
}

const emailOtpColumns = `
	id, user_id, code_hash, email_address, purpose, used, used_at,
	expires_at, attempt_count, max_attempts, blocked, blocked_at,
	superseded, session_id, created_at`

// Create inserts a new OTP after superseding any previous current one for
// the same (user, purpose). The issuer keeps a single current OTP per pair.
func (r *EmailOtpRepository) Create(ctx context.Context, otp *models.EmailOtp) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE email_otps SET superseded = TRUE
			 WHERE user_id = $1 AND purpose = $2 AND used = FALSE AND superseded = FALSE`,
			otp.UserID, otp.Purpose); err != nil {
			return database.MapPostgresError(err)
		}

		err := tx.QueryRow(ctx,
			`INSERT INTO email_otps (user_id, code_hash, email_address, purpose, expires_at, max_attempts, session_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id, created_at`,
			otp.UserID, otp.CodeHash, otp.EmailAddress, otp.Purpose,
			otp.ExpiresAt, otp.MaxAttempts, otp.SessionID,
		).Scan(&otp.ID, &otp.CreatedAt)
		return database.MapPostgresError(err)
	})
}

// GetActive returns the current unused OTP for (user, purpose), or nil if
// none exists. Expired and blocked OTPs are still returned so the verifier
// can report "expired" or "channel blocked" instead of a generic bad code.
func (r *EmailOtpRepository) GetActive(ctx context.Context, userID uuid.UUID, purpose string) (*models.EmailOtp, error) {
	query := `SELECT ` + emailOtpColumns + ` FROM email_otps
		WHERE user_id = $1 AND purpose = $2 AND used = FALSE AND superseded = FALSE
		ORDER BY created_at DESC
		LIMIT 1`

	var o models.EmailOtp
	err := r.db.Pool.QueryRow(ctx, query, userID, purpose).Scan(
		&o.ID, &o.UserID, &o.CodeHash, &o.EmailAddress, &o.Purpose, &o.Used,
		&o.UsedAt, &o.ExpiresAt, &o.AttemptCount, &o.MaxAttempts, &o.Blocked,
		&o.BlockedAt, &o.Superseded, &o.SessionID, &o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &o, nil
}

// IncrementAttempts bumps the attempt counter and blocks the OTP when the
// counter reaches the maximum. Returns the updated counter and blocked state.
func (r *EmailOtpRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, bool, error) {
	query := `
		UPDATE email_otps
		SET attempt_count = attempt_count + 1,
		    blocked = (attempt_count + 1 >= max_attempts),
		    blocked_at = CASE WHEN attempt_count + 1 >= max_attempts THEN NOW() ELSE blocked_at END
		WHERE id = $1 AND used = FALSE AND blocked = FALSE AND superseded = FALSE
		RETURNING attempt_count, blocked
	`

	var count int
	var blocked bool
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&count, &blocked)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, true, models.ErrMfaChannelBlocked
	}
	if err != nil {
		return 0, false, database.MapPostgresError(err)
	}
	return count, blocked, nil
}

// MarkUsed consumes the OTP. Only one concurrent verifier can win the guard.
func (r *EmailOtpRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE email_otps SET used = TRUE, used_at = NOW() WHERE id = $1 AND used = FALSE AND blocked = FALSE AND superseded = FALSE`

	tag, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrMfaCodeInvalid
	}
	return nil
}

// CountIssuedSince returns OTPs issued for (user, purpose) since the given
// time, used to throttle resends.
func (r *EmailOtpRepository) CountIssuedSince(ctx context.Context, userID uuid.UUID, purpose string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM email_otps WHERE user_id = $1 AND purpose = $2 AND created_at >= $3`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, userID, purpose, since).Scan(&count)
	return count, database.MapPostgresError(err)
}

// DeleteExpired removes used, blocked, and expired OTPs past a grace period.
func (r *EmailOtpRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM email_otps WHERE expires_at < NOW() - INTERVAL '24 hours'`)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
