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

// LockoutRepository handles database operations for lockout records
type LockoutRepository struct {
	db *database.DB
}

// NewLockoutRepository creates a new LockoutRepository
func NewLockoutRepository(db *database.DB) *LockoutRepository {
	return &LockoutRepository{db: db}
}

const lockoutColumns = `
	id, user_id, lockout_type, reason, started_at, ends_at, level,
	failed_count, triggering_ip, active, release_reason, released_by,
	created_by, created_at, updated_at`

// GetActive returns the single active lockout for a user, or nil if none.
func (r *LockoutRepository) GetActive(ctx context.Context, userID uuid.UUID) (*models.LockoutRecord, error) {
	query := `SELECT ` + lockoutColumns + ` FROM lockout_records WHERE user_id = $1 AND active = TRUE`

	record, err := scanLockout(r.db.Pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return record, nil
}

// GetLastForUser returns the most recent lockout record regardless of state,
// used to determine the escalation level for a re-offense.
func (r *LockoutRepository) GetLastForUser(ctx context.Context, userID uuid.UUID) (*models.LockoutRecord, error) {
	query := `SELECT ` + lockoutColumns + ` FROM lockout_records WHERE user_id = $1 ORDER BY started_at DESC LIMIT 1`

	record, err := scanLockout(r.db.Pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return record, nil
}

// Create inserts a new lockout record. The partial unique index on
// (user_id) WHERE active rejects a second concurrent escalation; callers map
// models.ErrConflict to "someone else already locked this user".
func (r *LockoutRepository) Create(ctx context.Context, record *models.LockoutRecord) error {
	query := `
		INSERT INTO lockout_records (user_id, lockout_type, reason, started_at, ends_at, level, failed_count, triggering_ip, active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		record.UserID,
		record.LockoutType,
		record.Reason,
		record.StartedAt,
		record.EndsAt,
		record.Level,
		record.FailedCount,
		record.TriggeringIP,
		record.Active,
		record.CreatedBy,
	).Scan(&record.ID, &record.CreatedAt, &record.UpdatedAt)

	return database.MapPostgresError(err)
}

// Release closes an active lockout with the given reason. Returns
// models.ErrNotFound if the record was already released.
func (r *LockoutRepository) Release(ctx context.Context, id uuid.UUID, releaseReason string, releasedBy *uuid.UUID) error {
	query := `
		UPDATE lockout_records
		SET active = FALSE, release_reason = $2, released_by = $3, updated_at = NOW()
		WHERE id = $1 AND active = TRUE
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, releaseReason, releasedBy)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteOlderThan purges lockout history past the retention horizon. Active
// records are never purged.
func (r *LockoutRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM lockout_records WHERE active = FALSE AND started_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

func scanLockout(row pgx.Row) (*models.LockoutRecord, error) {
	var l models.LockoutRecord
	err := row.Scan(
		&l.ID, &l.UserID, &l.LockoutType, &l.Reason, &l.StartedAt, &l.EndsAt,
		&l.Level, &l.FailedCount, &l.TriggeringIP, &l.Active, &l.ReleaseReason,
		&l.ReleasedBy, &l.CreatedBy, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
