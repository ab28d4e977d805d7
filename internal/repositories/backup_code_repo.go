package repositories

import (
	"context"
	"time"

	"github.com/brightcart/identity/internal/database"
	"github.com/brightcart/identity/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BackupCodeRepository handles database operations for MFA backup codes
type BackupCodeRepository struct {
	db *database.DB
}

// NewBackupCodeRepository creates a new BackupCodeRepository
func NewBackupCodeRepository(db *database.DB) *BackupCodeRepository {
	return &BackupCodeRepository{db: db}
}

// CreateBatch inserts a batch of hashed codes and removes every code from
// prior batches, used or not. A new batch always supersedes the old one.
func (r *BackupCodeRepository) CreateBatch(ctx context.Context, userID uuid.UUID, batchID uuid.UUID, codeHashes []string, expiresAt *time.Time) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM mfa_backup_codes WHERE user_id = $1 AND batch_id <> $2`,
			userID, batchID); err != nil {
			return database.MapPostgresError(err)
		}

		for _, hash := range codeHashes {
			if _, err := tx.Exec(ctx,
				`INSERT INTO mfa_backup_codes (user_id, code_hash, batch_id, expires_at) VALUES ($1, $2, $3, $4)`,
				userID, hash, batchID, expiresAt); err != nil {
				return database.MapPostgresError(err)
			}
		}
		return nil
	})
}

// GetUsable returns the unused, unexpired codes of the user's current batch.
func (r *BackupCodeRepository) GetUsable(ctx context.Context, userID uuid.UUID) ([]models.BackupCode, error) {
	query := `
		SELECT id, user_id, code_hash, batch_id, used, used_at, used_from, expires_at, created_at
		FROM mfa_backup_codes
		WHERE user_id = $1 AND used = FALSE AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at
	`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	var codes []models.BackupCode
	for rows.Next() {
		var c models.BackupCode
		if err := rows.Scan(&c.ID, &c.UserID, &c.CodeHash, &c.BatchID, &c.Used, &c.UsedAt, &c.UsedFrom, &c.ExpiresAt, &c.CreatedAt); err != nil {
			return nil, database.MapPostgresError(err)
		}
		codes = append(codes, c)
	}
	return codes, database.MapPostgresError(rows.Err())
}

// MarkUsed consumes a code. The used-flag guard in the WHERE clause makes
// consumption single-use even under concurrent submissions: exactly one
// caller sees a row affected.
func (r *BackupCodeRepository) MarkUsed(ctx context.Context, id uuid.UUID, fromIP string) error {
	query := `
		UPDATE mfa_backup_codes
		SET used = TRUE, used_at = NOW(), used_from = $2
		WHERE id = $1 AND used = FALSE
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, fromIP)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrMfaCodeInvalid
	}
	return nil
}

// CountUsable returns how many codes remain usable for a user.
func (r *BackupCodeRepository) CountUsable(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM mfa_backup_codes
		WHERE user_id = $1 AND used = FALSE AND (expires_at IS NULL OR expires_at > NOW())
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(&count)
	return count, database.MapPostgresError(err)
}

// DeleteForUser removes all of a user's codes (MFA disable).
func (r *BackupCodeRepository) DeleteForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID)
	return database.MapPostgresError(err)
}
