package repositories

import (
	"context"
	"time"

	"github.com/brightcart/identity/internal/database"
	"github.com/brightcart/identity/internal/models"
	"github.com/google/uuid"
)

// MfaAuditRepository handles database operations for MFA audit entries
type MfaAuditRepository struct {
	db *database.DB
}

// NewMfaAuditRepository creates a new MfaAuditRepository
func NewMfaAuditRepository(db *database.DB) *MfaAuditRepository {
	return &MfaAuditRepository{db: db}
}

// Record appends an audit entry.
func (r *MfaAuditRepository) Record(ctx context.Context, e *models.MfaAuditEntry) error {
	query := `
		INSERT INTO mfa_audit_log (user_id, method, action, success, reason, ip_address, user_agent, risk_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		e.UserID, string(e.Method), e.Action, e.Success, e.Reason,
		e.IPAddress, e.UserAgent, e.RiskScore,
	).Scan(&e.ID, &e.CreatedAt)

	return database.MapPostgresError(err)
}

// CountConsecutiveFailures returns how many verification failures a user has
// accrued since their last success, bounded by the window. Any success in
// the window resets the streak.
func (r *MfaAuditRepository) CountConsecutiveFailures(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM mfa_audit_log
		WHERE user_id = $1
		  AND success = FALSE
		  AND action = 'verify'
		  AND created_at >= GREATEST($2, COALESCE(
			(SELECT MAX(created_at) FROM mfa_audit_log
			 WHERE user_id = $1 AND success = TRUE AND action = 'verify'),
			$2))
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, userID, since).Scan(&count)
	return count, database.MapPostgresError(err)
}
