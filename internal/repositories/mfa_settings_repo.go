package repositories

import (
	"context"

	"github.com/brightcart/identity/internal/database"
	"github.com/brightcart/identity/internal/models"
	"github.com/google/uuid"
)

// MfaSettingsRepository handles database operations for per-user MFA
// configuration
type MfaSettingsRepository struct {
	db *database.DB
}

// NewMfaSettingsRepository creates a new MfaSettingsRepository
func NewMfaSettingsRepository(db *database.DB) *MfaSettingsRepository {
	return &MfaSettingsRepository{db: db}
}

const mfaSettingsColumns = `
	id, user_id, enabled, totp_enabled, backup_codes_enabled,
	email_otp_enabled, totp_secret, totp_secret_nonce,
	backup_codes_remaining, last_used_at, last_totp_used_at, enabled_at,
	disabled_at, enforced, enforcement_grace_end, created_at, updated_at`

// GetByUserID returns the MFA settings row for a user.
func (r *MfaSettingsRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.MfaSettings, error) {
	query := `SELECT ` + mfaSettingsColumns + ` FROM mfa_settings WHERE user_id = $1`

	var m models.MfaSettings
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&m.ID, &m.UserID, &m.Enabled, &m.TotpEnabled, &m.BackupCodesEnabled,
		&m.EmailOtpEnabled, &m.TotpSecret, &m.TotpSecretNonce,
		&m.BackupCodesRemaining, &m.LastUsedAt, &m.LastTotpUsedAt, &m.EnabledAt,
		&m.DisabledAt, &m.Enforced, &m.EnforcementGraceEnd, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &m, nil
}

// Create inserts the settings row on first MFA setup.
func (r *MfaSettingsRepository) Create(ctx context.Context, m *models.MfaSettings) error {
	query := `
		INSERT INTO mfa_settings (user_id, enabled, totp_enabled, backup_codes_enabled, email_otp_enabled, totp_secret, totp_secret_nonce, backup_codes_remaining, enforced, enforcement_grace_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		m.UserID, m.Enabled, m.TotpEnabled, m.BackupCodesEnabled,
		m.EmailOtpEnabled, m.TotpSecret, m.TotpSecretNonce,
		m.BackupCodesRemaining, m.Enforced, m.EnforcementGraceEnd,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)

	return database.MapPostgresError(err)
}

// Update persists mutated MFA settings.
func (r *MfaSettingsRepository) Update(ctx context.Context, m *models.MfaSettings) error {
	query := `
		UPDATE mfa_settings SET
			enabled = $2, totp_enabled = $3, backup_codes_enabled = $4,
			email_otp_enabled = $5, totp_secret = $6, totp_secret_nonce = $7,
			backup_codes_remaining = $8, last_used_at = $9,
			last_totp_used_at = $10, enabled_at = $11, disabled_at = $12,
			enforced = $13, enforcement_grace_end = $14, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		m.ID, m.Enabled, m.TotpEnabled, m.BackupCodesEnabled,
		m.EmailOtpEnabled, m.TotpSecret, m.TotpSecretNonce,
		m.BackupCodesRemaining, m.LastUsedAt,
		m.LastTotpUsedAt, m.EnabledAt, m.DisabledAt,
		m.Enforced, m.EnforcementGraceEnd,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
