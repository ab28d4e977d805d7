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

// SessionRepository handles database operations for authenticated sessions
type SessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `
	id, user_id, token_hash, refresh_hash, ip_address, user_agent,
	operating_system, browser, device_type, location, active, created_at,
	last_activity_at, expires_at, updated_at`

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO sessions (user_id, token_hash, refresh_hash, ip_address, user_agent, operating_system, browser, device_type, location, active, last_activity_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10, $11)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		s.UserID, s.TokenHash, s.RefreshHash, s.IPAddress, s.UserAgent,
		s.OperatingSystem, s.Browser, s.DeviceType, s.Location,
		s.LastActivityAt, s.ExpiresAt,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)

	return database.MapPostgresError(err)
}

// GetByID returns a session by its identifier.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	s, err := scanSession(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return s, nil
}

// GetByTokenHash returns a session by its hashed opaque token.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token_hash = $1`

	s, err := scanSession(r.db.Pool.QueryRow(ctx, query, tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return s, nil
}

// ListActive returns live sessions ordered oldest-activity-first, so the
// head of the list is the next eviction candidate.
func (r *SessionRepository) ListActive(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE user_id = $1 AND active = TRUE AND expires_at > NOW()
		ORDER BY last_activity_at ASC`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, database.MapPostgresError(err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, database.MapPostgresError(rows.Err())
}

// Deactivate marks a session inactive.
func (r *SessionRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE sessions SET active = FALSE, updated_at = NOW() WHERE id = $1 AND active = TRUE`

	tag, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// DeactivateAllExcept terminates every active session of a user except the
// given one (which may be uuid.Nil to terminate all). Returns the count.
func (r *SessionRepository) DeactivateAllExcept(ctx context.Context, userID uuid.UUID, keep uuid.UUID) (int64, error) {
	query := `UPDATE sessions SET active = FALSE, updated_at = NOW() WHERE user_id = $1 AND active = TRUE AND id <> $2`

	tag, err := r.db.Pool.Exec(ctx, query, userID, keep)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// Touch updates last-activity and slides the expiry window forward.
func (r *SessionRepository) Touch(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
	query := `
		UPDATE sessions
		SET last_activity_at = NOW(), expires_at = $2, updated_at = NOW()
		WHERE id = $1 AND active = TRUE
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, expiresAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// DeleteExpired removes sessions whose expiry passed more than the grace
// period ago.
func (r *SessionRepository) DeleteExpired(ctx context.Context, grace time.Duration) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM sessions WHERE expires_at < NOW() - $1::interval`,
		grace.String())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID, &s.UserID, &s.TokenHash, &s.RefreshHash, &s.IPAddress,
		&s.UserAgent, &s.OperatingSystem, &s.Browser, &s.DeviceType,
		&s.Location, &s.Active, &s.CreatedAt, &s.LastActivityAt,
		&s.ExpiresAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
