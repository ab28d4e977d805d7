package repositories

import (
	"context"
	"strings"

	"github.com/brightcart/identity/internal/database"
	"github.com/brightcart/identity/internal/models"
	"github.com/google/uuid"
)

// UserRepository handles database operations for user accounts
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, email, password_hash, name, email_verified, role, status,
	password_changed_at, created_at, updated_at`

// GetByEmail returns a user by normalized email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	var u models.User
	err := r.db.Pool.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email))).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.EmailVerified,
		&u.Role, &u.Status, &u.PasswordChangedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &u, nil
}

// GetByID returns a user by identifier.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	var u models.User
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.EmailVerified,
		&u.Role, &u.Status, &u.PasswordChangedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &u, nil
}

// Create inserts a new user account.
func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (email, password_hash, name, email_verified, role, status, password_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		strings.ToLower(strings.TrimSpace(u.Email)), u.PasswordHash, u.Name,
		u.EmailVerified, u.Role, u.Status, u.PasswordChangedAt,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)

	return database.MapPostgresError(err)
}
