package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/brightcart/identity/internal/database"
	"github.com/brightcart/identity/internal/models"
	"github.com/brightcart/identity/pkg/auth"
)

// TestDB manages a PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("identity"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	// Migrations run over a stdlib connection, same as the server does at boot
	if err := database.Migrate(connStr); err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         &database.DB{Pool: pool},
	}, nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation. The global policy
// row goes with them, so callers must reseed it before exercising logins.
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"mfa_audit_log",
		"email_otps",
		"mfa_backup_codes",
		"mfa_settings",
		"sessions",
		"lockout_records",
		"login_attempts",
		"security_settings",
		"users",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// SeedUser inserts a test user with hashed password
func SeedUser(ctx context.Context, pool *pgxpool.Pool, email, password, role string) (*models.User, error) {
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO users (email, password_hash, name, email_verified, role, status, created_at, updated_at)
		VALUES ($1, $2, 'Test User', true, $3, 'active', NOW(), NOW())
		RETURNING id, email, password_hash, name, email_verified, role, status, created_at, updated_at
	`

	var user models.User
	err = pool.QueryRow(ctx, query, email, hashedPassword, role).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.EmailVerified,
		&user.Role,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	return &user, nil
}

// SeedFailedAttempts inserts n recent failed login attempts for a user from
// the given IP, backdated one second apart so ordering is stable.
func SeedFailedAttempts(ctx context.Context, pool *pgxpool.Pool, userID uuid.UUID, email, ip string, n int) error {
	query := `
		INSERT INTO login_attempts (user_id, email, ip_address, user_agent, device_fingerprint, success, failure_reason, attempted_at, expires_at)
		VALUES ($1, $2, $3, 'integration-test', '', false, $4, NOW() - make_interval(secs => $5), NOW() + INTERVAL '90 days')
	`
	for i := 0; i < n; i++ {
		if _, err := pool.Exec(ctx, query, userID, email, ip, models.FailureInvalidCredentials, i+1); err != nil {
			return fmt.Errorf("failed to insert login attempt: %w", err)
		}
	}
	return nil
}

// SeedActiveLockout inserts an active lockout record ending at the given time
func SeedActiveLockout(ctx context.Context, pool *pgxpool.Pool, userID uuid.UUID, endsAt time.Time, level int) (uuid.UUID, error) {
	query := `
		INSERT INTO lockout_records (user_id, lockout_type, reason, started_at, ends_at, level, failed_count, triggering_ip, active, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), $4, $5, 5, '203.0.113.10', true, NOW(), NOW())
		RETURNING id
	`
	var id uuid.UUID
	err := pool.QueryRow(ctx, query, userID, models.LockoutTypeAutomatic, models.LockoutReasonFailedAttempts, endsAt, level).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert lockout record: %w", err)
	}
	return id, nil
}
