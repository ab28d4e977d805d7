package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brightcart/identity/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	connectTimeout     = 10 * time.Second
	healthCheckTimeout = 2 * time.Second
)

// DB wraps the pgx connection pool shared by the repositories.
type DB struct {
	Pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewConnection builds the pool from config and verifies it answers before
// anything takes traffic.
func NewConnection(cfg *config.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database pool ready",
		slog.String("host", cfg.Host),
		slog.Int("max_conns", int(cfg.MaxConns)),
	)

	return &DB{Pool: pool, logger: logger}, nil
}

// Close drains the pool.
func (db *DB) Close() {
	if db.logger != nil {
		db.logger.Info("closing database pool")
	}
	db.Pool.Close()
}

// HealthCheck answers whether the database responds within a short budget.
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
