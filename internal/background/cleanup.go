package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/brightcart/identity/internal/services"
)

// CleanupManager periodically purges expired login attempts, stale lockout
// history, expired email OTPs, and dead sessions.
type CleanupManager struct {
	attempts     *services.AttemptService
	lockouts     *services.LockoutService
	sessions     *services.SessionService
	otps         services.EmailOtpRepository
	logger       *slog.Logger
	interval     time.Duration
	sessionGrace time.Duration
	stopCh       chan struct{}
}

// Lockout history retention; active records are never touched.
const lockoutHistoryRetention = 180 * 24 * time.Hour

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	attempts *services.AttemptService,
	lockouts *services.LockoutService,
	sessions *services.SessionService,
	otps services.EmailOtpRepository,
	logger *slog.Logger,
	interval time.Duration,
	sessionGrace time.Duration,
) *CleanupManager {
	return &CleanupManager{
		attempts:     attempts,
		lockouts:     lockouts,
		sessions:     sessions,
		otps:         otps,
		logger:       logger,
		interval:     interval,
		sessionGrace: sessionGrace,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup purges each store in turn. One failing sweep does not stop the
// others.
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if _, err := cm.attempts.PurgeExpired(cleanupCtx); err != nil {
		cm.logger.Error("failed to purge expired login attempts", slog.Any("error", err))
	}

	if _, err := cm.lockouts.PurgeOld(cleanupCtx, lockoutHistoryRetention); err != nil {
		cm.logger.Error("failed to purge old lockout records", slog.Any("error", err))
	}

	if _, err := cm.sessions.PurgeExpired(cleanupCtx, cm.sessionGrace); err != nil {
		cm.logger.Error("failed to purge expired sessions", slog.Any("error", err))
	}

	if n, err := cm.otps.DeleteExpired(cleanupCtx); err != nil {
		cm.logger.Error("failed to purge expired email otps", slog.Any("error", err))
	} else if n > 0 {
		cm.logger.Info("purged expired email otps", slog.Int64("count", n))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
