package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/brightcart/identity/internal/models"
	pkglogger "github.com/brightcart/identity/pkg/logger"
)

// SecuritySettingsRepository defines the interface for security policy storage
type SecuritySettingsRepository interface {
	GetGlobalDefault(ctx context.Context) (*models.SecuritySettings, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.SecuritySettings, error)
	Upsert(ctx context.Context, settings *models.SecuritySettings) error
	SoftDelete(ctx context.Context, userID uuid.UUID) error
	EnsureGlobalDefault(ctx context.Context) error
}

// SettingsService resolves and manages per-user security policy. Resolution
// order: user override, then global default, then compiled defaults as a
// last resort when the store row is missing but the call must not fail.
type SettingsService struct {
	repo        SecuritySettingsRepository
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewSettingsService creates a new SettingsService
func NewSettingsService(repo SecuritySettingsRepository, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *SettingsService {
	return &SettingsService{
		repo:        repo,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// EnsureGlobalDefault seeds the global policy row if it does not exist.
// Called once at startup; a missing global row after this is fatal.
func (s *SettingsService) EnsureGlobalDefault(ctx context.Context) error {
	if err := s.repo.EnsureGlobalDefault(ctx); err != nil {
		return err
	}
	if _, err := s.repo.GetGlobalDefault(ctx); err != nil {
		return models.ErrConfigurationMissing
	}
	return nil
}

// Resolve returns the effective policy for a user. Pass a nil userID (or one
// with no override) to get the global default. Soft-deleted overrides are
// invisible to resolution.
func (s *SettingsService) Resolve(ctx context.Context, userID *uuid.UUID) (*models.SecuritySettings, error) {
	if userID != nil {
		settings, err := s.repo.GetByUserID(ctx, *userID)
		if err == nil {
			return settings, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			if errors.Is(err, models.ErrStoreUnavailable) {
				return nil, err
			}
			s.logger.Error("failed to resolve user security settings",
				slog.String("user_id", userID.String()),
				slog.Any("error", err))
			return nil, err
		}
	}

	settings, err := s.repo.GetGlobalDefault(ctx)
	if err != nil {
		if errors.Is(err, models.ErrConfigurationMissing) {
			s.logger.Error("global security settings row missing, serving compiled defaults")
			defaults := models.DefaultSecuritySettings()
			return &defaults, nil
		}
		return nil, err
	}
	return settings, nil
}

// Update validates and stores a per-user policy override. Admin-only at the
// transport layer.
func (s *SettingsService) Update(ctx context.Context, userID uuid.UUID, settings *models.SecuritySettings, updatedBy uuid.UUID) (*models.SecuritySettings, error) {
	settings.UserID = &userID
	settings.IsGlobalDefault = false
	settings.Deleted = false

	if err := settings.Validate(); err != nil {
		return nil, errors.Join(models.ErrBadRequest, err)
	}

	if err := s.repo.Upsert(ctx, settings); err != nil {
		s.logger.Error("failed to update security settings",
			slog.String("user_id", userID.String()),
			slog.Any("error", err))
		return nil, err
	}

	s.auditLogger.LogAccountAction("security_settings_updated", userID.String(), "", map[string]string{
		"updated_by": updatedBy.String(),
	})

	return s.repo.GetByUserID(ctx, userID)
}

// UpdateGlobal validates and stores the global default policy.
func (s *SettingsService) UpdateGlobal(ctx context.Context, settings *models.SecuritySettings, updatedBy uuid.UUID) (*models.SecuritySettings, error) {
	settings.UserID = nil
	settings.IsGlobalDefault = true
	settings.Deleted = false

	if err := settings.Validate(); err != nil {
		return nil, errors.Join(models.ErrBadRequest, err)
	}

	if err := s.repo.Upsert(ctx, settings); err != nil {
		s.logger.Error("failed to update global security settings", slog.Any("error", err))
		return nil, err
	}

	s.auditLogger.LogAccountAction("global_security_settings_updated", "", "", map[string]string{
		"updated_by": updatedBy.String(),
	})

	return s.repo.GetGlobalDefault(ctx)
}

// Reset soft-deletes a user's override so the global default applies again.
// Resetting a user who has no override is a no-op, not an error.
func (s *SettingsService) Reset(ctx context.Context, userID uuid.UUID, resetBy uuid.UUID) error {
	if err := s.repo.SoftDelete(ctx, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}

	s.auditLogger.LogAccountAction("security_settings_reset", userID.String(), "", map[string]string{
		"reset_by": resetBy.String(),
	})
	return nil
}
