package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brightcart/identity/internal/auth"
	"github.com/brightcart/identity/internal/metrics"
	"github.com/brightcart/identity/internal/models"
	pkglogger "github.com/brightcart/identity/pkg/logger"
)

// SessionRepository defines the interface for session storage
type SessionRepository interface {
	Create(ctx context.Context, s *models.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	ListActive(ctx context.Context, userID uuid.UUID) ([]models.Session, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	DeactivateAllExcept(ctx context.Context, userID uuid.UUID, keep uuid.UUID) (int64, error)
	Touch(ctx context.Context, id uuid.UUID, expiresAt time.Time) error
	DeleteExpired(ctx context.Context, grace time.Duration) (int64, error)
}

// SessionService manages device sessions: creation with a concurrent-session
// cap, sliding expiry, listing, and termination. Creation for a user runs
// under that user's mutex so two simultaneous logins cannot both slip past
// the cap.
type SessionService struct {
	repo        SessionRepository
	settings    *SettingsService
	users       UserRepository
	email       EmailService
	locks       *auth.KeyedMutex
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewSessionService creates a new SessionService
func NewSessionService(repo SessionRepository, settings *SettingsService, users UserRepository, email EmailService, locks *auth.KeyedMutex, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *SessionService {
	return &SessionService{
		repo:        repo,
		settings:    settings,
		users:       users,
		email:       email,
		locks:       locks,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// CreatedSession pairs the stored session with its plaintext token, which
// exists only in this response.
type CreatedSession struct {
	Session *models.Session
	Token   string
}

// Create opens a new session for the user. When the user is at the
// concurrent-session cap, the least recently active session is evicted to
// make room.
func (s *SessionService) Create(ctx context.Context, userID uuid.UUID, req models.RequestContext) (*CreatedSession, error) {
	settings, err := s.settings.Resolve(ctx, &userID)
	if err != nil {
		return nil, err
	}

	token, tokenHash, err := auth.GenerateSessionToken()
	if err != nil {
		s.logger.Error("failed to generate session token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	active, err := s.repo.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	// ListActive orders by last activity ascending, so the head is the
	// least recently used.
	for len(active) >= settings.MaxConcurrentSessions {
		victim := active[0]
		if err := s.repo.Deactivate(ctx, victim.ID); err != nil {
			return nil, err
		}
		metrics.SessionEvictionsTotal.Inc()
		s.auditLogger.LogSessionEvent("session_evicted", userID.String(), victim.ID.String(), victim.IPAddress)
		active = active[1:]
	}

	now := time.Now().UTC()
	os, browser, deviceType := parseUserAgent(req.UserAgent)
	session := &models.Session{
		ID:              uuid.New(),
		UserID:          userID,
		TokenHash:       tokenHash,
		IPAddress:       req.IPAddress,
		UserAgent:       req.UserAgent,
		OperatingSystem: os,
		Browser:         browser,
		DeviceType:      deviceType,
		Location:        req.Location,
		Active:          true,
		CreatedAt:       now,
		LastActivityAt:  now,
		ExpiresAt:       now.Add(settings.SessionTimeout),
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, err
	}

	s.auditLogger.LogSessionEvent("session_created", userID.String(), session.ID.String(), req.IPAddress)

	if settings.SendSecurityAlerts {
		s.alertIfNewDevice(ctx, userID, active, session)
	}

	return &CreatedSession{Session: session, Token: token}, nil
}

// Validate resolves a session token, slides the expiry forward, and returns
// the session. Expired or terminated sessions yield ErrSessionNotFound.
func (s *SessionService) Validate(ctx context.Context, token string) (*models.Session, error) {
	session, err := s.repo.GetByTokenHash(ctx, auth.HashSessionToken(token))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if !session.Live(now) {
		return nil, models.ErrSessionNotFound
	}

	settings, err := s.settings.Resolve(ctx, &session.UserID)
	if err != nil {
		return nil, err
	}

	newExpiry := now.Add(settings.SessionTimeout)
	if err := s.repo.Touch(ctx, session.ID, newExpiry); err != nil {
		// The session may have been terminated between lookup and touch
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil, err
		}
		return nil, err
	}
	session.LastActivityAt = now
	session.ExpiresAt = newExpiry
	return session, nil
}

// List returns the user's active sessions, least recently active first.
func (s *SessionService) List(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	sessions, err := s.repo.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Filter sessions that have expired but not yet been swept
	now := time.Now().UTC()
	live := sessions[:0]
	for _, sess := range sessions {
		if sess.Live(now) {
			live = append(live, sess)
		}
	}
	return live, nil
}

// Terminate ends one session. The caller must own it; terminating another
// user's session returns ErrUnauthorizedSessionAccess without revealing
// whether the session exists.
func (s *SessionService) Terminate(ctx context.Context, userID, sessionID uuid.UUID) error {
	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return models.ErrUnauthorizedSessionAccess
	}

	if err := s.repo.Deactivate(ctx, sessionID); err != nil {
		return err
	}
	s.auditLogger.LogSessionEvent("session_terminated", userID.String(), sessionID.String(), session.IPAddress)
	return nil
}

// TerminateAllOthers ends every session except the given one. Used after
// password changes and from the "sign out everywhere" control.
func (s *SessionService) TerminateAllOthers(ctx context.Context, userID, keepSessionID uuid.UUID) (int64, error) {
	n, err := s.repo.DeactivateAllExcept(ctx, userID, keepSessionID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.auditLogger.LogSessionEvent("sessions_terminated_bulk", userID.String(), keepSessionID.String(), "")
	}
	return n, nil
}

// PurgeExpired deletes sessions whose expiry passed more than the grace
// period ago.
func (s *SessionService) PurgeExpired(ctx context.Context, grace time.Duration) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, grace)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged expired sessions", slog.Int64("count", n))
	}
	return n, nil
}

// alertIfNewDevice emails the user when the new session's fingerprint does
// not match any other active session.
func (s *SessionService) alertIfNewDevice(ctx context.Context, userID uuid.UUID, existing []models.Session, created *models.Session) {
	fingerprint := DeviceFingerprint(created.IPAddress, created.UserAgent)
	for _, sess := range existing {
		if DeviceFingerprint(sess.IPAddress, sess.UserAgent) == fingerprint {
			return
		}
	}
	if len(existing) == 0 {
		return
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return
	}
	body := fmt.Sprintf("A new sign-in to your account from %s (%s, %s).",
		created.IPAddress, created.Browser, created.OperatingSystem)
	if err := s.email.SendSecurityAlert(ctx, user.Email, "New sign-in to your account", body); err != nil {
		s.logger.Warn("failed to send new device alert", slog.Any("error", err))
	}
}

// parseUserAgent extracts coarse device facts from a User-Agent string.
// Best effort; unknown agents classify as desktop/unknown.
func parseUserAgent(ua string) (os, browser, deviceType string) {
	os, browser, deviceType = "unknown", "unknown", "desktop"
	lower := strings.ToLower(ua)

	switch {
	case strings.Contains(lower, "android"):
		os, deviceType = "Android", "mobile"
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipod"):
		os, deviceType = "iOS", "mobile"
	case strings.Contains(lower, "ipad"):
		os, deviceType = "iOS", "tablet"
	case strings.Contains(lower, "windows"):
		os = "Windows"
	case strings.Contains(lower, "mac os"):
		os = "macOS"
	case strings.Contains(lower, "linux"):
		os = "Linux"
	}

	switch {
	case strings.Contains(lower, "edg/"):
		browser = "Edge"
	case strings.Contains(lower, "chrome/"):
		browser = "Chrome"
	case strings.Contains(lower, "firefox/"):
		browser = "Firefox"
	case strings.Contains(lower, "safari/"):
		browser = "Safari"
	}
	return os, browser, deviceType
}
