package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/brightcart/identity/internal/auth"
	"github.com/brightcart/identity/internal/models"
)

func newTestSessionService(sessionRepo SessionRepository, settingsRepo SecuritySettingsRepository, users UserRepository, email EmailService) *SessionService {
	if settingsRepo == nil {
		settingsRepo = &MockSecuritySettingsRepository{}
	}
	if users == nil {
		users = &MockUserRepository{}
	}
	if email == nil {
		email = &MockEmailService{}
	}
	return NewSessionService(sessionRepo, newTestSettingsService(settingsRepo), users, email,
		auth.NewKeyedMutex(), slog.Default(), testAuditLogger())
}

func activeSession(userID uuid.UUID, lastActivity time.Time) models.Session {
	return models.Session{
		ID:             uuid.New(),
		UserID:         userID,
		IPAddress:      "203.0.113.10",
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) Firefox/127.0",
		Active:         true,
		CreatedAt:      lastActivity.Add(-time.Hour),
		LastActivityAt: lastActivity,
		ExpiresAt:      time.Now().UTC().Add(time.Hour),
	}
}

func TestSessionService_Create_StoresParsedDeviceFacts(t *testing.T) {
	userID := uuid.New()
	var stored *models.Session
	sessionRepo := &MockSessionRepository{
		CreateFunc: func(ctx context.Context, s *models.Session) error {
			stored = s
			return nil
		},
	}

	svc := newTestSessionService(sessionRepo, nil, nil, nil)

	req := models.RequestContext{
		IPAddress: "203.0.113.10",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/126.0 Safari/537.36",
	}
	created, err := svc.Create(context.Background(), userID, req)

	assert.NoError(t, err)
	assert.NotEmpty(t, created.Token)
	assert.Equal(t, auth.HashSessionToken(created.Token), stored.TokenHash)
	assert.Equal(t, "Windows", stored.OperatingSystem)
	assert.Equal(t, "Chrome", stored.Browser)
	assert.Equal(t, "desktop", stored.DeviceType)
	assert.True(t, stored.Active)
	assert.WithinDuration(t, stored.CreatedAt.Add(60*time.Minute), stored.ExpiresAt, time.Second)
}

func TestSessionService_Create_EvictsLeastRecentlyUsedAtCap(t *testing.T) {
	userID := uuid.New()
	now := time.Now().UTC()

	// Capacity 5; oldest activity first, matching the repository ordering
	existing := []models.Session{
		activeSession(userID, now.Add(-50*time.Minute)),
		activeSession(userID, now.Add(-40*time.Minute)),
		activeSession(userID, now.Add(-30*time.Minute)),
		activeSession(userID, now.Add(-20*time.Minute)),
		activeSession(userID, now.Add(-10*time.Minute)),
	}
	lruID := existing[0].ID

	var evicted []uuid.UUID
	sessionRepo := &MockSessionRepository{
		ListActiveFunc: func(ctx context.Context, id uuid.UUID) ([]models.Session, error) {
			return existing, nil
		},
		DeactivateFunc: func(ctx context.Context, id uuid.UUID) error {
			evicted = append(evicted, id)
			return nil
		},
	}

	svc := newTestSessionService(sessionRepo, nil, nil, nil)

	created, err := svc.Create(context.Background(), userID, testRequestContext())

	assert.NoError(t, err)
	assert.NotNil(t, created)
	assert.Equal(t, []uuid.UUID{lruID}, evicted)
}

func TestSessionService_Create_BelowCapEvictsNothing(t *testing.T) {
	userID := uuid.New()
	now := time.Now().UTC()
	existing := []models.Session{
		activeSession(userID, now.Add(-30*time.Minute)),
		activeSession(userID, now.Add(-10*time.Minute)),
	}

	evicted := false
	sessionRepo := &MockSessionRepository{
		ListActiveFunc: func(ctx context.Context, id uuid.UUID) ([]models.Session, error) {
			return existing, nil
		},
		DeactivateFunc: func(ctx context.Context, id uuid.UUID) error {
			evicted = true
			return nil
		},
	}

	svc := newTestSessionService(sessionRepo, nil, nil, nil)

	_, err := svc.Create(context.Background(), userID, testRequestContext())

	assert.NoError(t, err)
	assert.False(t, evicted)
}

func TestSessionService_Create_CapOfOneKeepsOnlyNewest(t *testing.T) {
	userID := uuid.New()
	override := models.DefaultSecuritySettings()
	override.UserID = &userID
	override.MaxConcurrentSessions = 1

	settingsRepo := &MockSecuritySettingsRepository{
		GetByUserIDFunc: func(ctx context.Context, id uuid.UUID) (*models.SecuritySettings, error) {
			return &override, nil
		},
	}
	now := time.Now().UTC()
	existing := []models.Session{activeSession(userID, now.Add(-5 * time.Minute))}

	var evicted []uuid.UUID
	sessionRepo := &MockSessionRepository{
		ListActiveFunc: func(ctx context.Context, id uuid.UUID) ([]models.Session, error) {
			return existing, nil
		},
		DeactivateFunc: func(ctx context.Context, id uuid.UUID) error {
			evicted = append(evicted, id)
			return nil
		},
	}

	svc := newTestSessionService(sessionRepo, settingsRepo, nil, nil)

	_, err := svc.Create(context.Background(), userID, testRequestContext())

	assert.NoError(t, err)
	assert.Len(t, evicted, 1)
	assert.Equal(t, existing[0].ID, evicted[0])
}

func TestSessionService_Create_NewDeviceAlert(t *testing.T) {
	user := NewTestUser("user@example.com", "correct-horse")
	now := time.Now().UTC()
	existing := []models.Session{activeSession(user.ID, now.Add(-10 * time.Minute))}

	sessionRepo := &MockSessionRepository{
		ListActiveFunc: func(ctx context.Context, id uuid.UUID) ([]models.Session, error) {
			return existing, nil
		},
	}
	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.User, error) {
			return user, nil
		},
	}
	var alertEmail string
	email := &MockEmailService{
		SendSecurityAlertFunc: func(ctx context.Context, to, subject, body string) error {
			alertEmail = to
			return nil
		},
	}

	svc := newTestSessionService(sessionRepo, nil, users, email)

	// A different IP and agent than the existing session
	req := models.RequestContext{
		IPAddress: "198.51.100.7",
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0) Safari/604.1",
	}
	_, err := svc.Create(context.Background(), user.ID, req)

	assert.NoError(t, err)
	assert.Equal(t, user.Email, alertEmail)
}

func TestSessionService_Create_KnownDeviceNoAlert(t *testing.T) {
	user := NewTestUser("user@example.com", "correct-horse")
	now := time.Now().UTC()
	existing := []models.Session{activeSession(user.ID, now.Add(-10 * time.Minute))}

	sessionRepo := &MockSessionRepository{
		ListActiveFunc: func(ctx context.Context, id uuid.UUID) ([]models.Session, error) {
			return existing, nil
		},
	}
	alerted := false
	email := &MockEmailService{
		SendSecurityAlertFunc: func(ctx context.Context, to, subject, body string) error {
			alerted = true
			return nil
		},
	}

	svc := newTestSessionService(sessionRepo, nil, nil, email)

	// Same IP and agent as the existing session
	req := models.RequestContext{
		IPAddress: existing[0].IPAddress,
		UserAgent: existing[0].UserAgent,
	}
	_, err := svc.Create(context.Background(), user.ID, req)

	assert.NoError(t, err)
	assert.False(t, alerted)
}

func TestSessionService_Validate_SlidesExpiry(t *testing.T) {
	userID := uuid.New()
	session := activeSession(userID, time.Now().UTC().Add(-30*time.Minute))
	session.ExpiresAt = time.Now().UTC().Add(5 * time.Minute)

	var touchedExpiry time.Time
	sessionRepo := &MockSessionRepository{
		GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.Session, error) {
			return &session, nil
		},
		TouchFunc: func(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
			touchedExpiry = expiresAt
			return nil
		},
	}

	svc := newTestSessionService(sessionRepo, nil, nil, nil)

	result, err := svc.Validate(context.Background(), "some-token")

	assert.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(60*time.Minute), touchedExpiry, 5*time.Second)
	assert.Equal(t, touchedExpiry, result.ExpiresAt)
}

func TestSessionService_Validate_ExpiredSession(t *testing.T) {
	userID := uuid.New()
	session := activeSession(userID, time.Now().UTC().Add(-2*time.Hour))
	session.ExpiresAt = time.Now().UTC().Add(-time.Minute)

	touched := false
	sessionRepo := &MockSessionRepository{
		GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.Session, error) {
			return &session, nil
		},
		TouchFunc: func(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
			touched = true
			return nil
		},
	}

	svc := newTestSessionService(sessionRepo, nil, nil, nil)

	result, err := svc.Validate(context.Background(), "some-token")

	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	assert.Nil(t, result)
	assert.False(t, touched)
}

func TestSessionService_Validate_UnknownToken(t *testing.T) {
	svc := newTestSessionService(&MockSessionRepository{}, nil, nil, nil)

	result, err := svc.Validate(context.Background(), "bogus")

	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	assert.Nil(t, result)
}

func TestSessionService_List_FiltersExpired(t *testing.T) {
	userID := uuid.New()
	live := activeSession(userID, time.Now().UTC())
	stale := activeSession(userID, time.Now().UTC().Add(-2*time.Hour))
	stale.ExpiresAt = time.Now().UTC().Add(-time.Minute)

	sessionRepo := &MockSessionRepository{
		ListActiveFunc: func(ctx context.Context, id uuid.UUID) ([]models.Session, error) {
			return []models.Session{stale, live}, nil
		},
	}

	svc := newTestSessionService(sessionRepo, nil, nil, nil)

	sessions, err := svc.List(context.Background(), userID)

	assert.NoError(t, err)
	assert.Len(t, sessions, 1)
	assert.Equal(t, live.ID, sessions[0].ID)
}

func TestSessionService_Terminate_OwnSession(t *testing.T) {
	userID := uuid.New()
	session := activeSession(userID, time.Now().UTC())

	var deactivated uuid.UUID
	sessionRepo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Session, error) {
			return &session, nil
		},
		DeactivateFunc: func(ctx context.Context, id uuid.UUID) error {
			deactivated = id
			return nil
		},
	}

	svc := newTestSessionService(sessionRepo, nil, nil, nil)

	err := svc.Terminate(context.Background(), userID, session.ID)

	assert.NoError(t, err)
	assert.Equal(t, session.ID, deactivated)
}

func TestSessionService_Terminate_OtherUsersSession(t *testing.T) {
	session := activeSession(uuid.New(), time.Now().UTC())

	deactivated := false
	sessionRepo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Session, error) {
			return &session, nil
		},
		DeactivateFunc: func(ctx context.Context, id uuid.UUID) error {
			deactivated = true
			return nil
		},
	}

	svc := newTestSessionService(sessionRepo, nil, nil, nil)

	err := svc.Terminate(context.Background(), uuid.New(), session.ID)

	assert.ErrorIs(t, err, models.ErrUnauthorizedSessionAccess)
	assert.False(t, deactivated)
}

func TestSessionService_TerminateAllOthers(t *testing.T) {
	userID := uuid.New()
	keep := uuid.New()

	var keptID uuid.UUID
	sessionRepo := &MockSessionRepository{
		DeactivateAllExceptFunc: func(ctx context.Context, id uuid.UUID, k uuid.UUID) (int64, error) {
			keptID = k
			return 3, nil
		},
	}

	svc := newTestSessionService(sessionRepo, nil, nil, nil)

	n, err := svc.TerminateAllOthers(context.Background(), userID, keep)

	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, keep, keptID)
}

func TestParseUserAgent(t *testing.T) {
	os, browser, device := parseUserAgent("Mozilla/5.0 (Linux; Android 14) Chrome/126.0 Mobile Safari/537.36")
	assert.Equal(t, "Android", os)
	assert.Equal(t, "Chrome", browser)
	assert.Equal(t, "mobile", device)

	os, browser, device = parseUserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) Version/17.5 Safari/605.1.15")
	assert.Equal(t, "macOS", os)
	assert.Equal(t, "Safari", browser)
	assert.Equal(t, "desktop", device)

	os, browser, device = parseUserAgent("curl/8.5.0")
	assert.Equal(t, "unknown", os)
	assert.Equal(t, "unknown", browser)
	assert.Equal(t, "desktop", device)
}
