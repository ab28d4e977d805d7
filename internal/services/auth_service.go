package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brightcart/identity/internal/auth"
	"github.com/brightcart/identity/internal/models"
	pkgauth "github.com/brightcart/identity/pkg/auth"
	pkglogger "github.com/brightcart/identity/pkg/logger"
)

// UserRepository defines the interface for user lookup
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	Create(ctx context.Context, u *models.User) error
}

// AuthService orchestrates the full login flow: lockout pre-check,
// credential verification, attempt recording and risk scoring, lockout
// evaluation, MFA challenge, and session creation. Business outcomes
// (locked, invalid credentials, MFA pending) come back as AuthOutcome
// values; errors are reserved for infrastructure and account-state
// problems.
type AuthService struct {
	users       UserRepository
	attempts    *AttemptService
	lockouts    *LockoutService
	mfa         *MfaService
	sessions    *SessionService
	tm          *auth.TokenManager
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserRepository,
	attempts *AttemptService,
	lockouts *LockoutService,
	mfa *MfaService,
	sessions *SessionService,
	tm *auth.TokenManager,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		users:       users,
		attempts:    attempts,
		lockouts:    lockouts,
		mfa:         mfa,
		sessions:    sessions,
		tm:          tm,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Authenticate runs the primary credential check.
//
// Ordering matters: the lockout pre-check happens before the password is
// verified, so attempts against a locked account are refused without
// consuming anything. A store outage during recording is returned as
// ErrStoreUnavailable and is never counted as a failed login.
func (s *AuthService) Authenticate(ctx context.Context, email, password string, req models.RequestContext) (*models.AuthOutcome, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return &models.AuthOutcome{Status: models.AuthInvalidCredentials}, nil
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Record the attempt against no account so enumeration
			// probes still show up in the risk picture
			attempt, recErr := s.attempts.RecordAttempt(ctx, RecordAttemptParams{
				Email:         email,
				FailureReason: models.FailureUnknownIdentity,
				Request:       req,
			})
			if recErr != nil {
				return nil, recErr
			}
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login_failed",
				IPAddress:     req.IPAddress,
				FailureReason: models.FailureUnknownIdentity,
				Success:       false,
			})
			out := &models.AuthOutcome{Status: models.AuthInvalidCredentials}
			if attempt != nil {
				out.RiskScore = attempt.RiskScore
				out.Suspicious = attempt.Suspicious
			}
			return out, nil
		}
		return nil, err
	}

	// Lockout pre-check: refused attempts consume nothing
	lockout, err := s.lockouts.Check(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if lockout != nil {
		remaining := lockout.Remaining(time.Now().UTC())
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_refused",
			UserID:        user.ID.String(),
			IPAddress:     req.IPAddress,
			FailureReason: models.FailureAccountLocked,
			Success:       false,
		})
		return &models.AuthOutcome{Status: models.AuthLocked, LockedFor: &remaining}, nil
	}

	if err := validateAccountState(user); err != nil {
		if _, recErr := s.attempts.RecordAttempt(ctx, RecordAttemptParams{
			UserID:        &user.ID,
			Email:         email,
			FailureReason: models.FailureAccountDisabled,
			Request:       req,
		}); recErr != nil {
			return nil, recErr
		}
		return nil, err
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		return s.handleFailedPassword(ctx, user, email, req)
	}

	mfaRequired, err := s.mfa.Required(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if mfaRequired {
		challenge, err := s.tm.GenerateMfaChallengeToken(user.ID, user.Email)
		if err != nil {
			s.logger.Error("failed to generate challenge token", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		return &models.AuthOutcome{
			Status:         models.AuthMfaRequired,
			User:           user,
			ChallengeToken: challenge,
		}, nil
	}

	return s.completeLogin(ctx, user, email, req)
}

// handleFailedPassword records the failure and asks the lockout engine
// whether the account crosses the threshold.
func (s *AuthService) handleFailedPassword(ctx context.Context, user *models.User, email string, req models.RequestContext) (*models.AuthOutcome, error) {
	attempt, err := s.attempts.RecordAttempt(ctx, RecordAttemptParams{
		UserID:        &user.ID,
		Email:         email,
		FailureReason: models.FailureInvalidCredentials,
		Request:       req,
	})
	if err != nil {
		// Includes store outages: the failure is not counted and the
		// caller sees an infrastructure error, not a login denial
		return nil, err
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login_failed",
		UserID:        user.ID.String(),
		IPAddress:     req.IPAddress,
		FailureReason: models.FailureInvalidCredentials,
		Success:       false,
	})

	lockout, err := s.lockouts.HandleFailedAttempt(ctx, user.ID, attempt)
	if err != nil {
		return nil, err
	}

	out := &models.AuthOutcome{
		Status:     models.AuthInvalidCredentials,
		RiskScore:  attempt.RiskScore,
		Suspicious: attempt.Suspicious,
	}
	if lockout != nil {
		remaining := lockout.Remaining(time.Now().UTC())
		out.Status = models.AuthLocked
		out.LockedFor = &remaining
	}
	return out, nil
}

// CompleteMfa finishes a login that Authenticate left pending. The
// challenge token proves the password stage passed; a failed code here is
// recorded as a failed login attempt.
func (s *AuthService) CompleteMfa(ctx context.Context, challengeToken string, method models.MfaMethod, code string, req models.RequestContext) (*models.AuthOutcome, error) {
	claims, err := s.tm.ValidateToken(challengeToken)
	if err != nil || claims.Type != auth.TokenTypeMfaChallenge {
		return nil, models.ErrUnauthorized
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	// The account may have been locked since the challenge was issued
	lockout, err := s.lockouts.Check(ctx, userID)
	if err != nil {
		return nil, err
	}
	if lockout != nil {
		remaining := lockout.Remaining(time.Now().UTC())
		return &models.AuthOutcome{Status: models.AuthLocked, LockedFor: &remaining}, nil
	}

	if err := s.mfa.Verify(ctx, userID, method, code, req); err != nil {
		if isVerificationFailure(err) {
			if _, recErr := s.attempts.RecordAttempt(ctx, RecordAttemptParams{
				UserID:        &userID,
				Email:         user.Email,
				FailureReason: models.FailureMfaFailed,
				Request:       req,
			}); recErr != nil {
				return nil, recErr
			}
		}
		return nil, err
	}

	return s.completeLogin(ctx, user, user.Email, req)
}

// SendLoginOtp delivers an email OTP for a pending MFA challenge.
func (s *AuthService) SendLoginOtp(ctx context.Context, challengeToken string, req models.RequestContext) error {
	claims, err := s.tm.ValidateToken(challengeToken)
	if err != nil || claims.Type != auth.TokenTypeMfaChallenge {
		return models.ErrUnauthorized
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return models.ErrUnauthorized
	}
	return s.mfa.SendEmailOtp(ctx, userID, models.OtpPurposeLogin, nil, req)
}

// completeLogin records the success, settles any lingering lockout, opens a
// session, and mints tokens.
func (s *AuthService) completeLogin(ctx context.Context, user *models.User, email string, req models.RequestContext) (*models.AuthOutcome, error) {
	attempt, err := s.attempts.RecordAttempt(ctx, RecordAttemptParams{
		UserID:  &user.ID,
		Email:   email,
		Success: true,
		Request: req,
	})
	if err != nil {
		return nil, err
	}

	if err := s.lockouts.HandleSuccessfulAuth(ctx, user.ID); err != nil {
		s.logger.Error("failed to settle lockout after login",
			slog.String("user_id", user.ID.String()),
			slog.Any("error", err))
	}

	created, err := s.sessions.Create(ctx, user.ID, req)
	if err != nil {
		return nil, err
	}

	accessToken, err := s.tm.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	refreshToken, err := s.tm.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID.String(),
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Success:   true,
	})

	return &models.AuthOutcome{
		Status:       models.AuthOK,
		User:         user,
		Session:      created.Session,
		SessionToken: created.Token,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		RiskScore:    attempt.RiskScore,
		Suspicious:   attempt.Suspicious,
	}, nil
}

// Refresh exchanges a valid refresh token for a new access token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.tm.ValidateToken(refreshToken)
	if err != nil || claims.Type != auth.TokenTypeRefresh {
		return "", models.ErrUnauthorized
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return "", models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", models.ErrUnauthorized
	}
	if err := validateAccountState(user); err != nil {
		return "", err
	}

	lockout, err := s.lockouts.Check(ctx, userID)
	if err != nil {
		return "", err
	}
	if lockout != nil {
		return "", models.ErrAccountLocked
	}

	return s.tm.GenerateAccessToken(user.ID, user.Email)
}

// validateAccountState rejects suspended and disabled accounts.
func validateAccountState(user *models.User) error {
	switch user.Status {
	case "suspended":
		return models.ErrAccountSuspended
	case "disabled":
		return models.ErrAccountDisabled
	}
	return nil
}
