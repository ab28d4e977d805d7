package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrAccountSuspended   = errors.New("account is suspended")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// MFA errors
	ErrMfaRequired          = errors.New("multi-factor verification required")
	ErrMfaNotEnabled        = errors.New("multi-factor authentication is not enabled")
	ErrMfaCodeInvalid       = errors.New("invalid verification code")
	ErrMfaCodeExpired       = errors.New("verification code has expired")
	ErrMfaChannelBlocked    = errors.New("verification channel blocked after too many attempts")
	ErrBackupCodesExhausted = errors.New("no backup codes remaining")

	// Session errors
	ErrSessionNotFound           = errors.New("session not found")
	ErrUnauthorizedSessionAccess = errors.New("session belongs to another user")

	// ErrConfigurationMissing is fatal at startup. ErrStoreUnavailable is
	// transient and retryable by the caller; it must never be recorded as a
	// failed login attempt.
	ErrConfigurationMissing = errors.New("global security settings missing")
	ErrStoreUnavailable     = errors.New("store unavailable")
)
