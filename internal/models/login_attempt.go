package models

import (
	"time"

	"github.com/google/uuid"
)

// Login failure reasons
const (
	FailureInvalidCredentials = "invalid_credentials"
	FailureUnknownIdentity    = "unknown_identity"
	FailureAccountLocked      = "account_locked"
	FailureAccountDisabled    = "account_disabled"
	FailureMfaFailed          = "mfa_failed"
)

// LoginAttempt represents a single authentication attempt. Attempts are
// immutable once written and purged after the retention window. UserID is nil
// when the submitted identifier did not resolve to an account; those are
// still recorded to detect enumeration.
type LoginAttempt struct {
	ID                uuid.UUID  `db:"id"`
	UserID            *uuid.UUID `db:"user_id"`
	Email             string     `db:"email"`
	Success           bool       `db:"success"`
	FailureReason     *string    `db:"failure_reason"`
	IPAddress         string     `db:"ip_address"`
	UserAgent         string     `db:"user_agent"`
	DeviceFingerprint string     `db:"device_fingerprint"`
	RiskScore         float64    `db:"risk_score"`
	Suspicious        bool       `db:"suspicious"`
	AttemptedAt       time.Time  `db:"attempted_at"`
	ExpiresAt         time.Time  `db:"expires_at"`
}

// AttemptStats aggregates recent history for one identity, used by the risk
// scorer and the lockout engine.
type AttemptStats struct {
	TotalInWindow     int
	FailedInWindow    int
	DistinctSourceIPs int
	KnownDevices      []string // fingerprints seen on prior successful logins
	KnownSourceIPs    []string // IPs seen on prior successful logins
	LastSuccess       *time.Time
	LastFailure       *time.Time
}
