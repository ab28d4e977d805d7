package models

import (
	"time"

	"github.com/google/uuid"
)

// Lockout types
const (
	LockoutTypeAutomatic = "automatic"
	LockoutTypeManual    = "manual"
)

// Lockout reasons
const (
	LockoutReasonFailedAttempts = "failed_login_attempts"
	LockoutReasonSuspicious     = "suspicious_login_pattern"
	LockoutReasonAdministrative = "administrative"
)

// Lockout release reasons
const (
	ReleaseReasonExpired       = "expired"
	ReleaseReasonManual        = "manual_release"
	ReleaseReasonSuccessfulMfa = "successful_authentication"
)

// LockoutRecord tracks one lockout cycle for a user. At most one record per
// user may have Active=true at any time; the repository enforces this with a
// partial unique index and the engine serializes transitions per user.
type LockoutRecord struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	LockoutType   string
	Reason        string
	StartedAt     time.Time
	EndsAt        *time.Time // nil only for open-ended manual lockouts
	Level         int        // escalation level, >= 1
	FailedCount   int        // failures that triggered this lockout
	TriggeringIP  string
	Active        bool
	ReleaseReason *string
	ReleasedBy    *uuid.UUID // admin who released, for manual releases
	CreatedBy     *uuid.UUID // admin who created, for manual lockouts
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Remaining returns how long the lockout still holds at the given instant.
// Zero means expired or open-ended.
func (l *LockoutRecord) Remaining(now time.Time) time.Duration {
	if l.EndsAt == nil {
		return 0
	}
	if d := l.EndsAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Expired reports whether the lockout window has technically passed. An
// expired record can still be Active until something closes it.
func (l *LockoutRecord) Expired(now time.Time) bool {
	return l.EndsAt != nil && !now.Before(*l.EndsAt)
}
