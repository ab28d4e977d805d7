package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MfaMethod is the tagged variant selecting a verification channel.
type MfaMethod string

const (
	MfaMethodTotp       MfaMethod = "totp"
	MfaMethodBackupCode MfaMethod = "backup_code"
	MfaMethodEmailOtp   MfaMethod = "email_otp"
)

// ParseMfaMethod validates a method tag from the wire.
func ParseMfaMethod(s string) (MfaMethod, error) {
	switch MfaMethod(s) {
	case MfaMethodTotp, MfaMethodBackupCode, MfaMethodEmailOtp:
		return MfaMethod(s), nil
	}
	return "", fmt.Errorf("unknown mfa method %q", s)
}

// Email OTP purposes
const (
	OtpPurposeLogin      = "login"
	OtpPurposeDisableMfa = "disable_mfa"
)

// MfaSettings is the per-user MFA configuration row, created on first setup.
type MfaSettings struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	Enabled              bool
	TotpEnabled          bool
	BackupCodesEnabled   bool
	EmailOtpEnabled      bool
	TotpSecret           []byte // AES-256-GCM ciphertext
	TotpSecretNonce      []byte
	BackupCodesRemaining int
	LastUsedAt           *time.Time // last accepted verification, any method
	LastTotpUsedAt       *time.Time // replay guard for the TOTP window
	EnabledAt            *time.Time
	DisabledAt           *time.Time
	Enforced             bool
	EnforcementGraceEnd  *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// EnforcementActive reports whether the admin enforcement policy currently
// binds (the grace period, if any, has passed).
func (m *MfaSettings) EnforcementActive(now time.Time) bool {
	if !m.Enforced {
		return false
	}
	return m.EnforcementGraceEnd == nil || now.After(*m.EnforcementGraceEnd)
}

// BackupCode is a single-use recovery code. Codes are generated in batches;
// issuing a new batch invalidates the unused codes of the previous one.
type BackupCode struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CodeHash  string // bcrypt digest
	BatchID   uuid.UUID
	Used      bool
	UsedAt    *time.Time
	UsedFrom  *string // source IP
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Usable reports whether the code can still verify.
func (c *BackupCode) Usable(now time.Time) bool {
	if c.Used {
		return false
	}
	return c.ExpiresAt == nil || now.Before(*c.ExpiresAt)
}

// EmailOtp is an emailed one-time code. The issuer keeps a single current
// OTP per (user, purpose); issuing a new one marks the previous one
// superseded. Once the attempt counter reaches MaxAttempts the OTP is
// blocked permanently, even for the correct code.
type EmailOtp struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	CodeHash     string
	EmailAddress string
	Purpose      string
	Used         bool
	UsedAt       *time.Time
	ExpiresAt    time.Time
	AttemptCount int
	MaxAttempts  int
	Blocked      bool
	BlockedAt    *time.Time
	Superseded   bool
	SessionID    *uuid.UUID // correlates the OTP with the login challenge
	CreatedAt    time.Time
}

// MfaAuditEntry records one verification call, success or failure.
type MfaAuditEntry struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Method    MfaMethod
	Action    string // "verified", "failed", "sent", "setup", ...
	Success   bool
	Reason    *string
	IPAddress string
	UserAgent string
	RiskScore float64
	CreatedAt time.Time
}
