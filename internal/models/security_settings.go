package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SecuritySettings holds the lockout, detection, and session policy for a
// user. A single global-default row (UserID nil, IsGlobalDefault true) always
// exists; per-user rows override it and are soft-deleted to revert.
type SecuritySettings struct {
	ID              uuid.UUID
	UserID          *uuid.UUID // nil for the global default
	IsGlobalDefault bool

	MaxFailedAttempts      int
	InitialLockoutDuration time.Duration
	MaxLockoutDuration     time.Duration
	LockoutMultiplier      float64
	FailedAttemptWindow    time.Duration
	ProgressiveLockout     bool
	SuspiciousThreshold    float64 // risk score in [0,1] at which attempts are flagged
	RiskWeights            RiskWeights
	GeolocationTracking    bool
	DeviceFingerprinting   bool
	MaxConcurrentSessions  int
	SessionTimeout         time.Duration
	AttemptRetention       time.Duration // how long login attempts are kept
	SendSecurityAlerts     bool

	CreatedAt time.Time
	UpdatedAt time.Time
	Deleted   bool
}

// RiskWeights are the tunable coefficients of the risk scorer. The exact
// weighting is policy, not contract, so it lives in settings.
type RiskWeights struct {
	FailureRate     float64 `json:"failure_rate"`
	NovelDevice     float64 `json:"novel_device"`
	MultipleSources float64 `json:"multiple_sources"`
	UnknownIdentity float64 `json:"unknown_identity"`
	HotSource       float64 `json:"hot_source"`
}

// DefaultSecuritySettings returns the deployment defaults used to seed the
// global row.
func DefaultSecuritySettings() SecuritySettings {
	return SecuritySettings{
		IsGlobalDefault:        true,
		MaxFailedAttempts:      5,
		InitialLockoutDuration: 15 * time.Minute,
		MaxLockoutDuration:     24 * time.Hour,
		LockoutMultiplier:      2.0,
		FailedAttemptWindow:    60 * time.Minute,
		ProgressiveLockout:     true,
		SuspiciousThreshold:    0.7,
		RiskWeights: RiskWeights{
			FailureRate:     0.3,
			NovelDevice:     0.2,
			MultipleSources: 0.4,
			UnknownIdentity: 0.3,
			HotSource:       0.4,
		},
		GeolocationTracking:   true,
		DeviceFingerprinting:  true,
		MaxConcurrentSessions: 5,
		SessionTimeout:        60 * time.Minute,
		AttemptRetention:      90 * 24 * time.Hour,
		SendSecurityAlerts:    true,
	}
}

// Validate checks the policy invariants.
func (s *SecuritySettings) Validate() error {
	if s.MaxFailedAttempts < 1 {
		return fmt.Errorf("max failed attempts must be at least 1")
	}
	if s.InitialLockoutDuration <= 0 {
		return fmt.Errorf("initial lockout duration must be positive")
	}
	if s.MaxLockoutDuration < s.InitialLockoutDuration {
		return fmt.Errorf("max lockout duration must not be shorter than the initial duration")
	}
	if s.LockoutMultiplier < 1.0 {
		return fmt.Errorf("lockout multiplier must be at least 1.0")
	}
	if s.SuspiciousThreshold < 0 || s.SuspiciousThreshold > 1 {
		return fmt.Errorf("suspicious activity threshold must be between 0 and 1")
	}
	if s.FailedAttemptWindow <= 0 {
		return fmt.Errorf("failed attempt window must be positive")
	}
	if s.MaxConcurrentSessions < 1 {
		return fmt.Errorf("max concurrent sessions must be at least 1")
	}
	if s.SessionTimeout <= 0 {
		return fmt.Errorf("session timeout must be positive")
	}
	return nil
}
