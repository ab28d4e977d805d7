package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthStatus is the outcome variant of an authentication attempt. Business
// outcomes are values, not errors: the caller needs to distinguish them for
// UI messaging without unwrapping.
type AuthStatus string

const (
	AuthOK                 AuthStatus = "ok"
	AuthLocked             AuthStatus = "locked"
	AuthMfaRequired        AuthStatus = "mfa_required"
	AuthInvalidCredentials AuthStatus = "invalid_credentials"
)

// AuthOutcome is the result of Authenticate.
type AuthOutcome struct {
	Status         AuthStatus
	User           *User
	Session        *Session
	SessionToken   string // opaque token identifying the device session
	AccessToken    string
	RefreshToken   string
	ChallengeToken string         // set when Status == AuthMfaRequired
	LockedFor      *time.Duration // set when Status == AuthLocked
	RiskScore      float64
	Suspicious     bool
}

// TokenClaims are the JWT claims for access, refresh, and MFA challenge
// tokens.
type TokenClaims struct {
	Type   string `json:"type"` // "access", "refresh", "mfa_challenge"
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// RequestContext carries the caller-side context of an attempt through the
// core: source address, agent, and optional location hint.
type RequestContext struct {
	IPAddress string
	UserAgent string
	Location  string
}
