package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is one authenticated device session. The session service is the
// only writer of Active.
type Session struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	TokenHash       string // SHA-256 of the opaque session token
	RefreshHash     string
	IPAddress       string
	UserAgent       string
	OperatingSystem string
	Browser         string
	DeviceType      string
	Location        string
	Active          bool
	CreatedAt       time.Time
	LastActivityAt  time.Time
	ExpiresAt       time.Time
	UpdatedAt       time.Time
}

// Live reports whether the session is active and unexpired at the given
// instant. Expired sessions are treated as inactive on lookup without an
// eager write.
func (s *Session) Live(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}
