package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID                uuid.UUID
	Email             string
	PasswordHash      string
	Name              string
	EmailVerified     bool
	Role              string // "user", "admin"
	Status            string // "active", "suspended", "disabled"
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PasswordChangedAt *time.Time
}
