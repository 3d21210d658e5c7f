package models

import (
	"time"
)

// User is the identity/role collaborator record. The security engine only
// reads active-status and role; account management lives outside this service.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Role         string // e.g., "student", "instructor", "admin"
	Status       string // "active", "suspended", "disabled"
	MFASecret    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsActive reports whether the account may hold sessions.
func (u *User) IsActive() bool {
	return u.Status == "active"
}
