package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// User is the credential record: identity, password hash, and lockout counters.
type User struct {
	ID                  string
	Email               string // always lowercase-normalized
	PasswordHash        string
	Role                Role
	IsActive            bool
	EmailVerified       bool
	FailedLoginAttempts int
	LockedUntil         *time.Time // nil when not locked
	LastLogin           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Role is the closed set of account roles.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

// LockState is the failed-attempt counter and lock deadline after an atomic update.
type LockState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// Summary is the public view of a user returned alongside tokens.
type Summary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ErrInvalidEmail is returned by ValidateEmail for malformed addresses.
var ErrInvalidEmail = errors.New("invalid email format")

// NormalizeEmail trims and lowercases an address so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks a normalized address for basic shape and the 254-byte limit.
func ValidateEmail(email string) error {
	if email == "" || len(email) > 254 || !emailPattern.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if err := ValidateEmail(u.Email); err != nil {
		return err
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if !u.Role.Valid() {
		return errors.New("unknown role")
	}
	return nil
}

// Summary returns the id/email/role view of u.
func (u *User) Summary() Summary {
	return Summary{ID: u.ID, Email: u.Email, Role: u.Role}
}
