package domain

import "time"

// RefreshToken is the persisted record of one opaque refresh secret. Only the hash of the
// secret is stored. SessionID is the lineage id: it is carried from a record to its successor.
type RefreshToken struct {
	ID            string
	UserID        string
	SessionID     string
	TokenHash     string
	ExpiresAt     time.Time
	Revoked       bool
	RevokedAt     *time.Time
	RevokedReason RevocationReason
	CreatedAt     time.Time
}

// RevocationReason records why a refresh token left the issued state.
type RevocationReason string

const (
	ReasonRotated       RevocationReason = "rotated"
	ReasonLogout        RevocationReason = "logout"
	ReasonLogoutAll     RevocationReason = "logout_all"
	ReasonPasswordReset RevocationReason = "password_reset"
	ReasonReuse         RevocationReason = "reuse_detected"
)

// State is the lifecycle state of a refresh token. Expired is derived from ExpiresAt, never stored.
type State string

const (
	StateIssued  State = "issued"
	StateRotated State = "rotated"
	StateRevoked State = "revoked"
	StateExpired State = "expired"
)

// State returns the lifecycle state of t at now. Revocation takes precedence over expiry.
func (t *RefreshToken) State(now time.Time) State {
	switch {
	case t.Revoked && t.RevokedReason == ReasonRotated:
		return StateRotated
	case t.Revoked:
		return StateRevoked
	case !now.Before(t.ExpiresAt):
		return StateExpired
	default:
		return StateIssued
	}
}

// Usable reports whether t may be exchanged for a new token pair at now.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t.State(now) == StateIssued
}
