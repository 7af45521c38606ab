// Package lockout decides whether an account is locked. It is pure: the
// counter itself lives in the credential store and is mutated atomically there.
package lockout

import (
	"errors"
	"time"
)

// Policy is the configured failure threshold and lock duration.
type Policy struct {
	Threshold int
	Duration  time.Duration
}

// NewPolicy validates and returns a Policy.
func NewPolicy(threshold int, duration time.Duration) (Policy, error) {
	if threshold <= 0 {
		return Policy{}, errors.New("lockout: threshold must be positive")
	}
	if duration <= 0 {
		return Policy{}, errors.New("lockout: duration must be positive")
	}
	return Policy{Threshold: threshold, Duration: duration}, nil
}

// IsLocked reports whether lockedUntil is set and still in the future at now.
func IsLocked(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}

// LockUntil is the deadline to set when a failure at now reaches the threshold.
func (p Policy) LockUntil(now time.Time) time.Time {
	return now.Add(p.Duration)
}

// Reached reports whether failedAttempts has reached the threshold.
func (p Policy) Reached(failedAttempts int) bool {
	return failedAttempts >= p.Threshold
}

// Remaining is how long the lock holds at now; zero when not locked.
func Remaining(lockedUntil *time.Time, now time.Time) time.Duration {
	if !IsLocked(lockedUntil, now) {
		return 0
	}
	return lockedUntil.Sub(now)
}
