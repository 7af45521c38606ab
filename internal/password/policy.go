// Package password validates new passwords and estimates their strength. No I/O.
package password

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

const (
	MinLength = 8
	MaxLength = 128
	// MinClasses is how many of upper, lower, digit, special must be present.
	MinClasses = 3
)

// ErrWeakPassword is wrapped by every WeakPasswordError.
var ErrWeakPassword = errors.New("weak password")

// WeakPasswordError carries the reason a password was rejected.
type WeakPasswordError struct {
	Reason string
}

func (e *WeakPasswordError) Error() string { return "weak password: " + e.Reason }

func (e *WeakPasswordError) Unwrap() error { return ErrWeakPassword }

func weak(format string, args ...any) error {
	return &WeakPasswordError{Reason: fmt.Sprintf(format, args...)}
}

// Policy holds the common-password denylist. The zero value has an empty denylist.
type Policy struct {
	denylist map[string]struct{}
}

// NewPolicy returns a Policy rejecting the given passwords case-insensitively.
func NewPolicy(denylist []string) *Policy {
	p := &Policy{denylist: make(map[string]struct{}, len(denylist))}
	for _, d := range denylist {
		if d = strings.TrimSpace(d); d != "" {
			p.denylist[strings.ToLower(d)] = struct{}{}
		}
	}
	return p
}

// ValidateStrength returns nil or a *WeakPasswordError.
func (p *Policy) ValidateStrength(password string) error {
	if password == "" {
		return weak("password is required")
	}
	n := utf8.RuneCountInString(password)
	if n < MinLength {
		return weak("must be at least %d characters", MinLength)
	}
	if n > MaxLength {
		return weak("must be at most %d characters", MaxLength)
	}
	if countClasses(password) < MinClasses {
		return weak("must contain at least %d of: uppercase, lowercase, digits, special characters", MinClasses)
	}
	if p != nil {
		if _, ok := p.denylist[strings.ToLower(password)]; ok {
			return weak("password is too common")
		}
	}
	return nil
}

// Tier is a qualitative strength bucket.
type Tier string

const (
	VeryWeak   Tier = "very_weak"
	Weak       Tier = "weak"
	Medium     Tier = "medium"
	Strong     Tier = "strong"
	VeryStrong Tier = "very_strong"
)

// Strength is the advisory result of EvaluateStrength.
type Strength struct {
	Entropy float64 `json:"entropy"`
	Score   int     `json:"score"`
	Tier    Tier    `json:"tier"`
}

// EvaluateStrength estimates entropy as length * log2(alphabet size), where the
// alphabet is the sum of the character classes present. Never blocks a password.
func EvaluateStrength(password string) Strength {
	var c classes
	c.scan(password)
	alphabet := 0
	if c.lower {
		alphabet += 26
	}
	if c.upper {
		alphabet += 26
	}
	if c.digit {
		alphabet += 10
	}
	if c.special {
		alphabet += 32
	}
	var entropy float64
	if alphabet > 0 {
		entropy = float64(utf8.RuneCountInString(password)) * math.Log2(float64(alphabet))
	}
	switch {
	case entropy < 30:
		return Strength{Entropy: entropy, Score: 1, Tier: VeryWeak}
	case entropy < 50:
		return Strength{Entropy: entropy, Score: 2, Tier: Weak}
	case entropy < 70:
		return Strength{Entropy: entropy, Score: 3, Tier: Medium}
	case entropy < 90:
		return Strength{Entropy: entropy, Score: 4, Tier: Strong}
	default:
		return Strength{Entropy: entropy, Score: 5, Tier: VeryStrong}
	}
}

type classes struct {
	upper, lower, digit, special bool
}

func (c *classes) scan(s string) {
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			c.upper = true
		case r >= 'a' && r <= 'z':
			c.lower = true
		case r >= '0' && r <= '9':
			c.digit = true
		default:
			c.special = true
		}
	}
}

func countClasses(s string) int {
	var c classes
	c.scan(s)
	n := 0
	for _, b := range []bool{c.upper, c.lower, c.digit, c.special} {
		if b {
			n++
		}
	}
	return n
}
