package password

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var commonPasswords = []string{"password", "123456", "Password123", "qwerty", "Welcome1!"}

func TestValidateStrength(t *testing.T) {
	p := NewPolicy(commonPasswords)
	testCases := []struct {
		name     string
		password string
		ok       bool
	}{
		{"strong", "StrongPass123!", true},
		{"scenario password", "Str0ng!Pass", true},
		{"three classes without special", "Abcdefg1", true},
		{"three classes without digit", "Abcdefg!", true},
		{"empty", "", false},
		{"too short", "Sh0rt!", false},
		{"too long", "Aa1!" + strings.Repeat("x", 125), false},
		{"max length", "Aa1!" + strings.Repeat("x", 124), true},
		{"only lowercase", "abcdefghij", false},
		{"two classes", "abcdefgh12", false},
		{"denylisted case-insensitive", "pASSWORD123", false},
		{"denylisted with special", "welcome1!", false},
		{"unicode counts as special", "Pässwort12", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := p.ValidateStrength(tc.password)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrWeakPassword))
			var wpe *WeakPasswordError
			require.True(t, errors.As(err, &wpe))
			assert.NotEmpty(t, wpe.Reason)
		})
	}
}

func TestValidateStrength_LengthInRunes(t *testing.T) {
	p := NewPolicy(nil)
	// 8 runes, more than 8 bytes.
	assert.NoError(t, p.ValidateStrength("Éa1!Éa1!"))
	// 7 runes even though 14 bytes.
	assert.Error(t, p.ValidateStrength("Éa1!Éa1"))
}

func TestValidateStrength_NilPolicy(t *testing.T) {
	var p *Policy
	assert.NoError(t, p.ValidateStrength("password1A"))
}

func TestEvaluateStrength(t *testing.T) {
	testCases := []struct {
		password string
		tier     Tier
		score    int
	}{
		{"", VeryWeak, 1},
		{"abcdef", VeryWeak, 1},            // 6*log2(26) ~ 28.2
		{"abcdefgh", Weak, 2},              // 8*4.70 ~ 37.6
		{"Abcdefgh12", Medium, 3},          // 10*log2(62) ~ 59.5
		{"Abcdefgh12!@#", Strong, 4},       // 13*log2(94) ~ 85.2
		{"Abcdefgh12!@#$%", VeryStrong, 5}, // 15*6.55 ~ 98.3
	}
	for _, tc := range testCases {
		t.Run(tc.password, func(t *testing.T) {
			s := EvaluateStrength(tc.password)
			assert.Equal(t, tc.tier, s.Tier)
			assert.Equal(t, tc.score, s.Score)
		})
	}
}
