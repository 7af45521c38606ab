package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretBytes is the minimum HMAC signing secret length.
const MinSecretBytes = 32

var (
	// ErrMalformedToken is returned when a token cannot be parsed at all.
	ErrMalformedToken = errors.New("malformed token")
	// ErrInvalidSignature is returned when the signature or algorithm does not verify.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrExpired is returned when the token's exp is not after the current time.
	ErrExpired = errors.New("token expired")
	// ErrClaimsMismatch is returned when iss or aud do not match this service, or required claims are missing.
	ErrClaimsMismatch = errors.New("token claims mismatch")
	// ErrSecretTooShort is returned by NewTokenCodec for secrets under MinSecretBytes.
	ErrSecretTooShort = errors.New("signing secret must be at least 32 bytes")
)

// AccessClaims holds JWT claims for the access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	Role      string `json:"role"`
	SessionID string `json:"sid,omitempty"`
}

// Identity is the caller-supplied part of an access token.
type Identity struct {
	UserID    string
	Email     string
	Role      string
	SessionID string
}

// TokenCodec signs and verifies HS256 access tokens. It holds no mutable state
// and does no I/O, so one value is shared by all requests.
type TokenCodec struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
	parser   *jwt.Parser
}

// NewTokenCodec returns a codec that signs with secret and sets/requires the given issuer and audience.
// now is the clock; nil means time.Now.
func NewTokenCodec(secret []byte, issuer, audience string, accessTTL time.Duration, now func() time.Time) (*TokenCodec, error) {
	if len(secret) < MinSecretBytes {
		return nil, ErrSecretTooShort
	}
	if issuer == "" || audience == "" {
		return nil, errors.New("security: issuer and audience are required")
	}
	if accessTTL <= 0 {
		return nil, errors.New("security: access ttl must be positive")
	}
	if now == nil {
		now = time.Now
	}
	c := &TokenCodec{
		secret:   append([]byte(nil), secret...),
		issuer:   issuer,
		audience: audience,
		ttl:      accessTTL,
		now:      now,
	}
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	)
	return c, nil
}

// MintAccessToken signs a token for id valid for the codec TTL.
// Returns the token string and the claims that were signed.
func (c *TokenCodec) MintAccessToken(id Identity) (string, *AccessClaims, error) {
	if id.UserID == "" {
		return "", nil, errors.New("security: subject is required")
	}
	jti, err := generateJTI()
	if err != nil {
		return "", nil, err
	}
	now := c.now().UTC()
	claims := &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   id.UserID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
		Email:     id.Email,
		Role:      id.Role,
		SessionID: id.SessionID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// VerifyAccessToken checks signature, algorithm, exp, iss, and aud and returns the claims.
// Errors are one of ErrMalformedToken, ErrInvalidSignature, ErrExpired, ErrClaimsMismatch.
func (c *TokenCodec) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := c.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, mapParseError(err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrClaimsMismatch
	}
	return claims, nil
}

// RemainingTTL returns how long claims stay valid at the codec's current time; zero or negative once expired.
func (c *TokenCodec) RemainingTTL(claims *AccessClaims) time.Duration {
	if claims == nil || claims.ExpiresAt == nil {
		return 0
	}
	return claims.ExpiresAt.Time.Sub(c.now())
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrClaimsMismatch
	}
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
