// Package token encodes and validates the short bearer tokens clients
// present over the websocket before subscribing to change traffic.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aferrand/changesd/internal/errs"
)

// Anonymous is the subject of tokens issued for the unauthenticated
// Everyone identity.
const Anonymous = "everyone"

// DefaultTTL bounds token age when callers do not ask for more.
const DefaultTTL = 86400 * time.Second

// Claims is the decoded token payload.
type Claims struct {
	UserID   string
	IssuedAt time.Time
}

// Codec signs and validates tokens with a shared HS256 secret. Pure over
// wall-clock time: no network or disk I/O.
type Codec struct {
	secret []byte
	ttl    time.Duration
}

// New constructs a Codec. ttl <= 0 selects DefaultTTL.
func New(secret []byte, ttl time.Duration) *Codec {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codec{secret: secret, ttl: ttl}
}

// Encode issues a signed token for userID with issued-at set to now.
// A positive ttl overrides the codec default; long-lived tokens pass a
// larger one.
func (c *Codec) Encode(userID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Decode verifies the signature and the age window. A positive ttl
// overrides the codec default. Every failure mode maps to
// errs.ErrTokenInvalid: malformed encoding, bad signature, missing or
// future issued-at, or age beyond ttl.
func (c *Codec) Decode(raw string, ttl time.Duration) (Claims, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	var rc jwt.RegisteredClaims
	if _, err := parser.ParseWithClaims(raw, &rc, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", errs.ErrTokenInvalid, err)
	}
	if rc.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", errs.ErrTokenInvalid)
	}
	if rc.IssuedAt == nil {
		return Claims{}, fmt.Errorf("%w: missing issued-at", errs.ErrTokenInvalid)
	}
	now := time.Now()
	iat := rc.IssuedAt.Time
	if iat.After(now) {
		return Claims{}, fmt.Errorf("%w: issued in the future", errs.ErrTokenInvalid)
	}
	if now.Sub(iat) > ttl {
		return Claims{}, fmt.Errorf("%w: expired", errs.ErrTokenInvalid)
	}
	return Claims{UserID: rc.Subject, IssuedAt: iat}, nil
}

// DecodeUnverified extracts claims without checking the signature or any
// temporal bound. Diagnostics only.
func (c *Codec) DecodeUnverified(raw string) (Claims, error) {
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &rc); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", errs.ErrTokenInvalid, err)
	}
	cl := Claims{UserID: rc.Subject}
	if rc.IssuedAt != nil {
		cl.IssuedAt = rc.IssuedAt.Time
	}
	return cl, nil
}
