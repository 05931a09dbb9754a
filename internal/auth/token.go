package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/castellan-dir/castellan/internal/shared"
)

// Claims is the bearer token payload. Timestamp pins the token to the entry
// state it was issued for: any later entry modification invalidates it.
type Claims struct {
	jwt.RegisteredClaims
	Timestamp string `json:"ts,omitempty"`
}

// TokenIssuer signs and verifies HS256 bearer tokens.
type TokenIssuer struct {
	secret       []byte
	ttl          time.Duration
	autoLoginTTL time.Duration
	now          func() time.Time
}

// NewTokenIssuer validates the signing configuration. autoLoginTTL bounds
// the short-lived tokens embedded in login mails.
func NewTokenIssuer(secret string, ttl, autoLoginTTL time.Duration) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: token secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if autoLoginTTL <= 0 {
		autoLoginTTL = 10 * time.Minute
	}
	return &TokenIssuer{
		secret:       []byte(secret),
		ttl:          ttl,
		autoLoginTTL: autoLoginTTL,
		now:          time.Now,
	}, nil
}

// SetClock overrides the time source, for deterministic tests.
func (t *TokenIssuer) SetClock(now func() time.Time) { t.now = now }

// Issue signs a token for the given subject. autoLogin selects the short
// mail-link lifetime.
func (t *TokenIssuer) Issue(subject, timestamp string, autoLogin bool) (string, error) {
	ttl := t.ttl
	if autoLogin {
		ttl = t.autoLoginTTL
	}
	now := t.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Timestamp: timestamp,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature and lifetime and returns the claims.
func (t *TokenIssuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, shared.ErrTokenExpired
	default:
		return nil, shared.ErrAuthentication
	}
}
