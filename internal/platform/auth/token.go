package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenIssuer signs access tokens for users that logged in with a password.
type TokenIssuer struct {
	Issuer     string
	SigningKey []byte
	TTL        time.Duration
	now        func() time.Time
}

func NewTokenIssuer(issuer string, signingKey []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{Issuer: issuer, SigningKey: signingKey, TTL: ttl, now: time.Now}
}

// Issue returns a signed token and its expiry.
func (i *TokenIssuer) Issue(userID, name string, roles []string) (string, time.Time, error) {
	if len(i.SigningKey) == 0 {
		return "", time.Time{}, errors.New("token signing key is not configured")
	}
	now := i.now()
	exp := now.Add(i.TTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    i.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Name:  name,
		Roles: roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.SigningKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Config returns the middleware configuration that accepts tokens from this issuer.
func (i *TokenIssuer) Config() JWTConfig {
	return JWTConfig{Issuer: i.Issuer, SigningKey: i.SigningKey}
}
