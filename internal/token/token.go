// Package token issues and verifies the bearer tokens for the local
// admin login, the non-SSO path into the management API.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aiboxcloud/management/internal/config"
)

var (
	ErrUnknownUser   = errors.New("username not found")
	ErrWrongPassword = errors.New("password erroneous")
	ErrExpiredToken  = errors.New("token expired")
	ErrInvalidToken  = errors.New("token invalid")
)

// TTL is the lifetime of an issued token.
const TTL = time.Hour

// Issuer signs and verifies HS256 tokens against the configured admin
// credential pair.
type Issuer struct {
	cfg config.AuthConfig
	now func() time.Time
}

func NewIssuer(cfg config.AuthConfig) *Issuer {
	return &Issuer{cfg: cfg, now: time.Now}
}

type claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Issue validates the credential pair and returns a signed token.
// The two failure modes stay distinct so the handler can surface the
// matching message.
func (i *Issuer) Issue(username, password string) (string, error) {
	if username != i.cfg.AdminUsername {
		return "", ErrUnknownUser
	}
	if password != i.cfg.AdminPassword {
		return "", ErrWrongPassword
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(i.now().Add(TTL)),
		},
	})
	signed, err := tok.SignedString([]byte(i.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the embedded
// username.
func (i *Issuer) Verify(raw string) (string, error) {
	var c claims
	tok, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(i.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(func() time.Time { return i.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}
	if !tok.Valid || c.Username == "" {
		return "", ErrInvalidToken
	}
	return c.Username, nil
}
