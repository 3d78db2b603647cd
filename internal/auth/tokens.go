// Package auth issues and verifies participant bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/concort/internal/core"
	"github.com/dkeye/concort/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "concort"

var _ core.IdentityResolver = (*Tokens)(nil)

type claims struct {
	jwt.RegisteredClaims
}

// Tokens signs HS256 tokens whose subject is a participant ID.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	Now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, Now: time.Now}, nil
}

// Issue returns a signed token for pid.
func (t *Tokens) Issue(pid domain.ParticipantID) (string, error) {
	now := t.Now().UTC()
	c := claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   string(pid),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		ID:        uuid.NewString(),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Resolve verifies credential and returns the participant it names.
// Every failure wraps domain.ErrUnauthenticated.
func (t *Tokens) Resolve(_ context.Context, credential string) (domain.ParticipantID, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(credential), "Bearer "))
	if credential == "" {
		return "", fmt.Errorf("empty token: %w", domain.ErrUnauthenticated)
	}
	var parsed claims
	_, err := jwt.ParseWithClaims(credential, &parsed, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.Now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}
	if strings.TrimSpace(parsed.Subject) == "" {
		return "", fmt.Errorf("token without subject: %w", domain.ErrUnauthenticated)
	}
	return domain.ParticipantID(parsed.Subject), nil
}
