package auth

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/concort/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedTokens(t *testing.T, now time.Time) *Tokens {
	t.Helper()
	tokens, err := NewTokens("test-secret", time.Hour)
	require.NoError(t, err)
	tokens.Now = func() time.Time { return now }
	return tokens
}

func TestNewTokensValidates(t *testing.T) {
	_, err := NewTokens("  ", time.Hour)
	assert.Error(t, err)
	_, err = NewTokens("secret", 0)
	assert.Error(t, err)
}

func TestIssueResolveRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tokens := fixedTokens(t, now)

	token, err := tokens.Issue("p-1")
	require.NoError(t, err)

	pid, err := tokens.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("p-1"), pid)

	pid, err = tokens.Resolve(context.Background(), "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("p-1"), pid)
}

func TestResolveRejects(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tokens := fixedTokens(t, now)
	token, err := tokens.Issue("p-1")
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		_, err := tokens.Resolve(context.Background(), "")
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	})
	t.Run("garbage", func(t *testing.T) {
		_, err := tokens.Resolve(context.Background(), "not-a-token")
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	})
	t.Run("expired", func(t *testing.T) {
		later := fixedTokens(t, now.Add(2*time.Hour))
		_, err := later.Resolve(context.Background(), token)
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})
	t.Run("other secret", func(t *testing.T) {
		other, err := NewTokens("other-secret", time.Hour)
		require.NoError(t, err)
		other.Now = func() time.Time { return now }
		_, err = other.Resolve(context.Background(), token)
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	})
	t.Run("wrong method", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "p-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = tokens.Resolve(context.Background(), unsigned)
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	})
}
