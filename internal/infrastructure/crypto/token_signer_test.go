package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/pkg/errors"
)

func newTestSigner() *TokenSigner {
	return NewTokenSigner(config.TokenConfig{
		AccessSecret:  "access-secret-for-tests",
		RefreshSecret: "refresh-secret-for-tests",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "credcore",
	})
}

func TestTokenSigner_AccessRoundTrip(t *testing.T) {
	s := newTestSigner()

	token, err := s.SignAccessToken("alice", "user-1", "sess-1")
	require.NoError(t, err)

	claims, err := s.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "sess-1", claims.SessionID)
}

func TestTokenSigner_RefreshRoundTrip(t *testing.T) {
	s := newTestSigner()

	token, err := s.SignRefreshToken("alice", "user-1", "sess-1", "tok-1")
	require.NoError(t, err)

	claims, err := s.VerifyRefreshToken(token)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", claims.TokenID)
	assert.Equal(t, "sess-1", claims.SessionID)
}

func TestTokenSigner_RejectsCrossFamilyTokens(t *testing.T) {
	s := newTestSigner()

	access, err := s.SignAccessToken("alice", "user-1", "sess-1")
	require.NoError(t, err)
	refresh, err := s.SignRefreshToken("alice", "user-1", "sess-1", "tok-1")
	require.NoError(t, err)

	// Separate secrets: each family fails the other's verification.
	_, err = s.VerifyRefreshToken(access)
	assert.True(t, errors.IsUnauthorized(err))

	_, err = s.VerifyAccessToken(refresh)
	assert.True(t, errors.IsUnauthorized(err))
}

func TestTokenSigner_ExpiredToken(t *testing.T) {
	s := newTestSigner()

	token, err := s.SignAccessToken("alice", "user-1", "sess-1")
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().UTC().Add(16 * time.Minute) }

	_, err = s.VerifyAccessToken(token)
	require.Error(t, err)
	assert.True(t, errors.IsExpired(err))
}

func TestTokenSigner_TamperedToken(t *testing.T) {
	s := newTestSigner()

	token, err := s.SignAccessToken("alice", "user-1", "sess-1")
	require.NoError(t, err)

	_, err = s.VerifyAccessToken(token + "x")
	assert.True(t, errors.IsUnauthorized(err))
}

func TestTokenSigner_WrongSecret(t *testing.T) {
	s := newTestSigner()
	other := NewTokenSigner(config.TokenConfig{
		AccessSecret:  "a-different-secret",
		RefreshSecret: "another-different-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "credcore",
	})

	token, err := other.SignAccessToken("alice", "user-1", "sess-1")
	require.NoError(t, err)

	_, err = s.VerifyAccessToken(token)
	assert.True(t, errors.IsUnauthorized(err))
}
