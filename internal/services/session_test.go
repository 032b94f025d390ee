package services

import (
	"testing"
	"time"

	"hiblogs-account/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionIssueAndVerify(t *testing.T) {
	s, err := NewSessionService(testSecret, 48*time.Hour, 2*time.Hour)
	require.NoError(t, err)

	user := &models.User{ID: 7, Username: "alice", Nickname: "爱丽丝", SecurityStamp: "stamp-1"}

	ticket, err := s.Issue(user, true)
	require.NoError(t, err)
	assert.True(t, ticket.Persistent)
	assert.WithinDuration(t, time.Now().Add(48*time.Hour), ticket.ExpiresAt, time.Minute)

	claims, err := s.VerifyToken(ticket.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "爱丽丝", claims.Nickname)
	assert.Equal(t, "stamp-1", claims.Stamp)
	assert.True(t, claims.Persistent)

	browser, err := s.Issue(user, false)
	require.NoError(t, err)
	assert.False(t, browser.Persistent)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), browser.ExpiresAt, time.Minute)
}

func TestSessionNicknameFallsBackToUsername(t *testing.T) {
	s, err := NewSessionService(testSecret, 0, 0)
	require.NoError(t, err)

	ticket, err := s.Issue(&models.User{ID: 1, Username: "bob"}, false)
	require.NoError(t, err)

	claims, err := s.VerifyToken(ticket.Token)
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.Nickname)
}

func TestSessionVerifyRejects(t *testing.T) {
	s, err := NewSessionService(testSecret, time.Hour, time.Hour)
	require.NoError(t, err)
	other, err := NewSessionService(testSecret+"-other", time.Hour, time.Hour)
	require.NoError(t, err)

	_, err = s.VerifyToken("")
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = s.VerifyToken("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, err := other.Issue(&models.User{ID: 1, Username: "x"}, false)
	require.NoError(t, err)
	_, err = s.VerifyToken(foreign.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = s.VerifyToken(signed)
	assert.ErrorIs(t, err, ErrTokenExpired)

	noneAlg := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	unsigned, err := noneAlg.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.VerifyToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionRejectsEmptySecretAndInvalidUser(t *testing.T) {
	_, err := NewSessionService("", time.Hour, time.Hour)
	assert.ErrorIs(t, err, ErrSessionEmptySecret)

	s, err := NewSessionService(testSecret, time.Hour, time.Hour)
	require.NoError(t, err)
	_, err = s.Issue(nil, false)
	assert.ErrorIs(t, err, ErrTokenGenerationFailed)
	_, err = s.Issue(&models.User{}, false)
	assert.ErrorIs(t, err, ErrTokenGenerationFailed)
}

func TestClampTTL(t *testing.T) {
	assert.Equal(t, time.Hour, clampTTL(0, time.Hour))
	assert.Equal(t, minSessionTTL, clampTTL(time.Second, time.Hour))
	assert.Equal(t, maxSessionTTL, clampTTL(365*24*time.Hour, time.Hour))
	assert.Equal(t, 3*time.Hour, clampTTL(3*time.Hour, time.Hour))
}
