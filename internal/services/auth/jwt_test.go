package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionToken_RoundTrip(t *testing.T) {
	s := NewSigner("secret", time.Hour)

	token, err := s.GenerateSessionToken("sess-1")
	require.NoError(t, err)

	id, err := s.ValidateSessionToken(token)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", id)
}

func TestSessionToken_WrongSecret(t *testing.T) {
	token, err := NewSigner("a", time.Hour).GenerateSessionToken("sess-1")
	require.NoError(t, err)

	_, err = NewSigner("b", time.Hour).ValidateSessionToken(token)
	assert.Error(t, err)
}

func TestSessionToken_Expired(t *testing.T) {
	s := NewSigner("secret", time.Minute)
	issued := time.Now().Add(-time.Hour)
	s.now = func() time.Time { return issued }
	token, err := s.GenerateSessionToken("sess-1")
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.ValidateSessionToken(token)
	assert.Error(t, err)
}

func TestSessionToken_RandomSecret(t *testing.T) {
	a := NewSigner("", time.Hour)
	token, err := a.GenerateSessionToken("sess-1")
	require.NoError(t, err)

	_, err = NewSigner("", time.Hour).ValidateSessionToken(token)
	assert.Error(t, err, "each random secret is unique")

	_, err = a.ValidateSessionToken("garbage")
	assert.Error(t, err)
}
