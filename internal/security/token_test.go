package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)
	tok, err := svc.CreateForUser("u-1", "alice")
	require.NoError(t, err)

	claims, err := svc.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims["sub"])
	assert.Equal(t, "alice", claims["name"])

	sub, err := SubjectOf(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", sub)
}

func TestTokenRejectsWrongSecretAndExpiry(t *testing.T) {
	tok, err := NewTokenService("one", time.Hour).CreateForUser("u-1", "alice")
	require.NoError(t, err)
	_, err = NewTokenService("two", time.Hour).Parse(tok)
	assert.Error(t, err)

	svc := NewTokenService("secret", time.Hour)
	expired, err := svc.CreateWithTTL("u-1", "alice", -time.Minute)
	require.NoError(t, err)
	_, err = svc.Parse(expired)
	assert.Error(t, err)
}

func TestSubjectOfMalformed(t *testing.T) {
	_, err := SubjectOf("not-a-token")
	assert.Error(t, err)
}

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(4)
	hashed, err := h.Hash("hunter2")
	require.NoError(t, err)
	assert.NoError(t, h.Verify("hunter2", hashed))
	assert.Error(t, h.Verify("wrong", hashed))
}
