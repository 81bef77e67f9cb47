package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "homelab-test-secret-0123456789"

func newTestService(t *testing.T) *Service {
	t.Helper()
	registry := NewRevocationRegistry(time.Hour, time.Hour)
	t.Cleanup(registry.Close)
	return NewService(testSecret, time.Hour, registry)
}

func TestGeneratedTokenIsValid(t *testing.T) {
	svc := newTestService(t)

	tok, err := svc.Generate("user-42")
	require.NoError(t, err)

	assert.Equal(t, StatusValid, svc.Validate(tok))

	subject, err := svc.Subject(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-42", subject)
}

func TestEmptyTokenIsInvalid(t *testing.T) {
	svc := newTestService(t)
	assert.Equal(t, StatusInvalid, svc.Validate(""))
}

func TestShortTokenIsInvalid(t *testing.T) {
	svc := newTestService(t)
	assert.Equal(t, StatusInvalid, svc.Validate("abc"))
}

func TestGarbageTokenIsInvalid(t *testing.T) {
	svc := newTestService(t)
	assert.Equal(t, StatusInvalid, svc.Validate("not.a.real-jwt-token"))
}

func TestTamperedSignatureIsInvalid(t *testing.T) {
	svc := newTestService(t)
	other := NewService("another-secret-entirely-here", time.Hour, nil)

	tok, err := other.Generate("user-42")
	require.NoError(t, err)

	assert.Equal(t, StatusInvalid, svc.Validate(tok))
}

func TestRevokedTokenIsBlacklisted(t *testing.T) {
	svc := newTestService(t)

	tok, err := svc.Generate("user-42")
	require.NoError(t, err)
	require.Equal(t, StatusValid, svc.Validate(tok))

	svc.Revoke(tok)
	assert.Equal(t, StatusBlacklisted, svc.Validate(tok))

	_, err = svc.Subject(tok)
	assert.ErrorIs(t, err, ErrTokenNotValid)
}

func TestBlacklistShortCircuitsSignatureCheck(t *testing.T) {
	// A revoked token is reported blacklisted even when it would not
	// verify, so revocation also covers malformed tokens.
	svc := newTestService(t)

	svc.Revoke("garbage-token-that-never-verified")
	assert.Equal(t, StatusBlacklisted, svc.Validate("garbage-token-that-never-verified"))
}

func TestExpiredTokenReportsExpired(t *testing.T) {
	svc := newTestService(t)

	issued := time.Now().Add(-2 * time.Hour)
	svc.now = func() time.Time { return issued }
	tok, err := svc.Generate("user-42")
	require.NoError(t, err)

	svc.now = time.Now
	assert.Equal(t, StatusExpired, svc.Validate(tok))

	_, err = svc.Subject(tok)
	assert.ErrorIs(t, err, ErrTokenNotValid)
}
