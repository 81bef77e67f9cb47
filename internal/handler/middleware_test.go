package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"security-service/internal/token"
)

func newTestTokenService(t *testing.T) *token.Service {
	t.Helper()
	registry := token.NewRevocationRegistry(time.Hour, time.Minute)
	t.Cleanup(registry.Close)
	return token.NewService("test-secret-key-0123456789", time.Hour, registry)
}

func protectedEcho(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, ok := SubjectFromContext(r.Context())
		require.True(t, ok)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(subject))
	})
}

func TestAuthMiddlewareAllowsValidToken(t *testing.T) {
	tokens := newTestTokenService(t)
	signed, err := tokens.Generate("user-42")
	require.NoError(t, err)

	mw := AuthMiddleware(tokens)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	mw(protectedEcho(t)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-42", rec.Body.String())
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	tokens := newTestTokenService(t)

	mw := AuthMiddleware(tokens)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)

	mw(protectedEcho(t)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "unauthorized")
}

func TestAuthMiddlewareRejectsRevokedToken(t *testing.T) {
	tokens := newTestTokenService(t)
	signed, err := tokens.Generate("user-42")
	require.NoError(t, err)
	tokens.Revoke(signed)

	mw := AuthMiddleware(tokens)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	mw(protectedEcho(t)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareRejectsGarbageToken(t *testing.T) {
	tokens := newTestTokenService(t)

	mw := AuthMiddleware(tokens)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt-at-all")

	mw(protectedEcho(t)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestClientIPStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	assert.Equal(t, "203.0.113.7", clientIP(req))

	req.RemoteAddr = "203.0.113.7"
	assert.Equal(t, "203.0.113.7", clientIP(req))
}
