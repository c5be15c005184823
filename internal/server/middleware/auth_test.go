package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/auth"
	"github.com/iudanet/authron/internal/server/handlers"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelError,
	}
	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler)
}

// mockAuthenticator is a mock implementation of Authenticator for testing
type mockAuthenticator struct {
	sessions map[string]*models.Session
	err      error
}

func (m *mockAuthenticator) Authenticate(_ context.Context, token string) (*models.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	session, ok := m.sessions[token]
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	return session, nil
}

func TestAuthMiddleware_Success(t *testing.T) {
	authenticator := &mockAuthenticator{
		sessions: map[string]*models.Session{
			"good-token": {ID: "sess-1", AccountID: "user123"},
		},
	}

	handler := AuthMiddleware(setupTestLogger(), authenticator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := handlers.GetUserID(r.Context())
		require.True(t, ok, "account id should be in context")
		assert.Equal(t, "user123", userID)

		session, ok := handlers.GetSession(r.Context())
		require.True(t, ok)
		assert.Equal(t, "sess-1", session.ID)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer good-token")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		authErr  error
		name     string
		header   string
		wantBody string
		wantCode int
	}{
		{name: "missing header", header: "", wantCode: http.StatusUnauthorized, wantBody: "missing token"},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantCode: http.StatusUnauthorized, wantBody: "missing token"},
		{name: "bearer without token", header: "Bearer ", wantCode: http.StatusUnauthorized, wantBody: "missing token"},
		{name: "unknown token", header: "Bearer forged", wantCode: http.StatusUnauthorized, wantBody: "invalid token"},
		{name: "expired session", header: "Bearer old", authErr: auth.ErrExpired, wantCode: http.StatusUnauthorized, wantBody: "session expired"},
		{name: "storage failure", header: "Bearer any", authErr: errors.New("disk I/O error"), wantCode: http.StatusInternalServerError, wantBody: "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authenticator := &mockAuthenticator{err: tt.authErr}
			called := false
			handler := AuthMiddleware(setupTestLogger(), authenticator)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.False(t, called, "next handler must not run")
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.NotContains(t, w.Body.String(), "disk I/O")
			if tt.wantCode == http.StatusUnauthorized {
				assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}
