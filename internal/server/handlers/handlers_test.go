package handlers

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iudanet/authron/internal/crypto"
	"github.com/iudanet/authron/internal/server/auth"
	"github.com/iudanet/authron/internal/server/credentials"
	"github.com/iudanet/authron/internal/server/sharing"
	"github.com/iudanet/authron/internal/server/storage/sqlite"
	"github.com/iudanet/authron/internal/server/vault"
	"github.com/iudanet/authron/internal/totp"
	"github.com/iudanet/authron/pkg/api"
)

const testPassword = "Correct-Horse-42"

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors in tests
	}
	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler)
}

// testServer собирает handlers поверх настоящих сервисов и sqlite в памяти
type testServer struct {
	handler http.Handler
	auth    *auth.Service
	store   *sqlite.Storage
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	s, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	key := make([]byte, crypto.KeySize)
	_, err = rand.Read(key)
	require.NoError(t, err)
	box, err := crypto.NewBox(key)
	require.NoError(t, err)

	logger := setupTestLogger()
	tokens, err := auth.NewTokenIssuer([]byte("test-secret"))
	require.NoError(t, err)

	store := vault.New(box, s, logger, vault.WithRetryDelay(0))
	authService := auth.New(auth.DefaultConfig(), s, s, store, tokens, logger)
	credService := credentials.New(store, s, totp.New(totp.DefaultSkew), logger)
	shareService := sharing.New(store, s, s, logger)

	authHandler := NewAuthHandler(logger, authService)
	credHandler := NewCredentialHandler(logger, credService)
	shareHandler := NewShareHandler(logger, shareService)

	mux := http.NewServeMux()
	protect := func(h http.HandlerFunc) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r)
			if err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			session, err := authService.Authenticate(r.Context(), token)
			if err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			h(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}

	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/v1/auth/2fa/verify", authHandler.Verify2FA)
	mux.HandleFunc("POST /api/v1/auth/logout", authHandler.Logout)
	mux.Handle("GET /api/v1/auth/me", protect(authHandler.Me))
	mux.Handle("POST /api/v1/auth/change-password", protect(authHandler.ChangePassword))
	mux.Handle("POST /api/v1/auth/2fa/setup", protect(authHandler.Setup2FA))
	mux.Handle("POST /api/v1/auth/2fa/enable", protect(authHandler.Enable2FA))
	mux.Handle("POST /api/v1/auth/2fa/disable", protect(authHandler.Disable2FA))
	mux.Handle("DELETE /api/v1/auth/account", protect(authHandler.DeleteAccount))

	mux.Handle("POST /api/v1/credentials", protect(credHandler.Create))
	mux.Handle("GET /api/v1/credentials", protect(credHandler.List))
	mux.Handle("POST /api/v1/credentials/import", protect(credHandler.Import))
	mux.Handle("GET /api/v1/credentials/{id}", protect(credHandler.Get))
	mux.Handle("PUT /api/v1/credentials/{id}", protect(credHandler.Update))
	mux.Handle("DELETE /api/v1/credentials/{id}", protect(credHandler.Delete))
	mux.Handle("PUT /api/v1/credentials/{id}/favorite", protect(credHandler.SetFavorite))
	mux.Handle("GET /api/v1/credentials/{id}/decrypt", protect(credHandler.Reveal))
	mux.Handle("POST /api/v1/credentials/{id}/totp", protect(credHandler.SetupTOTP))
	mux.Handle("GET /api/v1/credentials/{id}/totp/code", protect(credHandler.TOTPCode))
	mux.Handle("DELETE /api/v1/credentials/{id}/totp", protect(credHandler.DisableTOTP))

	mux.Handle("POST /api/v1/shares", protect(shareHandler.Share))
	mux.Handle("GET /api/v1/shares/pending", protect(shareHandler.Pending))
	mux.Handle("GET /api/v1/shares/stats", protect(shareHandler.Stats))
	mux.Handle("POST /api/v1/shares/{token}/accept", protect(shareHandler.Accept))
	mux.Handle("POST /api/v1/shares/{token}/reject", protect(shareHandler.Reject))

	return &testServer{handler: mux, auth: authService, store: s}
}

// do выполняет запрос; body кодируется в JSON, если это не []byte
func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

// signup регистрирует аккаунт и возвращает токен доступа
func (ts *testServer) signup(t *testing.T, email, username string) string {
	t.Helper()

	w := ts.do(t, http.MethodPost, "/api/v1/auth/register", "", api.RegisterRequest{
		Email:    email,
		Username: username,
		Password: testPassword,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/v1/auth/login", "", api.LoginRequest{Email: email, Password: testPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.LoginResponse
	decode(t, w, &resp)
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(dst), w.Body.String())
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.New(0).CurrentCode(secret, time.Now())
	require.NoError(t, err)
	return code.Code
}
