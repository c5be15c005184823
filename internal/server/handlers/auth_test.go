package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/auth"
	"github.com/iudanet/authron/pkg/api"
)

// mockAuthService is a mock implementation of AuthService for testing
type mockAuthService struct {
	AuthService
	loginFunc  func(ctx context.Context, email, password string) (auth.LoginResult, error)
	logoutFunc func(ctx context.Context, token string) error
	logoutCall int
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (auth.LoginResult, error) {
	return m.loginFunc(ctx, email, password)
}

func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	m.logoutCall++
	if m.logoutFunc != nil {
		return m.logoutFunc(ctx, token)
	}
	return nil
}

func TestAuthHandler_Login_ErrorMapping(t *testing.T) {
	tests := []struct {
		err      error
		name     string
		wantBody string
		wantCode int
	}{
		{name: "invalid credentials", err: auth.ErrInvalidCredentials, wantCode: http.StatusUnauthorized, wantBody: "invalid email or password"},
		{name: "disabled account", err: auth.ErrAccountDisabled, wantCode: http.StatusForbidden},
		{name: "storage error", err: errors.New("database is locked"), wantCode: http.StatusInternalServerError, wantBody: "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				loginFunc: func(context.Context, string, string) (auth.LoginResult, error) {
					return auth.LoginResult{}, tt.err
				},
			}
			handler := NewAuthHandler(setupTestLogger(), svc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"a@b.co","password":"x"}`))
			w := httptest.NewRecorder()
			handler.Login(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
			assert.NotContains(t, w.Body.String(), "database is locked")
		})
	}
}

func TestAuthHandler_Login_InvalidJSON(t *testing.T) {
	handler := NewAuthHandler(setupTestLogger(), &mockAuthService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader("invalid json"))
	w := httptest.NewRecorder()
	handler.Login(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request body")
}

func TestAuthHandler_Login_TwoFactorChallenge(t *testing.T) {
	expires := time.Date(2024, 6, 1, 12, 5, 0, 0, time.UTC)
	svc := &mockAuthService{
		loginFunc: func(context.Context, string, string) (auth.LoginResult, error) {
			return auth.LoginResult{PendingLoginID: "pending-1", Requires2FA: true, ExpiresAt: expires}, nil
		},
	}
	handler := NewAuthHandler(setupTestLogger(), svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"a@b.co","password":"x"}`))
	w := httptest.NewRecorder()
	handler.Login(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "access_token")

	var resp api.LoginResponse
	decode(t, w, &resp)
	assert.True(t, resp.Requires2FA)
	assert.Equal(t, "pending-1", resp.PendingLoginID)
	assert.True(t, expires.Equal(resp.ExpiresAt))
}

func TestAuthHandler_Logout_Idempotent(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantCalled int
	}{
		{name: "valid header", header: "Bearer token", wantCalled: 1},
		{name: "no header", header: "", wantCalled: 0},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz", wantCalled: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{}
			handler := NewAuthHandler(setupTestLogger(), svc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.Logout(w, req)

			assert.Equal(t, http.StatusNoContent, w.Code)
			assert.Equal(t, tt.wantCalled, svc.logoutCall)
		})
	}
}

func TestAuthHandler_Me_Unauthorized(t *testing.T) {
	handler := NewAuthHandler(setupTestLogger(), &mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	w := httptest.NewRecorder()
	handler.Me(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthFlow_Register(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/auth/register", "", api.RegisterRequest{
		Email:    "Alice@Example.com",
		Username: "alice",
		FullName: "Alice",
		Password: testPassword,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "password")

	var account api.AccountResponse
	decode(t, w, &account)
	assert.Equal(t, "alice@example.com", account.Email)
	assert.NotEmpty(t, account.ID)

	tests := []struct {
		name     string
		req      api.RegisterRequest
		wantCode int
	}{
		{name: "duplicate email", req: api.RegisterRequest{Email: "alice@example.com", Username: "alice2", Password: testPassword}, wantCode: http.StatusConflict},
		{name: "weak password", req: api.RegisterRequest{Email: "bob@example.com", Username: "bob", Password: "password"}, wantCode: http.StatusBadRequest},
		{name: "bad email", req: api.RegisterRequest{Email: "bob", Username: "bob", Password: testPassword}, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/auth/register", "", tt.req)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}
}

func TestAuthFlow_LoginMeLogout(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signup(t, "alice@example.com", "alice")

	w := ts.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me api.AccountResponse
	decode(t, w, &me)
	assert.Equal(t, "alice", me.Username)

	w = ts.do(t, http.MethodPost, "/api/v1/auth/login", "", api.LoginRequest{Email: "alice@example.com", Password: "Wrong-Password-1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	wrongPassword := w.Body.String()

	w = ts.do(t, http.MethodPost, "/api/v1/auth/login", "", api.LoginRequest{Email: "nobody@example.com", Password: testPassword})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, wrongPassword, w.Body.String(), "responses must not reveal whether the email exists")

	w = ts.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAuthFlow_TwoFactor(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signup(t, "alice@example.com", "alice")

	w := ts.do(t, http.MethodPost, "/api/v1/auth/2fa/setup", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	var setup api.TOTPSetupResponse
	decode(t, w, &setup)
	require.NotEmpty(t, setup.Secret)

	w = ts.do(t, http.MethodPost, "/api/v1/auth/2fa/enable", token, api.CodeRequest{Code: currentCode(t, setup.Secret)})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/v1/auth/2fa/setup", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/auth/login", "", api.LoginRequest{Email: "alice@example.com", Password: testPassword})
	require.Equal(t, http.StatusOK, w.Code)
	var challenge api.LoginResponse
	decode(t, w, &challenge)
	require.True(t, challenge.Requires2FA)
	require.Empty(t, challenge.AccessToken)

	w = ts.do(t, http.MethodPost, "/api/v1/auth/2fa/verify", "", api.Verify2FARequest{PendingLoginID: challenge.PendingLoginID, Code: "abcdef"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/auth/2fa/verify", "", api.Verify2FARequest{
		PendingLoginID: challenge.PendingLoginID,
		Code:           currentCode(t, setup.Secret),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tokenResp api.TokenResponse
	decode(t, w, &tokenResp)
	assert.NotEmpty(t, tokenResp.AccessToken)

	w = ts.do(t, http.MethodPost, "/api/v1/auth/2fa/verify", "", api.Verify2FARequest{
		PendingLoginID: challenge.PendingLoginID,
		Code:           currentCode(t, setup.Secret),
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "pending login is single use")

	w = ts.do(t, http.MethodPost, "/api/v1/auth/2fa/disable", tokenResp.AccessToken, api.PasswordRequest{Password: testPassword})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAuthFlow_ChangePasswordAndDelete(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signup(t, "alice@example.com", "alice")

	w := ts.do(t, http.MethodPost, "/api/v1/auth/change-password", token, api.ChangePasswordRequest{
		OldPassword: testPassword,
		NewPassword: "Another-Secret-9",
	})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = ts.do(t, http.MethodDelete, "/api/v1/auth/account", token, api.PasswordRequest{Password: testPassword})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/v1/auth/account", token, api.PasswordRequest{Password: "Another-Secret-9"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, err := ts.store.GetAccountByEmail(context.Background(), "alice@example.com")
	assert.Error(t, err)

	w = ts.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer abc.def", want: "abc.def"},
		{name: "lowercase scheme", header: "bearer abc", want: "abc"},
		{name: "missing", header: "", wantErr: true},
		{name: "no token", header: "Bearer ", wantErr: true},
		{name: "basic", header: "Basic abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := BearerToken(req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMissingToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetSession(t *testing.T) {
	_, ok := GetUserID(context.Background())
	assert.False(t, ok)

	ctx := WithSession(context.Background(), &models.Session{ID: "s", AccountID: "a"})
	id, ok := GetUserID(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", id)
}
