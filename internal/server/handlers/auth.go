package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/auth"
	"github.com/iudanet/authron/pkg/api"
)

// AuthService is the part of auth.Service used by AuthHandler.
type AuthService interface {
	Register(ctx context.Context, in auth.RegisterInput) (*models.Account, error)
	Login(ctx context.Context, email, password string) (auth.LoginResult, error)
	Verify2FA(ctx context.Context, pendingID, code string) (auth.LoginResult, error)
	Logout(ctx context.Context, token string) error
	Account(ctx context.Context, accountID string) (*models.Account, error)
	ChangePassword(ctx context.Context, session *models.Session, oldPassword, newPassword string) error
	Setup2FA(ctx context.Context, accountID string) (auth.TOTPSetup, error)
	Enable2FA(ctx context.Context, accountID, code string) error
	Disable2FA(ctx context.Context, accountID, password string) error
	DeleteAccount(ctx context.Context, accountID, password string) error
}

// AuthHandler обрабатывает запросы авторизации
type AuthHandler struct {
	responder
	auth AuthService
}

// NewAuthHandler создает новый handler для авторизации
func NewAuthHandler(logger *slog.Logger, authService AuthService) *AuthHandler {
	return &AuthHandler{
		responder: responder{logger: logger},
		auth:      authService,
	}
}

// Register обрабатывает POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	account, err := h.auth.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Username: req.Username,
		FullName: req.FullName,
		Password: req.Password,
	})
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	h.sendJSON(w, accountResponse(account), http.StatusCreated)
}

// Login обрабатывает POST /api/v1/auth/login
// Возвращает токен или, при включенной 2FA, pending_login_id
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	h.sendJSON(w, api.LoginResponse{
		AccessToken:    res.Token,
		PendingLoginID: res.PendingLoginID,
		Requires2FA:    res.Requires2FA,
		ExpiresAt:      res.ExpiresAt,
	}, http.StatusOK)
}

// Verify2FA обрабатывает POST /api/v1/auth/2fa/verify
func (h *AuthHandler) Verify2FA(w http.ResponseWriter, r *http.Request) {
	var req api.Verify2FARequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	res, err := h.auth.Verify2FA(r.Context(), req.PendingLoginID, req.Code)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	h.sendJSON(w, api.TokenResponse{AccessToken: res.Token, ExpiresAt: res.ExpiresAt}, http.StatusOK)
}

// Logout обрабатывает POST /api/v1/auth/logout
// Идемпотентен: отсутствующий или недействительный токен не ошибка
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, err := BearerToken(r)
	if err == nil {
		if err := h.auth.Logout(r.Context(), token); err != nil {
			h.sendServiceError(w, r, err)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me обрабатывает GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	account, err := h.auth.Account(r.Context(), accountID)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	h.sendJSON(w, accountResponse(account), http.StatusOK)
}

// ChangePassword обрабатывает POST /api/v1/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	session, ok := GetSession(r.Context())
	if !ok {
		h.sendError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.ChangePasswordRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if err := h.auth.ChangePassword(r.Context(), session, req.OldPassword, req.NewPassword); err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Setup2FA обрабатывает POST /api/v1/auth/2fa/setup
func (h *AuthHandler) Setup2FA(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	setup, err := h.auth.Setup2FA(r.Context(), accountID)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	h.sendSecret(w, api.TOTPSetupResponse{Secret: setup.Secret, URI: setup.URI})
}

// Enable2FA обрабатывает POST /api/v1/auth/2fa/enable
func (h *AuthHandler) Enable2FA(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var req api.CodeRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if err := h.auth.Enable2FA(r.Context(), accountID, req.Code); err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Disable2FA обрабатывает POST /api/v1/auth/2fa/disable
func (h *AuthHandler) Disable2FA(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var req api.PasswordRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if err := h.auth.Disable2FA(r.Context(), accountID, req.Password); err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteAccount обрабатывает DELETE /api/v1/auth/account
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var req api.PasswordRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if err := h.auth.DeleteAccount(r.Context(), accountID, req.Password); err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func accountResponse(a *models.Account) api.AccountResponse {
	return api.AccountResponse{
		ID:          a.ID,
		Email:       a.Email,
		Username:    a.Username,
		FullName:    a.FullName,
		IsAdmin:     a.IsAdmin,
		TOTPEnabled: a.TOTPEnabled,
		CreatedAt:   a.CreatedAt,
	}
}
