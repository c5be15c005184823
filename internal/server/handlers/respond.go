package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/iudanet/authron/internal/server/auth"
	"github.com/iudanet/authron/internal/server/credentials"
	"github.com/iudanet/authron/internal/server/sharing"
	"github.com/iudanet/authron/internal/server/vault"
	"github.com/iudanet/authron/internal/validation"
	"github.com/iudanet/authron/pkg/api"
)

// maxBodySize ограничивает размер тела запроса
const maxBodySize = 1 << 20

// errorStatus maps a domain error to the response sent to the client.
// An empty message means err.Error() is safe to show.
type errorStatus struct {
	err     error
	message string
	status  int
}

// Ownership failures and missing records share one response so that
// foreign ids cannot be probed.
var errorStatuses = []errorStatus{
	{err: validation.ErrInvalid, status: http.StatusBadRequest},
	{err: auth.ErrInvalidCredentials, status: http.StatusUnauthorized},
	{err: auth.ErrInvalidCode, status: http.StatusUnauthorized},
	{err: auth.ErrExpired, status: http.StatusUnauthorized},
	{err: auth.ErrUnauthorized, status: http.StatusUnauthorized},
	{err: auth.ErrAccountDisabled, status: http.StatusForbidden},
	{err: auth.ErrAccountExists, status: http.StatusConflict},
	{err: auth.ErrTOTPAlreadyEnabled, status: http.StatusConflict},
	{err: auth.ErrTOTPNotEnabled, status: http.StatusConflict},
	{err: auth.ErrTOTPNotSetUp, status: http.StatusConflict},
	{err: vault.ErrNotFound, message: "not found", status: http.StatusNotFound},
	{err: vault.ErrForbidden, message: "not found", status: http.StatusNotFound},
	{err: vault.ErrConflict, status: http.StatusConflict},
	{err: vault.ErrStorageUnavailable, message: "service temporarily unavailable", status: http.StatusServiceUnavailable},
	{err: vault.ErrDecryptionFailed, message: "internal server error", status: http.StatusInternalServerError},
	{err: credentials.ErrTOTPNotEnabled, status: http.StatusBadRequest},
	{err: sharing.ErrInvalidToken, message: "invite not found", status: http.StatusNotFound},
	{err: sharing.ErrAlreadyResolved, status: http.StatusConflict},
	{err: sharing.ErrExpired, status: http.StatusGone},
	{err: sharing.ErrSelfShare, status: http.StatusBadRequest},
}

// responder содержит общие для всех handlers методы ответа
type responder struct {
	logger *slog.Logger
}

// sendJSON отправляет JSON ответ
func (h responder) sendJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", slog.Any("error", err))
	}
}

// sendSecret отправляет ответ с расшифрованными данными, запрещая кеширование
func (h responder) sendSecret(w http.ResponseWriter, data any) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	h.sendJSON(w, data, http.StatusOK)
}

// sendError отправляет JSON ответ с ошибкой
func (h responder) sendError(w http.ResponseWriter, message string, statusCode int) {
	resp := api.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	}
	h.sendJSON(w, resp, statusCode)
}

// sendServiceError переводит ошибку сервиса в HTTP статус.
// Неизвестные ошибки логируются и отдаются клиенту как 500 без деталей.
func (h responder) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, es := range errorStatuses {
		if errors.Is(err, es.err) {
			message := es.message
			if message == "" {
				message = err.Error()
			}
			h.sendError(w, message, es.status)
			return
		}
	}

	h.logger.ErrorContext(r.Context(), "request failed",
		slog.String("method", r.Method),
		slog.Any("error", err))
	h.sendError(w, "internal server error", http.StatusInternalServerError)
}

// decodeJSON читает тело запроса в dst
func (h responder) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.WarnContext(r.Context(), "failed to decode request body", slog.Any("error", err))
		h.sendError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// requireAccount возвращает ID аккаунта из контекста или отвечает 401
func (h responder) requireAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID, ok := GetUserID(r.Context())
	if !ok {
		h.sendError(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return accountID, true
}

func pathValue(r *http.Request, name string) (string, error) {
	v := r.PathValue(name)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", validation.ErrInvalid, name)
	}
	return v, nil
}
