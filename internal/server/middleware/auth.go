package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iudanet/authron/internal/models"
	"github.com/iudanet/authron/internal/server/auth"
	"github.com/iudanet/authron/internal/server/handlers"
	"github.com/iudanet/authron/pkg/api"
)

// Authenticator resolves a bearer token into a live session.
// *auth.Service implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Session, error)
}

// AuthMiddleware создает middleware для проверки токена сессии
func AuthMiddleware(logger *slog.Logger, authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Ожидаем формат: "Bearer <token>"
			token, err := handlers.BearerToken(r)
			if err != nil {
				logger.WarnContext(r.Context(), "missing or malformed Authorization header",
					slog.String("path", sanitizePath(r.URL.Path)))
				unauthorized(w, "missing token")
				return
			}

			session, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrExpired):
					unauthorized(w, "session expired")
				case errors.Is(err, auth.ErrUnauthorized):
					logger.WarnContext(r.Context(), "invalid access token", slog.Any("error", err))
					unauthorized(w, "invalid token")
				default:
					// хранилище сессий недоступно, это не ошибка клиента
					logger.ErrorContext(r.Context(), "failed to authenticate request", slog.Any("error", err))
					writeError(w, "internal server error", http.StatusInternalServerError)
				}
				return
			}

			logger.DebugContext(r.Context(), "request authenticated",
				slog.String("account_id", session.AccountID),
				slog.String("session_id", session.ID))

			next.ServeHTTP(w, r.WithContext(handlers.WithSession(r.Context(), session)))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="authron"`)
	writeError(w, "unauthorized: "+message, http.StatusUnauthorized)
}

// writeError отправляет ошибку в том же формате, что и handlers
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: message})
}
