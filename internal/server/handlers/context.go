package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/iudanet/authron/internal/models"
)

// contextKey тип для ключей контекста
type contextKey string

const (
	// SessionKey ключ для хранения сессии в контексте
	SessionKey contextKey = "session"
)

// ErrMissingToken is returned by BearerToken when no usable token is present.
var ErrMissingToken = errors.New("missing bearer token")

// WithSession кладет аутентифицированную сессию в контекст
func WithSession(ctx context.Context, session *models.Session) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

// GetSession извлекает сессию из контекста запроса
func GetSession(ctx context.Context) (*models.Session, bool) {
	session, ok := ctx.Value(SessionKey).(*models.Session)
	return session, ok && session != nil
}

// GetUserID извлекает ID аккаунта из контекста запроса
func GetUserID(ctx context.Context) (string, bool) {
	session, ok := GetSession(ctx)
	if !ok {
		return "", false
	}
	return session.AccountID, true
}

// BearerToken извлекает токен из заголовка "Authorization: Bearer <token>"
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMissingToken
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
