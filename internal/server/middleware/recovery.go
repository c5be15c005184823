package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
)

// RecoveryMiddleware создает middleware для восстановления после паники
// Перехватывает panic, логирует стек вызовов, отправляет событие в Sentry
// и возвращает 500 Internal Server Error
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}

				// Получаем стек вызовов для диагностики
				stackTrace := debug.Stack()

				logger.ErrorContext(r.Context(), "Panic recovered",
					slog.Any("error", rec),
					slog.String("method", r.Method),
					slog.String("path", sanitizePath(r.URL.Path)),
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("stack", string(stackTrace)),
				)

				hub := sentry.GetHubFromContext(r.Context())
				if hub == nil {
					hub = sentry.CurrentHub().Clone()
				}
				hub.WithScope(func(scope *sentry.Scope) {
					scope.SetTag("method", r.Method)
					scope.SetTag("path", sanitizePath(r.URL.Path))
					scope.SetExtra("stack", string(stackTrace))
					if err, ok := rec.(error); ok {
						hub.CaptureException(err)
						return
					}
					hub.CaptureException(fmt.Errorf("panic: %v", rec))
				})

				// Возвращаем generic ошибку клиенту (не раскрываем детали)
				writeError(w, "internal server error", http.StatusInternalServerError)
			}()

			// Передаем управление следующему обработчику
			next.ServeHTTP(w, r)
		})
	}
}
