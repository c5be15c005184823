package app

import (
	"net/http"

	"github.com/iudanet/authron/internal/server/handlers"
	"github.com/iudanet/authron/internal/server/middleware"
)

const healthPath = "/api/v1/health"

// routes регистрирует все endpoints и оборачивает их в middleware
func (a *App) routes(
	health *handlers.HealthHandler,
	authHandler *handlers.AuthHandler,
	creds *handlers.CredentialHandler,
	shares *handlers.ShareHandler,
) http.Handler {
	mux := http.NewServeMux()

	requireAuth := middleware.AuthMiddleware(a.logger, a.auth)
	protect := func(h http.HandlerFunc) http.Handler {
		return requireAuth(h)
	}

	// Вход и проверка 2FA ограничены по IP: подбор пароля и кода
	loginLimiter := middleware.NewRateLimiter(a.cfg.LoginRateLimit, a.cfg.LoginRateWindow, a.logger)
	a.limiters = append(a.limiters, loginLimiter)
	limit := middleware.RateLimitMiddleware(loginLimiter, a.cfg.TrustProxy, a.logger)

	mux.HandleFunc("GET "+healthPath, health.Health)

	// Публичные endpoints
	mux.Handle("POST /api/v1/auth/register", limit(http.HandlerFunc(authHandler.Register)))
	mux.Handle("POST /api/v1/auth/login", limit(http.HandlerFunc(authHandler.Login)))
	mux.Handle("POST /api/v1/auth/2fa/verify", limit(http.HandlerFunc(authHandler.Verify2FA)))
	// logout идемпотентен и принимает даже истекший токен
	mux.HandleFunc("POST /api/v1/auth/logout", authHandler.Logout)

	// Аккаунт
	mux.Handle("GET /api/v1/auth/me", protect(authHandler.Me))
	mux.Handle("POST /api/v1/auth/change-password", protect(authHandler.ChangePassword))
	mux.Handle("POST /api/v1/auth/2fa/setup", protect(authHandler.Setup2FA))
	mux.Handle("POST /api/v1/auth/2fa/enable", protect(authHandler.Enable2FA))
	mux.Handle("POST /api/v1/auth/2fa/disable", protect(authHandler.Disable2FA))
	mux.Handle("DELETE /api/v1/auth/account", protect(authHandler.DeleteAccount))

	// Записи хранилища
	mux.Handle("POST /api/v1/credentials", protect(creds.Create))
	mux.Handle("GET /api/v1/credentials", protect(creds.List))
	mux.Handle("POST /api/v1/credentials/import", protect(creds.Import))
	mux.Handle("GET /api/v1/credentials/{id}", protect(creds.Get))
	mux.Handle("PUT /api/v1/credentials/{id}", protect(creds.Update))
	mux.Handle("DELETE /api/v1/credentials/{id}", protect(creds.Delete))
	mux.Handle("PUT /api/v1/credentials/{id}/favorite", protect(creds.SetFavorite))
	mux.Handle("GET /api/v1/credentials/{id}/decrypt", protect(creds.Reveal))
	mux.Handle("POST /api/v1/credentials/{id}/totp", protect(creds.SetupTOTP))
	mux.Handle("GET /api/v1/credentials/{id}/totp/code", protect(creds.TOTPCode))
	mux.Handle("DELETE /api/v1/credentials/{id}/totp", protect(creds.DisableTOTP))

	// Передача записей
	mux.Handle("POST /api/v1/shares", protect(shares.Share))
	mux.Handle("GET /api/v1/shares/pending", protect(shares.Pending))
	mux.Handle("GET /api/v1/shares/stats", protect(shares.Stats))
	mux.Handle("POST /api/v1/shares/{token}/accept", protect(shares.Accept))
	mux.Handle("POST /api/v1/shares/{token}/reject", protect(shares.Reject))

	// recovery -> logging -> mux
	logged := middleware.LoggingWithSkip(a.logger, []string{healthPath})(mux)
	return middleware.RecoveryMiddleware(a.logger)(logged)
}
