// Package app wires storage, services, handlers and middleware into an HTTP
// server and runs it until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/iudanet/authron/internal/crypto"
	"github.com/iudanet/authron/internal/server/auth"
	"github.com/iudanet/authron/internal/server/config"
	"github.com/iudanet/authron/internal/server/credentials"
	"github.com/iudanet/authron/internal/server/handlers"
	"github.com/iudanet/authron/internal/server/middleware"
	"github.com/iudanet/authron/internal/server/sharing"
	"github.com/iudanet/authron/internal/server/storage"
	"github.com/iudanet/authron/internal/server/storage/boltdb"
	"github.com/iudanet/authron/internal/server/storage/sqlite"
	"github.com/iudanet/authron/internal/server/vault"
	"github.com/iudanet/authron/internal/totp"
)

// backend is a storage with a health check; both sqlite and boltdb qualify.
type backend interface {
	storage.Storage
	handlers.Pinger
}

// App is the assembled server.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    backend
	auth     *auth.Service
	server   *http.Server
	limiters []*middleware.RateLimiter
	sentry   bool
}

// NewLogger creates the JSON logger used by the server.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// New opens storage and builds the services and the HTTP handler.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	sentryEnabled, err := initSentry(cfg, version)
	if err != nil {
		// Sentry необязателен: сервер работает и без него
		logger.ErrorContext(ctx, "failed to init sentry", slog.Any("error", err))
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	box, err := crypto.NewBox(cfg.MasterKey)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create crypto box: %w", err)
	}

	tokens, err := auth.NewTokenIssuer([]byte(cfg.JWTSecret))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	secrets := vault.New(box, store, logger)
	authService := auth.New(auth.Config{
		SessionTTL:  cfg.SessionTTL,
		PendingTTL:  cfg.PendingTTL,
		MaxAttempts: cfg.MaxAttempts,
		TOTPSkew:    cfg.TOTPSkew,
	}, store, store, secrets, tokens, logger)
	credService := credentials.New(secrets, store, totp.New(cfg.TOTPSkew), logger)
	shareService := sharing.New(secrets, store, store, logger, sharing.WithInviteTTL(cfg.InviteTTL))

	a := &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
		auth:   authService,
		sentry: sentryEnabled,
	}

	handler := a.routes(
		handlers.NewHealthHandler(logger, store, version),
		handlers.NewAuthHandler(logger, authService),
		handlers.NewCredentialHandler(logger, credService),
		handlers.NewShareHandler(logger, shareService),
	)

	a.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	return a, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

func openStorage(ctx context.Context, cfg *config.Config) (backend, error) {
	switch cfg.StorageBackend {
	case config.BackendBolt:
		s, err := boltdb.New(ctx, cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt storage: %w", err)
		}
		return s, nil
	case config.BackendSQLite:
		s, err := sqlite.New(ctx, cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func initSentry(cfg *config.Config, version string) (bool, error) {
	if cfg.SentryDSN == "" {
		return false, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		Release:          "authron@" + version,
		AttachStacktrace: true,
	})
	if err != nil {
		return false, fmt.Errorf("failed to init sentry: %w", err)
	}
	return true, nil
}

// Run serves HTTP and sweeps expired sessions until ctx is cancelled or the
// listener fails, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Address, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.sweepLoop(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.InfoContext(ctx, "server started", slog.String("address", ln.Addr().String()))
		serveErr <- a.server.Serve(ln)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer shutdownCancel()

	a.logger.InfoContext(shutdownCtx, "shutting down server")
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("failed to shutdown server: %w", err))
	}

	wg.Wait()

	return runErr
}

// sweepLoop periodically removes expired sessions and pending logins.
func (a *App) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *App) sweep(ctx context.Context) {
	n, err := a.auth.SweepExpired(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to sweep expired sessions", slog.Any("error", err))
		return
	}
	if n > 0 {
		a.logger.DebugContext(ctx, "expired sessions swept", slog.Int("removed", n))
	}
}

// Close stops background work and releases storage. Call after Run returns.
func (a *App) Close() error {
	for _, l := range a.limiters {
		l.Stop()
	}
	if a.sentry {
		sentry.Flush(2 * time.Second)
	}
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	return nil
}
