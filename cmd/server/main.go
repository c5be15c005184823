package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iudanet/authron/internal/server/app"
	"github.com/iudanet/authron/internal/server/config"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "authron-server: %v\n", err)
		return 2
	}

	// Show version and exit if requested
	if cfg.ShowVersion {
		printVersion()
		return 0
	}

	level, _ := cfg.SlogLevel()
	logger := app.NewLogger(os.Stdout, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	logger.InfoContext(ctx, "starting Authron server",
		slog.String("version", Version),
		slog.String("config", cfg.String()))

	a, err := app.New(ctx, cfg, logger, Version)
	if err != nil {
		logger.ErrorContext(ctx, "failed to initialize server", slog.Any("error", err))
		return 1
	}

	code := 0
	if err := a.Run(ctx); err != nil {
		logger.ErrorContext(ctx, "server stopped with error", slog.Any("error", err))
		code = 1
	}

	if err := a.Close(); err != nil {
		logger.Error("failed to close server", slog.Any("error", err))
		code = 1
	}

	logger.Info("server stopped")
	return code
}

func printVersion() {
	fmt.Printf("Authron Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
