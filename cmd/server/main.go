// Command ledger-server serves the event ledger REST API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/event-ledger/internal/app"
	"github.com/and161185/event-ledger/internal/config"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, wires the stores and serves HTTP until SIGINT/SIGTERM.
func main() {
	cfg, _, err := config.Load("ledger-server", os.Args[1:])
	if err == nil {
		err = cfg.RequireJWTKey()
	}
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.HTTPAddr),
		zap.Bool("dev", cfg.Dev),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build app", zap.Error(err))
	}
	defer a.Close()

	if cfg.SweepInterval > 0 {
		go a.RunSweepLoop(ctx, cfg.SweepInterval, time.Now)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.API().Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown", zap.Error(err))
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			a.Close()
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
