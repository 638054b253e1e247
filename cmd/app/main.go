package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carbonledger/internal/app"
	"carbonledger/internal/config"
	"carbonledger/internal/logger"
	"carbonledger/internal/server"
)

const shutdownTimeout = 30 * time.Second

// @title Carbon Ledger API
// @version 1.0
// @description Carbon-credit wallet ledger and payment settlement.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	logger.Init()

	if err := run(); err != nil {
		logger.Fatalf("carbonledger: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Setup(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info("Starting carbonledger", "store", cfg.StoreDriver, "currency", cfg.Currency)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Workers outlive the signal until in-flight requests have drained.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	a, err := app.Build(workCtx, cfg, true)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer a.Close()

	if a.Queue != nil {
		go a.Queue.Start(workCtx)
	}
	go a.Poller.Start(workCtx)

	srv := server.New(cfg, server.Deps{
		Settlement: a.Settlement,
		Webhooks:   a.Reconciler,
		Verifier:   a.Poller,
		Secrets:    a.Processors,
		Limiter:    a.Limiter,
		Health:     a.HealthChecks(),
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "port", cfg.Port)
		if err := srv.Start(cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-sigCtx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown incomplete")
	}
	cancelWork()

	logger.Info("Server stopped")
	return nil
}
