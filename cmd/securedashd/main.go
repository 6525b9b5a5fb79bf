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

	"github.com/hnrobert/securedash/internal/config"
	"github.com/hnrobert/securedash/internal/credstore"
	"github.com/hnrobert/securedash/internal/logger"
	"github.com/hnrobert/securedash/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "securedashd: %v\n", err)
		return 2
	}
	if err := logger.Init(cfg.DataDir); err != nil {
		logger.Warn("File logging disabled: %v", err)
	}
	defer logger.Close()

	store := credstore.NewStore(cfg.StorePath)
	srv, err := server.New(cfg, store)
	switch {
	case errors.Is(err, credstore.ErrConfigNotFound):
		logger.Error("Configuration file %s not found. Run securedash-setup init to create it.", cfg.StorePath)
		return 1
	case errors.Is(err, credstore.ErrConfigParse):
		logger.Error("Error loading configuration: %v", err)
		return 1
	case err != nil:
		logger.Error("Starting server failed: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Shutdown: %v", err)
		}
	}()

	logger.Info("securedash listening on %s (store %s, registration %s)", cfg.ListenAddr, cfg.StorePath, cfg.RegistrationMode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server stopped: %v", err)
		return 1
	}
	logger.Info("securedash stopped")
	return 0
}
