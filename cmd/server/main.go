package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/debrand/internal/api"
	"github.com/dgallion1/debrand/internal/cleaner"
	"github.com/dgallion1/debrand/internal/config"
	"github.com/dgallion1/debrand/internal/store"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	cleaner.ConfigureLogging(cfg.Debug)
	if err := cleaner.SetLicenseKey(cfg.UnipdfLicenseKey, cfg.UnipdfCustomerName); err != nil {
		log.Warn("unipdf license not applied", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Result store with background TTL eviction.
	results := store.New(cfg.ResultTTL)
	go results.RunCleanup(ctx, 5*time.Minute)

	metrics := store.NewMetrics()

	// Initialize HTTP server.
	srv := api.NewServer(results, metrics, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting debrand", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
