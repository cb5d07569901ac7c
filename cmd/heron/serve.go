package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/heron/internal/api"
	"github.com/opensource-finance/heron/internal/worker"
	"github.com/spf13/cobra"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and the async worker when enabled)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"gateway", cfg.Gateway.Mode,
		"docstore", cfg.DocStore.Enabled,
	)

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(a.bus, a.pipeline, worker.Config{Concurrency: cfg.Worker.Concurrency})
		if err := asyncWorker.Start(); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
		slog.Info("async worker started", "concurrency", cfg.Worker.Concurrency)
	}

	srv := api.NewServer(cfg.Server, a.apiDeps())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("heron is ready", "host", cfg.Server.Host, "port", cfg.Server.Port)
	printBanner(a)

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		serveErr = err
	}
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("heron shutdown complete")
	return serveErr
}

func printBanner(a *app) {
	cfg := a.cfg
	fmt.Println()
	fmt.Println("  HERON - compliance evaluation pipeline")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  Gateway:  %s\n", cfg.Gateway.Mode)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /transactions/{id}           - Get transaction by ID")
	fmt.Println("    POST /transactions/{id}/evaluate  - Evaluate a transaction (?async=true)")
	fmt.Println("    POST /evaluate/batch              - Evaluate many transactions")
	fmt.Println("    GET  /alerts                      - List alerts")
	fmt.Println("    GET  /alerts/summary              - Dashboard summary")
	fmt.Println("    GET  /alerts/analytics            - Alert analytics")
	fmt.Println("    PUT  /alerts/{id}/status          - Change alert status")
	fmt.Println("    POST /alerts/bulk                 - Bulk status update")
	if a.docs != nil {
		fmt.Println("    GET  /traces                      - Search ISO20022 traces")
		fmt.Println("    POST /traces/ingest               - Ingest traces as transactions")
	}
	fmt.Println("    GET  /health                      - Health check")
	fmt.Println("    GET  /metrics                     - Prometheus metrics")
	fmt.Println()
}
