package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/wrenchly/internal"
	"github.com/DukeRupert/wrenchly/internal/app"
	"github.com/DukeRupert/wrenchly/internal/jobs"
	"github.com/DukeRupert/wrenchly/internal/worker"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Connect backends and build services
	svc, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	// ==========================================================================
	// Background worker
	// ==========================================================================

	var bgWorker *worker.Worker
	if cfg.WorkerEnabled {
		workerCfg := worker.DefaultConfig()
		workerCfg.JobTimeout = cfg.WorkerJobTimeout
		workerCfg.MaxAttempts = cfg.WorkerMaxAttempts

		bgWorker, err = worker.New(workerCfg, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}

		if err := bgWorker.Register(jobs.NewPeriodRolloverHandler(svc.Rollover, logger), cfg.RolloverInterval, worker.RunOnStart()); err != nil {
			return err
		}
		if err := bgWorker.Register(jobs.NewAlertSweepHandler(svc.Alerting, logger), cfg.AlertSweepInterval); err != nil {
			return err
		}
		if err := bgWorker.Register(jobs.NewSnapshotFlushHandler(svc.Report, logger), cfg.SnapshotFlushInterval); err != nil {
			return err
		}
		if svc.Billing != nil {
			syncHandler := jobs.NewSubscriptionSyncHandler(svc.Billing, svc.Subscriptions, svc.Quota, logger)
			if err := bgWorker.Register(syncHandler, cfg.SubscriptionSyncInterval, worker.RunOnStart()); err != nil {
				return err
			}
		} else {
			logger.Info("Stripe not configured, subscription sync disabled")
		}

		bgWorker.Start(ctx)
		logger.Info("Background worker started")
	}

	routes := newRouter(cfg, svc, logger)
	defer routes.Stop()

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           routes,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "usage_store", cfg.UsageStore)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	if bgWorker != nil {
		bgWorker.Stop()
	}

	// Drain background observations before the final flush.
	routes.Wait()

	if n, err := svc.Report.FlushSnapshots(shutdownCtx); err != nil {
		logger.Error("Final snapshot flush failed", "error", err)
	} else {
		logger.Info("Final snapshot flush complete", "deltas", n)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
