// Package main provides the monitor worker entry point for the autopilot engine.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/autopilot-engine/internal/app"
	"github.com/autopilot-engine/internal/config"
	"github.com/autopilot-engine/internal/logging"
	"github.com/autopilot-engine/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	log.Println("Autopilot monitor worker starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	if len(cfg.Monitor.Wallets) == 0 {
		logger.Fatal("MONITOR_WALLETS is empty; nothing to monitor")
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	engine, err := app.Build(startupCtx, cfg, prometheus.DefaultRegisterer, logger)
	cancelStartup()
	if err != nil {
		logger.WithError(err).Fatal("Failed to build engine")
	}
	defer engine.Close()

	monitorWorker, err := worker.NewMonitorWorker(&worker.MonitorWorkerConfig{
		Monitor:      engine.Monitor,
		Wallets:      cfg.Monitor.Wallets,
		PollInterval: cfg.Monitor.Interval,
		Logger:       logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create monitor worker")
	}

	if err := monitorWorker.Start(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to start monitor worker")
	}

	logger.WithFields(map[string]interface{}{
		"wallets":  len(cfg.Monitor.Wallets),
		"interval": cfg.Monitor.Interval.String(),
	}).Info("Monitor worker started")

	// Set up graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutdown signal received, stopping worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := monitorWorker.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error stopping monitor worker")
	}

	status := monitorWorker.GetStatus()
	logger.WithFields(map[string]interface{}{
		"poll_failures": status.PollFailures,
		"last_poll":     status.LastPollTime,
	}).Info("Monitor worker stopped")
}
