// Package main provides the API server entry point for the autopilot engine.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/autopilot-engine/internal/api"
	"github.com/autopilot-engine/internal/app"
	"github.com/autopilot-engine/internal/config"
	"github.com/autopilot-engine/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	log.Println("Autopilot engine API server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	engine, err := app.Build(startupCtx, cfg, prometheus.DefaultRegisterer, logger)
	cancelStartup()
	if err != nil {
		logger.WithError(err).Fatal("Failed to build engine")
	}
	defer engine.Close()

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Execution.SubmitTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   cfg.Execution.SubmitTimeout + 5*time.Second,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		Gatherer:          prometheus.DefaultGatherer,
		Logger:            logger,
	}

	server := api.NewServer(serverConfig, engine.Execution, engine.Analyzer, engine.Monitor, engine.Risk)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// In-flight orders get one submission timeout to finish and release
	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
