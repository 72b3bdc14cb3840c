// Package main provides a CLI tool for running database migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/autopilot-engine/internal/config"
	"github.com/autopilot-engine/internal/logging"
	"github.com/autopilot-engine/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version")
		dbType = flag.String("db", "configured", "Database: postgres, clickhouse, or configured (every durable backend selected in the environment)")
		dir    = flag.String("dir", "migrations", "Root directory holding postgres/ and clickhouse/ migrations")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithField("action", *action)

	var targets []string
	switch *dbType {
	case "postgres", "clickhouse":
		targets = []string{*dbType}
	case "configured":
		if cfg.Storage.LimitsBackend == config.BackendPostgres {
			targets = append(targets, "postgres")
		}
		if cfg.Storage.ExecutionLogBackend == config.BackendClickHouse {
			targets = append(targets, "clickhouse")
		}
		if len(targets) == 0 {
			logger.Info("No durable backends configured; nothing to migrate")
			return
		}
	default:
		logger.Fatalf("Unknown database type: %s", *dbType)
	}

	for _, target := range targets {
		var err error
		if target == "postgres" {
			err = runPostgresMigrations(cfg, *action, *dir+"/postgres", logger)
		} else {
			err = runClickHouseMigrations(cfg, *action, *dir+"/clickhouse", logger)
		}
		if err != nil {
			logger.WithError(err).WithField("db", target).Fatal("Migration failed")
		}
	}
}

// runPostgresMigrations manages the wallet risk limits schema
func runPostgresMigrations(cfg *config.Config, action, path string, logger *logging.Logger) error {
	databaseURL := storage.PostgresURL(&cfg.Database.Postgres)
	logger = logger.WithField("db", "postgres")

	switch action {
	case "up":
		if err := storage.RunMigrations(databaseURL, path); err != nil {
			return err
		}
		logger.Info("Postgres migrations applied")
	case "down":
		if err := storage.RollbackMigrations(databaseURL, path); err != nil {
			return err
		}
		logger.Info("Postgres migration rolled back")
	case "version":
		version, dirty, err := storage.MigrationVersion(databaseURL, path)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"version": version,
			"dirty":   dirty,
		}).Info("Postgres migration version")
	default:
		return fmt.Errorf("unknown action: %s", action)
	}
	return nil
}

// runClickHouseMigrations creates the execution log table. The statements are
// idempotent, so only "up" exists.
func runClickHouseMigrations(cfg *config.Config, action, path string, logger *logging.Logger) error {
	if action != "up" {
		return fmt.Errorf("ClickHouse migrations only support 'up' action")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory not found: %s", path)
	}

	db, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Warn("Error closing ClickHouse connection")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := storage.RunClickHouseMigrations(ctx, db, path); err != nil {
		return err
	}
	logger.WithField("db", "clickhouse").Info("ClickHouse migrations applied")
	return nil
}
