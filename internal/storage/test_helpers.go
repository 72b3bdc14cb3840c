package storage

import (
	"context"
	"testing"
	"time"

	"github.com/autopilot-engine/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "autopilot_test",
		User:           "autopilot",
		Password:       "autopilot_dev_password",
		MaxConnections: 5,
	}
}

func testClickHouseConfig() *config.ClickHouseConfig {
	return &config.ClickHouseConfig{
		Host:     "localhost",
		Port:     "9000",
		Database: "autopilot_test",
		User:     "default",
		Password: "clickhouse_dev_password",
	}
}
