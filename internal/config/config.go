// Package config provides configuration management for the autopilot engine.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Risk      RiskConfig
	Execution ExecutionConfig
	Chain     ChainConfig
	Prices    PriceConfig
	Monitor   MonitorConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// Storage backend names
const (
	BackendMemory     = "memory"
	BackendRedis      = "redis"
	BackendClickHouse = "clickhouse"
	BackendPostgres   = "postgres"
)

// StorageConfig selects the backend for each piece of engine state
type StorageConfig struct {
	BudgetBackend       string // memory | redis
	ExecutionLogBackend string // memory | clickhouse
	LimitsBackend       string // memory | postgres
}

// RiskConfig holds the limits applied to wallets without explicit configuration
type RiskConfig struct {
	DefaultMaxOrderValueUSD    decimal.Decimal
	DefaultMaxDailyVolumeUSD   decimal.Decimal
	DefaultMaxConcurrentOrders int
	DefaultCooldownSeconds     int
}

// Submitter modes
const (
	SubmitterPaper = "paper"
	SubmitterHTTP  = "http"
)

// ExecutionConfig holds order submission configuration
type ExecutionConfig struct {
	SubmitTimeout time.Duration
	Submitter     string // paper | http
	SubmitURL     string
	APIKey        string
	PaperFeeBps   int
}

// ChainConfig holds the balance provider's chain configuration
type ChainConfig struct {
	RPCURL        string
	NativeSymbol  string
	NativeDecimal int
	Tokens        []TokenConfig
	Timeout       time.Duration

	// CUBudget meters RPC calls per second through Redis when positive
	CUBudget    int
	CUReserved  int
	RateMaxWait time.Duration
}

// TokenConfig describes one tracked ERC-20 token
type TokenConfig struct {
	Address  string
	Decimals int
	Symbol   string
}

// PriceConfig holds price source configuration
type PriceConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	// CacheTTL caches quotes in Redis when positive
	CacheTTL time.Duration
	// Static prices keyed by mint, used when URL is empty
	Static map[string]decimal.Decimal
}

// MonitorConfig holds monitor and monitor worker configuration
type MonitorConfig struct {
	DrawdownPct decimal.Decimal
	Interval    time.Duration
	Wallets     []string
}

// RateLimitConfig holds inbound API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	tokens, err := parseTokens(getEnv("CHAIN_TOKENS", ""))
	if err != nil {
		return nil, err
	}

	staticPrices, err := parseStaticPrices(getEnv("PRICE_STATIC", ""))
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "autopilot"),
				User:           getEnv("POSTGRES_USER", "autopilot"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "autopilot"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Storage: StorageConfig{
			BudgetBackend:       getEnv("RISK_BUDGET_BACKEND", BackendMemory),
			ExecutionLogBackend: getEnv("EXECUTION_LOG_BACKEND", BackendMemory),
			LimitsBackend:       getEnv("RISK_LIMITS_BACKEND", BackendMemory),
		},
		Risk: RiskConfig{
			DefaultMaxOrderValueUSD:    getEnvAsDecimal("RISK_DEFAULT_MAX_ORDER_USD", decimal.NewFromInt(1000)),
			DefaultMaxDailyVolumeUSD:   getEnvAsDecimal("RISK_DEFAULT_MAX_DAILY_USD", decimal.NewFromInt(5000)),
			DefaultMaxConcurrentOrders: getEnvAsInt("RISK_DEFAULT_MAX_CONCURRENT", 3),
			DefaultCooldownSeconds:     getEnvAsInt("RISK_DEFAULT_COOLDOWN_SECONDS", 0),
		},
		Execution: ExecutionConfig{
			SubmitTimeout: getEnvAsDuration("EXECUTION_SUBMIT_TIMEOUT", 15*time.Second),
			Submitter:     getEnv("EXECUTION_SUBMITTER", SubmitterPaper),
			SubmitURL:     getEnv("EXECUTION_SUBMIT_URL", ""),
			APIKey:        getEnv("EXECUTION_API_KEY", ""),
			PaperFeeBps:   getEnvAsInt("EXECUTION_PAPER_FEE_BPS", 10),
		},
		Chain: ChainConfig{
			RPCURL:        getEnv("CHAIN_RPC_URL", ""),
			NativeSymbol:  getEnv("CHAIN_NATIVE_SYMBOL", "ETH"),
			NativeDecimal: getEnvAsInt("CHAIN_NATIVE_DECIMALS", 18),
			Tokens:        tokens,
			Timeout:       getEnvAsDuration("CHAIN_TIMEOUT", 10*time.Second),
			CUBudget:      getEnvAsInt("CHAIN_CU_BUDGET", 0),
			CUReserved:    getEnvAsInt("CHAIN_CU_RESERVED", 0),
			RateMaxWait:   getEnvAsDuration("CHAIN_RATE_MAX_WAIT", 5*time.Second),
		},
		Prices: PriceConfig{
			URL:      getEnv("PRICE_URL", ""),
			APIKey:   getEnv("PRICE_API_KEY", ""),
			Timeout:  getEnvAsDuration("PRICE_TIMEOUT", 5*time.Second),
			CacheTTL: getEnvAsDuration("PRICE_CACHE_TTL", 0),
			Static:   staticPrices,
		},
		Monitor: MonitorConfig{
			DrawdownPct: getEnvAsDecimal("MONITOR_DRAWDOWN_PCT", decimal.NewFromInt(10)),
			Interval:    getEnvAsDuration("MONITOR_INTERVAL", time.Minute),
			Wallets:     getEnvAsList("MONITOR_WALLETS"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 600),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 50),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks backend selections and numeric ranges
func (c *Config) Validate() error {
	switch c.Storage.BudgetBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unsupported RISK_BUDGET_BACKEND %q", c.Storage.BudgetBackend)
	}
	switch c.Storage.ExecutionLogBackend {
	case BackendMemory, BackendClickHouse:
	default:
		return fmt.Errorf("unsupported EXECUTION_LOG_BACKEND %q", c.Storage.ExecutionLogBackend)
	}
	switch c.Storage.LimitsBackend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("unsupported RISK_LIMITS_BACKEND %q", c.Storage.LimitsBackend)
	}
	switch c.Execution.Submitter {
	case SubmitterPaper:
	case SubmitterHTTP:
		if c.Execution.SubmitURL == "" {
			return fmt.Errorf("EXECUTION_SUBMIT_URL is required for the http submitter")
		}
	default:
		return fmt.Errorf("unsupported EXECUTION_SUBMITTER %q", c.Execution.Submitter)
	}
	if c.Chain.CUBudget < 0 || c.Chain.CUReserved < 0 || c.Chain.CUReserved > c.Chain.CUBudget {
		return fmt.Errorf("CHAIN_CU_RESERVED must be between 0 and CHAIN_CU_BUDGET")
	}
	if c.Execution.SubmitTimeout <= 0 {
		return fmt.Errorf("EXECUTION_SUBMIT_TIMEOUT must be positive")
	}
	if c.Risk.DefaultMaxOrderValueUSD.IsNegative() || c.Risk.DefaultMaxDailyVolumeUSD.IsNegative() ||
		c.Risk.DefaultMaxConcurrentOrders < 0 || c.Risk.DefaultCooldownSeconds < 0 {
		return fmt.Errorf("default risk limits cannot be negative")
	}
	return nil
}

// parseTokens parses "address:decimals:symbol" entries separated by commas
func parseTokens(raw string) ([]TokenConfig, error) {
	var tokens []TokenConfig
	for _, item := range splitList(raw) {
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid CHAIN_TOKENS entry %q: want address:decimals:symbol", item)
		}
		decimals, err := strconv.Atoi(parts[1])
		if err != nil || decimals < 0 {
			return nil, fmt.Errorf("invalid decimals in CHAIN_TOKENS entry %q", item)
		}
		tokens = append(tokens, TokenConfig{
			Address:  strings.ToLower(parts[0]),
			Decimals: decimals,
			Symbol:   parts[2],
		})
	}
	return tokens, nil
}

// parseStaticPrices parses "mint=price" entries separated by commas
func parseStaticPrices(raw string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal)
	for _, item := range splitList(raw) {
		mint, price, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("invalid PRICE_STATIC entry %q: want mint=price", item)
		}
		value, err := decimal.NewFromString(strings.TrimSpace(price))
		if err != nil {
			return nil, fmt.Errorf("invalid price in PRICE_STATIC entry %q: %w", item, err)
		}
		prices[strings.ToLower(strings.TrimSpace(mint))] = value
	}
	return prices, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDecimal gets an environment variable as a decimal with a default value
func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList gets a comma separated environment variable
func getEnvAsList(key string) []string {
	return splitList(getEnv(key, ""))
}
