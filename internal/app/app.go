// Package app assembles the engine from configuration. The server and the
// worker binaries share it so both see the same stores and adapters.
package app

import (
	"context"
	"fmt"

	"github.com/autopilot-engine/internal/adapter"
	"github.com/autopilot-engine/internal/circuitbreaker"
	"github.com/autopilot-engine/internal/config"
	"github.com/autopilot-engine/internal/logging"
	"github.com/autopilot-engine/internal/metrics"
	"github.com/autopilot-engine/internal/models"
	"github.com/autopilot-engine/internal/ratelimit"
	"github.com/autopilot-engine/internal/risk"
	"github.com/autopilot-engine/internal/service"
	"github.com/autopilot-engine/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

// App holds the wired services and the connections behind them
type App struct {
	Risk      *risk.Manager
	Analyzer  *service.PortfolioAnalyzer
	Execution *service.ExecutionService
	Monitor   *service.MonitorService
	Metrics   *metrics.Metrics

	postgres   *storage.PostgresDB
	clickhouse *storage.ClickHouseDB
	redis      *storage.RedisCache
	closers    []func()
}

// Build connects only the backends cfg selects and wires the services on top
func Build(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	a := &App{Metrics: metrics.New(reg)}

	if err := a.connect(cfg, logger); err != nil {
		a.Close()
		return nil, err
	}

	riskManager, err := a.buildRisk(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Risk = riskManager

	balances, err := a.buildBalances(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	prices, err := a.buildPrices(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Analyzer = service.NewPortfolioAnalyzer(balances, prices, a.Metrics, logger)

	submitter, err := buildSubmitter(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	var execLog service.ExecutionLog = storage.NewMemoryExecutionLog()
	if cfg.Storage.ExecutionLogBackend == config.BackendClickHouse {
		// with Redis available, every engine appending to the table draws seq
		// from one counter
		if a.redis != nil {
			execLog = storage.NewSharedExecutionLogRepository(a.clickhouse, a.redis.Client())
		} else {
			execLog = storage.NewExecutionLogRepository(a.clickhouse)
		}
	}

	a.Execution, err = service.NewExecutionService(service.ExecutionConfig{
		Risk:          riskManager,
		Submitter:     submitter,
		Log:           execLog,
		Metrics:       a.Metrics,
		SubmitTimeout: cfg.Execution.SubmitTimeout,
		Logger:        logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create execution service: %w", err)
	}

	a.Monitor = service.NewMonitorService(a.Analyzer, riskManager, cfg.Monitor.DrawdownPct, a.Metrics, logger)

	logger.WithFields(map[string]interface{}{
		"budget_backend": cfg.Storage.BudgetBackend,
		"log_backend":    cfg.Storage.ExecutionLogBackend,
		"limits_backend": cfg.Storage.LimitsBackend,
		"submitter":      submitter.Name(),
	}).Info("Engine wired")

	return a, nil
}

// Close releases every connection Build opened
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) connect(cfg *config.Config, logger *logging.Logger) error {
	if cfg.Storage.LimitsBackend == config.BackendPostgres {
		db, err := storage.NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			return fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		a.postgres = db
		a.closers = append(a.closers, db.Close)
		logger.Info("Connected to Postgres")
	}

	if cfg.Storage.ExecutionLogBackend == config.BackendClickHouse {
		db, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		a.clickhouse = db
		a.closers = append(a.closers, func() {
			if err := db.Close(); err != nil {
				logger.WithError(err).Warn("Error closing ClickHouse connection")
			}
		})
		logger.Info("Connected to ClickHouse")
	}

	needsRedis := cfg.Storage.BudgetBackend == config.BackendRedis ||
		cfg.Prices.CacheTTL > 0 ||
		cfg.Chain.CUBudget > 0
	if needsRedis {
		cache, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.redis = cache
		a.closers = append(a.closers, func() {
			if err := cache.Close(); err != nil {
				logger.WithError(err).Warn("Error closing Redis connection")
			}
		})
		logger.Info("Connected to Redis")
	}
	return nil
}

func (a *App) buildRisk(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*risk.Manager, error) {
	var store risk.BudgetStore = risk.NewMemoryStore()
	if cfg.Storage.BudgetBackend == config.BackendRedis {
		redisStore, err := risk.NewRedisStore(a.redis.Client())
		if err != nil {
			return nil, fmt.Errorf("failed to create redis budget store: %w", err)
		}
		store = redisStore
	}

	riskCfg := risk.Config{
		Defaults: models.RiskLimits{
			MaxOrderValueUSD:    cfg.Risk.DefaultMaxOrderValueUSD,
			MaxDailyVolumeUSD:   cfg.Risk.DefaultMaxDailyVolumeUSD,
			MaxConcurrentOrders: cfg.Risk.DefaultMaxConcurrentOrders,
			CooldownSeconds:     cfg.Risk.DefaultCooldownSeconds,
		},
		Store:  store,
		Logger: logger,
	}
	if a.postgres != nil {
		riskCfg.Repository = storage.NewRiskLimitsRepository(a.postgres)
	}

	manager, err := risk.NewManager(riskCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create risk manager: %w", err)
	}
	if err := manager.LoadLimits(ctx); err != nil {
		return nil, err
	}
	return manager, nil
}

func (a *App) buildBalances(cfg *config.Config, logger *logging.Logger) (adapter.BalanceProvider, error) {
	if cfg.Chain.RPCURL == "" {
		return nil, fmt.Errorf("CHAIN_RPC_URL is required")
	}
	client, err := adapter.DialChain(cfg.Chain.RPCURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)

	var reader adapter.ChainReader = client
	if cfg.Chain.CUBudget > 0 {
		tracker, err := ratelimit.NewCUBudgetTracker(&ratelimit.CUBudgetTrackerConfig{
			Redis:          a.redis.Client(),
			TotalBudget:    cfg.Chain.CUBudget,
			ReservedBudget: cfg.Chain.CUReserved,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create CU budget tracker: %w", err)
		}
		limited, err := ratelimit.NewRateLimitedClient(&ratelimit.RateLimitedClientConfig{
			Client:  client,
			Tracker: tracker,
			MaxWait: cfg.Chain.RateMaxWait,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create rate-limited client: %w", err)
		}
		reader = limited
		logger.WithFields(map[string]interface{}{
			"total_cu":    cfg.Chain.CUBudget,
			"reserved_cu": cfg.Chain.CUReserved,
		}).Info("RPC budget enabled")
	}

	return adapter.NewEVMBalanceProvider(adapter.EVMBalanceProviderConfig{
		Client:         reader,
		NativeSymbol:   cfg.Chain.NativeSymbol,
		NativeDecimals: cfg.Chain.NativeDecimal,
		Tokens:         cfg.Chain.Tokens,
		CallTimeout:    cfg.Chain.Timeout,
		Breaker:        circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("evm-balances")),
	})
}

func (a *App) buildPrices(cfg *config.Config) (adapter.PriceSource, error) {
	var source adapter.PriceSource
	if cfg.Prices.URL == "" {
		if len(cfg.Prices.Static) == 0 {
			return nil, fmt.Errorf("PRICE_URL or PRICE_STATIC is required")
		}
		source = adapter.NewStaticPriceSource(cfg.Prices.Static)
	} else {
		httpSource, err := adapter.NewHTTPPriceSource(adapter.HTTPPriceSourceConfig{
			BaseURL: cfg.Prices.URL,
			APIKey:  cfg.Prices.APIKey,
			Timeout: cfg.Prices.Timeout,
			Breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("price-source")),
		})
		if err != nil {
			return nil, err
		}
		source = httpSource
	}

	if cfg.Prices.CacheTTL > 0 {
		source = adapter.NewCachedPriceSource(source, a.redis, cfg.Prices.CacheTTL)
	}
	return source, nil
}

func buildSubmitter(cfg *config.Config) (adapter.Submitter, error) {
	if cfg.Execution.Submitter == config.SubmitterHTTP {
		return adapter.NewHTTPSubmitter(adapter.HTTPSubmitterConfig{
			BaseURL: cfg.Execution.SubmitURL,
			APIKey:  cfg.Execution.APIKey,
			Breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("submitter")),
		})
	}
	return adapter.NewPaperSubmitter(cfg.Execution.PaperFeeBps), nil
}
