package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/autopilot-engine/internal/adapter"
	apperrors "github.com/autopilot-engine/internal/errors"
	"github.com/autopilot-engine/internal/logging"
	"github.com/autopilot-engine/internal/metrics"
	"github.com/autopilot-engine/internal/models"
	"github.com/autopilot-engine/internal/risk"
	"github.com/autopilot-engine/internal/service"
	"github.com/autopilot-engine/internal/storage"
	"github.com/autopilot-engine/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testWallet = "0xAbC" + strings.Repeat("0", 36) + "1"
	testUSDC   = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
)

type staticBalances struct {
	err error
}

func (s staticBalances) GetBalances(context.Context, string) ([]adapter.TokenBalance, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []adapter.TokenBalance{
		{Mint: types.NativeMint, Symbol: "ETH", Amount: decimal.NewFromInt(2)},
		{Mint: testUSDC, Symbol: "USDC", Amount: decimal.NewFromInt(5000)},
	}, nil
}

// mockExecution lets a test force the engine's answer
type mockExecution struct {
	executeFunc func(ctx context.Context, order models.StrategyOrder, portfolio *models.Portfolio) (*models.ExecutedOrder, error)
}

func (m *mockExecution) Execute(ctx context.Context, order models.StrategyOrder, portfolio *models.Portfolio) (*models.ExecutedOrder, error) {
	return m.executeFunc(ctx, order, portfolio)
}

func (m *mockExecution) GetExecutionLog(context.Context, types.StrategyTag, int) ([]models.ExecutedOrder, error) {
	return nil, nil
}

func (m *mockExecution) GetExecutionStats(context.Context) (*models.ExecutionStats, error) {
	return models.NewExecutionStats(), nil
}

type testStack struct {
	server *Server
	log    *storage.MemoryExecutionLog
	risk   *risk.Manager
}

func newTestStack(t *testing.T, cfg ServerConfig, balances adapter.BalanceProvider) *testStack {
	t.Helper()
	logger := logging.NewLoggerWithOutput(logging.LevelError, logging.FormatJSON, io.Discard)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	rm, err := risk.NewManager(risk.Config{Defaults: risk.DefaultLimits(), Store: risk.NewMemoryStore(), Logger: logger})
	require.NoError(t, err)

	prices := adapter.NewStaticPriceSource(map[string]decimal.Decimal{
		types.NativeMint: decimal.NewFromInt(3000),
		testUSDC:         decimal.NewFromInt(1),
	})
	analyzer := service.NewPortfolioAnalyzer(balances, prices, m, logger)
	log := storage.NewMemoryExecutionLog()
	execution, err := service.NewExecutionService(service.ExecutionConfig{
		Risk:          rm,
		Submitter:     adapter.NewPaperSubmitter(0),
		Log:           log,
		Metrics:       m,
		SubmitTimeout: time.Second,
		Logger:        logger,
	})
	require.NoError(t, err)
	monitor := service.NewMonitorService(analyzer, rm, decimal.NewFromInt(10), m, logger)

	cfg.Gatherer = reg
	cfg.Logger = logger
	return &testStack{
		server: NewServer(&cfg, execution, analyzer, monitor, rm),
		log:    log,
		risk:   rm,
	}
}

func (s *testStack) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	return rec
}

func sellOrder(amount int64) models.StrategyOrder {
	return models.StrategyOrder{
		Strategy:   types.StrategyRebalance,
		Side:       types.SideSell,
		InputMint:  testUSDC,
		OutputMint: types.NativeMint,
		Amount:     decimal.NewFromInt(amount),
		Wallet:     testWallet,
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	stack := newTestStack(t, ServerConfig{}, staticBalances{})
	rec := stack.do(t, "GET", "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestUnknownRoute(t *testing.T) {
	stack := newTestStack(t, ServerConfig{}, staticBalances{})
	rec := stack.do(t, "GET", "/api/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeNotFound, decodeError(t, rec).Code)
}

func TestExecuteOrder_AnalyzesWhenPortfolioMissing(t *testing.T) {
	stack := newTestStack(t, ServerConfig{}, staticBalances{})

	rec := stack.do(t, "POST", "/api/orders", ExecuteOrderRequest{Order: sellOrder(600)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var executed models.ExecutedOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &executed))
	assert.Equal(t, types.OutcomeFilled, executed.Outcome)
	assert.True(t, executed.OrderValueUSD.Equal(decimal.NewFromInt(600)))
	assert.Equal(t, 1, stack.log.Len())
}

func TestExecuteOrder_UsesSuppliedPortfolio(t *testing.T) {
	stack := newTestStack(t, ServerConfig{}, staticBalances{err: adapter.ErrProviderUnavailable})
	portfolio := &models.Portfolio{
		Wallet: testWallet,
		Holdings: []models.Holding{
			{Mint: testUSDC, Amount: decimal.NewFromInt(100), ValueUSD: decimal.NewFromInt(200)},
		},
		TotalValueUSD: decimal.NewFromInt(200),
	}

	rec := stack.do(t, "POST", "/api/orders", ExecuteOrderRequest{Order: sellOrder(10), Portfolio: portfolio})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var executed models.ExecutedOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &executed))
	assert.True(t, executed.OrderValueUSD.Equal(decimal.NewFromInt(20)), "priced from the supplied portfolio")
}

func TestExecuteOrder_RiskRejectionIsOK(t *testing.T) {
	stack := newTestStack(t, ServerConfig{}, staticBalances{})

	rec := stack.do(t, "POST", "/api/orders", ExecuteOrderRequest{Order: sellOrder(1500)})
	require.Equal(t, http.StatusOK, rec.Code)

	var executed models.ExecutedOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &executed))
	assert.Equal(t, types.OutcomeRejected, executed.Outcome)
	assert.Equal(t, string(types.ReasonOrderTooLarge), executed.RejectReason)
}

func TestExecuteOrder_InvalidOrder(t *testing.T) {
	stack := newTestStack(t, ServerConfig{}, staticBalances{})
	order := sellOrder(10)
	order.OutputMint = order.InputMint

	rec := stack.do(t, "POST", "/api/orders", ExecuteOrderRequest{Order: order})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeError(t, rec)
	assert.Equal(t, apperrors.CodeInvalidOrder, resp.Code)
	assert.NotEmpty(t, resp.Error)
	require.NotNil(t, resp.Execution)
	assert.Equal(t, types.OutcomeRejected, resp.Execution.Outcome)
	assert.Equal(t, 1, stack.log.Len())
}

func TestExecuteOrder_MalformedRequests(t *testing.T) {
	stack := newTestStack(t, ServerConfig{}, staticBalances{})
	badWallet := sellOrder(10)
	badWallet.Wallet = "not-a-wallet"

	tests := []struct {
		name string
		body interface{}
	}{
		{"not json", "{"},
		{"unknown field", `{"order":{},"extra":1}`},
		{"invalid wallet", ExecuteOrderRequest{Order: badWallet}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := stack.do(t, "POST", "/api/orders", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, apperrors.CodeInvalidParameter, decodeError(t, rec).Code)
		})
	}
	assert.Equal(t, 0, stack.log.Len(), "requests that never reach the engine are not logged")
}

func TestExecuteOrder_UpstreamFailures(t *testing.T) {
	t.Run("analysis unavailable", func(t *testing.T) {
		stack := newTestStack(t, ServerConfig{}, staticBalances{err: adapter.ErrProviderUnavailable})
		rec := stack.do(t, "POST", "/api/orders", ExecuteOrderRequest{Order: sellOrder(10)})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, apperrors.CodeUpstreamUnavailable, decodeError(t, rec).Code)
	})

	t.Run("submission failed carries the record", func(t *testing.T) {
		stack := newTestStack(t, ServerConfig{}, staticBalances{})
		stack.server.execution = &mockExecution{
			executeFunc: func(_ context.Context, order models.StrategyOrder, _ *models.Portfolio) (*models.ExecutedOrder, error) {
				return &models.ExecutedOrder{Seq: 9, OrderID: "ord-9", Order: order, Outcome: types.OutcomeFailed, RejectReason: "submission-unconfirmed"},
					apperrors.NewSubmissionFailedError("ord-9", adapter.ErrSubmissionUnconfirmed)
			},
		}

		rec := stack.do(t, "POST", "/api/orders", ExecuteOrderRequest{Order: sellOrder(10)})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, apperrors.CodeSubmissionFailed, resp.Code)
		require.NotNil(t, resp.Execution)
		assert.Equal(t, "ord-9", resp.Execution.OrderID)
		assert.Equal(t, types.OutcomeFailed, resp.Execution.Outcome)
	})

	t.Run("internal errors are masked", func(t *testing.T) {
		stack := newTestStack(t, ServerConfig{}, staticBalances{})
		stack.server.execution = &mockExecution{
			executeFunc: func(context.Context, models.StrategyOrder, *models.Portfolio) (*models.ExecutedOrder, error) {
				return nil, apperrors.NewInternalError("clickhouse insert failed on shard 3", nil)
			},
		}

		rec := stack.do(t, "POST", "/api/orders", ExecuteOrderRequest{Order: sellOrder(10)})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "shard 3")
	})
}

func TestGetExecutionLogAndStats(t *testing.T) {
	stack := newTestStack(t, ServerConfig{}, staticBalances{})
	for _, amount := range []int64{100, 200, 5000} {
		stack.do(t, "POST", "/api/orders", ExecuteOrderRequest{Order: sellOrder(amount)})
	}
	stop := sellOrder(50)
	stop.Strategy = types.StrategyStopLoss
	stack.do(t, "POST", "/api/orders", ExecuteOrderRequest{Order: stop})

	rec := stack.do(t, "GET", "/api/executions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all ExecutionLogResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, 4, all.Count)
	assert.Equal(t, uint64(4), all.Executions[0].Seq)

	rec = stack.do(t, "GET", "/api/executions?strategy=stop-loss&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stops ExecutionLogResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stops))
	require.Equal(t, 1, stops.Count)
	assert.Equal(t, types.StrategyStopLoss, stops.Executions[0].Order.Strategy)

	for _, path := range []string{"/api/executions?limit=abc", "/api/executions?limit=-1", "/api/executions?strategy=yolo"} {
		rec = stack.do(t, "GET", path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}

	rec = stack.do(t, "GET", "/api/executions/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.ExecutionStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(4), stats.TotalOrders)
	assert.Equal(t, int64(3), stats.SuccessCount)
	assert.Equal(t, int64(1), stats.RejectedCount)
	assert.True(t, stats.TotalVolumeUSD.Equal(decimal.NewFromInt(350)))
	assert.Equal(t, int64(1), stats.PerStrategy[types.StrategyStopLoss].TotalOrders)
}

func TestRiskLimitsEndpoints(t *testing.T) {
	stack := newTestStack(t, ServerConfig{}, staticBalances{})
	path := "/api/wallets/" + testWallet + "/risk/limits"

	rec := stack.do(t, "GET", path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var limits models.RiskLimits
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &limits))
	assert.True(t, limits.MaxOrderValueUSD.Equal(decimal.NewFromInt(1000)))

	rec = stack.do(t, "PUT", path, `{"maxOrderValueUsd":"2500","maxDailyVolumeUsd":"10000","maxConcurrentOrders":2,"cooldownSeconds":30}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := stack.risk.GetLimits(testWallet)
	assert.True(t, updated.MaxOrderValueUSD.Equal(decimal.NewFromInt(2500)))
	assert.Equal(t, 30, updated.CooldownSeconds)

	rec = stack.do(t, "PUT", path, `{"maxOrderValueUsd":"-1","maxDailyVolumeUsd":"0","maxConcurrentOrders":0,"cooldownSeconds":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.CodeInvalidParameter, decodeError(t, rec).Code)

	rec = stack.do(t, "GET", "/api/wallets/0x123/risk/limits", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBudgetPortfolioAndMonitorEndpoints(t *testing.T) {
	stack := newTestStack(t, ServerConfig{}, staticBalances{})
	stack.do(t, "POST", "/api/orders", ExecuteOrderRequest{Order: sellOrder(950)})
	base := "/api/wallets/" + testWallet

	rec := stack.do(t, "GET", base+"/risk/budget", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var budget models.RiskBudgetState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &budget))
	assert.True(t, budget.DailyVolumeConsumedUSD.Equal(decimal.NewFromInt(950)))
	assert.Equal(t, 0, budget.ActiveOrderCount)

	rec = stack.do(t, "GET", base+"/portfolio", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var portfolio models.Portfolio
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &portfolio))
	assert.True(t, portfolio.TotalValueUSD.Equal(decimal.NewFromInt(11000)))

	rec = stack.do(t, "GET", base+"/monitor", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap models.MonitorSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Alerts, 0, "950 of 5000 daily volume is below the warning ratio")
	assert.Equal(t, 3, snap.Limits.MaxConcurrentOrders)
}

func TestMetricsEndpoint(t *testing.T) {
	stack := newTestStack(t, ServerConfig{}, staticBalances{})
	stack.do(t, "POST", "/api/orders", ExecuteOrderRequest{Order: sellOrder(10)})

	rec := stack.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `autopilot_orders_total{outcome="filled",strategy="rebalance"} 1`)
}

func TestRateLimiting(t *testing.T) {
	stack := newTestStack(t, ServerConfig{RequestsPerMinute: 1, Burst: 1}, staticBalances{})

	first := stack.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, first.Code)

	second := stack.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
	assert.Equal(t, apperrors.CodeRateLimitExceeded, decodeError(t, second).Code)

	// a different client has its own bucket
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Client-ID", "strategy-runner-2")
	rec := httptest.NewRecorder()
	stack.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCompression(t *testing.T) {
	stack := newTestStack(t, ServerConfig{}, staticBalances{})
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	stack.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Contains(t, string(body), "healthy")
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)
}
