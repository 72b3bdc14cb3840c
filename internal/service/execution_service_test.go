package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/autopilot-engine/internal/adapter"
	apperrors "github.com/autopilot-engine/internal/errors"
	"github.com/autopilot-engine/internal/logging"
	"github.com/autopilot-engine/internal/metrics"
	"github.com/autopilot-engine/internal/models"
	"github.com/autopilot-engine/internal/risk"
	"github.com/autopilot-engine/internal/storage"
	"github.com/autopilot-engine/internal/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWallet = "0xAbC0000000000000000000000000000000000001"
	testUSDC   = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
)

func usd(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// testPortfolio holds 10 ETH at 3000 and 20000 USDC at 1
func testPortfolio() *models.Portfolio {
	return &models.Portfolio{
		Wallet: types.NormalizeWallet(testWallet),
		Holdings: []models.Holding{
			{Mint: types.NativeMint, Symbol: "ETH", Amount: usd(10), ValueUSD: usd(30000)},
			{Mint: testUSDC, Symbol: "USDC", Amount: usd(20000), ValueUSD: usd(20000)},
		},
		TotalValueUSD: usd(50000),
		Timestamp:     time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC),
	}
}

func sellUSDC(amount int64) models.StrategyOrder {
	return models.StrategyOrder{
		Strategy:   types.StrategyRebalance,
		Side:       types.SideSell,
		InputMint:  testUSDC,
		OutputMint: types.NativeMint,
		Amount:     usd(amount),
		Wallet:     testWallet,
	}
}

type funcSubmitter func(ctx context.Context, req adapter.SubmitRequest) (*adapter.SubmitResult, error)

func (f funcSubmitter) Name() string { return "fake" }

func (f funcSubmitter) Submit(ctx context.Context, req adapter.SubmitRequest) (*adapter.SubmitResult, error) {
	return f(ctx, req)
}

func confirmed(req adapter.SubmitRequest) *adapter.SubmitResult {
	return &adapter.SubmitResult{
		TxID:         "tx-" + req.OrderID,
		ResultAmount: req.Order.Amount,
		FeeUSD:       decimal.Zero,
		ConfirmedAt:  time.Now().UTC(),
	}
}

// blockingSubmitter holds every submission until release is closed
type blockingSubmitter struct {
	entered  chan struct{}
	release  chan struct{}
	honorCtx bool
}

func newBlockingSubmitter(honorCtx bool) *blockingSubmitter {
	return &blockingSubmitter{
		entered:  make(chan struct{}, 64),
		release:  make(chan struct{}),
		honorCtx: honorCtx,
	}
}

func (b *blockingSubmitter) Name() string { return "blocking" }

func (b *blockingSubmitter) Submit(ctx context.Context, req adapter.SubmitRequest) (*adapter.SubmitResult, error) {
	b.entered <- struct{}{}
	if b.honorCtx {
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		<-b.release
	}
	return confirmed(req), nil
}

type failingLog struct {
	*storage.MemoryExecutionLog
}

func (f failingLog) Append(context.Context, models.ExecutedOrder) (models.ExecutedOrder, error) {
	return models.ExecutedOrder{}, errors.New("clickhouse: connection refused")
}

// limitRecordingLog remembers the limit of the last Recent call
type limitRecordingLog struct {
	*storage.MemoryExecutionLog
	lastLimit int
}

func (l *limitRecordingLog) Recent(ctx context.Context, strategy types.StrategyTag, limit int) ([]models.ExecutedOrder, error) {
	l.lastLimit = limit
	return l.MemoryExecutionLog.Recent(ctx, strategy, limit)
}

type execEnv struct {
	svc  *ExecutionService
	risk *risk.Manager
	log  *storage.MemoryExecutionLog
	reg  *prometheus.Registry
	logs *bytes.Buffer
}

func newExecEnv(t *testing.T, limits models.RiskLimits, sub adapter.Submitter, timeout time.Duration) *execEnv {
	t.Helper()
	var logs bytes.Buffer
	logger := logging.NewLoggerWithOutput(logging.LevelDebug, logging.FormatJSON, &logs)

	rm, err := risk.NewManager(risk.Config{Defaults: limits, Store: risk.NewMemoryStore(), Logger: logger})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	log := storage.NewMemoryExecutionLog()
	svc, err := NewExecutionService(ExecutionConfig{
		Risk:          rm,
		Submitter:     sub,
		Log:           log,
		Metrics:       metrics.New(reg),
		SubmitTimeout: timeout,
		Logger:        logger,
	})
	require.NoError(t, err)
	return &execEnv{svc: svc, risk: rm, log: log, reg: reg, logs: &logs}
}

func (e *execEnv) budget(t *testing.T) models.RiskBudgetState {
	t.Helper()
	state, err := e.risk.BudgetState(context.Background(), testWallet)
	require.NoError(t, err)
	return state
}

func TestNewExecutionService_RequiresCollaborators(t *testing.T) {
	rm, err := risk.NewManager(risk.Config{Defaults: risk.DefaultLimits(), Store: risk.NewMemoryStore()})
	require.NoError(t, err)

	_, err = NewExecutionService(ExecutionConfig{Submitter: adapter.NewPaperSubmitter(0), Log: storage.NewMemoryExecutionLog()})
	assert.Error(t, err)
	_, err = NewExecutionService(ExecutionConfig{Risk: rm, Log: storage.NewMemoryExecutionLog()})
	assert.Error(t, err)
	_, err = NewExecutionService(ExecutionConfig{Risk: rm, Submitter: adapter.NewPaperSubmitter(0)})
	assert.Error(t, err)
}

func TestExecute_PaperFill(t *testing.T) {
	env := newExecEnv(t, risk.DefaultLimits(), adapter.NewPaperSubmitter(10), time.Second)

	rec, err := env.svc.Execute(context.Background(), sellUSDC(1000), testPortfolio())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), rec.Seq)
	assert.Equal(t, types.OutcomeFilled, rec.Outcome)
	assert.Empty(t, rec.RejectReason)
	assert.True(t, rec.OrderValueUSD.Equal(usd(1000)))
	assert.True(t, rec.FeeUSD.Equal(decimal.NewFromInt(1)), "fee %s", rec.FeeUSD)
	// (1000 - 1) / 3000 ETH
	assert.True(t, rec.ResultAmount.Equal(decimal.RequireFromString("0.333")), "result %s", rec.ResultAmount)
	assert.True(t, strings.HasPrefix(rec.TxID, "paper-"))
	assert.Equal(t, types.NormalizeWallet(testWallet), rec.Order.Wallet)
	assert.False(t, rec.ExecutedAt.IsZero())

	state := env.budget(t)
	assert.Equal(t, 0, state.ActiveOrderCount)
	assert.True(t, state.DailyVolumeConsumedUSD.Equal(usd(1000)))
	assert.True(t, state.ReferenceValueUSD.Equal(usd(50000)))
}

func TestExecute_RecordedUSDAmountsKeepSixDecimals(t *testing.T) {
	env := newExecEnv(t, risk.DefaultLimits(), adapter.NewPaperSubmitter(10), time.Second)
	portfolio := testPortfolio()
	// three tokens worth 10 USD price each at 3.333...
	const token = "0x6b175474e89094c44da98b954eedeac495271d0f"
	portfolio.Holdings = append(portfolio.Holdings, models.Holding{Mint: token, Symbol: "DAI", Amount: usd(3), ValueUSD: usd(10)})

	order := sellUSDC(1)
	order.InputMint = token

	rec, err := env.svc.Execute(context.Background(), order, portfolio)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeFilled, rec.Outcome)
	assert.Equal(t, "3.333333", rec.OrderValueUSD.String())
	assert.Equal(t, "0.003333", rec.FeeUSD.String())

	// the cached and the recomputed stats agree with what a durable log stores
	stats, err := env.svc.GetExecutionStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.333333", stats.TotalVolumeUSD.String())
	assert.True(t, env.log.RecomputeStats().TotalVolumeUSD.Equal(stats.TotalVolumeUSD))
	assert.True(t, env.budget(t).DailyVolumeConsumedUSD.Equal(rec.OrderValueUSD))
}

func TestExecute_OrderTooLarge(t *testing.T) {
	env := newExecEnv(t, risk.DefaultLimits(), adapter.NewPaperSubmitter(0), time.Second)
	before := env.budget(t)

	rec, err := env.svc.Execute(context.Background(), sellUSDC(1500), testPortfolio())
	require.NoError(t, err, "a risk rejection is not an error")

	assert.Equal(t, types.OutcomeRejected, rec.Outcome)
	assert.Equal(t, string(types.ReasonOrderTooLarge), rec.RejectReason)
	assert.True(t, rec.OrderValueUSD.Equal(usd(1500)))
	assert.Equal(t, 1, env.log.Len())

	after := env.budget(t)
	assert.Equal(t, before.ActiveOrderCount, after.ActiveOrderCount)
	assert.True(t, before.DailyVolumeConsumedUSD.Equal(after.DailyVolumeConsumedUSD))
	assert.Nil(t, after.LastOrderAt)
}

func TestExecute_ConcurrencyCapWhileFirstInFlight(t *testing.T) {
	limits := risk.DefaultLimits()
	limits.MaxConcurrentOrders = 1
	sub := newBlockingSubmitter(true)
	env := newExecEnv(t, limits, sub, 5*time.Second)
	ctx := context.Background()

	type result struct {
		rec *models.ExecutedOrder
		err error
	}
	first := make(chan result, 1)
	go func() {
		rec, err := env.svc.Execute(ctx, sellUSDC(100), testPortfolio())
		first <- result{rec, err}
	}()
	<-sub.entered

	second, err := env.svc.Execute(ctx, sellUSDC(100), testPortfolio())
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeRejected, second.Outcome)
	assert.Equal(t, string(types.ReasonConcurrencyCapExceeded), second.RejectReason)

	close(sub.release)
	r := <-first
	require.NoError(t, r.err)
	assert.Equal(t, types.OutcomeFilled, r.rec.Outcome)

	assert.Equal(t, 2, env.log.Len())
	assert.Equal(t, 0, env.budget(t).ActiveOrderCount)
}

func TestExecute_DailyCapExceeded(t *testing.T) {
	limits := models.RiskLimits{
		MaxOrderValueUSD:    usd(5000),
		MaxDailyVolumeUSD:   usd(5000),
		MaxConcurrentOrders: 3,
	}
	env := newExecEnv(t, limits, adapter.NewPaperSubmitter(0), time.Second)
	ctx := context.Background()

	first, err := env.svc.Execute(ctx, sellUSDC(3000), testPortfolio())
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeFilled, first.Outcome)

	second, err := env.svc.Execute(ctx, sellUSDC(3000), testPortfolio())
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeRejected, second.Outcome)
	assert.Equal(t, string(types.ReasonDailyCapExceeded), second.RejectReason)

	assert.True(t, env.budget(t).DailyVolumeConsumedUSD.Equal(usd(3000)))
}

func TestExecute_SubmissionTimeout(t *testing.T) {
	tests := []struct {
		name     string
		honorCtx bool
	}{
		{"submitter honors its context", true},
		{"submitter ignores its context", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := newBlockingSubmitter(tt.honorCtx)
			t.Cleanup(func() { close(sub.release) })
			env := newExecEnv(t, risk.DefaultLimits(), sub, 50*time.Millisecond)
			before := env.budget(t).ActiveOrderCount

			start := time.Now()
			rec, err := env.svc.Execute(context.Background(), sellUSDC(100), testPortfolio())
			require.Error(t, err)
			assert.Less(t, time.Since(start), 2*time.Second)

			assert.True(t, apperrors.HasCode(err, apperrors.CodeUpstreamUnavailable))
			assert.True(t, apperrors.IsRetryable(err))
			require.NotNil(t, rec)
			assert.Equal(t, types.OutcomeFailed, rec.Outcome)
			assert.Equal(t, FailureSubmissionTimeout, rec.RejectReason)
			assert.Equal(t, uint64(1), rec.Seq)
			assert.Equal(t, before, env.budget(t).ActiveOrderCount)
		})
	}
}

func TestExecute_SubmissionFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantReason string
	}{
		{
			name:       "unconfirmed",
			err:        adapter.NewAdapterError("fake", "Submit", adapter.ErrSubmissionUnconfirmed, nil),
			wantCode:   apperrors.CodeSubmissionFailed,
			wantReason: FailureSubmissionUnconfirmed,
		},
		{
			name:       "unreachable",
			err:        adapter.NewAdapterError("fake", "Submit", adapter.ErrProviderUnavailable, nil),
			wantCode:   apperrors.CodeUpstreamUnavailable,
			wantReason: FailureUpstreamUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := funcSubmitter(func(context.Context, adapter.SubmitRequest) (*adapter.SubmitResult, error) {
				return nil, tt.err
			})
			env := newExecEnv(t, risk.DefaultLimits(), sub, time.Second)

			rec, err := env.svc.Execute(context.Background(), sellUSDC(100), testPortfolio())
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.wantCode))
			assert.True(t, errors.Is(err, tt.err))
			assert.Equal(t, types.OutcomeFailed, rec.Outcome)
			assert.Equal(t, tt.wantReason, rec.RejectReason)
			assert.Equal(t, 0, env.budget(t).ActiveOrderCount)

			stats, err := env.svc.GetExecutionStats(context.Background())
			require.NoError(t, err)
			assert.Equal(t, int64(1), stats.FailureCount)
			assert.True(t, stats.TotalVolumeUSD.IsZero())
		})
	}
}

func TestExecute_EmptyResultIsUnconfirmed(t *testing.T) {
	sub := funcSubmitter(func(context.Context, adapter.SubmitRequest) (*adapter.SubmitResult, error) {
		return nil, nil
	})
	env := newExecEnv(t, risk.DefaultLimits(), sub, time.Second)

	rec, err := env.svc.Execute(context.Background(), sellUSDC(100), testPortfolio())
	assert.True(t, apperrors.HasCode(err, apperrors.CodeSubmissionFailed))
	assert.Equal(t, types.OutcomeFailed, rec.Outcome)
}

func TestExecute_CallerCancellationDoesNotAbortSubmission(t *testing.T) {
	paper := adapter.NewPaperSubmitter(0)
	paper.SetLatency(20 * time.Millisecond)
	env := newExecEnv(t, risk.DefaultLimits(), paper, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := env.svc.Execute(ctx, sellUSDC(100), testPortfolio())
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeFilled, rec.Outcome)
	assert.Equal(t, 0, env.budget(t).ActiveOrderCount)
}

func TestExecute_InvalidOrders(t *testing.T) {
	unpriced := testPortfolio()
	unpriced.Holdings = append(unpriced.Holdings, models.Holding{Mint: "0xdust", Amount: decimal.Zero, ValueUSD: decimal.Zero})
	negative := decimal.NewFromInt(-1)

	tests := []struct {
		name      string
		mutate    func(o *models.StrategyOrder)
		portfolio *models.Portfolio
	}{
		{"unknown strategy", func(o *models.StrategyOrder) { o.Strategy = "martingale" }, testPortfolio()},
		{"unknown side", func(o *models.StrategyOrder) { o.Side = "hold" }, testPortfolio()},
		{"empty input mint", func(o *models.StrategyOrder) { o.InputMint = "" }, testPortfolio()},
		{"empty output mint", func(o *models.StrategyOrder) { o.OutputMint = "" }, testPortfolio()},
		{"same mints", func(o *models.StrategyOrder) { o.OutputMint = o.InputMint }, testPortfolio()},
		{"zero amount", func(o *models.StrategyOrder) { o.Amount = decimal.Zero }, testPortfolio()},
		{"negative amount", func(o *models.StrategyOrder) { o.Amount = usd(-5) }, testPortfolio()},
		{"negative limit price", func(o *models.StrategyOrder) { o.LimitPrice = &negative }, testPortfolio()},
		{"empty wallet", func(o *models.StrategyOrder) { o.Wallet = "" }, testPortfolio()},
		{"wallet mismatch", func(o *models.StrategyOrder) { o.Wallet = "0x0000000000000000000000000000000000000002" }, testPortfolio()},
		{"input not held", func(o *models.StrategyOrder) { o.InputMint = "0xdead" }, testPortfolio()},
		{"input not priced", func(o *models.StrategyOrder) { o.InputMint = "0xdust" }, unpriced},
		{"missing portfolio", func(o *models.StrategyOrder) {}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newExecEnv(t, risk.DefaultLimits(), adapter.NewPaperSubmitter(0), time.Second)
			order := sellUSDC(100)
			tt.mutate(&order)

			rec, err := env.svc.Execute(context.Background(), order, tt.portfolio)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidOrder), "got %v", err)
			assert.False(t, apperrors.IsRetryable(err))

			require.NotNil(t, rec)
			assert.Equal(t, types.OutcomeRejected, rec.Outcome)
			assert.Equal(t, string(types.ReasonInvalidOrder), rec.RejectReason)
			assert.Equal(t, 1, env.log.Len())

			state := env.budget(t)
			assert.Equal(t, 0, state.ActiveOrderCount)
			assert.True(t, state.DailyVolumeConsumedUSD.IsZero())
		})
	}
}

func TestExecute_WalletMatchIsCaseInsensitive(t *testing.T) {
	env := newExecEnv(t, risk.DefaultLimits(), adapter.NewPaperSubmitter(0), time.Second)
	order := sellUSDC(100)
	order.Wallet = "0x" + strings.ToUpper(testWallet[2:])

	rec, err := env.svc.Execute(context.Background(), order, testPortfolio())
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeFilled, rec.Outcome)
}

func TestExecute_AppendFailureStillReleases(t *testing.T) {
	var logs bytes.Buffer
	logger := logging.NewLoggerWithOutput(logging.LevelDebug, logging.FormatJSON, &logs)
	rm, err := risk.NewManager(risk.Config{Defaults: risk.DefaultLimits(), Store: risk.NewMemoryStore(), Logger: logger})
	require.NoError(t, err)
	svc, err := NewExecutionService(ExecutionConfig{
		Risk:      rm,
		Submitter: adapter.NewPaperSubmitter(0),
		Log:       failingLog{storage.NewMemoryExecutionLog()},
		Logger:    logger,
	})
	require.NoError(t, err)

	_, err = svc.Execute(context.Background(), sellUSDC(100), testPortfolio())
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInternalError))

	state, err := rm.BudgetState(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, 0, state.ActiveOrderCount)
	assert.Contains(t, logs.String(), "Failed to append execution record")
}

func TestExecute_MetricsFollowTheLog(t *testing.T) {
	env := newExecEnv(t, risk.DefaultLimits(), adapter.NewPaperSubmitter(0), time.Second)
	ctx := context.Background()

	_, err := env.svc.Execute(ctx, sellUSDC(100), testPortfolio())
	require.NoError(t, err)
	_, err = env.svc.Execute(ctx, sellUSDC(1500), testPortfolio())
	require.NoError(t, err)

	expected := `
# HELP autopilot_orders_total Executed orders by strategy and outcome
# TYPE autopilot_orders_total counter
autopilot_orders_total{outcome="filled",strategy="rebalance"} 1
autopilot_orders_total{outcome="rejected",strategy="rebalance"} 1
# HELP autopilot_rejections_total Rejected orders by reason
# TYPE autopilot_rejections_total counter
autopilot_rejections_total{reason="order-too-large"} 1
# HELP autopilot_active_reservations Risk reservations currently held by in-flight orders
# TYPE autopilot_active_reservations gauge
autopilot_active_reservations 0
`
	require.NoError(t, testutil.GatherAndCompare(env.reg, strings.NewReader(expected),
		"autopilot_orders_total", "autopilot_rejections_total", "autopilot_active_reservations"))
}

func TestExecute_ConcurrentCallsEachLogOnce(t *testing.T) {
	limits := models.RiskLimits{
		MaxOrderValueUSD:    usd(1000),
		MaxDailyVolumeUSD:   usd(2000),
		MaxConcurrentOrders: 4,
	}
	paper := adapter.NewPaperSubmitter(5)
	paper.SetLatency(2 * time.Millisecond)
	env := newExecEnv(t, limits, paper, time.Second)
	ctx := context.Background()

	const calls = 40
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.svc.Execute(ctx, sellUSDC(150), testPortfolio())
		}()
	}
	wg.Wait()

	assert.Equal(t, calls, env.log.Len())
	stats, err := env.svc.GetExecutionStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(calls), stats.TotalOrders)
	assert.True(t, stats.Equal(env.log.RecomputeStats()))
	assert.True(t, stats.TotalVolumeUSD.LessThanOrEqual(usd(2000)))
	assert.Equal(t, 0, env.budget(t).ActiveOrderCount)
}

// Every call adds exactly one record and the cached stats always equal a
// recomputation from the records.
func TestExecute_LogGrowsByOnePerCall(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("one record per call and derivable stats", prop.ForAll(
		func(amounts []int64) bool {
			sub := funcSubmitter(func(_ context.Context, req adapter.SubmitRequest) (*adapter.SubmitResult, error) {
				n := req.Order.Amount.IntPart()
				switch {
				case n%5 == 0:
					return nil, adapter.ErrSubmissionUnconfirmed
				case n%7 == 0:
					return nil, adapter.ErrProviderUnavailable
				}
				return confirmed(req), nil
			})
			env := newExecEnv(t, models.RiskLimits{
				MaxOrderValueUSD:    usd(1000),
				MaxDailyVolumeUSD:   usd(20000),
				MaxConcurrentOrders: 2,
			}, sub, time.Second)
			ctx := context.Background()

			for i, amount := range amounts {
				order := sellUSDC(amount)
				if amount%11 == 0 {
					order.OutputMint = order.InputMint
				}
				_, _ = env.svc.Execute(ctx, order, testPortfolio())
				if env.log.Len() != i+1 {
					return false
				}
			}

			stats, err := env.svc.GetExecutionStats(ctx)
			return err == nil &&
				stats.TotalOrders == int64(len(amounts)) &&
				stats.TotalOrders == stats.SuccessCount+stats.FailureCount+stats.RejectedCount &&
				stats.Equal(env.log.RecomputeStats()) &&
				env.budget(t).ActiveOrderCount == 0
		},
		gen.SliceOf(gen.Int64Range(1, 1500)),
	))

	properties.TestingRun(t)
}

func TestGetExecutionLog(t *testing.T) {
	env := newExecEnv(t, risk.DefaultLimits(), adapter.NewPaperSubmitter(0), time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.svc.Execute(ctx, sellUSDC(10), testPortfolio())
		require.NoError(t, err)
	}
	stop := sellUSDC(10)
	stop.Strategy = types.StrategyStopLoss
	for i := 0; i < 2; i++ {
		_, err := env.svc.Execute(ctx, stop, testPortfolio())
		require.NoError(t, err)
	}

	all, err := env.svc.GetExecutionLog(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i-1].Seq, all[i].Seq, "most recent first")
	}

	stops, err := env.svc.GetExecutionLog(ctx, types.StrategyStopLoss, 10)
	require.NoError(t, err)
	require.Len(t, stops, 2)
	for _, rec := range stops {
		assert.Equal(t, types.StrategyStopLoss, rec.Order.Strategy)
	}

	limited, err := env.svc.GetExecutionLog(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, uint64(5), limited[0].Seq)

	_, err = env.svc.GetExecutionLog(ctx, "martingale", 10)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidParameter))
}

func TestGetExecutionLog_LimitBounds(t *testing.T) {
	rm, err := risk.NewManager(risk.Config{Defaults: risk.DefaultLimits(), Store: risk.NewMemoryStore()})
	require.NoError(t, err)
	log := &limitRecordingLog{MemoryExecutionLog: storage.NewMemoryExecutionLog()}
	svc, err := NewExecutionService(ExecutionConfig{Risk: rm, Submitter: adapter.NewPaperSubmitter(0), Log: log})
	require.NoError(t, err)

	tests := []struct {
		limit int
		want  int
	}{
		{0, DefaultLogLimit},
		{-3, DefaultLogLimit},
		{7, 7},
		{MaxLogLimit, MaxLogLimit},
		{10000, MaxLogLimit},
	}
	for _, tt := range tests {
		_, err := svc.GetExecutionLog(context.Background(), "", tt.limit)
		require.NoError(t, err)
		assert.Equal(t, tt.want, log.lastLimit, "limit %d", tt.limit)
	}
}
