package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/autopilot-engine/internal/adapter"
	apperrors "github.com/autopilot-engine/internal/errors"
	"github.com/autopilot-engine/internal/logging"
	"github.com/autopilot-engine/internal/metrics"
	"github.com/autopilot-engine/internal/models"
	"github.com/autopilot-engine/internal/risk"
	"github.com/autopilot-engine/internal/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Execution log read limits
const (
	DefaultLogLimit = 50
	MaxLogLimit     = 500
)

// usdScale is the number of decimal places kept on recorded USD amounts,
// matching the durable log's columns
const usdScale = 6

// Failure reasons recorded on failed executions
const (
	FailureSubmissionTimeout     = "submission-timeout"
	FailureUpstreamUnavailable   = "upstream-unavailable"
	FailureSubmissionUnconfirmed = "submission-unconfirmed"
	FailureRiskStoreUnavailable  = "risk-store-unavailable"
)

// ExecutionLog is the append-only ledger of executed orders
type ExecutionLog interface {
	// Append stores rec and returns it with its sequence number assigned
	Append(ctx context.Context, rec models.ExecutedOrder) (models.ExecutedOrder, error)
	// Recent returns up to limit records, most recent first. An empty
	// strategy matches every record.
	Recent(ctx context.Context, strategy types.StrategyTag, limit int) ([]models.ExecutedOrder, error)
	// Stats aggregates every record appended so far
	Stats(ctx context.Context) (*models.ExecutionStats, error)
}

// ExecutionConfig configures an ExecutionService
type ExecutionConfig struct {
	Risk          *risk.Manager
	Submitter     adapter.Submitter
	Log           ExecutionLog
	Metrics       *metrics.Metrics
	SubmitTimeout time.Duration
	Logger        *logging.Logger
}

// ExecutionService validates, gates, submits and records strategy orders
type ExecutionService struct {
	risk          *risk.Manager
	submitter     adapter.Submitter
	log           ExecutionLog
	metrics       *metrics.Metrics
	submitTimeout time.Duration
	logger        *logging.Logger
	now           func() time.Time
}

// NewExecutionService creates a new execution service
func NewExecutionService(cfg ExecutionConfig) (*ExecutionService, error) {
	if cfg.Risk == nil {
		return nil, fmt.Errorf("risk manager is required")
	}
	if cfg.Submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("execution log is required")
	}
	timeout := cfg.SubmitTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &ExecutionService{
		risk:          cfg.Risk,
		submitter:     cfg.Submitter,
		log:           cfg.Log,
		metrics:       cfg.Metrics,
		submitTimeout: timeout,
		logger:        logger.WithField("component", "execution_service"),
		now:           time.Now,
	}, nil
}

// SetClock replaces the time source used for record timestamps
func (s *ExecutionService) SetClock(now func() time.Time) {
	s.now = now
}

// Execute runs one order through validation, the risk budget and the
// submission surface. Every call appends exactly one record to the log.
//
// Rejections (invalid shape aside) are business outcomes and come back with
// a nil error. Invalid orders return the rejected record with an
// INVALID_ORDER error; failed submissions return the failed record with an
// UPSTREAM_UNAVAILABLE or SUBMISSION_FAILED error.
func (s *ExecutionService) Execute(ctx context.Context, order models.StrategyOrder, portfolio *models.Portfolio) (*models.ExecutedOrder, error) {
	order.Wallet = types.NormalizeWallet(order.Wallet)
	rec := models.ExecutedOrder{
		OrderID:      uuid.NewString(),
		Order:        order,
		ResultAmount: decimal.Zero,
		FeeUSD:       decimal.Zero,
	}
	logger := s.logger.WithWallet(order.Wallet).WithOrder(rec.OrderID, string(order.Strategy))

	valueUSD, outputPrice, problem := priceOrder(order, portfolio)
	if problem != "" {
		rec.Outcome = types.OutcomeRejected
		rec.RejectReason = string(types.ReasonInvalidOrder)
		stored, err := s.record(ctx, rec)
		if err != nil {
			return stored, err
		}
		logger.WithField("problem", problem).Info("Order rejected: invalid shape")
		return stored, apperrors.NewInvalidOrderError(problem)
	}
	rec.OrderValueUSD = valueUSD

	decision, err := s.risk.CheckAndReserve(ctx, order.Wallet, valueUSD, portfolio.TotalValueUSD)
	if err != nil {
		rec.Outcome = types.OutcomeFailed
		rec.RejectReason = FailureRiskStoreUnavailable
		stored, appendErr := s.record(ctx, rec)
		if appendErr != nil {
			return stored, appendErr
		}
		logger.WithError(err).Error("Risk check failed")
		return stored, err
	}
	if !decision.Approved() {
		rec.Outcome = types.OutcomeRejected
		rec.RejectReason = string(decision.Reason)
		stored, err := s.record(ctx, rec)
		if err != nil {
			return stored, err
		}
		logger.WithFields(map[string]interface{}{
			"reason":          string(decision.Reason),
			"order_value_usd": valueUSD.String(),
		}).Info("Order rejected by risk manager")
		return stored, nil
	}
	s.metrics.ReservationAcquired()

	result, submitErr := s.submit(ctx, adapter.SubmitRequest{
		OrderID:            rec.OrderID,
		Order:              order,
		OrderValueUSD:      valueUSD,
		OutputUnitPriceUSD: outputPrice,
	})

	// the reservation is returned whatever the submission did
	if err := s.risk.Release(context.WithoutCancel(ctx), decision.Reservation); err != nil {
		logger.WithError(err).Error("Failed to release reservation")
	} else {
		s.metrics.ReservationReleased()
	}

	if submitErr != nil {
		rec.Outcome = types.OutcomeFailed
		var callerErr error
		switch {
		case adapter.IsUnconfirmed(submitErr):
			rec.RejectReason = FailureSubmissionUnconfirmed
			callerErr = apperrors.NewSubmissionFailedError(rec.OrderID, submitErr)
		case errors.Is(submitErr, context.DeadlineExceeded):
			rec.RejectReason = FailureSubmissionTimeout
			callerErr = apperrors.NewUpstreamUnavailableError(s.submitter.Name(), submitErr)
		default:
			rec.RejectReason = FailureUpstreamUnavailable
			callerErr = apperrors.NewUpstreamUnavailableError(s.submitter.Name(), submitErr)
		}
		stored, err := s.record(ctx, rec)
		if err != nil {
			return stored, err
		}
		logger.WithError(submitErr).WithField("reason", rec.RejectReason).Warn("Order submission failed")
		return stored, callerErr
	}

	rec.Outcome = types.OutcomeFilled
	rec.ResultAmount = result.ResultAmount
	rec.FeeUSD = result.FeeUSD.Round(usdScale)
	rec.TxID = result.TxID
	stored, err := s.record(ctx, rec)
	if err != nil {
		return stored, err
	}
	logger.WithFields(map[string]interface{}{
		"tx_id":           result.TxID,
		"order_value_usd": valueUSD.String(),
		"fee_usd":         result.FeeUSD.String(),
	}).Info("Order filled")
	return stored, nil
}

type submitOutcome struct {
	result *adapter.SubmitResult
	err    error
}

// submit calls the submitter on a context detached from the caller and
// bounded by the submit timeout. It returns once the deadline passes even if
// the submitter ignores its context.
func (s *ExecutionService) submit(ctx context.Context, req adapter.SubmitRequest) (*adapter.SubmitResult, error) {
	subCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.submitTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan submitOutcome, 1)
	go func() {
		result, err := s.submitter.Submit(subCtx, req)
		done <- submitOutcome{result: result, err: err}
	}()

	var out submitOutcome
	select {
	case out = <-done:
	case <-subCtx.Done():
		out.err = subCtx.Err()
	}
	if out.err == nil && out.result == nil {
		out.err = fmt.Errorf("%w: empty result", adapter.ErrSubmissionUnconfirmed)
	}

	label := "filled"
	if out.err != nil {
		label = "failed"
	}
	s.metrics.ObserveSubmission(time.Since(start), label)
	return out.result, out.err
}

// record stamps and appends rec. Metrics are updated only once the append
// has completed.
func (s *ExecutionService) record(ctx context.Context, rec models.ExecutedOrder) (*models.ExecutedOrder, error) {
	rec.ExecutedAt = s.now().UTC()
	stored, err := s.log.Append(context.WithoutCancel(ctx), rec)
	if err != nil {
		s.logger.WithOrder(rec.OrderID, string(rec.Order.Strategy)).WithError(err).Error("Failed to append execution record")
		return &rec, apperrors.NewInternalError("failed to append execution record", err)
	}
	s.metrics.ObserveExecution(&stored)
	return &stored, nil
}

// priceOrder validates the order against the portfolio and values it in USD,
// rounded to usdScale. problem is empty when the order is well formed.
func priceOrder(order models.StrategyOrder, portfolio *models.Portfolio) (valueUSD, outputPrice decimal.Decimal, problem string) {
	switch {
	case portfolio == nil:
		return decimal.Zero, decimal.Zero, "portfolio is required"
	case !order.Strategy.Valid():
		return decimal.Zero, decimal.Zero, fmt.Sprintf("unknown strategy %q", order.Strategy)
	case !order.Side.Valid():
		return decimal.Zero, decimal.Zero, fmt.Sprintf("unknown side %q", order.Side)
	case order.InputMint == "" || order.OutputMint == "":
		return decimal.Zero, decimal.Zero, "input and output mints are required"
	case order.InputMint == order.OutputMint:
		return decimal.Zero, decimal.Zero, "input and output mints must differ"
	case !order.Amount.IsPositive():
		return decimal.Zero, decimal.Zero, "amount must be positive"
	case order.LimitPrice != nil && !order.LimitPrice.IsPositive():
		return decimal.Zero, decimal.Zero, "limit price must be positive"
	case order.Wallet == "":
		return decimal.Zero, decimal.Zero, "wallet is required"
	case order.Wallet != types.NormalizeWallet(portfolio.Wallet):
		return decimal.Zero, decimal.Zero, "wallet does not match portfolio"
	}

	input, ok := portfolio.Holding(order.InputMint)
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Sprintf("input mint %s is not held", order.InputMint)
	}
	unit, ok := input.UnitPriceUSD()
	if !ok || !unit.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Sprintf("input mint %s is not priced", order.InputMint)
	}

	if output, ok := portfolio.Holding(order.OutputMint); ok {
		if p, ok := output.UnitPriceUSD(); ok {
			outputPrice = p
		}
	}
	return order.Amount.Mul(unit).Round(usdScale), outputPrice, ""
}

// GetExecutionLog returns recent records, most recent first. limit defaults
// to DefaultLogLimit and is capped at MaxLogLimit.
func (s *ExecutionService) GetExecutionLog(ctx context.Context, strategy types.StrategyTag, limit int) ([]models.ExecutedOrder, error) {
	if strategy != "" && !strategy.Valid() {
		return nil, apperrors.NewInvalidParameterError("strategy", fmt.Sprintf("unknown strategy %q", strategy))
	}
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	if limit > MaxLogLimit {
		limit = MaxLogLimit
	}

	records, err := s.log.Recent(ctx, strategy, limit)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to read execution log", err)
	}
	return records, nil
}

// GetExecutionStats aggregates the whole log
func (s *ExecutionService) GetExecutionStats(ctx context.Context) (*models.ExecutionStats, error) {
	stats, err := s.log.Stats(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to read execution stats", err)
	}
	return stats, nil
}
