package models

import (
	"time"

	"github.com/autopilot-engine/internal/types"
	"github.com/shopspring/decimal"
)

// StrategyOrder is an automation-generated trade instruction.
// It is a value object and is never mutated after submission.
type StrategyOrder struct {
	Strategy   types.StrategyTag `json:"strategy"`
	Side       types.OrderSide   `json:"side"`
	InputMint  string            `json:"inputMint"`
	OutputMint string            `json:"outputMint"`
	Amount     decimal.Decimal   `json:"amount"`
	LimitPrice *decimal.Decimal  `json:"limitPrice,omitempty"`
	Wallet     string            `json:"wallet"`
}

// ExecutedOrder is the immutable ledger record produced by exactly one
// execution call
type ExecutedOrder struct {
	Seq           uint64                 `json:"seq"`
	OrderID       string                 `json:"orderId"`
	Order         StrategyOrder          `json:"order"`
	Outcome       types.ExecutionOutcome `json:"outcome"`
	OrderValueUSD decimal.Decimal        `json:"orderValueUsd"`
	ResultAmount  decimal.Decimal        `json:"resultAmount"`
	FeeUSD        decimal.Decimal        `json:"feeUsd"`
	TxID          string                 `json:"txId,omitempty"`
	ExecutedAt    time.Time              `json:"executedAt"`
	RejectReason  string                 `json:"rejectReason,omitempty"`
}

// StrategyStats aggregates executions for one strategy tag
type StrategyStats struct {
	TotalOrders    int64           `json:"totalOrders"`
	SuccessCount   int64           `json:"successCount"`
	FailureCount   int64           `json:"failureCount"`
	RejectedCount  int64           `json:"rejectedCount"`
	TotalVolumeUSD decimal.Decimal `json:"totalVolumeUsd"`
}

// ExecutionStats is the aggregate over the whole execution log.
// It is always derivable from the log records.
type ExecutionStats struct {
	TotalOrders    int64                                 `json:"totalOrders"`
	SuccessCount   int64                                 `json:"successCount"`
	FailureCount   int64                                 `json:"failureCount"`
	RejectedCount  int64                                 `json:"rejectedCount"`
	TotalVolumeUSD decimal.Decimal                       `json:"totalVolumeUsd"`
	PerStrategy    map[types.StrategyTag]*StrategyStats `json:"perStrategy"`
}

// NewExecutionStats returns an empty aggregate
func NewExecutionStats() *ExecutionStats {
	return &ExecutionStats{
		PerStrategy: make(map[types.StrategyTag]*StrategyStats),
	}
}

// Add folds one record into the aggregate
func (s *ExecutionStats) Add(rec *ExecutedOrder) {
	st, ok := s.PerStrategy[rec.Order.Strategy]
	if !ok {
		st = &StrategyStats{}
		s.PerStrategy[rec.Order.Strategy] = st
	}

	s.TotalOrders++
	st.TotalOrders++

	switch rec.Outcome {
	case types.OutcomeFilled:
		s.SuccessCount++
		st.SuccessCount++
		s.TotalVolumeUSD = s.TotalVolumeUSD.Add(rec.OrderValueUSD)
		st.TotalVolumeUSD = st.TotalVolumeUSD.Add(rec.OrderValueUSD)
	case types.OutcomeFailed:
		s.FailureCount++
		st.FailureCount++
	case types.OutcomeRejected:
		s.RejectedCount++
		st.RejectedCount++
	}
}

// Clone returns a deep copy safe to hand to readers
func (s *ExecutionStats) Clone() *ExecutionStats {
	out := &ExecutionStats{
		TotalOrders:    s.TotalOrders,
		SuccessCount:   s.SuccessCount,
		FailureCount:   s.FailureCount,
		RejectedCount:  s.RejectedCount,
		TotalVolumeUSD: s.TotalVolumeUSD,
		PerStrategy:    make(map[types.StrategyTag]*StrategyStats, len(s.PerStrategy)),
	}
	for tag, st := range s.PerStrategy {
		cp := *st
		out.PerStrategy[tag] = &cp
	}
	return out
}

// Equal compares two aggregates field by field
func (s *ExecutionStats) Equal(other *ExecutionStats) bool {
	if s.TotalOrders != other.TotalOrders ||
		s.SuccessCount != other.SuccessCount ||
		s.FailureCount != other.FailureCount ||
		s.RejectedCount != other.RejectedCount ||
		!s.TotalVolumeUSD.Equal(other.TotalVolumeUSD) ||
		len(s.PerStrategy) != len(other.PerStrategy) {
		return false
	}
	for tag, a := range s.PerStrategy {
		b, ok := other.PerStrategy[tag]
		if !ok {
			return false
		}
		if a.TotalOrders != b.TotalOrders ||
			a.SuccessCount != b.SuccessCount ||
			a.FailureCount != b.FailureCount ||
			a.RejectedCount != b.RejectedCount ||
			!a.TotalVolumeUSD.Equal(b.TotalVolumeUSD) {
			return false
		}
	}
	return true
}
