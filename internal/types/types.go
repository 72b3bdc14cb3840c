// Package types provides common type definitions for the autopilot engine.
package types

import "strings"

// StrategyTag identifies the automation strategy that produced an order
type StrategyTag string

const (
	// StrategyRebalance moves the portfolio back toward its target weights
	StrategyRebalance StrategyTag = "rebalance"
	// StrategyTakeProfit closes part of a position after a gain
	StrategyTakeProfit StrategyTag = "take-profit"
	// StrategyStopLoss closes a position after a loss threshold
	StrategyStopLoss StrategyTag = "stop-loss"
	// StrategyDCALeg is a single leg of a dollar-cost-averaging schedule
	StrategyDCALeg StrategyTag = "dca-leg"
)

// Valid reports whether the tag is one of the known strategies
func (s StrategyTag) Valid() bool {
	switch s {
	case StrategyRebalance, StrategyTakeProfit, StrategyStopLoss, StrategyDCALeg:
		return true
	default:
		return false
	}
}

// OrderSide represents the direction of an order
type OrderSide string

const (
	// SideBuy acquires the output mint
	SideBuy OrderSide = "buy"
	// SideSell disposes of the input mint
	SideSell OrderSide = "sell"
)

// Valid reports whether the side is known
func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ExecutionOutcome is the terminal state of an executed order
type ExecutionOutcome string

const (
	// OutcomeFilled means the order was confirmed by the execution surface
	OutcomeFilled ExecutionOutcome = "filled"
	// OutcomeRejected means the order never left the engine (risk or validation)
	OutcomeRejected ExecutionOutcome = "rejected"
	// OutcomeFailed means submission was attempted and did not confirm
	OutcomeFailed ExecutionOutcome = "failed"
)

// RejectReason is the typed reason attached to a rejected order
type RejectReason string

const (
	// ReasonNone marks an approved decision
	ReasonNone RejectReason = ""
	// ReasonOrderTooLarge means the order value exceeds the per-order cap
	ReasonOrderTooLarge RejectReason = "order-too-large"
	// ReasonDailyCapExceeded means the order would exceed the daily volume cap
	ReasonDailyCapExceeded RejectReason = "daily-cap-exceeded"
	// ReasonConcurrencyCapExceeded means too many orders are in flight
	ReasonConcurrencyCapExceeded RejectReason = "concurrency-cap-exceeded"
	// ReasonCooldownActive means the previous order was too recent
	ReasonCooldownActive RejectReason = "cooldown-active"
	// ReasonInvalidOrder means the order failed shape validation
	ReasonInvalidOrder RejectReason = "invalid-order"
)

// AlertSeverity ranks monitor alerts
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// NativeMint is the mint identifier used for a chain's native asset
const NativeMint = "native"

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// NormalizeWallet returns the canonical identity key for a wallet address.
// EVM addresses are case-insensitive, so keys are lowercased and trimmed.
func NormalizeWallet(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}
