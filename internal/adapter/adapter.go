// Package adapter holds the outbound collaborators of the engine: the chain
// balance provider, the price source and the order submission surface.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/autopilot-engine/internal/models"
	"github.com/shopspring/decimal"
)

// TokenBalance is a raw position reported by a balance provider, already
// scaled by the token's decimals
type TokenBalance struct {
	Mint   string
	Symbol string
	Amount decimal.Decimal
}

// BalanceProvider reads a wallet's on-chain positions
type BalanceProvider interface {
	// GetBalances returns every tracked position of wallet, zero balances included.
	// Implementations own their retry policy.
	GetBalances(ctx context.Context, wallet string) ([]TokenBalance, error)
}

// PriceSource quotes USD unit prices
type PriceSource interface {
	// GetPrices returns prices for the requested mints. Mints the source cannot
	// price are absent from the result rather than reported as an error.
	GetPrices(ctx context.Context, mints []string) (map[string]decimal.Decimal, error)
}

// SubmitRequest is what the execution engine hands to the submission surface
type SubmitRequest struct {
	OrderID       string
	Order         models.StrategyOrder
	OrderValueUSD decimal.Decimal
	// OutputUnitPriceUSD is zero when the output mint is not priced
	OutputUnitPriceUSD decimal.Decimal
}

// SubmitResult is a confirmed fill
type SubmitResult struct {
	TxID         string
	ResultAmount decimal.Decimal
	FeeUSD       decimal.Decimal
	ConfirmedAt  time.Time
}

// Submitter sends orders to the execution surface
type Submitter interface {
	Name() string
	// Submit blocks until the order is confirmed or fails. An error wrapping
	// ErrSubmissionUnconfirmed means the order reached the surface but did not
	// confirm; any other error means the surface was not reached.
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
}

var (
	// ErrInvalidAddress indicates the address format is invalid
	ErrInvalidAddress = errors.New("invalid address format")

	// ErrProviderUnavailable indicates the upstream could not be reached
	ErrProviderUnavailable = errors.New("upstream provider unavailable")

	// ErrProviderRateLimit indicates the upstream throttled the request
	ErrProviderRateLimit = errors.New("provider rate limit exceeded")

	// ErrSubmissionUnconfirmed indicates the order reached the surface but was not confirmed
	ErrSubmissionUnconfirmed = errors.New("order submitted but not confirmed")
)

// AdapterError wraps errors with additional context
type AdapterError struct {
	Provider string
	Op       string // Operation that failed (e.g., "GetBalances", "Submit")
	Err      error
	Details  map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("adapter error [%s:%s]: %v (details: %+v)", e.Provider, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("adapter error [%s:%s]: %v", e.Provider, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(provider, op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Provider: provider,
		Op:       op,
		Err:      err,
		Details:  details,
	}
}

// IsUnconfirmed reports whether a submission error means the order reached
// the surface without confirming
func IsUnconfirmed(err error) bool {
	return errors.Is(err, ErrSubmissionUnconfirmed)
}
