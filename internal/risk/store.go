// Package risk enforces per-wallet risk limits against a mutable budget.
package risk

import (
	"context"
	"time"

	"github.com/autopilot-engine/internal/models"
	"github.com/autopilot-engine/internal/types"
	"github.com/shopspring/decimal"
)

// dayLayout is the UTC day key the daily volume counter belongs to
const dayLayout = "2006-01-02"

func dayOf(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// ReserveRequest carries everything a store needs to decide a reservation
// inside a single per-wallet critical section.
type ReserveRequest struct {
	Wallet            string
	ReservationID     string
	ValueUSD          decimal.Decimal
	PortfolioValueUSD decimal.Decimal
	Limits            models.RiskLimits
	Now               time.Time
}

// BudgetStore holds the consumption counters for every wallet.
//
// Reserve must evaluate the daily, concurrency and cooldown checks (in that
// order) and apply the increment atomically per wallet. A rejection leaves
// the budget untouched. Release reports whether the reservation was still
// outstanding; false means it was already released or never existed.
type BudgetStore interface {
	Reserve(ctx context.Context, req ReserveRequest) (types.RejectReason, error)
	Release(ctx context.Context, wallet, reservationID string) (bool, error)
	Snapshot(ctx context.Context, wallet string, now time.Time) (models.RiskBudgetState, error)
}

// evaluate applies the stateful checks to a budget view. consumed must
// already be reset when the stored day is stale.
func evaluate(req ReserveRequest, consumed decimal.Decimal, active int, lastOrderAt *time.Time) types.RejectReason {
	if consumed.Add(req.ValueUSD).GreaterThan(req.Limits.MaxDailyVolumeUSD) {
		return types.ReasonDailyCapExceeded
	}
	if active >= req.Limits.MaxConcurrentOrders {
		return types.ReasonConcurrencyCapExceeded
	}
	if lastOrderAt != nil && req.Now.Sub(*lastOrderAt) < req.Limits.Cooldown() {
		return types.ReasonCooldownActive
	}
	return types.ReasonNone
}
