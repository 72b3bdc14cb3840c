package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is a single asset position inside a portfolio snapshot
type Holding struct {
	Mint     string          `json:"mint"`
	Symbol   string          `json:"symbol,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	ValueUSD decimal.Decimal `json:"valueUsd"`
}

// UnitPriceUSD derives the per-unit USD price of the holding.
// ok is false when the holding has no amount to price against.
func (h Holding) UnitPriceUSD() (price decimal.Decimal, ok bool) {
	if !h.Amount.IsPositive() {
		return decimal.Zero, false
	}
	return h.ValueUSD.Div(h.Amount), true
}

// Portfolio is an immutable point-in-time view of a wallet's holdings.
// A fresh instance is produced by every analysis call.
type Portfolio struct {
	Wallet        string          `json:"wallet"`
	Holdings      []Holding       `json:"holdings"`
	TotalValueUSD decimal.Decimal `json:"totalValueUsd"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Holding looks up a holding by mint
func (p *Portfolio) Holding(mint string) (Holding, bool) {
	for _, h := range p.Holdings {
		if h.Mint == mint {
			return h, true
		}
	}
	return Holding{}, false
}
