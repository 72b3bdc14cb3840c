package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// RiskLimits is the per-wallet risk envelope
type RiskLimits struct {
	MaxOrderValueUSD    decimal.Decimal `json:"maxOrderValueUsd"`
	MaxDailyVolumeUSD   decimal.Decimal `json:"maxDailyVolumeUsd"`
	MaxConcurrentOrders int             `json:"maxConcurrentOrders"`
	CooldownSeconds     int             `json:"cooldownSeconds"`
}

// Validate checks that every field is non-negative
func (l RiskLimits) Validate() error {
	if l.MaxOrderValueUSD.IsNegative() {
		return errors.New("maxOrderValueUsd cannot be negative")
	}
	if l.MaxDailyVolumeUSD.IsNegative() {
		return errors.New("maxDailyVolumeUsd cannot be negative")
	}
	if l.MaxConcurrentOrders < 0 {
		return errors.New("maxConcurrentOrders cannot be negative")
	}
	if l.CooldownSeconds < 0 {
		return errors.New("cooldownSeconds cannot be negative")
	}
	return nil
}

// Cooldown returns the cooldown window as a duration
func (l RiskLimits) Cooldown() time.Duration {
	return time.Duration(l.CooldownSeconds) * time.Second
}

// RiskBudgetState is a read-only copy of a wallet's consumption counters
type RiskBudgetState struct {
	Wallet                 string          `json:"wallet"`
	Day                    string          `json:"day"` // UTC day the volume counter belongs to (YYYY-MM-DD)
	DailyVolumeConsumedUSD decimal.Decimal `json:"dailyVolumeConsumedUsd"`
	ActiveOrderCount       int             `json:"activeOrderCount"`
	LastOrderAt            *time.Time      `json:"lastOrderAt,omitempty"`
	ReferenceValueUSD      decimal.Decimal `json:"referenceValueUsd"` // portfolio value at the last reservation
}

// Reservation is a provisional claim against a wallet's risk budget
type Reservation struct {
	ID        string          `json:"id"`
	Wallet    string          `json:"wallet"`
	ValueUSD  decimal.Decimal `json:"valueUsd"`
	CreatedAt time.Time       `json:"createdAt"`
}
