package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/autopilot-engine/internal/models"
	"github.com/autopilot-engine/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// RiskLimitsRepository persists explicitly configured wallet limits in Postgres
type RiskLimitsRepository struct {
	db *PostgresDB
}

// NewRiskLimitsRepository creates a new risk limits repository
func NewRiskLimitsRepository(db *PostgresDB) *RiskLimitsRepository {
	return &RiskLimitsRepository{db: db}
}

// UpsertLimits inserts or replaces a wallet's limits
func (r *RiskLimitsRepository) UpsertLimits(ctx context.Context, wallet string, limits models.RiskLimits) error {
	query := `
		INSERT INTO wallet_risk_limits (
			wallet, max_order_value_usd, max_daily_volume_usd, max_concurrent_orders, cooldown_seconds, updated_at
		)
		VALUES ($1, $2::numeric, $3::numeric, $4, $5, NOW())
		ON CONFLICT (wallet) DO UPDATE SET
			max_order_value_usd   = EXCLUDED.max_order_value_usd,
			max_daily_volume_usd  = EXCLUDED.max_daily_volume_usd,
			max_concurrent_orders = EXCLUDED.max_concurrent_orders,
			cooldown_seconds      = EXCLUDED.cooldown_seconds,
			updated_at            = NOW()
	`

	_, err := r.db.Pool().Exec(ctx, query,
		types.NormalizeWallet(wallet),
		limits.MaxOrderValueUSD.String(),
		limits.MaxDailyVolumeUSD.String(),
		limits.MaxConcurrentOrders,
		limits.CooldownSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert risk limits: %w", err)
	}
	return nil
}

// GetLimits returns a wallet's stored limits; found is false when none exist
func (r *RiskLimitsRepository) GetLimits(ctx context.Context, wallet string) (limits models.RiskLimits, found bool, err error) {
	query := `
		SELECT max_order_value_usd::text, max_daily_volume_usd::text, max_concurrent_orders, cooldown_seconds
		FROM wallet_risk_limits
		WHERE wallet = $1
	`

	var maxOrder, maxDaily string
	err = r.db.Pool().QueryRow(ctx, query, types.NormalizeWallet(wallet)).Scan(
		&maxOrder,
		&maxDaily,
		&limits.MaxConcurrentOrders,
		&limits.CooldownSeconds,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RiskLimits{}, false, nil
	}
	if err != nil {
		return models.RiskLimits{}, false, fmt.Errorf("failed to get risk limits: %w", err)
	}

	if err := parseLimitAmounts(&limits, maxOrder, maxDaily); err != nil {
		return models.RiskLimits{}, false, err
	}
	return limits, true, nil
}

// LoadAllLimits returns every stored wallet's limits keyed by wallet
func (r *RiskLimitsRepository) LoadAllLimits(ctx context.Context) (map[string]models.RiskLimits, error) {
	query := `
		SELECT wallet, max_order_value_usd::text, max_daily_volume_usd::text, max_concurrent_orders, cooldown_seconds
		FROM wallet_risk_limits
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk limits: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.RiskLimits)
	for rows.Next() {
		var (
			wallet, maxOrder, maxDaily string
			limits                     models.RiskLimits
		)
		if err := rows.Scan(&wallet, &maxOrder, &maxDaily, &limits.MaxConcurrentOrders, &limits.CooldownSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan risk limits: %w", err)
		}
		if err := parseLimitAmounts(&limits, maxOrder, maxDaily); err != nil {
			return nil, fmt.Errorf("wallet %s: %w", wallet, err)
		}
		out[wallet] = limits
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate risk limits: %w", err)
	}

	return out, nil
}

func parseLimitAmounts(limits *models.RiskLimits, maxOrder, maxDaily string) error {
	var err error
	if limits.MaxOrderValueUSD, err = decimal.NewFromString(maxOrder); err != nil {
		return fmt.Errorf("invalid max_order_value_usd %q: %w", maxOrder, err)
	}
	if limits.MaxDailyVolumeUSD, err = decimal.NewFromString(maxDaily); err != nil {
		return fmt.Errorf("invalid max_daily_volume_usd %q: %w", maxDaily, err)
	}
	return nil
}
