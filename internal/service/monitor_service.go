package service

import (
	"context"
	"fmt"
	"time"

	"github.com/autopilot-engine/internal/logging"
	"github.com/autopilot-engine/internal/metrics"
	"github.com/autopilot-engine/internal/models"
	"github.com/autopilot-engine/internal/risk"
	"github.com/autopilot-engine/internal/types"
	"github.com/shopspring/decimal"
)

// Alert codes
const (
	AlertDailyVolumeHigh       = "daily-volume-high"
	AlertConcurrencyAtCapacity = "concurrency-at-capacity"
	AlertPortfolioDrawdown     = "portfolio-drawdown"
	AlertCooldownActive        = "cooldown-active"
	AlertTradingDisabled       = "trading-disabled"
)

var (
	dailyWarnRatio = decimal.RequireFromString("0.9")
	hundred        = decimal.NewFromInt(100)
)

// PortfolioReader produces fresh portfolio snapshots
type PortfolioReader interface {
	Analyze(ctx context.Context, wallet string) (*models.Portfolio, error)
}

// MonitorService builds read-only health snapshots of a wallet
type MonitorService struct {
	analyzer    PortfolioReader
	risk        *risk.Manager
	drawdownPct decimal.Decimal
	metrics     *metrics.Metrics
	logger      *logging.Logger
	now         func() time.Time
}

// NewMonitorService creates a new monitor service. drawdownPct is the
// percentage drop below the reference value that raises a drawdown alert.
func NewMonitorService(analyzer PortfolioReader, riskManager *risk.Manager, drawdownPct decimal.Decimal, m *metrics.Metrics, logger *logging.Logger) *MonitorService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &MonitorService{
		analyzer:    analyzer,
		risk:        riskManager,
		drawdownPct: drawdownPct,
		metrics:     m,
		logger:      logger.WithField("component", "monitor_service"),
		now:         time.Now,
	}
}

// SetClock replaces the time source
func (s *MonitorService) SetClock(now func() time.Time) {
	s.now = now
}

// Monitor analyzes wallet afresh and derives alerts from its risk budget.
// It never mutates budget state.
func (s *MonitorService) Monitor(ctx context.Context, wallet string) (*models.MonitorSnapshot, error) {
	key := types.NormalizeWallet(wallet)

	portfolio, err := s.analyzer.Analyze(ctx, key)
	if err != nil {
		return nil, err
	}
	limits := s.risk.GetLimits(key)
	budget, err := s.risk.BudgetState(ctx, key)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	alerts := s.deriveAlerts(portfolio, limits, budget, now)
	for _, a := range alerts {
		s.metrics.ObserveAlert(a)
	}

	return &models.MonitorSnapshot{
		Portfolio:   portfolio,
		Limits:      limits,
		Budget:      budget,
		Alerts:      alerts,
		GeneratedAt: now,
	}, nil
}

func (s *MonitorService) deriveAlerts(portfolio *models.Portfolio, limits models.RiskLimits, budget models.RiskBudgetState, now time.Time) []models.Alert {
	alerts := []models.Alert{}

	if limits.MaxOrderValueUSD.IsZero() || limits.MaxDailyVolumeUSD.IsZero() || limits.MaxConcurrentOrders == 0 {
		alerts = append(alerts, models.Alert{
			Severity: types.SeverityInfo,
			Code:     AlertTradingDisabled,
			Message:  "risk limits do not permit any order",
		})
	}

	if limits.MaxDailyVolumeUSD.IsPositive() {
		ratio := budget.DailyVolumeConsumedUSD.Div(limits.MaxDailyVolumeUSD)
		msg := fmt.Sprintf("daily volume %s of %s USD used", budget.DailyVolumeConsumedUSD.StringFixed(2), limits.MaxDailyVolumeUSD.StringFixed(2))
		switch {
		case ratio.GreaterThanOrEqual(decimal.NewFromInt(1)):
			alerts = append(alerts, models.Alert{Severity: types.SeverityCritical, Code: AlertDailyVolumeHigh, Message: msg})
		case ratio.GreaterThanOrEqual(dailyWarnRatio):
			alerts = append(alerts, models.Alert{Severity: types.SeverityWarning, Code: AlertDailyVolumeHigh, Message: msg})
		}
	}

	if limits.MaxConcurrentOrders > 0 && budget.ActiveOrderCount >= limits.MaxConcurrentOrders {
		alerts = append(alerts, models.Alert{
			Severity: types.SeverityWarning,
			Code:     AlertConcurrencyAtCapacity,
			Message:  fmt.Sprintf("%d of %d order slots in use", budget.ActiveOrderCount, limits.MaxConcurrentOrders),
		})
	}

	if budget.ReferenceValueUSD.IsPositive() {
		drop := budget.ReferenceValueUSD.Sub(portfolio.TotalValueUSD).Div(budget.ReferenceValueUSD).Mul(hundred)
		if drop.GreaterThan(s.drawdownPct) {
			alerts = append(alerts, models.Alert{
				Severity: types.SeverityCritical,
				Code:     AlertPortfolioDrawdown,
				Message:  fmt.Sprintf("portfolio value down %s%% since last reservation", drop.StringFixed(2)),
			})
		}
	}

	if cooldown := limits.Cooldown(); cooldown > 0 && budget.LastOrderAt != nil {
		if remaining := budget.LastOrderAt.Add(cooldown).Sub(now); remaining > 0 {
			alerts = append(alerts, models.Alert{
				Severity: types.SeverityInfo,
				Code:     AlertCooldownActive,
				Message:  fmt.Sprintf("cooldown active for another %s", remaining.Round(time.Second)),
			})
		}
	}

	return alerts
}
