package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/autopilot-engine/internal/adapter"
	apperrors "github.com/autopilot-engine/internal/errors"
	"github.com/autopilot-engine/internal/logging"
	"github.com/autopilot-engine/internal/metrics"
	"github.com/autopilot-engine/internal/models"
	"github.com/autopilot-engine/internal/types"
	"github.com/shopspring/decimal"
)

// PortfolioAnalyzer turns raw chain balances into a priced portfolio snapshot
type PortfolioAnalyzer struct {
	balances adapter.BalanceProvider
	prices   adapter.PriceSource
	metrics  *metrics.Metrics
	logger   *logging.Logger
	now      func() time.Time
}

// NewPortfolioAnalyzer creates a new portfolio analyzer
func NewPortfolioAnalyzer(balances adapter.BalanceProvider, prices adapter.PriceSource, m *metrics.Metrics, logger *logging.Logger) *PortfolioAnalyzer {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &PortfolioAnalyzer{
		balances: balances,
		prices:   prices,
		metrics:  m,
		logger:   logger.WithField("component", "portfolio_analyzer"),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for snapshot timestamps
func (a *PortfolioAnalyzer) SetClock(now func() time.Time) {
	a.now = now
}

// Analyze returns a complete snapshot of wallet or an error; it never returns
// a partially priced portfolio. Zero balances are left out of the holdings.
func (a *PortfolioAnalyzer) Analyze(ctx context.Context, wallet string) (*models.Portfolio, error) {
	key := types.NormalizeWallet(wallet)
	logger := a.logger.WithWallet(key)

	balances, err := a.balances.GetBalances(ctx, key)
	if err != nil {
		if errors.Is(err, adapter.ErrInvalidAddress) {
			return nil, apperrors.NewInvalidParameterError("wallet", "invalid wallet address")
		}
		a.metrics.AnalyzeFailed()
		logger.WithError(err).Warn("Balance lookup failed")
		return nil, apperrors.NewUpstreamUnavailableError("balance-provider", err)
	}

	held := make([]adapter.TokenBalance, 0, len(balances))
	mints := make([]string, 0, len(balances))
	for _, b := range balances {
		if !b.Amount.IsPositive() {
			continue
		}
		held = append(held, b)
		mints = append(mints, b.Mint)
	}

	prices := map[string]decimal.Decimal{}
	if len(mints) > 0 {
		prices, err = a.prices.GetPrices(ctx, mints)
		if err != nil {
			a.metrics.AnalyzeFailed()
			logger.WithError(err).Warn("Price lookup failed")
			return nil, apperrors.NewUpstreamUnavailableError("price-source", err)
		}
	}

	portfolio := &models.Portfolio{
		Wallet:        key,
		Holdings:      make([]models.Holding, 0, len(held)),
		TotalValueUSD: decimal.Zero,
		Timestamp:     a.now().UTC(),
	}
	for _, b := range held {
		price, ok := prices[b.Mint]
		if !ok {
			a.metrics.AnalyzeFailed()
			logger.WithField("mint", b.Mint).Warn("No price for held mint")
			return nil, apperrors.NewUpstreamUnavailableError("price-source", fmt.Errorf("no price for mint %s", b.Mint))
		}
		value := b.Amount.Mul(price)
		portfolio.Holdings = append(portfolio.Holdings, models.Holding{
			Mint:     b.Mint,
			Symbol:   b.Symbol,
			Amount:   b.Amount,
			ValueUSD: value,
		})
		portfolio.TotalValueUSD = portfolio.TotalValueUSD.Add(value)
	}

	sort.SliceStable(portfolio.Holdings, func(i, j int) bool {
		hi, hj := portfolio.Holdings[i], portfolio.Holdings[j]
		if c := hi.ValueUSD.Cmp(hj.ValueUSD); c != 0 {
			return c > 0
		}
		return hi.Mint < hj.Mint
	})

	logger.WithFields(map[string]interface{}{
		"holdings":        len(portfolio.Holdings),
		"total_value_usd": portfolio.TotalValueUSD.String(),
	}).Debug("Portfolio analyzed")
	return portfolio, nil
}
