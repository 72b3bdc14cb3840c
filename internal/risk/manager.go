package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/autopilot-engine/internal/errors"
	"github.com/autopilot-engine/internal/logging"
	"github.com/autopilot-engine/internal/models"
	"github.com/autopilot-engine/internal/retry"
	"github.com/autopilot-engine/internal/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultLimits returns the envelope applied to wallets that were never
// configured explicitly.
func DefaultLimits() models.RiskLimits {
	return models.RiskLimits{
		MaxOrderValueUSD:    decimal.NewFromInt(1000),
		MaxDailyVolumeUSD:   decimal.NewFromInt(5000),
		MaxConcurrentOrders: 3,
		CooldownSeconds:     0,
	}
}

// DefaultStoreTimeout bounds a single budget mutation
const DefaultStoreTimeout = 5 * time.Second

// DefaultReleaseRetry returns the backoff used when returning a reservation
// to an unreachable store. Pattern: 50ms, 100ms, capped at 500ms.
func DefaultReleaseRetry() *retry.Config {
	return &retry.Config{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// LimitsRepository persists explicitly configured limits
type LimitsRepository interface {
	UpsertLimits(ctx context.Context, wallet string, limits models.RiskLimits) error
	LoadAllLimits(ctx context.Context) (map[string]models.RiskLimits, error)
}

// Decision is the result of a reservation attempt. Exactly one of
// Reservation and Reason is set.
type Decision struct {
	Reservation *models.Reservation
	Reason      types.RejectReason
}

// Approved reports whether a reservation was granted
func (d Decision) Approved() bool {
	return d.Reservation != nil
}

// Config configures a Manager
type Config struct {
	Defaults models.RiskLimits
	Store    BudgetStore
	// Repository is optional; without it limits live only in memory
	Repository LimitsRepository
	// StoreTimeout bounds each reserve or release; zero means DefaultStoreTimeout
	StoreTimeout time.Duration
	// ReleaseRetry overrides DefaultReleaseRetry
	ReleaseRetry *retry.Config
	Logger       *logging.Logger
}

// Manager owns per-wallet limits and gates every order through the budget store
type Manager struct {
	defaults models.RiskLimits
	store    BudgetStore
	repo     LimitsRepository
	logger   *logging.Logger
	now      func() time.Time

	storeTimeout time.Duration
	releaseRetry *retry.Config

	limitsMu sync.RWMutex
	limits   map[string]models.RiskLimits
}

// NewManager creates a risk manager
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("budget store is required")
	}
	if err := cfg.Defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default limits: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	storeTimeout := cfg.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	releaseRetry := cfg.ReleaseRetry
	if releaseRetry == nil {
		releaseRetry = DefaultReleaseRetry()
	}
	return &Manager{
		defaults:     cfg.Defaults,
		store:        cfg.Store,
		repo:         cfg.Repository,
		logger:       logger.WithField("component", "risk_manager"),
		now:          time.Now,
		storeTimeout: storeTimeout,
		releaseRetry: releaseRetry,
		limits:       make(map[string]models.RiskLimits),
	}, nil
}

// storeContext detaches a budget mutation from the caller. A reserve that
// reached the store must be answered, or its slot is held with nobody left
// to release it; the store timeout still bounds the call.
func (m *Manager) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.storeTimeout)
}

// SetClock replaces the time source
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// LoadLimits hydrates configured limits from the repository
func (m *Manager) LoadLimits(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	stored, err := m.repo.LoadAllLimits(ctx)
	if err != nil {
		return fmt.Errorf("load risk limits: %w", err)
	}

	m.limitsMu.Lock()
	for wallet, limits := range stored {
		m.limits[types.NormalizeWallet(wallet)] = limits
	}
	m.limitsMu.Unlock()

	m.logger.Infof("Loaded risk limits for %d wallets", len(stored))
	return nil
}

// GetLimits returns the wallet's limits, materializing the defaults on first
// reference.
func (m *Manager) GetLimits(wallet string) models.RiskLimits {
	key := types.NormalizeWallet(wallet)

	m.limitsMu.RLock()
	limits, ok := m.limits[key]
	m.limitsMu.RUnlock()
	if ok {
		return limits
	}

	m.limitsMu.Lock()
	defer m.limitsMu.Unlock()
	if limits, ok = m.limits[key]; ok {
		return limits
	}
	m.limits[key] = m.defaults
	return m.defaults
}

// SetLimits replaces a wallet's limits after validating them. The change
// applies to the next reservation; outstanding ones are unaffected.
func (m *Manager) SetLimits(ctx context.Context, wallet string, limits models.RiskLimits) (models.RiskLimits, error) {
	key := types.NormalizeWallet(wallet)
	if key == "" {
		return models.RiskLimits{}, apperrors.NewInvalidParameterError("wallet", "must not be empty")
	}
	if err := limits.Validate(); err != nil {
		return models.RiskLimits{}, apperrors.NewInvalidParameterError("limits", err.Error())
	}

	if m.repo != nil {
		if err := m.repo.UpsertLimits(ctx, key, limits); err != nil {
			return models.RiskLimits{}, apperrors.NewInternalError("failed to persist risk limits", err)
		}
	}

	m.limitsMu.Lock()
	m.limits[key] = limits
	m.limitsMu.Unlock()

	m.logger.WithWallet(key).WithFields(map[string]interface{}{
		"max_order_usd":  limits.MaxOrderValueUSD.String(),
		"max_daily_usd":  limits.MaxDailyVolumeUSD.String(),
		"max_concurrent": limits.MaxConcurrentOrders,
		"cooldown_sec":   limits.CooldownSeconds,
	}).Info("Risk limits updated")
	return limits, nil
}

// CheckAndReserve decides whether an order of orderValueUSD fits the wallet's
// envelope and, if so, claims budget for it. Checks run in the order
// order-too-large, daily-cap-exceeded, concurrency-cap-exceeded,
// cooldown-active; a rejection has no side effect. The error return is
// reserved for budget store failures. Cancelling ctx does not abandon the
// reservation: the store call runs to completion or the store timeout.
func (m *Manager) CheckAndReserve(ctx context.Context, wallet string, orderValueUSD, portfolioValueUSD decimal.Decimal) (Decision, error) {
	key := types.NormalizeWallet(wallet)
	limits := m.GetLimits(key)
	logger := m.logger.WithWallet(key)

	if orderValueUSD.GreaterThan(limits.MaxOrderValueUSD) {
		logger.WithField("order_value_usd", orderValueUSD.String()).Debug("Order rejected: exceeds per-order cap")
		return Decision{Reason: types.ReasonOrderTooLarge}, nil
	}

	now := m.now()
	req := ReserveRequest{
		Wallet:            key,
		ReservationID:     uuid.NewString(),
		ValueUSD:          orderValueUSD,
		PortfolioValueUSD: portfolioValueUSD,
		Limits:            limits,
		Now:               now,
	}

	storeCtx, cancel := m.storeContext(ctx)
	reason, err := m.store.Reserve(storeCtx, req)
	cancel()
	if err != nil {
		return Decision{}, apperrors.NewInternalError("risk budget store unavailable", err)
	}
	if reason != types.ReasonNone {
		logger.WithFields(map[string]interface{}{
			"order_value_usd": orderValueUSD.String(),
			"reason":          string(reason),
		}).Debug("Order rejected by risk budget")
		return Decision{Reason: reason}, nil
	}

	return Decision{
		Reservation: &models.Reservation{
			ID:        req.ReservationID,
			Wallet:    key,
			ValueUSD:  orderValueUSD,
			CreatedAt: now,
		},
	}, nil
}

// Release returns a reservation's concurrency slot. Consumed daily volume is
// not refunded. Store failures are retried with backoff on a context detached
// from the caller. Releasing the same reservation twice is a no-op that is
// logged as an invariant violation.
func (m *Manager) Release(ctx context.Context, res *models.Reservation) error {
	if res == nil {
		return nil
	}

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	var released, storeFailed bool
	err := retry.Do(storeCtx, m.releaseRetry, func(ctx context.Context, _ int) error {
		ok, err := m.store.Release(ctx, res.Wallet, res.ID)
		if err != nil {
			storeFailed = true
			return err
		}
		released = ok
		return nil
	})
	if err != nil {
		return apperrors.NewInternalError("risk budget store unavailable", err)
	}
	// a failed attempt may have applied the release before its reply was lost
	if !released && !storeFailed {
		violation := apperrors.NewInvariantViolationError("reservation released more than once", map[string]interface{}{
			"wallet":         res.Wallet,
			"reservation_id": res.ID,
		})
		m.logger.WithWallet(res.Wallet).WithFields(map[string]interface{}{
			"code":           violation.Code,
			"reservation_id": res.ID,
		}).Error(violation.Message)
	}
	return nil
}

// BudgetState returns a read-only copy of the wallet's counters
func (m *Manager) BudgetState(ctx context.Context, wallet string) (models.RiskBudgetState, error) {
	state, err := m.store.Snapshot(ctx, types.NormalizeWallet(wallet), m.now())
	if err != nil {
		return models.RiskBudgetState{}, apperrors.NewInternalError("risk budget store unavailable", err)
	}
	return state, nil
}
