package risk

import (
	"context"
	"sync"
	"time"

	"github.com/autopilot-engine/internal/models"
	"github.com/autopilot-engine/internal/types"
	"github.com/shopspring/decimal"
)

// walletBudget is the mutable state of one wallet, guarded by its own mutex
type walletBudget struct {
	mu           sync.Mutex
	day          string
	consumed     decimal.Decimal
	active       int
	lastOrderAt  *time.Time
	reference    decimal.Decimal
	reservations map[string]struct{}
}

// MemoryStore keeps budgets in process memory. Wallets never share a lock on
// the reservation path; the map lock is only taken to find or create an entry.
type MemoryStore struct {
	mu      sync.RWMutex
	wallets map[string]*walletBudget
}

// NewMemoryStore creates an empty in-memory budget store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*walletBudget),
	}
}

func (s *MemoryStore) getBudget(wallet string) *walletBudget {
	s.mu.RLock()
	b, exists := s.wallets[wallet]
	s.mu.RUnlock()
	if exists {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if b, exists = s.wallets[wallet]; exists {
		return b
	}
	b = &walletBudget{reservations: make(map[string]struct{})}
	s.wallets[wallet] = b
	return b
}

func (s *MemoryStore) lookup(wallet string) (*walletBudget, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.wallets[wallet]
	return b, ok
}

// Reserve implements BudgetStore
func (s *MemoryStore) Reserve(_ context.Context, req ReserveRequest) (types.RejectReason, error) {
	b := s.getBudget(req.Wallet)

	b.mu.Lock()
	defer b.mu.Unlock()

	today := dayOf(req.Now)
	consumed := b.consumed
	if b.day != today {
		consumed = decimal.Zero
	}

	if reason := evaluate(req, consumed, b.active, b.lastOrderAt); reason != types.ReasonNone {
		return reason, nil
	}

	at := req.Now
	b.day = today
	b.consumed = consumed.Add(req.ValueUSD)
	b.active++
	b.lastOrderAt = &at
	b.reference = req.PortfolioValueUSD
	b.reservations[req.ReservationID] = struct{}{}
	return types.ReasonNone, nil
}

// Release implements BudgetStore
func (s *MemoryStore) Release(_ context.Context, wallet, reservationID string) (bool, error) {
	b, ok := s.lookup(wallet)
	if !ok {
		return false, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, outstanding := b.reservations[reservationID]; !outstanding {
		return false, nil
	}
	delete(b.reservations, reservationID)
	if b.active > 0 {
		b.active--
	}
	return true, nil
}

// Snapshot implements BudgetStore. A stale day reads as zero consumption
// without touching the stored counter.
func (s *MemoryStore) Snapshot(_ context.Context, wallet string, now time.Time) (models.RiskBudgetState, error) {
	today := dayOf(now)
	state := models.RiskBudgetState{
		Wallet: wallet,
		Day:    today,
	}

	b, ok := s.lookup(wallet)
	if !ok {
		return state, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.day == today {
		state.DailyVolumeConsumedUSD = b.consumed
	}
	state.ActiveOrderCount = b.active
	state.ReferenceValueUSD = b.reference
	if b.lastOrderAt != nil {
		at := *b.lastOrderAt
		state.LastOrderAt = &at
	}
	return state, nil
}
