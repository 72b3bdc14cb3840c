package storage

import (
	"context"
	"sync"

	"github.com/autopilot-engine/internal/models"
	"github.com/autopilot-engine/internal/types"
)

// MemoryExecutionLog is an append-only in-process execution ledger. Appends
// are serialized under the write lock together with the stats update, so a
// stats read never observes a record without its contribution.
type MemoryExecutionLog struct {
	mu      sync.RWMutex
	records []models.ExecutedOrder
	stats   *models.ExecutionStats
}

// NewMemoryExecutionLog creates an empty log
func NewMemoryExecutionLog() *MemoryExecutionLog {
	return &MemoryExecutionLog{
		stats: models.NewExecutionStats(),
	}
}

// cloneRecord detaches a record from any pointer shared with the caller
func cloneRecord(rec models.ExecutedOrder) models.ExecutedOrder {
	if rec.Order.LimitPrice != nil {
		lp := *rec.Order.LimitPrice
		rec.Order.LimitPrice = &lp
	}
	return rec
}

// Append stores rec, assigning the next sequence number
func (l *MemoryExecutionLog) Append(_ context.Context, rec models.ExecutedOrder) (models.ExecutedOrder, error) {
	stored := cloneRecord(rec)

	l.mu.Lock()
	stored.Seq = uint64(len(l.records)) + 1
	l.records = append(l.records, stored)
	l.stats.Add(&stored)
	l.mu.Unlock()

	return cloneRecord(stored), nil
}

// Recent returns up to limit records, most recent first, optionally
// restricted to one strategy. An empty strategy matches every record.
func (l *MemoryExecutionLog) Recent(_ context.Context, strategy types.StrategyTag, limit int) ([]models.ExecutedOrder, error) {
	if limit <= 0 {
		return []models.ExecutedOrder{}, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.ExecutedOrder, 0, min(limit, len(l.records)))
	for i := len(l.records) - 1; i >= 0 && len(out) < limit; i-- {
		if strategy != "" && l.records[i].Order.Strategy != strategy {
			continue
		}
		out = append(out, cloneRecord(l.records[i]))
	}
	return out, nil
}

// Stats returns a copy of the cached aggregate
func (l *MemoryExecutionLog) Stats(_ context.Context) (*models.ExecutionStats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats.Clone(), nil
}

// RecomputeStats derives the aggregate from the records alone
func (l *MemoryExecutionLog) RecomputeStats() *models.ExecutionStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := models.NewExecutionStats()
	for i := range l.records {
		stats.Add(&l.records[i])
	}
	return stats
}

// Len returns the number of records
func (l *MemoryExecutionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
