package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/autopilot-engine/internal/models"
	"github.com/autopilot-engine/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const executionLogColumns = `
	seq, order_id, wallet, strategy, side, input_mint, output_mint, amount, limit_price,
	order_value_usd, outcome, result_amount, fee_usd, tx_id, reject_reason, executed_at`

// ExecutionLogRepository is the durable execution ledger on ClickHouse.
// Each append draws its seq from a SequenceSource under a mutex held across
// the insert, so seq order is append order for this process and seq values
// never repeat across writers that share the source.
type ExecutionLogRepository struct {
	db  *ClickHouseDB
	seq SequenceSource

	mu sync.Mutex
}

// NewExecutionLogRepository creates a repository that counts sequence numbers
// in process. It must be the only writer of the table; use
// NewSharedExecutionLogRepository when several engines append.
func NewExecutionLogRepository(db *ClickHouseDB) *ExecutionLogRepository {
	r := &ExecutionLogRepository{db: db}
	r.seq = newLocalSequence(r.maxSeq)
	return r
}

// NewSharedExecutionLogRepository creates a repository whose sequence numbers
// come from a Redis counter shared by every writer.
func NewSharedExecutionLogRepository(db *ClickHouseDB, client redis.Cmdable) *ExecutionLogRepository {
	r := &ExecutionLogRepository{db: db}
	r.seq = NewRedisSequence(client, KeyExecutionSeq, r.maxSeq)
	return r
}

func (r *ExecutionLogRepository) maxSeq(ctx context.Context) (uint64, error) {
	var maxSeq uint64
	if err := r.db.Conn().QueryRow(ctx, `SELECT max(seq) FROM execution_log`).Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("failed to read last sequence: %w", err)
	}
	return maxSeq, nil
}

// Append inserts rec with the next sequence number
func (r *ExecutionLogRepository) Append(ctx context.Context, rec models.ExecutedOrder) (models.ExecutedOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq, err := r.seq.Next(ctx)
	if err != nil {
		return models.ExecutedOrder{}, err
	}

	stored := cloneRecord(rec)
	stored.Seq = seq

	batch, err := r.db.Conn().PrepareBatch(ctx, `INSERT INTO execution_log (`+executionLogColumns+`)`)
	if err != nil {
		r.seq.Invalidate()
		return models.ExecutedOrder{}, fmt.Errorf("failed to prepare batch: %w", err)
	}

	err = batch.Append(
		stored.Seq,
		stored.OrderID,
		stored.Order.Wallet,
		string(stored.Order.Strategy),
		string(stored.Order.Side),
		stored.Order.InputMint,
		stored.Order.OutputMint,
		stored.Order.Amount,
		stored.Order.LimitPrice,
		stored.OrderValueUSD,
		string(stored.Outcome),
		stored.ResultAmount,
		stored.FeeUSD,
		stored.TxID,
		stored.RejectReason,
		stored.ExecutedAt.UTC(),
	)
	if err != nil {
		_ = batch.Abort()
		r.seq.Invalidate()
		return models.ExecutedOrder{}, fmt.Errorf("failed to append execution %s to batch: %w", stored.OrderID, err)
	}

	// the server may have committed the row before the error reached us
	if err := batch.Send(); err != nil {
		r.seq.Invalidate()
		return models.ExecutedOrder{}, fmt.Errorf("failed to send batch: %w", err)
	}
	return stored, nil
}

// Recent returns up to limit records, most recent first
func (r *ExecutionLogRepository) Recent(ctx context.Context, strategy types.StrategyTag, limit int) ([]models.ExecutedOrder, error) {
	if limit <= 0 {
		return []models.ExecutedOrder{}, nil
	}

	query := `SELECT ` + executionLogColumns + ` FROM execution_log`
	args := []interface{}{}
	if strategy != "" {
		query += ` WHERE strategy = ?`
		args = append(args, string(strategy))
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution log: %w", err)
	}
	defer rows.Close()

	records := make([]models.ExecutedOrder, 0, limit)
	for rows.Next() {
		var (
			rec                           models.ExecutedOrder
			strategyStr, sideStr, outcome string
			limitPrice                    *decimal.Decimal
		)
		err := rows.Scan(
			&rec.Seq,
			&rec.OrderID,
			&rec.Order.Wallet,
			&strategyStr,
			&sideStr,
			&rec.Order.InputMint,
			&rec.Order.OutputMint,
			&rec.Order.Amount,
			&limitPrice,
			&rec.OrderValueUSD,
			&outcome,
			&rec.ResultAmount,
			&rec.FeeUSD,
			&rec.TxID,
			&rec.RejectReason,
			&rec.ExecutedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		rec.Order.Strategy = types.StrategyTag(strategyStr)
		rec.Order.Side = types.OrderSide(sideStr)
		rec.Order.LimitPrice = limitPrice
		rec.Outcome = types.ExecutionOutcome(outcome)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate execution log: %w", err)
	}

	return records, nil
}

// Stats aggregates the whole log in one query
func (r *ExecutionLogRepository) Stats(ctx context.Context) (*models.ExecutionStats, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT
			strategy,
			count(),
			countIf(outcome = 'filled'),
			countIf(outcome = 'failed'),
			countIf(outcome = 'rejected'),
			sumIf(order_value_usd, outcome = 'filled')
		FROM execution_log
		GROUP BY strategy
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution stats: %w", err)
	}
	defer rows.Close()

	stats := models.NewExecutionStats()
	for rows.Next() {
		var (
			strategy                        string
			total, filled, failed, rejected uint64
			volume                          decimal.Decimal
		)
		if err := rows.Scan(&strategy, &total, &filled, &failed, &rejected, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan execution stats: %w", err)
		}

		st := &models.StrategyStats{
			TotalOrders:    int64(total),    // #nosec G115 - row counts fit in int64
			SuccessCount:   int64(filled),   // #nosec G115
			FailureCount:   int64(failed),   // #nosec G115
			RejectedCount:  int64(rejected), // #nosec G115
			TotalVolumeUSD: volume,
		}
		stats.PerStrategy[types.StrategyTag(strategy)] = st
		stats.TotalOrders += st.TotalOrders
		stats.SuccessCount += st.SuccessCount
		stats.FailureCount += st.FailureCount
		stats.RejectedCount += st.RejectedCount
		stats.TotalVolumeUSD = stats.TotalVolumeUSD.Add(volume)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate execution stats: %w", err)
	}

	return stats, nil
}
