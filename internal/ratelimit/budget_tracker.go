// Package ratelimit meters outbound chain RPC calls against a compute-unit
// budget shared by every engine process through Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultTotalBudget = 300             // Total CU per window
	DefaultWindowSize  = time.Second     // Fixed window length
	DefaultKeyTTL      = 2 * time.Second // TTL for Redis keys (window + buffer)
)

// Redis key prefixes for CU tracking.
const (
	KeyPrefixTotal    = "rpc:cu:total:"
	KeyPrefixReserved = "rpc:cu:reserved:"
	KeyPrefixShared   = "rpc:cu:shared:"
	KeyPrefixMethod   = "rpc:cu:method:"
)

// Priority levels for budget allocation.
type Priority int

const (
	// PriorityHigh is for reads on the order path (uses the reserved pool).
	PriorityHigh Priority = iota
	// PriorityLow is for background monitor polling (uses the shared pool).
	PriorityLow
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

type priorityKey struct{}

// WithPriority tags ctx so rate-limited calls draw from the matching pool
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFromContext returns the priority tagged on ctx, PriorityHigh if none
func PriorityFromContext(ctx context.Context) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return PriorityHigh
}

var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local cu = tonumber(ARGV[1])
	local totalBudget = tonumber(ARGV[2])
	local poolBudget = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + cu > totalBudget then
		return {0, totalUsed, poolUsed}
	end
	if poolUsed + cu > poolBudget then
		return {0, totalUsed, poolUsed}
	end

	redis.call('INCRBY', totalKey, cu)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCRBY', poolKey, cu)
	redis.call('EXPIRE', poolKey, ttl)

	return {1, totalUsed + cu, poolUsed + cu}
`)

// CUBudgetTracker coordinates CU consumption across processes using Redis.
// Each window has a reserved pool for the order path and a shared pool for
// background work; both draw from the window total.
type CUBudgetTracker struct {
	redis          redis.Cmdable
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	keyTTL         time.Duration
	now            func() time.Time
}

// CUBudgetTrackerConfig holds configuration for the budget tracker.
type CUBudgetTrackerConfig struct {
	// Redis is required; the budget is shared by every process.
	Redis redis.Cmdable

	// TotalBudget is the CU per window. Default: 300.
	TotalBudget int

	// ReservedBudget is the CU per window reserved for PriorityHigh.
	// Default: two thirds of TotalBudget.
	ReservedBudget int

	// WindowSize is the window duration. Default: 1s.
	WindowSize time.Duration

	// KeyTTL is the TTL for Redis keys. Default: 2s.
	KeyTTL time.Duration
}

// CUUsageStats contains current consumption metrics.
type CUUsageStats struct {
	TotalUsed      int
	ReservedUsed   int
	SharedUsed     int
	TotalBudget    int
	ReservedBudget int
	SharedBudget   int
	WindowStart    time.Time
}

// Validate checks if the configuration is valid.
func (c *CUBudgetTrackerConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.TotalBudget < 0 {
		return errors.New("total budget cannot be negative")
	}
	if c.ReservedBudget < 0 {
		return errors.New("reserved budget cannot be negative")
	}

	totalBudget := c.TotalBudget
	if totalBudget == 0 {
		totalBudget = DefaultTotalBudget
	}
	reservedBudget := c.ReservedBudget
	if reservedBudget == 0 {
		reservedBudget = totalBudget * 2 / 3
	}
	if reservedBudget > totalBudget {
		return fmt.Errorf("reserved budget (%d) cannot exceed total budget (%d)", reservedBudget, totalBudget)
	}
	return nil
}

// NewCUBudgetTracker creates a new tracker with the given configuration.
func NewCUBudgetTracker(cfg *CUBudgetTrackerConfig) (*CUBudgetTracker, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	totalBudget := cfg.TotalBudget
	if totalBudget == 0 {
		totalBudget = DefaultTotalBudget
	}
	reservedBudget := cfg.ReservedBudget
	if reservedBudget == 0 {
		reservedBudget = totalBudget * 2 / 3
	}
	windowSize := cfg.WindowSize
	if windowSize == 0 {
		windowSize = DefaultWindowSize
	}
	keyTTL := cfg.KeyTTL
	if keyTTL == 0 {
		keyTTL = DefaultKeyTTL
	}

	return &CUBudgetTracker{
		redis:          cfg.Redis,
		totalBudget:    totalBudget,
		reservedBudget: reservedBudget,
		sharedBudget:   totalBudget - reservedBudget,
		windowSize:     windowSize,
		keyTTL:         keyTTL,
		now:            time.Now,
	}, nil
}

// getWindowTimestamp returns the start of the current window in unix millis
func (t *CUBudgetTracker) getWindowTimestamp() int64 {
	return t.now().Truncate(t.windowSize).UnixMilli()
}

func (t *CUBudgetTracker) getKeys(windowTS int64) (totalKey, reservedKey, sharedKey string) {
	tsStr := strconv.FormatInt(windowTS, 10)
	return KeyPrefixTotal + tsStr, KeyPrefixReserved + tsStr, KeyPrefixShared + tsStr
}

// TryConsume attempts to take cu from the pool matching priority.
// When denied it suggests how long to wait for the next window. A Redis
// failure denies the request.
func (t *CUBudgetTracker) TryConsume(ctx context.Context, cu int, priority Priority) (bool, time.Duration) {
	if cu <= 0 {
		return true, 0
	}

	windowTS := t.getWindowTimestamp()
	totalKey, reservedKey, sharedKey := t.getKeys(windowTS)

	poolKey, poolBudget := sharedKey, t.sharedBudget
	if priority == PriorityHigh {
		poolKey, poolBudget = reservedKey, t.reservedBudget
	}

	ttlSeconds := int(t.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := consumeScript.Run(ctx, t.redis, []string{totalKey, poolKey},
		cu, t.totalBudget, poolBudget, ttlSeconds).Int64Slice()
	if err != nil || len(result) == 0 || result[0] != 1 {
		return false, t.calculateWaitTime(windowTS)
	}
	return true, 0
}

// calculateWaitTime returns the time until the next window starts
func (t *CUBudgetTracker) calculateWaitTime(windowTS int64) time.Duration {
	windowEnd := time.UnixMilli(windowTS).Add(t.windowSize)
	waitTime := windowEnd.Sub(t.now())
	if waitTime < 0 {
		waitTime = 0
	}
	return waitTime + time.Millisecond
}

// GetUsage returns current CU usage statistics
func (t *CUBudgetTracker) GetUsage(ctx context.Context) (*CUUsageStats, error) {
	windowTS := t.getWindowTimestamp()
	totalKey, reservedKey, sharedKey := t.getKeys(windowTS)

	pipe := t.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read CU usage: %w", err)
	}

	return &CUUsageStats{
		TotalUsed:      parseIntOrZero(totalCmd),
		ReservedUsed:   parseIntOrZero(reservedCmd),
		SharedUsed:     parseIntOrZero(sharedCmd),
		TotalBudget:    t.totalBudget,
		ReservedBudget: t.reservedBudget,
		SharedBudget:   t.sharedBudget,
		WindowStart:    time.UnixMilli(windowTS),
	}, nil
}

func parseIntOrZero(cmd *redis.StringCmd) int {
	val, err := cmd.Int()
	if err != nil {
		return 0
	}
	return val
}

// RecordMethodUsage records CU consumption for one RPC method. Monitoring only.
func (t *CUBudgetTracker) RecordMethodUsage(ctx context.Context, method string, cu int) error {
	if cu <= 0 || method == "" {
		return nil
	}

	key := fmt.Sprintf("%s%s:%d", KeyPrefixMethod, method, t.getWindowTimestamp())
	pipe := t.redis.Pipeline()
	pipe.IncrBy(ctx, key, int64(cu))
	pipe.Expire(ctx, key, t.keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// AvailableBudget returns what is left in the pool for priority this window
func (t *CUBudgetTracker) AvailableBudget(ctx context.Context, priority Priority) (int, error) {
	stats, err := t.GetUsage(ctx)
	if err != nil {
		return 0, err
	}

	available := t.sharedBudget - stats.SharedUsed
	if priority == PriorityHigh {
		available = t.reservedBudget - stats.ReservedUsed
	}
	if remaining := t.totalBudget - stats.TotalUsed; remaining < available {
		available = remaining
	}
	return max(available, 0), nil
}
