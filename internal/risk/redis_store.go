package risk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/autopilot-engine/internal/models"
	"github.com/autopilot-engine/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Redis key prefixes for budget state.
const (
	KeyPrefixBudget       = "risk:budget:"
	KeyPrefixReservations = "risk:reservations:"
)

// DefaultReservationTTL is how long an outstanding reservation may hold a
// concurrency slot before the next reserve on the wallet reaps it. It must
// exceed the longest submission, including its timeout.
const DefaultReservationTTL = 10 * time.Minute

// microScale converts USD to integer micro-USD for storage in Redis
const microScale = 6

// Reserve script return codes
const (
	reserveOK          = 0
	reserveDailyCap    = 2
	reserveConcurrency = 3
	reserveCooldown    = 4
)

// reserveScript checks and applies a reservation in one atomic step.
//
// Reservations older than the reap threshold are dropped from the sorted set
// and their slots returned before the checks run; that correction is kept
// even when the order is then rejected.
//
//	KEYS[1] budget hash, KEYS[2] outstanding reservations (score: reserved at ms)
//	ARGV: value, maxDaily, maxConcurrent, cooldownMs, nowMs, day, reservationID, referenceValue, reapBeforeMs
var reserveScript = redis.NewScript(`
	local budgetKey = KEYS[1]
	local reservationsKey = KEYS[2]
	local value = tonumber(ARGV[1])
	local maxDaily = tonumber(ARGV[2])
	local maxConcurrent = tonumber(ARGV[3])
	local cooldownMs = tonumber(ARGV[4])
	local nowMs = tonumber(ARGV[5])
	local day = ARGV[6]

	local storedDay = redis.call('HGET', budgetKey, 'day')
	local volume = tonumber(redis.call('HGET', budgetKey, 'volume_micros') or '0')
	if storedDay ~= day then
		volume = 0
	end
	local active = tonumber(redis.call('HGET', budgetKey, 'active') or '0')
	local reaped = redis.call('ZREMRANGEBYSCORE', reservationsKey, '-inf', '(' .. ARGV[9])
	if reaped > 0 then
		active = math.max(active - reaped, 0)
		redis.call('HSET', budgetKey, 'active', active)
	end
	local last = redis.call('HGET', budgetKey, 'last_order_ms')

	if volume + value > maxDaily then
		return 2
	end
	if active >= maxConcurrent then
		return 3
	end
	if last and nowMs - tonumber(last) < cooldownMs then
		return 4
	end

	redis.call('HSET', budgetKey,
		'day', day,
		'volume_micros', string.format('%d', volume + value),
		'active', active + 1,
		'last_order_ms', ARGV[5],
		'ref_value_micros', ARGV[8])
	redis.call('ZADD', reservationsKey, nowMs, ARGV[7])
	return 0
`)

// releaseScript decrements the active count only for an outstanding reservation.
var releaseScript = redis.NewScript(`
	if redis.call('ZREM', KEYS[2], ARGV[1]) == 1 then
		local active = tonumber(redis.call('HGET', KEYS[1], 'active') or '0')
		if active > 0 then
			redis.call('HINCRBY', KEYS[1], 'active', -1)
		end
		return 1
	end
	return 0
`)

// RedisStore keeps budgets in Redis so that several engine processes share
// one transactional view of each wallet.
type RedisStore struct {
	redis          redis.Cmdable
	reservationTTL time.Duration
}

// NewRedisStore creates a Redis-backed budget store
func NewRedisStore(client redis.Cmdable) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &RedisStore{redis: client, reservationTTL: DefaultReservationTTL}, nil
}

// SetReservationTTL changes how long a reservation may stay outstanding
func (s *RedisStore) SetReservationTTL(ttl time.Duration) {
	if ttl > 0 {
		s.reservationTTL = ttl
	}
}

func budgetKey(wallet string) string       { return KeyPrefixBudget + wallet }
func reservationsKey(wallet string) string { return KeyPrefixReservations + wallet }

func toMicros(d decimal.Decimal) int64 {
	return d.Shift(microScale).Round(0).IntPart()
}

func fromMicros(v int64) decimal.Decimal {
	return decimal.New(v, -microScale)
}

// Reserve implements BudgetStore
func (s *RedisStore) Reserve(ctx context.Context, req ReserveRequest) (types.RejectReason, error) {
	code, err := reserveScript.Run(ctx, s.redis,
		[]string{budgetKey(req.Wallet), reservationsKey(req.Wallet)},
		toMicros(req.ValueUSD),
		toMicros(req.Limits.MaxDailyVolumeUSD),
		req.Limits.MaxConcurrentOrders,
		req.Limits.Cooldown().Milliseconds(),
		req.Now.UnixMilli(),
		dayOf(req.Now),
		req.ReservationID,
		toMicros(req.PortfolioValueUSD),
		req.Now.Add(-s.reservationTTL).UnixMilli(),
	).Int()
	if err != nil {
		return types.ReasonNone, fmt.Errorf("reserve script: %w", err)
	}

	switch code {
	case reserveOK:
		return types.ReasonNone, nil
	case reserveDailyCap:
		return types.ReasonDailyCapExceeded, nil
	case reserveConcurrency:
		return types.ReasonConcurrencyCapExceeded, nil
	case reserveCooldown:
		return types.ReasonCooldownActive, nil
	default:
		return types.ReasonNone, fmt.Errorf("reserve script returned unknown code %d", code)
	}
}

// Release implements BudgetStore
func (s *RedisStore) Release(ctx context.Context, wallet, reservationID string) (bool, error) {
	released, err := releaseScript.Run(ctx, s.redis,
		[]string{budgetKey(wallet), reservationsKey(wallet)},
		reservationID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("release script: %w", err)
	}
	return released == 1, nil
}

// Snapshot implements BudgetStore
func (s *RedisStore) Snapshot(ctx context.Context, wallet string, now time.Time) (models.RiskBudgetState, error) {
	today := dayOf(now)
	state := models.RiskBudgetState{
		Wallet: wallet,
		Day:    today,
	}

	fields, err := s.redis.HGetAll(ctx, budgetKey(wallet)).Result()
	if err != nil {
		return state, fmt.Errorf("read budget: %w", err)
	}
	if len(fields) == 0 {
		return state, nil
	}

	if fields["day"] == today {
		state.DailyVolumeConsumedUSD = fromMicros(parseInt64(fields["volume_micros"]))
	}
	state.ActiveOrderCount = int(parseInt64(fields["active"]))
	state.ReferenceValueUSD = fromMicros(parseInt64(fields["ref_value_micros"]))
	if raw, ok := fields["last_order_ms"]; ok && raw != "" {
		at := time.UnixMilli(parseInt64(raw)).UTC()
		state.LastOrderAt = &at
	}
	return state, nil
}

// parseInt64 parses a stored counter, treating missing or malformed values as 0
func parseInt64(raw string) int64 {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
