package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// KeyExecutionSeq is the shared execution log counter
const KeyExecutionSeq = "execution_log:seq"

// SequenceSource hands out execution log sequence numbers. Every number is
// greater than the floor and than any number the source returned before.
type SequenceSource interface {
	Next(ctx context.Context) (uint64, error)
	// Invalidate makes the next call re-read the floor, for use after a write
	// whose outcome is unknown.
	Invalidate()
}

// FloorFunc reads the highest sequence number already stored
type FloorFunc func(ctx context.Context) (uint64, error)

// localSequence counts in process memory. It is only correct while this
// process is the log's sole writer.
type localSequence struct {
	floor FloorFunc

	mu     sync.Mutex
	last   uint64
	loaded bool
}

func newLocalSequence(floor FloorFunc) *localSequence {
	return &localSequence{floor: floor}
}

func (s *localSequence) Next(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		last, err := s.floor(ctx)
		if err != nil {
			return 0, err
		}
		s.last = last
		s.loaded = true
	}
	s.last++
	return s.last, nil
}

func (s *localSequence) Invalidate() {
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
}

// nextSeqScript raises the counter to the floor if needed and increments it
var nextSeqScript = redis.NewScript(`
	local floor = tonumber(ARGV[1])
	local current = tonumber(redis.call('GET', KEYS[1]) or '0')
	if current < floor then
		redis.call('SET', KEYS[1], ARGV[1])
	end
	return redis.call('INCR', KEYS[1])
`)

// RedisSequence allocates numbers from one Redis counter, so every engine
// process writing the same log draws from a single total order. The floor is
// read once per process and again after Invalidate, which covers a counter
// lost to a Redis flush.
type RedisSequence struct {
	redis redis.Cmdable
	key   string
	floor FloorFunc

	mu     sync.Mutex
	seeded bool
}

// NewRedisSequence creates a shared sequence under key
func NewRedisSequence(client redis.Cmdable, key string, floor FloorFunc) *RedisSequence {
	return &RedisSequence{redis: client, key: key, floor: floor}
}

func (s *RedisSequence) Next(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var floor uint64
	if !s.seeded {
		f, err := s.floor(ctx)
		if err != nil {
			return 0, err
		}
		floor = f
	}

	seq, err := nextSeqScript.Run(ctx, s.redis, []string{s.key}, floor).Uint64()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence: %w", err)
	}
	s.seeded = true
	return seq, nil
}

func (s *RedisSequence) Invalidate() {
	s.mu.Lock()
	s.seeded = false
	s.mu.Unlock()
}
