package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore holds day-scoped counters. Incr must be atomic per key.
//
// Reserve increments every key only if each one is still below its limit, as
// one atomic step. It returns the index of the first key found at its limit
// together with that key's count, or -1 and the new count of keys[0] when all
// keys were incremented.
type CounterStore interface {
	Get(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string, expireAt time.Time) (int64, error)
	Reserve(ctx context.Context, keys []string, limits []int64, expireAt time.Time) (int, int64, error)
}

// reserveScript checks all counters before touching any of them, so a denied
// reservation leaves every counter unchanged.
var reserveScript = redis.NewScript(`
local n = #KEYS
for i = 1, n do
  local cur = tonumber(redis.call('GET', KEYS[i]) or '0')
  if cur >= tonumber(ARGV[i]) then
    return {i, cur}
  end
end
local first = 0
for i = 1, n do
  local v = redis.call('INCR', KEYS[i])
  redis.call('EXPIREAT', KEYS[i], ARGV[n + 1])
  if i == 1 then first = v end
end
return {0, first}
`)

// RedisStore keeps counters in Redis so every replica shares one budget.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Incr runs INCR and EXPIREAT in one MULTI/EXEC so a counter never outlives its day.
func (s *RedisStore) Incr(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, expireAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisStore) Reserve(ctx context.Context, keys []string, limits []int64, expireAt time.Time) (int, int64, error) {
	args := make([]interface{}, 0, len(limits)+1)
	for _, limit := range limits {
		args = append(args, limit)
	}
	args = append(args, expireAt.Unix())

	res, err := reserveScript.Run(ctx, s.client, keys, args...).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected reserve reply: %v", res)
	}
	return int(res[0]) - 1, res[1], nil
}

type memoryCounter struct {
	count    int64
	expireAt time.Time
}

// MemoryStore is a single-process CounterStore.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*memoryCounter), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !s.now().Before(c.expireAt) {
		return 0, nil
	}
	return c.count, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, expireAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune()
	return s.incr(key, expireAt), nil
}

func (s *MemoryStore) Reserve(_ context.Context, keys []string, limits []int64, expireAt time.Time) (int, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune()
	for i, key := range keys {
		var cur int64
		if c, ok := s.counters[key]; ok {
			cur = c.count
		}
		if cur >= limits[i] {
			return i, cur, nil
		}
	}
	var first int64
	for i, key := range keys {
		n := s.incr(key, expireAt)
		if i == 0 {
			first = n
		}
	}
	return -1, first, nil
}

// prune drops expired counters. Callers hold mu.
func (s *MemoryStore) prune() {
	now := s.now()
	for k, c := range s.counters {
		if !now.Before(c.expireAt) {
			delete(s.counters, k)
		}
	}
}

func (s *MemoryStore) incr(key string, expireAt time.Time) int64 {
	c, ok := s.counters[key]
	if !ok {
		c = &memoryCounter{}
		s.counters[key] = c
	}
	c.count++
	c.expireAt = expireAt
	return c.count
}
