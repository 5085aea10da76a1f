package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/models"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testLimits() map[string]Limits {
	return map[string]Limits{
		"groq": {
			Roles:  map[models.UserRole]int64{models.RoleAnalyst: 3, models.RoleManager: 5},
			Global: 10,
		},
	}
}

func newTestLimiter(t *testing.T, store CounterStore, now time.Time) *Limiter {
	l := NewLimiter(store, testLimits(), logger.NewTestLogger(t))
	l.now = func() time.Time { return now }
	return l
}

func TestLimiter_UserLimit(t *testing.T) {
	stores := map[string]func(t *testing.T) CounterStore{
		"memory": func(t *testing.T) CounterStore { return NewMemoryStore() },
		"redis": func(t *testing.T) CounterStore {
			_, client := setupRedis(t)
			return NewRedisStore(client)
		},
	}

	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := newTestLimiter(t, mk(t), time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
			caller := models.Caller{UserID: "u1", Role: models.RoleAnalyst}

			for i := 0; i < 3; i++ {
				d := l.Check(ctx, "groq", caller)
				require.True(t, d.Allowed, "call %d", i+1)
				l.Record(ctx, "groq", caller.UserID)
			}

			d := l.Check(ctx, "groq", caller)
			assert.False(t, d.Allowed)
			assert.Equal(t, ScopeUser, d.Scope)
			assert.Equal(t, int64(3), d.Current)
			assert.Equal(t, int64(3), d.Limit)

			// recording past the limit does not reopen the quota
			l.Record(ctx, "groq", caller.UserID)
			assert.False(t, l.Check(ctx, "groq", caller).Allowed)

			// a manager has more headroom
			mgr := models.Caller{UserID: "u2", Role: models.RoleManager}
			assert.True(t, l.Check(ctx, "groq", mgr).Allowed)
		})
	}
}

func TestLimiter_GlobalLimit(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, NewMemoryStore(), time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 10; i++ {
		l.Record(ctx, "groq", fmt.Sprintf("user-%d", i))
	}

	d := l.Check(ctx, "groq", models.Caller{UserID: "fresh", Role: models.RoleAdmin})
	assert.False(t, d.Allowed)
	assert.Equal(t, ScopeGlobal, d.Scope)
	assert.Equal(t, int64(10), d.Limit)

	anon := l.Check(ctx, "groq", models.Anonymous())
	assert.False(t, anon.Allowed)
	assert.Equal(t, ScopeGlobal, anon.Scope)
}

func TestLimiter_UnknownRoleUsesAnalystLimit(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, NewMemoryStore(), time.Now())
	caller := models.Caller{UserID: "u1", Role: models.UserRole("intern")}

	d := l.Check(ctx, "groq", caller)
	assert.Equal(t, int64(3), d.Limit)
}

func TestLimiter_UnknownAPIIsUnlimited(t *testing.T) {
	l := newTestLimiter(t, NewMemoryStore(), time.Now())

	d := l.Check(context.Background(), "serpapi", models.Caller{UserID: "u1", Role: models.RoleAnalyst})
	assert.True(t, d.Allowed)
	assert.Equal(t, Unlimited, d.Limit)
}

func TestLimiter_ResetsAtUTCMidnight(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	l := newTestLimiter(t, store, now)
	l.now = func() time.Time { return now }
	caller := models.Caller{UserID: "u1", Role: models.RoleAnalyst}

	for i := 0; i < 3; i++ {
		l.Record(ctx, "groq", caller.UserID)
	}
	require.False(t, l.Check(ctx, "groq", caller).Allowed)

	now = now.Add(2 * time.Minute)
	d := l.Check(ctx, "groq", caller)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(0), d.Current)
}

func TestLimiter_ConcurrentRecordsAreNotLost(t *testing.T) {
	const k = 200

	stores := map[string]func(t *testing.T) CounterStore{
		"memory": func(t *testing.T) CounterStore { return NewMemoryStore() },
		"redis": func(t *testing.T) CounterStore {
			_, client := setupRedis(t)
			return NewRedisStore(client)
		},
	}

	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)
			limits := map[string]Limits{"groq": {Roles: map[models.UserRole]int64{models.RoleAnalyst: 1000}, Global: 1000}}
			l := NewLimiter(store, limits, logger.NewTestLogger(t))

			var wg sync.WaitGroup
			for i := 0; i < k; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					l.Record(ctx, "groq", "u1")
				}()
			}
			wg.Wait()

			day, _ := l.day()
			n, err := store.Get(ctx, userKey("groq", day, "u1"))
			require.NoError(t, err)
			assert.Equal(t, int64(k), n)

			n, err = store.Get(ctx, globalKey("groq", day))
			require.NoError(t, err)
			assert.Equal(t, int64(k), n)
		})
	}
}

func TestRedisStore_SetsExpiry(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	expireAt := time.Now().Add(time.Hour)
	n, err := store.Incr(ctx, "ratelimit:groq:test:global", expireAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ttl := mr.TTL("ratelimit:groq:test:global")
	assert.Greater(t, ttl, 50*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)
}

func TestLimiter_FailsOpenOnStoreError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := newTestLimiter(t, NewRedisStore(client), time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	mock.ExpectGet("ratelimit:groq:2026-03-10:user:u1").SetErr(errors.New("connection refused"))
	mock.ExpectGet("ratelimit:groq:2026-03-10:global").SetErr(errors.New("connection refused"))

	d := l.Check(context.Background(), "groq", models.Caller{UserID: "u1", Role: models.RoleAnalyst})
	assert.True(t, d.Allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLimiter_Guard(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, NewMemoryStore(), time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	caller := models.Caller{UserID: "u1", Role: models.RoleAnalyst}

	calls := 0
	ok := func(context.Context) error { calls++; return nil }
	failing := func(context.Context) error { calls++; return errors.New("upstream 500") }

	require.NoError(t, l.Guard(ctx, "groq", caller, ok))
	require.Error(t, l.Guard(ctx, "groq", caller, failing))
	require.NoError(t, l.Guard(ctx, "groq", caller, ok))

	err := l.Guard(ctx, "groq", caller, ok)
	require.ErrorIs(t, err, ErrQuotaExceeded)
	var qe *QuotaError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, ScopeUser, qe.Decision.Scope)
	assert.Equal(t, int64(3), qe.Decision.Current)
	assert.Equal(t, int64(3), qe.Decision.Limit)
	assert.Equal(t, 3, calls, "denied call never reaches the upstream; failed call keeps its slot")

	day, _ := l.day()
	n, err := l.store.Get(ctx, userKey("groq", day, "u1"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "denial leaves the counter unchanged")
}

func TestLimiter_GuardAdmitsExactlyLimitUnderConcurrency(t *testing.T) {
	const (
		limit   = 5
		callers = 20
	)

	stores := map[string]func(t *testing.T) CounterStore{
		"memory": func(t *testing.T) CounterStore { return NewMemoryStore() },
		"redis": func(t *testing.T) CounterStore {
			_, client := setupRedis(t)
			return NewRedisStore(client)
		},
	}

	tests := []struct {
		name      string
		caller    models.Caller
		limits    Limits
		wantScope string
	}{
		{
			name:      "user quota",
			caller:    models.Caller{UserID: "u1", Role: models.RoleAnalyst},
			limits:    Limits{Roles: map[models.UserRole]int64{models.RoleAnalyst: limit}, Global: 1000},
			wantScope: ScopeUser,
		},
		{
			name:      "global quota",
			caller:    models.Anonymous(),
			limits:    Limits{Roles: map[models.UserRole]int64{models.RoleAnalyst: 1000}, Global: limit},
			wantScope: ScopeGlobal,
		},
	}

	for storeName, mk := range stores {
		for _, tt := range tests {
			t.Run(storeName+"/"+tt.name, func(t *testing.T) {
				ctx := context.Background()
				store := mk(t)
				l := NewLimiter(store, map[string]Limits{"groq": tt.limits}, logger.NewTestLogger(t))

				var (
					wg       sync.WaitGroup
					mu       sync.Mutex
					admitted int
					denials  []Decision
				)
				for i := 0; i < callers; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						err := l.Guard(ctx, "groq", tt.caller, func(context.Context) error {
							time.Sleep(10 * time.Millisecond)
							return nil
						})
						mu.Lock()
						defer mu.Unlock()
						var qe *QuotaError
						if errors.As(err, &qe) {
							denials = append(denials, qe.Decision)
							return
						}
						admitted++
					}()
				}
				wg.Wait()

				assert.Equal(t, limit, admitted)
				require.Len(t, denials, callers-limit)
				for _, d := range denials {
					assert.Equal(t, tt.wantScope, d.Scope)
					assert.Equal(t, int64(limit), d.Current)
					assert.Equal(t, int64(limit), d.Limit)
				}

				day, _ := l.day()
				n, err := store.Get(ctx, globalKey("groq", day))
				require.NoError(t, err)
				assert.Equal(t, int64(limit), n)
			})
		}
	}
}

func TestRedisStore_ReserveSetsExpiry(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	keys := []string{"ratelimit:groq:test:user:u1", "ratelimit:groq:test:global"}
	denied, n, err := store.Reserve(ctx, keys, []int64{1, 10}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, -1, denied)
	assert.Equal(t, int64(1), n)
	assert.Greater(t, mr.TTL(keys[1]), 50*time.Minute)

	denied, n, err = store.Reserve(ctx, keys, []int64{1, 10}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, denied)
	assert.Equal(t, int64(1), n)

	global, err := store.Get(ctx, keys[1])
	require.NoError(t, err)
	assert.Equal(t, int64(1), global, "denied reservation does not touch the global counter")
}

func TestLimiter_Usage(t *testing.T) {
	ctx := context.Background()
	limits := testLimits()
	limits["tavily"] = Limits{Roles: map[models.UserRole]int64{models.RoleAnalyst: 2}, Global: 4}
	l := NewLimiter(NewMemoryStore(), limits, logger.NewTestLogger(t))
	caller := models.Caller{UserID: "u1", Role: models.RoleAnalyst}

	l.Record(ctx, "groq", "u1")
	l.Record(ctx, "groq", "u2")
	l.Record(ctx, "tavily", "u1")
	l.Record(ctx, "tavily", "u1")
	l.Record(ctx, "tavily", "u1")

	usage := l.Usage(ctx, caller)
	require.Len(t, usage, 2)

	assert.Equal(t, "groq", usage[0].API)
	assert.Equal(t, int64(1), usage[0].Used)
	assert.Equal(t, int64(2), usage[0].Remaining)
	assert.Equal(t, int64(2), usage[0].GlobalUsed)
	assert.Equal(t, int64(8), usage[0].GlobalRemaining)

	assert.Equal(t, "tavily", usage[1].API)
	assert.Equal(t, int64(3), usage[1].Used)
	assert.Equal(t, int64(0), usage[1].Remaining)
}
