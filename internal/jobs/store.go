package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound       = errors.New("job not found")
	ErrUpdateConflict = errors.New("job update kept conflicting with concurrent writers")
)

const (
	DefaultTTL = 24 * time.Hour

	maxUpdateAttempts = 10
)

// UpdateFunc derives the job to store from the stored one, which is nil when
// the job does not exist. Returning nil leaves the store untouched.
type UpdateFunc func(current *Job) *Job

// Store keeps jobs for a bounded time after their last update. Update is an
// atomic read-modify-write of one job.
type Store interface {
	Save(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, id string, fn UpdateFunc) error
}

type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func jobKey(id string) string {
	return "jobs:" + id
}

func (s *RedisStore) Save(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return s.client.Set(ctx, jobKey(job.ID), data, s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	return getJob(ctx, s.client, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getJob(ctx context.Context, c getter, id string) (*Job, error) {
	data, err := c.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// Update uses WATCH/MULTI and retries when another writer touched the job
// between the read and the write.
func (s *RedisStore) Update(ctx context.Context, id string, fn UpdateFunc) error {
	key := jobKey(id)
	txf := func(tx *redis.Tx) error {
		current, err := getJob(ctx, tx, id)
		if errors.Is(err, ErrNotFound) {
			current = nil
		} else if err != nil {
			return err
		}

		next := fn(current)
		if next == nil {
			return nil
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode job %s: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update job %s: %w", id, ErrUpdateConflict)
}

type memoryEntry struct {
	job      Job
	expireAt time.Time
}

// MemoryStore is a single-process Store. Saved jobs are copied so callers
// cannot mutate stored state.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]memoryEntry
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{jobs: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune()
	s.jobs[job.ID] = memoryEntry{job: *job, expireAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune()
	var current *Job
	if e, ok := s.jobs[id]; ok {
		job := e.job
		current = &job
	}
	next := fn(current)
	if next == nil {
		return nil
	}
	s.jobs[id] = memoryEntry{job: *next, expireAt: s.now().Add(s.ttl)}
	return nil
}

// prune drops expired jobs. Callers hold mu.
func (s *MemoryStore) prune() {
	now := s.now()
	for id, e := range s.jobs {
		if !now.Before(e.expireAt) {
			delete(s.jobs, id)
		}
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.jobs[id]
	if !ok || !s.now().Before(e.expireAt) {
		return nil, ErrNotFound
	}
	job := e.job
	return &job, nil
}
