// Package session issues and resolves API bearer tokens.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"pharma-orchestrator/internal/models"
)

var ErrNotFound = errors.New("session not found")

// Store keeps sessions until their ExpiresAt.
type Store interface {
	Get(ctx context.Context, token string) (*models.Session, error)
	Put(ctx context.Context, s *models.Session) error
	Expire(ctx context.Context, token string) error
}

type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(token string) string {
	return "session:" + token
}

func (r *RedisStore) Get(ctx context.Context, token string) (*models.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

// Put stores s with a TTL that ends at s.ExpiresAt.
func (r *RedisStore) Put(ctx context.Context, s *models.Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return r.Expire(ctx, s.Token)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return r.client.Set(ctx, sessionKey(s.Token), data, ttl).Err()
}

func (r *RedisStore) Expire(ctx context.Context, token string) error {
	return r.client.Del(ctx, sessionKey(token)).Err()
}

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]models.Session)}
}

func (m *MemoryStore) Get(_ context.Context, token string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[token]
	if !ok || s.IsExpired() {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) Put(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for token, existing := range m.sessions {
		if existing.IsExpired() {
			delete(m.sessions, token)
		}
	}
	m.sessions[s.Token] = *s
	return nil
}

func (m *MemoryStore) Expire(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}
