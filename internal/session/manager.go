package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	commonerrors "pharma-orchestrator/internal/common/errors"
	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/models"
)

const DefaultTTL = 24 * time.Hour

type Manager struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger logger.Logger
}

func NewManager(store Store, ttl time.Duration, log logger.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		logger: log.With(map[string]interface{}{"component": "session"}),
	}
}

// Create issues a new token for the user.
func (m *Manager) Create(ctx context.Context, userID, username string, role models.UserRole) (*models.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, commonerrors.NewInvalidInputError("userId is required")
	}

	now := m.now().UTC()
	s := &models.Session{
		Token:        strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", ""),
		UserID:       userID,
		Username:     username,
		Role:         models.ParseUserRole(string(role)),
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
		LastActivity: now,
	}
	if err := m.store.Put(ctx, s); err != nil {
		return nil, commonerrors.NewInternalError(err)
	}

	m.logger.Info("session created", map[string]interface{}{
		"user_id": userID,
		"role":    s.Role,
	})
	return s, nil
}

// Resolve returns the live session for token and records the activity.
func (m *Manager) Resolve(ctx context.Context, token string) (*models.Session, error) {
	s, err := m.store.Get(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return nil, commonerrors.NewSessionNotFoundError()
	}
	if err != nil {
		return nil, commonerrors.NewInternalError(err)
	}
	if !m.now().Before(s.ExpiresAt) {
		_ = m.store.Expire(ctx, token)
		return nil, commonerrors.NewSessionExpiredError()
	}

	s.LastActivity = m.now().UTC()
	if err := m.store.Put(ctx, s); err != nil {
		m.logger.Warn("failed to refresh session activity", map[string]interface{}{
			"user_id": s.UserID,
			"error":   err.Error(),
		})
	}
	return s, nil
}

func (m *Manager) Revoke(ctx context.Context, token string) error {
	if err := m.store.Expire(ctx, token); err != nil {
		return commonerrors.NewInternalError(err)
	}
	return nil
}
