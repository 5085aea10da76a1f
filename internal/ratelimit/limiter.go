// Package ratelimit enforces daily per-role and global quotas on external APIs.
//
// Counters use a fixed UTC-day window: a burst just before midnight and another
// just after can together exceed one day's budget. That approximation is accepted.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"pharma-orchestrator/internal/common/config"
	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/common/metrics"
	"pharma-orchestrator/internal/models"
)

// Unlimited is reported as the limit for APIs without a configured quota.
const Unlimited int64 = -1

const (
	ScopeUser      = "user"
	ScopeGlobal    = "global"
	ScopeUnlimited = "unlimited"
)

var ErrQuotaExceeded = errors.New("RATE_LIMIT_EXCEEDED")

// QuotaError carries the denying decision.
type QuotaError struct {
	Decision Decision
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: %s %s quota %d/%d", ErrQuotaExceeded, e.Decision.API, e.Decision.Scope,
		e.Decision.Current, e.Decision.Limit)
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// Decision is the result of a quota check. When denied, Current/Limit/Scope
// describe the first limit that was hit.
type Decision struct {
	API     string `json:"api"`
	Allowed bool   `json:"allowed"`
	Current int64  `json:"current"`
	Limit   int64  `json:"limit"`
	Scope   string `json:"scope"`
}

// Limits is one API's daily budget.
type Limits struct {
	Roles  map[models.UserRole]int64
	Global int64
}

func (l Limits) forRole(role models.UserRole) int64 {
	if n, ok := l.Roles[role]; ok {
		return n
	}
	return l.Roles[models.RoleAnalyst]
}

// LimitsFromConfig converts the configured quotas.
func LimitsFromConfig(cfg map[string]config.RateLimitConfig) map[string]Limits {
	out := make(map[string]Limits, len(cfg))
	for api, c := range cfg {
		roles := make(map[models.UserRole]int64, len(c.Roles))
		for role, n := range c.Roles {
			roles[models.ParseUserRole(role)] = n
		}
		out[api] = Limits{Roles: roles, Global: c.Global}
	}
	return out
}

type Limiter struct {
	store  CounterStore
	limits map[string]Limits
	now    func() time.Time
	logger logger.Logger
}

func NewLimiter(store CounterStore, limits map[string]Limits, log logger.Logger) *Limiter {
	return &Limiter{
		store:  store,
		limits: limits,
		now:    time.Now,
		logger: log.With(map[string]interface{}{"component": "ratelimit"}),
	}
}

func (l *Limiter) day() (string, time.Time) {
	now := l.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return now.Format("2006-01-02"), midnight
}

func userKey(api, day, userID string) string {
	return fmt.Sprintf("ratelimit:%s:%s:user:%s", api, day, userID)
}

func globalKey(api, day string) string {
	return fmt.Sprintf("ratelimit:%s:%s:global", api, day)
}

// Check tests the caller's role quota (when the caller has an id) and then the
// global quota. A store failure is logged and the call is allowed.
func (l *Limiter) Check(ctx context.Context, api string, caller models.Caller) Decision {
	limits, ok := l.limits[api]
	if !ok {
		return Decision{API: api, Allowed: true, Limit: Unlimited, Scope: ScopeUnlimited}
	}
	day, _ := l.day()

	allowed := Decision{API: api, Allowed: true}

	if caller.UserID != "" {
		limit := limits.forRole(caller.Role)
		count := l.read(ctx, userKey(api, day, caller.UserID))
		if count >= limit {
			return l.observe(Decision{API: api, Allowed: false, Current: count, Limit: limit, Scope: ScopeUser})
		}
		allowed.Current, allowed.Limit, allowed.Scope = count, limit, ScopeUser
	}

	count := l.read(ctx, globalKey(api, day))
	if count >= limits.Global {
		return l.observe(Decision{API: api, Allowed: false, Current: count, Limit: limits.Global, Scope: ScopeGlobal})
	}
	if caller.UserID == "" {
		allowed.Current, allowed.Limit, allowed.Scope = count, limits.Global, ScopeGlobal
	}
	return l.observe(allowed)
}

func (l *Limiter) read(ctx context.Context, key string) int64 {
	n, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.Warn("rate limit counter unavailable, allowing", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return 0
	}
	return n
}

func (l *Limiter) observe(d Decision) Decision {
	metrics.RateLimitDecisions.WithLabelValues(d.API, metrics.BoolLabel(d.Allowed)).Inc()
	if !d.Allowed {
		l.logger.Warn("rate limit reached", map[string]interface{}{
			"api":     d.API,
			"scope":   d.Scope,
			"current": d.Current,
			"limit":   d.Limit,
		})
	}
	return d
}

// Record counts one call against the user's and the global counters.
func (l *Limiter) Record(ctx context.Context, api, userID string) {
	if _, ok := l.limits[api]; !ok {
		return
	}
	day, expireAt := l.day()

	keys := []string{globalKey(api, day)}
	if userID != "" {
		keys = append(keys, userKey(api, day, userID))
	}
	for _, key := range keys {
		if _, err := l.store.Incr(ctx, key, expireAt); err != nil {
			l.logger.Error("failed to record rate limit usage", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	}
}

// Guard reserves one call against the caller's and the global quota and then
// runs fn. The reservation is a single atomic check-and-increment, so
// concurrent callers can never push a counter past its limit. A denial returns
// a *QuotaError wrapping ErrQuotaExceeded and fn is not called. Counters never
// decrement within a day, so a call that fails upstream still uses its slot.
func (l *Limiter) Guard(ctx context.Context, api string, caller models.Caller, fn func(context.Context) error) error {
	if d := l.reserve(ctx, api, caller); !d.Allowed {
		return &QuotaError{Decision: d}
	}
	return fn(ctx)
}

func (l *Limiter) reserve(ctx context.Context, api string, caller models.Caller) Decision {
	limits, ok := l.limits[api]
	if !ok {
		return Decision{API: api, Allowed: true, Limit: Unlimited, Scope: ScopeUnlimited}
	}
	day, expireAt := l.day()

	var (
		keys   []string
		caps   []int64
		scopes []string
	)
	if caller.UserID != "" {
		keys = append(keys, userKey(api, day, caller.UserID))
		caps = append(caps, limits.forRole(caller.Role))
		scopes = append(scopes, ScopeUser)
	}
	keys = append(keys, globalKey(api, day))
	caps = append(caps, limits.Global)
	scopes = append(scopes, ScopeGlobal)

	denied, current, err := l.store.Reserve(ctx, keys, caps, expireAt)
	if err != nil {
		l.logger.Warn("rate limit counter unavailable, allowing", map[string]interface{}{
			"api":   api,
			"error": err.Error(),
		})
		return l.observe(Decision{API: api, Allowed: true, Limit: caps[0], Scope: scopes[0]})
	}
	if denied >= 0 {
		return l.observe(Decision{API: api, Allowed: false, Current: current, Limit: caps[denied], Scope: scopes[denied]})
	}
	return l.observe(Decision{API: api, Allowed: true, Current: current, Limit: caps[0], Scope: scopes[0]})
}

// Usage summarizes one API's consumption for a caller.
type Usage struct {
	API             string `json:"api"`
	Used            int64  `json:"used"`
	Limit           int64  `json:"limit"`
	Remaining       int64  `json:"remaining"`
	GlobalUsed      int64  `json:"globalUsed"`
	GlobalLimit     int64  `json:"globalLimit"`
	GlobalRemaining int64  `json:"globalRemaining"`
	ResetsAt        string `json:"resetsAt"`
}

// Usage reports the caller's and the global consumption for every configured API.
func (l *Limiter) Usage(ctx context.Context, caller models.Caller) []Usage {
	day, resetAt := l.day()

	apis := make([]string, 0, len(l.limits))
	for api := range l.limits {
		apis = append(apis, api)
	}
	sort.Strings(apis)

	out := make([]Usage, 0, len(apis))
	for _, api := range apis {
		limits := l.limits[api]
		u := Usage{
			API:         api,
			GlobalUsed:  l.read(ctx, globalKey(api, day)),
			GlobalLimit: limits.Global,
			ResetsAt:    resetAt.Format(time.RFC3339),
		}
		u.GlobalRemaining = remaining(u.GlobalUsed, u.GlobalLimit)
		if caller.UserID != "" {
			u.Used = l.read(ctx, userKey(api, day, caller.UserID))
			u.Limit = limits.forRole(caller.Role)
			u.Remaining = remaining(u.Used, u.Limit)
		}
		out = append(out, u)
	}
	return out
}

func remaining(used, limit int64) int64 {
	if used >= limit {
		return 0
	}
	return limit - used
}
