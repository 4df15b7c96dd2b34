package ratelimit

import (
	"context"
	"sync"
	"time"

	"salesbot/internal/util"

	"go.uber.org/zap"
)

// Result reports an admission decision. RetryAfter is positive only on rejection.
type Result struct {
	Allowed    bool
	RetryAfter int
}

// Counter is the shared window counter. Implemented by redisclient.Client for
// process-external state and by memoryCounter as a single-process fallback.
type Counter interface {
	CheckRateLimit(ctx context.Context, tenantID string, limit, windowSeconds int) (bool, int, error)
}

// Limiter is the per-tenant admission control shared across all inbound paths.
// One budget per tenant regardless of channel. The payment settlement path must
// never go through it.
type Limiter struct {
	counter       Counter
	limit         int
	windowSeconds int
	logger        *zap.Logger
}

func NewLimiter(counter Counter, limit, windowSeconds int) *Limiter {
	if limit <= 0 {
		limit = 20
	}
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	return &Limiter{
		counter:       counter,
		limit:         limit,
		windowSeconds: windowSeconds,
		logger:        util.GetLogger(),
	}
}

// Check admits or rejects one inbound message for the tenant. Counter errors
// fail open: a cache outage must not silence every bot.
func (l *Limiter) Check(ctx context.Context, tenantID string) Result {
	allowed, retryAfter, err := l.counter.CheckRateLimit(ctx, tenantID, l.limit, l.windowSeconds)
	if err != nil {
		l.logger.Warn("Rate limit check failed, admitting",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return Result{Allowed: true}
	}

	if !allowed {
		util.RateLimitRejectionsTotal.Inc()
		if retryAfter <= 0 {
			retryAfter = l.windowSeconds
		}
		return Result{Allowed: false, RetryAfter: retryAfter}
	}
	return Result{Allowed: true}
}

// memoryCounter is a fixed-window counter for deployments without Redis.
type memoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

// NewMemoryCounter returns a process-local Counter with the same window
// semantics as the Redis script.
func NewMemoryCounter() Counter {
	return &memoryCounter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (m *memoryCounter) CheckRateLimit(_ context.Context, tenantID string, limit, windowSeconds int) (bool, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[tenantID]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(time.Duration(windowSeconds) * time.Second)}
		m.windows[tenantID] = w
	}

	w.count++
	if w.count > limit {
		retryAfter := int(w.resetAt.Sub(now).Seconds())
		if retryAfter <= 0 {
			retryAfter = 1
		}
		return false, retryAfter, nil
	}
	return true, 0, nil
}
