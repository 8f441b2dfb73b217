// Package throttle limits estimate requests per client with fixed-window
// counters kept in the cache.
package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/proptax/internal/domain"
)

// Limiter counts requests per client key.
type Limiter struct {
	cache  domain.Cache
	limit  int64
	window time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Count     int64
	Limit     int64
	Remaining int64
	Window    time.Duration
}

// NewLimiter creates a limiter. Counters live in c, so a Redis-backed
// cache shares limits across nodes.
func NewLimiter(c domain.Cache, cfg domain.ThrottleConfig) (*Limiter, error) {
	if c == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Limit <= 0 || cfg.Window <= 0 {
		return nil, fmt.Errorf("limit and window must be positive")
	}
	return &Limiter{cache: c, limit: cfg.Limit, window: cfg.Window}, nil
}

// Allow counts one request for client and reports whether it is within
// the limit.
func (l *Limiter) Allow(ctx context.Context, client string) (Decision, error) {
	if client == "" {
		client = "anonymous"
	}

	count, err := l.cache.IncrementCounter(ctx, domain.CacheKeyThrottle+client, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count request: %w", err)
	}

	return Decision{
		Allowed:   count <= l.limit,
		Count:     count,
		Limit:     l.limit,
		Remaining: max(l.limit-count, 0),
		Window:    l.window,
	}, nil
}
