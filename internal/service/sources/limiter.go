package sources

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiters hands out one token bucket per key (provider), created on first use.
type Limiters struct {
	mu sync.Mutex
	m  map[string]*rate.Limiter
}

func NewLimiters() *Limiters {
	return &Limiters{m: make(map[string]*rate.Limiter)}
}

// Get returns the limiter for key, creating it with rps/burst if absent.
// A non-positive rps means unlimited.
func (l *Limiters) Get(key string, rps float64, burst int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.m[key]; ok {
		return lim
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	lim := rate.NewLimiter(limit, burst)
	l.m[key] = lim
	return lim
}

// Wait blocks until key may issue one request or ctx ends.
func (l *Limiters) Wait(ctx context.Context, key string, rps float64, burst int) error {
	return l.Get(key, rps, burst).Wait(ctx)
}
