// Package ratelimit enforces per-agent calls-per-minute budgets.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter blocks a call for key until it fits the key's budget.
type Limiter interface {
	Wait(ctx context.Context, key string, perMinute int) error
}

// NoopLimiter never blocks.
type NoopLimiter struct{}

func (NoopLimiter) Wait(context.Context, string, int) error { return nil }

// Registry holds one token bucket per key, shared across runs.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*entry
}

type entry struct {
	perMinute int
	limiter   *rate.Limiter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*entry)}
}

// Wait consumes one token for key, blocking until one is available.
// A non-positive perMinute disables limiting for the call.
func (r *Registry) Wait(ctx context.Context, key string, perMinute int) error {
	if perMinute <= 0 {
		return nil
	}
	if err := r.get(key, perMinute).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", key, err)
	}
	return nil
}

// Allow consumes a token without blocking.
func (r *Registry) Allow(key string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}
	return r.get(key, perMinute).Allow()
}

func (r *Registry) get(key string, perMinute int) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.limiters[key]
	if !ok || e.perMinute != perMinute {
		e = &entry{
			perMinute: perMinute,
			limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		}
		r.limiters[key] = e
	}
	return e.limiter
}
