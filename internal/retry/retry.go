package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
)

// Policy defines retry behavior.
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // 0.0 to 1.0
	Multiplier   float64

	// Retryable decides whether an error earns another attempt.
	// Defaults to core.IsTransient.
	Retryable func(error) bool
}

// DefaultPolicy returns the default task-level policy: three attempts,
// doubling from two seconds.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    time.Minute,
		Multiplier:  2.0,
	}
}

// Option configures a policy.
type Option func(*Policy)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		p.MaxAttempts = n
	}
}

// WithBaseDelay sets the initial delay.
func WithBaseDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.BaseDelay = d
	}
}

// WithMaxDelay sets the maximum delay.
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.MaxDelay = d
	}
}

// WithJitter sets the jitter factor.
func WithJitter(factor float64) Option {
	return func(p *Policy) {
		p.JitterFactor = factor
	}
}

// WithMultiplier sets the exponential multiplier.
func WithMultiplier(m float64) Option {
	return func(p *Policy) {
		p.Multiplier = m
	}
}

// WithRetryable replaces the retry predicate.
func WithRetryable(fn func(error) bool) Option {
	return func(p *Policy) {
		p.Retryable = fn
	}
}

// New creates a policy from the defaults plus options.
func New(opts ...Option) *Policy {
	p := DefaultPolicy()
	for _, opt := range opts {
		opt(p)
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return p
}

// NotifyFunc is called before each wait.
type NotifyFunc func(attempt int, err error, delay time.Duration)

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts run out. Exhaustion yields a *core.TransientExhaustedError that
// wraps the last error. The returned count is the number of calls made.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error, notify NotifyFunc) (int, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = core.IsTransient
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if !retryable(err) {
			return attempt, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if notify != nil {
			notify(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}

	return p.MaxAttempts, &core.TransientExhaustedError{
		Attempts: p.MaxAttempts,
		LastErr:  lastErr,
	}
}

// Delay computes the wait after the given attempt:
// BaseDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *Policy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.JitterFactor > 0 {
		jitter := delay * p.JitterFactor
		delay += (rand.Float64()*2 - 1) * jitter
	}
	return time.Duration(delay)
}
