// Package llm wraps model inference calls with rotation, rate limiting,
// timeouts and retry.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
	"github.com/extremecoder-rgb/JeevanSetu/internal/logging"
	"github.com/extremecoder-rgb/JeevanSetu/internal/models"
	"github.com/extremecoder-rgb/JeevanSetu/internal/ratelimit"
	"github.com/extremecoder-rgb/JeevanSetu/internal/report"
	"github.com/extremecoder-rgb/JeevanSetu/internal/retry"
	"github.com/extremecoder-rgb/JeevanSetu/internal/rotator"
)

// Request is one inference call as seen by a backend.
type Request struct {
	Prompt      string
	Model       string
	Credential  string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration

	// Routing hints for offline backends.
	TaskID string
	Role   string
	Schema report.Kind
	Inputs map[string]string
}

// Backend performs a single inference call. Failures should be returned
// as *core.CallError so they can be classified.
type Backend interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (string, error)

func (f BackendFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Call identifies the task a call is made for.
type Call struct {
	TaskID string
	Schema report.Kind
	Inputs map[string]string
}

// Response is the result of Invoke.
type Response struct {
	Text     string
	Attempts int
	Model    string
}

// Client invokes a backend on behalf of an agent.
type Client struct {
	backend    Backend
	rotator    *rotator.Rotator
	limiter    ratelimit.Limiter
	baseDelay  time.Duration
	multiplier float64
	maxDelay   time.Duration
	logger     *logging.Logger
	tracer     trace.Tracer
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLimiter sets the per-agent rate limiter.
func WithLimiter(l ratelimit.Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithBackoff sets the delay schedule between attempts.
func WithBackoff(base time.Duration, multiplier float64, max time.Duration) ClientOption {
	return func(c *Client) {
		c.baseDelay = base
		c.multiplier = multiplier
		c.maxDelay = max
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client. rot must be non-nil.
func NewClient(backend Backend, rot *rotator.Rotator, opts ...ClientOption) *Client {
	c := &Client{
		backend:    backend,
		rotator:    rot,
		limiter:    ratelimit.NoopLimiter{},
		baseDelay:  2 * time.Second,
		multiplier: 2.0,
		maxDelay:   30 * time.Second,
		logger:     logging.NewNop(),
		tracer:     otel.Tracer("jeevansetu/llm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke sends prompt with the agent's model settings. Transient failures
// are retried up to agent.Model.MaxRetries total attempts; auth and model
// configuration failures return immediately.
func (c *Client) Invoke(ctx context.Context, prompt string, agent models.AgentSpec, call Call) (Response, error) {
	ctx, span := c.tracer.Start(ctx, "llm.invoke", trace.WithAttributes(
		attribute.String("jeevansetu.task_id", call.TaskID),
		attribute.String("jeevansetu.agent", agent.Role),
	))
	defer span.End()

	log := c.logger.WithTask(call.TaskID).WithAgent(agent.Role)
	policy := retry.New(
		retry.WithMaxAttempts(agent.Model.MaxRetries),
		retry.WithBaseDelay(c.baseDelay),
		retry.WithMultiplier(c.multiplier),
		retry.WithMaxDelay(c.maxDelay),
	)

	var resp Response
	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx, agent.Role, agent.MaxCallsPerMinute); err != nil {
			return err
		}
		cand := c.rotator.Next()
		text, err := c.generate(ctx, prompt, agent, call, cand)
		if err != nil {
			return c.classify(err, cand)
		}
		resp.Text = text
		resp.Model = cand.Model
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		log.Warn("model call failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	})
	resp.Attempts = attempts
	span.SetAttributes(attribute.Int("jeevansetu.attempts", attempts))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(core.KindOf(err)))
		return resp, err
	}
	log.Debug("model call succeeded", "attempts", attempts, "model", resp.Model, "chars", len(resp.Text))
	return resp, nil
}

func (c *Client) generate(ctx context.Context, prompt string, agent models.AgentSpec, call Call, cand rotator.Candidate) (string, error) {
	timeout := agent.Model.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := c.backend.Generate(callCtx, Request{
		Prompt:      prompt,
		Model:       cand.Model,
		Credential:  cand.Credential,
		Temperature: agent.Model.Temperature,
		MaxTokens:   agent.Model.MaxOutputTokens,
		Timeout:     timeout,
		TaskID:      call.TaskID,
		Role:        agent.Role,
		Schema:      call.Schema,
		Inputs:      call.Inputs,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if _, classified := core.FailureOf(err); !classified && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", core.NewCallError(core.FailTimeout, fmt.Sprintf("no response within %s", timeout), err)
		}
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", core.NewCallError(core.FailEmpty, "model returned an empty response", nil)
	}
	return text, nil
}

// classify maps a backend error onto the retry taxonomy.
func (c *Client) classify(err error, cand rotator.Candidate) error {
	failure, ok := core.FailureOf(err)
	if !ok {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return core.NewCallError(core.FailUnavailable, "backend call failed", err)
	}
	switch failure {
	case core.FailAuth:
		return &core.AuthError{Credential: rotator.Mask(cand.Credential), Cause: err}
	case core.FailInvalidModel, core.FailMalformed:
		return &core.ModelConfigError{Model: cand.Model, Cause: err}
	}
	return err
}
