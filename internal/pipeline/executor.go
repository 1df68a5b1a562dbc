package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/extremecoder-rgb/JeevanSetu/internal/catalog"
	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
	"github.com/extremecoder-rgb/JeevanSetu/internal/llm"
	"github.com/extremecoder-rgb/JeevanSetu/internal/logging"
	"github.com/extremecoder-rgb/JeevanSetu/internal/models"
	"github.com/extremecoder-rgb/JeevanSetu/internal/report"
	"github.com/extremecoder-rgb/JeevanSetu/internal/retry"
	"github.com/extremecoder-rgb/JeevanSetu/internal/tools"
)

// Agents resolves role ids to agent specs.
type Agents interface {
	Get(role string) (models.AgentSpec, error)
	Embedded(role string) (models.AgentSpec, error)
}

// Invoker is the model client.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, agent models.AgentSpec, call llm.Call) (llm.Response, error)
}

// Toolkit gathers tool observations and stores task outputs.
type Toolkit interface {
	Gather(ctx context.Context, refs []string, query string) ([]tools.Observation, error)
	WriteOutput(ctx context.Context, path, content string) error
}

// TaskResult is reported to the Observer when a task reaches a terminal
// state.
type TaskResult struct {
	Task         TaskSpec
	AgentRole    string
	Status       models.ExecStatus
	Record       *report.Record
	Attempts     int
	UsedFallback bool
	Err          error
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Observer receives task state transitions.
type Observer interface {
	TaskStarted(task TaskSpec, agent models.AgentSpec)
	TaskFinished(res TaskResult)
}

type nopObserver struct{}

func (nopObserver) TaskStarted(TaskSpec, models.AgentSpec) {}
func (nopObserver) TaskFinished(TaskResult)                {}

// Outcome is the result of executing the chain.
type Outcome struct {
	Status     models.RunStatus
	Records    []Entry
	FailedTask string
	Err        error
	Attempts   int
}

// Executor runs tasks strictly in order, halting at the first failure.
type Executor struct {
	agents        Agents
	client        Invoker
	validator     *report.Validator
	kit           Toolkit
	policy        *retry.Policy
	observer      Observer
	fallback      bool
	schemaRetries int
	logger        *logging.Logger
	tracer        trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithToolkit enables tool gathering and output files.
func WithToolkit(k Toolkit) Option {
	return func(e *Executor) {
		e.kit = k
	}
}

// WithPolicy sets the task-level retry policy. It applies to transient
// failures that the model client did not already retry, such as tools.
func WithPolicy(p *retry.Policy) Option {
	return func(e *Executor) {
		e.policy = p
	}
}

func WithObserver(o Observer) Option {
	return func(e *Executor) {
		e.observer = o
	}
}

// WithFallback toggles the embedded-configuration retry.
func WithFallback(enabled bool) Option {
	return func(e *Executor) {
		e.fallback = enabled
	}
}

// WithSchemaRetries sets how many times a schema failure re-asks the model.
func WithSchemaRetries(n int) Option {
	return func(e *Executor) {
		if n >= 0 {
			e.schemaRetries = n
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// NewExecutor creates an executor. Fallback is on by default.
func NewExecutor(agents Agents, client Invoker, validator *report.Validator, opts ...Option) *Executor {
	e := &Executor{
		agents:    agents,
		client:    client,
		validator: validator,
		policy:    retry.New(retry.WithMaxAttempts(3)),
		observer:  nopObserver{},
		fallback:  true,
		logger:    logging.NewNop(),
		tracer:    otel.Tracer("jeevansetu/pipeline"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs tasks[from:] against rc. Outputs of tasks before from must
// already be in rc. A result that arrives after ctx is cancelled is
// discarded.
func (e *Executor) Execute(ctx context.Context, rc *RunContext, tasks []TaskSpec, from int) Outcome {
	ctx, span := e.tracer.Start(ctx, "pipeline.execute", trace.WithAttributes(
		attribute.Int("jeevansetu.tasks", len(tasks)),
		attribute.Int("jeevansetu.from", from),
	))
	defer span.End()

	out := Outcome{Status: models.RunStatusRunning}
	finish := func(status models.RunStatus, failed string, err error) Outcome {
		out.Status = status
		out.FailedTask = failed
		out.Err = err
		out.Records = rc.Entries()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(core.KindOf(err)))
		}
		return out
	}

	if from < 0 || from > len(tasks) {
		return finish(models.RunStatusFailed, "", &core.ConfigurationError{Message: fmt.Sprintf("start index %d out of range", from)})
	}

	for _, task := range tasks[from:] {
		if err := ctx.Err(); err != nil {
			e.logger.Info("run cancelled before task", "task", task.ID)
			return finish(models.RunStatusCancelled, task.ID, err)
		}

		res := e.runTask(ctx, rc, task)
		out.Attempts += res.Attempts

		if res.Err == nil && ctx.Err() != nil {
			// Late result: the run was cancelled while the call was in flight.
			res.Status = models.ExecStatusFailed
			res.Record = nil
			res.Err = ctx.Err()
		}
		if res.Err != nil {
			e.observer.TaskFinished(res)
			// Per-call deadlines also surface as DeadlineExceeded; only the
			// run's own context ending makes the run cancelled.
			if ctx.Err() != nil {
				return finish(models.RunStatusCancelled, task.ID, ctx.Err())
			}
			return finish(models.RunStatusFailed, task.ID, &core.TaskError{TaskID: task.ID, Role: res.AgentRole, Err: res.Err})
		}

		if err := rc.Append(task.ID, *res.Record); err != nil {
			res.Status = models.ExecStatusFailed
			res.Err = err
			e.observer.TaskFinished(res)
			return finish(models.RunStatusFailed, task.ID, &core.TaskError{TaskID: task.ID, Role: res.AgentRole, Err: err})
		}
		e.observer.TaskFinished(res)
		e.writeOutput(ctx, task, *res.Record)
	}

	return finish(models.RunStatusSucceeded, "", nil)
}

func (e *Executor) runTask(ctx context.Context, rc *RunContext, task TaskSpec) TaskResult {
	ctx, span := e.tracer.Start(ctx, "pipeline.task", trace.WithAttributes(
		attribute.String("jeevansetu.task_id", task.ID),
		attribute.String("jeevansetu.agent", task.AgentRole),
		attribute.String("jeevansetu.schema", string(task.Schema)),
	))
	defer span.End()

	log := e.logger.WithTask(task.ID).WithAgent(task.AgentRole)
	res := TaskResult{Task: task, AgentRole: task.AgentRole, StartedAt: time.Now()}

	agent, agentErr := e.agents.Get(task.AgentRole)
	if agentErr == nil {
		e.observer.TaskStarted(task, agent)
		log.Info("task started", "position", task.Position+1, "source", task.Source)

		var rec *report.Record
		rec, res.Attempts, res.Err = e.attempt(ctx, rc, task, agent)
		res.Record = rec
	} else {
		e.observer.TaskStarted(task, models.AgentSpec{Role: task.AgentRole})
		res.Err = agentErr
	}

	if res.Err != nil && e.shouldFallback(task, agent, agentErr, res.Err) {
		log.Warn("task failed, retrying with embedded configuration", "error", res.Err)
		fb := *task.Fallback
		if fbAgent, err := e.agents.Embedded(fb.AgentRole); err == nil {
			rec, n, err := e.attempt(ctx, rc, fb, fbAgent)
			res.Attempts += n
			res.Record, res.Err = rec, err
			res.AgentRole = fb.AgentRole
			res.UsedFallback = true
		}
	}

	res.CompletedAt = time.Now()
	span.SetAttributes(
		attribute.Int("jeevansetu.attempts", res.Attempts),
		attribute.Bool("jeevansetu.fallback", res.UsedFallback),
	)
	if res.Err != nil {
		res.Status = models.ExecStatusFailed
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(core.KindOf(res.Err)))
		log.Error("task failed", "kind", core.KindOf(res.Err), "error", res.Err, "attempts", res.Attempts)
		return res
	}
	res.Status = models.ExecStatusSucceeded
	log.Info("task succeeded", "summary", res.Record.Summary(), "attempts", res.Attempts, "repaired", len(res.Record.Repaired))
	return res
}

// shouldFallback allows one more try with embedded configuration when the
// failure can stem from an external definition: a failed agent lookup, a
// rejected model setting or output that does not match the schema.
// Transient exhaustion, rejected credentials and cancellation are reported
// as they are.
func (e *Executor) shouldFallback(task TaskSpec, agent models.AgentSpec, agentErr, err error) bool {
	if !e.fallback || task.Fallback == nil {
		return false
	}
	if agentErr != nil {
		return true
	}
	switch core.KindOf(err) {
	case core.KindSchemaValidation, core.KindModelConfig, core.KindConfiguration:
	default:
		return false
	}
	return task.Source == catalog.SourceExternal || agent.Source == string(catalog.SourceExternal)
}

// attempt runs one task configuration under the task-level retry policy.
// The returned count is the number of model invocations.
func (e *Executor) attempt(ctx context.Context, rc *RunContext, task TaskSpec, agent models.AgentSpec) (*report.Record, int, error) {
	log := e.logger.WithTask(task.ID).WithAgent(agent.Role)
	policy := *e.policy
	policy.Retryable = taskRetryable

	var (
		rec         *report.Record
		invocations int
	)
	_, err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		var obs []tools.Observation
		if e.kit != nil && len(agent.Tools) > 0 {
			var err error
			if obs, err = e.kit.Gather(ctx, agent.Tools, Interpolate(task.SearchQuery, rc.Inputs())); err != nil {
				return err
			}
		}
		prompt := BuildPrompt(task, agent, rc, obs)
		log.Debug("prompt built", "chars", len(prompt), "observations", len(obs))

		for try := 0; ; try++ {
			resp, err := e.client.Invoke(ctx, prompt, agent, llm.Call{TaskID: task.ID, Schema: task.Schema, Inputs: rc.Inputs()})
			invocations += resp.Attempts
			if err != nil {
				return err
			}
			r, err := e.validator.Validate(resp.Text, task.Schema)
			if err == nil {
				rec = &r
				return nil
			}
			var sv *report.SchemaValidationError
			if !errors.As(err, &sv) || try >= e.schemaRetries {
				return err
			}
			log.Warn("output did not match schema, asking again", "issues", len(sv.Issues))
		}
	}, func(attempt int, err error, delay time.Duration) {
		log.Warn("task attempt failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	})
	return rec, invocations, err
}

// taskRetryable retries transient failures the model client has not
// already exhausted.
func taskRetryable(err error) bool {
	var exhausted *core.TransientExhaustedError
	if errors.As(err, &exhausted) {
		return false
	}
	return core.IsTransient(err)
}

func (e *Executor) writeOutput(ctx context.Context, task TaskSpec, rec report.Record) {
	if e.kit == nil || task.OutputFile == "" {
		return
	}
	if err := e.kit.WriteOutput(ctx, task.OutputFile, RenderOutput(task, rec)); err != nil {
		e.logger.WithTask(task.ID).Warn("failed to write task output", "path", task.OutputFile, "error", err)
	}
}

// RenderOutput formats a record as the markdown written to a task's
// output file.
func RenderOutput(task TaskSpec, rec report.Record) string {
	data, err := json.MarshalIndent(rec.Payload(), "", "  ")
	if err != nil {
		data = []byte("{}")
	}
	return fmt.Sprintf("# %s\n\n%s\n\n```json\n%s\n```\n", task.ID, rec.Summary(), data)
}
