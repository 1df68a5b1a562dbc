// Package orchestrator is the run controller: it validates inputs, runs
// the task chain and persists what happened.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/extremecoder-rgb/JeevanSetu/internal/agents"
	"github.com/extremecoder-rgb/JeevanSetu/internal/catalog"
	"github.com/extremecoder-rgb/JeevanSetu/internal/config"
	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
	"github.com/extremecoder-rgb/JeevanSetu/internal/logging"
	"github.com/extremecoder-rgb/JeevanSetu/internal/models"
	"github.com/extremecoder-rgb/JeevanSetu/internal/pipeline"
	"github.com/extremecoder-rgb/JeevanSetu/internal/report"
	"github.com/extremecoder-rgb/JeevanSetu/internal/storage"
	"github.com/extremecoder-rgb/JeevanSetu/internal/workspace"
)

// RegistryFactory builds the agent registry for one run.
type RegistryFactory func(cat *catalog.Catalog) pipeline.Agents

// DefaultRegistryFactory returns agents.New with the given model defaults.
func DefaultRegistryFactory(defaults models.ModelConfig) RegistryFactory {
	return func(cat *catalog.Catalog) pipeline.Agents {
		return agents.New(cat, defaults)
	}
}

type Orchestrator struct {
	storage   *storage.Storage
	workspace *workspace.Workspace
	catalog   *catalog.Catalog
	client    pipeline.Invoker
	validator *report.Validator
	newAgents RegistryFactory
	execOpts  []pipeline.Option
	logger    *logging.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithStorage(s *storage.Storage) Option {
	return func(o *Orchestrator) {
		o.storage = s
	}
}

func WithWorkspace(w *workspace.Workspace) Option {
	return func(o *Orchestrator) {
		o.workspace = w
	}
}

func WithValidator(v *report.Validator) Option {
	return func(o *Orchestrator) {
		o.validator = v
	}
}

func WithRegistryFactory(f RegistryFactory) Option {
	return func(o *Orchestrator) {
		o.newAgents = f
	}
}

// WithExecutorOptions passes options through to every executor.
func WithExecutorOptions(opts ...pipeline.Option) Option {
	return func(o *Orchestrator) {
		o.execOpts = append(o.execOpts, opts...)
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates a controller. Without storage runs are not recorded and
// cannot be replayed; without a workspace no result file is written.
func New(cat *catalog.Catalog, client pipeline.Invoker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog:   cat,
		client:    client,
		validator: report.NewValidator(report.ModeStrict),
		newAgents: DefaultRegistryFactory(agents.DefaultModelConfig()),
		logger:    logging.NewNop(),
		tracer:    otel.Tracer("jeevansetu/orchestrator"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Result is what a run produced.
type Result struct {
	Run        *models.Run
	Final      *report.Record
	Records    []pipeline.Entry
	Outcome    pipeline.Outcome
	ResultPath string
}

// PrepareInputs trims inputs, checks the mandatory fields and fills
// defaults. All missing fields are reported together.
func PrepareInputs(in map[string]string, now time.Time) (map[string]string, error) {
	inputs := make(map[string]string, len(in)+len(config.InputDefaults)+1)
	for k, v := range in {
		inputs[k] = strings.TrimSpace(v)
	}

	var missing []string
	for _, field := range config.RequiredInputs {
		if inputs[field] == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, &core.MissingInputError{Fields: missing}
	}

	for k, v := range config.InputDefaults {
		if inputs[k] == "" {
			inputs[k] = v
		}
	}
	if inputs["current_date"] == "" {
		inputs["current_date"] = config.CurrentDate(now)
	}
	return inputs, nil
}

// Run validates inputs and executes the whole chain. On failure both the
// partial result and the error are returned.
func (o *Orchestrator) Run(ctx context.Context, inputs map[string]string) (*Result, error) {
	prepared, err := PrepareInputs(inputs, o.now())
	if err != nil {
		return nil, err
	}

	tasks, err := pipeline.BuildTasks(o.catalog)
	if err != nil {
		return nil, err
	}
	reg := o.newAgents(o.catalog)

	return o.execute(ctx, reg, tasks, pipeline.NewRunContext(prepared), 0, nil, nil)
}

// Replay re-executes a stored run from taskID onward, reusing the outputs
// of every earlier task as the prefix. runID 0 selects the latest run.
func (o *Orchestrator) Replay(ctx context.Context, runID int64, taskID string) (*Result, error) {
	if o.storage == nil {
		return nil, &core.ConfigurationError{Message: "replay needs run history storage"}
	}

	tasks, err := pipeline.BuildTasks(o.catalog)
	if err != nil {
		return nil, err
	}
	from := pipeline.IndexOf(tasks, taskID)
	if from < 0 {
		return nil, &core.ConfigurationError{Message: fmt.Sprintf("unknown task %q (valid: %s)", taskID, strings.Join(catalog.TaskOrder, ", "))}
	}

	var prev *models.Run
	if runID == 0 {
		prev, err = o.storage.LatestRun()
	} else {
		prev, err = o.storage.GetRun(runID)
	}
	if err != nil {
		return nil, &core.ConfigurationError{Message: "no run to replay", Cause: err}
	}

	execs, err := o.storage.GetExecutionsForRun(prev.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load executions: %w", err)
	}
	succeeded := make(map[string]*models.Execution)
	for _, e := range execs {
		if e.Status == models.ExecStatusSucceeded && e.Record != nil {
			succeeded[e.TaskID] = e
		}
	}

	rc := pipeline.NewRunContext(prev.Inputs)
	var prefix []*models.Execution
	for _, task := range tasks[:from] {
		e, ok := succeeded[task.ID]
		if !ok {
			return nil, &core.ConfigurationError{Message: fmt.Sprintf("run %d has no output for task %s", prev.ID, task.ID)}
		}
		if err := rc.Append(task.ID, *e.Record); err != nil {
			return nil, err
		}
		prefix = append(prefix, e)
	}

	o.logger.WithRun(prev.ID).Info("replaying run", "from", taskID, "prefix", len(prefix))
	reg := o.newAgents(o.catalog)
	return o.execute(ctx, reg, tasks, rc, from, &prev.ID, prefix)
}

func (o *Orchestrator) execute(ctx context.Context, reg pipeline.Agents, tasks []pipeline.TaskSpec, rc *pipeline.RunContext, from int, replayOf *int64, prefix []*models.Execution) (*Result, error) {
	run := &models.Run{
		Key:       uuid.NewString(),
		CreatedAt: o.now().UTC(),
		Inputs:    rc.Inputs(),
		Status:    models.RunStatusRunning,
		ReplayOf:  replayOf,
	}
	if from < len(tasks) {
		run.CurrentTask = tasks[from].ID
	}

	if o.storage != nil {
		id, err := o.storage.CreateRun(run)
		if err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		run.ID = id
	}
	log := o.logger.WithRun(run.ID)

	ctx, span := o.tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.Int64("jeevansetu.run_id", run.ID),
		attribute.String("jeevansetu.run_key", run.Key),
		attribute.String("jeevansetu.hospital", run.Hospital()),
	))
	defer span.End()

	obs := newRunObserver(o.storage, run, log)
	for i, e := range prefix {
		obs.seed(e, i+1)
	}

	opts := append([]pipeline.Option{pipeline.WithLogger(log), pipeline.WithObserver(obs)}, o.execOpts...)
	executor := pipeline.NewExecutor(reg, o.client, o.validator, opts...)

	log.Info("run started", "hospital", run.Hospital(), "region", run.Inputs["region"], "from", from)
	outcome := executor.Execute(ctx, rc, tasks, from)

	now := o.now().UTC()
	run.CompletedAt = &now
	run.Status = outcome.Status
	run.FailedTask = outcome.FailedTask
	if outcome.Err != nil {
		run.ErrorKind = string(core.KindOf(outcome.Err))
		run.Error = outcome.Err.Error()
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, run.ErrorKind)
	}

	res := &Result{Run: run, Records: outcome.Records, Outcome: outcome}
	if outcome.Status == models.RunStatusSucceeded {
		if last, ok := rc.Last(); ok {
			rec := last.Record
			res.Final = &rec
		}
	}

	if o.workspace != nil {
		path, err := o.workspace.WriteResult(&workspace.Result{
			RunID:      run.ID,
			RunKey:     run.Key,
			Inputs:     run.Inputs,
			Result:     res.Final,
			Records:    outcome.Records,
			Timestamp:  now,
			Status:     run.Status,
			FailedTask: run.FailedTask,
			ErrorKind:  run.ErrorKind,
			Error:      run.Error,
			ReplayOf:   replayOf,
		})
		if err != nil {
			log.Error("failed to write result file", "error", err)
		} else {
			res.ResultPath = path
			run.ResultPath = path
		}
	}

	if o.storage != nil {
		if err := o.storage.UpdateRun(run); err != nil {
			log.Error("failed to update run", "error", err)
		}
	}

	if outcome.Err != nil {
		log.Error("run failed", "task", outcome.FailedTask, "kind", run.ErrorKind, "error", outcome.Err)
		return res, outcome.Err
	}
	log.Info("run succeeded", "records", len(outcome.Records), "attempts", outcome.Attempts, "result", res.ResultPath)
	return res, nil
}

// runObserver mirrors task transitions into the executions table.
type runObserver struct {
	storage *storage.Storage
	run     *models.Run
	logger  *logging.Logger

	mu    sync.Mutex
	execs map[string]*models.Execution
}

func newRunObserver(s *storage.Storage, run *models.Run, logger *logging.Logger) *runObserver {
	return &runObserver{storage: s, run: run, logger: logger, execs: make(map[string]*models.Execution)}
}

// seed copies a prefix execution from the replayed run.
func (r *runObserver) seed(prev *models.Execution, seq int) {
	if r.storage == nil {
		return
	}
	e := *prev
	e.ID = 0
	e.RunID = r.run.ID
	e.SequenceNum = seq
	e.Attempts = 0
	if _, err := r.storage.CreateExecution(&e); err != nil {
		r.logger.Warn("failed to copy replay prefix", "task", e.TaskID, "error", err)
	}
}

func (r *runObserver) TaskStarted(task pipeline.TaskSpec, agent models.AgentSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	e := &models.Execution{
		RunID:       r.run.ID,
		TaskID:      task.ID,
		AgentRole:   task.AgentRole,
		Status:      models.ExecStatusRunning,
		StartedAt:   &now,
		SequenceNum: task.Position + 1,
	}
	r.execs[task.ID] = e
	r.run.CurrentTask = task.ID

	if r.storage == nil {
		return
	}
	id, err := r.storage.CreateExecution(e)
	if err != nil {
		r.logger.Warn("failed to record execution", "task", task.ID, "error", err)
		return
	}
	e.ID = id
	if err := r.storage.UpdateRun(r.run); err != nil {
		r.logger.Warn("failed to update run", "error", err)
	}
}

func (r *runObserver) TaskFinished(res pipeline.TaskResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.execs[res.Task.ID]
	if !ok {
		return
	}
	completed := res.CompletedAt.UTC()
	e.Status = res.Status
	e.AgentRole = res.AgentRole
	e.Attempts = res.Attempts
	e.UsedFallback = res.UsedFallback
	e.CompletedAt = &completed
	e.Record = res.Record
	if res.Err != nil {
		e.Error = core.Describe(res.Err)
	}

	if r.storage == nil || e.ID == 0 {
		return
	}
	if err := r.storage.UpdateExecution(e); err != nil {
		r.logger.Warn("failed to update execution", "task", e.TaskID, "error", err)
	}
}

// Read methods for the CLI and TUI

func (o *Orchestrator) ListRuns(limit int) ([]*models.Run, error) {
	if o.storage == nil {
		return nil, nil
	}
	return o.storage.ListRuns(limit)
}

func (o *Orchestrator) GetRun(id int64) (*models.Run, error) {
	if o.storage == nil {
		return nil, storage.ErrNotFound
	}
	return o.storage.GetRun(id)
}

func (o *Orchestrator) GetExecutionsForRun(runID int64) ([]*models.Execution, error) {
	if o.storage == nil {
		return nil, nil
	}
	return o.storage.GetExecutionsForRun(runID)
}

// DeleteRun removes a run, its executions and its result file.
func (o *Orchestrator) DeleteRun(runID int64) error {
	if o.storage == nil {
		return storage.ErrNotFound
	}
	run, err := o.storage.GetRun(runID)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}

	if run.ResultPath != "" {
		if err := os.Remove(run.ResultPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.logger.WithRun(runID).Warn("failed to remove result file", "path", run.ResultPath, "error", err)
		}
	}

	return o.storage.DeleteRun(runID)
}

// Catalog exposes the resolved configuration, for diagnostics.
func (o *Orchestrator) Catalog() *catalog.Catalog {
	return o.catalog
}

// cloneInputs is used by Train so concurrent runs never share a map.
func cloneInputs(in map[string]string) map[string]string {
	return maps.Clone(in)
}
