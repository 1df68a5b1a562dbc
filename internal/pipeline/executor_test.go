package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/extremecoder-rgb/JeevanSetu/internal/agents"
	"github.com/extremecoder-rgb/JeevanSetu/internal/catalog"
	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
	"github.com/extremecoder-rgb/JeevanSetu/internal/llm"
	"github.com/extremecoder-rgb/JeevanSetu/internal/models"
	"github.com/extremecoder-rgb/JeevanSetu/internal/report"
	"github.com/extremecoder-rgb/JeevanSetu/internal/retry"
	"github.com/extremecoder-rgb/JeevanSetu/internal/rotator"
	"github.com/extremecoder-rgb/JeevanSetu/internal/tools"
)

var canned = map[report.Kind]string{
	report.KindSurgeReport: `{"report_type":"festival_forecast","region":"North District","risk_level":"High",
		"timeline":"Next 2 weeks","affected_departments":["Emergency"],"recommendations":"Open extra triage","confidence_score":0.8}`,
	report.KindStaffingPlanList: `[{"department":"Emergency","required_staff":12,"staff_type":"Nurses",
		"shift_schedule":"8-hour shifts","backup_plan":"On-call roster"}]`,
	report.KindInventoryRequirement: `{"item_category":"Medicines","item_name":"Salbutamol","required_quantity":300,
		"current_stock":80,"reorder_threshold":100,"urgency":"High"}`,
	report.KindPatientAdvisory: `{"advisory_type":"preventive","language":"Hindi","target_audience":"Asthma patients",
		"message":"Stay indoors","distribution_channels":["SMS"]}`,
}

type invokeFunc func(ctx context.Context, prompt string, agent models.AgentSpec, call llm.Call) (llm.Response, error)

func (f invokeFunc) Invoke(ctx context.Context, prompt string, agent models.AgentSpec, call llm.Call) (llm.Response, error) {
	return f(ctx, prompt, agent, call)
}

// scripted answers every call with the canned record for its schema
// unless override returns a non-nil error or text.
type scripted struct {
	mu       sync.Mutex
	calls    []llm.Call
	prompts  []string
	override func(n int, prompt string, call llm.Call) (string, error)
}

func (s *scripted) Invoke(ctx context.Context, prompt string, agent models.AgentSpec, call llm.Call) (llm.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.prompts = append(s.prompts, prompt)
	n := len(s.calls)
	s.mu.Unlock()

	if s.override != nil {
		text, err := s.override(n, prompt, call)
		if err != nil {
			return llm.Response{Attempts: 1}, err
		}
		if text != "" {
			return llm.Response{Text: text, Attempts: 1}, nil
		}
	}
	return llm.Response{Text: canned[call.Schema], Attempts: 1}, nil
}

type recorder struct {
	mu       sync.Mutex
	started  []string
	finished []TaskResult
}

func (r *recorder) TaskStarted(task TaskSpec, _ models.AgentSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, task.ID)
}

func (r *recorder) TaskFinished(res TaskResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, res)
}

var testInputs = map[string]string{
	"hospital_name":      "City General",
	"region":             "North District",
	"current_staffing":   "50 doctors, 120 nurses",
	"administrator_name": "Dr. Rao",
}

func fastPolicy() *retry.Policy {
	return retry.New(retry.WithMaxAttempts(3), retry.WithBaseDelay(time.Millisecond), retry.WithMaxDelay(5*time.Millisecond))
}

func newTestExecutor(t *testing.T, cat *catalog.Catalog, inv Invoker, opts ...Option) (*Executor, []TaskSpec) {
	t.Helper()
	tasks, err := BuildTasks(cat)
	require.NoError(t, err)
	reg := agents.New(cat, agents.DefaultModelConfig())
	opts = append([]Option{WithPolicy(fastPolicy())}, opts...)
	return NewExecutor(reg, inv, report.NewValidator(report.ModeStrict), opts...), tasks
}

func TestExecute_AllTasksSucceed(t *testing.T) {
	inv := &scripted{}
	obs := &recorder{}
	exec, tasks := newTestExecutor(t, catalog.Embedded(), inv, WithObserver(obs))
	rc := NewRunContext(testInputs)

	out := exec.Execute(context.Background(), rc, tasks, 0)

	require.NoError(t, out.Err)
	assert.Equal(t, models.RunStatusSucceeded, out.Status)
	require.Len(t, out.Records, 7)
	for i, e := range out.Records {
		assert.Equal(t, catalog.TaskOrder[i], e.TaskID)
	}
	assert.Equal(t, report.KindSurgeReport, out.Records[6].Record.Kind)
	assert.Equal(t, report.KindStaffingPlanList, out.Records[3].Record.Kind)
	assert.Equal(t, 7, out.Attempts)
	assert.Equal(t, catalog.TaskOrder, obs.started)
	assert.Len(t, obs.finished, 7)
}

func TestExecute_HaltsAtFirstPermanentFailure(t *testing.T) {
	const failAt = 4 // 1-based
	inv := &scripted{override: func(n int, _ string, call llm.Call) (string, error) {
		if call.TaskID == catalog.TaskOrder[failAt-1] {
			return "", &core.AuthError{Credential: "****abcd", Cause: core.NewCallError(core.FailAuth, "401", nil)}
		}
		return "", nil
	}}
	obs := &recorder{}
	exec, tasks := newTestExecutor(t, catalog.Embedded(), inv, WithObserver(obs))
	rc := NewRunContext(testInputs)

	out := exec.Execute(context.Background(), rc, tasks, 0)

	assert.Equal(t, models.RunStatusFailed, out.Status)
	assert.Equal(t, catalog.TaskOrder[failAt-1], out.FailedTask)
	assert.Equal(t, core.KindAuth, core.KindOf(out.Err))
	assert.Len(t, out.Records, failAt-1)
	assert.Equal(t, failAt-1, rc.Len())
	assert.Len(t, inv.calls, failAt, "no task after the failure is attempted")

	var taskErr *core.TaskError
	require.ErrorAs(t, out.Err, &taskErr)
	assert.Equal(t, "staffing_optimizer", taskErr.Role)

	last := obs.finished[len(obs.finished)-1]
	assert.Equal(t, models.ExecStatusFailed, last.Status)
	assert.False(t, last.UsedFallback)
}

func TestExecute_SchemaErrorNotRetriedByDefault(t *testing.T) {
	inv := &scripted{override: func(n int, _ string, call llm.Call) (string, error) {
		return `{"report_type":"x"}`, nil
	}}
	exec, tasks := newTestExecutor(t, catalog.Embedded(), inv)

	out := exec.Execute(context.Background(), NewRunContext(testInputs), tasks, 0)

	assert.Equal(t, models.RunStatusFailed, out.Status)
	assert.Equal(t, core.KindSchemaValidation, core.KindOf(out.Err))
	assert.Equal(t, catalog.TaskOrder[0], out.FailedTask)
	assert.Len(t, inv.calls, 1)
}

func TestExecute_SchemaRetries(t *testing.T) {
	inv := &scripted{override: func(n int, _ string, call llm.Call) (string, error) {
		if n == 1 {
			return `not json at all`, nil
		}
		return "", nil
	}}
	exec, tasks := newTestExecutor(t, catalog.Embedded(), inv, WithSchemaRetries(1))

	out := exec.Execute(context.Background(), NewRunContext(testInputs), tasks, 0)

	require.NoError(t, out.Err)
	assert.Len(t, inv.calls, 8)
	assert.Equal(t, 8, out.Attempts)
}

func TestExecute_FallbackToEmbeddedTask(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, catalog.TasksFile), []byte(`
festival_event_analysis:
  description: "BROKEN external description for {hospital_name}"
  expected_output: "whatever"
`), 0644))
	cat := catalog.Load(dir)

	newInvoker := func() *scripted {
		return &scripted{override: func(n int, prompt string, call llm.Call) (string, error) {
			if strings.Contains(prompt, "BROKEN") {
				return `{"verdict":"unclear"}`, nil
			}
			return "", nil
		}}
	}

	t.Run("enabled", func(t *testing.T) {
		obs := &recorder{}
		inv := newInvoker()
		exec, tasks := newTestExecutor(t, cat, inv, WithObserver(obs))
		assert.Equal(t, catalog.SourceExternal, tasks[0].Source)

		out := exec.Execute(context.Background(), NewRunContext(testInputs), tasks, 0)

		require.NoError(t, out.Err)
		assert.True(t, obs.finished[0].UsedFallback)
		assert.Equal(t, 2, obs.finished[0].Attempts)
		assert.False(t, obs.finished[1].UsedFallback)
	})

	t.Run("disabled", func(t *testing.T) {
		exec, tasks := newTestExecutor(t, cat, newInvoker(), WithFallback(false))

		out := exec.Execute(context.Background(), NewRunContext(testInputs), tasks, 0)

		assert.Equal(t, models.RunStatusFailed, out.Status)
		assert.Equal(t, core.KindSchemaValidation, core.KindOf(out.Err))
		assert.Empty(t, out.Records)
	})
}

func TestExecute_NoFallbackForExhaustedRetries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, catalog.TasksFile), []byte(`
festival_event_analysis:
  description: "Forecast festival surge for {hospital_name}"
`), 0644))
	inv := &scripted{override: func(n int, _ string, call llm.Call) (string, error) {
		return "", &core.TransientExhaustedError{Attempts: 3, LastErr: core.NewCallError(core.FailRateLimited, "quota", nil)}
	}}
	obs := &recorder{}
	exec, tasks := newTestExecutor(t, catalog.Load(dir), inv, WithObserver(obs))
	require.Equal(t, catalog.SourceExternal, tasks[0].Source)

	out := exec.Execute(context.Background(), NewRunContext(testInputs), tasks, 0)

	assert.Equal(t, models.RunStatusFailed, out.Status)
	assert.Equal(t, core.KindTransientExhausted, core.KindOf(out.Err))
	assert.Len(t, inv.calls, 1)
	require.Len(t, obs.finished, 1)
	assert.False(t, obs.finished[0].UsedFallback)
}

func TestExecute_CallTimeoutsFailTheRun(t *testing.T) {
	hang := llm.BackendFunc(func(ctx context.Context, req llm.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	rot, err := rotator.New([]rotator.Candidate{{Credential: "key-1", Model: "gemini-2.0-flash"}})
	require.NoError(t, err)
	client := llm.NewClient(hang, rot, llm.WithBackoff(time.Millisecond, 1, time.Millisecond))

	defaults := agents.DefaultModelConfig()
	defaults.Timeout = 20 * time.Millisecond
	defaults.MaxRetries = 2
	cat := catalog.Embedded()
	tasks, err := BuildTasks(cat)
	require.NoError(t, err)
	exec := NewExecutor(agents.New(cat, defaults), client, report.NewValidator(report.ModeStrict), WithPolicy(fastPolicy()))

	out := exec.Execute(context.Background(), NewRunContext(testInputs), tasks, 0)

	assert.Equal(t, models.RunStatusFailed, out.Status)
	assert.Equal(t, catalog.TaskOrder[0], out.FailedTask)
	assert.Equal(t, core.KindTransientExhausted, core.KindOf(out.Err))
	assert.Equal(t, 2, out.Attempts)

	var taskErr *core.TaskError
	require.ErrorAs(t, out.Err, &taskErr)
	assert.Equal(t, catalog.TaskOrder[0], taskErr.TaskID)
	assert.Equal(t, "festival_event_forecaster", taskErr.Role)
	failure, ok := core.FailureOf(out.Err)
	require.True(t, ok)
	assert.Equal(t, core.FailTimeout, failure)
}

func TestExecute_NoFallbackForEmbeddedConfiguration(t *testing.T) {
	inv := &scripted{override: func(n int, _ string, call llm.Call) (string, error) {
		return "", &core.TransientExhaustedError{Attempts: 3, LastErr: core.NewCallError(core.FailTimeout, "slow", nil)}
	}}
	exec, tasks := newTestExecutor(t, catalog.Embedded(), inv)

	out := exec.Execute(context.Background(), NewRunContext(testInputs), tasks, 0)

	assert.Equal(t, models.RunStatusFailed, out.Status)
	assert.Len(t, inv.calls, 1, "exhausted model retries are not repeated at task level")
}

func TestExecute_CancelledResultDiscarded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := &scripted{override: func(n int, _ string, call llm.Call) (string, error) {
		if n == 2 {
			cancel()
		}
		return "", nil
	}}
	exec, tasks := newTestExecutor(t, catalog.Embedded(), inv)
	rc := NewRunContext(testInputs)

	out := exec.Execute(ctx, rc, tasks, 0)

	assert.Equal(t, models.RunStatusCancelled, out.Status)
	assert.Equal(t, catalog.TaskOrder[1], out.FailedTask)
	assert.Equal(t, 1, rc.Len())
	assert.Equal(t, core.KindCancelled, core.KindOf(out.Err))
	assert.Len(t, inv.calls, 2)
}

func TestExecute_FromIndex(t *testing.T) {
	inv := &scripted{}
	exec, tasks := newTestExecutor(t, catalog.Embedded(), inv)
	rc := NewRunContext(testInputs)
	rec, err := report.NewValidator(report.ModeStrict).Validate(canned[report.KindSurgeReport], report.KindSurgeReport)
	require.NoError(t, err)
	require.NoError(t, rc.Append(tasks[0].ID, rec))
	require.NoError(t, rc.Append(tasks[1].ID, rec))

	out := exec.Execute(context.Background(), rc, tasks, 2)

	require.NoError(t, out.Err)
	assert.Len(t, inv.calls, 5)
	assert.Equal(t, tasks[2].ID, inv.calls[0].TaskID)
	assert.Len(t, out.Records, 7)
	assert.Contains(t, inv.prompts[0], "### festival_event_analysis (SurgeReport)")

	out = exec.Execute(context.Background(), NewRunContext(testInputs), tasks, 9)
	assert.Equal(t, core.KindConfiguration, core.KindOf(out.Err))
}

type flakyKit struct {
	mu      sync.Mutex
	gathers int
	fails   int
	written map[string]string
}

func (k *flakyKit) Gather(ctx context.Context, refs []string, query string) ([]tools.Observation, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.gathers++
	if k.gathers <= k.fails {
		return nil, core.NewCallError(core.FailRateLimited, "search quota", nil)
	}
	return []tools.Observation{{Tool: tools.NameWebSearch, Detail: query, Text: "Diwali on Nov 8"}}, nil
}

func (k *flakyKit) WriteOutput(ctx context.Context, path, content string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.written == nil {
		k.written = map[string]string{}
	}
	k.written[path] = content
	return nil
}

func TestExecute_ToolFailuresRetriedAtTaskLevel(t *testing.T) {
	kit := &flakyKit{fails: 2}
	inv := &scripted{}
	exec, tasks := newTestExecutor(t, catalog.Embedded(), inv, WithToolkit(kit))

	out := exec.Execute(context.Background(), NewRunContext(testInputs), tasks, 0)

	require.NoError(t, out.Err)
	assert.Len(t, inv.calls, 7)
	assert.Contains(t, inv.prompts[0], "Diwali on Nov 8")
	assert.Contains(t, inv.prompts[0], "North District upcoming festivals")
	assert.Len(t, kit.written, 7)
	assert.Contains(t, kit.written["reports/hospital_preparedness_report.md"], "# hospital_preparedness_orchestration")
}

func TestExecute_ToolFailuresExhausted(t *testing.T) {
	kit := &flakyKit{fails: 100}
	inv := &scripted{}
	exec, tasks := newTestExecutor(t, catalog.Embedded(), inv, WithToolkit(kit), WithFallback(false))

	out := exec.Execute(context.Background(), NewRunContext(testInputs), tasks, 0)

	assert.Equal(t, core.KindTransientExhausted, core.KindOf(out.Err))
	assert.Equal(t, 3, kit.gathers)
	assert.Empty(t, inv.calls)
}

func TestExecute_UnknownAgentFallsBackToEmbedded(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, catalog.TasksFile), []byte(`
festival_event_analysis:
  agent: nobody
  description: "Forecast festival surge for {hospital_name}"
`), 0644))
	obs := &recorder{}
	exec, tasks := newTestExecutor(t, catalog.Load(dir), &scripted{}, WithObserver(obs))

	out := exec.Execute(context.Background(), NewRunContext(testInputs), tasks, 0)

	require.NoError(t, out.Err)
	assert.True(t, obs.finished[0].UsedFallback)
	assert.Equal(t, "festival_event_forecaster", obs.finished[0].AgentRole)
}
