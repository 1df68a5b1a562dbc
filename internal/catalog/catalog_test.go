package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
}

func TestEmbedded_CoversEveryTask(t *testing.T) {
	c := Embedded()
	for _, id := range TaskOrder {
		task, src, ok := c.Task(id)
		require.True(t, ok, id)
		assert.Equal(t, SourceEmbedded, src)
		assert.NotEmpty(t, task.Schema, id)

		role, _, ok := c.Role(task.Agent)
		require.True(t, ok, "agent %s of task %s", task.Agent, id)
		require.NotNil(t, role.LLM)
		assert.Equal(t, 2048, role.LLM.MaxTokens)
		assert.Zero(t, role.LLM.Timeout, "call timeout comes from configuration")
		assert.Zero(t, role.LLM.MaxRetries, "retry count comes from configuration")
	}
}

func TestEmbedded_EpidemicSettings(t *testing.T) {
	role, ok := Embedded().EmbeddedRole("epidemic_surveillance")
	require.True(t, ok)
	assert.Equal(t, 2, role.MaxRPM)
	assert.Equal(t, 15, role.MaxIter)
	require.NotNil(t, role.LLM.Temperature)
	assert.Equal(t, 0.3, *role.LLM.Temperature)
	require.NotNil(t, role.AllowDelegation)
	assert.False(t, *role.AllowDelegation)
}

func TestResolve(t *testing.T) {
	external := map[string]RoleDef{
		"a": {Role: "External A", Goal: "g"},
		"b": {Role: "Partial B"},
	}
	embedded := map[string]RoleDef{
		"a": {Role: "Embedded A", Goal: "g"},
		"b": {Role: "Embedded B", Goal: "g"},
		"c": {Role: "Embedded C", Goal: "g"},
	}

	r, src, ok := Resolve("a", external, embedded)
	assert.True(t, ok)
	assert.Equal(t, SourceExternal, src)
	assert.Equal(t, "External A", r.Role)

	r, src, ok = Resolve("b", external, embedded)
	assert.True(t, ok)
	assert.Equal(t, SourceEmbedded, src, "unusable external entry falls back")
	assert.Equal(t, "Embedded B", r.Role)

	_, src, ok = Resolve("c", nil, embedded)
	assert.True(t, ok)
	assert.Equal(t, SourceEmbedded, src)

	_, _, ok = Resolve("missing", external, embedded)
	assert.False(t, ok)
}

func TestLoad_AbsentDirectory(t *testing.T) {
	c := Load(filepath.Join(t.TempDir(), "nope"))

	assert.Len(t, c.Problems, 2)
	_, src, ok := c.Role("staffing_optimizer")
	assert.True(t, ok)
	assert.Equal(t, SourceEmbedded, src)
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, AgentsFile, "festival_event_forecaster: [unclosed")
	writeFile(t, dir, TasksFile, `
festival_event_analysis:
  description: Custom festival analysis for {hospital_name}.
`)

	c := Load(dir)
	require.Len(t, c.Problems, 1)
	assert.Contains(t, c.Problems[0].Error(), "failed to parse")

	_, src, _ := c.Role("festival_event_forecaster")
	assert.Equal(t, SourceEmbedded, src)

	task, src, ok := c.Task("festival_event_analysis")
	require.True(t, ok)
	assert.Equal(t, SourceExternal, src)
	assert.Equal(t, "Custom festival analysis for {hospital_name}.", task.Description)
	assert.Equal(t, "festival_event_forecaster", task.Agent, "binding inherited from embedded")
	assert.Equal(t, "SurgeReport", task.Schema)
}

func TestLoad_PartialRoles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, AgentsFile, `
staffing_optimizer:
  role: Night Shift Planner
  goal: Keep wards covered
  backstory: Former charge nurse.
  max_rpm: 10
`)

	c := Load(dir)
	role, src, ok := c.Role("staffing_optimizer")
	require.True(t, ok)
	assert.Equal(t, SourceExternal, src)
	assert.Equal(t, "Night Shift Planner", role.Role)
	assert.Equal(t, 10, role.MaxRPM)

	_, src, ok = c.Role("central_orchestrator")
	require.True(t, ok)
	assert.Equal(t, SourceEmbedded, src)
	assert.Len(t, c.RoleIDs(), 7)
}
