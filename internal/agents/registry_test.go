package agents

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/extremecoder-rgb/JeevanSetu/internal/catalog"
	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
)

func TestGet_Idempotent(t *testing.T) {
	r := New(catalog.Embedded(), DefaultModelConfig())

	first, err := r.Get("staffing_optimizer")
	require.NoError(t, err)
	second, err := r.Get("staffing_optimizer")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(2), r.Lookups())

	first.Tools[0] = "mutated"
	third, _ := r.Get("staffing_optimizer")
	assert.Equal(t, second, third, "callers cannot mutate the resolved spec")
}

func TestGet_EmbeddedSettings(t *testing.T) {
	r := New(catalog.Embedded(), DefaultModelConfig())

	spec, err := r.Get("epidemic_surveillance")
	require.NoError(t, err)
	assert.Equal(t, "embedded", spec.Source)
	assert.Equal(t, 2, spec.MaxCallsPerMinute)
	assert.Equal(t, 0.3, spec.Model.Temperature)
	assert.Equal(t, 2048, spec.Model.MaxOutputTokens)
	assert.Equal(t, 60*time.Second, spec.Model.Timeout)
	assert.False(t, spec.AllowDelegation)
	assert.NotEmpty(t, spec.Persona)
}

func TestGet_ExternalOverridesText(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, catalog.AgentsFile), []byte(`
central_orchestrator:
  role: Incident Commander
  goal: Decide.
  backstory: Runs the command centre.
  llm:
    timeout: 90s
`), 0644))

	r := New(catalog.Load(dir), DefaultModelConfig())
	spec, err := r.Get("central_orchestrator")
	require.NoError(t, err)
	assert.Equal(t, "external", spec.Source)
	assert.Equal(t, "Incident Commander", spec.Title)
	assert.Equal(t, 90*time.Second, spec.Model.Timeout)
	assert.Equal(t, 3, spec.MaxCallsPerMinute, "unset settings inherit embedded values")
	assert.Equal(t, 5, spec.MaxIterations)

	embedded, err := r.Embedded("central_orchestrator")
	require.NoError(t, err)
	assert.Equal(t, "Central Hospital Preparedness Orchestrator", embedded.Title)
	assert.Equal(t, 60*time.Second, embedded.Model.Timeout)
}

func TestGet_UnknownRole(t *testing.T) {
	r := New(catalog.Embedded(), DefaultModelConfig())

	_, err := r.Get("radiology_bot")
	assert.Equal(t, core.KindConfiguration, core.KindOf(err))
}

func TestGet_ConfiguredRetryAndTimeoutReachEveryRole(t *testing.T) {
	defaults := DefaultModelConfig()
	defaults.MaxRetries = 7
	defaults.Timeout = 15 * time.Second
	r := New(catalog.Embedded(), defaults)

	for _, role := range catalog.Embedded().RoleIDs() {
		spec, err := r.Get(role)
		require.NoError(t, err, role)
		assert.Equal(t, 7, spec.Model.MaxRetries, role)
		assert.Equal(t, 15*time.Second, spec.Model.Timeout, role)

		embedded, err := r.Embedded(role)
		require.NoError(t, err, role)
		assert.Equal(t, 7, embedded.Model.MaxRetries, role)
	}
}

func TestGet_ExternalRetriesOverrideConfigured(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, catalog.AgentsFile), []byte(`
staffing_optimizer:
  role: Rota Planner
  goal: Plan shifts.
  llm:
    max_retries: 5
`), 0644))

	defaults := DefaultModelConfig()
	defaults.MaxRetries = 7
	spec, err := New(catalog.Load(dir), defaults).Get("staffing_optimizer")
	require.NoError(t, err)
	assert.Equal(t, 5, spec.Model.MaxRetries)
}
