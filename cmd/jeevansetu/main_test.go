package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/extremecoder-rgb/JeevanSetu/internal/config"
)

func TestInputFlags(t *testing.T) {
	cmd := newRunCommand()
	for name := range config.InputEnv {
		assert.NotNil(t, cmd.Flags().Lookup(inputFlag(name)), name)
	}
	assert.Equal(t, "hospital-name", inputFlag("hospital_name"))
}

func TestCollectInputs_FlagsOverrideEnv(t *testing.T) {
	for _, env := range config.InputEnv {
		t.Setenv(env, "")
	}
	t.Setenv("HOSPITAL_NAME", "Env Hospital")
	t.Setenv("REGION", "Pune")

	cmd := newRunCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--hospital-name", "City General", "--current-staffing", "120 nurses"}))

	inputs := collectInputs(cmd)
	assert.Equal(t, "City General", inputs["hospital_name"])
	assert.Equal(t, "Pune", inputs["region"])
	assert.Equal(t, "120 nurses", inputs["current_staffing"])
	_, ok := inputs["administrator_name"]
	assert.False(t, ok)
}

func TestMissingInputs(t *testing.T) {
	missing := missingInputs(map[string]string{"hospital_name": "City General", "current_staffing": "x"})
	assert.Equal(t, []string{"REGION", "ADMINISTRATOR_NAME"}, missing)
}

func TestCommandsRegistered(t *testing.T) {
	for _, c := range []*cobra.Command{
		newRunCommand(), newReplayCommand(), newTrainCommand(),
		newStatusCommand(), newListCommand(), newDeleteCommand(), newValidateCommand(),
	} {
		assert.NotEmpty(t, c.Short, c.Use)
	}
	assert.NotNil(t, newReplayCommand().Flags().Lookup("run"))
	assert.NotNil(t, newTrainCommand().Flags().Lookup("concurrency"))
}
