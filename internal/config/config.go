// Package config loads JeevanSetu settings from defaults, a config file,
// the environment and CLI flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	DataDir      string `mapstructure:"data_dir"`
	ConfigDir    string `mapstructure:"config_dir"`
	ResultsDir   string `mapstructure:"results_dir"`
	ResourcesDir string `mapstructure:"resources_dir"`

	Log        LogConfig        `mapstructure:"log"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Validation ValidationConfig `mapstructure:"validation"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Tools      ToolsConfig      `mapstructure:"tools"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LLMConfig selects and configures the model backend.
type LLMConfig struct {
	Backend         string   `mapstructure:"backend"` // http, fixture or lua
	BaseURL         string   `mapstructure:"base_url"`
	APIKeys         []string `mapstructure:"api_keys"`
	Models          []string `mapstructure:"models"`
	RandomizeModels bool     `mapstructure:"randomize_models"`
	Script          string   `mapstructure:"script"`
	ScriptDataDir   string   `mapstructure:"script_data_dir"`
	FixturesDir     string   `mapstructure:"fixtures_dir"`
}

type ValidationConfig struct {
	Mode string `mapstructure:"mode"`
}

// RetryConfig sets the model call retry schedule. MaxRetries counts total
// attempts and is the default for agents that do not set their own.
type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	TaskAttempts int           `mapstructure:"task_attempts"`
}

type PipelineConfig struct {
	Fallback      bool `mapstructure:"fallback"`
	SchemaRetries int  `mapstructure:"schema_retries"`
}

type ToolsConfig struct {
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxFilesRead int           `mapstructure:"max_files_read"`
}

// DBPath is the sqlite run history.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "jeevansetu.db")
}

func (c *Config) EnsureDataDir() error {
	for _, dir := range []string{c.DataDir, c.ResultsDir, c.ResourcesDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// Backends.
const (
	BackendHTTP    = "http"
	BackendFixture = "fixture"
	BackendLua     = "lua"
)

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.LLM.Backend {
	case BackendHTTP, BackendFixture, BackendLua:
	default:
		return fmt.Errorf("llm.backend must be one of http, fixture, lua (got %q)", c.LLM.Backend)
	}
	if c.LLM.Backend == BackendFixture && c.LLM.FixturesDir == "" {
		return fmt.Errorf("llm.fixtures_dir is required for the fixture backend")
	}
	switch strings.ToLower(c.Validation.Mode) {
	case "", "strict", "lenient":
	default:
		return fmt.Errorf("validation.mode must be strict or lenient (got %q)", c.Validation.Mode)
	}
	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("retry.max_retries must be at least 1")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	return nil
}
