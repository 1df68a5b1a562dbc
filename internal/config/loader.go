package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
	dotenv     []string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "JEEVANSETU",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithDotenv sets the .env files to load. The default is ".env" in the
// working directory.
func (l *Loader) WithDotenv(paths ...string) *Loader {
	l.dotenv = append([]string{}, paths...)
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (JEEVANSETU_*, plus the provider variables)
// 3. Project config (jeevansetu.yaml in current directory)
// 4. User config (~/.config/jeevansetu/jeevansetu.yaml)
// 5. Defaults
//
// A .env file is read first and never overrides variables already set.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDotenv(); err != nil {
		return nil, err
	}

	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
	_ = l.v.BindEnv("tools.serper_api_key", l.envPrefix+"_TOOLS_SERPER_API_KEY", "SERPER_API_KEY")
	_ = l.v.BindEnv("llm.models", l.envPrefix+"_LLM_MODELS", "MODEL")

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("jeevansetu")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "jeevansetu"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.LLM.APIKeys = DiscoverCredentials(cfg.LLM.APIKeys, os.Getenv)
	cfg.LLM.Models = splitList(cfg.LLM.Models)

	return &cfg, nil
}

func (l *Loader) loadDotenv() error {
	paths := l.dotenv
	if paths == nil {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

func (l *Loader) setDefaults() {
	dataDir := ".jeevansetu"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".jeevansetu")
	}
	l.v.SetDefault("data_dir", dataDir)
	l.v.SetDefault("config_dir", "config")
	l.v.SetDefault("results_dir", ".")
	l.v.SetDefault("resources_dir", "resources")

	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("llm.backend", BackendHTTP)
	l.v.SetDefault("llm.base_url", "")
	l.v.SetDefault("llm.api_keys", []string{})
	l.v.SetDefault("llm.models", []string{"gemini-2.0-flash"})
	l.v.SetDefault("llm.randomize_models", false)
	l.v.SetDefault("llm.script", "")
	l.v.SetDefault("llm.script_data_dir", "data")
	l.v.SetDefault("llm.fixtures_dir", "")

	l.v.SetDefault("validation.mode", "strict")

	l.v.SetDefault("retry.max_retries", 3)
	l.v.SetDefault("retry.base_delay", "2s")
	l.v.SetDefault("retry.multiplier", 2.0)
	l.v.SetDefault("retry.max_delay", "30s")
	l.v.SetDefault("retry.task_attempts", 3)

	l.v.SetDefault("pipeline.fallback", true)
	l.v.SetDefault("pipeline.schema_retries", 0)

	l.v.SetDefault("tools.serper_api_key", "")
	l.v.SetDefault("tools.timeout", "20s")
	l.v.SetDefault("tools.max_files_read", 3)
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Load is a shortcut for NewLoader().WithConfigFile(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader().WithConfigFile(path).Load()
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
