package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/extremecoder-rgb/JeevanSetu/internal/agents"
	"github.com/extremecoder-rgb/JeevanSetu/internal/catalog"
	"github.com/extremecoder-rgb/JeevanSetu/internal/config"
	"github.com/extremecoder-rgb/JeevanSetu/internal/llm"
	"github.com/extremecoder-rgb/JeevanSetu/internal/logging"
	"github.com/extremecoder-rgb/JeevanSetu/internal/lua"
	"github.com/extremecoder-rgb/JeevanSetu/internal/orchestrator"
	"github.com/extremecoder-rgb/JeevanSetu/internal/pipeline"
	"github.com/extremecoder-rgb/JeevanSetu/internal/ratelimit"
	"github.com/extremecoder-rgb/JeevanSetu/internal/report"
	"github.com/extremecoder-rgb/JeevanSetu/internal/retry"
	"github.com/extremecoder-rgb/JeevanSetu/internal/rotator"
	"github.com/extremecoder-rgb/JeevanSetu/internal/storage"
	"github.com/extremecoder-rgb/JeevanSetu/internal/tools"
	"github.com/extremecoder-rgb/JeevanSetu/internal/workspace"
)

// env is everything a command needs, built from the loaded config.
type env struct {
	cfg   *config.Config
	log   *logging.Logger
	store *storage.Storage
	orch  *orchestrator.Orchestrator
}

func (e *env) Close() {
	if e.store != nil {
		e.store.Close()
	}
}

type setupOptions struct {
	// storeOnly skips the model backend, for commands that only read
	// run history.
	storeOnly bool
	noSave    bool
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	loader := config.NewLoader()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loader.WithConfigFile(path)
	}
	v := loader.Viper()
	if f := cmd.Flags().Lookup("log-format"); f != nil {
		_ = v.BindPFlag("log.format", f)
	}
	if f := cmd.Flags().Lookup("backend"); f != nil {
		_ = v.BindPFlag("llm.backend", f)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}

func setup(cmd *cobra.Command, opts setupOptions) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	e := &env{cfg: cfg, log: newLogger(cfg)}

	e.store, err = storage.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	cat := catalog.Load(cfg.ConfigDir)
	orchOpts := []orchestrator.Option{
		orchestrator.WithStorage(e.store),
		orchestrator.WithLogger(e.log),
	}

	if opts.storeOnly {
		e.orch = orchestrator.New(cat, nil, orchOpts...)
		return e, nil
	}

	client, err := newClient(cfg, e.log)
	if err != nil {
		e.Close()
		return nil, err
	}

	mode, err := report.ParseMode(cfg.Validation.Mode)
	if err != nil {
		e.Close()
		return nil, err
	}

	if !opts.noSave {
		ws, err := workspace.Create(cfg.ResultsDir, cfg.ResourcesDir)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to prepare output directories: %w", err)
		}
		orchOpts = append(orchOpts, orchestrator.WithWorkspace(ws))
	}

	defaults := agents.DefaultModelConfig()
	defaults.MaxRetries = cfg.Retry.MaxRetries

	kit := tools.NewKit(tools.KitConfig{
		ResourcesDir: cfg.ResourcesDir,
		SerperAPIKey: cfg.Tools.SerperAPIKey,
		Timeout:      cfg.Tools.Timeout,
		MaxFilesRead: cfg.Tools.MaxFilesRead,
	})
	policy := retry.New(
		retry.WithMaxAttempts(cfg.Retry.TaskAttempts),
		retry.WithBaseDelay(cfg.Retry.BaseDelay),
		retry.WithMultiplier(cfg.Retry.Multiplier),
		retry.WithMaxDelay(cfg.Retry.MaxDelay),
	)

	orchOpts = append(orchOpts,
		orchestrator.WithValidator(report.NewValidator(mode)),
		orchestrator.WithRegistryFactory(orchestrator.DefaultRegistryFactory(defaults)),
		orchestrator.WithExecutorOptions(
			pipeline.WithToolkit(kit),
			pipeline.WithPolicy(policy),
			pipeline.WithFallback(cfg.Pipeline.Fallback),
			pipeline.WithSchemaRetries(cfg.Pipeline.SchemaRetries),
			pipeline.WithLogger(e.log),
		),
	)
	e.orch = orchestrator.New(cat, client, orchOpts...)
	return e, nil
}

func newBackend(cfg *config.Config, log *logging.Logger) (llm.Backend, error) {
	switch cfg.LLM.Backend {
	case config.BackendFixture:
		return llm.FixtureBackend{Dir: cfg.LLM.FixturesDir}, nil
	case config.BackendLua:
		b, err := lua.Load(cfg.LLM.Script, cfg.LLM.ScriptDataDir, log)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return llm.NewHTTPBackend(cfg.LLM.BaseURL), nil
	}
}

func newClient(cfg *config.Config, log *logging.Logger) (*llm.Client, error) {
	backend, err := newBackend(cfg, log)
	if err != nil {
		return nil, err
	}
	rot, err := rotator.FromConfig(cfg.Credentials(), cfg.LLM.Models, cfg.LLM.RandomizeModels, nil)
	if err != nil {
		return nil, err
	}
	return llm.NewClient(backend, rot,
		llm.WithLimiter(ratelimit.NewRegistry()),
		llm.WithBackoff(cfg.Retry.BaseDelay, cfg.Retry.Multiplier, cfg.Retry.MaxDelay),
		llm.WithLogger(log),
	), nil
}
