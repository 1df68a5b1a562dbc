package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/extremecoder-rgb/JeevanSetu/internal/catalog"
	"github.com/extremecoder-rgb/JeevanSetu/internal/config"
	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
	"github.com/extremecoder-rgb/JeevanSetu/internal/models"
	"github.com/extremecoder-rgb/JeevanSetu/internal/orchestrator"
	"github.com/extremecoder-rgb/JeevanSetu/internal/pipeline"
	"github.com/extremecoder-rgb/JeevanSetu/internal/rotator"
	"github.com/extremecoder-rgb/JeevanSetu/internal/storage"
	"github.com/extremecoder-rgb/JeevanSetu/internal/tui"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "jeevansetu",
		Short:         "Hospital surge prediction crew",
		Long:          "JeevanSetu runs a chain of seven specialist agents that forecast patient surges and plan a hospital's response.",
		RunE:          runTUI,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./jeevansetu.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Debug logging, including prompts and error detail")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: auto, text or json")
	rootCmd.PersistentFlags().String("backend", "", "Model backend: http, fixture or lua")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newReplayCommand())
	rootCmd.AddCommand(newTrainCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newValidateCommand())

	if err := rootCmd.Execute(); err != nil {
		verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
		reportError(err, verbose)
		os.Exit(1)
	}
}

// reportError prints the failing stage and kind. The full error chain is
// only shown with --verbose.
func reportError(err error, verbose bool) {
	var taskErr *core.TaskError
	if errors.As(err, &taskErr) {
		fmt.Fprintf(os.Stderr, "stage failed: %s: %v\n", core.KindOf(err), taskErr.Err)
		fmt.Fprintf(os.Stderr, "  task: %s (agent %s)\n", taskErr.TaskID, taskErr.Role)
	} else {
		fmt.Fprintf(os.Stderr, "stage failed: %s\n", core.Describe(err))
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "  detail: %+v\n", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runTUI(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd, setupOptions{storeOnly: true})
	if err != nil {
		return err
	}
	defer e.Close()

	app := tui.NewApp(e.orch)
	p := tea.NewProgram(app, tea.WithAltScreen())

	_, err = p.Run()
	return err
}

// inputFlag is the flag name for a run input, e.g. hospital-name.
func inputFlag(name string) string {
	return strings.ReplaceAll(name, "_", "-")
}

func inputNames() []string {
	names := make([]string, 0, len(config.InputEnv))
	for name := range config.InputEnv {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// collectInputs reads run inputs from the environment, then overrides them
// with any flags that were given.
func collectInputs(cmd *cobra.Command) map[string]string {
	inputs := config.InputsFromEnv(os.Getenv)
	for _, name := range inputNames() {
		f := cmd.Flags().Lookup(inputFlag(name))
		if f != nil && f.Changed {
			inputs[name] = f.Value.String()
		}
	}
	return inputs
}

func printResult(res *orchestrator.Result) {
	if res == nil || res.Run == nil {
		return
	}
	fmt.Printf("Run #%d [%s]\n", res.Run.ID, res.Run.Status)
	for i, entry := range res.Records {
		fmt.Printf("  %d. %-22s %s\n", i+1, entry.TaskID, entry.Record.Summary())
	}
	if res.ResultPath != "" {
		fmt.Printf("Result: %s\n", res.ResultPath)
	}
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full prediction chain",
		Long:  "Run the full prediction chain. Inputs come from flags, falling back to HOSPITAL_NAME, REGION and the other input environment variables.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			noSave, _ := cmd.Flags().GetBool("no-save")
			inputs := collectInputs(cmd)
			// Fail on missing inputs before touching the model backend.
			if _, err := orchestrator.PrepareInputs(inputs, time.Now()); err != nil {
				return err
			}

			e, err := setup(cmd, setupOptions{noSave: noSave})
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := signalContext()
			defer cancel()

			fmt.Printf("Running prediction for %s...\n", inputs["hospital_name"])
			res, err := e.orch.Run(ctx, inputs)
			printResult(res)
			return err
		},
	}

	for _, name := range inputNames() {
		cmd.Flags().String(inputFlag(name), "", fmt.Sprintf("Run input %s (env %s)", name, config.InputEnv[name]))
	}
	cmd.Flags().Bool("no-save", false, "Do not write the result file")
	return cmd
}

func newReplayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <task-id>",
		Short: "Re-run a stored run from a task onward",
		Long:  "Re-run a stored run from a task onward, reusing the outputs of every earlier task. Tasks: " + strings.Join(catalog.TaskOrder, ", "),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, _ := cmd.Flags().GetInt64("run")
			noSave, _ := cmd.Flags().GetBool("no-save")

			e, err := setup(cmd, setupOptions{noSave: noSave})
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := signalContext()
			defer cancel()

			res, err := e.orch.Replay(ctx, runID, args[0])
			printResult(res)
			return err
		},
	}

	cmd.Flags().Int64("run", 0, "Run to replay (default: latest)")
	cmd.Flags().Bool("no-save", false, "Do not write the result file")
	return cmd
}

func newTrainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train <iterations> <output-file>",
		Short: "Repeat runs and collect quality metrics",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			iterations, err := strconv.Atoi(args[0])
			if err != nil {
				return &core.ConfigurationError{Message: "invalid iteration count", Cause: err}
			}
			concurrency, _ := cmd.Flags().GetInt("concurrency")

			inputs := collectInputs(cmd)
			if _, err := orchestrator.PrepareInputs(inputs, time.Now()); err != nil {
				return err
			}

			e, err := setup(cmd, setupOptions{noSave: true})
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := signalContext()
			defer cancel()

			report, err := e.orch.Train(ctx, inputs, iterations, args[1], concurrency)
			if err != nil {
				return err
			}
			fmt.Printf("%d/%d runs succeeded (%.0f%%), mean %.1f attempts, mean %dms\n",
				report.Succeeded, report.Iterations, report.SuccessRate*100, report.MeanAttempts, report.MeanDurationMS)
			fmt.Printf("Metrics: %s\n", args[1])
			return nil
		},
	}

	for _, name := range inputNames() {
		cmd.Flags().String(inputFlag(name), "", fmt.Sprintf("Run input %s (env %s)", name, config.InputEnv[name]))
	}
	cmd.Flags().Int("concurrency", 1, "Runs to execute at once")
	return cmd
}

func parseRunID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid run ID: %w", err)
	}
	return id, nil
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show run status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			e, err := setup(cmd, setupOptions{storeOnly: true})
			if err != nil {
				return err
			}
			defer e.Close()

			run, err := e.orch.GetRun(runID)
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}

			fmt.Printf("Run #%d: %s\n", run.ID, run.Hospital())
			fmt.Printf("Status: %s\n", run.Status)
			fmt.Printf("Created: %s\n", storage.FormatTimeAgo(run.CreatedAt))
			if run.ReplayOf != nil {
				fmt.Printf("Replay of: #%d\n", *run.ReplayOf)
			}
			if run.CurrentTask != "" && run.Status == models.RunStatusRunning {
				fmt.Printf("Current Task: %s\n", run.CurrentTask)
			}
			if run.FailedTask != "" {
				fmt.Printf("Failed Task: %s\n", run.FailedTask)
			}
			if run.Error != "" {
				fmt.Printf("Error: %s\n", run.Error)
			}
			if run.ResultPath != "" {
				fmt.Printf("Result: %s\n", run.ResultPath)
			}

			execs, err := e.orch.GetExecutionsForRun(runID)
			if err != nil {
				return err
			}

			if len(execs) > 0 {
				fmt.Println("\nTasks:")
				for _, exec := range execs {
					status := string(exec.Status)
					if exec.Attempts > 1 {
						status += fmt.Sprintf(", %d attempts", exec.Attempts)
					}
					if exec.UsedFallback {
						status += ", fallback"
					}
					fmt.Printf("  %d. %s [%s]\n", exec.SequenceNum, exec.TaskID, status)
					if exec.Record != nil {
						fmt.Printf("     %s\n", exec.Record.Summary())
					}
				}
			}

			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			e, err := setup(cmd, setupOptions{storeOnly: true})
			if err != nil {
				return err
			}
			defer e.Close()

			runs, err := e.orch.ListRuns(limit)
			if err != nil {
				return err
			}

			if len(runs) == 0 {
				fmt.Println("No runs found.")
				return nil
			}

			for _, run := range runs {
				fmt.Printf("#%d %s [%s] %s\n",
					run.ID, truncate(run.Hospital(), 40), run.Status,
					storage.FormatTimeAgo(run.CreatedAt))
			}

			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum runs to list")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its result file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			e, err := setup(cmd, setupOptions{storeOnly: true})
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.orch.DeleteRun(runID); err != nil {
				return fmt.Errorf("failed to delete run: %w", err)
			}

			fmt.Printf("Deleted run #%d\n", runID)
			return nil
		},
	}
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check configuration, credentials and role definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return &core.ConfigurationError{Message: "invalid settings", Cause: err}
			}

			fmt.Printf("Backend: %s\n", cfg.LLM.Backend)
			rot, err := rotator.FromConfig(cfg.Credentials(), cfg.LLM.Models, cfg.LLM.RandomizeModels, nil)
			if err != nil {
				return err
			}
			for _, c := range rot.Pool() {
				fmt.Printf("  credential %s -> %s\n", rotator.Mask(c.Credential), c.Model)
			}
			if cfg.Tools.SerperAPIKey == "" {
				fmt.Println("Web search: disabled (SERPER_API_KEY not set)")
			} else {
				fmt.Println("Web search: enabled")
			}

			cat := catalog.Load(cfg.ConfigDir)
			tasks, err := pipeline.BuildTasks(cat)
			if err != nil {
				return err
			}
			fmt.Printf("Tasks (%s):\n", cfg.ConfigDir)
			for _, t := range tasks {
				fmt.Printf("  %d. %-22s agent %-32s %s\n", t.Position+1, t.ID, t.AgentRole, t.Source)
			}

			missing := missingInputs(config.InputsFromEnv(os.Getenv))
			if len(missing) > 0 {
				fmt.Printf("Inputs not set in the environment (pass them as flags): %s\n", strings.Join(missing, ", "))
			}
			fmt.Println("Configuration OK")
			return nil
		},
	}
}

func missingInputs(inputs map[string]string) []string {
	var missing []string
	for _, name := range config.RequiredInputs {
		if inputs[name] == "" {
			missing = append(missing, config.InputEnv[name])
		}
	}
	return missing
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
