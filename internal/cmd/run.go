package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/harrison/orchestra/internal/claude"
	"github.com/harrison/orchestra/internal/config"
	"github.com/harrison/orchestra/internal/contextmgr"
	"github.com/harrison/orchestra/internal/engine"
	"github.com/harrison/orchestra/internal/executor"
	"github.com/harrison/orchestra/internal/filelock"
	"github.com/harrison/orchestra/internal/history"
	"github.com/harrison/orchestra/internal/interaction"
	"github.com/harrison/orchestra/internal/logger"
	"github.com/harrison/orchestra/internal/models"
	"github.com/harrison/orchestra/internal/parser"
	"github.com/harrison/orchestra/internal/planner"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [subtask-file]",
		Short: "Execute a plan from a subtask file or a task description",
		Long: `Execute a plan end to end.

With a subtask file argument (JSON or YAML), the plan is loaded, normalized,
and validated before execution. With --task, the description is decomposed
into a plan first.

Each subtask is driven through a multi-turn worker conversation and verified
against its declared output files. Failed subtasks feed the plan-adjustment
step; they never abort the run by themselves.

Configuration is loaded from orchestra.yaml if present. CLI flags override
configuration file settings.

Examples:
  orchestra run subtasks.json
  orchestra run plan.yaml --backend claude
  orchestra run --task "Summarize the Q3 incident reports"
  orchestra run subtasks.json --max-concurrency 4
  orchestra run subtasks.json --state-dir ./runs/q3 --verbose`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().String("config", "orchestra.yaml", "Path to config file")
	cmd.Flags().String("task", "", "Task description to decompose and execute")
	cmd.Flags().String("state-dir", "", "Run state directory (overrides config)")
	cmd.Flags().String("backend", "", "Execution backend: local or claude (overrides config)")
	cmd.Flags().String("timeout", "", "Default per-subtask timeout (e.g. 300s, 10m)")
	cmd.Flags().Int("max-turns", 0, "Default worker turns per subtask (overrides config)")
	cmd.Flags().Int("max-concurrency", 0, "Parallel worker pool size; >1 disables adaptive plan adjustment")
	cmd.Flags().Bool("verbose", false, "Show detailed execution information")

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}

	task, _ := cmd.Flags().GetString("task")
	if len(args) == 0 && task == "" {
		return fmt.Errorf("either a subtask file or --task is required")
	}

	lock, err := filelock.AcquireRunDir(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	contexts, err := contextmgr.NewManager(cfg.StateDir)
	if err != nil {
		return err
	}

	fileLog, err := logger.NewFileLogger(cfg.StateDir, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer fileLog.Close()
	log := logger.NewMultiLogger(logger.NewConsoleLogger(cmd.OutOrStdout(), cfg.LogLevel), fileLog)

	backend, err := selectBackend(cfg)
	if err != nil {
		return err
	}
	exec := executor.New(backend, interaction.NewDriver(interaction.MarkerClassifier{}, log), contexts, log, executor.Options{
		DefaultTimeout:  cfg.DefaultTimeout,
		DefaultMaxTurns: cfg.DefaultMaxTurns,
	})

	p, err := planner.New(contexts, planner.Options{Logger: log})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if err := installPlan(ctx, p, cfg, args, task); err != nil {
		return err
	}

	var hist *history.Store
	if cfg.History.Enabled {
		dbPath := cfg.History.DBPath
		if !filepath.IsAbs(dbPath) && dbPath != ":memory:" {
			dbPath = filepath.Join(cfg.StateDir, dbPath)
		}
		if hist, err = history.NewStore(dbPath); err != nil {
			return err
		}
		defer hist.Close()
	}

	runID := uuid.NewString()
	log.LogInfo("run " + runID + " in " + cfg.StateDir)

	var run models.RunResult
	if cfg.MaxConcurrency > 1 {
		run, err = runParallel(ctx, p, exec, contexts, hist, log, cfg.MaxConcurrency, runID)
	} else {
		eng := engine.New(p, exec, contexts, engine.Options{History: hist, Logger: log, RunID: runID})
		run, _, err = eng.Run(ctx)
	}
	if err != nil {
		return err
	}

	if run.Failed > 0 {
		return fmt.Errorf("%d of %d subtasks failed", run.Failed, run.TotalTasks)
	}
	return nil
}

// runParallel executes the installed plan with a bounded worker pool. The
// plan is fixed for the whole run: results still flow through the planner
// for context folding and aggregation, but no adjustments are applied.
func runParallel(ctx context.Context, p *planner.Planner, exec *executor.Executor, contexts *contextmgr.Manager, hist *history.Store, log logger.Logger, maxConcurrency int, runID string) (models.RunResult, error) {
	log.LogInfo("parallel mode: adaptive plan adjustment disabled")
	started := time.Now()

	pool := executor.NewPool(exec, log, maxConcurrency)
	results, err := pool.Run(ctx, p.Remaining())
	if err != nil {
		return models.RunResult{}, err
	}

	run := models.RunResult{TotalTasks: len(results), Results: results}
	for _, result := range results {
		if result.Success {
			run.Succeeded++
		} else {
			run.Failed++
		}
		if _, perr := p.ProcessResult(ctx, result); perr != nil {
			log.LogWarn(fmt.Sprintf("fold result for %s: %v", result.TaskID, perr))
		}
		if hist != nil {
			if herr := hist.RecordExecution(ctx, &history.ExecutionRecord{
				RunID:      runID,
				TaskID:     result.TaskID,
				Success:    result.Success,
				Status:     string(result.TaskStatus),
				Error:      result.Error,
				Turns:      result.Turns,
				Duration:   result.Duration,
				ResultFile: result.ResultFile,
				Summary:    result.Result.Summary,
			}); herr != nil {
				log.LogWarn(fmt.Sprintf("record execution for %s: %v", result.TaskID, herr))
			}
		}
	}
	run.Duration = time.Since(started)

	if _, err := p.FinalResult(ctx); err != nil {
		log.LogWarn(fmt.Sprintf("final result aggregation: %v", err))
	}
	log.LogSummary(run)
	return run, nil
}

// installPlan loads the plan from the subtask file, or decomposes the task
// description when no file is given.
func installPlan(ctx context.Context, p *planner.Planner, cfg *config.Config, args []string, task string) error {
	if len(args) > 0 {
		plan, err := parser.LoadFile(args[0])
		if err != nil {
			return err
		}
		name := plan.TaskName
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}
		return p.SetPlan(name, plan.Subtasks)
	}

	dec := planner.SingleTaskDecomposer{}
	if !cfg.SkipAnalysis {
		if _, err := p.AnalyzeTask(ctx, dec, task); err != nil {
			return err
		}
	}
	return p.BreakDown(ctx, dec, task, task)
}

// loadRunConfig loads the config file and applies flag overrides.
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if stateDir, _ := cmd.Flags().GetString("state-dir"); stateDir != "" {
		cfg.StateDir = stateDir
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Backend = backend
	}
	if timeoutStr, _ := cmd.Flags().GetString("timeout"); timeoutStr != "" {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return nil, fmt.Errorf("parse --timeout: %w", err)
		}
		cfg.DefaultTimeout = timeout
	}
	if maxTurns, _ := cmd.Flags().GetInt("max-turns"); maxTurns > 0 {
		cfg.DefaultMaxTurns = maxTurns
	}
	if maxConcurrency, _ := cmd.Flags().GetInt("max-concurrency"); maxConcurrency > 0 {
		cfg.MaxConcurrency = maxConcurrency
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// selectBackend wires the execution backend named by the config tag.
func selectBackend(cfg *config.Config) (executor.Backend, error) {
	switch cfg.Backend {
	case config.BackendClaude:
		inv := claude.NewInvoker()
		inv.ClaudePath = cfg.ClaudePath
		inv.Timeout = cfg.DefaultTimeout
		return executor.NewClaudeBackend(inv), nil
	case config.BackendLocal:
		return executor.LocalBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
