// Package executor runs individual subtasks against a generative worker
// backend: it assembles the prompt, drives the turn loop, verifies declared
// output files on disk, and records the outcome in the task's context.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harrison/orchestra/internal/contextmgr"
	"github.com/harrison/orchestra/internal/filelock"
	"github.com/harrison/orchestra/internal/interaction"
	"github.com/harrison/orchestra/internal/logger"
	"github.com/harrison/orchestra/internal/models"
)

// Backend starts one worker conversation per task execution.
type Backend interface {
	NewWorker(ctx context.Context, subtask models.Subtask, workDir string) (interaction.Worker, error)
}

// Options configures an Executor.
type Options struct {
	// DefaultTimeout bounds a task's interaction loop when the subtask does
	// not declare its own timeout.
	DefaultTimeout time.Duration

	// DefaultMaxTurns bounds the turn loop when the subtask does not declare
	// its own limit.
	DefaultMaxTurns int

	// WorkDir is the directory workers run in. Defaults to the process
	// working directory.
	WorkDir string
}

// Executor executes subtasks one conversation at a time.
type Executor struct {
	backend  Backend
	driver   *interaction.Driver
	contexts *contextmgr.Manager
	log      logger.Logger
	opts     Options
}

// New creates an Executor. log may be nil.
func New(backend Backend, driver *interaction.Driver, contexts *contextmgr.Manager, log logger.Logger, opts Options) *Executor {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if opts.WorkDir == "" {
		if wd, err := os.Getwd(); err == nil {
			opts.WorkDir = wd
		}
	}
	if opts.DefaultMaxTurns < 1 {
		opts.DefaultMaxTurns = 1
	}
	return &Executor{
		backend:  backend,
		driver:   driver,
		contexts: contexts,
		log:      log,
		opts:     opts,
	}
}

// ExecuteSubtask runs one subtask to a final result. The returned result is
// always usable; transport failures, timeouts, and verification failures are
// reported through it rather than as a separate error.
func (e *Executor) ExecuteSubtask(ctx context.Context, subtask models.Subtask, progress Progress) models.ExecutionResult {
	started := time.Now()

	taskCtx, err := e.contexts.TaskContext(subtask.ID)
	if errors.Is(err, contextmgr.ErrUnknownTask) {
		taskCtx, err = e.contexts.CreateSubtaskContext("", subtask.ID, nil)
	}
	if err != nil {
		return e.finish(subtask, models.FailureResult(subtask.ID, fmt.Sprintf("prepare context: %v", err)), started)
	}

	taskCtx.AddExecutionRecord("dispatch", "task dispatched to worker", map[string]any{
		"max_turns": e.maxTurns(subtask),
		"timeout":   e.timeout(subtask).String(),
	})

	prompt := buildPrompt(subtask, taskCtx, e.contexts, progress, e.opts.WorkDir)

	worker, err := e.backend.NewWorker(ctx, subtask, e.opts.WorkDir)
	if err != nil {
		return e.finish(subtask, models.FailureResult(subtask.ID, fmt.Sprintf("start worker: %v", err)), started)
	}
	defer worker.Close()

	outcome, runErr := e.driver.Run(ctx, worker, prompt, interaction.Params{
		MaxTurns: e.maxTurns(subtask),
		Timeout:  e.timeout(subtask),
	})

	if runErr != nil {
		result := models.FailureResult(subtask.ID, runErr.Error())
		result.TaskStatus = models.StatusError
		if outcome != nil {
			result.Output = outcome.Output
			result.Turns = outcome.Turns
		}
		e.writeErrorLog(subtask, taskCtx, result)
		return e.finish(subtask, result, started)
	}

	if outcome.ExhaustedTurns {
		result := models.FailureResult(subtask.ID, fmt.Sprintf("turn budget (%d) exhausted before completion", e.maxTurns(subtask)))
		result.TaskStatus = models.StatusError
		result.Output = outcome.Output
		result.Turns = outcome.Turns
		e.writeErrorLog(subtask, taskCtx, result)
		return e.finish(subtask, result, started)
	}

	result := e.resolveOutcome(subtask, taskCtx, outcome)
	result.Turns = outcome.Turns
	return e.finish(subtask, result, started)
}

// resolveOutcome turns a finished interaction into an ExecutionResult,
// applying output-file verification for every status that claims or implies
// completion.
func (e *Executor) resolveOutcome(subtask models.Subtask, taskCtx *contextmgr.TaskContext, outcome *interaction.Outcome) models.ExecutionResult {
	switch outcome.Status {
	case models.StatusError:
		result := models.FailureResult(subtask.ID, "worker reported task failure")
		result.TaskStatus = models.StatusError
		result.Output = outcome.Output
		e.writeErrorLog(subtask, taskCtx, result)
		return result

	case models.StatusNeedsMoreInfo:
		result := models.FailureResult(subtask.ID, "task needs more information to proceed")
		result.TaskStatus = models.StatusNeedsMoreInfo
		result.Output = outcome.Output
		e.writeErrorLog(subtask, taskCtx, result)
		return result
	}

	// COMPLETED and NEEDS_VERIFICATION both stand or fall on the files the
	// worker actually created. The engine never writes a declared output
	// file on the worker's behalf.
	if verr := verifyOutputFiles(subtask, e.resolveAbs); verr != nil {
		e.log.LogError(verr.Error())
		result := models.FailureResult(subtask.ID, verr.Error())
		result.TaskStatus = models.StatusError
		result.Output = outcome.Output
		e.writeErrorLog(subtask, taskCtx, result)
		return result
	}

	structured, nextSteps, artifacts := parseWorkerOutput(outcome.Output)
	result := models.ExecutionResult{
		TaskID:     subtask.ID,
		Success:    true,
		Output:     outcome.Output,
		Result:     structured,
		Artifacts:  artifacts,
		TaskStatus: models.StatusCompleted,
		NextSteps:  nextSteps,
	}

	for name, declared := range subtask.OutputFiles {
		taskCtx.AddFileReference(name, e.resolveAbs(declared), map[string]any{"role": "output_file"})
	}
	// The worker's main result file doubles as the task's result_file
	// reference, so execution summaries can read its JSON.
	taskCtx.AddFileReference("result_file", e.resolveAbs(subtask.OutputFiles[models.MainResultKey]), map[string]any{"type": "data"})
	for name, content := range artifacts {
		taskCtx.AddArtifact(name, content, nil)
	}

	return result
}

// finish stamps the duration, persists the engine's execution record, and
// folds the outcome into the task context.
func (e *Executor) finish(subtask models.Subtask, result models.ExecutionResult, started time.Time) models.ExecutionResult {
	result.Duration = time.Since(started)

	if dir := e.contexts.ContextDir(); dir != "" {
		recordPath := filepath.Join(dir, "results", subtask.ID, "execution.json")
		if data, err := json.MarshalIndent(result, "", "  "); err == nil {
			if err := filelock.AtomicWrite(recordPath, data); err != nil {
				e.log.LogWarn(fmt.Sprintf("write execution record for %s: %v", subtask.ID, err))
			} else {
				result.ResultFile = recordPath
			}
		}
	}

	updates := map[string]any{
		"success":     result.Success,
		"output":      result.Output,
		"task_status": string(result.TaskStatus),
	}
	if result.Success {
		updates["completion_time"] = time.Now().Format(time.RFC3339)
	} else {
		updates["error"] = result.Error
	}
	if _, err := e.contexts.UpdateTaskContext(subtask.ID, updates, false); err != nil {
		e.log.LogWarn(fmt.Sprintf("update context for %s: %v", subtask.ID, err))
	}

	return result
}

// writeErrorLog records failure details next to the task's results. The log
// is diagnostic output only; declared output files are never synthesized.
func (e *Executor) writeErrorLog(subtask models.Subtask, taskCtx *contextmgr.TaskContext, result models.ExecutionResult) {
	dir := e.contexts.ContextDir()
	if dir == "" {
		return
	}

	logPath := filepath.Join(dir, "results", subtask.ID, subtask.ID+"_error.log")
	content := fmt.Sprintf("task: %s\nerror: %s\n\nworker output:\n%s\n", subtask.ID, result.Error, result.Output)
	if err := filelock.AtomicWrite(logPath, []byte(content)); err != nil {
		e.log.LogWarn(fmt.Sprintf("write error log for %s: %v", subtask.ID, err))
		return
	}
	taskCtx.AddFileReference("error_log", logPath, map[string]any{"type": "text"})
}

func (e *Executor) resolveAbs(declared string) string {
	return absPath(e.contexts.ResolvePath(declared), e.opts.WorkDir)
}

func (e *Executor) maxTurns(subtask models.Subtask) int {
	if subtask.MaxTurns > 0 {
		return subtask.MaxTurns
	}
	return e.opts.DefaultMaxTurns
}

func (e *Executor) timeout(subtask models.Subtask) time.Duration {
	if subtask.TimeoutSecs > 0 {
		return time.Duration(subtask.TimeoutSecs) * time.Second
	}
	return e.opts.DefaultTimeout
}
