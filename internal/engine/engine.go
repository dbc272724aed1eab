// Package engine drives a plan end to end: it pulls subtasks from the
// planner one at a time, executes each to completion, feeds the result back
// for plan adjustment, and records the run in the history store.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/orchestra/internal/contextmgr"
	"github.com/harrison/orchestra/internal/executor"
	"github.com/harrison/orchestra/internal/history"
	"github.com/harrison/orchestra/internal/logger"
	"github.com/harrison/orchestra/internal/models"
	"github.com/harrison/orchestra/internal/planner"
)

// Options configures an Engine. History may be nil to skip run recording.
type Options struct {
	History *history.Store
	Logger  logger.Logger
	RunID   string
}

// Engine is the sequential orchestrator: one subtask, including its full
// multi-turn interaction, finishes before the next is dispatched.
type Engine struct {
	planner  *planner.Planner
	exec     *executor.Executor
	contexts *contextmgr.Manager
	hist     *history.Store
	log      logger.Logger
	runID    string
}

// New creates an Engine. A missing run id is generated.
func New(p *planner.Planner, exec *executor.Executor, contexts *contextmgr.Manager, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &Engine{
		planner:  p,
		exec:     exec,
		contexts: contexts,
		hist:     opts.History,
		log:      opts.Logger,
		runID:    opts.RunID,
	}
}

// RunID returns the identifier history rows are recorded under.
func (e *Engine) RunID() string { return e.runID }

// Run drives the plan until the cursor passes the last entry, then
// aggregates the final result. A cancelled context aborts between subtasks;
// everything recorded so far is persisted so the run directory stays
// inspectable.
func (e *Engine) Run(ctx context.Context) (models.RunResult, map[string]any, error) {
	started := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			e.saveContexts()
			return e.summarize(started), nil, err
		}

		st, dispatch, err := e.planner.NextSubtask()
		if err != nil {
			e.saveContexts()
			return e.summarize(started), nil, fmt.Errorf("select next subtask: %w", err)
		}
		if st == nil {
			break
		}

		e.log.LogTaskStart(*st, dispatch.Index, dispatch.Total)
		result := e.exec.ExecuteSubtask(ctx, *st, executor.Progress{
			CurrentIndex:   dispatch.Index,
			TotalTasks:     dispatch.Total,
			CompletedTasks: dispatch.Completed,
		})
		if err := e.log.LogTaskResult(result); err != nil {
			e.log.LogWarn(fmt.Sprintf("log result for %s: %v", st.ID, err))
		}

		adj, err := e.planner.ProcessResult(ctx, result)
		if err != nil {
			e.saveContexts()
			return e.summarize(started), nil, fmt.Errorf("process result for %s: %w", st.ID, err)
		}

		e.record(ctx, *st, result, adj)
		e.saveContexts()
	}

	final, err := e.planner.FinalResult(ctx)
	if err != nil {
		e.log.LogWarn(fmt.Sprintf("final result aggregation: %v", err))
	}

	run := e.summarize(started)
	e.log.LogSummary(run)
	return run, final, nil
}

// record writes the subtask's execution row and, when the plan changed, the
// adjustment row. History failures are logged, never fatal.
func (e *Engine) record(ctx context.Context, st models.Subtask, result models.ExecutionResult, adj models.Adjustment) {
	if e.hist == nil {
		return
	}

	rec := &history.ExecutionRecord{
		RunID:      e.runID,
		TaskID:     st.ID,
		TaskName:   st.Name,
		Success:    result.Success,
		Status:     string(result.TaskStatus),
		Error:      result.Error,
		Turns:      result.Turns,
		Duration:   result.Duration,
		ResultFile: result.ResultFile,
		Summary:    result.Result.Summary,
	}
	if err := e.hist.RecordExecution(ctx, rec); err != nil {
		e.log.LogWarn(fmt.Sprintf("record execution for %s: %v", st.ID, err))
	}

	if adj.Empty() {
		return
	}
	if err := e.hist.RecordAdjustment(ctx, &history.AdjustmentRecord{
		RunID:         e.runID,
		TriggerTaskID: st.ID,
		Reason:        adj.Reason,
		Inserted:      len(adj.InsertTasks),
		Removed:       len(adj.RemoveTaskIDs),
		Modified:      len(adj.ModifyTasks),
	}); err != nil {
		e.log.LogWarn(fmt.Sprintf("record adjustment for %s: %v", st.ID, err))
	}
}

func (e *Engine) saveContexts() {
	if err := e.contexts.SaveAll(); err != nil {
		e.log.LogWarn(fmt.Sprintf("save contexts: %v", err))
	}
}

func (e *Engine) summarize(started time.Time) models.RunResult {
	results := e.planner.Results()
	run := models.RunResult{
		TotalTasks: len(results),
		Duration:   time.Since(started),
		Results:    results,
	}
	for _, r := range results {
		if r.Success {
			run.Succeeded++
		} else {
			run.Failed++
		}
	}
	return run
}
