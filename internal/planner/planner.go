// Package planner owns the plan arena: the ordered subtask list, the
// dispatch cursor, context propagation between subtasks, dynamic plan
// mutation after each result, and final-result aggregation.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/harrison/orchestra/internal/contextmgr"
	"github.com/harrison/orchestra/internal/filelock"
	"github.com/harrison/orchestra/internal/logger"
	"github.com/harrison/orchestra/internal/models"
	"github.com/harrison/orchestra/internal/parser"
)

// PlanContextID is the id of the plan-level context. Every subtask context
// created at breakdown time is parented to it.
const PlanContextID = "planner"

// propagatedKeys is what flows from a finished dependency into the next
// task's local context. Later dependencies win on key conflicts because
// propagation runs in dependency-list order.
var propagatedKeys = []string{"success", "completion_time", "task_status"}

// Dispatch is the plan position of a subtask at the moment it is handed out.
type Dispatch struct {
	Index     int
	Total     int
	Completed []string
}

// Options configures a Planner. Zero values fall back to the rule-based
// collaborators and a no-op logger.
type Options struct {
	Logger     logger.Logger
	Adjuster   Adjuster
	Integrator Integrator
}

// Planner walks an ordered, mutable subtask list with a monotonically
// non-decreasing cursor. Entries before the cursor are dispatched and
// structurally frozen; entries at or after it may still be inserted,
// removed, or modified by plan adjustments. Thread-safe.
type Planner struct {
	mu         sync.Mutex
	contexts   *contextmgr.Manager
	log        logger.Logger
	adjuster   Adjuster
	integrator Integrator

	taskName     string
	analysis     string
	subtasks     []models.Subtask
	currentIndex int
	results      map[string]models.ExecutionResult
	planCtx      *contextmgr.TaskContext
}

// New creates a Planner bound to a context manager. The plan-level context
// is created immediately (or reattached, for a resumed run directory).
func New(contexts *contextmgr.Manager, opts Options) (*Planner, error) {
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	if opts.Adjuster == nil {
		opts.Adjuster = NoAdjuster{}
	}
	if opts.Integrator == nil {
		opts.Integrator = SummaryIntegrator{}
	}

	planCtx, err := contexts.CreateSubtaskContext("", PlanContextID, nil)
	if errors.Is(err, contextmgr.ErrDuplicateContext) {
		planCtx, err = contexts.TaskContext(PlanContextID)
	}
	if err != nil {
		return nil, fmt.Errorf("create plan context: %w", err)
	}

	return &Planner{
		contexts:   contexts,
		log:        opts.Logger,
		adjuster:   opts.Adjuster,
		integrator: opts.Integrator,
		results:    map[string]models.ExecutionResult{},
		planCtx:    planCtx,
	}, nil
}

// AnalyzeTask runs the decomposition-analysis phase and records its outcome
// in the plan context. The analysis feeds the subsequent BreakDown call.
func (p *Planner) AnalyzeTask(ctx context.Context, dec Decomposer, description string) (string, error) {
	analysis, err := dec.Analyze(ctx, description)
	if err != nil {
		return "", fmt.Errorf("analyze task: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.analysis = analysis
	p.planCtx.UpdateLocal("analysis", analysis)
	p.planCtx.AddExecutionRecord("analysis_completed", analysis, nil)
	return analysis, nil
}

// BreakDown asks the decomposer for the subtask list and installs it as the
// plan.
func (p *Planner) BreakDown(ctx context.Context, dec Decomposer, taskName, description string) error {
	p.mu.Lock()
	analysis := p.analysis
	p.mu.Unlock()

	subtasks, err := dec.BreakDown(ctx, description, analysis)
	if err != nil {
		return fmt.Errorf("break down task: %w", err)
	}
	return p.SetPlan(taskName, subtasks)
}

// SetPlan normalizes and validates the subtask list, prepares the output
// directories, and creates one context per subtask parented to the plan
// context. Installing a plan twice is an error.
func (p *Planner) SetPlan(taskName string, subtasks []models.Subtask) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.subtasks) > 0 {
		return fmt.Errorf("plan already installed")
	}

	normalized := parser.Normalize(subtasks)
	if err := parser.ValidatePlan(normalized); err != nil {
		return err
	}
	if err := p.contexts.CreateOutputDirectories(normalized); err != nil {
		return err
	}

	for _, st := range normalized {
		if _, err := p.contexts.CreateSubtaskContext(PlanContextID, st.ID, nil); err != nil {
			return fmt.Errorf("create context for %s: %w", st.ID, err)
		}
	}

	p.taskName = taskName
	p.subtasks = normalized
	p.contexts.SetGlobal("task_name", taskName)
	p.planCtx.UpdateLocal("plan", planIDs(normalized))
	p.planCtx.AddExecutionRecord("plan_created", fmt.Sprintf("%d subtasks", len(normalized)), map[string]any{
		"task_name": taskName,
	})
	return nil
}

// NextSubtask returns the subtask at the cursor, after resolving its
// context: propagation from declared dependencies (or, with none declared,
// from the immediately preceding subtask), input-file resolution, and a
// progress snapshot. The cursor advances on dispatch, not on completion.
// Returns a nil subtask once the plan is exhausted.
func (p *Planner) NextSubtask() (*models.Subtask, Dispatch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentIndex >= len(p.subtasks) {
		return nil, Dispatch{}, nil
	}
	st := p.subtasks[p.currentIndex]

	if err := p.propagateInto(st); err != nil {
		return nil, Dispatch{}, err
	}
	p.resolveInputRefs(st)

	completed := make([]string, 0, len(p.results))
	for id := range p.results {
		completed = append(completed, id)
	}
	if _, err := p.contexts.UpdateTaskContext(st.ID, map[string]any{
		"current_index":   p.currentIndex,
		"total_tasks":     len(p.subtasks),
		"completed_tasks": completed,
	}, false); err != nil {
		return nil, Dispatch{}, fmt.Errorf("record progress for %s: %w", st.ID, err)
	}

	dispatch := Dispatch{Index: p.currentIndex, Total: len(p.subtasks), Completed: completed}
	p.planCtx.AddExecutionRecord("subtask_prepared", st.ID, map[string]any{"index": p.currentIndex})
	p.currentIndex++

	out := st.Clone()
	return &out, dispatch, nil
}

// propagateInto carries finished-dependency context into st. Declared
// dependencies override positional chaining; with none declared the
// immediately preceding subtask is the fallback source. Dependencies
// without a recorded result yield partial context rather than an error.
func (p *Planner) propagateInto(st models.Subtask) error {
	sources := st.Dependencies
	if len(sources) == 0 && p.currentIndex > 0 {
		sources = []string{p.subtasks[p.currentIndex-1].ID}
	}

	depFiles := map[string]any{}
	for _, depID := range sources {
		if _, done := p.results[depID]; !done {
			p.log.LogDebug(fmt.Sprintf("dependency %s of %s has no result yet, propagating partial context", depID, st.ID))
			continue
		}

		if err := p.contexts.PropagateResults(depID, []string{st.ID}, contextmgr.PropagateOptions{
			Keys: propagatedKeys,
		}); err != nil {
			return fmt.Errorf("propagate %s into %s: %w", depID, st.ID, err)
		}

		if files := p.outputFileRefs(depID); len(files) > 0 {
			depFiles[depID] = files
		}
	}

	if len(depFiles) > 0 {
		if _, err := p.contexts.UpdateTaskContext(st.ID, map[string]any{"dependency_files": depFiles}, false); err != nil {
			return fmt.Errorf("record dependency files for %s: %w", st.ID, err)
		}
	}
	return nil
}

// outputFileRefs returns the declared-output file references a finished
// task registered, keyed by logical name.
func (p *Planner) outputFileRefs(taskID string) map[string]any {
	tc, err := p.contexts.TaskContext(taskID)
	if err != nil {
		return nil
	}
	files := map[string]any{}
	for name, ref := range tc.FileRefs {
		if role, _ := ref.Metadata["role"].(string); role == "output_file" {
			files[name] = ref.Path
		}
	}
	return files
}

// resolveInputRefs registers input_<name> file references on the task's
// context for every resolvable "<task_id>:<output_key>" input spec.
// Unresolvable specs are skipped; the task runs with partial input.
func (p *Planner) resolveInputRefs(st models.Subtask) {
	if len(st.InputFiles) == 0 {
		return
	}
	taskCtx, err := p.contexts.TaskContext(st.ID)
	if err != nil {
		return
	}

	mapping := map[string]any{}
	for name, spec := range st.InputFiles {
		sourceID, key, ok := strings.Cut(spec, ":")
		if !ok {
			mapping[name] = spec
			continue
		}
		sourceCtx, err := p.contexts.TaskContext(sourceID)
		if err != nil {
			p.log.LogDebug(fmt.Sprintf("input %s of %s references unknown task %s", name, st.ID, sourceID))
			continue
		}
		ref, present := sourceCtx.FileRefs[key]
		if !present {
			continue
		}
		taskCtx.AddFileReference("input_"+name, ref.Path, map[string]any{"source": spec})
		mapping[name] = ref.Path
	}
	if len(mapping) > 0 {
		taskCtx.UpdateLocal("input_files_mapping", mapping)
	}
}

// ProcessResult stores a subtask's result, folds its on-disk outputs into
// the task context, and unconditionally submits the execution summary to
// the adjustment judgment. The returned Adjustment reports what, if
// anything, was applied to the remaining plan.
func (p *Planner) ProcessResult(ctx context.Context, result models.ExecutionResult) (models.Adjustment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	taskCtx, err := p.contexts.TaskContext(result.TaskID)
	if err != nil {
		return models.Adjustment{}, fmt.Errorf("process result: %w", err)
	}

	p.mergeMainResult(taskCtx, &result)
	p.collectArtifactFiles(taskCtx)
	p.results[result.TaskID] = result

	p.planCtx.AddExecutionRecord("subtask_completed", result.TaskID, map[string]any{
		"success": result.Success,
		"status":  string(result.TaskStatus),
	})

	if result.Success && len(result.NextSteps) > 0 {
		p.persistDecision("suggestions_"+result.TaskID+".json", map[string]any{
			"task_id":    result.TaskID,
			"next_steps": result.NextSteps,
		})
		p.planCtx.AddExecutionRecord("next_steps_suggested", result.TaskID, map[string]any{
			"count": len(result.NextSteps),
		})
	}

	summary, err := p.contexts.GetExecutionSummary(result.TaskID)
	if err != nil {
		return models.Adjustment{}, fmt.Errorf("summarize %s: %w", result.TaskID, err)
	}

	adj, err := p.adjuster.Evaluate(ctx, *summary, p.remainingLocked())
	if err != nil {
		p.log.LogWarn(fmt.Sprintf("plan adjustment evaluation for %s failed: %v", result.TaskID, err))
		adj = models.Adjustment{}
	}
	p.persistDecision("adjustment_"+result.TaskID+".json", adj)

	if !adj.Empty() {
		p.applyAdjustment(result.TaskID, adj)
	}
	return adj, nil
}

// mergeMainResult reads the task's main result file and fills in summary
// and details the in-memory result is missing.
func (p *Planner) mergeMainResult(taskCtx *contextmgr.TaskContext, result *models.ExecutionResult) {
	if result.Result.Summary != "" {
		return
	}
	content, err := taskCtx.FileContent("result_file")
	if err != nil {
		return
	}
	doc, ok := content.(map[string]any)
	if !ok {
		return
	}
	if inner, ok := doc["result"].(map[string]any); ok {
		if s, ok := inner["summary"].(string); ok {
			result.Result.Summary = s
		}
		if d, ok := inner["details"].(string); ok && result.Result.Details == "" {
			result.Result.Details = d
		}
	}
}

// collectArtifactFiles registers every file the worker left in the task's
// result directory beyond its declared outputs and the engine's own records.
func (p *Planner) collectArtifactFiles(taskCtx *contextmgr.TaskContext) {
	if taskCtx.BaseDir == "" {
		return
	}

	known := map[string]bool{}
	for _, ref := range taskCtx.FileRefs {
		known[ref.Path] = true
	}

	_ = filepath.WalkDir(taskCtx.BaseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		if known[path] || name == "execution.json" || strings.HasSuffix(name, "_error.log") {
			return nil
		}
		rel, relErr := filepath.Rel(taskCtx.BaseDir, path)
		if relErr != nil {
			rel = name
		}
		refName := "artifact_" + strings.ReplaceAll(rel, string(os.PathSeparator), "_")
		taskCtx.AddFileReference(refName, path, map[string]any{
			"role":     "artifact_file",
			"rel_path": rel,
		})
		return nil
	})
}

// applyAdjustment mutates the remaining plan. Removes and modifies that
// target an already-dispatched index are logged and skipped; an insert at
// the cursor becomes the next dispatch, and no dispatched entry ever runs
// twice. Callers hold p.mu.
func (p *Planner) applyAdjustment(triggerTaskID string, adj models.Adjustment) {
	p.planCtx.AddExecutionRecord("plan_adjustment_started", adj.Reason, map[string]any{
		"trigger":       triggerTaskID,
		"original_plan": planIDs(p.subtasks[p.currentIndex:]),
	})

	removed := 0
	for _, id := range adj.RemoveTaskIDs {
		i := p.indexOf(id)
		switch {
		case i < 0:
			p.log.LogWarn(fmt.Sprintf("plan adjustment: cannot remove unknown task %s", id))
		case i < p.currentIndex:
			p.log.LogWarn(fmt.Sprintf("plan adjustment: task %s already dispatched, remove skipped", id))
		default:
			p.subtasks = append(p.subtasks[:i], p.subtasks[i+1:]...)
			removed++
		}
	}

	modified := 0
	for _, mt := range adj.ModifyTasks {
		i := p.indexOf(mt.ID)
		switch {
		case i < 0:
			p.log.LogWarn(fmt.Sprintf("plan adjustment: cannot modify unknown task %s", mt.ID))
		case i < p.currentIndex:
			p.log.LogWarn(fmt.Sprintf("plan adjustment: task %s already dispatched, modify skipped", mt.ID))
		default:
			p.subtasks[i] = parser.Normalize([]models.Subtask{mt})[0]
			p.updateContext(mt.ID, map[string]any{
				"modified_from_adjustment": true,
				"adjustment_reason":        adj.Reason,
			})
			modified++
		}
	}

	inserted := 0
	for _, ins := range adj.InsertTasks {
		st := ins.Subtask
		if st.ID == "" {
			st.ID = "task_adj_" + uuid.NewString()[:8]
		}
		if p.indexOf(st.ID) >= 0 {
			p.log.LogWarn(fmt.Sprintf("plan adjustment: task %s already in plan, insert skipped", st.ID))
			continue
		}
		st = parser.Normalize([]models.Subtask{st})[0]
		if err := st.Validate(); err != nil {
			p.log.LogWarn(fmt.Sprintf("plan adjustment: inserted task %s invalid, skipped: %v", st.ID, err))
			continue
		}

		if _, err := p.contexts.CreateSubtaskContext(triggerTaskID, st.ID, nil); err != nil && !errors.Is(err, contextmgr.ErrDuplicateContext) {
			p.log.LogWarn(fmt.Sprintf("plan adjustment: create context for %s: %v", st.ID, err))
			continue
		}
		p.updateContext(st.ID, map[string]any{
			"created_from_adjustment": true,
			"adjustment_reason":       adj.Reason,
			"parent_task":             triggerTaskID,
		})

		idx := p.currentIndex
		if ins.InsertIndex != nil {
			idx = *ins.InsertIndex
		}
		if idx < 0 {
			idx = 0
		}
		if idx > len(p.subtasks) {
			idx = len(p.subtasks)
		}

		p.subtasks = append(p.subtasks, models.Subtask{})
		copy(p.subtasks[idx+1:], p.subtasks[idx:])
		p.subtasks[idx] = st
		// An insert at the cursor becomes the next dispatch; an insert
		// strictly before it shifts the dispatched region, so the cursor
		// moves with it to keep pointing at the same logical next task.
		if idx < p.currentIndex {
			p.currentIndex++
		}
		inserted++
	}

	p.planCtx.UpdateLocal("adjusted_plan", planIDs(p.subtasks[p.currentIndex:]))
	p.planCtx.AddExecutionRecord("plan_adjustment_completed", adj.Reason, map[string]any{
		"trigger":  triggerTaskID,
		"inserted": inserted,
		"removed":  removed,
		"modified": modified,
	})
	p.log.LogPlanAdjusted(triggerTaskID, adj.Reason, inserted, removed, modified)
}

// IsComplete reports whether every plan entry has been dispatched.
func (p *Planner) IsComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentIndex >= len(p.subtasks)
}

// Remaining returns a copy of the not-yet-dispatched portion of the plan.
func (p *Planner) Remaining() []models.Subtask {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remainingLocked()
}

func (p *Planner) remainingLocked() []models.Subtask {
	remaining := make([]models.Subtask, 0, len(p.subtasks)-p.currentIndex)
	for _, st := range p.subtasks[p.currentIndex:] {
		remaining = append(remaining, st.Clone())
	}
	return remaining
}

// Results returns a copy of the per-task results recorded so far.
func (p *Planner) Results() map[string]models.ExecutionResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]models.ExecutionResult, len(p.results))
	for id, r := range p.results {
		out[id] = r
	}
	return out
}

// TaskName returns the name the plan was installed under.
func (p *Planner) TaskName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.taskName
}

// FinalResult aggregates every subtask's context and result through the
// integrator, records the outcome in the plan context, and persists it as
// final_result.json. Integration failures fall back to the rule-based
// aggregation so a final result is always produced.
func (p *Planner) FinalResult(ctx context.Context) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	taskContexts := map[string]*contextmgr.TaskContext{}
	for id := range p.results {
		if tc, err := p.contexts.TaskContext(id); err == nil {
			taskContexts[id] = tc
		}
	}

	final, err := p.integrator.Integrate(ctx, p.taskName, taskContexts, p.results)
	if err != nil || final == nil {
		if err != nil {
			p.log.LogWarn(fmt.Sprintf("result integration failed, using aggregate summary: %v", err))
		}
		final, _ = SummaryIntegrator{}.Integrate(ctx, p.taskName, taskContexts, p.results)
	}

	p.planCtx.UpdateLocal("final_result", final)
	p.planCtx.AddExecutionRecord("integration_completed", "final result generated", nil)

	if dir := p.contexts.ContextDir(); dir != "" {
		path := filepath.Join(dir, "final_result.json")
		if data, err := json.MarshalIndent(final, "", "  "); err == nil {
			if err := filelock.AtomicWrite(path, data); err != nil {
				p.log.LogWarn(fmt.Sprintf("write final result: %v", err))
			} else {
				p.planCtx.AddFileReference("final_result_file", path, map[string]any{"type": "data"})
			}
		}
	}

	if err := p.contexts.SaveAll(); err != nil {
		p.log.LogWarn(fmt.Sprintf("save contexts: %v", err))
	}
	return final, nil
}

// persistDecision writes an adjustment or suggestion record into the run's
// state directory. Callers hold p.mu.
func (p *Planner) persistDecision(filename string, v any) {
	dir := p.contexts.ContextDir()
	if dir == "" {
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	if err := filelock.AtomicWrite(filepath.Join(dir, filename), data); err != nil {
		p.log.LogWarn(fmt.Sprintf("write %s: %v", filename, err))
	}
}

func (p *Planner) updateContext(taskID string, updates map[string]any) {
	if _, err := p.contexts.UpdateTaskContext(taskID, updates, false); err != nil {
		p.log.LogWarn(fmt.Sprintf("update context for %s: %v", taskID, err))
	}
}

func (p *Planner) indexOf(taskID string) int {
	for i, st := range p.subtasks {
		if st.ID == taskID {
			return i
		}
	}
	return -1
}

func planIDs(subtasks []models.Subtask) []string {
	ids := make([]string, 0, len(subtasks))
	for _, st := range subtasks {
		ids = append(ids, st.ID)
	}
	return ids
}
