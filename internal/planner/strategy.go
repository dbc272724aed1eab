package planner

import (
	"context"
	"fmt"

	"github.com/harrison/orchestra/internal/contextmgr"
	"github.com/harrison/orchestra/internal/models"
)

// Decomposer turns a task description into an ordered subtask list. The
// production implementation is an external model call; rule-based
// implementations exist so the engine runs without one.
type Decomposer interface {
	// Analyze produces a free-form analysis of the task that BreakDown may
	// use to inform decomposition.
	Analyze(ctx context.Context, description string) (string, error)

	// BreakDown returns the ordered subtask list for the task.
	BreakDown(ctx context.Context, description, analysis string) ([]models.Subtask, error)
}

// Adjuster decides, after each subtask result, whether the remaining plan
// must change. It sees a read-only execution summary and a copy of the
// not-yet-dispatched portion of the plan.
type Adjuster interface {
	Evaluate(ctx context.Context, summary contextmgr.ExecutionSummary, remaining []models.Subtask) (models.Adjustment, error)
}

// Integrator folds every subtask's context and result into the final
// aggregated result.
type Integrator interface {
	Integrate(ctx context.Context, taskName string, contexts map[string]*contextmgr.TaskContext, results map[string]models.ExecutionResult) (map[string]any, error)
}

// StaticDecomposer serves a predefined subtask list, used when the plan
// comes from a subtask file instead of a decomposition call.
type StaticDecomposer struct {
	Subtasks []models.Subtask
}

func (d StaticDecomposer) Analyze(_ context.Context, _ string) (string, error) {
	return fmt.Sprintf("predefined plan with %d subtasks", len(d.Subtasks)), nil
}

func (d StaticDecomposer) BreakDown(_ context.Context, _, _ string) ([]models.Subtask, error) {
	if len(d.Subtasks) == 0 {
		return nil, fmt.Errorf("predefined plan contains no subtasks")
	}
	return d.Subtasks, nil
}

// SingleTaskDecomposer wraps the whole description into one subtask. It is
// the rule-based fallback when no decomposition collaborator is configured.
type SingleTaskDecomposer struct{}

func (SingleTaskDecomposer) Analyze(_ context.Context, description string) (string, error) {
	return "task executed as a single unit: " + description, nil
}

func (SingleTaskDecomposer) BreakDown(_ context.Context, description, _ string) ([]models.Subtask, error) {
	return []models.Subtask{{
		ID:          "task_1",
		Name:        "Complete task",
		Description: description,
		Instruction: description,
	}}, nil
}

// NoAdjuster never requests a plan change. The plan-adjustment judgment is
// an external collaborator; this default keeps the evaluation hook in the
// control flow without consulting anything.
type NoAdjuster struct{}

func (NoAdjuster) Evaluate(_ context.Context, _ contextmgr.ExecutionSummary, _ []models.Subtask) (models.Adjustment, error) {
	return models.Adjustment{}, nil
}

// SummaryIntegrator builds the final result by aggregation alone: overall
// success, a count-based summary, and every subtask's success flag and
// error text.
type SummaryIntegrator struct{}

func (SummaryIntegrator) Integrate(_ context.Context, taskName string, _ map[string]*contextmgr.TaskContext, results map[string]models.ExecutionResult) (map[string]any, error) {
	succeeded := 0
	subtaskResults := make(map[string]any, len(results))
	for id, res := range results {
		if res.Success {
			succeeded++
		}
		subtaskResults[id] = map[string]any{
			"success": res.Success,
			"error":   res.Error,
			"summary": res.Result.Summary,
		}
	}

	return map[string]any{
		"task_id": "final_result",
		"success": len(results) > 0 && succeeded == len(results),
		"result": map[string]any{
			"summary": fmt.Sprintf("%s: %d of %d subtasks succeeded", taskName, succeeded, len(results)),
		},
		"subtask_results": subtaskResults,
	}, nil
}
