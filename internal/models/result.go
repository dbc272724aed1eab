package models

import "time"

// TaskStatus is the terminal (or intermediate) classification of a worker
// response turn.
type TaskStatus string

// Classifier statuses. NEEDS_VERIFICATION is the classifier-free fallback:
// it defers the completion decision to output-file verification instead of
// assuming success.
const (
	StatusCompleted         TaskStatus = "COMPLETED"
	StatusNeedsMoreInfo     TaskStatus = "NEEDS_MORE_INFO"
	StatusContinue          TaskStatus = "CONTINUE"
	StatusError             TaskStatus = "ERROR"
	StatusNeedsVerification TaskStatus = "NEEDS_VERIFICATION"
)

// Terminal reports whether the status ends the interaction loop.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusNeedsMoreInfo, StatusError, StatusNeedsVerification:
		return true
	}
	return false
}

// StructuredResult is the summary/details pair every execution result carries.
type StructuredResult struct {
	Summary string `json:"summary"`
	Details string `json:"details,omitempty"`
}

// ExecutionResult is the outcome of executing one subtask against a backend.
type ExecutionResult struct {
	TaskID     string            `json:"task_id"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Output     string            `json:"output,omitempty"`
	Result     StructuredResult  `json:"result"`
	Artifacts  map[string]string `json:"artifacts,omitempty"`
	TaskStatus TaskStatus        `json:"task_status,omitempty"`
	Turns      int               `json:"turns,omitempty"`
	Duration   time.Duration     `json:"-"`
	ResultFile string            `json:"result_file,omitempty"`
	NextSteps  []string          `json:"next_steps,omitempty"`
}

// FailureResult builds a failed ExecutionResult with a consistent shape.
// The engine never synthesizes output files on failure; this is an in-memory
// record only.
func FailureResult(taskID, errMsg string) ExecutionResult {
	return ExecutionResult{
		TaskID:  taskID,
		Success: false,
		Error:   errMsg,
		Result: StructuredResult{
			Summary: "task execution failed: " + errMsg,
		},
	}
}

// RunResult is the aggregate outcome of driving a plan to completion.
type RunResult struct {
	TotalTasks int
	Succeeded  int
	Failed     int
	Duration   time.Duration
	Results    map[string]ExecutionResult
}
