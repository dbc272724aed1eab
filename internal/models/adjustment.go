package models

// InsertTask describes a subtask to splice into the remaining plan.
// InsertIndex is the list position to insert at; nil means "at the cursor",
// i.e. the new task becomes the next one dispatched.
type InsertTask struct {
	Subtask     Subtask `json:"task"`
	InsertIndex *int    `json:"insert_index,omitempty"`
}

// Adjustment is the directive returned by the plan-adjustment judgment after
// each subtask result. Remove and modify requests targeting already-dispatched
// entries are no-ops; the planner logs and skips them.
type Adjustment struct {
	NeedsAdjustment bool         `json:"needs_adjustment"`
	Reason          string       `json:"reason,omitempty"`
	InsertTasks     []InsertTask `json:"insert_tasks,omitempty"`
	RemoveTaskIDs   []string     `json:"remove_task_ids,omitempty"`
	ModifyTasks     []Subtask    `json:"modify_tasks,omitempty"`
}

// Empty reports whether the adjustment requests no plan mutation.
func (a Adjustment) Empty() bool {
	return !a.NeedsAdjustment ||
		(len(a.InsertTasks) == 0 && len(a.RemoveTaskIDs) == 0 && len(a.ModifyTasks) == 0)
}
