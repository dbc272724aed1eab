package models

import "testing"

func validSubtask() Subtask {
	return Subtask{
		ID:          "task_1",
		Name:        "Build module",
		Instruction: "Create the module file",
		OutputFiles: map[string]string{
			MainResultKey: "results/task_1/result.json",
		},
	}
}

func TestSubtask_Validate(t *testing.T) {
	st := validSubtask()
	if err := st.Validate(); err != nil {
		t.Errorf("expected valid subtask, got: %v", err)
	}
}

func TestSubtask_Validate_RequiresID(t *testing.T) {
	st := validSubtask()
	st.ID = ""
	if err := st.Validate(); err == nil {
		t.Error("expected error for missing id")
	}
}

func TestSubtask_Validate_RequiresInstruction(t *testing.T) {
	st := validSubtask()
	st.Instruction = ""
	if err := st.Validate(); err == nil {
		t.Error("expected error for missing instruction")
	}
}

func TestSubtask_Validate_RequiresMainResult(t *testing.T) {
	st := validSubtask()
	st.OutputFiles = map[string]string{"report": "results/task_1/report.md"}
	if err := st.Validate(); err == nil {
		t.Error("expected error for missing main_result output")
	}

	st.OutputFiles = nil
	if err := st.Validate(); err == nil {
		t.Error("expected error for nil output_files")
	}
}

func TestSubtask_Clone_IsDeep(t *testing.T) {
	st := validSubtask()
	st.Dependencies = []string{"task_0"}
	st.InputFiles = map[string]string{"data": "task_0:main_result"}

	clone := st.Clone()
	clone.Dependencies[0] = "other"
	clone.InputFiles["data"] = "changed"
	clone.OutputFiles[MainResultKey] = "changed"

	if st.Dependencies[0] != "task_0" {
		t.Error("clone shares dependencies slice")
	}
	if st.InputFiles["data"] != "task_0:main_result" {
		t.Error("clone shares input_files map")
	}
	if st.OutputFiles[MainResultKey] != "results/task_1/result.json" {
		t.Error("clone shares output_files map")
	}
}

func TestHasCyclicDependencies(t *testing.T) {
	acyclic := []Subtask{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"a", "b"}},
	}
	if HasCyclicDependencies(acyclic) {
		t.Error("expected no cycle")
	}

	cyclic := []Subtask{
		{ID: "a", Dependencies: []string{"c"}},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"b"}},
	}
	if !HasCyclicDependencies(cyclic) {
		t.Error("expected cycle to be detected")
	}

	selfRef := []Subtask{{ID: "a", Dependencies: []string{"a"}}}
	if !HasCyclicDependencies(selfRef) {
		t.Error("expected self-reference to be a cycle")
	}

	// Dependencies on unknown ids are ignored, not cycles.
	dangling := []Subtask{{ID: "a", Dependencies: []string{"ghost"}}}
	if HasCyclicDependencies(dangling) {
		t.Error("dangling dependency must not be a cycle")
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	terminal := []TaskStatus{StatusCompleted, StatusNeedsMoreInfo, StatusError, StatusNeedsVerification}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if StatusContinue.Terminal() {
		t.Error("CONTINUE must not be terminal")
	}
}

func TestAdjustment_Empty(t *testing.T) {
	if !(Adjustment{}).Empty() {
		t.Error("zero adjustment should be empty")
	}
	if !(Adjustment{NeedsAdjustment: true}).Empty() {
		t.Error("needs_adjustment with no mutations should be empty")
	}
	adj := Adjustment{NeedsAdjustment: true, RemoveTaskIDs: []string{"x"}}
	if adj.Empty() {
		t.Error("adjustment with removals should not be empty")
	}
}
