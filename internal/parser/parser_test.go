package parser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harrison/orchestra/internal/models"
)

const jsonPlan = `{
  "task_name": "build service",
  "subtasks": [
    {
      "id": "task_1",
      "name": "Design API",
      "instruction": "Write the API design document",
      "output_files": {"main_result": "results/task_1/result.json", "design": "results/task_1/design.md"}
    },
    {
      "id": "task_2",
      "name": "Implement API",
      "instruction": "Implement the designed API",
      "dependencies": ["task_1"],
      "output_files": {"main_result": "results/task_2/result.json"}
    }
  ]
}`

func TestParseJSON_Document(t *testing.T) {
	plan, err := ParseJSON([]byte(jsonPlan))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if plan.TaskName != "build service" {
		t.Errorf("task name = %q", plan.TaskName)
	}
	if len(plan.Subtasks) != 2 {
		t.Fatalf("subtasks = %d", len(plan.Subtasks))
	}
	if plan.Subtasks[1].Dependencies[0] != "task_1" {
		t.Errorf("dependencies = %v", plan.Subtasks[1].Dependencies)
	}
}

func TestParseJSON_BareArray(t *testing.T) {
	data := `[{"name": "Only task", "instruction": "do it"}]`
	plan, err := ParseJSON([]byte(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	st := plan.Subtasks[0]
	if st.ID != "task_1" {
		t.Errorf("normalized id = %q", st.ID)
	}
	if st.OutputFiles[models.MainResultKey] != "results/task_1/result.json" {
		t.Errorf("default main result = %q", st.OutputFiles[models.MainResultKey])
	}
}

func TestParseYAML(t *testing.T) {
	data := `
task_name: docs refresh
subtasks:
  - id: task_1
    name: Audit docs
    instruction: Find stale documentation
    output_files:
      main_result: results/task_1/result.json
  - name: Rewrite docs
    description: Rewrite everything the audit flagged
    dependencies: [task_1]
`
	plan, err := ParseYAML([]byte(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	second := plan.Subtasks[1]
	if second.ID != "task_2" {
		t.Errorf("id = %q", second.ID)
	}
	if second.Instruction != "Rewrite everything the audit flagged" {
		t.Errorf("instruction should fall back to description, got %q", second.Instruction)
	}
}

func TestLoadFile_DispatchesOnExtension(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "plan.json")
	if err := os.WriteFile(jsonPath, []byte(jsonPlan), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(jsonPath); err != nil {
		t.Errorf("load json: %v", err)
	}

	yamlPath := filepath.Join(dir, "plan.yaml")
	yamlData := "subtasks:\n  - name: A\n    instruction: do a\n"
	if err := os.WriteFile(yamlPath, []byte(yamlData), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(yamlPath); err != nil {
		t.Errorf("load yaml: %v", err)
	}
}

func TestParse_RejectsEmptyPlan(t *testing.T) {
	if _, err := ParseJSON([]byte(`{"subtasks": []}`)); err == nil {
		t.Error("empty plan should be rejected")
	}
}

func TestParse_RejectsDuplicateIDs(t *testing.T) {
	data := `[
	  {"id": "task_1", "name": "A", "instruction": "a"},
	  {"id": "task_1", "name": "B", "instruction": "b"}
	]`
	_, err := ParseJSON([]byte(data))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("expected duplicate id error, got %v", err)
	}
}

func TestParse_RejectsUnknownDependency(t *testing.T) {
	data := `[{"id": "task_1", "name": "A", "instruction": "a", "dependencies": ["ghost"]}]`
	_, err := ParseJSON([]byte(data))
	if err == nil || !strings.Contains(err.Error(), "unknown task") {
		t.Errorf("expected unknown dependency error, got %v", err)
	}
}

func TestParse_RejectsCycles(t *testing.T) {
	data := `[
	  {"id": "task_1", "name": "A", "instruction": "a", "dependencies": ["task_2"]},
	  {"id": "task_2", "name": "B", "instruction": "b", "dependencies": ["task_1"]}
	]`
	_, err := ParseJSON([]byte(data))
	if err == nil || !strings.Contains(err.Error(), "cyclic") {
		t.Errorf("expected cycle error, got %v", err)
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	in := []models.Subtask{{Name: "A", Instruction: "a"}}
	out := Normalize(in)
	if in[0].ID != "" {
		t.Error("input slice was mutated")
	}
	if out[0].ID != "task_1" {
		t.Errorf("output id = %q", out[0].ID)
	}
}
