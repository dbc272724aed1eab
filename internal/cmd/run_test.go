package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runTestPlan = `{
  "task_name": "demo",
  "subtasks": [
    {
      "id": "task_1",
      "name": "Produce report",
      "instruction": "Write the report",
      "output_files": {"main_result": "results/task_1/result.json"}
    }
  ]
}`

func writeRunFixture(t *testing.T) (planPath, stateDir string) {
	t.Helper()
	dir := t.TempDir()
	planPath = filepath.Join(dir, "subtasks.json")
	require.NoError(t, os.WriteFile(planPath, []byte(runTestPlan), 0644))
	return planPath, filepath.Join(dir, "state")
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	root := NewRootCommand()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	return root.Execute()
}

func TestRunCommand_LocalBackendVerifiesExistingOutputs(t *testing.T) {
	planPath, stateDir := writeRunFixture(t)

	// The local backend performs no generation, so the declared output must
	// already exist for the subtask to verify.
	outputPath := filepath.Join(stateDir, "results", "task_1", "result.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(outputPath), 0755))
	require.NoError(t, os.WriteFile(outputPath, []byte(`{"task_id":"task_1","success":true,"result":{"summary":"prepared by hand"}}`), 0644))

	err := execute(t, "run", planPath,
		"--state-dir", stateDir,
		"--backend", "local",
		"--config", filepath.Join(stateDir, "no-such-config.yaml"))
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(stateDir, "final_result.json"))
	assert.FileExists(t, filepath.Join(stateDir, "global_context.json"))
	assert.FileExists(t, filepath.Join(stateDir, "history.db"))
}

func TestRunCommand_MissingOutputsFailTheRun(t *testing.T) {
	planPath, stateDir := writeRunFixture(t)

	err := execute(t, "run", planPath,
		"--state-dir", stateDir,
		"--backend", "local",
		"--config", filepath.Join(stateDir, "no-such-config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 subtasks failed")

	// Declared outputs are never synthesized on failure.
	_, statErr := os.Stat(filepath.Join(stateDir, "results", "task_1", "result.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunCommand_RequiresPlanOrTask(t *testing.T) {
	err := execute(t, "run", "--state-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--task")
}

func TestRunCommand_RejectsUnknownBackend(t *testing.T) {
	planPath, stateDir := writeRunFixture(t)

	err := execute(t, "run", planPath, "--state-dir", stateDir, "--backend", "teleport")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend")
}

func TestPlanCommand_NormalizesDraftFile(t *testing.T) {
	dir := t.TempDir()
	draft := filepath.Join(dir, "draft.yaml")
	require.NoError(t, os.WriteFile(draft, []byte("subtasks:\n  - description: collect the data\n  - description: build the summary\n"), 0644))
	out := filepath.Join(dir, "subtasks.json")

	require.NoError(t, execute(t, "plan", draft, "--out", out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"task_1"`)
	assert.Contains(t, string(data), `"task_2"`)
	assert.Contains(t, string(data), "results/task_1/result.json")
}

func TestPlanCommand_DecomposesTaskDescription(t *testing.T) {
	var buf bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&buf)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"plan", "--task", "archive last year's logs"})
	require.NoError(t, root.Execute())

	assert.Contains(t, buf.String(), `"task_1"`)
	assert.Contains(t, buf.String(), "archive last year's logs")
}
