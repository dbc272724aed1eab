package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/orchestra/internal/contextmgr"
	"github.com/harrison/orchestra/internal/interaction"
	"github.com/harrison/orchestra/internal/models"
)

// fnWorker delegates Send to a closure.
type fnWorker struct {
	send func(ctx context.Context, message string) (string, error)
}

func (w *fnWorker) Send(ctx context.Context, message string) (string, error) {
	return w.send(ctx, message)
}
func (w *fnWorker) Close() error { return nil }

// fakeBackend hands out a fixed worker.
type fakeBackend struct {
	worker interaction.Worker
}

func (b *fakeBackend) NewWorker(_ context.Context, _ models.Subtask, _ string) (interaction.Worker, error) {
	return b.worker, nil
}

func testSubtask(id string) models.Subtask {
	return models.Subtask{
		ID:          id,
		Name:        "Write report",
		Instruction: "Write the quarterly report",
		OutputFiles: map[string]string{
			models.MainResultKey: "results/" + id + "/result.json",
			"report":             "results/" + id + "/report.md",
		},
		SuccessCriteria: []string{"report covers all four quarters"},
	}
}

func newTestExecutor(t *testing.T, backend Backend, classifier interaction.Classifier) (*Executor, *contextmgr.Manager, string) {
	t.Helper()
	dir := t.TempDir()
	contexts, err := contextmgr.NewManager(dir)
	require.NoError(t, err)
	driver := interaction.NewDriver(classifier, nil)
	exec := New(backend, driver, contexts, nil, Options{
		DefaultTimeout:  5 * time.Second,
		DefaultMaxTurns: 3,
		WorkDir:         dir,
	})
	return exec, contexts, dir
}

func TestExecuteSubtask_SuccessWithVerifiedOutputs(t *testing.T) {
	subtask := testSubtask("task_1")

	var exec *Executor
	worker := &fnWorker{send: func(_ context.Context, _ string) (string, error) {
		// Simulate a worker that creates its declared files on disk.
		for _, declared := range subtask.OutputFiles {
			path := exec.resolveAbs(declared)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
			require.NoError(t, os.WriteFile(path, []byte(`{"summary":"wrote the report"}`), 0644))
		}
		return "I created the files.\n\n```json\n{\"task_id\":\"task_1\",\"success\":true,\"result\":{\"summary\":\"report written\",\"details\":\"four quarters covered\"}}\n```\n\nTASK_STATUS: COMPLETED", nil
	}}

	var contexts *contextmgr.Manager
	exec, contexts, _ = newTestExecutor(t, &fakeBackend{worker: worker}, interaction.MarkerClassifier{})

	result := exec.ExecuteSubtask(context.Background(), subtask, Progress{CurrentIndex: 0, TotalTasks: 2})

	assert.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, models.StatusCompleted, result.TaskStatus)
	assert.Equal(t, "report written", result.Result.Summary)
	assert.Equal(t, 1, result.Turns)
	assert.FileExists(t, result.ResultFile, "engine execution record should be written")

	tc, err := contexts.TaskContext("task_1")
	require.NoError(t, err)
	assert.Contains(t, tc.FileRefs, "report")
	assert.Contains(t, tc.FileRefs, "result_file")
	assert.Equal(t, true, tc.LocalContext["success"])
}

func TestExecuteSubtask_MissingOutputsIsHardFailure(t *testing.T) {
	subtask := testSubtask("task_1")

	worker := &fnWorker{send: func(_ context.Context, _ string) (string, error) {
		// Claims completion but creates nothing.
		return "All done!\nTASK_STATUS: COMPLETED", nil
	}}
	exec, contexts, _ := newTestExecutor(t, &fakeBackend{worker: worker}, interaction.MarkerClassifier{})

	result := exec.ExecuteSubtask(context.Background(), subtask, Progress{TotalTasks: 1})

	require.False(t, result.Success)
	assert.Equal(t, models.StatusError, result.TaskStatus)
	// The failure names each missing output as "name: path".
	assert.Contains(t, result.Error, "main_result: ")
	assert.Contains(t, result.Error, "report: ")

	// The engine must not synthesize the declared outputs.
	for _, declared := range subtask.OutputFiles {
		_, err := os.Stat(exec.resolveAbs(declared))
		assert.True(t, os.IsNotExist(err), "declared output %s must not be synthesized", declared)
	}

	// Failure details land in an error log next to the results.
	tc, err := contexts.TaskContext("task_1")
	require.NoError(t, err)
	ref, ok := tc.FileRefs["error_log"]
	require.True(t, ok)
	assert.FileExists(t, ref.Path)
}

func TestExecuteSubtask_NeedsMoreInfoFails(t *testing.T) {
	worker := &fnWorker{send: func(_ context.Context, _ string) (string, error) {
		return "Which database should I target?\nTASK_STATUS: NEEDS_MORE_INFO", nil
	}}
	exec, _, _ := newTestExecutor(t, &fakeBackend{worker: worker}, interaction.MarkerClassifier{})

	result := exec.ExecuteSubtask(context.Background(), testSubtask("task_1"), Progress{TotalTasks: 1})

	require.False(t, result.Success)
	assert.Equal(t, models.StatusNeedsMoreInfo, result.TaskStatus)
	assert.Contains(t, result.Output, "Which database")
}

func TestExecuteSubtask_TurnExhaustionFailsDespiteOutputs(t *testing.T) {
	subtask := testSubtask("task_1")
	subtask.MaxTurns = 2

	var exec *Executor
	worker := &fnWorker{send: func(_ context.Context, _ string) (string, error) {
		// Creates its declared files but never reaches a terminal status.
		for _, declared := range subtask.OutputFiles {
			path := exec.resolveAbs(declared)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
			require.NoError(t, os.WriteFile(path, []byte(`{"summary":"partial"}`), 0644))
		}
		return "still working\nTASK_STATUS: CONTINUE", nil
	}}
	exec, contexts, _ := newTestExecutor(t, &fakeBackend{worker: worker}, interaction.MarkerClassifier{})

	result := exec.ExecuteSubtask(context.Background(), subtask, Progress{TotalTasks: 1})

	require.False(t, result.Success, "existing outputs must not rescue an exhausted turn budget")
	assert.Equal(t, models.StatusError, result.TaskStatus)
	assert.Contains(t, result.Error, "turn budget")
	assert.Contains(t, result.Output, "still working", "partial output must survive exhaustion")
	assert.Equal(t, 2, result.Turns)

	tc, err := contexts.TaskContext("task_1")
	require.NoError(t, err)
	_, ok := tc.FileRefs["error_log"]
	assert.True(t, ok)
}

func TestExecuteSubtask_TimeoutPreservesPartialOutput(t *testing.T) {
	calls := 0
	worker := &fnWorker{send: func(ctx context.Context, _ string) (string, error) {
		calls++
		if calls == 1 {
			return "first chunk of work\nTASK_STATUS: CONTINUE", nil
		}
		<-ctx.Done()
		return "", ctx.Err()
	}}

	subtask := testSubtask("task_1")
	subtask.TimeoutSecs = 1
	subtask.MaxTurns = 5

	exec, _, _ := newTestExecutor(t, &fakeBackend{worker: worker}, interaction.MarkerClassifier{})
	result := exec.ExecuteSubtask(context.Background(), subtask, Progress{TotalTasks: 1})

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "timed out")
	assert.Contains(t, result.Output, "first chunk of work", "partial output must survive a timeout")
}

func TestBuildPrompt_Sections(t *testing.T) {
	dir := t.TempDir()
	contexts, err := contextmgr.NewManager(dir)
	require.NoError(t, err)

	subtask := testSubtask("task_2")
	taskCtx, err := contexts.CreateSubtaskContext("", "task_2", nil)
	require.NoError(t, err)

	prompt := buildPrompt(subtask, taskCtx, contexts, Progress{CurrentIndex: 1, TotalTasks: 3, CompletedTasks: []string{"task_1"}}, dir)

	assert.Contains(t, prompt, "# Task: Write report")
	assert.Contains(t, prompt, filepath.Join(dir, "results", "task_2", "result.json"), "output paths must be absolute")
	assert.Contains(t, prompt, "Current task: 2/3")
	assert.Contains(t, prompt, "report covers all four quarters")
	assert.Contains(t, prompt, "TASK_STATUS")
	assert.True(t, strings.Contains(prompt, `"task_id": "task_2"`), "main result JSON schema should name the task")
}

func TestResolveInputFiles_TaskReferences(t *testing.T) {
	dir := t.TempDir()
	contexts, err := contextmgr.NewManager(dir)
	require.NoError(t, err)

	source, err := contexts.CreateSubtaskContext("", "task_1", nil)
	require.NoError(t, err)
	source.AddFileReference("main_result", "/abs/results/task_1/result.json", nil)

	subtask := testSubtask("task_2")
	subtask.InputFiles = map[string]string{
		"design":  "task_1:main_result",
		"ghost":   "task_9:main_result",
		"literal": "/data/fixed.json",
	}

	resolved := resolveInputFiles(subtask, contexts)
	assert.Equal(t, "/abs/results/task_1/result.json", resolved["design"])
	assert.Equal(t, "/data/fixed.json", resolved["literal"])
	_, ok := resolved["ghost"]
	assert.False(t, ok, "unresolvable references are dropped, not errors")
}

func TestParseWorkerOutput(t *testing.T) {
	output := "Here is the result.\n\n```json\n{\"result\":{\"summary\":\"done\",\"details\":\"all good\"},\"next_steps\":[\"review\"]}\n```\n\n```go\npackage main\n```\n\n```go\npackage other\n```"

	structured, nextSteps, artifacts := parseWorkerOutput(output)

	assert.Equal(t, "done", structured.Summary)
	assert.Equal(t, "all good", structured.Details)
	assert.Equal(t, []string{"review"}, nextSteps)
	assert.Equal(t, "package main", artifacts["go_code_1"])
	assert.Equal(t, "package other", artifacts["go_code_2"])
}

func TestParseWorkerOutput_LastJSONBlockWins(t *testing.T) {
	output := "Per the template:\n\n```json\n{\"result\":{\"summary\":\"what was accomplished\"}}\n```\n\nActual result:\n\n```json\n{\"result\":{\"summary\":\"archived 12 log bundles\"}}\n```"

	structured, _, _ := parseWorkerOutput(output)

	assert.Equal(t, "archived 12 log bundles", structured.Summary)
}

func TestParseWorkerOutput_FallbackSummary(t *testing.T) {
	long := strings.Repeat("work ", 100)
	structured, _, artifacts := parseWorkerOutput(long + "\nTASK_STATUS: COMPLETED")

	assert.LessOrEqual(t, len(structured.Summary), summaryLimit+3)
	assert.NotContains(t, structured.Summary, "TASK_STATUS")
	assert.Empty(t, artifacts)
}

func TestParseWorkerOutput_FallbackSummaryKeepsRunesIntact(t *testing.T) {
	long := strings.Repeat("é", summaryLimit)
	structured, _, _ := parseWorkerOutput(long)

	assert.True(t, utf8.ValidString(structured.Summary))
	assert.True(t, strings.HasSuffix(structured.Summary, "..."))
}

func TestVerifyOutputFiles(t *testing.T) {
	dir := t.TempDir()
	subtask := testSubtask("task_1")

	resolve := func(p string) string { return filepath.Join(dir, p) }

	verr := verifyOutputFiles(subtask, resolve)
	require.NotNil(t, verr)
	assert.Len(t, verr.Missing, 2)
	assert.Equal(t, []string{
		"main_result: " + filepath.Join(dir, "results/task_1/result.json"),
		"report: " + filepath.Join(dir, "results/task_1/report.md"),
	}, verr.MissingList())

	for _, declared := range subtask.OutputFiles {
		path := resolve(declared)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("content"), 0644))
	}
	assert.Nil(t, verifyOutputFiles(subtask, resolve))
}
