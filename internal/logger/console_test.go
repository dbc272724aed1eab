package logger

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/harrison/orchestra/internal/models"
)

func TestConsoleLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "warn")

	cl.LogDebug("hidden")
	cl.LogInfo("also hidden")
	cl.LogWarn("visible warn")
	cl.LogError("visible error")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below warn should be filtered, got: %s", out)
	}
	if !strings.Contains(out, "visible warn") || !strings.Contains(out, "visible error") {
		t.Errorf("warn/error should pass the filter, got: %s", out)
	}
}

func TestConsoleLogger_InvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "chatty")

	cl.LogDebug("debug line")
	cl.LogInfo("info line")

	out := buf.String()
	if strings.Contains(out, "debug line") {
		t.Error("debug should be filtered at default info level")
	}
	if !strings.Contains(out, "info line") {
		t.Error("info should be logged at default level")
	}
}

func TestConsoleLogger_NilWriter(t *testing.T) {
	cl := NewConsoleLogger(nil, "info")
	cl.LogInfo("nothing happens")
	if err := cl.LogTaskResult(models.ExecutionResult{TaskID: "t1"}); err != nil {
		t.Errorf("nil writer should discard silently: %v", err)
	}
}

func TestConsoleLogger_TaskResultFormat(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "info")

	if err := cl.LogTaskResult(models.ExecutionResult{
		TaskID:   "task_2",
		Success:  false,
		Error:    "missing output file",
		Duration: 3 * time.Second,
	}); err != nil {
		t.Fatalf("log task result: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Task task_2: failed") {
		t.Errorf("expected failure line, got: %s", out)
	}
	if !strings.Contains(out, "missing output file") {
		t.Errorf("expected error detail, got: %s", out)
	}
}

func TestConsoleLogger_Summary(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "info")

	cl.LogSummary(models.RunResult{
		TotalTasks: 3,
		Succeeded:  2,
		Failed:     1,
		Duration:   90 * time.Second,
		Results: map[string]models.ExecutionResult{
			"task_3": {TaskID: "task_3", Success: false, Error: "worker timeout"},
		},
	})

	out := buf.String()
	for _, want := range []string{"=== Run Summary ===", "Total tasks: 3", "Succeeded: 2", "Failed: 1", "1m30s", "task_3: worker timeout"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q, got:\n%s", want, out)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{time.Minute, "1m"},
		{90 * time.Second, "1m30s"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
	}
	for _, tc := range cases {
		if got := formatDuration(tc.d); got != tc.want {
			t.Errorf("formatDuration(%v) = %s, want %s", tc.d, got, tc.want)
		}
	}
}
