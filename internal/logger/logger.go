// Package logger provides logging for orchestration runs.
//
// The package offers a level-filtered console logger for interactive use and
// a file logger that writes the plan-level execution log into the run's state
// directory. Implementations are thread-safe.
package logger

import (
	"time"

	"github.com/harrison/orchestra/internal/models"
)

// Logger is the interface the engine's components log through.
// All implementations must be safe for concurrent use.
type Logger interface {
	LogTrace(message string)
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)

	// LogTaskStart records the dispatch of a subtask.
	LogTaskStart(subtask models.Subtask, index, total int)
	// LogTaskResult records the completion of a subtask.
	LogTaskResult(result models.ExecutionResult) error
	// LogPlanAdjusted records a plan mutation (insert/remove/modify).
	LogPlanAdjusted(triggerTaskID, reason string, inserted, removed, modified int)
	// LogSummary records end-of-run statistics.
	LogSummary(result models.RunResult)
}

// Log level constants for filtering.
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// NoOpLogger discards all log messages. Useful for tests and for components
// constructed without a logger.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{} }

func (n *NoOpLogger) LogTrace(string) {}
func (n *NoOpLogger) LogDebug(string) {}
func (n *NoOpLogger) LogInfo(string)  {}
func (n *NoOpLogger) LogWarn(string)  {}
func (n *NoOpLogger) LogError(string) {}

func (n *NoOpLogger) LogTaskStart(models.Subtask, int, int) {}
func (n *NoOpLogger) LogTaskResult(models.ExecutionResult) error {
	return nil
}
func (n *NoOpLogger) LogPlanAdjusted(string, string, int, int, int) {}
func (n *NoOpLogger) LogSummary(models.RunResult)                  {}
