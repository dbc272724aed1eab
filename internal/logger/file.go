package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/orchestra/internal/models"
)

// FileLogger writes the plan-level execution log into the run's state
// directory. It creates a timestamped per-run log file and maintains a
// latest.log symlink pointing to the most recent run. Thread-safe.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger creates a FileLogger writing under <stateDir>/logs with the
// given level. The directory is created if missing.
func NewFileLogger(stateDir, logLevel string) (*FileLogger, error) {
	logDir := filepath.Join(stateDir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", time.Now().Format("20060102-150405")))
	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("create latest.log symlink: %w", err)
	}

	return &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		logLevel: normalizeLogLevel(logLevel),
	}, nil
}

// RunFile returns the path of the current run log file.
func (fl *FileLogger) RunFile() string { return fl.runFile }

// Close flushes and closes the run log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog == nil {
		return nil
	}
	err := fl.runLog.Close()
	fl.runLog = nil
	return err
}

func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

func (fl *FileLogger) write(level, message string) {
	if !fl.shouldLog(strings.ToLower(level)) {
		return
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog == nil {
		return
	}
	fmt.Fprintf(fl.runLog, "[%s] [%s] %s\n", timestamp(), level, message)
}

func (fl *FileLogger) LogTrace(message string) { fl.write("TRACE", message) }
func (fl *FileLogger) LogDebug(message string) { fl.write("DEBUG", message) }
func (fl *FileLogger) LogInfo(message string)  { fl.write("INFO", message) }
func (fl *FileLogger) LogWarn(message string)  { fl.write("WARN", message) }
func (fl *FileLogger) LogError(message string) { fl.write("ERROR", message) }

func (fl *FileLogger) LogTaskStart(subtask models.Subtask, index, total int) {
	fl.write("INFO", fmt.Sprintf("dispatch task=%s name=%q index=%d total=%d", subtask.ID, subtask.Name, index, total))
}

func (fl *FileLogger) LogTaskResult(result models.ExecutionResult) error {
	line := fmt.Sprintf("result task=%s success=%t status=%s duration=%s",
		result.TaskID, result.Success, result.TaskStatus, result.Duration)
	if result.Error != "" {
		line += fmt.Sprintf(" error=%q", result.Error)
	}
	fl.write("INFO", line)
	return nil
}

func (fl *FileLogger) LogPlanAdjusted(triggerTaskID, reason string, inserted, removed, modified int) {
	fl.write("INFO", fmt.Sprintf("plan adjusted trigger=%s inserted=%d removed=%d modified=%d reason=%q",
		triggerTaskID, inserted, removed, modified, reason))
}

func (fl *FileLogger) LogSummary(result models.RunResult) {
	fl.write("INFO", fmt.Sprintf("summary total=%d succeeded=%d failed=%d duration=%s",
		result.TotalTasks, result.Succeeded, result.Failed, result.Duration))
}

// MultiLogger fans out to several loggers, typically console plus file.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger over the given loggers; nil entries
// are skipped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	ml := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			ml.loggers = append(ml.loggers, l)
		}
	}
	return ml
}

func (ml *MultiLogger) LogTrace(message string) {
	for _, l := range ml.loggers {
		l.LogTrace(message)
	}
}
func (ml *MultiLogger) LogDebug(message string) {
	for _, l := range ml.loggers {
		l.LogDebug(message)
	}
}
func (ml *MultiLogger) LogInfo(message string) {
	for _, l := range ml.loggers {
		l.LogInfo(message)
	}
}
func (ml *MultiLogger) LogWarn(message string) {
	for _, l := range ml.loggers {
		l.LogWarn(message)
	}
}
func (ml *MultiLogger) LogError(message string) {
	for _, l := range ml.loggers {
		l.LogError(message)
	}
}

func (ml *MultiLogger) LogTaskStart(subtask models.Subtask, index, total int) {
	for _, l := range ml.loggers {
		l.LogTaskStart(subtask, index, total)
	}
}

func (ml *MultiLogger) LogTaskResult(result models.ExecutionResult) error {
	var firstErr error
	for _, l := range ml.loggers {
		if err := l.LogTaskResult(result); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (ml *MultiLogger) LogPlanAdjusted(triggerTaskID, reason string, inserted, removed, modified int) {
	for _, l := range ml.loggers {
		l.LogPlanAdjusted(triggerTaskID, reason, inserted, removed, modified)
	}
}

func (ml *MultiLogger) LogSummary(result models.RunResult) {
	for _, l := range ml.loggers {
		l.LogSummary(result)
	}
}
