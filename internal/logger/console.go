package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/harrison/orchestra/internal/models"
)

// ConsoleLogger logs run progress to a writer with timestamps and thread
// safety. All output is prefixed with [HH:MM:SS] timestamps. It supports log
// level filtering, and color output is enabled automatically when the writer
// is a terminal.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided
// io.Writer. If writer is nil, messages are silently discarded.
// Valid levels: trace, debug, info, warn, error (case-insensitive);
// empty or invalid levels default to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal reports whether the writer is a TTY that supports colors.
// Honors NO_COLOR through the color library's global flag.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// normalizeLogLevel lowercases and validates a log level string.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	}
	return "info"
}

// shouldLog reports whether a message at messageLevel passes the filter.
func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

func (cl *ConsoleLogger) LogTrace(message string) { cl.logWithLevel("TRACE", message) }
func (cl *ConsoleLogger) LogDebug(message string) { cl.logWithLevel("DEBUG", message) }
func (cl *ConsoleLogger) LogInfo(message string)  { cl.logWithLevel("INFO", message) }
func (cl *ConsoleLogger) LogWarn(message string)  { cl.logWithLevel("WARN", message) }
func (cl *ConsoleLogger) LogError(message string) { cl.logWithLevel("ERROR", message) }

// logWithLevel logs a message at the given level if filtering allows it.
func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil {
		return
	}
	if !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	if cl.colorOutput {
		cl.writer.Write([]byte(fmt.Sprintf("[%s] [%s] %s\n", ts, colorLevel(level), message)))
		return
	}
	cl.writer.Write([]byte(fmt.Sprintf("[%s] [%s] %s\n", ts, level, message)))
}

func colorLevel(level string) string {
	switch strings.ToUpper(level) {
	case "TRACE":
		return color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		return color.New(color.FgCyan).Sprint(level)
	case "INFO":
		return color.New(color.FgBlue).Sprint(level)
	case "WARN":
		return color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		return color.New(color.FgRed).Sprint(level)
	}
	return level
}

// LogTaskStart logs the dispatch of a subtask at INFO level.
// Format: "[HH:MM:SS] Dispatching <name> (<id>) [<n>/<total>]"
func (cl *ConsoleLogger) LogTaskStart(subtask models.Subtask, index, total int) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	name := subtask.Name
	if cl.colorOutput {
		name = color.New(color.Bold).Sprint(name)
	}
	cl.writer.Write([]byte(fmt.Sprintf("[%s] Dispatching %s (%s) [%d/%d]\n", ts, name, subtask.ID, index+1, total)))
}

// LogTaskResult logs the completion of a subtask at INFO level.
// Format: "[HH:MM:SS] Task <id>: <ok|failed> (<duration>)"
func (cl *ConsoleLogger) LogTaskResult(result models.ExecutionResult) error {
	if cl.writer == nil || !cl.shouldLog("info") {
		return nil
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	status := "ok"
	if !result.Success {
		status = "failed"
	}
	if cl.colorOutput {
		if result.Success {
			status = color.New(color.FgGreen).Sprint(status)
		} else {
			status = color.New(color.FgRed).Sprint(status)
		}
	}

	line := fmt.Sprintf("[%s] Task %s: %s (%s)\n", ts, result.TaskID, status, formatDuration(result.Duration))
	if !result.Success && result.Error != "" {
		line += fmt.Sprintf("[%s]   error: %s\n", ts, result.Error)
	}
	_, err := cl.writer.Write([]byte(line))
	return err
}

// LogPlanAdjusted logs a plan mutation at INFO level.
func (cl *ConsoleLogger) LogPlanAdjusted(triggerTaskID, reason string, inserted, removed, modified int) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	header := "Plan adjusted"
	if cl.colorOutput {
		header = color.New(color.FgYellow).Sprint(header)
	}
	cl.writer.Write([]byte(fmt.Sprintf(
		"[%s] %s after %s: +%d inserted, -%d removed, %d modified (%s)\n",
		ts, header, triggerTaskID, inserted, removed, modified, reason)))
}

// LogSummary logs the end-of-run summary at INFO level.
func (cl *ConsoleLogger) LogSummary(result models.RunResult) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	var output string
	if cl.colorOutput {
		header := color.New(color.Bold).Sprint("=== Run Summary ===")
		output = fmt.Sprintf("[%s] %s\n", ts, header)
		output += fmt.Sprintf("[%s] Total tasks: %d\n", ts, result.TotalTasks)
		output += fmt.Sprintf("[%s] %s\n", ts, color.New(color.FgGreen).Sprintf("Succeeded: %d", result.Succeeded))
		if result.Failed > 0 {
			output += fmt.Sprintf("[%s] %s\n", ts, color.New(color.FgRed).Sprintf("Failed: %d", result.Failed))
		} else {
			output += fmt.Sprintf("[%s] Failed: %d\n", ts, result.Failed)
		}
	} else {
		output = fmt.Sprintf("[%s] === Run Summary ===\n", ts)
		output += fmt.Sprintf("[%s] Total tasks: %d\n", ts, result.TotalTasks)
		output += fmt.Sprintf("[%s] Succeeded: %d\n", ts, result.Succeeded)
		output += fmt.Sprintf("[%s] Failed: %d\n", ts, result.Failed)
	}
	output += fmt.Sprintf("[%s] Duration: %s\n", ts, formatDuration(result.Duration))

	if result.Failed > 0 {
		output += fmt.Sprintf("[%s] Failed tasks:\n", ts)
		for id, res := range result.Results {
			if !res.Success {
				output += fmt.Sprintf("[%s]   - %s: %s\n", ts, id, res.Error)
			}
		}
	}

	cl.writer.Write([]byte(output))
}

// formatDuration converts a duration to a compact human-readable string.
// Examples: "5s", "1m30s", "2h15m".
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, remainder/time.Second)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm%ds", minutes, remainder/time.Second)
	default:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	}
}
