package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// DefaultSystemPrompt instructs the CLI to behave as a task worker: do the
// work on disk, report what happened, and self-classify with a trailing
// TASK_STATUS line the interaction driver can read.
const DefaultSystemPrompt = "You are an autonomous task worker. Complete the requested task by creating the required output files on disk. Report concisely what you did. End every reply with a line of the form 'TASK_STATUS: <COMPLETED|CONTINUE|NEEDS_MORE_INFO|ERROR>'."

// Invoker is a reusable client for invoking Claude CLI commands.
// It follows the http.Client pattern: create once, use many times.
// Thread-safe for concurrent use.
type Invoker struct {
	// ClaudePath is the path to the claude CLI binary.
	// Defaults to "claude" (found in PATH).
	ClaudePath string

	// Timeout is the default timeout for invocations.
	// Can be overridden per-request via context.
	Timeout time.Duration

	// SystemPrompt is the system prompt sent with all invocations.
	// Defaults to DefaultSystemPrompt if empty when using NewInvoker.
	SystemPrompt string
}

// Request holds per-invocation configuration for a Claude CLI call.
type Request struct {
	// Prompt is the user prompt to send (required).
	Prompt string

	// ResumeID continues a previous session, preserving conversation state
	// across turns.
	ResumeID string

	// WorkDir is the working directory for the invocation. The worker
	// resolves relative file operations against it.
	WorkDir string

	// BypassPerms enables --permission-mode bypassPermissions so the worker
	// can create files without interactive prompts.
	BypassPerms bool
}

// Response holds the parsed output of a Claude CLI invocation.
type Response struct {
	// Output is the assistant's reply text.
	Output string

	// SessionID identifies the CLI session, used to resume on later turns.
	SessionID string
}

// NewInvoker creates an Invoker with default settings.
func NewInvoker() *Invoker {
	return &Invoker{
		ClaudePath:   "claude",
		SystemPrompt: DefaultSystemPrompt,
	}
}

// Invoke executes one Claude CLI call and parses its JSON envelope.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	ctxToUse := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctxToUse, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	claudePath := inv.ClaudePath
	if claudePath == "" {
		claudePath = "claude"
	}

	cmd := exec.CommandContext(ctxToUse, claudePath, inv.buildArgs(req)...)
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}
	SetCleanEnv(cmd)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctxToUse.Err(); ctxErr != nil {
			return nil, fmt.Errorf("claude invocation aborted: %w", ctxErr)
		}
		return nil, fmt.Errorf("claude invocation failed: %w (output: %s)", err, string(output))
	}

	return parseCLIOutput(output), nil
}

// buildArgs assembles the CLI argument list for a request.
func (inv *Invoker) buildArgs(req Request) []string {
	args := []string{}

	if req.ResumeID != "" {
		args = append(args, "--resume", req.ResumeID)
	}

	systemPrompt := inv.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	args = append(args, "--system-prompt", systemPrompt)
	args = append(args, "-p", req.Prompt)
	args = append(args, "--output-format", "json")

	if req.BypassPerms {
		args = append(args, "--permission-mode", "bypassPermissions")
	}

	// Disable hooks for automation
	args = append(args, "--settings", `{"disableAllHooks": true}`)
	return args
}

// cliEnvelope is the JSON shape produced by --output-format json.
type cliEnvelope struct {
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
}

// parseCLIOutput decodes the CLI's JSON envelope. Output that is not valid
// JSON is passed through untouched so a misbehaving CLI still yields text.
func parseCLIOutput(raw []byte) *Response {
	var env cliEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Result != "" {
		return &Response{Output: env.Result, SessionID: env.SessionID}
	}
	return &Response{Output: string(raw)}
}
