package claude

import (
	"context"
)

// caller abstracts Invoke so workers can be exercised without a real CLI.
type caller interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// Worker is one multi-turn conversation with the Claude CLI. The first Send
// starts a session; later Sends resume it so the worker keeps its state
// between turns. Implements the interaction Worker contract.
type Worker struct {
	inv       caller
	workDir   string
	sessionID string
}

// NewWorker creates a Worker bound to an Invoker and a working directory.
func NewWorker(inv *Invoker, workDir string) *Worker {
	return &Worker{inv: inv, workDir: workDir}
}

// Send delivers one message and returns the reply for that turn.
func (w *Worker) Send(ctx context.Context, message string) (string, error) {
	resp, err := w.inv.Invoke(ctx, Request{
		Prompt:      message,
		ResumeID:    w.sessionID,
		WorkDir:     w.workDir,
		BypassPerms: true,
	})
	if err != nil {
		return "", err
	}
	if resp.SessionID != "" {
		w.sessionID = resp.SessionID
	}
	return resp.Output, nil
}

// SessionID returns the current CLI session id ("" before the first turn).
func (w *Worker) SessionID() string { return w.sessionID }

// Close ends the conversation. CLI sessions need no explicit teardown.
func (w *Worker) Close() error { return nil }
