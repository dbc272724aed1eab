package executor

import (
	"context"

	"github.com/harrison/orchestra/internal/claude"
	"github.com/harrison/orchestra/internal/interaction"
	"github.com/harrison/orchestra/internal/models"
)

// ClaudeBackend starts Claude CLI workers. One worker per task execution;
// the worker holds its own CLI session across turns.
type ClaudeBackend struct {
	inv *claude.Invoker
}

// NewClaudeBackend creates a backend over a shared Invoker.
func NewClaudeBackend(inv *claude.Invoker) *ClaudeBackend {
	if inv == nil {
		inv = claude.NewInvoker()
	}
	return &ClaudeBackend{inv: inv}
}

func (b *ClaudeBackend) NewWorker(_ context.Context, _ models.Subtask, workDir string) (interaction.Worker, error) {
	return claude.NewWorker(b.inv, workDir), nil
}

// LocalBackend performs no generation. Its workers immediately defer to
// output-file verification, so a task succeeds exactly when its declared
// outputs already exist on disk. Used for manual or out-of-band execution
// and for exercising a plan without a generative worker.
type LocalBackend struct{}

func (LocalBackend) NewWorker(_ context.Context, subtask models.Subtask, _ string) (interaction.Worker, error) {
	return localWorker{taskID: subtask.ID}, nil
}

type localWorker struct {
	taskID string
}

func (w localWorker) Send(_ context.Context, _ string) (string, error) {
	return "no generative worker configured for " + w.taskID + "; deferring to output verification", nil
}

func (localWorker) Close() error { return nil }
