package executor

import (
	"context"
	"fmt"

	"github.com/harrison/orchestra/internal/interaction"
	"github.com/harrison/orchestra/internal/models"
)

// RemoteRequest is one turn forwarded to an external worker process. The
// serving side answers on Reply.
type RemoteRequest struct {
	TaskID  string
	Message string
	Reply   chan RemoteResponse
}

// RemoteResponse is the serving side's answer to one turn.
type RemoteResponse struct {
	Output string
	Err    error
}

// RemoteBackend bridges the engine to an in-process or networked worker
// host over channels. The host consumes Requests and answers each one on
// its Reply channel. Closing the backend rejects further turns.
type RemoteBackend struct {
	requests chan RemoteRequest
	done     chan struct{}
}

// NewRemoteBackend creates a RemoteBackend with the given request buffer.
func NewRemoteBackend(buffer int) *RemoteBackend {
	return &RemoteBackend{
		requests: make(chan RemoteRequest, buffer),
		done:     make(chan struct{}),
	}
}

// Requests is the stream the serving side consumes.
func (b *RemoteBackend) Requests() <-chan RemoteRequest {
	return b.requests
}

// Close shuts the backend down. In-flight Sends fail.
func (b *RemoteBackend) Close() {
	close(b.done)
}

func (b *RemoteBackend) NewWorker(_ context.Context, subtask models.Subtask, _ string) (interaction.Worker, error) {
	return &remoteWorker{taskID: subtask.ID, backend: b}, nil
}

type remoteWorker struct {
	taskID  string
	backend *RemoteBackend
}

func (w *remoteWorker) Send(ctx context.Context, message string) (string, error) {
	req := RemoteRequest{
		TaskID:  w.taskID,
		Message: message,
		Reply:   make(chan RemoteResponse, 1),
	}

	select {
	case w.backend.requests <- req:
	case <-w.backend.done:
		return "", fmt.Errorf("remote backend closed")
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case resp := <-req.Reply:
		return resp.Output, resp.Err
	case <-w.backend.done:
		return "", fmt.Errorf("remote backend closed")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (w *remoteWorker) Close() error { return nil }
