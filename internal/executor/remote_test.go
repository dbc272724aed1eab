package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/orchestra/internal/models"
)

func TestRemoteBackend_RoundTrip(t *testing.T) {
	backend := NewRemoteBackend(1)
	defer backend.Close()

	// Serving side: answer each request by echoing the task id.
	go func() {
		for req := range backend.Requests() {
			req.Reply <- RemoteResponse{Output: "handled " + req.TaskID}
		}
	}()

	worker, err := backend.NewWorker(context.Background(), models.Subtask{ID: "task_7"}, "")
	require.NoError(t, err)

	out, err := worker.Send(context.Background(), "do the thing")
	require.NoError(t, err)
	assert.Equal(t, "handled task_7", out)
}

func TestRemoteBackend_ContextCancellation(t *testing.T) {
	backend := NewRemoteBackend(0)
	defer backend.Close()

	worker, err := backend.NewWorker(context.Background(), models.Subtask{ID: "task_1"}, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Nobody is serving, so the send must fail when the context expires.
	_, err = worker.Send(ctx, "hello")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRemoteBackend_CloseRejectsSends(t *testing.T) {
	backend := NewRemoteBackend(0)
	worker, err := backend.NewWorker(context.Background(), models.Subtask{ID: "task_1"}, "")
	require.NoError(t, err)

	backend.Close()

	_, err = worker.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}
