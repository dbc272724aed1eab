package interaction

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harrison/orchestra/internal/models"
)

// scriptedWorker replays canned responses, one per Send call.
type scriptedWorker struct {
	responses []string
	received  []string
	sendErr   error
	delay     time.Duration
}

func (w *scriptedWorker) Send(ctx context.Context, message string) (string, error) {
	if w.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(w.delay):
		}
	}
	if w.sendErr != nil {
		return "", w.sendErr
	}
	w.received = append(w.received, message)
	if len(w.responses) == 0 {
		return "", errors.New("script exhausted")
	}
	resp := w.responses[0]
	w.responses = w.responses[1:]
	return resp, nil
}

func (w *scriptedWorker) Close() error { return nil }

// statusScript classifies each response in order.
type statusScript struct {
	statuses []models.TaskStatus
	err      error
}

func (c *statusScript) Classify(_ context.Context, _ string) (models.TaskStatus, error) {
	if c.err != nil {
		return "", c.err
	}
	if len(c.statuses) == 0 {
		return models.StatusCompleted, nil
	}
	s := c.statuses[0]
	c.statuses = c.statuses[1:]
	return s, nil
}

func TestDriver_CompletesOnFirstTurn(t *testing.T) {
	worker := &scriptedWorker{responses: []string{"all done"}}
	d := NewDriver(&statusScript{statuses: []models.TaskStatus{models.StatusCompleted}}, nil)

	outcome, err := d.Run(context.Background(), worker, "do the thing", Params{MaxTurns: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Status != models.StatusCompleted {
		t.Errorf("status = %s", outcome.Status)
	}
	if outcome.Turns != 1 {
		t.Errorf("turns = %d", outcome.Turns)
	}
	if outcome.Output != "all done" {
		t.Errorf("output = %q", outcome.Output)
	}
}

func TestDriver_ContinueLoopsUntilTerminal(t *testing.T) {
	worker := &scriptedWorker{responses: []string{"part one", "part two", "finished"}}
	d := NewDriver(&statusScript{statuses: []models.TaskStatus{
		models.StatusContinue, models.StatusContinue, models.StatusCompleted,
	}}, nil)

	outcome, err := d.Run(context.Background(), worker, "start", Params{MaxTurns: 5})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Turns != 3 {
		t.Errorf("turns = %d", outcome.Turns)
	}
	if !strings.Contains(outcome.Output, "part one") || !strings.Contains(outcome.Output, "finished") {
		t.Errorf("output should accumulate all turns, got %q", outcome.Output)
	}
	// Follow-up turns carry the generic continuation, not the original prompt.
	if worker.received[1] != continueMessage || worker.received[2] != continueMessage {
		t.Errorf("continuation messages = %v", worker.received[1:])
	}
}

func TestDriver_TurnBudgetExhaustionPreservesPartialOutput(t *testing.T) {
	worker := &scriptedWorker{responses: []string{"chunk 1", "chunk 2"}}
	d := NewDriver(&statusScript{statuses: []models.TaskStatus{
		models.StatusContinue, models.StatusContinue,
	}}, nil)

	outcome, err := d.Run(context.Background(), worker, "start", Params{MaxTurns: 2})
	if err != nil {
		t.Fatalf("exhaustion is not an error: %v", err)
	}
	if !outcome.ExhaustedTurns {
		t.Error("expected ExhaustedTurns")
	}
	if outcome.Status != models.StatusError {
		t.Errorf("exhaustion must end the loop in ERROR, got %s", outcome.Status)
	}
	if !strings.Contains(outcome.Output, "chunk 1") || !strings.Contains(outcome.Output, "chunk 2") {
		t.Errorf("partial output lost: %q", outcome.Output)
	}
}

func TestDriver_NilClassifierDefersToVerification(t *testing.T) {
	worker := &scriptedWorker{responses: []string{"did some work"}}
	d := NewDriver(nil, nil)

	outcome, err := d.Run(context.Background(), worker, "start", Params{MaxTurns: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Status != models.StatusNeedsVerification {
		t.Errorf("status = %s, want NEEDS_VERIFICATION", outcome.Status)
	}
	if outcome.Turns != 1 {
		t.Errorf("classifier-free mode must not loop, turns = %d", outcome.Turns)
	}
}

func TestDriver_ClassifierErrorFallsBackToVerification(t *testing.T) {
	worker := &scriptedWorker{responses: []string{"output"}}
	d := NewDriver(&statusScript{err: errors.New("classifier offline")}, nil)

	outcome, err := d.Run(context.Background(), worker, "start", Params{MaxTurns: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Status != models.StatusNeedsVerification {
		t.Errorf("status = %s", outcome.Status)
	}
}

func TestDriver_TimeoutReturnsPartialOutcome(t *testing.T) {
	worker := &scriptedWorker{responses: []string{"never arrives"}, delay: 200 * time.Millisecond}
	d := NewDriver(nil, nil)

	outcome, err := d.Run(context.Background(), worker, "start", Params{MaxTurns: 1, Timeout: 20 * time.Millisecond})

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if outcome == nil {
		t.Fatal("timeout must still return the partial outcome")
	}
}

func TestDriver_WorkerErrorWrapped(t *testing.T) {
	cause := errors.New("process exited")
	worker := &scriptedWorker{sendErr: cause}
	d := NewDriver(nil, nil)

	_, err := d.Run(context.Background(), worker, "start", Params{MaxTurns: 1})
	var we *WorkerError
	if !errors.As(err, &we) {
		t.Fatalf("expected WorkerError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("WorkerError should wrap the transport cause")
	}
}

func TestMarkerClassifier(t *testing.T) {
	cases := []struct {
		output string
		want   models.TaskStatus
	}{
		{"work done\nTASK_STATUS: COMPLETED", models.StatusCompleted},
		{"need input\nTASK_STATUS: NEEDS_MORE_INFO", models.StatusNeedsMoreInfo},
		{"half way\nTASK_STATUS: CONTINUE", models.StatusContinue},
		{"broke\nTASK_STATUS: ERROR", models.StatusError},
		{"TASK_STATUS: completed", models.StatusCompleted},
		{"no marker at all", models.StatusNeedsVerification},
		{"TASK_STATUS: SOMETHING_ELSE", models.StatusNeedsVerification},
	}
	var c MarkerClassifier
	for _, tc := range cases {
		got, err := c.Classify(context.Background(), tc.output)
		if err != nil {
			t.Fatalf("classify %q: %v", tc.output, err)
		}
		if got != tc.want {
			t.Errorf("classify %q = %s, want %s", tc.output, got, tc.want)
		}
	}
}
