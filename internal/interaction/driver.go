// Package interaction drives the turn-based exchange with a generative
// worker: send a prompt, classify the response, and either finish or ask the
// worker to continue, bounded by a turn budget and a wall-clock timeout.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harrison/orchestra/internal/logger"
	"github.com/harrison/orchestra/internal/models"
)

// continueMessage is sent when the classifier reports the worker stopped
// mid-task. It carries no task-specific content; the worker resumes from its
// own conversation state.
const continueMessage = "Please continue and complete the remaining work."

// Worker is one conversation with a generative backend. Send delivers a
// message and blocks until the worker's reply for that turn is complete.
type Worker interface {
	Send(ctx context.Context, message string) (string, error)
	Close() error
}

// Classifier judges a worker response. Implementations return one of the
// TaskStatus constants; the driver maps anything it cannot act on to
// verification.
type Classifier interface {
	Classify(ctx context.Context, workerOutput string) (models.TaskStatus, error)
}

// Turn is one message in the interaction transcript.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Outcome is the result of driving one interaction to its end. Output holds
// everything the worker produced, including partial work from a run that hit
// its turn or time budget.
type Outcome struct {
	Output         string
	Transcript     []Turn
	Turns          int
	Status         models.TaskStatus
	ExhaustedTurns bool
}

// TimeoutError reports that the interaction exceeded its wall-clock budget.
// The accompanying Outcome still carries whatever output arrived before the
// deadline.
type TimeoutError struct {
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("interaction timed out after %s", e.Elapsed.Round(time.Millisecond))
}

// WorkerError reports a transport-level failure on a specific turn.
type WorkerError struct {
	Turn int
	Err  error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker failed on turn %d: %v", e.Turn, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// Params bounds one interaction.
type Params struct {
	MaxTurns int
	Timeout  time.Duration
}

// Driver runs interactions. A nil classifier disables status classification;
// every response is then routed to output-file verification instead of being
// trusted as complete.
type Driver struct {
	classifier Classifier
	log        logger.Logger
}

// NewDriver creates a Driver. classifier may be nil; log may be nil.
func NewDriver(classifier Classifier, log logger.Logger) *Driver {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Driver{classifier: classifier, log: log}
}

// Run sends prompt to the worker and loops on CONTINUE classifications until
// a terminal status, the turn budget, or the timeout. On timeout or worker
// failure the partial Outcome is returned alongside the error.
func (d *Driver) Run(ctx context.Context, worker Worker, prompt string, params Params) (*Outcome, error) {
	maxTurns := params.MaxTurns
	if maxTurns < 1 {
		maxTurns = 1
	}

	runCtx := ctx
	if params.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, params.Timeout)
		defer cancel()
	}

	started := time.Now()
	outcome := &Outcome{}
	message := prompt

	for turn := 1; turn <= maxTurns; turn++ {
		outcome.Transcript = append(outcome.Transcript, Turn{Role: "user", Content: message, Timestamp: time.Now()})

		response, err := worker.Send(runCtx, message)
		if err != nil {
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				return outcome, &TimeoutError{Elapsed: time.Since(started)}
			}
			return outcome, &WorkerError{Turn: turn, Err: err}
		}

		outcome.Turns = turn
		outcome.Transcript = append(outcome.Transcript, Turn{Role: "worker", Content: response, Timestamp: time.Now()})
		if outcome.Output == "" {
			outcome.Output = response
		} else {
			outcome.Output += "\n\n" + response
		}

		status := d.classify(runCtx, response)
		outcome.Status = status
		d.log.LogDebug(fmt.Sprintf("turn %d/%d classified as %s", turn, maxTurns, status))

		if status != models.StatusContinue {
			return outcome, nil
		}
		message = continueMessage
	}

	// Turn budget exhausted mid-task. The loop ends in ERROR; Output keeps
	// the partial work for the caller's error log.
	outcome.ExhaustedTurns = true
	outcome.Status = models.StatusError
	d.log.LogWarn(fmt.Sprintf("turn budget (%d) exhausted before a terminal status", maxTurns))
	return outcome, nil
}

func (d *Driver) classify(ctx context.Context, response string) models.TaskStatus {
	if d.classifier == nil {
		return models.StatusNeedsVerification
	}
	status, err := d.classifier.Classify(ctx, response)
	if err != nil {
		d.log.LogWarn(fmt.Sprintf("response classification failed, deferring to verification: %v", err))
		return models.StatusNeedsVerification
	}
	switch status {
	case models.StatusCompleted, models.StatusNeedsMoreInfo, models.StatusContinue,
		models.StatusError, models.StatusNeedsVerification:
		return status
	default:
		d.log.LogWarn(fmt.Sprintf("unrecognized classification %q, deferring to verification", status))
		return models.StatusNeedsVerification
	}
}
