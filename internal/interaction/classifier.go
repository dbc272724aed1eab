package interaction

import (
	"context"
	"strings"

	"github.com/harrison/orchestra/internal/models"
)

// MarkerClassifier reads an explicit status marker from the worker's
// response. Workers are prompted to end each reply with a line of the form
// "TASK_STATUS: COMPLETED". Responses without a marker defer to output-file
// verification.
type MarkerClassifier struct{}

// statusMarker is the line prefix workers use to self-report task state.
const statusMarker = "TASK_STATUS:"

func (MarkerClassifier) Classify(_ context.Context, workerOutput string) (models.TaskStatus, error) {
	// Scan from the end; the marker is the last line of a well-formed reply.
	lines := strings.Split(workerOutput, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, statusMarker) {
			continue
		}
		raw := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(line, statusMarker)))
		switch models.TaskStatus(raw) {
		case models.StatusCompleted:
			return models.StatusCompleted, nil
		case models.StatusNeedsMoreInfo:
			return models.StatusNeedsMoreInfo, nil
		case models.StatusContinue:
			return models.StatusContinue, nil
		case models.StatusError:
			return models.StatusError, nil
		case models.StatusNeedsVerification:
			return models.StatusNeedsVerification, nil
		}
		break
	}
	return models.StatusNeedsVerification, nil
}
