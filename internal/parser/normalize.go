package parser

import (
	"fmt"
	"path"

	"github.com/harrison/orchestra/internal/models"
)

// Normalize fills in the fields decomposition sources are allowed to omit:
// positional ids, a name, an instruction falling back to the description, and
// a default main result file under results/<id>/. Input is not mutated.
func Normalize(subtasks []models.Subtask) []models.Subtask {
	normalized := make([]models.Subtask, 0, len(subtasks))
	for i, st := range subtasks {
		n := st.Clone()

		if n.ID == "" {
			n.ID = fmt.Sprintf("task_%d", i+1)
		}
		if n.Name == "" {
			n.Name = fmt.Sprintf("Task %d", i+1)
		}
		if n.Instruction == "" {
			n.Instruction = n.Description
		}
		if n.OutputFiles == nil {
			n.OutputFiles = map[string]string{}
		}
		if _, ok := n.OutputFiles[models.MainResultKey]; !ok {
			n.OutputFiles[models.MainResultKey] = path.Join("results", n.ID, "result.json")
		}

		normalized = append(normalized, n)
	}
	return normalized
}
