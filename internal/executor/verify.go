package executor

import (
	"os"

	"github.com/harrison/orchestra/internal/models"
)

// verifyOutputFiles checks that every declared output file exists on disk.
// resolve maps a declared path to its absolute location. A nil return means
// everything the subtask promised is present.
func verifyOutputFiles(subtask models.Subtask, resolve func(string) string) *VerificationError {
	missing := map[string]string{}
	for name, declared := range subtask.OutputFiles {
		path := resolve(declared)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			missing[name] = path
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &VerificationError{TaskID: subtask.ID, Missing: missing}
}
