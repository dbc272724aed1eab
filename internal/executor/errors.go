package executor

import (
	"fmt"
	"sort"
	"strings"
)

// VerificationError reports declared output files the worker failed to
// create. The engine never writes these files itself; a missing output is a
// hard task failure.
type VerificationError struct {
	TaskID  string
	Missing map[string]string // logical name -> expected path
}

func (e *VerificationError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for name := range e.Missing {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	fmt.Fprintf(&sb, "task %s did not produce required output files:", e.TaskID)
	for _, name := range names {
		fmt.Fprintf(&sb, "\n  %s: %s", name, e.Missing[name])
	}
	return sb.String()
}

// MissingList returns the missing outputs as "name: path" lines, sorted by
// name.
func (e *VerificationError) MissingList() []string {
	names := make([]string, 0, len(e.Missing))
	for name := range e.Missing {
		names = append(names, name)
	}
	sort.Strings(names)

	list := make([]string, 0, len(names))
	for _, name := range names {
		list = append(list, name+": "+e.Missing[name])
	}
	return list
}
