// Package models defines the task, result, and plan-adjustment types shared
// across the engine.
package models

import "fmt"

// MainResultKey is the logical output name every subtask must declare. Its
// file carries the subtask's structured result.
const MainResultKey = "main_result"

// Subtask is one unit of the decomposed plan. OutputFiles maps logical names
// to paths relative to the run workspace; InputFiles maps logical names to
// either literal paths or "<task_id>:<output_key>" references resolved at
// dispatch time.
type Subtask struct {
	ID              string            `json:"id" yaml:"id"`
	Name            string            `json:"name" yaml:"name"`
	Description     string            `json:"description,omitempty" yaml:"description,omitempty"`
	Instruction     string            `json:"instruction" yaml:"instruction"`
	Dependencies    []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	InputFiles      map[string]string `json:"input_files,omitempty" yaml:"input_files,omitempty"`
	OutputFiles     map[string]string `json:"output_files" yaml:"output_files"`
	SuccessCriteria []string          `json:"success_criteria,omitempty" yaml:"success_criteria,omitempty"`
	Priority        int               `json:"priority,omitempty" yaml:"priority,omitempty"`
	TimeoutSecs     int               `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxTurns        int               `json:"max_turns,omitempty" yaml:"max_turns,omitempty"`
}

// Validate checks that the subtask carries everything dispatch requires.
func (s *Subtask) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("subtask missing id")
	}
	if s.Name == "" {
		return fmt.Errorf("subtask %s missing name", s.ID)
	}
	if s.Instruction == "" {
		return fmt.Errorf("subtask %s missing instruction", s.ID)
	}
	if len(s.OutputFiles) == 0 {
		return fmt.Errorf("subtask %s declares no output files", s.ID)
	}
	if _, ok := s.OutputFiles[MainResultKey]; !ok {
		return fmt.Errorf("subtask %s missing %s output file", s.ID, MainResultKey)
	}
	return nil
}

// Clone returns a deep copy. Plan mutation and context propagation work on
// copies so stored history never aliases live plan entries.
func (s Subtask) Clone() Subtask {
	c := s
	if s.Dependencies != nil {
		c.Dependencies = make([]string, len(s.Dependencies))
		copy(c.Dependencies, s.Dependencies)
	}
	c.InputFiles = cloneStringMap(s.InputFiles)
	c.OutputFiles = cloneStringMap(s.OutputFiles)
	if s.SuccessCriteria != nil {
		c.SuccessCriteria = make([]string, len(s.SuccessCriteria))
		copy(c.SuccessCriteria, s.SuccessCriteria)
	}
	return c
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// HasCyclicDependencies reports whether the dependency graph over the given
// subtasks contains a cycle. Dependencies on unknown ids are ignored.
func HasCyclicDependencies(subtasks []Subtask) bool {
	deps := make(map[string][]string, len(subtasks))
	for _, st := range subtasks {
		deps[st.ID] = st.Dependencies
	}

	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // fully explored
	)
	state := make(map[string]int, len(deps))

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = gray
		for _, dep := range deps[id] {
			if _, known := deps[dep]; !known {
				continue
			}
			switch state[dep] {
			case gray:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		state[id] = black
		return false
	}

	for id := range deps {
		if state[id] == white && visit(id) {
			return true
		}
	}
	return false
}
