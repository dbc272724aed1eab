// Package parser loads subtask plans from JSON or YAML files and normalizes
// them into the canonical form the engine executes.
package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/harrison/orchestra/internal/models"
)

// planFile is the on-disk shape: either a bare list of subtasks or a
// document with a "subtasks" key.
type planFile struct {
	TaskName string           `json:"task_name" yaml:"task_name"`
	Subtasks []models.Subtask `json:"subtasks" yaml:"subtasks"`
}

// Plan is a named, validated list of subtasks ready for execution.
type Plan struct {
	TaskName string
	Subtasks []models.Subtask
}

// LoadFile reads a plan from path, dispatching on the file extension.
// JSON is the canonical format; .yaml/.yml files are accepted as well.
func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON decodes a JSON plan. Both a bare subtask array and a
// {"task_name": ..., "subtasks": [...]} document are accepted.
func ParseJSON(data []byte) (*Plan, error) {
	var pf planFile
	if err := json.Unmarshal(data, &pf); err != nil {
		var bare []models.Subtask
		if bareErr := json.Unmarshal(data, &bare); bareErr != nil {
			return nil, fmt.Errorf("parse plan JSON: %w", err)
		}
		pf.Subtasks = bare
	}
	return finishPlan(pf)
}

// ParseYAML decodes a YAML plan with the same accepted shapes as ParseJSON.
func ParseYAML(data []byte) (*Plan, error) {
	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		var bare []models.Subtask
		if bareErr := yaml.Unmarshal(data, &bare); bareErr != nil {
			return nil, fmt.Errorf("parse plan YAML: %w", err)
		}
		pf.Subtasks = bare
	}
	return finishPlan(pf)
}

func finishPlan(pf planFile) (*Plan, error) {
	if len(pf.Subtasks) == 0 {
		return nil, fmt.Errorf("plan contains no subtasks")
	}

	subtasks := Normalize(pf.Subtasks)
	if err := ValidatePlan(subtasks); err != nil {
		return nil, err
	}
	return &Plan{TaskName: pf.TaskName, Subtasks: subtasks}, nil
}

// ValidatePlan checks every subtask plus the plan-level invariants: unique
// ids, dependencies on known ids only, and an acyclic dependency graph.
func ValidatePlan(subtasks []models.Subtask) error {
	ids := make(map[string]bool, len(subtasks))
	for i := range subtasks {
		st := &subtasks[i]
		if err := st.Validate(); err != nil {
			return fmt.Errorf("subtask %d: %w", i+1, err)
		}
		if ids[st.ID] {
			return fmt.Errorf("duplicate subtask id %s", st.ID)
		}
		ids[st.ID] = true
	}

	for i := range subtasks {
		for _, dep := range subtasks[i].Dependencies {
			if !ids[dep] {
				return fmt.Errorf("subtask %s depends on unknown task %s", subtasks[i].ID, dep)
			}
		}
	}

	if models.HasCyclicDependencies(subtasks) {
		return fmt.Errorf("plan has cyclic dependencies")
	}
	return nil
}
