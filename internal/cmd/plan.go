package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/orchestra/internal/filelock"
	"github.com/harrison/orchestra/internal/models"
	"github.com/harrison/orchestra/internal/parser"
	"github.com/harrison/orchestra/internal/planner"
)

// planDocument is the canonical on-disk plan shape the plan command emits.
type planDocument struct {
	TaskName string           `json:"task_name"`
	Subtasks []models.Subtask `json:"subtasks"`
}

// NewPlanCommand creates the plan command
func NewPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan [subtask-file]",
		Short: "Produce a normalized subtask file without executing it",
		Long: `Produce a validated, normalized subtask file.

With a subtask file argument, the file is loaded, normalized (ids, names,
default main result paths), and validated. With --task, the description is
decomposed into a plan instead.

The canonical JSON plan is written to --out, or printed to stdout.

Examples:
  orchestra plan draft.yaml --out subtasks.json
  orchestra plan --task "Migrate the billing database" --out subtasks.json
  orchestra plan subtasks.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: planCommand,
	}

	cmd.Flags().String("task", "", "Task description to decompose")
	cmd.Flags().String("out", "", "Write the canonical plan to this file instead of stdout")

	return cmd
}

func planCommand(cmd *cobra.Command, args []string) error {
	task, _ := cmd.Flags().GetString("task")
	if len(args) == 0 && task == "" {
		return fmt.Errorf("either a subtask file or --task is required")
	}

	doc := planDocument{}
	switch {
	case len(args) > 0:
		plan, err := parser.LoadFile(args[0])
		if err != nil {
			return err
		}
		doc.TaskName = plan.TaskName
		if doc.TaskName == "" {
			doc.TaskName = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}
		doc.Subtasks = plan.Subtasks

	default:
		dec := planner.SingleTaskDecomposer{}
		analysis, err := dec.Analyze(cmd.Context(), task)
		if err != nil {
			return err
		}
		subtasks, err := dec.BreakDown(cmd.Context(), task, analysis)
		if err != nil {
			return err
		}
		doc.TaskName = task
		doc.Subtasks = parser.Normalize(subtasks)
		if err := parser.ValidatePlan(doc.Subtasks); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}

	if out, _ := cmd.Flags().GetString("out"); out != "" {
		if err := filelock.AtomicWrite(out, data); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d subtask(s) to %s\n", len(doc.Subtasks), out)
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
