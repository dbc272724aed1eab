package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for orchestra
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orchestra",
		Short: "Adaptive task decomposition and execution engine",
		Long: `Orchestra decomposes a complex task into an ordered sequence of subtasks,
executes each subtask against a generative worker, propagates context between
subtasks, and adaptively revises the remaining plan based on outcomes.

Plans come from a subtask file (JSON or YAML) or from decomposing a task
description. Each subtask declares its required output files; a subtask only
counts as successful when every declared file exists on disk.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewPlanCommand())
	cmd.AddCommand(NewHistoryCommand())

	return cmd
}
