package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/orchestra/internal/config"
	"github.com/harrison/orchestra/internal/history"
)

// NewHistoryCommand creates the history command group
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
		Long: `Inspect the execution-history database.

Every run records one row per executed subtask plus one row per applied
plan adjustment.

Examples:
  orchestra history runs
  orchestra history show 2f9c1a4e-...`,
	}

	cmd.PersistentFlags().String("config", "orchestra.yaml", "Path to config file")
	cmd.PersistentFlags().String("db", "", "Path to the history database (overrides config)")

	cmd.AddCommand(&cobra.Command{
		Use:   "runs",
		Short: "List recorded run ids, newest first",
		Args:  cobra.NoArgs,
		RunE:  historyRunsCommand,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run's executions and plan adjustments",
		Args:  cobra.ExactArgs(1),
		RunE:  historyShowCommand,
	})

	return cmd
}

func openHistory(cmd *cobra.Command) (*history.Store, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		dbPath = cfg.History.DBPath
		if !filepath.IsAbs(dbPath) {
			dbPath = filepath.Join(cfg.StateDir, dbPath)
		}
	}
	return history.NewStore(dbPath)
}

func historyRunsCommand(cmd *cobra.Command, _ []string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(cmd.Context())
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no recorded runs")
		return nil
	}

	for _, runID := range runs {
		stats, err := store.GetRunStats(cmd.Context(), runID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %d task(s), %d succeeded, %d failed\n",
			runID, stats.Total, stats.Succeeded, stats.Failed)
	}
	return nil
}

func historyShowCommand(cmd *cobra.Command, args []string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	runID := args[0]
	executions, err := store.GetRunExecutions(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if len(executions) == 0 {
		return fmt.Errorf("no executions recorded for run %s", runID)
	}

	out := cmd.OutOrStdout()
	for _, rec := range executions {
		status := "ok"
		if !rec.Success {
			status = "FAILED"
		}
		fmt.Fprintf(out, "%s  %-24s %-6s %2d turn(s)  %s\n",
			rec.Timestamp.Format(time.DateTime), rec.TaskID, status, rec.Turns, rec.Duration.Round(time.Millisecond))
		if rec.Error != "" {
			fmt.Fprintf(out, "    error: %s\n", rec.Error)
		}
	}

	adjustments, err := store.GetRunAdjustments(cmd.Context(), runID)
	if err != nil {
		return err
	}
	for _, adj := range adjustments {
		fmt.Fprintf(out, "adjustment after %s: %s (+%d/-%d/~%d)\n",
			adj.TriggerTaskID, adj.Reason, adj.Inserted, adj.Removed, adj.Modified)
	}
	return nil
}
