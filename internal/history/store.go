// Package history persists execution records to SQLite so past runs can be
// inspected and compared.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ExecutionRecord is one row of the task execution log.
type ExecutionRecord struct {
	ID         int64
	RunID      string
	TaskID     string
	TaskName   string
	Success    bool
	Status     string
	Error      string
	Turns      int
	Duration   time.Duration
	ResultFile string
	Summary    string
	Timestamp  time.Time
}

// AdjustmentRecord is one row of the plan adjustment log.
type AdjustmentRecord struct {
	ID            int64
	RunID         string
	TriggerTaskID string
	Reason        string
	Inserted      int
	Removed       int
	Modified      int
	Timestamp     time.Time
}

// RunStats summarizes one run's execution rows.
type RunStats struct {
	Total     int
	Succeeded int
	Failed    int
}

// Store manages the SQLite execution-history database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (or creates) the history database at dbPath and applies the
// schema. ":memory:" gives an ephemeral store.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// busy_timeout first so the remaining pragmas wait on locks.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// execWithRetry executes a statement with backoff on "database is locked".
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordExecution inserts one execution row and fills in its assigned ID.
func (s *Store) RecordExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO task_executions
			(run_id, task_id, task_name, success, status, error, turns, duration_ms, result_file, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.TaskID, rec.TaskName, rec.Success, rec.Status, rec.Error,
		rec.Turns, rec.Duration.Milliseconds(), rec.ResultFile, rec.Summary, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	rec.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get execution id: %w", err)
	}
	return nil
}

// RecordAdjustment inserts one plan adjustment row.
func (s *Store) RecordAdjustment(ctx context.Context, rec *AdjustmentRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO plan_adjustments
			(run_id, trigger_task_id, reason, inserted, removed, modified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.TriggerTaskID, rec.Reason, rec.Inserted, rec.Removed, rec.Modified, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("record adjustment: %w", err)
	}
	rec.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get adjustment id: %w", err)
	}
	return nil
}

// GetRunExecutions returns a run's execution rows in insertion order.
func (s *Store) GetRunExecutions(ctx context.Context, runID string) ([]*ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, task_id, task_name, success, status, error, turns, duration_ms, result_file, summary, created_at
		FROM task_executions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var records []*ExecutionRecord
	for rows.Next() {
		rec := &ExecutionRecord{}
		var durationMs int64
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.TaskID, &rec.TaskName, &rec.Success,
			&rec.Status, &rec.Error, &rec.Turns, &durationMs, &rec.ResultFile, &rec.Summary, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan execution row: %w", err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetTaskExecutions returns every recorded execution of one task id across
// runs, newest first.
func (s *Store) GetTaskExecutions(ctx context.Context, taskID string) ([]*ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, task_id, task_name, success, status, error, turns, duration_ms, result_file, summary, created_at
		FROM task_executions WHERE task_id = ? ORDER BY id DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query task executions: %w", err)
	}
	defer rows.Close()

	var records []*ExecutionRecord
	for rows.Next() {
		rec := &ExecutionRecord{}
		var durationMs int64
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.TaskID, &rec.TaskName, &rec.Success,
			&rec.Status, &rec.Error, &rec.Turns, &durationMs, &rec.ResultFile, &rec.Summary, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan execution row: %w", err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetRunAdjustments returns a run's plan adjustment rows in insertion order.
func (s *Store) GetRunAdjustments(ctx context.Context, runID string) ([]*AdjustmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, trigger_task_id, reason, inserted, removed, modified, created_at
		FROM plan_adjustments WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query adjustments: %w", err)
	}
	defer rows.Close()

	var records []*AdjustmentRecord
	for rows.Next() {
		rec := &AdjustmentRecord{}
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.TriggerTaskID, &rec.Reason,
			&rec.Inserted, &rec.Removed, &rec.Modified, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan adjustment row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetRunStats aggregates a run's execution rows.
func (s *Store) GetRunStats(ctx context.Context, runID string) (*RunStats, error) {
	stats := &RunStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0)
		FROM task_executions WHERE run_id = ?`, runID).
		Scan(&stats.Total, &stats.Succeeded, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("query run stats: %w", err)
	}
	return stats, nil
}

// ListRuns returns the distinct run ids present in the store, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id FROM task_executions GROUP BY run_id ORDER BY MAX(id) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		runs = append(runs, id)
	}
	return runs, rows.Err()
}
