package contextmgr

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/orchestra/internal/filelock"
	"github.com/harrison/orchestra/internal/models"
)

// Sentinel errors for context bookkeeping. Both are treated as engine bugs
// by callers and abort the run.
var (
	ErrUnknownTask      = errors.New("no context registered for task")
	ErrDuplicateContext = errors.New("context already registered for task")
)

// ContextEvent is one entry in the manager's append-only change history.
type ContextEvent struct {
	EventType   string    `json:"event_type"`
	PrimaryID   string    `json:"primary_id"`
	SecondaryID string    `json:"secondary_id,omitempty"`
	Data        any       `json:"data,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Manager owns the global context layer, every task's context, and the
// change history. All mutation goes through the manager so parallel
// execution sees a consistent view. Thread-safe.
type Manager struct {
	mu            sync.Mutex
	globalContext map[string]any
	taskContexts  map[string]*TaskContext
	history       []ContextEvent
	contextDir    string
}

// NewManager creates a Manager. When contextDir is non-empty the directory
// and its subtasks/ and results/ subdirectories are created; contexts can
// then be persisted with SaveAll.
func NewManager(contextDir string) (*Manager, error) {
	m := &Manager{
		globalContext: map[string]any{},
		taskContexts:  map[string]*TaskContext{},
		contextDir:    contextDir,
	}
	if contextDir != "" {
		for _, dir := range []string{contextDir, filepath.Join(contextDir, "subtasks"), filepath.Join(contextDir, "results")} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create context directory: %w", err)
			}
		}
	}
	return m, nil
}

// ContextDir returns the manager's persistence directory ("" when in-memory).
func (m *Manager) ContextDir() string { return m.contextDir }

// SetGlobal writes a key into the shared global layer.
func (m *Manager) SetGlobal(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globalContext[key] = value
}

// Global returns a snapshot copy of the global layer.
func (m *Manager) Global() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return deepCopyMap(m.globalContext)
}

// TaskContext returns the live context for taskID.
func (m *Manager) TaskContext(taskID string) (*TaskContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.taskContexts[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	return tc, nil
}

// TaskIDs returns the ids of all registered contexts.
func (m *Manager) TaskIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.taskContexts))
	for id := range m.taskContexts {
		ids = append(ids, id)
	}
	return ids
}

// CreateSubtaskContext creates a context for subtaskID inheriting from
// parentTaskID. With a nil subset the whole parent local context is
// inherited; otherwise only the named keys. The parent link is recorded
// under ParentTaskKey. Creating a second context for the same id is an
// error.
func (m *Manager) CreateSubtaskContext(parentTaskID, subtaskID string, contextSubset []string) (*TaskContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.taskContexts[subtaskID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateContext, subtaskID)
	}

	var baseDir string
	if m.contextDir != "" {
		baseDir = filepath.Join(m.contextDir, "results", subtaskID)
		if err := os.MkdirAll(baseDir, 0755); err != nil {
			return nil, fmt.Errorf("create result directory for %s: %w", subtaskID, err)
		}
	}

	tc := NewTaskContext(subtaskID, deepCopyMap(m.globalContext), baseDir)

	if parent, ok := m.taskContexts[parentTaskID]; ok {
		if contextSubset != nil {
			for _, key := range contextSubset {
				if v, present := parent.LocalContext[key]; present {
					tc.LocalContext[key] = deepCopyValue(v)
				}
			}
		} else {
			for key, v := range parent.LocalContext {
				tc.LocalContext[key] = deepCopyValue(v)
			}
		}
	}
	tc.LocalContext[ParentTaskKey] = parentTaskID

	m.taskContexts[subtaskID] = tc
	m.logEvent("create", subtaskID, parentTaskID, nil)
	return tc, nil
}

// UpdateTaskContext merges updates into the task's local context. With
// updateGlobal the same keys are written into the shared global layer and
// the task's global snapshot. Returns ErrUnknownTask for unregistered ids.
func (m *Manager) UpdateTaskContext(taskID string, updates map[string]any, updateGlobal bool) (*TaskContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tc, ok := m.taskContexts[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	for key, value := range updates {
		tc.UpdateLocal(key, value)
	}
	if updateGlobal {
		for key, value := range updates {
			m.globalContext[key] = value
			tc.UpdateGlobal(key, value)
		}
	}

	m.logEvent("update", taskID, "", updates)
	return tc, nil
}

// PropagateOptions selects what PropagateResults carries over. Nil Keys means
// all local-context keys; nil FileRefKeys means all file references; nil
// ArtifactKeys means no artifacts.
type PropagateOptions struct {
	Keys         []string
	FileRefKeys  []string
	ArtifactKeys []string
}

// PropagateResults deep-copies context from one task into others. Target ids
// without a registered context are skipped silently; the receiving task then
// runs with whatever context is available. An unknown source id is an error.
func (m *Manager) PropagateResults(fromTaskID string, toTaskIDs []string, opts PropagateOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	source, ok := m.taskContexts[fromTaskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, fromTaskID)
	}

	keys := opts.Keys
	if keys == nil {
		keys = make([]string, 0, len(source.LocalContext))
		for k := range source.LocalContext {
			keys = append(keys, k)
		}
	}

	refKeys := opts.FileRefKeys
	if refKeys == nil {
		refKeys = make([]string, 0, len(source.FileRefs))
		for k := range source.FileRefs {
			refKeys = append(refKeys, k)
		}
	}

	for _, targetID := range toTaskIDs {
		target, ok := m.taskContexts[targetID]
		if !ok {
			continue
		}

		for _, key := range keys {
			if v, present := source.LocalContext[key]; present {
				target.LocalContext[key] = deepCopyValue(v)
			}
		}

		for _, name := range refKeys {
			ref, present := source.FileRefs[name]
			if !present {
				continue
			}
			copied := FileReference{
				Path:     ref.Path,
				Metadata: deepCopyMap(ref.Metadata),
				AddedAt:  ref.AddedAt,
			}
			if copied.Metadata == nil {
				copied.Metadata = map[string]any{}
			}
			refs, _ := copied.Metadata["references"].([]any)
			copied.Metadata["references"] = append(refs, map[string]any{
				"source_task":   fromTaskID,
				"propagated_at": time.Now().Format(time.RFC3339),
			})
			target.FileRefs[name] = copied
		}

		for _, name := range opts.ArtifactKeys {
			art, present := source.Artifacts[name]
			if !present {
				continue
			}
			target.Artifacts[name] = Artifact{
				Content:   deepCopyValue(art.Content),
				Metadata:  deepCopyMap(art.Metadata),
				CreatedAt: art.CreatedAt,
			}
		}

		m.logEvent("propagate", fromTaskID, targetID, map[string]any{
			"context_keys":        keys,
			"file_reference_keys": refKeys,
			"artifact_keys":       opts.ArtifactKeys,
		})
	}
	return nil
}

// ExecutionSummary is the digest the plan-adjustment judgment reads after a
// task finishes.
type ExecutionSummary struct {
	TaskID          string           `json:"task_id"`
	Success         bool             `json:"success"`
	Output          string           `json:"output"`
	FileReferences  []string         `json:"file_references"`
	Artifacts       []string         `json:"artifacts"`
	ExecutionEvents int              `json:"execution_events"`
	LastEvent       *ExecutionRecord `json:"last_event,omitempty"`
	KeyMetrics      map[string]any   `json:"key_metrics"`
	ResultData      any              `json:"result_data,omitempty"`
	ResultLoadError string           `json:"result_load_error,omitempty"`
}

// GetExecutionSummary builds a read-only summary of a task's execution
// state. It never mutates the context, so repeated calls for the same task
// return the same summary. Unknown ids are an error.
func (m *Manager) GetExecutionSummary(taskID string) (*ExecutionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tc, ok := m.taskContexts[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	summary := &ExecutionSummary{
		TaskID:          taskID,
		ExecutionEvents: len(tc.ExecutionHistory),
		KeyMetrics:      map[string]any{},
	}
	if success, ok := tc.LocalContext["success"].(bool); ok {
		summary.Success = success
	}
	if output, ok := tc.LocalContext["output"].(string); ok {
		summary.Output = output
	}
	if metrics, ok := tc.LocalContext["metrics"].(map[string]any); ok {
		summary.KeyMetrics = deepCopyMap(metrics)
	}
	for name := range tc.FileRefs {
		summary.FileReferences = append(summary.FileReferences, name)
	}
	for name := range tc.Artifacts {
		summary.Artifacts = append(summary.Artifacts, name)
	}
	if n := len(tc.ExecutionHistory); n > 0 {
		last := tc.ExecutionHistory[n-1]
		summary.LastEvent = &last
	}

	if ref, ok := tc.FileRefs["result_file"]; ok {
		data, err := os.ReadFile(ref.Path)
		if err != nil {
			summary.ResultLoadError = err.Error()
		} else {
			var v any
			if err := json.Unmarshal(data, &v); err != nil {
				summary.ResultLoadError = err.Error()
			} else {
				summary.ResultData = v
			}
		}
	}
	return summary, nil
}

// History returns a copy of the context change history.
func (m *Manager) History() []ContextEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := make([]ContextEvent, len(m.history))
	copy(events, m.history)
	return events
}

// CreateOutputDirectories prepares the filesystem for a plan: a results
// directory and a definition file per subtask, plus parent directories for
// every declared output file.
func (m *Manager) CreateOutputDirectories(subtasks []models.Subtask) error {
	if m.contextDir == "" {
		return nil
	}

	for _, st := range subtasks {
		if err := os.MkdirAll(filepath.Join(m.contextDir, "results", st.ID), 0755); err != nil {
			return fmt.Errorf("create result directory for %s: %w", st.ID, err)
		}

		defData, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return fmt.Errorf("encode subtask %s: %w", st.ID, err)
		}
		defPath := filepath.Join(m.contextDir, "subtasks", st.ID+".json")
		if err := filelock.AtomicWrite(defPath, defData); err != nil {
			return fmt.Errorf("write subtask definition %s: %w", st.ID, err)
		}

		for _, outputPath := range st.OutputFiles {
			p := m.ResolvePath(outputPath)
			if strings.HasSuffix(p, string(os.PathSeparator)) || strings.HasSuffix(outputPath, "/") {
				if err := os.MkdirAll(p, 0755); err != nil {
					return fmt.Errorf("create output directory %s: %w", p, err)
				}
				continue
			}
			if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
				return fmt.Errorf("create output parent directory: %w", err)
			}
		}
	}
	return nil
}

// ResolvePath makes a declared output path absolute relative to the context
// directory. Absolute paths pass through.
func (m *Manager) ResolvePath(path string) string {
	if filepath.IsAbs(path) || m.contextDir == "" {
		return path
	}
	return filepath.Join(m.contextDir, path)
}

// SaveAll persists the global layer, every task context, and the change
// history under the context directory. No-op when in-memory.
func (m *Manager) SaveAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.contextDir == "" {
		return nil
	}

	globalData, err := json.MarshalIndent(m.globalContext, "", "  ")
	if err != nil {
		return fmt.Errorf("encode global context: %w", err)
	}
	if err := filelock.AtomicWrite(filepath.Join(m.contextDir, "global_context.json"), globalData); err != nil {
		return fmt.Errorf("write global context: %w", err)
	}

	for taskID, tc := range m.taskContexts {
		data, err := json.MarshalIndent(tc, "", "  ")
		if err != nil {
			return fmt.Errorf("encode context %s: %w", taskID, err)
		}
		path := filepath.Join(m.contextDir, "task_"+taskID+".json")
		if err := filelock.AtomicWrite(path, data); err != nil {
			return fmt.Errorf("write context %s: %w", taskID, err)
		}
	}

	historyData, err := json.MarshalIndent(m.history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode context history: %w", err)
	}
	if err := filelock.AtomicWrite(filepath.Join(m.contextDir, "context_history.json"), historyData); err != nil {
		return fmt.Errorf("write context history: %w", err)
	}
	return nil
}

// LoadAll restores state previously written with SaveAll. Missing files are
// not errors; the manager simply starts fresh for whatever is absent.
func (m *Manager) LoadAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.contextDir == "" {
		return nil
	}

	globalPath := filepath.Join(m.contextDir, "global_context.json")
	if data, err := os.ReadFile(globalPath); err == nil {
		if err := json.Unmarshal(data, &m.globalContext); err != nil {
			return fmt.Errorf("decode global context: %w", err)
		}
	}

	entries, err := os.ReadDir(m.contextDir)
	if err != nil {
		return fmt.Errorf("scan context directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "task_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		taskID := strings.TrimSuffix(strings.TrimPrefix(name, "task_"), ".json")
		tc, err := LoadTaskContext(filepath.Join(m.contextDir, name))
		if err != nil {
			return fmt.Errorf("load context %s: %w", taskID, err)
		}
		m.taskContexts[taskID] = tc
	}

	historyPath := filepath.Join(m.contextDir, "context_history.json")
	if data, err := os.ReadFile(historyPath); err == nil {
		if err := json.Unmarshal(data, &m.history); err != nil {
			return fmt.Errorf("decode context history: %w", err)
		}
	}
	return nil
}

// logEvent appends to the change history. Callers hold m.mu.
func (m *Manager) logEvent(eventType, primaryID, secondaryID string, data any) {
	m.history = append(m.history, ContextEvent{
		EventType:   eventType,
		PrimaryID:   primaryID,
		SecondaryID: secondaryID,
		Data:        data,
		Timestamp:   time.Now(),
	})
}
