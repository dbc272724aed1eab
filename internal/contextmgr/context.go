// Package contextmgr manages per-task execution contexts: isolated local
// state, a shared global layer, file references, artifacts, and an
// append-only history of context events.
package contextmgr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ParentTaskKey is the local-context key recording which task a context was
// inherited from.
const ParentTaskKey = "_parent_task_id"

// FileReference points at a file produced or consumed by a task. Contexts
// carry paths, not content.
type FileReference struct {
	Path     string         `json:"path"`
	Metadata map[string]any `json:"metadata,omitempty"`
	AddedAt  time.Time      `json:"added_at"`
}

// Artifact is an inline piece of task output, typically an extracted code
// block or structured fragment small enough to keep in memory.
type Artifact struct {
	Content   any            `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ExecutionRecord is one entry in a task's execution history.
type ExecutionRecord struct {
	Action    string         `json:"action"`
	Result    any            `json:"result"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// TaskContext holds everything the engine knows about one task: a snapshot
// of the global layer, task-local state, file references, artifacts, and the
// task's own execution history.
type TaskContext struct {
	TaskID           string                   `json:"task_id"`
	GlobalContext    map[string]any           `json:"global_context"`
	LocalContext     map[string]any           `json:"local_context"`
	FileRefs         map[string]FileReference `json:"file_paths"`
	ExecutionHistory []ExecutionRecord        `json:"execution_history"`
	BaseDir          string                   `json:"base_dir,omitempty"`
	Artifacts        map[string]Artifact      `json:"artifacts"`
}

// NewTaskContext creates an empty context for taskID carrying the given
// global snapshot.
func NewTaskContext(taskID string, global map[string]any, baseDir string) *TaskContext {
	if global == nil {
		global = map[string]any{}
	}
	return &TaskContext{
		TaskID:        taskID,
		GlobalContext: global,
		LocalContext:  map[string]any{},
		FileRefs:      map[string]FileReference{},
		Artifacts:     map[string]Artifact{},
		BaseDir:       baseDir,
	}
}

// UpdateGlobal sets a key in this context's global snapshot.
func (tc *TaskContext) UpdateGlobal(key string, value any) {
	tc.GlobalContext[key] = value
}

// UpdateLocal sets a key in the task-local layer.
func (tc *TaskContext) UpdateLocal(key string, value any) {
	tc.LocalContext[key] = value
}

// AddFileReference registers a named file reference. The file type is
// inferred from the extension when the metadata does not declare one.
func (tc *TaskContext) AddFileReference(name, path string, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	if _, ok := metadata["type"]; !ok {
		metadata["type"] = inferFileType(path)
	}
	tc.FileRefs[name] = FileReference{
		Path:     path,
		Metadata: metadata,
		AddedAt:  time.Now(),
	}
}

// AddExecutionRecord appends an entry to the task's execution history.
func (tc *TaskContext) AddExecutionRecord(action string, result any, metadata map[string]any) {
	tc.ExecutionHistory = append(tc.ExecutionHistory, ExecutionRecord{
		Action:    action,
		Result:    result,
		Metadata:  metadata,
		Timestamp: time.Now(),
	})
}

// AddArtifact stores an inline artifact under the given name.
func (tc *TaskContext) AddArtifact(name string, content any, metadata map[string]any) {
	tc.Artifacts[name] = Artifact{
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
}

// FileContent reads the content of a named file reference. References typed
// "data" are decoded as JSON; everything else comes back as a string.
func (tc *TaskContext) FileContent(name string) (any, error) {
	ref, ok := tc.FileRefs[name]
	if !ok {
		return nil, fmt.Errorf("no file reference %q in context %s", name, tc.TaskID)
	}

	data, err := os.ReadFile(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("read referenced file %s: %w", ref.Path, err)
	}

	if t, _ := ref.Metadata["type"].(string); t == "data" {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode referenced file %s: %w", ref.Path, err)
		}
		return v, nil
	}
	return string(data), nil
}

// SaveToFile writes the context to path as JSON.
func (tc *TaskContext) SaveToFile(path string) error {
	data, err := json.MarshalIndent(tc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode context %s: %w", tc.TaskID, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write context file: %w", err)
	}
	return nil
}

// LoadTaskContext reads a context previously written with SaveToFile.
func LoadTaskContext(path string) (*TaskContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read context file: %w", err)
	}
	tc := NewTaskContext("", nil, "")
	if err := json.Unmarshal(data, tc); err != nil {
		return nil, fmt.Errorf("decode context file %s: %w", path, err)
	}
	if tc.FileRefs == nil {
		tc.FileRefs = map[string]FileReference{}
	}
	if tc.Artifacts == nil {
		tc.Artifacts = map[string]Artifact{}
	}
	return tc, nil
}

func inferFileType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go", ".py", ".js", ".ts", ".java", ".c", ".cpp", ".cs", ".rs":
		return "code"
	case ".json", ".yaml", ".yml":
		return "data"
	case ".md", ".txt", ".rst":
		return "text"
	case ".png", ".jpg", ".jpeg", ".gif":
		return "image"
	default:
		return "unknown"
	}
}

// deepCopyValue copies JSON-shaped values so propagated context never
// aliases the source task's state. Scalars pass through.
func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		c := make(map[string]any, len(t))
		for k, val := range t {
			c[k] = deepCopyValue(val)
		}
		return c
	case []any:
		c := make([]any, len(t))
		for i, val := range t {
			c[i] = deepCopyValue(val)
		}
		return c
	case map[string]string:
		c := make(map[string]string, len(t))
		for k, val := range t {
			c[k] = val
		}
		return c
	case []string:
		c := make([]string, len(t))
		copy(c, t)
		return c
	default:
		return v
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = deepCopyValue(v)
	}
	return c
}
