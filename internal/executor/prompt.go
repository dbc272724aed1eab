package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harrison/orchestra/internal/contextmgr"
	"github.com/harrison/orchestra/internal/models"
)

// inlinePreviewLimit bounds how large a dependency JSON file may be before
// its content is left out of the prompt.
const inlinePreviewLimit = 10000

// Progress is the plan-position snapshot included in every task prompt.
type Progress struct {
	CurrentIndex   int
	TotalTasks     int
	CompletedTasks []string
}

// buildPrompt assembles the worker prompt for one subtask: instruction,
// environment, absolute output paths with a completion checklist, plan
// progress, resolved input files with small-JSON previews, and success
// criteria.
func buildPrompt(subtask models.Subtask, taskCtx *contextmgr.TaskContext, contexts *contextmgr.Manager, progress Progress, workDir string) string {
	var parts []string

	parts = append(parts, "# Task: "+subtask.Name)
	parts = append(parts, subtask.Instruction)

	parts = append(parts, "## Environment",
		fmt.Sprintf("Working directory: %s\nContext directory: %s", workDir, absPath(contexts.ContextDir(), workDir)))

	// Output file requirements. Paths are absolute so the worker cannot
	// misplace a file by resolving relative to the wrong directory.
	outputNames := sortedKeys(subtask.OutputFiles)
	var req strings.Builder
	req.WriteString("## Required Output Files\n")
	req.WriteString("You MUST create the following files at these exact absolute paths:\n")
	for _, name := range outputNames {
		path := absPath(contexts.ResolvePath(subtask.OutputFiles[name]), workDir)
		if name == models.MainResultKey {
			fmt.Fprintf(&req, "- main result: %s\n", path)
		} else {
			fmt.Fprintf(&req, "- %s: %s\n", name, path)
		}
	}
	if taskCtx != nil && taskCtx.BaseDir != "" {
		fmt.Fprintf(&req, "- other artifacts: %s/\n", absPath(taskCtx.BaseDir, workDir))
	}
	parts = append(parts, req.String())

	parts = append(parts, `## File Creation Rules
1. Actually create every file listed above, at the exact absolute path given.
2. Do not use relative paths.
3. Placeholder or empty files do not count as valid output.
4. The run verifies that each listed file exists at its path; any missing file fails the task.
5. In your reply, list the absolute path of every file you created.
6. If you cannot create a file, say so explicitly and explain why.`)

	if mainPath, ok := subtask.OutputFiles[models.MainResultKey]; ok {
		abs := absPath(contexts.ResolvePath(mainPath), workDir)
		parts = append(parts, fmt.Sprintf("The main result file %s must contain JSON of this form:\n```json\n{\n  \"task_id\": %q,\n  \"success\": true,\n  \"result\": {\n    \"summary\": \"what was accomplished\",\n    \"details\": \"relevant specifics\"\n  },\n  \"artifacts\": [\"paths of files you created\"]\n}\n```", abs, subtask.ID))
	}

	if progress.TotalTasks > 0 {
		parts = append(parts, fmt.Sprintf("## Plan Progress\nCurrent task: %d/%d\nCompleted tasks: %d",
			progress.CurrentIndex+1, progress.TotalTasks, len(progress.CompletedTasks)))
	}

	if inputs := resolveInputFiles(subtask, contexts); len(inputs) > 0 {
		var in strings.Builder
		in.WriteString("## Input Files\n")
		var paths []string
		for _, name := range sortedKeys(inputs) {
			fmt.Fprintf(&in, "- %s: %s\n", name, inputs[name])
			paths = append(paths, inputs[name])
		}
		in.WriteString("\nRead these files for the input data you need.")
		parts = append(parts, in.String())
		parts = append(parts, previewJSONFiles(paths)...)
	} else if taskCtx != nil {
		if deps, ok := taskCtx.LocalContext["dependency_files"].(map[string]any); ok && len(deps) > 0 {
			var in strings.Builder
			in.WriteString("## Files From Earlier Tasks\n")
			for _, depID := range sortedKeys(deps) {
				files, ok := deps[depID].(map[string]any)
				if !ok {
					continue
				}
				for _, key := range sortedKeys(files) {
					if p, ok := files[key].(string); ok {
						fmt.Fprintf(&in, "- %s (%s): %s\n", depID, key, p)
					}
				}
			}
			parts = append(parts, in.String())
		}
	}

	if len(subtask.SuccessCriteria) > 0 {
		var sc strings.Builder
		sc.WriteString("## Success Criteria\nThe task counts as successful only if:\n")
		for _, c := range subtask.SuccessCriteria {
			fmt.Fprintf(&sc, "- %s\n", c)
		}
		parts = append(parts, sc.String())
	}

	parts = append(parts, "End your reply with a line of the form 'TASK_STATUS: <COMPLETED|CONTINUE|NEEDS_MORE_INFO|ERROR>'.")

	return strings.Join(parts, "\n\n")
}

// resolveInputFiles maps each declared input to a concrete path. Specs of
// the form "<task_id>:<output_key>" are looked up in the source task's file
// references; unresolvable references are dropped so the task runs with
// whatever context is available.
func resolveInputFiles(subtask models.Subtask, contexts *contextmgr.Manager) map[string]string {
	if len(subtask.InputFiles) == 0 {
		return nil
	}

	resolved := map[string]string{}
	for name, spec := range subtask.InputFiles {
		sourceID, key, ok := strings.Cut(spec, ":")
		if !ok {
			resolved[name] = spec
			continue
		}
		tc, err := contexts.TaskContext(sourceID)
		if err != nil {
			continue
		}
		ref, present := tc.FileRefs[key]
		if !present {
			continue
		}
		resolved[name] = ref.Path
	}
	return resolved
}

// previewJSONFiles inlines the content of small JSON input files.
func previewJSONFiles(paths []string) []string {
	var previews []string
	for _, p := range paths {
		if !strings.HasSuffix(p, ".json") {
			continue
		}
		info, err := os.Stat(p)
		if err != nil || info.Size() >= inlinePreviewLimit {
			continue
		}
		content, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		previews = append(previews, fmt.Sprintf("### Content preview: %s\n```json\n%s\n```",
			filepath.Base(p), strings.TrimSpace(string(content))))
	}
	return previews
}

func absPath(path, workDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if workDir != "" {
		return filepath.Join(workDir, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
