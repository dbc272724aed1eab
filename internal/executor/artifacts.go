package executor

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/harrison/orchestra/internal/models"
)

// summaryLimit caps the fallback summary taken from raw worker output.
const summaryLimit = 200

// workerResult is the JSON shape workers are asked to emit, either inline in
// a fenced block or in the main result file.
type workerResult struct {
	TaskID    string                  `json:"task_id"`
	Success   *bool                   `json:"success"`
	Summary   string                  `json:"summary"`
	Details   string                  `json:"details"`
	Result    *models.StructuredResult `json:"result"`
	NextSteps []string                `json:"next_steps"`
}

// parseWorkerOutput extracts a structured result and code artifacts from the
// worker's reply. The last parseable JSON block supplies the structured
// result; every other fenced block becomes an artifact named
// "<lang>_code_<n>". Without a JSON block the summary falls back to the
// leading text of the reply.
func parseWorkerOutput(output string) (models.StructuredResult, []string, map[string]string) {
	source := []byte(output)
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	var structured *models.StructuredResult
	var nextSteps []string
	artifacts := map[string]string{}
	langCounts := map[string]int{}

	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fcb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		lang := strings.ToLower(string(fcb.Language(source)))
		content := fencedContent(fcb, source)

		if lang == "json" {
			// Last parseable block wins; earlier ones can be echoes of the
			// prompt's example.
			if sr, steps, ok := decodeWorkerResult(content); ok {
				structured = sr
				nextSteps = steps
				return ast.WalkContinue, nil
			}
		}

		if lang == "" {
			lang = "text"
		}
		langCounts[lang]++
		artifacts[fmt.Sprintf("%s_code_%d", lang, langCounts[lang])] = content
		return ast.WalkContinue, nil
	})

	if structured == nil {
		structured = &models.StructuredResult{Summary: fallbackSummary(output)}
	}
	return *structured, nextSteps, artifacts
}

// decodeWorkerResult accepts both the full worker result shape and a bare
// {summary, details} object.
func decodeWorkerResult(content string) (*models.StructuredResult, []string, bool) {
	var wr workerResult
	if err := json.Unmarshal([]byte(content), &wr); err != nil {
		return nil, nil, false
	}

	if wr.Result != nil && wr.Result.Summary != "" {
		return wr.Result, wr.NextSteps, true
	}
	if wr.Summary != "" {
		return &models.StructuredResult{Summary: wr.Summary, Details: wr.Details}, wr.NextSteps, true
	}
	return nil, nil, false
}

func fencedContent(fcb *ast.FencedCodeBlock, source []byte) string {
	var sb strings.Builder
	lines := fcb.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(source))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// fallbackSummary trims the reply to a short single-paragraph summary.
func fallbackSummary(output string) string {
	s := strings.TrimSpace(output)
	// Drop the trailing status marker line if present.
	if i := strings.LastIndex(s, "TASK_STATUS:"); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if len(s) > summaryLimit {
		cut := summaryLimit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	if s == "" {
		s = "task completed with no textual output"
	}
	return s
}
