package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"codeloom/internal/domain/models/chat"
	"codeloom/internal/project"
)

// SearchTool implements search_project: file name and content matching
// under the project root.
type SearchTool struct {
	project    *project.Context
	maxResults int
}

// NewSearchTool creates the search tool.
func NewSearchTool(projectCtx *project.Context, maxResults int) *SearchTool {
	return &SearchTool{project: projectCtx, maxResults: maxResults}
}

// Descriptor returns the tool's model-facing descriptor.
func (t *SearchTool) Descriptor() chat.Tool {
	return chat.Tool{
		Name:        "search_project",
		Description: "Search project files by name glob or content substring. Returns matching paths, with line numbers for content matches.",
		InputSchema: &chat.Schema{
			Type: "object",
			Properties: map[string]*chat.Schema{
				"pattern": {Type: "string", Description: "File name glob (e.g. *.go) or plain substring"},
				"content": {Type: "string", Description: "Optional content substring to search inside matching files"},
			},
			Required: []string{"pattern"},
		},
	}
}

// Execute implements Executor.
func (t *SearchTool) Execute(ctx context.Context, input map[string]any) ([]chat.Part, error) {
	pattern, _ := input["pattern"].(string)
	content, _ := input["content"].(string)

	files, err := t.project.ListFiles(0)
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !matchesPattern(f, pattern) {
			continue
		}
		if content == "" {
			matches = append(matches, f)
		} else {
			matches = append(matches, t.contentMatches(f, content)...)
		}
		if len(matches) >= t.maxResults {
			matches = matches[:t.maxResults]
			break
		}
	}

	if len(matches) == 0 {
		return []chat.Part{chat.TextPart("no matches")}, nil
	}
	return []chat.Part{chat.TextPart(strings.Join(matches, "\n"))}, nil
}

func (t *SearchTool) contentMatches(rel, needle string) []string {
	data, err := t.project.ReadFile(rel)
	if err != nil {
		return nil
	}
	var out []string
	for i, line := range strings.Split(string(data), "\n") {
		if strings.Contains(line, needle) {
			out = append(out, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
		}
	}
	return out
}

func matchesPattern(path, pattern string) bool {
	if pattern == "" || pattern == "." {
		return true
	}
	if ok, err := filepath.Match(pattern, filepath.Base(path)); err == nil && ok {
		return true
	}
	return strings.Contains(path, pattern)
}
