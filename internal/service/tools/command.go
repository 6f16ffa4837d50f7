package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"codeloom/internal/domain"
	"codeloom/internal/domain/models/chat"
	"codeloom/internal/project"
)

// CommandTool implements run_command: allow-listed external commands
// executed in the project root.
type CommandTool struct {
	project *project.Context
	allowed map[string]bool
	timeout time.Duration
}

// NewCommandTool creates the command tool with the given allow-list.
func NewCommandTool(projectCtx *project.Context, allowed []string, timeout time.Duration) *CommandTool {
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	return &CommandTool{project: projectCtx, allowed: set, timeout: timeout}
}

// Descriptor returns the tool's model-facing descriptor.
func (t *CommandTool) Descriptor() chat.Tool {
	return chat.Tool{
		Name:        "run_command",
		Description: "Run an allow-listed command in the project root and return its combined output.",
		InputSchema: &chat.Schema{
			Type: "object",
			Properties: map[string]*chat.Schema{
				"command": {Type: "string", Description: "Executable name; must be on the allow-list"},
				"args":    {Type: "array", Items: &chat.Schema{Type: "string"}, Description: "Arguments"},
			},
			Required: []string{"command"},
		},
	}
}

// Execute implements Executor.
func (t *CommandTool) Execute(ctx context.Context, input map[string]any) ([]chat.Part, error) {
	command, _ := input["command"].(string)
	if !t.allowed[command] {
		return nil, &domain.CommandError{Command: command, Err: fmt.Errorf("not on the allow-list")}
	}

	var args []string
	if raw, ok := input["args"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				args = append(args, s)
			}
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = t.project.Root()
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return nil, &domain.CommandError{Command: command,
			Err: fmt.Errorf("%w; output: %s", err, truncate(out.String(), 2000))}
	}

	return []chat.Part{chat.TextPart(out.String())}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
