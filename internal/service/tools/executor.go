package tools

import (
	"context"

	"codeloom/internal/domain/models/chat"
)

// Executor defines the interface for executing a tool.
// Implementations must be thread-safe and respect context cancellation.
type Executor interface {
	// Execute runs the tool with the given input parameters. The input
	// map has already been validated against the tool's schema. The
	// returned parts are the result payload fed back to the model.
	Execute(ctx context.Context, input map[string]any) ([]chat.Part, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, input map[string]any) ([]chat.Part, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, input map[string]any) ([]chat.Part, error) {
	return f(ctx, input)
}
