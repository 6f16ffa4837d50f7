package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"codeloom/internal/domain/models/chat"
)

// Feedback is the outcome of dispatching one tool call: the result
// payload, an error flag, and a human-readable summary used both for
// model feedback and UI display.
type Feedback struct {
	ToolUseID string
	ToolName  string
	Result    []chat.Part
	IsError   bool
	Summary   string
}

// Registry holds the active toolset: name -> descriptor + executor.
// Registration order is preserved so List() is stable and deterministic
// for prompt construction. It is thread-safe.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	tools     map[string]chat.Tool
	executors map[string]Executor
	logger    *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:     make(map[string]chat.Tool),
		executors: make(map[string]Executor),
		logger:    logger,
	}
}

// Register adds a tool by name. Re-registering the same name overwrites
// the previous entry and keeps its original position in the order.
func (r *Registry) Register(tool chat.Tool, executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; !exists {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = tool
	r.executors[tool.Name] = executor
}

// Get retrieves a tool descriptor by name.
func (r *Registry) Get(name string) (chat.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns descriptors in registration order.
func (r *Registry) List() []chat.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]chat.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Dispatch executes one tool call. Unknown tools, schema violations and
// executor failures are all converted into error feedback the model can
// self-correct from; dispatch never propagates tool failures to the
// caller.
func (r *Registry) Dispatch(ctx context.Context, call chat.ToolCall) Feedback {
	r.mu.RLock()
	tool, known := r.tools[call.ToolName]
	executor := r.executors[call.ToolName]
	r.mu.RUnlock()

	if !known {
		return r.errorFeedback(call, fmt.Sprintf("unknown tool %q", call.ToolName))
	}

	if !call.Validation.Validated {
		if err := tool.InputSchema.Validate(call.Input); err != nil {
			return r.errorFeedback(call, fmt.Sprintf("input does not match schema: %v", err))
		}
		call.Validation = chat.ToolCallValidation{Validated: true, Results: "ok"}
	}

	result, err := executor.Execute(ctx, call.Input)
	if err != nil {
		r.logger.Warn("tool execution failed",
			"tool", call.ToolName,
			"tool_use_id", call.ToolUseID,
			"error", err,
		)
		return r.errorFeedback(call, err.Error())
	}

	return Feedback{
		ToolUseID: call.ToolUseID,
		ToolName:  call.ToolName,
		Result:    result,
		Summary:   fmt.Sprintf("Tool %s executed successfully: %s", call.ToolName, flatten(result)),
	}
}

func (r *Registry) errorFeedback(call chat.ToolCall, message string) Feedback {
	return Feedback{
		ToolUseID: call.ToolUseID,
		ToolName:  call.ToolName,
		Result:    []chat.Part{chat.TextPart(message)},
		IsError:   true,
		Summary:   fmt.Sprintf("Tool %s failed to run: %s", call.ToolName, message),
	}
}

func flatten(parts []chat.Part) string {
	out := ""
	for _, p := range parts {
		if s := p.PlainText(); s != "" {
			if out != "" {
				out += "\n"
			}
			out += s
		}
	}
	return out
}
