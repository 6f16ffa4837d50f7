package chat

// Tool is the static descriptor of one registered tool: a unique name,
// a human-readable description and the input schema advertised to the
// model and enforced before execution.
type Tool struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	InputSchema *Schema `json:"input_schema" yaml:"input_schema"`
}

// ToolCall is a model-emitted request to invoke a named tool.
// Validation carries the server-side schema check state so dispatch can
// skip re-validating input that was already checked during response
// validation.
type ToolCall struct {
	ToolUseID string         `json:"tool_use_id"`
	ToolName  string         `json:"tool_name"`
	Input     map[string]any `json:"tool_input"`

	Validation ToolCallValidation `json:"tool_validation"`
}

// ToolCallValidation records whether a call's input already passed
// schema validation and the result text of that check.
type ToolCallValidation struct {
	Validated bool   `json:"validated"`
	Results   string `json:"results"`
}

// CallFromPart converts a tool_use content part into a dispatchable call.
func CallFromPart(p Part) ToolCall {
	return ToolCall{
		ToolUseID: p.ToolUseID,
		ToolName:  p.ToolName,
		Input:     p.Input,
	}
}
