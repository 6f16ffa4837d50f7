package chat

import "fmt"

// Part type constants
const (
	PartTypeText       = "text"
	PartTypeImage      = "image"
	PartTypeToolUse    = "tool_use"
	PartTypeToolResult = "tool_result"
	PartTypeFileRef    = "file_ref"
)

// Part is one element of a message's ordered content sequence.
// It is a tagged union: Type selects which fields are meaningful.
//
// User parts: text, image, file_ref, tool_result
// Assistant parts: text, tool_use
//
// Field usage by type:
//   - text: Text
//   - image: MediaType, Data (base64)
//   - tool_use: ToolUseID, ToolName, Input, Thinking (free text the model
//     emitted before the call)
//   - tool_result: ToolUseID (references the originating tool_use),
//     Result (text/image parts), IsError
//   - file_ref: Path (hydrated to full file content at prepare time,
//     see conversation.PrepareMessages)
type Part struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Thinking  string         `json:"thinking,omitempty"`

	Result  []Part `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`

	Path string `json:"path,omitempty"`
}

// TextPart builds a plain text part.
func TextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

// ImagePart builds an image part from a base64 payload.
func ImagePart(mediaType, data string) Part {
	return Part{Type: PartTypeImage, MediaType: mediaType, Data: data}
}

// ToolUsePart builds a tool invocation request part.
func ToolUsePart(id, name string, input map[string]any) Part {
	return Part{Type: PartTypeToolUse, ToolUseID: id, ToolName: name, Input: input}
}

// ToolResultPart builds a result part referencing a prior tool_use id.
func ToolResultPart(toolUseID string, result []Part, isError bool) Part {
	return Part{Type: PartTypeToolResult, ToolUseID: toolUseID, Result: result, IsError: isError}
}

// FileRefPart builds a typed file reference. The rendered placeholder text
// ("File added: <path>") is only produced for display and vendor wire
// formats; hydration keys off the Path field, never string matching.
func FileRefPart(path string) Part {
	return Part{Type: PartTypeFileRef, Path: path}
}

// Placeholder returns the display rendering of a file_ref part.
func (p Part) Placeholder() string {
	return fmt.Sprintf("File added: %s", p.Path)
}

// PlainText flattens the part to a display string. Tool parts render a
// short marker rather than their structured payload.
func (p Part) PlainText() string {
	switch p.Type {
	case PartTypeText:
		return p.Text
	case PartTypeFileRef:
		return p.Placeholder()
	case PartTypeImage:
		return fmt.Sprintf("[image %s]", p.MediaType)
	case PartTypeToolUse:
		return fmt.Sprintf("[tool use %s]", p.ToolName)
	case PartTypeToolResult:
		return fmt.Sprintf("[tool result %s]", p.ToolUseID)
	}
	return ""
}
