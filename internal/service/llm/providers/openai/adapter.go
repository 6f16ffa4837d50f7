// Package openai implements the provider adapter for OpenAI-compatible
// chat-completions endpoints. The wire format is built and parsed with
// gjson/sjson rather than a vendor SDK so any compatible gateway works
// by pointing the base URL at it.
package openai

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"

	"codeloom/internal/domain/models/chat"
	domainllm "codeloom/internal/domain/services/llm"
)

// buildBody serializes the merged request into the chat-completions
// wire shape.
func buildBody(req *domainllm.Request) ([]byte, error) {
	body := "{}"
	var err error

	set := func(path string, value any) {
		if err != nil {
			return
		}
		body, err = sjson.Set(body, path, value)
	}

	set("model", req.Model)
	if req.MaxTokens > 0 {
		set("max_tokens", req.MaxTokens)
	}
	if req.Temperature > 0 {
		set("temperature", req.Temperature)
	}

	idx := 0
	if req.System != "" {
		set(fmt.Sprintf("messages.%d.role", idx), "system")
		set(fmt.Sprintf("messages.%d.content", idx), req.System)
		idx++
	}

	for _, msg := range req.Messages {
		wire, convErr := convertMessage(msg)
		if convErr != nil {
			return nil, convErr
		}
		for _, m := range wire {
			if err != nil {
				return nil, err
			}
			body, err = sjson.SetRaw(body, fmt.Sprintf("messages.%d", idx), m)
			idx++
		}
	}

	for i, tool := range req.Tools {
		set(fmt.Sprintf("tools.%d.type", i), "function")
		set(fmt.Sprintf("tools.%d.function.name", i), tool.Name)
		set(fmt.Sprintf("tools.%d.function.description", i), tool.Description)
		if tool.InputSchema != nil {
			schemaJSON, mErr := json.Marshal(tool.InputSchema)
			if mErr != nil {
				return nil, fmt.Errorf("serialize schema for %s: %w", tool.Name, mErr)
			}
			if err == nil {
				body, err = sjson.SetRaw(body, fmt.Sprintf("tools.%d.function.parameters", i), string(schemaJSON))
			}
		}
	}

	if err != nil {
		return nil, fmt.Errorf("build request body: %w", err)
	}
	return []byte(body), nil
}

// convertMessage maps one internal message to one or more wire
// messages. Tool results split into separate role=tool messages since
// the vendor has no nested result parts; assistant tool uses become
// tool_calls entries.
func convertMessage(msg *chat.Message) ([]string, error) {
	var out []string

	switch msg.Role {
	case chat.RoleAssistant:
		m := "{}"
		m, _ = sjson.Set(m, "role", "assistant")
		var text string
		callIdx := 0
		for _, part := range msg.Parts {
			switch part.Type {
			case chat.PartTypeText:
				if text != "" {
					text += "\n"
				}
				text += part.Text
			case chat.PartTypeToolUse:
				args, err := json.Marshal(part.Input)
				if err != nil {
					return nil, fmt.Errorf("serialize tool arguments: %w", err)
				}
				m, _ = sjson.Set(m, fmt.Sprintf("tool_calls.%d.id", callIdx), part.ToolUseID)
				m, _ = sjson.Set(m, fmt.Sprintf("tool_calls.%d.type", callIdx), "function")
				m, _ = sjson.Set(m, fmt.Sprintf("tool_calls.%d.function.name", callIdx), part.ToolName)
				m, _ = sjson.Set(m, fmt.Sprintf("tool_calls.%d.function.arguments", callIdx), string(args))
				callIdx++
			}
		}
		if text != "" {
			m, _ = sjson.Set(m, "content", text)
		}
		out = append(out, m)

	case chat.RoleUser, chat.RoleTool:
		var text string
		for _, part := range msg.Parts {
			switch part.Type {
			case chat.PartTypeText:
				if text != "" {
					text += "\n"
				}
				text += part.Text
			case chat.PartTypeFileRef:
				if text != "" {
					text += "\n"
				}
				text += part.Placeholder()
			case chat.PartTypeToolResult:
				// Each tool result becomes its own role=tool message.
				m := "{}"
				m, _ = sjson.Set(m, "role", "tool")
				m, _ = sjson.Set(m, "tool_call_id", part.ToolUseID)
				m, _ = sjson.Set(m, "content", flattenResult(part.Result))
				out = append(out, m)
			}
		}
		if text != "" {
			m := "{}"
			m, _ = sjson.Set(m, "role", "user")
			m, _ = sjson.Set(m, "content", text)
			out = append(out, m)
		}

	default:
		return nil, fmt.Errorf("unsupported role %q", msg.Role)
	}

	return out, nil
}

func flattenResult(parts []chat.Part) string {
	text := ""
	for _, p := range parts {
		if s := p.PlainText(); s != "" {
			if text != "" {
				text += "\n"
			}
			text += s
		}
	}
	return text
}
