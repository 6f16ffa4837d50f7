package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"codeloom/internal/domain/models/chat"
	domainllm "codeloom/internal/domain/services/llm"
)

// convertMessages maps internal messages to Anthropic SDK format. The
// tool role folds into user per the vendor's protocol; file references
// that survived hydration render as their placeholder text.
func convertMessages(messages []*chat.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for i, msg := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Parts))

		for _, part := range msg.Parts {
			switch part.Type {
			case chat.PartTypeText:
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))

			case chat.PartTypeFileRef:
				blocks = append(blocks, anthropic.NewTextBlock(part.Placeholder()))

			case chat.PartTypeImage:
				blocks = append(blocks, anthropic.NewImageBlockBase64(part.MediaType, part.Data))

			case chat.PartTypeToolUse:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    part.ToolUseID,
						Name:  part.ToolName,
						Input: part.Input,
					},
				})

			case chat.PartTypeToolResult:
				content := make([]anthropic.ToolResultBlockParamContentUnion, 0, len(part.Result))
				for _, rp := range part.Result {
					switch rp.Type {
					case chat.PartTypeText:
						content = append(content, anthropic.ToolResultBlockParamContentUnion{
							OfText: &anthropic.TextBlockParam{Text: rp.Text},
						})
					case chat.PartTypeImage:
						img := anthropic.NewImageBlockBase64(rp.MediaType, rp.Data)
						content = append(content, anthropic.ToolResultBlockParamContentUnion{
							OfImage: img.OfImage,
						})
					}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: part.ToolUseID,
						Content:   content,
						IsError:   anthropic.Bool(part.IsError),
					},
				})

			default:
				return nil, fmt.Errorf("message %d: unsupported part type %q", i, part.Type)
			}
		}

		if len(blocks) == 0 {
			continue
		}

		switch msg.Role {
		case chat.RoleUser, chat.RoleTool:
			result = append(result, anthropic.NewUserMessage(blocks...))
		case chat.RoleAssistant:
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("message %d: unsupported role %q", i, msg.Role)
		}
	}

	return result, nil
}

// convertTools serializes tool schemas into the vendor's tool-calling
// format.
func convertTools(tools []chat.Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if t.InputSchema != nil {
			schema.Properties = t.InputSchema.Properties
			schema.Required = t.InputSchema.Required
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}

// convertResponse maps an Anthropic message to the normalized response.
func convertResponse(msg *anthropic.Message) (*domainllm.Response, error) {
	parts := make([]chat.Part, 0, len(msg.Content))

	for _, content := range msg.Content {
		switch content.Type {
		case "text":
			parts = append(parts, chat.TextPart(content.Text))

		case "tool_use":
			var input map[string]any
			if len(content.Input) > 0 {
				if err := json.Unmarshal(content.Input, &input); err != nil {
					return nil, fmt.Errorf("decode tool input for %s: %w", content.Name, err)
				}
			}
			parts = append(parts, chat.ToolUsePart(content.ID, content.Name, input))

		case "thinking":
			// Keep extended thinking as text so it is never dropped.
			parts = append(parts, chat.TextPart(content.Thinking))

		default:
			// Unknown block types are skipped; vendors add types.
			continue
		}
	}

	metadata := map[string]any{}
	if msg.StopSequence != "" {
		metadata["stop_sequence"] = msg.StopSequence
	}
	if msg.Usage.CacheCreationInputTokens > 0 {
		metadata["cache_creation_input_tokens"] = int(msg.Usage.CacheCreationInputTokens)
	}
	if msg.Usage.CacheReadInputTokens > 0 {
		metadata["cache_read_input_tokens"] = int(msg.Usage.CacheReadInputTokens)
	}

	inputTokens := int(msg.Usage.InputTokens)
	outputTokens := int(msg.Usage.OutputTokens)

	return &domainllm.Response{
		ID:       msg.ID,
		Provider: domainllm.ProviderAnthropic,
		Model:    string(msg.Model),
		Parts:    parts,
		StopRaw:  string(msg.StopReason),
		Usage: chat.TokenUsage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  inputTokens + outputTokens,
		},
		Metadata: metadata,
	}, nil
}
