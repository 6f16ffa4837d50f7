package llm

import (
	"strings"

	"codeloom/internal/domain/models/chat"
)

// ExtractToolUsesFromParts parses an ordered content sequence into
// tool_use parts. Free text preceding a tool use becomes that part's
// Thinking annotation; trailing free text after the last tool use is
// appended to the final part's Thinking rather than dropped.
//
// Adapters share this because the normalization is vendor-neutral once
// the response has been converted to internal parts.
func ExtractToolUsesFromParts(parts []chat.Part) []chat.Part {
	var uses []chat.Part
	var pending []string

	for _, p := range parts {
		switch p.Type {
		case chat.PartTypeText:
			if strings.TrimSpace(p.Text) != "" {
				pending = append(pending, p.Text)
			}
		case chat.PartTypeToolUse:
			use := p
			if len(pending) > 0 {
				use.Thinking = joinThinking(use.Thinking, pending)
				pending = nil
			}
			uses = append(uses, use)
		}
	}

	if len(pending) > 0 && len(uses) > 0 {
		last := &uses[len(uses)-1]
		last.Thinking = joinThinking(last.Thinking, pending)
	}
	return uses
}

func joinThinking(existing string, texts []string) string {
	joined := strings.Join(texts, "\n")
	if existing == "" {
		return joined
	}
	return existing + "\n" + joined
}
