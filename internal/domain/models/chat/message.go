package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role constants
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is one conversational turn: a role plus an ordered, non-empty
// content sequence. Messages are immutable once the turn loop has moved
// past them; the only later rewrite is file-reference hydration, which
// preserves identity and order.
//
// StatementCount/TurnCount are stamped at append time so the persisted
// message log can be replayed and audited independently of the live
// conversation object.
type Message struct {
	ID               string         `json:"id"`
	Role             string         `json:"role"`
	Parts            []Part         `json:"content"`
	ToolCallID       string         `json:"tool_call_id,omitempty"`
	ProviderResponse map[string]any `json:"provider_response,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`

	StatementCount int `json:"statement_count"`
	TurnCount      int `json:"turn_count"`
}

// NewMessage creates a message with a fresh sortable id and timestamp.
// Construction never fails; content validation is the caller's job
// (registry and provider adapters validate before constructing).
func NewMessage(role string, parts []Part) *Message {
	return &Message{
		ID:        NewID(),
		Role:      role,
		Parts:     parts,
		Timestamp: time.Now().UTC(),
	}
}

// NewID returns a globally unique id that sorts lexically by creation
// order (UUIDv7, time-ordered). Persistence replay and UI ordering rely
// on this property.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Entropy exhaustion only; fall back to random.
		return uuid.NewString()
	}
	return id.String()
}

// Text flattens the message content to a display string.
func (m *Message) Text() string {
	out := ""
	for _, p := range m.Parts {
		if s := p.PlainText(); s != "" {
			if out != "" {
				out += "\n"
			}
			out += s
		}
	}
	return out
}

// ToolUses returns the tool_use parts in content order.
func (m *Message) ToolUses() []Part {
	var uses []Part
	for _, p := range m.Parts {
		if p.Type == PartTypeToolUse {
			uses = append(uses, p)
		}
	}
	return uses
}
