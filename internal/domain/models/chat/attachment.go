package chat

import "time"

// FileAttachment records a project file attached to a conversation,
// either pinned into the system prompt or injected into message history.
// MessageID and ToolUseID are back-references used only for lookup,
// never for ownership.
type FileAttachment struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	InSystem     bool      `json:"in_system"`
	MessageID    string    `json:"message_id,omitempty"`
	ToolUseID    string    `json:"tool_use_id,omitempty"`
}

// ChangeEntry is one record of the append-only per-conversation change
// log: a forward unified diff for a single file. The most recent entry
// is what undo operates on.
type ChangeEntry struct {
	Timestamp time.Time `json:"timestamp"`
	FilePath  string    `json:"filePath"`
	Patch     string    `json:"patch"`
}
