package chat

import "time"

// Entry types for statement events, distinguished so a UI can render
// them differently. All carry the same stats/usage envelope.
const (
	EntryTypeAnswer     = "answer"
	EntryTypeUser       = "user"
	EntryTypeAssistant  = "assistant"
	EntryTypeToolUse    = "tool_use"
	EntryTypeToolResult = "tool_result"
	EntryTypeAuxiliary  = "auxiliary"
)

// Machine-readable error codes surfaced to external callers.
const (
	CodeEmptyPrompt          = "EMPTY_PROMPT"
	CodeNoActiveConversation = "NO_ACTIVE_CONVERSATION"
	CodeStatementInFlight    = "STATEMENT_IN_FLIGHT"
	CodeStatementError       = "STATEMENT_ERROR"
	CodeCancellationError    = "CANCELLATION_ERROR"
	CodePersistenceError     = "PERSISTENCE_ERROR"
)

// LogEntry is the typed payload of a statement event.
type LogEntry struct {
	EntryType string `json:"entryType"`
	Content   string `json:"content"`
}

// StatementEvent is the structured envelope emitted to external
// listeners for answers and progress entries alike.
type StatementEvent struct {
	ConversationID       string             `json:"conversationId"`
	ConversationTitle    string             `json:"conversationTitle"`
	Timestamp            time.Time          `json:"timestamp"`
	ConversationStats    ConversationStats  `json:"conversationStats"`
	TokenUsageStatement  TokenUsage         `json:"tokenUsageStatement"`
	TokenUsageConversation ConversationTotals `json:"tokenUsageConversation"`
	LogEntry             LogEntry           `json:"logEntry"`
}

// ErrorEvent is the structured error envelope, always carrying a stable
// machine-readable code plus a human-readable message.
type ErrorEvent struct {
	ConversationID string `json:"conversationId"`
	Error          string `json:"error"`
	Code           string `json:"code"`
}

// TurnLogEntry is the durable per-turn audit record, distinct from the
// LLM-facing message array: the model answer plus a stats snapshot and
// the token usage for that turn.
type TurnLogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Answer    string            `json:"answer"`
	Stats     ConversationStats `json:"stats"`
	Usage     TokenUsage        `json:"usage"`
}
