package repositories

import (
	"context"
	"time"

	"codeloom/internal/domain/models/chat"
)

// IndexEntry is the lightweight, list-friendly record kept in the shared
// index of all conversations, upserted by id.
type IndexEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Provider  string    `json:"providerName"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationRecord is the detailed metadata record for one
// conversation: the index fields plus model parameters, counters,
// usage totals and the registered tool list.
type ConversationRecord struct {
	IndexEntry

	System      string                  `json:"system"`
	Temperature float64                 `json:"temperature"`
	MaxTokens   int                     `json:"maxTokens"`
	Stats       chat.ConversationStats  `json:"conversationStats"`
	Totals      chat.ConversationTotals `json:"tokenUsage"`
	Tools       []chat.Tool             `json:"tools"`
	TurnLog     []chat.TurnLogEntry     `json:"turnLog"`
}

// ConversationStore is the durable, resumable storage contract for
// conversation metadata, the message log and attached-file metadata.
//
// SaveConversation is called twice per statement (after the first
// response and again at the end of the loop) and must tolerate that
// without duplicating index entries.
type ConversationStore interface {
	// Init idempotently ensures on-disk structures exist. Safe to call
	// multiple times.
	Init(ctx context.Context) error

	// SaveConversation upserts the index entry and detail record, then
	// rewrites the message log and attachment metadata for the
	// conversation.
	SaveConversation(ctx context.Context, rec *ConversationRecord, messages []*chat.Message, files []chat.FileAttachment) error

	// LoadConversation returns (nil, nil, nil, nil) when no metadata
	// exists for the id - the normal "new conversation" path. Read
	// failures are classified errors. Corrupt individual message
	// records are skipped with a logged warning.
	LoadConversation(ctx context.Context, id string) (*ConversationRecord, []*chat.Message, []chat.FileAttachment, error)

	// ListConversations returns the shared index, newest first.
	ListConversations(ctx context.Context) ([]IndexEntry, error)
}

// ChangeLogStore is the append-only per-conversation patch log backing
// undo.
type ChangeLogStore interface {
	LogChange(ctx context.Context, conversationID, path, diffText string) error
	GetChangeLog(ctx context.Context, conversationID string) ([]chat.ChangeEntry, error)
	// RemoveLastChange pops the most recent entry. Returns
	// domain.ErrNothingToUndo when the log is empty.
	RemoveLastChange(ctx context.Context, conversationID string) error
}
