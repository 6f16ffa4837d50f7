package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"codeloom/internal/domain"
	"codeloom/internal/domain/models/chat"
	"codeloom/internal/domain/repositories"
)

// ConversationStore implements the conversation persistence contract on
// PostgreSQL. Stats, usage totals, tools, message parts and provider
// responses are stored as JSONB; the message log is rewritten on each
// save so the store is a faithful snapshot, not a diff.
type ConversationStore struct {
	pool   *pgxpool.Pool
	tables *TableNames
	tm     repositories.TransactionManager
	logger *slog.Logger
}

// NewConversationStore creates a conversation store.
func NewConversationStore(config *RepositoryConfig) *ConversationStore {
	return &ConversationStore{
		pool:   config.Pool,
		tables: config.Tables,
		tm:     NewTransactionManager(config.Pool, config.Logger),
		logger: config.Logger,
	}
}

// Init idempotently ensures the prefixed tables exist. Versioned
// schema evolution is handled by migrations at startup; Init covers
// non-default prefixes (tests) and repeated calls are safe.
func (s *ConversationStore) Init(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT '',
			temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_tokens INTEGER NOT NULL DEFAULT 0,
			stats JSONB NOT NULL DEFAULT '{}',
			totals JSONB NOT NULL DEFAULT '{}',
			tools JSONB NOT NULL DEFAULT '[]',
			turn_log JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, s.tables.Conversations),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			id TEXT NOT NULL,
			role TEXT NOT NULL,
			parts JSONB NOT NULL,
			tool_call_id TEXT NOT NULL DEFAULT '',
			provider_response JSONB,
			statement_count INTEGER NOT NULL DEFAULT 0,
			turn_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (conversation_id, seq)
		)`, s.tables.Messages),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			conversation_id TEXT NOT NULL,
			path TEXT NOT NULL,
			size BIGINT NOT NULL DEFAULT 0,
			last_modified TIMESTAMPTZ,
			in_system BOOLEAN NOT NULL DEFAULT FALSE,
			message_id TEXT NOT NULL DEFAULT '',
			tool_use_id TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (conversation_id, path)
		)`, s.tables.Attachments),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			file_path TEXT NOT NULL,
			patch TEXT NOT NULL
		)`, s.tables.Changes),
	}

	executor := GetExecutor(ctx, s.pool)
	for _, stmt := range statements {
		if _, err := executor.Exec(ctx, stmt); err != nil {
			return classifySaveError("init schema", err)
		}
	}
	return nil
}

// SaveConversation upserts the conversation record and rewrites the
// message log and attachment metadata, all in one transaction. Called
// twice per statement; the upsert keeps the index free of duplicates.
func (s *ConversationStore) SaveConversation(
	ctx context.Context,
	rec *repositories.ConversationRecord,
	messages []*chat.Message,
	files []chat.FileAttachment,
) error {
	stats, err := json.Marshal(rec.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	totals, err := json.Marshal(rec.Totals)
	if err != nil {
		return fmt.Errorf("marshal totals: %w", err)
	}
	tools, err := json.Marshal(rec.Tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	turnLog, err := json.Marshal(rec.TurnLog)
	if err != nil {
		return fmt.Errorf("marshal turn log: %w", err)
	}

	return s.tm.ExecTx(ctx, func(ctx context.Context) error {
		executor := GetExecutor(ctx, s.pool)

		upsert := fmt.Sprintf(`
			INSERT INTO %s (id, title, provider, model, system_prompt, temperature, max_tokens, stats, totals, tools, turn_log, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title,
				provider = EXCLUDED.provider,
				model = EXCLUDED.model,
				system_prompt = EXCLUDED.system_prompt,
				temperature = EXCLUDED.temperature,
				max_tokens = EXCLUDED.max_tokens,
				stats = EXCLUDED.stats,
				totals = EXCLUDED.totals,
				tools = EXCLUDED.tools,
				turn_log = EXCLUDED.turn_log,
				updated_at = EXCLUDED.updated_at
		`, s.tables.Conversations)
		if _, err := executor.Exec(ctx, upsert,
			rec.ID, rec.Title, rec.Provider, rec.Model, rec.System,
			rec.Temperature, rec.MaxTokens, stats, totals, tools, turnLog,
			rec.CreatedAt, rec.UpdatedAt,
		); err != nil {
			return classifySaveError("upsert conversation", err)
		}

		if _, err := executor.Exec(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE conversation_id = $1", s.tables.Messages), rec.ID); err != nil {
			return classifySaveError("clear message log", err)
		}
		insertMsg := fmt.Sprintf(`
			INSERT INTO %s (conversation_id, seq, id, role, parts, tool_call_id, provider_response, statement_count, turn_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, s.tables.Messages)
		for seq, msg := range messages {
			parts, err := json.Marshal(msg.Parts)
			if err != nil {
				return fmt.Errorf("marshal message %s parts: %w", msg.ID, err)
			}
			var providerResponse []byte
			if msg.ProviderResponse != nil {
				if providerResponse, err = json.Marshal(msg.ProviderResponse); err != nil {
					return fmt.Errorf("marshal message %s provider response: %w", msg.ID, err)
				}
			}
			if _, err := executor.Exec(ctx, insertMsg,
				rec.ID, seq, msg.ID, msg.Role, parts, msg.ToolCallID,
				providerResponse, msg.StatementCount, msg.TurnCount, msg.Timestamp,
			); err != nil {
				return classifySaveError("insert message", err)
			}
		}

		if _, err := executor.Exec(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE conversation_id = $1", s.tables.Attachments), rec.ID); err != nil {
			return classifySaveError("clear attachments", err)
		}
		insertFile := fmt.Sprintf(`
			INSERT INTO %s (conversation_id, path, size, last_modified, in_system, message_id, tool_use_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, s.tables.Attachments)
		for _, f := range files {
			if _, err := executor.Exec(ctx, insertFile,
				rec.ID, f.Path, f.Size, f.LastModified, f.InSystem, f.MessageID, f.ToolUseID,
			); err != nil {
				return classifySaveError("insert attachment", err)
			}
		}
		return nil
	})
}

// LoadConversation reads one conversation back. An id that was never
// persisted returns all nils, the "new conversation" path; read
// failures are classified errors. Corrupt message records are skipped
// with a logged warning so one bad row cannot brick the whole log.
func (s *ConversationStore) LoadConversation(ctx context.Context, id string) (*repositories.ConversationRecord, []*chat.Message, []chat.FileAttachment, error) {
	query := fmt.Sprintf(`
		SELECT id, title, provider, model, system_prompt, temperature, max_tokens, stats, totals, tools, turn_log, created_at, updated_at
		FROM %s WHERE id = $1
	`, s.tables.Conversations)

	executor := GetExecutor(ctx, s.pool)
	var rec repositories.ConversationRecord
	var stats, totals, tools, turnLog []byte
	err := executor.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.Title, &rec.Provider, &rec.Model, &rec.System,
		&rec.Temperature, &rec.MaxTokens, &stats, &totals, &tools, &turnLog,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, nil, nil, nil
		}
		return nil, nil, nil, classifySaveError("load conversation", err)
	}
	if err := json.Unmarshal(stats, &rec.Stats); err != nil {
		return nil, nil, nil, fmt.Errorf("unmarshal stats: %w", err)
	}
	if err := json.Unmarshal(totals, &rec.Totals); err != nil {
		return nil, nil, nil, fmt.Errorf("unmarshal totals: %w", err)
	}
	if err := json.Unmarshal(tools, &rec.Tools); err != nil {
		return nil, nil, nil, fmt.Errorf("unmarshal tools: %w", err)
	}
	if err := json.Unmarshal(turnLog, &rec.TurnLog); err != nil {
		return nil, nil, nil, fmt.Errorf("unmarshal turn log: %w", err)
	}

	messages, err := s.loadMessages(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	files, err := s.loadAttachments(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	return &rec, messages, files, nil
}

func (s *ConversationStore) loadMessages(ctx context.Context, conversationID string) ([]*chat.Message, error) {
	query := fmt.Sprintf(`
		SELECT id, role, parts, tool_call_id, provider_response, statement_count, turn_count, created_at
		FROM %s WHERE conversation_id = $1 ORDER BY seq
	`, s.tables.Messages)

	executor := GetExecutor(ctx, s.pool)
	rows, err := executor.Query(ctx, query, conversationID)
	if err != nil {
		return nil, classifySaveError("load messages", err)
	}
	defer rows.Close()

	var messages []*chat.Message
	for rows.Next() {
		var msg chat.Message
		var parts, providerResponse []byte
		if err := rows.Scan(
			&msg.ID, &msg.Role, &parts, &msg.ToolCallID,
			&providerResponse, &msg.StatementCount, &msg.TurnCount, &msg.Timestamp,
		); err != nil {
			s.logger.Warn("skipping unreadable message record",
				"conversation_id", conversationID,
				"error", err,
			)
			continue
		}
		if err := json.Unmarshal(parts, &msg.Parts); err != nil {
			s.logger.Warn("skipping message with corrupt content",
				"conversation_id", conversationID,
				"message_id", msg.ID,
				"error", err,
			)
			continue
		}
		if len(providerResponse) > 0 {
			if err := json.Unmarshal(providerResponse, &msg.ProviderResponse); err != nil {
				s.logger.Warn("dropping corrupt provider response",
					"conversation_id", conversationID,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySaveError("iterate messages", err)
	}
	return messages, nil
}

func (s *ConversationStore) loadAttachments(ctx context.Context, conversationID string) ([]chat.FileAttachment, error) {
	query := fmt.Sprintf(`
		SELECT path, size, last_modified, in_system, message_id, tool_use_id
		FROM %s WHERE conversation_id = $1 ORDER BY path
	`, s.tables.Attachments)

	executor := GetExecutor(ctx, s.pool)
	rows, err := executor.Query(ctx, query, conversationID)
	if err != nil {
		return nil, classifySaveError("load attachments", err)
	}
	defer rows.Close()

	var files []chat.FileAttachment
	for rows.Next() {
		var f chat.FileAttachment
		if err := rows.Scan(&f.Path, &f.Size, &f.LastModified, &f.InSystem, &f.MessageID, &f.ToolUseID); err != nil {
			return nil, classifySaveError("scan attachment", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySaveError("iterate attachments", err)
	}
	return files, nil
}

// ListConversations returns the shared index, newest first.
func (s *ConversationStore) ListConversations(ctx context.Context) ([]repositories.IndexEntry, error) {
	query := fmt.Sprintf(`
		SELECT id, title, provider, model, created_at, updated_at
		FROM %s ORDER BY updated_at DESC
	`, s.tables.Conversations)

	executor := GetExecutor(ctx, s.pool)
	rows, err := executor.Query(ctx, query)
	if err != nil {
		return nil, classifySaveError("list conversations", err)
	}
	defer rows.Close()

	var entries []repositories.IndexEntry
	for rows.Next() {
		var e repositories.IndexEntry
		if err := rows.Scan(&e.ID, &e.Title, &e.Provider, &e.Model, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, classifySaveError("scan index entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySaveError("iterate index", err)
	}
	return entries, nil
}

// classifySaveError wraps persistence failures by underlying cause so
// callers can distinguish permission problems from everything else.
func classifySaveError(op string, err error) error {
	if IsPgPermissionError(err) {
		return fmt.Errorf("%s: permission denied: %w", op, err)
	}
	if IsPgNoRowsError(err) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
