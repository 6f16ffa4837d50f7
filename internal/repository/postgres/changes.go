package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"codeloom/internal/domain"
	"codeloom/internal/domain/models/chat"
)

// ChangeLogStore implements the append-only per-conversation patch log
// backing undo.
type ChangeLogStore struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewChangeLogStore creates a change log store.
func NewChangeLogStore(config *RepositoryConfig) *ChangeLogStore {
	return &ChangeLogStore{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// LogChange appends one forward diff to the conversation's log.
func (s *ChangeLogStore) LogChange(ctx context.Context, conversationID, path, diffText string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (conversation_id, created_at, file_path, patch)
		VALUES ($1, $2, $3, $4)
	`, s.tables.Changes)

	executor := GetExecutor(ctx, s.pool)
	if _, err := executor.Exec(ctx, query, conversationID, time.Now().UTC(), path, diffText); err != nil {
		return classifySaveError("log change", err)
	}
	return nil
}

// GetChangeLog returns the ordered list, oldest first.
func (s *ChangeLogStore) GetChangeLog(ctx context.Context, conversationID string) ([]chat.ChangeEntry, error) {
	query := fmt.Sprintf(`
		SELECT created_at, file_path, patch
		FROM %s WHERE conversation_id = $1 ORDER BY id
	`, s.tables.Changes)

	executor := GetExecutor(ctx, s.pool)
	rows, err := executor.Query(ctx, query, conversationID)
	if err != nil {
		return nil, classifySaveError("get change log", err)
	}
	defer rows.Close()

	var entries []chat.ChangeEntry
	for rows.Next() {
		var e chat.ChangeEntry
		if err := rows.Scan(&e.Timestamp, &e.FilePath, &e.Patch); err != nil {
			return nil, classifySaveError("scan change entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySaveError("iterate change log", err)
	}
	return entries, nil
}

// RemoveLastChange pops the most recent entry. An empty log returns
// ErrNothingToUndo, never a silent no-op.
func (s *ChangeLogStore) RemoveLastChange(ctx context.Context, conversationID string) error {
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE id = (
			SELECT id FROM %s WHERE conversation_id = $1 ORDER BY id DESC LIMIT 1
		)
	`, s.tables.Changes, s.tables.Changes)

	executor := GetExecutor(ctx, s.pool)
	tag, err := executor.Exec(ctx, query, conversationID)
	if err != nil {
		return classifySaveError("remove last change", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNothingToUndo)
	}
	return nil
}
