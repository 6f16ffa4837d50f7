// Package changelog records tool-driven file changes as forward diffs
// and implements undo by reverse-applying the most recent entry.
package changelog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"codeloom/internal/domain"
	"codeloom/internal/domain/models/chat"
	"codeloom/internal/domain/repositories"
	"codeloom/internal/project"
)

// Log is the per-conversation change log service. Entries are
// append-only; undo pops exactly one.
type Log struct {
	store   repositories.ChangeLogStore
	project *project.Context
	dmp     *diffmatchpatch.DiffMatchPatch
	logger  *slog.Logger
}

// NewLog creates the change log service.
func NewLog(store repositories.ChangeLogStore, projectCtx *project.Context, logger *slog.Logger) *Log {
	return &Log{
		store:   store,
		project: projectCtx,
		dmp:     diffmatchpatch.New(),
		logger:  logger,
	}
}

// Record computes the forward diff between before and after and appends
// it to the conversation's log. The file write itself is the tool's
// job; Record only captures the delta.
func (l *Log) Record(ctx context.Context, conversationID, path, before, after string) error {
	patches := l.dmp.PatchMake(before, after)
	text := l.dmp.PatchToText(patches)
	if text == "" {
		// No-op change, nothing to undo later.
		return nil
	}
	if err := l.store.LogChange(ctx, conversationID, path, text); err != nil {
		return fmt.Errorf("log change for %s: %w", path, err)
	}
	return nil
}

// Entries returns the ordered change log.
func (l *Log) Entries(ctx context.Context, conversationID string) ([]chat.ChangeEntry, error) {
	return l.store.GetChangeLog(ctx, conversationID)
}

// Undo reverses the most recent change: it derives a reverse diff from
// the stored forward diff, applies it to the file's current content,
// and only then pops the log entry - a failed reverse-apply leaves the
// log intact for a retry.
func (l *Log) Undo(ctx context.Context, conversationID string) error {
	entries, err := l.store.GetChangeLog(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("read change log: %w", err)
	}
	if len(entries) == 0 {
		return domain.ErrNothingToUndo
	}
	last := entries[len(entries)-1]

	current, err := l.project.ReadFile(last.FilePath)
	if err != nil {
		return err
	}

	reversed, err := l.dmp.PatchFromText(InvertPatchText(last.Patch))
	if err != nil {
		return &domain.FileError{Path: last.FilePath, Op: domain.FileOpPatch,
			Err: fmt.Errorf("parse stored patch: %w", err)}
	}

	restored, applied := l.dmp.PatchApply(reversed, string(current))
	for _, ok := range applied {
		if !ok {
			return &domain.FileError{Path: last.FilePath, Op: domain.FileOpPatch,
				Err: fmt.Errorf("reverse patch did not apply cleanly")}
		}
	}

	if err := l.project.WriteFile(last.FilePath, []byte(restored)); err != nil {
		return err
	}

	if err := l.store.RemoveLastChange(ctx, conversationID); err != nil {
		return fmt.Errorf("pop change log: %w", err)
	}

	l.logger.Info("change undone", "conversation_id", conversationID, "path", last.FilePath)
	return nil
}

// InvertPatchText turns a forward patch into its reverse: hunk ranges
// are swapped and insertion/deletion lines exchanged. The patch text
// format is line-oriented, so inversion works on the text level.
func InvertPatchText(patch string) string {
	lines := strings.Split(patch, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "@@ -"):
			out = append(out, invertHunkHeader(line))
		case strings.HasPrefix(line, "+"):
			out = append(out, "-"+line[1:])
		case strings.HasPrefix(line, "-"):
			out = append(out, "+"+line[1:])
		default:
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// invertHunkHeader swaps "@@ -a,b +c,d @@" to "@@ -c,d +a,b @@".
func invertHunkHeader(header string) string {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(header, "@@ "), " @@")
	fields := strings.Fields(trimmed)
	if len(fields) != 2 {
		return header
	}
	from := strings.TrimPrefix(fields[0], "-")
	to := strings.TrimPrefix(fields[1], "+")
	return fmt.Sprintf("@@ -%s +%s @@", to, from)
}
