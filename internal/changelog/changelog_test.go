package changelog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"codeloom/internal/domain"
	"codeloom/internal/domain/models/chat"
	"codeloom/internal/project"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memChangeStore is an in-memory append-only patch log.
type memChangeStore struct {
	entries map[string][]chat.ChangeEntry
}

func newMemChangeStore() *memChangeStore {
	return &memChangeStore{entries: make(map[string][]chat.ChangeEntry)}
}

func (m *memChangeStore) LogChange(ctx context.Context, conversationID, path, diffText string) error {
	m.entries[conversationID] = append(m.entries[conversationID], chat.ChangeEntry{
		Timestamp: time.Now().UTC(),
		FilePath:  path,
		Patch:     diffText,
	})
	return nil
}

func (m *memChangeStore) GetChangeLog(ctx context.Context, conversationID string) ([]chat.ChangeEntry, error) {
	return m.entries[conversationID], nil
}

func (m *memChangeStore) RemoveLastChange(ctx context.Context, conversationID string) error {
	list := m.entries[conversationID]
	if len(list) == 0 {
		return domain.ErrNothingToUndo
	}
	m.entries[conversationID] = list[:len(list)-1]
	return nil
}

func newTestLog(t *testing.T) (*Log, *memChangeStore, *project.Context) {
	t.Helper()
	projectCtx, err := project.NewContext(t.TempDir())
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	store := newMemChangeStore()
	return NewLog(store, projectCtx, testLogger()), store, projectCtx
}

func TestRecordAndUndo(t *testing.T) {
	log, store, projectCtx := newTestLog(t)
	ctx := t.Context()

	before := "package main\n\nfunc main() {}\n"
	after := "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"hi\")\n}\n"
	if err := projectCtx.WriteFile("main.go", []byte(after)); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := log.Record(ctx, "conv-1", "main.go", before, after); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(store.entries["conv-1"]) != 1 {
		t.Fatalf("entry count = %d, want 1", len(store.entries["conv-1"]))
	}

	if err := log.Undo(ctx, "conv-1"); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	restored, err := projectCtx.ReadFile("main.go")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(restored) != before {
		t.Errorf("restored content = %q, want %q", restored, before)
	}
	if len(store.entries["conv-1"]) != 0 {
		t.Errorf("entry count after undo = %d, want 0", len(store.entries["conv-1"]))
	}
}

func TestUndoPopsNewestFirst(t *testing.T) {
	log, _, projectCtx := newTestLog(t)
	ctx := t.Context()

	v1 := "one\n"
	v2 := "one\ntwo\n"
	v3 := "one\ntwo\nthree\n"
	if err := projectCtx.WriteFile("list.txt", []byte(v3)); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := log.Record(ctx, "conv-1", "list.txt", v1, v2); err != nil {
		t.Fatalf("Record v1->v2: %v", err)
	}
	if err := log.Record(ctx, "conv-1", "list.txt", v2, v3); err != nil {
		t.Fatalf("Record v2->v3: %v", err)
	}

	if err := log.Undo(ctx, "conv-1"); err != nil {
		t.Fatalf("first Undo: %v", err)
	}
	content, _ := projectCtx.ReadFile("list.txt")
	if string(content) != v2 {
		t.Fatalf("after first undo = %q, want %q", content, v2)
	}

	if err := log.Undo(ctx, "conv-1"); err != nil {
		t.Fatalf("second Undo: %v", err)
	}
	content, _ = projectCtx.ReadFile("list.txt")
	if string(content) != v1 {
		t.Errorf("after second undo = %q, want %q", content, v1)
	}
}

func TestUndoEmptyLog(t *testing.T) {
	log, _, _ := newTestLog(t)
	if err := log.Undo(t.Context(), "conv-1"); !errors.Is(err, domain.ErrNothingToUndo) {
		t.Errorf("Undo on empty log = %v, want ErrNothingToUndo", err)
	}
}

func TestRecordNoOpChange(t *testing.T) {
	log, store, _ := newTestLog(t)
	if err := log.Record(t.Context(), "conv-1", "same.txt", "identical", "identical"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(store.entries["conv-1"]) != 0 {
		t.Errorf("no-op change was logged: %+v", store.entries["conv-1"])
	}
}

func TestEntriesAreScopedByConversation(t *testing.T) {
	log, _, _ := newTestLog(t)
	ctx := t.Context()

	if err := log.Record(ctx, "conv-a", "a.txt", "", "alpha"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := log.Record(ctx, "conv-b", "b.txt", "", "beta"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := log.Entries(ctx, "conv-a")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].FilePath != "a.txt" {
		t.Errorf("conv-a entries = %+v", entries)
	}
}

func TestInvertPatchText(t *testing.T) {
	forward := strings.Join([]string{
		"@@ -1,5 +1,9 @@",
		" one",
		"+two",
		"-zero",
		" three",
		"",
	}, "\n")
	inverted := InvertPatchText(forward)

	wantLines := []string{
		"@@ -1,9 +1,5 @@",
		" one",
		"-two",
		"+zero",
		" three",
		"",
	}
	if inverted != strings.Join(wantLines, "\n") {
		t.Errorf("InvertPatchText:\n%s", inverted)
	}

	// Inverting twice round-trips.
	if got := InvertPatchText(inverted); got != forward {
		t.Errorf("double inversion:\n%s", got)
	}
}
