package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"codeloom/internal/changelog"
	"codeloom/internal/domain"
	"codeloom/internal/domain/models/chat"
	"codeloom/internal/domain/repositories"
	domainllm "codeloom/internal/domain/services/llm"
	"codeloom/internal/service/conversation"
	llmsvc "codeloom/internal/service/llm"
	"codeloom/internal/service/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedAdapter pops one response or error per Send call.
type scriptedAdapter struct {
	responses []*domainllm.Response
	errs      []error
	sendCalls int
}

func (f *scriptedAdapter) Name() domainllm.Provider { return domainllm.ProviderAnthropic }

func (f *scriptedAdapter) PrepareRequest(req *domainllm.Request, opts *domainllm.Options) (*domainllm.PreparedRequest, error) {
	merged := *req
	opts.Merge(&merged)
	body := fmt.Sprintf("%s|%d", merged.Model, len(merged.Messages))
	return &domainllm.PreparedRequest{
		Provider: f.Name(),
		Model:    merged.Model,
		Body:     []byte(body),
	}, nil
}

func (f *scriptedAdapter) Send(ctx context.Context, prep *domainllm.PreparedRequest) (*domainllm.Response, error) {
	i := f.sendCalls
	f.sendCalls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.responses) {
		return nil, fmt.Errorf("no scripted response for call %d", i)
	}
	src := f.responses[i]
	cp := *src
	cp.Parts = append([]chat.Part(nil), src.Parts...)
	return &cp, nil
}

func (f *scriptedAdapter) ClassifyStopReason(resp *domainllm.Response) domainllm.StopKind {
	for _, p := range resp.Parts {
		if p.Type == chat.PartTypeToolUse {
			return domainllm.StopToolUse
		}
	}
	return domainllm.StopNaturalEnd
}

func (f *scriptedAdapter) ExtractToolUses(resp *domainllm.Response) []chat.Part {
	return domainllm.ExtractToolUsesFromParts(resp.Parts)
}

func (f *scriptedAdapter) OnValidationRetry(req *domainllm.Request, opts *domainllm.Options, reason string) {
}

// memStore is an in-memory ConversationStore counting saves.
type memStore struct {
	saveCalls int
	lastRec   *repositories.ConversationRecord
}

func (m *memStore) Init(ctx context.Context) error { return nil }

func (m *memStore) SaveConversation(ctx context.Context, rec *repositories.ConversationRecord, messages []*chat.Message, files []chat.FileAttachment) error {
	m.saveCalls++
	m.lastRec = rec
	return nil
}

func (m *memStore) LoadConversation(ctx context.Context, id string) (*repositories.ConversationRecord, []*chat.Message, []chat.FileAttachment, error) {
	return nil, nil, nil, nil
}

func (m *memStore) ListConversations(ctx context.Context) ([]repositories.IndexEntry, error) {
	return nil, nil
}

// memChangeStore is an in-memory append-only change log.
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

// recordingListener collects every emitted event.
type recordingListener struct {
	events []chat.StatementEvent
	errs   []chat.ErrorEvent
}

func (l *recordingListener) OnStatement(event chat.StatementEvent) {
	l.events = append(l.events, event)
}

func (l *recordingListener) OnError(event chat.ErrorEvent) {
	l.errs = append(l.errs, event)
}

func textResponse(text string) *domainllm.Response {
	return &domainllm.Response{
		ID:       chat.NewID(),
		Provider: domainllm.ProviderAnthropic,
		Parts:    []chat.Part{chat.TextPart(text)},
		StopRaw:  "end_turn",
		Usage:    chat.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

func toolUseResponse(id, name string, input map[string]any) *domainllm.Response {
	return &domainllm.Response{
		ID:       chat.NewID(),
		Provider: domainllm.ProviderAnthropic,
		Parts:    []chat.Part{chat.ToolUsePart(id, name, input)},
		StopRaw:  "tool_use",
		Usage:    chat.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

type testHarness struct {
	engine   *Engine
	conv     *conversation.Conversation
	adapter  *scriptedAdapter
	store    *memStore
	registry *tools.Registry
	listener *recordingListener
	searches int
}

func newHarness(t *testing.T, adapter *scriptedAdapter, maxTurns int) *testHarness {
	t.Helper()
	logger := testLogger()

	factory := llmsvc.NewFactory(logger)
	factory.Register(adapter)
	speaker := llmsvc.NewSpeaker(factory, nil, llmsvc.SpeakerConfig{MaxRetries: 3, Backoff: 0}, logger)

	store := &memStore{}
	conv := conversation.New(conversation.Params{
		Provider:  domainllm.ProviderAnthropic,
		Model:     "test-model",
		System:    "base system",
		MaxTokens: 512,
	}, conversation.Deps{
		Speaker: speaker,
		Store:   store,
		Logger:  logger,
	})
	conv.Title = "Preset Title"

	h := &testHarness{adapter: adapter, store: store, conv: conv}

	registry := tools.NewRegistry(logger)
	registry.Register(chat.Tool{
		Name:        "search_project",
		Description: "Search project files.",
		InputSchema: &chat.Schema{
			Type: "object",
			Properties: map[string]*chat.Schema{
				"query": {Type: "string"},
			},
			Required: []string{"query"},
		},
	}, tools.ExecutorFunc(func(ctx context.Context, input map[string]any) ([]chat.Part, error) {
		h.searches++
		return []chat.Part{chat.TextPart("a.txt\nb.txt")}, nil
	}))
	h.registry = registry

	eng := New(
		Config{MaxTurns: maxTurns},
		registry,
		tools.NewChangeCollector(),
		changelog.NewLog(newMemChangeStore(), nil, logger),
		nil,
		NewAggregateStats(),
		logger,
	)
	eng.SetConversation(conv)
	h.listener = &recordingListener{}
	eng.AddListener(h.listener)
	h.engine = eng
	return h
}

func searchInput() map[string]any {
	return map[string]any{"query": "files"}
}

func TestHandleStatementSearchScenario(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*domainllm.Response{
		toolUseResponse("tu_1", "search_project", searchInput()),
		textResponse("<reply>Found 2 files: a.txt, b.txt</reply>"),
	}}
	h := newHarness(t, adapter, 0)

	event, err := h.engine.HandleStatement(t.Context(), "what files are in the project?")
	if err != nil {
		t.Fatalf("HandleStatement: %v", err)
	}

	if adapter.sendCalls != 2 {
		t.Errorf("sendCalls = %d, want 2", adapter.sendCalls)
	}
	if h.searches != 1 {
		t.Errorf("tool executions = %d, want 1", h.searches)
	}
	if event.LogEntry.EntryType != chat.EntryTypeAnswer {
		t.Errorf("entry type = %s, want answer", event.LogEntry.EntryType)
	}
	if event.LogEntry.Content != "Found 2 files: a.txt, b.txt" {
		t.Errorf("answer = %q", event.LogEntry.Content)
	}
	if h.conv.Stats.StatementCount != 1 {
		t.Errorf("StatementCount = %d, want 1", h.conv.Stats.StatementCount)
	}
	if h.conv.Stats.TurnCount != 2 {
		t.Errorf("TurnCount = %d, want 2", h.conv.Stats.TurnCount)
	}
	if h.store.saveCalls != 2 {
		t.Errorf("saveCalls = %d, want 2", h.store.saveCalls)
	}
}

func TestTurnLoopTerminatesOnTextResponse(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*domainllm.Response{
		toolUseResponse("tu_1", "search_project", searchInput()),
		toolUseResponse("tu_2", "search_project", searchInput()),
		textResponse("<reply>done</reply>"),
	}}
	h := newHarness(t, adapter, 0)

	event, err := h.engine.HandleStatement(t.Context(), "dig around")
	if err != nil {
		t.Fatalf("HandleStatement: %v", err)
	}
	if adapter.sendCalls != 3 {
		t.Errorf("sendCalls = %d, want 3", adapter.sendCalls)
	}
	if h.searches != 2 {
		t.Errorf("tool executions = %d, want 2", h.searches)
	}
	if event.LogEntry.Content != "done" {
		t.Errorf("answer = %q", event.LogEntry.Content)
	}
}

func TestTurnCeiling(t *testing.T) {
	// The model never stops asking for tools; the loop must stop at
	// exactly maxTurns LLM calls.
	const maxTurns = 4
	responses := make([]*domainllm.Response, maxTurns)
	for i := range responses {
		responses[i] = toolUseResponse(fmt.Sprintf("tu_%d", i), "search_project", searchInput())
	}
	adapter := &scriptedAdapter{responses: responses}
	h := newHarness(t, adapter, maxTurns)

	event, err := h.engine.HandleStatement(t.Context(), "never stop")
	if err != nil {
		t.Fatalf("HandleStatement: %v", err)
	}
	if adapter.sendCalls != maxTurns {
		t.Errorf("sendCalls = %d, want %d", adapter.sendCalls, maxTurns)
	}
	if h.searches != maxTurns {
		t.Errorf("tool executions = %d, want %d", h.searches, maxTurns)
	}
	if event.LogEntry.Content != "Maximum number of turns reached." {
		t.Errorf("answer = %q", event.LogEntry.Content)
	}
	if event.LogEntry.EntryType != chat.EntryTypeAnswer {
		t.Errorf("entry type = %s, want answer", event.LogEntry.EntryType)
	}
	if h.conv.Stats.StatementCount != 1 {
		t.Errorf("StatementCount = %d, want 1", h.conv.Stats.StatementCount)
	}
}

func TestStatementCounterDiscipline(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*domainllm.Response{
		textResponse("<reply>first</reply>"),
		textResponse("<reply>second</reply>"),
	}}
	h := newHarness(t, adapter, 0)

	if _, err := h.engine.HandleStatement(t.Context(), "one"); err != nil {
		t.Fatalf("statement 1: %v", err)
	}
	if h.conv.Stats.StatementCount != 1 || h.conv.Stats.TurnCount != 1 {
		t.Errorf("after statement 1: statements=%d turns=%d, want 1/1",
			h.conv.Stats.StatementCount, h.conv.Stats.TurnCount)
	}

	if _, err := h.engine.HandleStatement(t.Context(), "two"); err != nil {
		t.Fatalf("statement 2: %v", err)
	}
	if h.conv.Stats.StatementCount != 2 {
		t.Errorf("StatementCount = %d, want 2", h.conv.Stats.StatementCount)
	}
	if h.conv.Stats.TurnCount != 1 {
		t.Errorf("TurnCount = %d, want 1 (reset per statement)", h.conv.Stats.TurnCount)
	}
	if h.conv.Stats.TotalTurnCount != 2 {
		t.Errorf("TotalTurnCount = %d, want 2", h.conv.Stats.TotalTurnCount)
	}
}

// cancellingListener cancels the statement as soon as the user entry is
// emitted, before the first model call returns.
type cancellingListener struct {
	engine    *Engine
	cancelErr error
	done      bool
}

func (l *cancellingListener) OnStatement(event chat.StatementEvent) {
	if l.done || event.LogEntry.EntryType != chat.EntryTypeUser {
		return
	}
	l.done = true
	l.cancelErr = l.engine.Cancel()
}

func (l *cancellingListener) OnError(event chat.ErrorEvent) {}

func TestCancellation(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*domainllm.Response{
		toolUseResponse("tu_1", "search_project", searchInput()),
	}}
	h := newHarness(t, adapter, 0)
	canceller := &cancellingListener{engine: h.engine}
	h.engine.AddListener(canceller)

	event, err := h.engine.HandleStatement(t.Context(), "long running work")
	if err != nil {
		t.Fatalf("HandleStatement: %v", err)
	}
	if canceller.cancelErr != nil {
		t.Fatalf("Cancel: %v", canceller.cancelErr)
	}

	// The in-flight call completes; no tool runs and no further call
	// starts.
	if adapter.sendCalls != 1 {
		t.Errorf("sendCalls = %d, want 1", adapter.sendCalls)
	}
	if h.searches != 0 {
		t.Errorf("tool executions = %d, want 0", h.searches)
	}
	if event.LogEntry.EntryType != chat.EntryTypeAuxiliary {
		t.Errorf("entry type = %s, want auxiliary", event.LogEntry.EntryType)
	}
	if event.LogEntry.Content != "Statement cancelled." {
		t.Errorf("answer = %q", event.LogEntry.Content)
	}
	if h.conv.Stats.StatementCount != 1 {
		t.Errorf("StatementCount = %d, want 1 (cancelled statements still complete)", h.conv.Stats.StatementCount)
	}
}

func TestCancelWithoutStatement(t *testing.T) {
	h := newHarness(t, &scriptedAdapter{}, 0)
	if err := h.engine.Cancel(); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Cancel with no statement in flight = %v, want ErrNotFound", err)
	}
	if len(h.listener.errs) != 1 || h.listener.errs[0].Code != chat.CodeCancellationError {
		t.Errorf("error events = %+v, want one CANCELLATION_ERROR", h.listener.errs)
	}
}

func TestEmptyStatementRejected(t *testing.T) {
	adapter := &scriptedAdapter{}
	h := newHarness(t, adapter, 0)

	_, err := h.engine.HandleStatement(t.Context(), "   \n\t ")
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError", err)
	}
	if apiErr.Code != chat.CodeEmptyPrompt {
		t.Errorf("code = %s, want %s", apiErr.Code, chat.CodeEmptyPrompt)
	}
	if adapter.sendCalls != 0 {
		t.Errorf("sendCalls = %d, want 0", adapter.sendCalls)
	}
	if h.store.saveCalls != 0 {
		t.Errorf("saveCalls = %d, want 0 (rejection mutates nothing)", h.store.saveCalls)
	}
	if len(h.listener.errs) != 1 || h.listener.errs[0].Code != chat.CodeEmptyPrompt {
		t.Errorf("error events = %+v, want one EMPTY_PROMPT", h.listener.errs)
	}
}

func TestNoActiveConversation(t *testing.T) {
	h := newHarness(t, &scriptedAdapter{}, 0)
	h.engine.SetConversation(nil)

	_, err := h.engine.HandleStatement(t.Context(), "hello")
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError", err)
	}
	if apiErr.Code != chat.CodeNoActiveConversation || apiErr.Status != 409 {
		t.Errorf("got code=%s status=%d", apiErr.Code, apiErr.Status)
	}
}

// reentrantListener fires a second statement from inside the first.
type reentrantListener struct {
	engine *Engine
	err    error
	done   bool
}

func (l *reentrantListener) OnStatement(event chat.StatementEvent) {
	if l.done || event.LogEntry.EntryType != chat.EntryTypeUser {
		return
	}
	l.done = true
	_, l.err = l.engine.HandleStatement(context.Background(), "interloper")
}

func (l *reentrantListener) OnError(event chat.ErrorEvent) {}

func TestStatementInFlightRejected(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*domainllm.Response{
		textResponse("<reply>ok</reply>"),
	}}
	h := newHarness(t, adapter, 0)
	re := &reentrantListener{engine: h.engine}
	h.engine.AddListener(re)

	if _, err := h.engine.HandleStatement(t.Context(), "outer"); err != nil {
		t.Fatalf("outer statement: %v", err)
	}
	if !errors.Is(re.err, domain.ErrInFlight) {
		t.Errorf("inner statement error = %v, want ErrInFlight", re.err)
	}
	if adapter.sendCalls != 1 {
		t.Errorf("sendCalls = %d, want 1", adapter.sendCalls)
	}
}

func TestTitleBootstrap(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*domainllm.Response{
		textResponse("Project File Survey"),
		textResponse("<reply>done</reply>"),
	}}
	h := newHarness(t, adapter, 0)
	h.conv.Title = ""

	if _, err := h.engine.HandleStatement(t.Context(), "look around"); err != nil {
		t.Fatalf("HandleStatement: %v", err)
	}
	if h.conv.Title != "Project File Survey" {
		t.Errorf("Title = %q", h.conv.Title)
	}
	if adapter.sendCalls != 2 {
		t.Errorf("sendCalls = %d, want 2 (title call plus statement call)", adapter.sendCalls)
	}
	// The disposable title conversation is never persisted.
	if h.store.saveCalls != 2 {
		t.Errorf("saveCalls = %d, want 2", h.store.saveCalls)
	}
}

func TestTitleBootstrapFailureIsNotFatal(t *testing.T) {
	bang := errors.New("provider down")
	adapter := &scriptedAdapter{
		errs: []error{bang, bang, bang},
		responses: []*domainllm.Response{
			nil, nil, nil,
			textResponse("<reply>still works</reply>"),
		},
	}
	h := newHarness(t, adapter, 0)
	h.conv.Title = ""

	event, err := h.engine.HandleStatement(t.Context(), "hello")
	if err != nil {
		t.Fatalf("HandleStatement: %v", err)
	}
	if h.conv.Title != "" {
		t.Errorf("Title = %q, want empty after failed generation", h.conv.Title)
	}
	if event.LogEntry.Content != "still works" {
		t.Errorf("answer = %q", event.LogEntry.Content)
	}
}

func TestMidLoopErrorSwallowed(t *testing.T) {
	// First call asks for a tool; the continuation call exhausts its
	// retry budget. The failure becomes a synthetic answer and the
	// statement still finalizes.
	bang := errors.New("provider down")
	adapter := &scriptedAdapter{
		responses: []*domainllm.Response{
			toolUseResponse("tu_1", "search_project", searchInput()),
		},
		errs: []error{nil, bang, bang, bang},
	}
	h := newHarness(t, adapter, 0)

	event, err := h.engine.HandleStatement(t.Context(), "fragile follow-up")
	if err != nil {
		t.Fatalf("HandleStatement: %v", err)
	}
	if adapter.sendCalls != 4 {
		t.Errorf("sendCalls = %d, want 4 (one success plus three failed attempts)", adapter.sendCalls)
	}
	if event.LogEntry.EntryType != chat.EntryTypeAnswer {
		t.Errorf("entry type = %s, want answer", event.LogEntry.EntryType)
	}
	if event.LogEntry.Content == "" {
		t.Error("synthetic answer is empty")
	}
	if h.conv.Stats.StatementCount != 1 {
		t.Errorf("StatementCount = %d, want 1", h.conv.Stats.StatementCount)
	}
}

func TestAssistantProgressEvents(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*domainllm.Response{
		toolUseResponse("tu_1", "search_project", searchInput()),
		textResponse("<reply>summary</reply>"),
	}}
	h := newHarness(t, adapter, 0)

	if _, err := h.engine.HandleStatement(t.Context(), "list the files"); err != nil {
		t.Fatalf("HandleStatement: %v", err)
	}

	var got []string
	for _, ev := range h.listener.events {
		got = append(got, ev.LogEntry.EntryType)
	}
	want := []string{
		chat.EntryTypeUser,
		chat.EntryTypeAssistant,
		chat.EntryTypeToolUse,
		chat.EntryTypeToolResult,
		chat.EntryTypeAssistant,
		chat.EntryTypeAnswer,
	}
	if len(got) != len(want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event sequence = %v, want %v", got, want)
		}
	}
	if content := h.listener.events[4].LogEntry.Content; content != "<reply>summary</reply>" {
		t.Errorf("assistant progress content = %q, want the raw model text", content)
	}
}

func TestFinalTurnErrorEmitsErrorAndFinalizes(t *testing.T) {
	// The continuation call on the last allowed turn exhausts its retry
	// budget: the loop exits immediately, an error event fires, and the
	// statement still finalizes so usage and the message log persist.
	bang := errors.New("provider down")
	adapter := &scriptedAdapter{
		responses: []*domainllm.Response{
			toolUseResponse("tu_1", "search_project", searchInput()),
		},
		errs: []error{nil, bang, bang, bang},
	}
	h := newHarness(t, adapter, 2)

	event, err := h.engine.HandleStatement(t.Context(), "fragile statement")
	if err != nil {
		t.Fatalf("HandleStatement: %v", err)
	}
	if adapter.sendCalls != 4 {
		t.Errorf("sendCalls = %d, want 4 (one success plus three failed attempts)", adapter.sendCalls)
	}
	if len(h.listener.errs) != 1 || h.listener.errs[0].Code != chat.CodeStatementError {
		t.Errorf("error events = %+v, want one STATEMENT_ERROR", h.listener.errs)
	}
	if event.LogEntry.EntryType != chat.EntryTypeAnswer {
		t.Errorf("entry type = %s, want answer", event.LogEntry.EntryType)
	}
	if !strings.Contains(event.LogEntry.Content, "Error occurred") {
		t.Errorf("answer = %q, want the error surfaced", event.LogEntry.Content)
	}
	if h.conv.Stats.StatementCount != 1 {
		t.Errorf("StatementCount = %d, want 1", h.conv.Stats.StatementCount)
	}
	if h.store.saveCalls != 3 {
		t.Errorf("saveCalls = %d, want 3 (checkpoint, retry-exhaustion persist, final save)", h.store.saveCalls)
	}
}
