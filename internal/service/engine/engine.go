// Package engine drives the statement/turn state machine: one user
// statement in, a bounded loop of model turns and tool dispatches, a
// structured answer event out.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"codeloom/internal/changelog"
	"codeloom/internal/domain"
	"codeloom/internal/domain/models/chat"
	domainllm "codeloom/internal/domain/services/llm"
	"codeloom/internal/service/conversation"
	"codeloom/internal/service/tools"
	"codeloom/internal/vcs"
)

const defaultMaxTurns = 25

const titleSystemPrompt = "You name conversations. Reply with a short title, at most eight words, and nothing else."

const commitSystemPrompt = "You write version control commit messages. Reply with a single concise commit message summarizing the changes, and nothing else."

// Listener receives statement progress and error events.
type Listener interface {
	OnStatement(event chat.StatementEvent)
	OnError(event chat.ErrorEvent)
}

// Config tunes the engine.
type Config struct {
	MaxTurns int
}

// Engine hosts one active conversation at a time and runs statements
// against it. Statements on the same engine are serialized: a second
// HandleStatement while one is in flight is rejected, not queued.
type Engine struct {
	registry  *tools.Registry
	changes   *tools.ChangeCollector
	changeLog *changelog.Log
	repo      *vcs.Repo
	stats     *AggregateStats
	logger    *slog.Logger
	maxTurns  int

	mu        sync.Mutex
	active    *conversation.Conversation
	listeners []Listener

	inFlight  atomic.Bool
	cancelled atomic.Bool
}

// New creates an engine. The VCS repo is optional; without one,
// tool-driven changes still reach the change log but are never
// committed.
func New(
	cfg Config,
	registry *tools.Registry,
	changes *tools.ChangeCollector,
	changeLog *changelog.Log,
	repo *vcs.Repo,
	stats *AggregateStats,
	logger *slog.Logger,
) *Engine {
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &Engine{
		registry:  registry,
		changes:   changes,
		changeLog: changeLog,
		repo:      repo,
		stats:     stats,
		logger:    logger,
		maxTurns:  maxTurns,
	}
}

// SetConversation makes a conversation the statement target.
func (e *Engine) SetConversation(c *conversation.Conversation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = c
}

// Conversation returns the active conversation, nil when none is set.
func (e *Engine) Conversation() *conversation.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// AddListener subscribes to statement and error events.
func (e *Engine) AddListener(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Cancel requests cooperative cancellation of the running statement.
// The in-flight turn always runs to completion; the flag only prevents
// the next loop iteration from starting. Returns an error when no
// statement is in flight.
func (e *Engine) Cancel() error {
	if !e.inFlight.Load() {
		err := fmt.Errorf("cancel: %w", domain.ErrNotFound)
		id := ""
		if conv := e.Conversation(); conv != nil {
			id = conv.ID
		}
		e.emitError(id, chat.CodeCancellationError, err)
		return err
	}
	e.cancelled.Store(true)
	return nil
}

// HandleStatement runs one full user statement against the active
// conversation and returns the final answer event.
func (e *Engine) HandleStatement(ctx context.Context, statement string) (*chat.StatementEvent, error) {
	conv := e.Conversation()
	if conv == nil {
		err := &domain.APIError{Status: 409, Code: chat.CodeNoActiveConversation, Message: "no active conversation"}
		e.emitError("", chat.CodeNoActiveConversation, err)
		return nil, err
	}
	if strings.TrimSpace(statement) == "" {
		err := &domain.APIError{Status: 400, Code: chat.CodeEmptyPrompt, Message: "statement is empty"}
		e.emitError(conv.ID, chat.CodeEmptyPrompt, err)
		return nil, err
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		err := fmt.Errorf("conversation %s: %w", conv.ID, domain.ErrInFlight)
		e.emitError(conv.ID, chat.CodeStatementInFlight, err)
		return nil, err
	}
	defer e.inFlight.Store(false)
	e.cancelled.Store(false)

	for _, tool := range e.registry.List() {
		conv.RegisterTool(tool)
	}

	if conv.Title == "" {
		e.bootstrapTitle(ctx, conv, statement)
	}

	conv.BeginStatement()
	totalsBefore := conv.Totals
	e.emitEntry(conv, chat.EntryTypeUser, statement, totalsBefore)

	resp, err := conv.Converse(ctx, statement, nil)
	if err != nil {
		e.emitError(conv.ID, chat.CodeStatementError, err)
		return nil, fmt.Errorf("first turn: %w", err)
	}
	e.emitAssistant(conv, resp, totalsBefore)
	if err := conv.Save(ctx); err != nil {
		e.emitError(conv.ID, chat.CodePersistenceError, err)
		return nil, err
	}

	resp, exit := e.turnLoop(ctx, conv, resp, totalsBefore)
	return e.finalize(ctx, conv, resp, exit, totalsBefore)
}

type exitPath int

const (
	exitCompleted exitPath = iota
	exitCancelled
	exitCeiling
)

// turnLoop runs the tool-dispatch/continuation cycle until the model
// stops asking for tools, the ceiling is hit, or cancellation lands.
// One LLM call has already happened when it starts.
func (e *Engine) turnLoop(
	ctx context.Context,
	conv *conversation.Conversation,
	resp *domainllm.Response,
	totalsBefore chat.ConversationTotals,
) (*domainllm.Response, exitPath) {
	calls := 1
	for {
		if e.cancelled.Load() {
			e.logger.Info("statement cancelled",
				"conversation_id", conv.ID,
				"llm_calls", calls,
			)
			return resp, exitCancelled
		}

		feedback := e.dispatchToolUses(ctx, conv, resp, totalsBefore)
		if len(feedback) == 0 {
			e.logger.Info("statement completed",
				"conversation_id", conv.ID,
				"llm_calls", calls,
			)
			return resp, exitCompleted
		}

		if calls >= e.maxTurns {
			e.logger.Warn("statement hit turn ceiling",
				"conversation_id", conv.ID,
				"max_turns", e.maxTurns,
			)
			return resp, exitCeiling
		}

		prompt := "Tool results feedback:\n" + strings.Join(feedback, "\n") + "\nPlease continue the conversation."
		next, err := conv.SpeakWithLLM(ctx, prompt, nil)
		calls++
		if err != nil {
			if calls >= e.maxTurns {
				e.logger.Error("turn failed on final allowed turn",
					"conversation_id", conv.ID,
					"error", err,
				)
				e.emitError(conv.ID, chat.CodeStatementError, err)
				return &domainllm.Response{
					Answer: fmt.Sprintf("Error occurred: %v", err),
					Stop:   domainllm.StopOther,
				}, exitCeiling
			}
			e.logger.Warn("turn failed; continuing",
				"conversation_id", conv.ID,
				"error", err,
			)
			resp = &domainllm.Response{
				Answer: fmt.Sprintf("Error occurred: %v; continuing", err),
				Stop:   domainllm.StopOther,
			}
			continue
		}
		resp = next
		e.emitAssistant(conv, resp, totalsBefore)
	}
}

// dispatchToolUses runs every tool call from the response in the order
// the model returned them. One failing tool becomes inline error
// feedback; it never stops the others.
func (e *Engine) dispatchToolUses(
	ctx context.Context,
	conv *conversation.Conversation,
	resp *domainllm.Response,
	totalsBefore chat.ConversationTotals,
) []string {
	if resp == nil || len(resp.ToolUses) == 0 {
		return nil
	}

	feedback := make([]string, 0, len(resp.ToolUses))
	for _, part := range resp.ToolUses {
		call := chat.CallFromPart(part)
		e.emitEntry(conv, chat.EntryTypeToolUse, call.ToolName, totalsBefore)

		fb := e.registry.Dispatch(ctx, call)
		conv.AddToolResult(fb.ToolUseID, fb.Result, fb.IsError)

		line := fb.Summary
		if fb.IsError {
			line = fmt.Sprintf("Error with %s: %s", fb.ToolName, fb.Summary)
		}
		feedback = append(feedback, line)
		e.emitEntry(conv, chat.EntryTypeToolResult, fb.Summary, totalsBefore)
	}
	return feedback
}

// finalize closes out the statement on every exit path: commit
// tool-driven changes, bump the statement counter, fold the statement
// into the aggregate, persist, extract the answer, emit the event.
func (e *Engine) finalize(
	ctx context.Context,
	conv *conversation.Conversation,
	resp *domainllm.Response,
	exit exitPath,
	totalsBefore chat.ConversationTotals,
) (*chat.StatementEvent, error) {
	e.commitChanges(ctx, conv)

	conv.CompleteStatement()
	usage := statementUsage(totalsBefore, conv.Totals)
	e.stats.RecordStatement(conv.Stats.TurnCount, usage)

	if err := conv.Save(ctx); err != nil {
		e.emitError(conv.ID, chat.CodePersistenceError, err)
		return nil, fmt.Errorf("final save: %w", err)
	}

	answer := ""
	if resp != nil {
		answer = ExtractAnswer(resp.Answer)
	}
	entryType := chat.EntryTypeAnswer
	switch exit {
	case exitCancelled:
		entryType = chat.EntryTypeAuxiliary
		if answer == "" {
			answer = "Statement cancelled."
		}
	case exitCeiling:
		if answer == "" {
			answer = "Maximum number of turns reached."
		}
	}

	event := e.newEvent(conv, entryType, answer, usage)
	e.emit(event)
	return &event, nil
}

// bootstrapTitle names an untitled conversation via a disposable child
// conversation. Failure is logged and never aborts the statement.
func (e *Engine) bootstrapTitle(ctx context.Context, conv *conversation.Conversation, statement string) {
	child := conv.Child(titleSystemPrompt)
	resp, err := child.Converse(ctx, "Name a conversation that starts with:\n"+statement, nil)
	if err != nil {
		e.logger.Warn("title generation failed",
			"conversation_id", conv.ID,
			"error", err,
		)
		return
	}
	title := strings.TrimSpace(ExtractAnswer(resp.Answer))
	if title == "" {
		e.logger.Warn("title generation returned empty answer", "conversation_id", conv.ID)
		return
	}
	conv.Title = title
}

// commitChanges drains tool-driven file mutations into the change log
// and, when the project is under version control, commits them with a
// generated message. The collector is cleared whether or not the commit
// succeeds.
func (e *Engine) commitChanges(ctx context.Context, conv *conversation.Conversation) {
	changes := e.changes.Drain()
	if len(changes) == 0 {
		return
	}

	paths := make([]string, 0, len(changes))
	for _, ch := range changes {
		if err := e.changeLog.Record(ctx, conv.ID, ch.Path, ch.Before, ch.After); err != nil {
			e.logger.Error("failed to record change",
				"conversation_id", conv.ID,
				"path", ch.Path,
				"error", err,
			)
			continue
		}
		paths = append(paths, ch.Path)
	}
	if e.repo == nil || len(paths) == 0 {
		return
	}

	message := e.commitMessage(ctx, conv, paths)
	hash, err := e.repo.Commit(paths, message)
	if err != nil {
		e.logger.Error("failed to commit changes",
			"conversation_id", conv.ID,
			"paths", paths,
			"error", err,
		)
		return
	}
	e.logger.Info("committed tool-driven changes",
		"conversation_id", conv.ID,
		"commit", hash,
		"paths", paths,
	)
}

func (e *Engine) commitMessage(ctx context.Context, conv *conversation.Conversation, paths []string) string {
	fallback := "Update " + strings.Join(paths, ", ")
	child := conv.Child(commitSystemPrompt)
	resp, err := child.Converse(ctx, "Write a commit message for changes to:\n"+strings.Join(paths, "\n"), nil)
	if err != nil {
		e.logger.Warn("commit message generation failed", "error", err)
		return fallback
	}
	if msg := strings.TrimSpace(ExtractAnswer(resp.Answer)); msg != "" {
		return msg
	}
	return fallback
}

func statementUsage(before, after chat.ConversationTotals) chat.TokenUsage {
	return chat.TokenUsage{
		InputTokens:  after.InputTokensTotal - before.InputTokensTotal,
		OutputTokens: after.OutputTokensTotal - before.OutputTokensTotal,
		TotalTokens:  after.TotalTokensTotal - before.TotalTokensTotal,
	}
}

func (e *Engine) newEvent(conv *conversation.Conversation, entryType, content string, usage chat.TokenUsage) chat.StatementEvent {
	return chat.StatementEvent{
		ConversationID:         conv.ID,
		ConversationTitle:      conv.Title,
		Timestamp:              time.Now().UTC(),
		ConversationStats:      conv.Stats,
		TokenUsageStatement:    usage,
		TokenUsageConversation: conv.Totals,
		LogEntry:               chat.LogEntry{EntryType: entryType, Content: content},
	}
}

// emitAssistant surfaces an intermediate model response as a progress
// entry. Tool-use responses have no flattened answer, so fall back to
// the first text part; the final answer event is emitted separately by
// finalize.
func (e *Engine) emitAssistant(conv *conversation.Conversation, resp *domainllm.Response, totalsBefore chat.ConversationTotals) {
	content := resp.Answer
	if content == "" {
		content = resp.FirstText()
	}
	e.emitEntry(conv, chat.EntryTypeAssistant, content, totalsBefore)
}

func (e *Engine) emitEntry(conv *conversation.Conversation, entryType, content string, totalsBefore chat.ConversationTotals) {
	e.emit(e.newEvent(conv, entryType, content, statementUsage(totalsBefore, conv.Totals)))
}

func (e *Engine) emit(event chat.StatementEvent) {
	e.mu.Lock()
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()
	for _, l := range listeners {
		l.OnStatement(event)
	}
}

func (e *Engine) emitError(conversationID, code string, err error) {
	e.logger.Error("statement error",
		"conversation_id", conversationID,
		"code", code,
		"error", err,
	)
	e.mu.Lock()
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()
	event := chat.ErrorEvent{ConversationID: conversationID, Error: err.Error(), Code: code}
	for _, l := range listeners {
		l.OnError(event)
	}
}
