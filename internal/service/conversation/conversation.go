// Package conversation holds the stateful, resumable object behind one
// logical chat: message history, attachments, counters and usage
// totals, plus the exchange methods the orchestration engine drives.
//
// A conversation is single-writer: one statement loop runs at a time
// and callers must not interleave statements on the same id.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"codeloom/internal/domain/models/chat"
	"codeloom/internal/domain/repositories"
	domainllm "codeloom/internal/domain/services/llm"
	"codeloom/internal/project"
	llmsvc "codeloom/internal/service/llm"
	"codeloom/internal/vcs"
)

// Params configures a new conversation.
type Params struct {
	ID          string
	Provider    domainllm.Provider
	Model       string
	System      string
	MaxTokens   int
	Temperature float64
}

// Deps are the collaborators a conversation needs. Project and VCS are
// optional; disposable child conversations run without them.
type Deps struct {
	Speaker *llmsvc.Speaker
	Store   repositories.ConversationStore
	Project *project.Context
	VCS     *vcs.Repo
	Logger  *slog.Logger
}

// Conversation is one logical chat and its durable state.
type Conversation struct {
	ID          string
	Title       string
	Provider    domainllm.Provider
	Model       string
	System      string
	MaxTokens   int
	Temperature float64

	Messages    []*chat.Message
	Tools       []chat.Tool
	Attachments map[string]*chat.FileAttachment
	Stats       chat.ConversationStats
	Totals      chat.ConversationTotals
	TurnLog     []chat.TurnLogEntry

	CreatedAt time.Time
	UpdatedAt time.Time

	deps  Deps
	watch func(rel string) error
}

// New creates a fresh conversation.
func New(params Params, deps Deps) *Conversation {
	id := params.ID
	if id == "" {
		id = chat.NewID()
	}
	now := time.Now().UTC()
	return &Conversation{
		ID:          id,
		Provider:    params.Provider,
		Model:       params.Model,
		System:      params.System,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		Attachments: make(map[string]*chat.FileAttachment),
		CreatedAt:   now,
		UpdatedAt:   now,
		deps:        deps,
	}
}

// Load rehydrates a conversation from the store. Returns nil (not an
// error) when the id has never been persisted - the "new conversation"
// path.
func Load(ctx context.Context, id string, deps Deps) (*Conversation, error) {
	rec, messages, files, err := deps.Store.LoadConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	if rec == nil {
		return nil, nil
	}

	c := &Conversation{
		ID:          rec.ID,
		Title:       rec.Title,
		Provider:    domainllm.Provider(rec.Provider),
		Model:       rec.Model,
		System:      rec.System,
		MaxTokens:   rec.MaxTokens,
		Temperature: rec.Temperature,
		Messages:    messages,
		Tools:       rec.Tools,
		Attachments: make(map[string]*chat.FileAttachment, len(files)),
		Stats:       rec.Stats,
		Totals:      rec.Totals,
		TurnLog:     rec.TurnLog,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		deps:        deps,
	}
	for i := range files {
		f := files[i]
		c.Attachments[f.Path] = &f
	}
	return c, nil
}

// RegisterTool adds a tool descriptor, unique by name
// (last-registration-wins), preserving order for prompt construction.
func (c *Conversation) RegisterTool(tool chat.Tool) {
	for i, t := range c.Tools {
		if t.Name == tool.Name {
			c.Tools[i] = tool
			return
		}
	}
	c.Tools = append(c.Tools, tool)
}

// AddUserParts appends content with merge-on-append semantics: when the
// trailing message is already user-role, the parts join it instead of
// creating a consecutive same-role message.
func (c *Conversation) AddUserParts(parts ...chat.Part) *chat.Message {
	if last := c.lastMessage(); last != nil && last.Role == chat.RoleUser {
		last.Parts = append(last.Parts, parts...)
		return last
	}
	msg := chat.NewMessage(chat.RoleUser, parts)
	c.stampAndAppend(msg)
	return msg
}

// AddAssistantResponse appends the model's parts. A second consecutive
// assistant message is a protocol defect: it is logged, never silently
// dropped.
func (c *Conversation) AddAssistantResponse(resp *domainllm.Response) *chat.Message {
	if last := c.lastMessage(); last != nil && last.Role == chat.RoleAssistant {
		c.deps.Logger.Error("consecutive assistant messages",
			"conversation_id", c.ID,
			"previous_message_id", last.ID,
		)
	}
	msg := chat.NewMessage(chat.RoleAssistant, resp.Parts)
	msg.ProviderResponse = map[string]any{
		"id":          resp.ID,
		"provider":    string(resp.Provider),
		"model":       resp.Model,
		"stop_reason": resp.StopRaw,
		"from_cache":  resp.FromCache,
	}
	for k, v := range resp.Metadata {
		msg.ProviderResponse[k] = v
	}
	c.stampAndAppend(msg)
	return msg
}

// AddToolResult merges a tool result part into the trailing user
// message (creating one when needed) and returns the owning message id.
func (c *Conversation) AddToolResult(toolUseID string, result []chat.Part, isError bool) string {
	part := chat.ToolResultPart(toolUseID, result, isError)
	msg := c.AddUserParts(part)
	return msg.ID
}

// BeginStatement resets the per-statement turn counter. StatementCount
// is untouched until the statement completes.
func (c *Conversation) BeginStatement() {
	c.Stats.TurnCount = 0
}

// CompleteStatement increments the statement counter, exactly once per
// completed statement regardless of internal turns.
func (c *Conversation) CompleteStatement() {
	c.Stats.StatementCount++
}

// Converse appends the statement as a new user message and performs one
// exchange. Used for the first turn of a statement.
func (c *Conversation) Converse(ctx context.Context, statement string, opts *domainllm.Options) (*domainllm.Response, error) {
	c.AddUserParts(chat.TextPart(statement))
	return c.speak(ctx, opts)
}

// SpeakWithLLM appends a continuation prompt and performs one exchange.
// Used for tool-feedback turns within an already-counted statement.
func (c *Conversation) SpeakWithLLM(ctx context.Context, prompt string, opts *domainllm.Options) (*domainllm.Response, error) {
	c.AddUserParts(chat.TextPart(prompt))
	return c.speak(ctx, opts)
}

// speak runs one LLM round-trip: counters, hydration, retrying
// exchange, answer bookkeeping.
func (c *Conversation) speak(ctx context.Context, opts *domainllm.Options) (*domainllm.Response, error) {
	c.Stats.TurnCount++
	c.Stats.TotalTurnCount++

	req, err := c.Request(ctx)
	if err != nil {
		return nil, err
	}

	var persist llmsvc.PersistFunc
	if c.deps.Store != nil {
		persist = c.Save
	}
	resp, err := c.deps.Speaker.SpeakWithRetry(ctx, req, opts, c, nil, persist)
	if err != nil {
		return nil, err
	}

	c.AddAssistantResponse(resp)
	c.TurnLog = append(c.TurnLog, chat.TurnLogEntry{
		Timestamp: time.Now().UTC(),
		Answer:    resp.Answer,
		Stats:     c.Stats,
		Usage:     resp.Usage,
	})
	return resp, nil
}

// Request assembles the provider-neutral request: prepared system
// prompt, hydrated messages, registered tools and model parameters.
func (c *Conversation) Request(ctx context.Context) (*domainllm.Request, error) {
	system, err := c.PrepareSystemPrompt(ctx, c.System)
	if err != nil {
		return nil, err
	}
	return &domainllm.Request{
		Provider:    c.Provider,
		Model:       c.Model,
		System:      system,
		Messages:    c.PrepareMessages(c.Messages),
		Tools:       c.Tools,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	}, nil
}

// AddUsage implements the usage sink: failed attempts included.
func (c *Conversation) AddUsage(u chat.TokenUsage) {
	c.Totals.AddUsage(u)
}

// AddRequest implements the usage sink.
func (c *Conversation) AddRequest() {
	c.Totals.RequestCount++
}

// Save persists the conversation: index entry, detail record, message
// log and attachment metadata.
func (c *Conversation) Save(ctx context.Context) error {
	c.UpdatedAt = time.Now().UTC()
	files := make([]chat.FileAttachment, 0, len(c.Attachments))
	for _, f := range c.Attachments {
		files = append(files, *f)
	}
	rec := &repositories.ConversationRecord{
		IndexEntry: repositories.IndexEntry{
			ID:        c.ID,
			Title:     c.Title,
			Provider:  string(c.Provider),
			Model:     c.Model,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		},
		System:      c.System,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		Stats:       c.Stats,
		Totals:      c.Totals,
		Tools:       c.Tools,
		TurnLog:     c.TurnLog,
	}
	if err := c.deps.Store.SaveConversation(ctx, rec, c.Messages, files); err != nil {
		return fmt.Errorf("save conversation %s: %w", c.ID, err)
	}
	return nil
}

// Child spins up a disposable side-conversation sharing the parent's
// provider and model, used for title and commit-message generation. It
// has no project context and is never persisted.
func (c *Conversation) Child(system string) *Conversation {
	deps := c.deps
	deps.Store = nil
	deps.Project = nil
	deps.VCS = nil
	return New(Params{
		Provider:    c.Provider,
		Model:       c.Model,
		System:      system,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	}, deps)
}

func (c *Conversation) lastMessage() *chat.Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

func (c *Conversation) stampAndAppend(msg *chat.Message) {
	msg.StatementCount = c.Stats.StatementCount
	msg.TurnCount = c.Stats.TurnCount
	c.Messages = append(c.Messages, msg)
}
