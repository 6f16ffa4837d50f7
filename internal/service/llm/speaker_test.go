package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"codeloom/internal/domain"
	"codeloom/internal/domain/models/chat"
	domainllm "codeloom/internal/domain/services/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAdapter is a scripted adapter: each Send pops the next response
// or error.
type fakeAdapter struct {
	responses    []*domainllm.Response
	errs         []error
	sendCalls    int
	retryReasons []string
}

func (f *fakeAdapter) Name() domainllm.Provider { return domainllm.ProviderAnthropic }

func (f *fakeAdapter) PrepareRequest(req *domainllm.Request, opts *domainllm.Options) (*domainllm.PreparedRequest, error) {
	merged := *req
	opts.Merge(&merged)
	body := fmt.Sprintf("%s|%s|%g|%d", merged.Model, merged.System, merged.Temperature, len(merged.Messages))
	for _, m := range merged.Messages {
		body += "|" + m.Text()
	}
	return &domainllm.PreparedRequest{
		Provider: f.Name(),
		Model:    merged.Model,
		Body:     []byte(body),
	}, nil
}

func (f *fakeAdapter) Send(ctx context.Context, prep *domainllm.PreparedRequest) (*domainllm.Response, error) {
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

func (f *fakeAdapter) ClassifyStopReason(resp *domainllm.Response) domainllm.StopKind {
	for _, p := range resp.Parts {
		if p.Type == chat.PartTypeToolUse {
			return domainllm.StopToolUse
		}
	}
	return domainllm.StopNaturalEnd
}

func (f *fakeAdapter) ExtractToolUses(resp *domainllm.Response) []chat.Part {
	return domainllm.ExtractToolUsesFromParts(resp.Parts)
}

func (f *fakeAdapter) OnValidationRetry(req *domainllm.Request, opts *domainllm.Options, reason string) {
	f.retryReasons = append(f.retryReasons, reason)
}

type recordingSink struct {
	usage    chat.TokenUsage
	requests int
}

func (s *recordingSink) AddUsage(u chat.TokenUsage) { s.usage.Add(u) }
func (s *recordingSink) AddRequest()                { s.requests++ }

func textResponse(text string, usage chat.TokenUsage) *domainllm.Response {
	return &domainllm.Response{
		ID:       chat.NewID(),
		Provider: domainllm.ProviderAnthropic,
		Parts:    []chat.Part{chat.TextPart(text)},
		StopRaw:  "end_turn",
		Usage:    usage,
	}
}

func newTestSpeaker(adapter domainllm.Adapter, cache *ResponseCache) *Speaker {
	factory := NewFactory(testLogger())
	factory.Register(adapter)
	return NewSpeaker(factory, cache, SpeakerConfig{MaxRetries: 3, Backoff: 0}, testLogger())
}

func baseRequest() *domainllm.Request {
	return &domainllm.Request{
		Provider: domainllm.ProviderAnthropic,
		Model:    "test-model",
		Messages: []*chat.Message{chat.NewMessage(chat.RoleUser, []chat.Part{chat.TextPart("hello")})},
	}
}

func TestSpeakWithRetryExhaustion(t *testing.T) {
	usage := chat.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	adapter := &fakeAdapter{
		responses: []*domainllm.Response{
			textResponse("bad", usage),
			textResponse("bad", usage),
			textResponse("bad", usage),
		},
	}
	speaker := newTestSpeaker(adapter, nil)

	sink := &recordingSink{}
	persisted := 0
	reject := func(resp *domainllm.Response) error { return errors.New("empty answer") }
	persist := func(ctx context.Context) error { persisted++; return nil }

	_, err := speaker.SpeakWithRetry(context.Background(), baseRequest(), &domainllm.Options{}, sink, reject, persist)
	if err == nil {
		t.Fatal("expected exhaustion error")
	}

	var exhausted *domain.RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %T: %v", err, err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", exhausted.Attempts)
	}
	if exhausted.LastReason == "" {
		t.Error("LastReason is empty")
	}
	if adapter.sendCalls != 3 {
		t.Errorf("sendCalls = %d, want 3", adapter.sendCalls)
	}
	if len(adapter.retryReasons) != 3 {
		t.Errorf("OnValidationRetry calls = %d, want 3", len(adapter.retryReasons))
	}
	// Usage from every failed attempt is accounted.
	want := chat.TokenUsage{InputTokens: 30, OutputTokens: 15, TotalTokens: 45}
	if sink.usage != want {
		t.Errorf("accumulated usage = %+v, want %+v", sink.usage, want)
	}
	if sink.requests != 3 {
		t.Errorf("requests = %d, want 3", sink.requests)
	}
	if persisted != 1 {
		t.Errorf("persist calls = %d, want 1", persisted)
	}
}

func TestSpeakWithRetryNetworkErrorCountsAgainstBudget(t *testing.T) {
	usage := chat.TokenUsage{InputTokens: 1, OutputTokens: 1, TotalTokens: 2}
	adapter := &fakeAdapter{
		errs:      []error{errors.New("connection reset"), nil},
		responses: []*domainllm.Response{nil, textResponse("ok", usage)},
	}
	speaker := newTestSpeaker(adapter, nil)

	sink := &recordingSink{}
	resp, err := speaker.SpeakWithRetry(context.Background(), baseRequest(), &domainllm.Options{}, sink, nil, nil)
	if err != nil {
		t.Fatalf("SpeakWithRetry: %v", err)
	}
	if resp.Answer != "ok" {
		t.Errorf("Answer = %q, want %q", resp.Answer, "ok")
	}
	if adapter.sendCalls != 2 {
		t.Errorf("sendCalls = %d, want 2", adapter.sendCalls)
	}
	// Only the succeeding attempt returned usage.
	if sink.requests != 1 {
		t.Errorf("requests = %d, want 1", sink.requests)
	}
}

func TestSpeakWithRetryValidationRecovers(t *testing.T) {
	schema := &chat.Schema{
		Type: "object",
		Properties: map[string]*chat.Schema{
			"pattern": {Type: "string"},
		},
		Required: []string{"pattern"},
	}
	bad := &domainllm.Response{
		Parts: []chat.Part{chat.ToolUsePart("tu_1", "search", map[string]any{"pattern": 42})},
	}
	good := &domainllm.Response{
		Parts: []chat.Part{chat.ToolUsePart("tu_2", "search", map[string]any{"pattern": "."})},
	}
	adapter := &fakeAdapter{responses: []*domainllm.Response{bad, good}}
	speaker := newTestSpeaker(adapter, nil)

	req := baseRequest()
	req.Tools = []chat.Tool{{Name: "search", InputSchema: schema}}

	resp, err := speaker.SpeakWithRetry(context.Background(), req, &domainllm.Options{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("SpeakWithRetry: %v", err)
	}
	if len(resp.ToolUses) != 1 {
		t.Fatalf("ToolUses = %d, want 1", len(resp.ToolUses))
	}
	if adapter.sendCalls != 2 {
		t.Errorf("sendCalls = %d, want 2", adapter.sendCalls)
	}
	if len(adapter.retryReasons) != 1 {
		t.Fatalf("OnValidationRetry calls = %d, want 1", len(adapter.retryReasons))
	}
}

func TestSpeakOnceCacheIdempotence(t *testing.T) {
	cache, err := NewResponseCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewResponseCache: %v", err)
	}
	usage := chat.TokenUsage{InputTokens: 7, OutputTokens: 3, TotalTokens: 10}
	adapter := &fakeAdapter{
		responses: []*domainllm.Response{
			textResponse("cached answer", usage),
			textResponse("different answer", usage),
		},
	}
	speaker := newTestSpeaker(adapter, cache)
	sink := &recordingSink{}

	first, err := speaker.SpeakWithRetry(context.Background(), baseRequest(), &domainllm.Options{}, sink, nil, nil)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if first.FromCache {
		t.Error("first call unexpectedly served from cache")
	}
	if sink.requests != 1 {
		t.Fatalf("requests after first call = %d, want 1", sink.requests)
	}

	second, err := speaker.SpeakWithRetry(context.Background(), baseRequest(), &domainllm.Options{}, sink, nil, nil)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !second.FromCache {
		t.Error("second call not served from cache")
	}
	if second.Answer != first.Answer {
		t.Errorf("cached answer = %q, want %q", second.Answer, first.Answer)
	}
	if adapter.sendCalls != 1 {
		t.Errorf("sendCalls = %d, want 1", adapter.sendCalls)
	}
	// Cache hits never touch the usage totals.
	if sink.requests != 1 {
		t.Errorf("requests after cache hit = %d, want 1", sink.requests)
	}

	// A fingerprint-participating change misses the cache.
	warm := baseRequest()
	warm.Temperature = 0.9
	third, err := speaker.SpeakWithRetry(context.Background(), warm, &domainllm.Options{}, sink, nil, nil)
	if err != nil {
		t.Fatalf("third call: %v", err)
	}
	if third.FromCache {
		t.Error("changed temperature still hit the cache")
	}
	if adapter.sendCalls != 2 {
		t.Errorf("sendCalls = %d, want 2", adapter.sendCalls)
	}
}
