package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"codeloom/internal/domain"
	"codeloom/internal/domain/models/chat"
	domainllm "codeloom/internal/domain/services/llm"
)

const defaultMaxTokens = 4096

// Adapter implements the provider capability interface for Anthropic
// (Claude) models.
type Adapter struct {
	client anthropic.Client
	logger *slog.Logger
}

// NewAdapter creates an Anthropic adapter with the given API key.
func NewAdapter(apiKey string, logger *slog.Logger) (*Adapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	return &Adapter{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		logger: logger,
	}, nil
}

// Name returns the provider identity.
func (a *Adapter) Name() domainllm.Provider {
	return domainllm.ProviderAnthropic
}

// PrepareRequest maps the internal model into the vendor wire shape,
// merging per-call overrides over the conversation defaults.
func (a *Adapter) PrepareRequest(req *domainllm.Request, opts *domainllm.Options) (*domainllm.PreparedRequest, error) {
	merged := *req
	opts.Merge(&merged)

	messages, err := convertMessages(merged.Messages)
	if err != nil {
		return nil, fmt.Errorf("convert messages: %w", err)
	}

	maxTokens := int64(merged.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(merged.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if merged.Temperature > 0 {
		params.Temperature = anthropic.Float(merged.Temperature)
	}
	if merged.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: merged.System}}
	}
	if len(merged.Tools) > 0 {
		params.Tools = convertTools(merged.Tools)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("serialize request: %w", err)
	}

	return &domainllm.PreparedRequest{
		Provider: domainllm.ProviderAnthropic,
		Model:    merged.Model,
		Body:     body,
		Native:   params,
	}, nil
}

// Send performs the network call and normalizes the response.
func (a *Adapter) Send(ctx context.Context, prep *domainllm.PreparedRequest) (*domainllm.Response, error) {
	params, ok := prep.Native.(anthropic.MessageNewParams)
	if !ok {
		return nil, fmt.Errorf("prepared request is not an anthropic request")
	}

	var httpResp *http.Response
	message, err := a.client.Messages.New(ctx, params, option.WithResponseInto(&httpResp))
	if err != nil {
		return nil, a.classifyError(prep.Model, err)
	}

	resp, err := convertResponse(message)
	if err != nil {
		return nil, &domain.ProviderError{Provider: string(a.Name()), Model: prep.Model, Err: err}
	}
	if httpResp != nil {
		resp.RateLimit = parseRateLimit(httpResp.Header)
	}
	return resp, nil
}

// ClassifyStopReason maps vendor stop reasons to the normalized set.
func (a *Adapter) ClassifyStopReason(resp *domainllm.Response) domainllm.StopKind {
	switch resp.StopRaw {
	case "tool_use":
		return domainllm.StopToolUse
	case "end_turn", "stop_sequence":
		return domainllm.StopNaturalEnd
	case "max_tokens":
		return domainllm.StopLength
	case "refusal":
		return domainllm.StopFiltered
	default:
		a.logger.Warn("unknown stop reason", "stop_reason", resp.StopRaw)
		return domainllm.StopOther
	}
}

// ExtractToolUses parses the response content into ordered tool uses
// with interleaved thinking text attached.
func (a *Adapter) ExtractToolUses(resp *domainllm.Response) []chat.Part {
	return domainllm.ExtractToolUsesFromParts(resp.Parts)
}

// OnValidationRetry nudges the next attempt: empty answers get a
// bounded temperature raise, schema failures get a synthetic user
// message describing the violation.
func (a *Adapter) OnValidationRetry(req *domainllm.Request, opts *domainllm.Options, failureReason string) {
	if failureReason == "empty answer" {
		raiseTemperature(req, opts)
		return
	}
	req.Messages = append(req.Messages, chat.NewMessage(chat.RoleUser, []chat.Part{
		chat.TextPart(fmt.Sprintf("The previous response was invalid: %s. Please correct it.", failureReason)),
	}))
}

func raiseTemperature(req *domainllm.Request, opts *domainllm.Options) {
	current := req.Temperature
	if opts != nil && opts.Temperature != nil {
		current = *opts.Temperature
	}
	next := current + 0.2
	if next > 1.0 {
		next = 1.0
	}
	if opts != nil {
		opts.Temperature = &next
	} else {
		req.Temperature = next
	}
}

func (a *Adapter) classifyError(model string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		rateErr := &domain.RateLimitError{}
		rateErr.Provider = string(a.Name())
		rateErr.Model = model
		rateErr.Err = err
		return rateErr
	}
	return &domain.ProviderError{Provider: string(a.Name()), Model: model, Err: err}
}

// parseRateLimit reads Anthropic's rate-limit window headers. Absent
// fields stay zero/epoch.
func parseRateLimit(h http.Header) domainllm.RateLimit {
	return domainllm.RateLimit{
		RequestsRemaining: headerInt(h, "anthropic-ratelimit-requests-remaining"),
		RequestsLimit:     headerInt(h, "anthropic-ratelimit-requests-limit"),
		RequestsReset:     headerTime(h, "anthropic-ratelimit-requests-reset"),
		TokensRemaining:   headerInt(h, "anthropic-ratelimit-tokens-remaining"),
		TokensLimit:       headerInt(h, "anthropic-ratelimit-tokens-limit"),
		TokensReset:       headerTime(h, "anthropic-ratelimit-tokens-reset"),
	}
}

func headerInt(h http.Header, key string) int {
	v, err := strconv.Atoi(h.Get(key))
	if err != nil {
		return 0
	}
	return v
}

func headerTime(h http.Header, key string) time.Time {
	t, err := time.Parse(time.RFC3339, h.Get(key))
	if err != nil {
		return time.Time{}
	}
	return t
}
