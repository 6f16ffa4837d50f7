package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"codeloom/internal/domain"
	"codeloom/internal/domain/models/chat"
	domainllm "codeloom/internal/domain/services/llm"
)

// Adapter implements the provider capability interface for
// OpenAI-compatible chat-completions endpoints.
type Adapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewAdapter creates the adapter. baseURL is the API root, e.g.
// "https://api.openai.com/v1".
func NewAdapter(baseURL, apiKey string, logger *slog.Logger) (*Adapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	return &Adapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
		logger:  logger,
	}, nil
}

// Name returns the provider identity.
func (a *Adapter) Name() domainllm.Provider {
	return domainllm.ProviderOpenAI
}

// PrepareRequest maps the internal model into the chat-completions wire
// shape, merging per-call overrides over the conversation defaults.
func (a *Adapter) PrepareRequest(req *domainllm.Request, opts *domainllm.Options) (*domainllm.PreparedRequest, error) {
	merged := *req
	opts.Merge(&merged)

	body, err := buildBody(&merged)
	if err != nil {
		return nil, err
	}
	return &domainllm.PreparedRequest{
		Provider: domainllm.ProviderOpenAI,
		Model:    merged.Model,
		Body:     body,
	}, nil
}

// Send performs the network call and normalizes the response.
func (a *Adapter) Send(ctx context.Context, prep *domainllm.PreparedRequest) (*domainllm.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/chat/completions", bytes.NewReader(prep.Body))
	if err != nil {
		return nil, &domain.ProviderError{Provider: string(a.Name()), Model: prep.Model, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &domain.ProviderError{Provider: string(a.Name()), Model: prep.Model, Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &domain.ProviderError{Provider: string(a.Name()), Model: prep.Model, Err: err}
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		rateErr := &domain.RateLimitError{
			RequestsRemaining: headerInt(httpResp.Header, "x-ratelimit-remaining-requests"),
			RequestsLimit:     headerInt(httpResp.Header, "x-ratelimit-limit-requests"),
			TokensRemaining:   headerInt(httpResp.Header, "x-ratelimit-remaining-tokens"),
			TokensLimit:       headerInt(httpResp.Header, "x-ratelimit-limit-tokens"),
		}
		rateErr.Provider = string(a.Name())
		rateErr.Model = prep.Model
		rateErr.Err = fmt.Errorf("status 429: %s", gjson.GetBytes(raw, "error.message").String())
		return nil, rateErr
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &domain.ProviderError{
			Provider: string(a.Name()),
			Model:    prep.Model,
			Err:      fmt.Errorf("status %d: %s", httpResp.StatusCode, gjson.GetBytes(raw, "error.message").String()),
		}
	}

	resp, err := a.parseResponse(raw)
	if err != nil {
		return nil, &domain.ProviderError{Provider: string(a.Name()), Model: prep.Model, Err: err}
	}
	resp.RateLimit = domainllm.RateLimit{
		RequestsRemaining: headerInt(httpResp.Header, "x-ratelimit-remaining-requests"),
		RequestsLimit:     headerInt(httpResp.Header, "x-ratelimit-limit-requests"),
		TokensRemaining:   headerInt(httpResp.Header, "x-ratelimit-remaining-tokens"),
		TokensLimit:       headerInt(httpResp.Header, "x-ratelimit-limit-tokens"),
	}
	return resp, nil
}

// parseResponse normalizes the first choice of a chat-completions
// response.
func (a *Adapter) parseResponse(raw []byte) (*domainllm.Response, error) {
	message := gjson.GetBytes(raw, "choices.0.message")
	if !message.Exists() {
		return nil, fmt.Errorf("response has no choices")
	}

	var parts []chat.Part
	if content := message.Get("content"); content.Exists() && content.String() != "" {
		parts = append(parts, chat.TextPart(content.String()))
	}
	for _, call := range message.Get("tool_calls").Array() {
		var input map[string]any
		args := call.Get("function.arguments").String()
		if args != "" {
			if err := json.Unmarshal([]byte(args), &input); err != nil {
				return nil, fmt.Errorf("decode tool arguments: %w", err)
			}
		}
		parts = append(parts, chat.ToolUsePart(
			call.Get("id").String(),
			call.Get("function.name").String(),
			input,
		))
	}

	usage := chat.TokenUsage{
		InputTokens:  int(gjson.GetBytes(raw, "usage.prompt_tokens").Int()),
		OutputTokens: int(gjson.GetBytes(raw, "usage.completion_tokens").Int()),
		TotalTokens:  int(gjson.GetBytes(raw, "usage.total_tokens").Int()),
	}

	return &domainllm.Response{
		ID:       gjson.GetBytes(raw, "id").String(),
		Provider: domainllm.ProviderOpenAI,
		Model:    gjson.GetBytes(raw, "model").String(),
		Parts:    parts,
		StopRaw:  gjson.GetBytes(raw, "choices.0.finish_reason").String(),
		Usage:    usage,
		Metadata: map[string]any{
			"system_fingerprint": gjson.GetBytes(raw, "system_fingerprint").String(),
		},
	}, nil
}

// ClassifyStopReason maps vendor finish reasons to the normalized set.
func (a *Adapter) ClassifyStopReason(resp *domainllm.Response) domainllm.StopKind {
	switch resp.StopRaw {
	case "tool_calls", "function_call":
		return domainllm.StopToolUse
	case "stop":
		return domainllm.StopNaturalEnd
	case "length":
		return domainllm.StopLength
	case "content_filter":
		return domainllm.StopFiltered
	default:
		a.logger.Warn("unknown finish reason", "finish_reason", resp.StopRaw)
		return domainllm.StopOther
	}
}

// ExtractToolUses parses the response content into ordered tool uses
// with interleaved thinking text attached.
func (a *Adapter) ExtractToolUses(resp *domainllm.Response) []chat.Part {
	return domainllm.ExtractToolUsesFromParts(resp.Parts)
}

// OnValidationRetry nudges the next attempt toward a valid response.
func (a *Adapter) OnValidationRetry(req *domainllm.Request, opts *domainllm.Options, failureReason string) {
	if failureReason == "empty answer" {
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
		return
	}
	req.Messages = append(req.Messages, chat.NewMessage(chat.RoleUser, []chat.Part{
		chat.TextPart(fmt.Sprintf("The previous response was invalid: %s. Please correct it.", failureReason)),
	}))
}

func headerInt(h http.Header, key string) int {
	v, err := strconv.Atoi(h.Get(key))
	if err != nil {
		return 0
	}
	return v
}
