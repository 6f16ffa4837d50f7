package llm

import (
	"context"
	"time"

	"codeloom/internal/domain/models/chat"
)

// Provider identifies an LLM vendor. Callers never branch on vendor
// identity outside the adapter factory.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Normalized stop reasons. Unknown vendor reasons map to StopOther,
// never a failure.
type StopKind string

const (
	StopToolUse    StopKind = "tool-call"
	StopNaturalEnd StopKind = "natural-end"
	StopLength     StopKind = "length-limit"
	StopFiltered   StopKind = "content-filtered"
	StopOther      StopKind = "other"
)

// Request is the provider-neutral view of one conversation exchange:
// everything an adapter needs to build a vendor wire request.
type Request struct {
	Provider    Provider
	Model       string
	System      string
	Messages    []*chat.Message
	Tools       []chat.Tool
	MaxTokens   int
	Temperature float64
}

// Options are per-call overrides merged over the conversation defaults,
// preferring the override when set.
type Options struct {
	Model       string
	System      string
	MaxTokens   int
	Temperature *float64
}

// Merge applies the options over a request in place.
func (o *Options) Merge(req *Request) {
	if o == nil {
		return
	}
	if o.Model != "" {
		req.Model = o.Model
	}
	if o.System != "" {
		req.System = o.System
	}
	if o.MaxTokens > 0 {
		req.MaxTokens = o.MaxTokens
	}
	if o.Temperature != nil {
		req.Temperature = *o.Temperature
	}
}

// PreparedRequest is a fully-prepared vendor request. Body is the
// serialized wire payload and is what cache fingerprints are computed
// from; Native is the adapter's private handle for Send.
type PreparedRequest struct {
	Provider Provider
	Model    string
	Body     []byte
	Native   any
}

// RateLimit is the vendor's rate-limit window metadata. Absent fields
// stay zero/epoch; downstream code never sees nulls.
type RateLimit struct {
	RequestsRemaining int
	RequestsLimit     int
	RequestsReset     time.Time
	TokensRemaining   int
	TokensLimit       int
	TokensReset       time.Time
}

// Response is the normalized provider response.
type Response struct {
	ID        string
	Provider  Provider
	Model     string
	Parts     []chat.Part
	StopRaw   string
	Stop      StopKind
	Usage     chat.TokenUsage
	RateLimit RateLimit
	Metadata  map[string]any

	// Populated by the retry/cache layer.
	Answer    string
	ToolUses  []chat.Part
	FromCache bool
}

// FirstText returns the first text part, the flattened "answer"
// convenience value.
func (r *Response) FirstText() string {
	for _, p := range r.Parts {
		if p.Type == chat.PartTypeText {
			return p.Text
		}
	}
	return ""
}

// Adapter is the fixed per-vendor capability interface. One
// implementation per vendor, constructed by the factory.
type Adapter interface {
	// Name returns the vendor identity.
	Name() Provider

	// PrepareRequest maps the internal message/tool model into the
	// vendor wire shape, merging opts over the request defaults.
	PrepareRequest(req *Request, opts *Options) (*PreparedRequest, error)

	// Send performs the network call and normalizes response id, stop
	// reason, token usage and rate-limit metadata. Failures surface as
	// *domain.ProviderError; retrying is the layer above's job.
	Send(ctx context.Context, prep *PreparedRequest) (*Response, error)

	// ClassifyStopReason maps the vendor stop reason to the normalized
	// set. Unknown reasons are logged and mapped to StopOther.
	ClassifyStopReason(resp *Response) StopKind

	// ExtractToolUses parses the response content into ordered tool_use
	// parts, folding preceding free text into each part's Thinking and
	// trailing free text into the final part's Thinking.
	ExtractToolUses(resp *Response) []chat.Part

	// OnValidationRetry mutates the next request's options/messages to
	// steer the model toward a valid response after a validation
	// failure. Best-effort nudge, not a guarantee.
	OnValidationRetry(req *Request, opts *Options, failureReason string)
}
