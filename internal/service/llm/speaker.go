package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"codeloom/internal/domain"
	"codeloom/internal/domain/models/chat"
	domainllm "codeloom/internal/domain/services/llm"
)

// UsageSink receives usage accounting from the retry loop. Implemented
// by the conversation state.
type UsageSink interface {
	AddUsage(u chat.TokenUsage)
	AddRequest()
}

// ValidateFunc is an optional caller-supplied response check run after
// schema validation. It may reject the response with a custom reason
// (e.g. "empty answer").
type ValidateFunc func(resp *domainllm.Response) error

// PersistFunc saves the owning conversation; the retry loop calls it on
// exhaustion so partial usage survives a failed statement.
type PersistFunc func(ctx context.Context) error

// Speaker is the resilience core wrapping provider calls with
// fingerprint caching, bounded retry with response validation, and
// usage accounting. Retries are sequential; there is no concurrent
// fan-out of attempts.
type Speaker struct {
	factory     *Factory
	cache       *ResponseCache
	maxRetries  int
	backoff     func(attempt int) time.Duration
	ignoreCache bool
	logger      *slog.Logger
}

// SpeakerConfig tunes the speaker.
type SpeakerConfig struct {
	MaxRetries  int
	Backoff     time.Duration
	IgnoreCache bool
}

// NewSpeaker creates a speaker. Backoff is a fixed delay by default;
// pass a Backoff of 0 to retry immediately (tests).
func NewSpeaker(factory *Factory, cache *ResponseCache, cfg SpeakerConfig, logger *slog.Logger) *Speaker {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	delay := cfg.Backoff
	return &Speaker{
		factory:    factory,
		cache:      cache,
		maxRetries: maxRetries,
		backoff: func(attempt int) time.Duration {
			return delay
		},
		ignoreCache: cfg.IgnoreCache,
		logger:      logger,
	}
}

// SpeakOnce performs a single exchange: prepare, consult the cache,
// send, normalize. Cache hits skip the network call and are flagged
// FromCache so the caller skips usage accounting for them.
func (s *Speaker) SpeakOnce(ctx context.Context, req *domainllm.Request, opts *domainllm.Options) (*domainllm.Response, error) {
	adapter, err := s.factory.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	prep, err := adapter.PrepareRequest(req, opts)
	if err != nil {
		return nil, fmt.Errorf("prepare request: %w", err)
	}

	fingerprint := Fingerprint(prep)
	if s.cache != nil && !s.ignoreCache {
		if cached := s.cache.Get(fingerprint); cached != nil {
			cached.FromCache = true
			s.logger.Debug("response served from cache", "fingerprint", fingerprint)
			return cached, nil
		}
	}

	resp, err := adapter.Send(ctx, prep)
	if err != nil {
		return nil, err
	}
	resp.FromCache = false
	resp.Stop = adapter.ClassifyStopReason(resp)
	if resp.Stop == domainllm.StopToolUse {
		resp.ToolUses = adapter.ExtractToolUses(resp)
	} else {
		resp.Answer = resp.FirstText()
	}

	if s.cache != nil {
		if err := s.cache.Put(fingerprint, resp); err != nil {
			s.logger.Warn("failed to store response in cache", "error", err)
		}
	}
	return resp, nil
}

// SpeakWithRetry calls SpeakOnce up to the attempt budget, validating
// each response. Usage is accounted per attempt, failed ones included,
// so exhaustion still leaves accurate totals. On exhaustion the
// conversation is persisted regardless of failure and a classified
// error referencing the last failure reason is returned.
func (s *Speaker) SpeakWithRetry(
	ctx context.Context,
	req *domainllm.Request,
	opts *domainllm.Options,
	sink UsageSink,
	validate ValidateFunc,
	persist PersistFunc,
) (*domainllm.Response, error) {
	var lastReason string

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		resp, err := s.SpeakOnce(ctx, req, opts)
		if err != nil {
			// Network-level failures count against the same budget as
			// validation failures.
			lastReason = err.Error()
			s.logger.Warn("speak attempt failed",
				"attempt", attempt,
				"max_attempts", s.maxRetries,
				"error", err,
			)
		} else {
			if !resp.FromCache && sink != nil {
				sink.AddUsage(resp.Usage)
				sink.AddRequest()
			}

			vErr := s.ValidateResponse(resp, req, validate)
			if vErr == nil {
				return resp, nil
			}
			lastReason = vErr.Error()
			s.logger.Warn("response failed validation",
				"attempt", attempt,
				"reason", lastReason,
			)
			if adapter, aErr := s.factory.Get(req.Provider); aErr == nil {
				adapter.OnValidationRetry(req, opts, lastReason)
			}
		}

		if attempt < s.maxRetries {
			if delay := s.backoff(attempt); delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}
	}

	if persist != nil {
		if err := persist(ctx); err != nil {
			s.logger.Error("failed to persist conversation after retry exhaustion", "error", err)
		}
	}
	return nil, &domain.RetryExhaustedError{Attempts: s.maxRetries, LastReason: lastReason}
}

// ValidateResponse checks every tool-use input against its declared
// schema, short-circuiting on the first violation, then runs the
// optional caller callback. Returns nil on success.
func (s *Speaker) ValidateResponse(resp *domainllm.Response, req *domainllm.Request, callback ValidateFunc) error {
	schemas := make(map[string]*chat.Schema, len(req.Tools))
	for _, t := range req.Tools {
		schemas[t.Name] = t.InputSchema
	}

	for _, use := range resp.ToolUses {
		schema, known := schemas[use.ToolName]
		if !known {
			// Unknown tools become error feedback at dispatch; they are
			// not a validation failure.
			continue
		}
		if err := schema.Validate(use.Input); err != nil {
			return &domain.ResponseValidationError{
				Reason: fmt.Sprintf("tool %s input invalid: %v", use.ToolName, err),
			}
		}
	}

	if callback != nil {
		if err := callback(resp); err != nil {
			return &domain.ResponseValidationError{Reason: err.Error()}
		}
	}
	return nil
}
