package llm

import (
	"fmt"
	"log/slog"
	"sync"

	domainllm "codeloom/internal/domain/services/llm"
)

// Factory holds the constructed provider adapters, keyed by provider.
// It is built once at startup and passed by reference to the engine;
// callers never branch on vendor identity outside it.
type Factory struct {
	mu       sync.RWMutex
	adapters map[domainllm.Provider]domainllm.Adapter
	logger   *slog.Logger
}

// NewFactory creates an empty factory.
func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{
		adapters: make(map[domainllm.Provider]domainllm.Adapter),
		logger:   logger,
	}
}

// Register adds an adapter for its provider.
func (f *Factory) Register(adapter domainllm.Adapter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adapters[adapter.Name()] = adapter
	f.logger.Info("provider registered", "provider", adapter.Name())
}

// Get returns the adapter for a provider.
func (f *Factory) Get(provider domainllm.Provider) (domainllm.Adapter, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	adapter, ok := f.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", provider)
	}
	return adapter, nil
}
