package engine

import (
	"sync"

	"codeloom/internal/domain/models/chat"
)

// AggregateStats accumulates process-wide statement and usage totals
// across every conversation the engine hosts. It is separate from the
// per-conversation counters so one engine can report a fleet-level view.
type AggregateStats struct {
	mu         sync.Mutex
	statements int
	turns      int
	totals     chat.ConversationTotals
}

// NewAggregateStats creates an empty aggregate.
func NewAggregateStats() *AggregateStats {
	return &AggregateStats{}
}

// RecordStatement folds one completed statement into the aggregate.
func (a *AggregateStats) RecordStatement(turns int, usage chat.TokenUsage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statements++
	a.turns += turns
	a.totals.AddUsage(usage)
	a.totals.RequestCount++
}

// Snapshot returns the current aggregate values.
func (a *AggregateStats) Snapshot() (statements, turns int, totals chat.ConversationTotals) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statements, a.turns, a.totals
}
