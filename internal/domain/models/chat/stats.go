package chat

// TokenUsage is per-call or running token accounting.
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Add accumulates another usage record into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// ConversationStats are the per-conversation counters.
//
// StatementCount increments only at the successful end of a full
// statement, never mid-loop. TurnCount resets to zero at the start of
// each statement; TotalTurnCount only grows.
type ConversationStats struct {
	StatementCount int `json:"statementCount"`
	TurnCount      int `json:"statementTurnCount"`
	TotalTurnCount int `json:"conversationTurnCount"`
}

// ConversationTotals are the running usage totals for one conversation.
type ConversationTotals struct {
	InputTokensTotal  int `json:"inputTokensTotal"`
	OutputTokensTotal int `json:"outputTokensTotal"`
	TotalTokensTotal  int `json:"totalTokensTotal"`
	RequestCount      int `json:"providerRequestCount"`
}

// AddUsage rolls one call's usage into the totals.
func (t *ConversationTotals) AddUsage(u TokenUsage) {
	t.InputTokensTotal += u.InputTokens
	t.OutputTokensTotal += u.OutputTokens
	t.TotalTokensTotal += u.TotalTokens
}
