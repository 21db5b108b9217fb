package domain

// Metadata is optional structured context attached to a conversation and
// refreshed on every turn. It survives conversation restarts.
type Metadata struct {
	DomainName string `json:"domain_name,omitempty"`
}

// Completion is the normalized result of one LLM call: the choice text,
// any requested tool calls, and token usage for cost accounting.
type Completion struct {
	Content   string
	ToolCalls []ToolCallInfo
	Usage     TokenUsage
}

// TokenUsage reports token counts from a completion.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
