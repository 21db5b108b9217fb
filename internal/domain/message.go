package domain

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FunctionCall is the name/argument pair of a model-issued tool call.
// Arguments is the raw JSON string produced by the model.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallInfo is a single tool call as recorded in the session transcript
// and the durable event log.
type ToolCallInfo struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is the provider-agnostic chat message shape shared by the session
// store, the prompt builders and the LLM gateway. Content may be empty when
// ToolCalls is set; ToolCallID correlates a tool-role message back to the
// call that produced it.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []ToolCallInfo `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// HasToolCalls reports whether the message carries model-issued tool calls.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}
