package domain

// Label selects which chat handler owns a turn.
type Label string

const (
	LabelDomain     Label = "domain"
	LabelOutOfScope Label = "out_of_scope"
)

// Labels lists every routable handler category.
func Labels() []Label {
	return []Label{LabelDomain, LabelOutOfScope}
}

// Valid reports whether l is a member of the routable category set.
func (l Label) Valid() bool {
	for _, known := range Labels() {
		if l == known {
			return true
		}
	}
	return false
}

// OutputLabel is the caller-facing tag attached to a turn's response.
type OutputLabel string

const (
	OutputLabelDomain         OutputLabel = "domain_bot"
	OutputLabelOutOfScope     OutputLabel = "out_of_scope_bot"
	OutputLabelSupportHandoff OutputLabel = "support_handoff_bot"
)

// ResponseStatus is the terminal outcome of one handler invocation.
type ResponseStatus string

const (
	StatusSuccess        ResponseStatus = "success"
	StatusSupportHandoff ResponseStatus = "support_handoff"
)

// HandlerResponse is produced by exactly one handler per turn and consumed
// by the orchestrator to update both stores and assemble the reply.
type HandlerResponse struct {
	Status  ResponseStatus
	Message string
	Label   OutputLabel
}

// ToolStatus is the outcome flag a tool executable attaches to its result.
type ToolStatus string

const (
	ToolStatusSuccess ToolStatus = "success"
	// ToolStatusExit marks results that request a support handoff once the
	// model has produced its closing message.
	ToolStatusExit ToolStatus = "exit"
)

// ToolOutput is the structured result of one tool execution.
type ToolOutput struct {
	Status  ToolStatus     `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}
