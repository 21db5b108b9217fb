// Package handlers contains the tool-calling conversation handlers the
// router dispatches to, one per routable category. A handler drives the
// model in a bounded loop, executing requested tools and feeding results
// back until the model produces a plain answer.
package handlers

import (
	"context"
	"log/slog"
	"sort"

	"support-orchestrator/internal/domain"
	"support-orchestrator/internal/integrations/openai"
)

// ToolContext carries the per-turn wiring a tool executable may need.
type ToolContext struct {
	ConversationID string
	UserID         string
	PartID         string
	Events         eventAppender
	Logger         *slog.Logger
}

// Tool is one callable exposed to the model: its schema as advertised in
// the completion request, and the executable behind it. Run receives the
// model-declared arguments decoded from JSON.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Run         func(ctx context.Context, tc ToolContext, args map[string]any) (domain.ToolOutput, error)
}

// Registry is the static name-to-tool table of one handler variant.
type Registry map[string]Tool

// Definitions renders the registry as gateway tool definitions, in stable
// name order.
func (r Registry) Definitions() []openai.ToolDefinition {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]openai.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool := r[name]
		defs = append(defs, openai.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	return defs
}
