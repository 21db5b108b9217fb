package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"support-orchestrator/internal/domain"
	"support-orchestrator/internal/integrations/openai"
	"support-orchestrator/internal/retry"
)

const (
	// maxLoopCount bounds the tool-calling loop. Four model rounds are
	// enough for any real tool chain; past that the model is stuck.
	maxLoopCount = 4

	completionAttempts = 3
)

// mockedFailureMessage is fed back to the model as the result of a tool
// that errored or panicked, steering it away from retrying the tool.
const mockedFailureMessage = "Function has faced an error. Do not use this function at the moment."

// ErrModelUnavailable is returned when the model never produced a final
// answer within the loop bound, or failed all completion attempts.
var ErrModelUnavailable = errors.New("handlers: model failed to produce a response")

// Variant is the per-category configuration of a Runner: which model to
// drive, how, with what persona and which tools.
type Variant interface {
	Name() string
	Model() string
	Temperature() openai.Temperature
	SystemDescription(ctx context.Context, conversationID string) string
	Tools() Registry
}

// toolCompleter is the LLM gateway surface the runner needs.
type toolCompleter interface {
	CompleteWithTools(ctx context.Context, messages []domain.Message, tools []openai.ToolDefinition, opts openai.Options) (domain.Completion, bool)
}

// sessionAPI is the session store surface the runner needs.
type sessionAPI interface {
	RecentMessages(ctx context.Context, conversationID string) ([]domain.Message, bool)
	PushMessage(ctx context.Context, userID, conversationID string, msg domain.Message) bool
	AssistantPartID(ctx context.Context, userID string) string
}

// eventAppender is the durable log surface the runner and its tools need.
type eventAppender interface {
	AppendEvent(ctx context.Context, record domain.EventRecord) error
}

// Runner drives one handler variant's tool-calling loop.
type Runner struct {
	variant  Variant
	gateway  toolCompleter
	sessions sessionAPI
	events   eventAppender
	policy   retry.Policy
	logger   *slog.Logger
}

// NewRunner creates a Runner for the given variant.
func NewRunner(variant Variant, gateway toolCompleter, sessions sessionAPI, events eventAppender, logger *slog.Logger) (*Runner, error) {
	if variant == nil {
		return nil, errors.New("handlers: variant must not be nil")
	}
	if gateway == nil {
		return nil, errors.New("handlers: gateway must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("handlers: session store must not be nil")
	}
	if events == nil {
		return nil, errors.New("handlers: event log must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		variant:  variant,
		gateway:  gateway,
		sessions: sessions,
		events:   events,
		policy: retry.Attempts(completionAttempts).On(func(err error) bool {
			return errors.Is(err, domain.ErrInvalidModelResponse)
		}),
		logger: logger,
	}, nil
}

// Handle runs the tool-calling loop for one turn. Tool results are pushed
// to the session transcript as they land, so each loop round prompts the
// model with everything executed so far. A tool requesting exit flips the
// response to a support handoff once the model has said its goodbye.
func (r *Runner) Handle(ctx context.Context, conversationID, userID string) (domain.HandlerResponse, error) {
	handoff := false
	for i := 0; i < maxLoopCount; i++ {
		completion, err := r.completion(ctx, conversationID)
		if err != nil {
			return domain.HandlerResponse{}, err
		}

		if len(completion.ToolCalls) > 0 {
			if r.processToolCalls(ctx, conversationID, userID, completion.ToolCalls) {
				handoff = true
			}
		}

		if completion.Content != "" && len(completion.ToolCalls) == 0 {
			status := domain.StatusSuccess
			if handoff {
				status = domain.StatusSupportHandoff
			}
			return domain.HandlerResponse{Status: status, Message: completion.Content}, nil
		}
	}

	r.logger.Warn("handlers: loop bound reached without a final response",
		"handler", r.variant.Name(), "conversation_id", conversationID)
	return domain.HandlerResponse{}, fmt.Errorf("handlers: %s: %d rounds without answer: %w",
		r.variant.Name(), maxLoopCount, ErrModelUnavailable)
}

func (r *Runner) completion(ctx context.Context, conversationID string) (domain.Completion, error) {
	completion, err := retry.Do(ctx, r.policy, func(ctx context.Context) (domain.Completion, error) {
		messages, ok := r.sessions.RecentMessages(ctx, conversationID)
		if !ok {
			return domain.Completion{}, fmt.Errorf("handlers: transcript unavailable: %w", domain.ErrInvalidModelResponse)
		}
		prompt := append(
			[]domain.Message{{Role: domain.RoleSystem, Content: r.variant.SystemDescription(ctx, conversationID)}},
			domain.TrimToEarliestUserMessage(messages)...)

		completion, ok := r.gateway.CompleteWithTools(ctx, prompt, r.variant.Tools().Definitions(), openai.Options{
			Model:       r.variant.Model(),
			Temperature: r.variant.Temperature(),
			Action:      "tools_call_" + r.variant.Name(),
			Team:        "ai",
			Chatbot:     r.variant.Name(),
		})
		if !ok {
			return domain.Completion{}, fmt.Errorf("handlers: no completion: %w", domain.ErrInvalidModelResponse)
		}
		return completion, nil
	})
	if err != nil {
		return domain.Completion{}, fmt.Errorf("handlers: %s: %w: %w", r.variant.Name(), ErrModelUnavailable, err)
	}
	return completion, nil
}

// toolResult pairs the transcript message of one executed tool with its
// exit request.
type toolResult struct {
	message domain.Message
	exit    bool
}

// processToolCalls records, validates and executes one round of model tool
// calls, then feeds the results back into the transcript. It reports
// whether any tool requested a handoff.
func (r *Runner) processToolCalls(ctx context.Context, conversationID, userID string, calls []domain.ToolCallInfo) bool {
	partID := r.sessions.AssistantPartID(ctx, userID)
	r.recordToolCallEvent(ctx, conversationID, partID, calls)

	registry := r.variant.Tools()
	for _, call := range calls {
		if _, ok := registry[call.Function.Name]; !ok {
			r.logger.Warn("handlers: model requested unknown tool, skipping round",
				"handler", r.variant.Name(), "conversation_id", conversationID, "tool", call.Function.Name)
			return false
		}
	}

	tc := ToolContext{
		ConversationID: conversationID,
		UserID:         userID,
		PartID:         partID,
		Events:         r.events,
		Logger:         r.logger,
	}

	results := make(chan toolResult, len(calls))
	for _, call := range calls {
		go func(call domain.ToolCallInfo) {
			results <- r.execute(ctx, tc, registry[call.Function.Name], call)
		}(call)
	}

	// The aggregated assistant message precedes every result so the
	// transcript mirrors the wire protocol.
	r.sessions.PushMessage(ctx, userID, conversationID, domain.Message{
		Role:      domain.RoleAssistant,
		ToolCalls: calls,
	})

	handoff := false
	for range calls {
		result := <-results
		if result.exit {
			handoff = true
		}
		r.sessions.PushMessage(ctx, userID, conversationID, result.message)
	}
	return handoff
}

// execute runs one tool call, converting errors and panics into the mocked
// failure result so a broken tool never breaks the turn.
func (r *Runner) execute(ctx context.Context, tc ToolContext, tool Tool, call domain.ToolCallInfo) (result toolResult) {
	failed := domain.Message{
		Role:       domain.RoleTool,
		ToolCallID: call.ID,
		Content:    mockedFailureMessage,
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handlers: tool panicked",
				"handler", r.variant.Name(), "conversation_id", tc.ConversationID,
				"tool", call.Function.Name, "panic", rec, "stack", string(debug.Stack()))
			r.recordFunctionError(ctx, tc, call, fmt.Sprintf("panic: %v", rec))
			result = toolResult{message: failed}
		}
	}()

	var args map[string]any
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			r.logger.Error("handlers: tool arguments were not valid JSON",
				"handler", r.variant.Name(), "conversation_id", tc.ConversationID,
				"tool", call.Function.Name, "err", err)
			r.recordFunctionError(ctx, tc, call, fmt.Sprintf("decode arguments: %v", err))
			return toolResult{message: failed}
		}
	}

	r.logger.Info("handlers: calling tool",
		"handler", r.variant.Name(), "conversation_id", tc.ConversationID,
		"tool", call.Function.Name, "arguments", call.Function.Arguments)

	output, err := tool.Run(ctx, tc, args)
	if err != nil {
		r.logger.Error("handlers: tool call failed",
			"handler", r.variant.Name(), "conversation_id", tc.ConversationID,
			"tool", call.Function.Name, "err", err, "stack", string(debug.Stack()))
		r.recordFunctionError(ctx, tc, call, err.Error())
		return toolResult{message: failed}
	}

	r.recordFunctionResponse(ctx, tc, call, output)

	return toolResult{
		message: domain.Message{
			Role:       domain.RoleTool,
			ToolCallID: call.ID,
			Content:    output.Message,
		},
		exit: output.Status == domain.ToolStatusExit,
	}
}

func (r *Runner) recordToolCallEvent(ctx context.Context, conversationID, partID string, calls []domain.ToolCallInfo) {
	content := make([]any, 0, len(calls))
	for _, call := range calls {
		content = append(content, map[string]any{
			"id":   call.ID,
			"type": call.Type,
			"function": map[string]any{
				"name":      call.Function.Name,
				"arguments": call.Function.Arguments,
			},
		})
	}
	if err := r.events.AppendEvent(ctx, domain.EventRecord{
		ConversationID: conversationID,
		Type:           domain.EventToolCall,
		Payload:        map[string]any{"content": content},
		PartID:         partID,
	}); err != nil {
		r.logger.Warn("handlers: error recording tool_call event",
			"conversation_id", conversationID, "err", err)
	}
}

func (r *Runner) recordFunctionResponse(ctx context.Context, tc ToolContext, call domain.ToolCallInfo, output domain.ToolOutput) {
	content := map[string]any{
		"name":      call.Function.Name,
		"arguments": call.Function.Arguments,
		"status":    string(output.Status),
		"message":   output.Message,
	}
	if len(output.Data) > 0 {
		content["data"] = output.Data
	}
	if err := tc.Events.AppendEvent(ctx, domain.EventRecord{
		ConversationID: tc.ConversationID,
		Type:           domain.EventFunctionResponse,
		Payload:        map[string]any{"content": content},
		PartID:         tc.PartID,
	}); err != nil {
		r.logger.Warn("handlers: error recording function_response event",
			"conversation_id", tc.ConversationID, "err", err)
	}
}

func (r *Runner) recordFunctionError(ctx context.Context, tc ToolContext, call domain.ToolCallInfo, message string) {
	if err := tc.Events.AppendEvent(ctx, domain.EventRecord{
		ConversationID: tc.ConversationID,
		Type:           domain.EventFunctionError,
		Payload: map[string]any{"content": map[string]any{
			"name":          call.Function.Name,
			"arguments":     call.Function.Arguments,
			"error_message": message,
		}},
		PartID: tc.PartID,
	}); err != nil {
		r.logger.Warn("handlers: error recording function_error event",
			"conversation_id", tc.ConversationID, "err", err)
	}
}
