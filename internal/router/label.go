// Package router decides who answers a turn: the support-handoff path, the
// domain handler or the out-of-scope handler. All decisions are made by the
// model over the filtered conversation transcript and fall back to safe
// defaults when the model cannot be trusted.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"support-orchestrator/internal/domain"
	"support-orchestrator/internal/integrations/openai"
	"support-orchestrator/internal/retry"
)

const labelAttempts = 3

// completer is the LLM gateway surface the router needs.
type completer interface {
	Complete(ctx context.Context, messages []domain.Message, opts openai.Options) (domain.Completion, bool)
}

// transcriptReader provides the session state the router reads and the
// active-label key it writes.
type transcriptReader interface {
	AllMessages(ctx context.Context, conversationID string) ([]domain.Message, bool)
	AssistantPartID(ctx context.Context, userID string) string
	SetActiveLabel(ctx context.Context, conversationID string, label domain.Label) bool
}

// eventAppender is the durable log surface the router needs.
type eventAppender interface {
	AppendEvent(ctx context.Context, record domain.EventRecord) error
}

// Labeler assigns a handler category to a conversation turn.
type Labeler struct {
	gateway  completer
	sessions transcriptReader
	events   eventAppender
	policy   retry.Policy
	logger   *slog.Logger
}

// NewLabeler creates a Labeler.
func NewLabeler(gateway completer, sessions transcriptReader, events eventAppender, logger *slog.Logger) (*Labeler, error) {
	if gateway == nil {
		return nil, errors.New("router: gateway must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("router: session store must not be nil")
	}
	if events == nil {
		return nil, errors.New("router: event log must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Labeler{
		gateway:  gateway,
		sessions: sessions,
		events:   events,
		policy:   retry.Attempts(labelAttempts).On(isInvalidResponse),
		logger:   logger,
	}, nil
}

func isInvalidResponse(err error) bool {
	return errors.Is(err, domain.ErrInvalidModelResponse)
}

// Label classifies the conversation into a handler category. The model gets
// a bounded number of attempts to produce a member of the category set;
// after that the turn is treated as out of scope rather than failed.
func (l *Labeler) Label(ctx context.Context, conversationID, userID string) domain.Label {
	label, err := retry.Do(ctx, l.policy, func(ctx context.Context) (domain.Label, error) {
		return l.generate(ctx, conversationID)
	})
	if err != nil {
		l.logger.Warn("router: falling back to out_of_scope label",
			"conversation_id", conversationID, "err", err)
		return domain.LabelOutOfScope
	}

	l.sessions.SetActiveLabel(ctx, conversationID, label)
	if err := l.events.AppendEvent(ctx, domain.EventRecord{
		ConversationID: conversationID,
		Type:           domain.EventChatbotLabel,
		Payload: map[string]any{"content": map[string]any{
			"message": "Setting active chatbot label for conversation",
			"label":   string(label),
		}},
		PartID: l.sessions.AssistantPartID(ctx, userID),
	}); err != nil {
		l.logger.Warn("router: error recording chatbot_label event",
			"conversation_id", conversationID, "err", err)
	}
	return label
}

func (l *Labeler) generate(ctx context.Context, conversationID string) (domain.Label, error) {
	messages, ok := l.sessions.AllMessages(ctx, conversationID)
	if !ok {
		return "", fmt.Errorf("router: conversation %s transcript unavailable: %w",
			conversationID, domain.ErrInvalidModelResponse)
	}
	prompt := append([]domain.Message{{Role: domain.RoleSystem, Content: routerPrompt()}},
		domain.FilterTranscript(messages)...)

	completion, ok := l.gateway.Complete(ctx, prompt, openai.Options{
		Model:          openai.ModelGPT4o20240806,
		Temperature:    openai.TemperatureZero,
		ResponseFormat: openai.ResponseJSON,
		Action:         "chatbot_label",
		Team:           "ai",
	})
	if !ok {
		return "", fmt.Errorf("router: no completion for label: %w", domain.ErrInvalidModelResponse)
	}

	var decoded struct {
		TeamLabel domain.Label `json:"team_label"`
	}
	if err := json.Unmarshal([]byte(completion.Content), &decoded); err != nil {
		l.logger.Warn("router: label response was not valid JSON", "conversation_id", conversationID)
		return "", fmt.Errorf("router: decode label response: %w", domain.ErrInvalidModelResponse)
	}
	if !decoded.TeamLabel.Valid() {
		l.logger.Warn("router: label response was not a known category",
			"conversation_id", conversationID, "label", decoded.TeamLabel)
		return "", fmt.Errorf("router: unknown label %q: %w", decoded.TeamLabel, domain.ErrInvalidModelResponse)
	}
	return decoded.TeamLabel, nil
}
