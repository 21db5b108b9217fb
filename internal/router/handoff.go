package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"support-orchestrator/internal/domain"
	"support-orchestrator/internal/integrations/openai"
	"support-orchestrator/internal/retry"
)

const deciderAttempts = 3

// Decider answers the pre-routing questions: does the user want a human,
// and what do we tell them when they get one. Its fallbacks are asymmetric
// on purpose: when the model cannot be read, handing a customer to a human
// is the safe wrong answer, keeping them with a bot is not.
type Decider struct {
	gateway  completer
	sessions transcriptReader
	policy   retry.Policy
	logger   *slog.Logger
}

// NewDecider creates a Decider.
func NewDecider(gateway completer, sessions transcriptReader, logger *slog.Logger) (*Decider, error) {
	if gateway == nil {
		return nil, errors.New("router: gateway must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("router: session store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Decider{
		gateway:  gateway,
		sessions: sessions,
		policy:   retry.Attempts(deciderAttempts).On(isInvalidResponse),
		logger:   logger,
	}, nil
}

// IsSeekingHumanAssistance reports whether the user is explicitly asking for
// a human agent. Exhausting the model's attempts answers true.
func (d *Decider) IsSeekingHumanAssistance(ctx context.Context, conversationID, userID string) bool {
	seeking, err := retry.Do(ctx, d.policy, func(ctx context.Context) (bool, error) {
		return d.decide(ctx, conversationID)
	})
	if err != nil {
		d.logger.Warn("router: handoff decision unavailable, assuming handoff",
			"conversation_id", conversationID, "user_id", userID, "err", err)
		return true
	}
	return seeking
}

func (d *Decider) decide(ctx context.Context, conversationID string) (bool, error) {
	messages, ok := d.sessions.AllMessages(ctx, conversationID)
	if !ok {
		return false, fmt.Errorf("router: conversation %s transcript unavailable: %w",
			conversationID, domain.ErrInvalidModelResponse)
	}
	prompt := append([]domain.Message{{Role: domain.RoleSystem, Content: handoffDecisionPrompt()}},
		domain.FilterTranscript(messages)...)

	completion, ok := d.gateway.Complete(ctx, prompt, openai.Options{
		Model:          openai.ModelGPT4o20240806,
		Temperature:    openai.TemperatureZero,
		ResponseFormat: openai.ResponseJSON,
		Action:         "handoff_decider",
		Team:           "ai",
	})
	if !ok {
		return false, fmt.Errorf("router: no completion for handoff decision: %w", domain.ErrInvalidModelResponse)
	}

	var decoded struct {
		IsSeekingHumanAssistance any `json:"is_seeking_human_assistance"`
	}
	if err := json.Unmarshal([]byte(completion.Content), &decoded); err != nil {
		d.logger.Warn("router: handoff decision response was not valid JSON", "conversation_id", conversationID)
		return false, fmt.Errorf("router: decode handoff decision: %w", domain.ErrInvalidModelResponse)
	}
	seeking, err := coerceBool(decoded.IsSeekingHumanAssistance)
	if err != nil {
		d.logger.Warn("router: handoff decision was not a boolean",
			"conversation_id", conversationID, "value", decoded.IsSeekingHumanAssistance)
		return false, err
	}
	return seeking, nil
}

// coerceBool accepts the boolean encodings models actually emit: a JSON
// bool, the numbers 0/1, or the strings "true"/"false" in any case.
func coerceBool(v any) (bool, error) {
	switch value := v.(type) {
	case bool:
		return value, nil
	case float64:
		if value == 0 {
			return false, nil
		}
		if value == 1 {
			return true, nil
		}
	case string:
		switch strings.ToLower(value) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("router: unreadable boolean %v: %w", v, domain.ErrInvalidModelResponse)
}

// HandoffMessage produces the handoff announcement in the user's language.
// Exhausting the model's attempts returns the canonical English text.
func (d *Decider) HandoffMessage(ctx context.Context, conversationID, userID string) string {
	message, err := retry.Do(ctx, d.policy, func(ctx context.Context) (string, error) {
		completion, ok := d.gateway.Complete(ctx, []domain.Message{
			{Role: domain.RoleSystem, Content: handoffMessagePrompt()},
		}, openai.Options{
			Model:       openai.ModelGPT4o20240806,
			Temperature: openai.TemperatureZero,
			Action:      "handoff_message",
			Team:        "ai",
		})
		if !ok || completion.Content == "" {
			return "", fmt.Errorf("router: no completion for handoff message: %w", domain.ErrInvalidModelResponse)
		}
		return completion.Content, nil
	})
	if err != nil {
		d.logger.Warn("router: handoff message unavailable, using default",
			"conversation_id", conversationID, "user_id", userID, "err", err)
		return DefaultHandoffMessage
	}
	return message
}

// ClarifyMessage asks the user for more detail ahead of a handoff, in the
// user's language. Exhausting the model's attempts returns the canonical
// English text.
func (d *Decider) ClarifyMessage(ctx context.Context, conversationID string) string {
	message, err := retry.Do(ctx, d.policy, func(ctx context.Context) (string, error) {
		messages, ok := d.sessions.AllMessages(ctx, conversationID)
		if !ok {
			return "", fmt.Errorf("router: conversation %s transcript unavailable: %w",
				conversationID, domain.ErrInvalidModelResponse)
		}
		prompt := append([]domain.Message{{Role: domain.RoleSystem, Content: clarifyPrompt()}},
			domain.FilterTranscript(messages)...)
		completion, ok := d.gateway.Complete(ctx, prompt, openai.Options{
			Model:       openai.ModelGPT4o20240806,
			Temperature: openai.TemperatureZero,
			Action:      "handoff_clarify",
			Team:        "ai",
		})
		if !ok || completion.Content == "" {
			return "", fmt.Errorf("router: no completion for clarify message: %w", domain.ErrInvalidModelResponse)
		}
		return completion.Content, nil
	})
	if err != nil {
		d.logger.Warn("router: clarify message unavailable, using default",
			"conversation_id", conversationID, "err", err)
		return DefaultClarifyMessage
	}
	return message
}
