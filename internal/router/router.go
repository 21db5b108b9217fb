package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"support-orchestrator/internal/domain"
)

// maximumOutOfScopeAttempts caps how many turns a conversation may be
// classified out of scope before the user is asked for detail and queued
// for a human.
const maximumOutOfScopeAttempts = 3

// Handler is one conversation handler the router can dispatch to.
type Handler interface {
	Handle(ctx context.Context, conversationID, userID string) (domain.HandlerResponse, error)
}

// handoffState is the session surface Route reads and writes directly.
type handoffState interface {
	MustHandoff(ctx context.Context, conversationID string) bool
	SetMustHandoff(ctx context.Context, conversationID string) bool
}

// eventReader reads the durable event log.
type eventReader interface {
	EventsByConversation(ctx context.Context, conversationID string) ([]domain.EventRecord, error)
}

// outputLabels maps a handler category to the caller-facing label attached
// to its responses.
var outputLabels = map[domain.Label]domain.OutputLabel{
	domain.LabelDomain:     domain.OutputLabelDomain,
	domain.LabelOutOfScope: domain.OutputLabelOutOfScope,
}

// Router owns the per-turn dispatch decision.
type Router struct {
	labeler  *Labeler
	decider  *Decider
	sessions handoffState
	events   eventReader
	handlers map[domain.Label]Handler
	logger   *slog.Logger
}

// New creates a Router. handlers must cover every member of domain.Labels().
func New(labeler *Labeler, decider *Decider, sessions handoffState, events eventReader, handlers map[domain.Label]Handler, logger *slog.Logger) (*Router, error) {
	if labeler == nil {
		return nil, errors.New("router: labeler must not be nil")
	}
	if decider == nil {
		return nil, errors.New("router: decider must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("router: session store must not be nil")
	}
	if events == nil {
		return nil, errors.New("router: event log must not be nil")
	}
	for _, label := range domain.Labels() {
		if handlers[label] == nil {
			return nil, fmt.Errorf("router: no handler registered for label %q", label)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		labeler:  labeler,
		decider:  decider,
		sessions: sessions,
		events:   events,
		handlers: handlers,
		logger:   logger,
	}, nil
}

// Route produces the assistant response for the turn. Exactly one of three
// paths answers: the support-handoff path when the user wants a human (or
// already got one), the handler selected by the label, or the clarify path
// once a conversation has exhausted its out-of-scope attempts.
func (r *Router) Route(ctx context.Context, conversationID, userID string) (domain.HandlerResponse, error) {
	if r.sessions.MustHandoff(ctx, conversationID) {
		return domain.HandlerResponse{
			Status:  domain.StatusSupportHandoff,
			Message: r.decider.HandoffMessage(ctx, conversationID, userID),
			Label:   domain.OutputLabelSupportHandoff,
		}, nil
	}

	if r.decider.IsSeekingHumanAssistance(ctx, conversationID, userID) {
		r.sessions.SetMustHandoff(ctx, conversationID)
		return domain.HandlerResponse{
			Status:  domain.StatusSupportHandoff,
			Message: r.decider.HandoffMessage(ctx, conversationID, userID),
			Label:   domain.OutputLabelSupportHandoff,
		}, nil
	}

	label := r.labeler.Label(ctx, conversationID, userID)

	if label == domain.LabelOutOfScope && r.outOfScopeAttempts(ctx, conversationID) >= maximumOutOfScopeAttempts {
		r.logger.Info("router: out-of-scope attempts exhausted, queueing handoff",
			"conversation_id", conversationID)
		r.sessions.SetMustHandoff(ctx, conversationID)
		return domain.HandlerResponse{
			Status:  domain.StatusSuccess,
			Message: r.decider.ClarifyMessage(ctx, conversationID),
			Label:   domain.OutputLabelSupportHandoff,
		}, nil
	}

	response, err := r.handlers[label].Handle(ctx, conversationID, userID)
	if err != nil {
		return domain.HandlerResponse{}, fmt.Errorf("router: %s handler: %w", label, err)
	}
	response.Label = outputLabels[label]
	return response, nil
}

// outOfScopeAttempts counts how many turns of this conversation were labeled
// out of scope, including the current one. A log read failure counts as
// zero; the cap is a courtesy, not an invariant.
func (r *Router) outOfScopeAttempts(ctx context.Context, conversationID string) int {
	records, err := r.events.EventsByConversation(ctx, conversationID)
	if err != nil {
		r.logger.Warn("router: error counting out-of-scope attempts",
			"conversation_id", conversationID, "err", err)
		return 0
	}
	attempts := 0
	for _, record := range records {
		if record.Type != domain.EventChatbotLabel {
			continue
		}
		content, ok := record.Payload["content"].(map[string]any)
		if !ok {
			continue
		}
		if content["label"] == string(domain.LabelOutOfScope) {
			attempts++
		}
	}
	return attempts
}
