// Package usecase orchestrates a conversation turn end to end: session
// state, the durable log, and the router that produces the reply.
package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"support-orchestrator/internal/domain"
	"support-orchestrator/internal/handlers"
)

// routerAPI dispatches one turn to the right handler.
type routerAPI interface {
	Route(ctx context.Context, conversationID, userID string) (domain.HandlerResponse, error)
}

// sessionAPI is the session store surface the orchestrator needs.
type sessionAPI interface {
	ConversationID(ctx context.Context, userID string) (string, bool)
	SetConversationID(ctx context.Context, userID, conversationID string) bool
	RefreshSession(ctx context.Context, userID, conversationID string) bool
	PushMessage(ctx context.Context, userID, conversationID string, msg domain.Message) bool
	AllMessages(ctx context.Context, conversationID string) ([]domain.Message, bool)
	DeleteConversation(ctx context.Context, userID, conversationID string) bool
	SetMetadata(ctx context.Context, conversationID string, meta domain.Metadata) bool
	Metadata(ctx context.Context, conversationID string) (domain.Metadata, bool)
	GeneratePartIDs(ctx context.Context, userID string) bool
	UserPartID(ctx context.Context, userID string) string
	AssistantPartID(ctx context.Context, userID string) string
}

// durableLog is the append-only store surface the orchestrator needs.
type durableLog interface {
	AppendEvent(ctx context.Context, record domain.EventRecord) error
	AppendHistory(ctx context.Context, record domain.HistoryRecord) error
	RecordConversation(ctx context.Context, userID, conversationID string) error
	EventsByConversation(ctx context.Context, conversationID string) ([]domain.EventRecord, error)
	HistoryByConversation(ctx context.Context, conversationID string) ([]domain.HistoryRecord, error)
}

// ChatService is the conversation orchestrator behind every transport
// action. Durable-log writes are best effort: a logging outage must never
// cost a customer their reply.
type ChatService struct {
	sessions sessionAPI
	store    durableLog
	router   routerAPI
	logger   *slog.Logger
}

// NewChatService creates a ChatService.
func NewChatService(sessions sessionAPI, store durableLog, router routerAPI, logger *slog.Logger) (*ChatService, error) {
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: durable log must not be nil")
	}
	if router == nil {
		return nil, errors.New("usecase: router must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{sessions: sessions, store: store, router: router, logger: logger}, nil
}

// InitializeInput starts or resumes a conversation for a user.
type InitializeInput struct {
	UserID   string
	Metadata domain.Metadata
}

// InitializeOutput carries the active conversation and its visible history.
type InitializeOutput struct {
	ConversationID string           `json:"conversation_id"`
	History        []domain.Message `json:"history"`
}

// Initialize resumes the user's live conversation when one exists, creating
// a fresh one otherwise. Metadata is set on every call so the client can
// update context mid-conversation. Idempotent from the caller's view.
func (s *ChatService) Initialize(ctx context.Context, in InitializeInput) (InitializeOutput, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return InitializeOutput{}, newError(ErrorInvalidInput, "user id is required", nil)
	}

	conversationID, ok := s.sessions.ConversationID(ctx, userID)
	if ok {
		s.sessions.RefreshSession(ctx, userID, conversationID)
	} else {
		var err error
		conversationID, err = s.createConversation(ctx, userID)
		if err != nil {
			return InitializeOutput{}, err
		}
	}

	s.sessions.SetMetadata(ctx, conversationID, in.Metadata)

	messages, ok := s.sessions.AllMessages(ctx, conversationID)
	if !ok {
		return InitializeOutput{}, newError(ErrorInternal, "conversation history unavailable", nil)
	}
	return InitializeOutput{
		ConversationID: conversationID,
		History:        domain.FilterTranscript(messages),
	}, nil
}

func (s *ChatService) createConversation(ctx context.Context, userID string) (string, error) {
	conversationID := uuid.NewString()
	if !s.sessions.SetConversationID(ctx, userID, conversationID) {
		return "", newError(ErrorInternal, "could not create conversation", nil)
	}
	if err := s.store.RecordConversation(ctx, userID, conversationID); err != nil {
		s.logger.Warn("usecase: error recording conversation ownership",
			"user_id", userID, "conversation_id", conversationID, "err", err)
	}
	return conversationID, nil
}

// RespondInput is one user message addressed to their live conversation.
type RespondInput struct {
	UserID  string
	Content string
}

// RespondOutput is the assistant's reply for one turn.
type RespondOutput struct {
	ConversationID string         `json:"conversation_id"`
	Message        domain.Message `json:"message"`
	Handoff        bool           `json:"handoff"`
}

// Respond runs one conversation turn: persist the user message, route it,
// persist the reply. The user must have a live conversation.
func (s *ChatService) Respond(ctx context.Context, in RespondInput) (RespondOutput, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return RespondOutput{}, newError(ErrorInvalidInput, "user id is required", nil)
	}
	if strings.TrimSpace(in.Content) == "" {
		return RespondOutput{}, newError(ErrorInvalidInput, "message content is required", nil)
	}

	conversationID, ok := s.sessions.ConversationID(ctx, userID)
	if !ok {
		s.logger.Info("usecase: user has no active conversations", "user_id", userID)
		return RespondOutput{}, newError(ErrorNotFound, "user has no active conversations", nil)
	}

	s.sessions.GeneratePartIDs(ctx, userID)

	userMessage := domain.Message{Role: domain.RoleUser, Content: in.Content}
	if !s.sessions.PushMessage(ctx, userID, conversationID, userMessage) {
		return RespondOutput{}, newError(ErrorInternal, "could not persist user message", nil)
	}
	s.logUserMessage(ctx, userID, conversationID, userMessage)

	response, err := s.router.Route(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, handlers.ErrModelUnavailable) {
			return RespondOutput{}, newError(ErrorServiceUnavailable, "model failed to respond", err)
		}
		return RespondOutput{}, newError(ErrorInternal, "routing failed", err)
	}

	assistantMessage := domain.Message{Role: domain.RoleAssistant, Content: response.Message}
	if !s.sessions.PushMessage(ctx, userID, conversationID, assistantMessage) {
		return RespondOutput{}, newError(ErrorInternal, "could not persist assistant message", nil)
	}
	s.logAssistantResponse(ctx, userID, conversationID, response)

	return RespondOutput{
		ConversationID: conversationID,
		Message:        assistantMessage,
		Handoff:        response.Status == domain.StatusSupportHandoff,
	}, nil
}

func (s *ChatService) logUserMessage(ctx context.Context, userID, conversationID string, msg domain.Message) {
	partID := s.sessions.UserPartID(ctx, userID)
	if err := s.store.AppendEvent(ctx, domain.EventRecord{
		ConversationID: conversationID,
		Type:           domain.EventUser,
		Payload: map[string]any{"content": map[string]any{
			"role":    string(msg.Role),
			"content": msg.Content,
		}},
		PartID: partID,
	}); err != nil {
		s.logger.Warn("usecase: error recording user event",
			"conversation_id", conversationID, "err", err)
	}
	if err := s.store.AppendHistory(ctx, domain.HistoryRecord{
		ConversationID: conversationID,
		Author:         domain.AuthorUser,
		Message:        msg.Content,
		PartID:         partID,
	}); err != nil {
		s.logger.Warn("usecase: error recording user history row",
			"conversation_id", conversationID, "err", err)
	}
}

func (s *ChatService) logAssistantResponse(ctx context.Context, userID, conversationID string, response domain.HandlerResponse) {
	partID := s.sessions.AssistantPartID(ctx, userID)
	if err := s.store.AppendEvent(ctx, domain.EventRecord{
		ConversationID: conversationID,
		Type:           domain.EventAssistant,
		Payload: map[string]any{"content": map[string]any{
			"status":        string(response.Status),
			"message":       response.Message,
			"chatbot_label": string(response.Label),
		}},
		PartID: partID,
	}); err != nil {
		s.logger.Warn("usecase: error recording assistant event",
			"conversation_id", conversationID, "err", err)
	}
	if err := s.store.AppendHistory(ctx, domain.HistoryRecord{
		ConversationID: conversationID,
		Author:         domain.AuthorAssistant,
		Message:        response.Message,
		Label:          string(response.Label),
		PartID:         partID,
	}); err != nil {
		s.logger.Warn("usecase: error recording assistant history row",
			"conversation_id", conversationID, "err", err)
	}
}

// Restart replaces the user's live conversation with an empty one, carrying
// the metadata over.
func (s *ChatService) Restart(ctx context.Context, userID string) (InitializeOutput, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return InitializeOutput{}, newError(ErrorInvalidInput, "user id is required", nil)
	}

	conversationID, ok := s.sessions.ConversationID(ctx, userID)
	if !ok {
		return InitializeOutput{}, newError(ErrorNotFound, "user has no active conversations", nil)
	}

	meta, hadMeta := s.sessions.Metadata(ctx, conversationID)

	if !s.sessions.DeleteConversation(ctx, userID, conversationID) {
		return InitializeOutput{}, newError(ErrorInternal, "could not delete conversation", nil)
	}

	newConversationID, err := s.createConversation(ctx, userID)
	if err != nil {
		return InitializeOutput{}, err
	}
	if hadMeta {
		s.sessions.SetMetadata(ctx, newConversationID, meta)
	}

	return InitializeOutput{ConversationID: newConversationID, History: []domain.Message{}}, nil
}

// Events returns the full durable event log of a conversation.
func (s *ChatService) Events(ctx context.Context, conversationID string) ([]domain.EventRecord, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, newError(ErrorInvalidInput, "conversation id is required", nil)
	}
	records, err := s.store.EventsByConversation(ctx, conversationID)
	if err != nil {
		s.logger.Error("usecase: error fetching events",
			"conversation_id", conversationID, "err", err)
		return nil, newError(ErrorInternal, "failed fetching events", err)
	}
	if len(records) == 0 {
		return nil, newError(ErrorNotFound, "conversation id not found", nil)
	}
	return records, nil
}

// Messages returns the durable human-readable transcript of a conversation.
func (s *ChatService) Messages(ctx context.Context, conversationID string) ([]domain.HistoryRecord, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, newError(ErrorInvalidInput, "conversation id is required", nil)
	}
	records, err := s.store.HistoryByConversation(ctx, conversationID)
	if err != nil {
		s.logger.Error("usecase: error fetching history messages",
			"conversation_id", conversationID, "err", err)
		return nil, newError(ErrorInternal, "failed fetching messages", err)
	}
	if len(records) == 0 {
		return nil, newError(ErrorNotFound, "conversation id not found", nil)
	}
	return records, nil
}
