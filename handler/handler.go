// Package handler is the Lambda transport over the chat orchestrator. One
// function serves every action; the request body selects which.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"support-orchestrator/internal/domain"
	"support-orchestrator/internal/usecase"
)

// chatService is the orchestrator surface the transport needs.
type chatService interface {
	Initialize(ctx context.Context, in usecase.InitializeInput) (usecase.InitializeOutput, error)
	Respond(ctx context.Context, in usecase.RespondInput) (usecase.RespondOutput, error)
	Restart(ctx context.Context, userID string) (usecase.InitializeOutput, error)
	Events(ctx context.Context, conversationID string) ([]domain.EventRecord, error)
	Messages(ctx context.Context, conversationID string) ([]domain.HistoryRecord, error)
}

type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// request is the union body of every action.
type request struct {
	Action         string          `json:"action"`
	UserID         string          `json:"user_id"`
	Content        string          `json:"content"`
	ConversationID string          `json:"conversation_id"`
	Metadata       domain.Metadata `json:"metadata"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type eventsResponse struct {
	Events []eventDTO `json:"events"`
}

type eventDTO struct {
	ConversationID string         `json:"conversation_id"`
	EventType      string         `json:"event_type"`
	Payload        map[string]any `json:"payload"`
	MessagePartID  string         `json:"message_part_id"`
	CreatedAt      time.Time      `json:"created_at"`
}

type messagesResponse struct {
	Messages []historyDTO `json:"messages"`
}

type historyDTO struct {
	ConversationID string    `json:"conversation_id"`
	AuthorType     string    `json:"author_type"`
	Message        string    `json:"message"`
	ChatbotLabel   string    `json:"chatbot_label,omitempty"`
	MessagePartID  string    `json:"message_part_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Handler dispatches Lambda invocations to the chat service.
type Handler struct {
	chat   chatService
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(chat chatService, logger *slog.Logger) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat service must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{chat: chat, logger: logger}, nil
}

// Handle serves one invocation.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (Response, error) {
	correlationID := correlationIDFrom(event.Headers)

	var req request
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return errorWith(http.StatusBadRequest, usecase.ErrorInvalidInput, "body must be JSON", correlationID), nil
	}

	out, err := h.dispatch(ctx, req)
	if err != nil {
		h.logger.Warn("handler: action failed",
			"action", req.Action, "user_id", req.UserID, "correlation_id", correlationID, "err", err)
		return errorFrom(err, correlationID), nil
	}
	return jsonResponse(http.StatusOK, out, correlationID), nil
}

func (h *Handler) dispatch(ctx context.Context, req request) (any, error) {
	switch req.Action {
	case "initialize":
		return h.chat.Initialize(ctx, usecase.InitializeInput{UserID: req.UserID, Metadata: req.Metadata})
	case "respond":
		return h.chat.Respond(ctx, usecase.RespondInput{UserID: req.UserID, Content: req.Content})
	case "restart":
		return h.chat.Restart(ctx, req.UserID)
	case "events":
		records, err := h.chat.Events(ctx, req.ConversationID)
		if err != nil {
			return nil, err
		}
		return toEventsResponse(records), nil
	case "messages":
		records, err := h.chat.Messages(ctx, req.ConversationID)
		if err != nil {
			return nil, err
		}
		return toMessagesResponse(records), nil
	default:
		return nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "unknown action"}
	}
}

func toEventsResponse(records []domain.EventRecord) eventsResponse {
	out := eventsResponse{Events: make([]eventDTO, 0, len(records))}
	for _, record := range records {
		out.Events = append(out.Events, eventDTO{
			ConversationID: record.ConversationID,
			EventType:      string(record.Type),
			Payload:        record.Payload,
			MessagePartID:  record.PartID,
			CreatedAt:      record.CreatedAt,
		})
	}
	return out
}

func toMessagesResponse(records []domain.HistoryRecord) messagesResponse {
	out := messagesResponse{Messages: make([]historyDTO, 0, len(records))}
	for _, record := range records {
		out.Messages = append(out.Messages, historyDTO{
			ConversationID: record.ConversationID,
			AuthorType:     string(record.Author),
			Message:        record.Message,
			ChatbotLabel:   record.Label,
			MessagePartID:  record.PartID,
			CreatedAt:      record.CreatedAt,
		})
	}
	return out
}

func correlationIDFrom(headers map[string]string) string {
	for key, value := range headers {
		if http.CanonicalHeaderKey(key) == "X-Correlation-Id" && value != "" {
			return value
		}
	}
	return uuid.NewString()
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorFrom(err error, correlationID string) Response {
	var ue *usecase.Error
	if errors.As(err, &ue) {
		return errorWith(statusFor(ue.Code), ue.Code, ue.Reason, correlationID)
	}
	return errorWith(http.StatusInternalServerError, usecase.ErrorInternal, "", correlationID)
}

func errorWith(status int, code usecase.ErrorCode, reason, correlationID string) Response {
	return jsonResponse(status, errorResponse{Error: string(code), Reason: reason}, correlationID)
}

func jsonResponse(status int, body any, correlationID string) Response {
	raw, err := json.Marshal(body)
	if err != nil {
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
		status = http.StatusInternalServerError
	}
	return Response{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": correlationID,
		},
		Body: string(raw),
	}
}
