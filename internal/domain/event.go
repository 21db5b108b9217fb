package domain

import "time"

// EventType enumerates the durable event kinds appended per turn.
type EventType string

const (
	EventUser             EventType = "user"
	EventAssistant        EventType = "assistant"
	EventToolCall         EventType = "tool_call"
	EventFunctionResponse EventType = "function_response"
	EventFunctionError    EventType = "function_error"
	EventFunctionLog      EventType = "function_log"
	EventChatbotLabel     EventType = "chatbot_label"
)

// EventRecord is one append-only fact in the durable event log. Records are
// never updated or deleted. PartID correlates every record produced during
// one turn side (user or assistant).
type EventRecord struct {
	ConversationID string
	Type           EventType
	Payload        map[string]any
	PartID         string
	CreatedAt      time.Time
}

// AuthorType identifies who authored a history transcript row.
type AuthorType string

const (
	AuthorUser      AuthorType = "user"
	AuthorAssistant AuthorType = "assistant"
)

// HistoryRecord is a simplified transcript row for human-facing history
// retrieval. Append-only, parallel to the event log.
type HistoryRecord struct {
	ConversationID string
	Author         AuthorType
	Message        string
	Label          string
	PartID         string
	CreatedAt      time.Time
}
