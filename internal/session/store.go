// Package session is the typed accessor over the Redis-backed TTL store
// holding live conversation state: the user to conversation mapping, the
// rolling message transcript, per-conversation metadata and the per-turn
// part identifier pair. The session store is the source of truth for a
// live conversation; the durable log is not.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"support-orchestrator/internal/domain"
	"support-orchestrator/internal/retry"
)

// PartIDUnavailable is returned by UserPartID and AssistantPartID when the
// part id pair has expired or the store is unreachable. It propagates into
// log correlation fields instead of failing the turn.
const PartIDUnavailable = "ERROR_RETRIEVING_PART_ID"

const (
	userConversationPrefix = "user_conversation:"
	messagesPrefix         = "conversation_messages:"
	metadataPrefix         = "conversation_metadata:"
	chatbotLabelPrefix     = "chatbot_label:"
	mustHandoffPrefix      = "must_handoff_conversation:"
	partIDsPrefix          = "message_part_ids:"

	sessionTTL = time.Hour
	partIDTTL  = 5 * time.Minute

	// recentMessageCount bounds the transcript window handed to handlers.
	recentMessageCount = 20

	storeAttempts = 3
)

// redisAPI is the minimal go-redis interface required by Store.
// *redis.Client satisfies it; tests substitute an in-memory fake built
// with the redis.New*Result constructors.
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// partIDs is the JSON value stored under the part id key for one turn.
type partIDs struct {
	UserPartID      string `json:"user_part_id"`
	AssistantPartID string `json:"assistant_part_id"`
}

// Store wraps the Redis session keyspace. Every operation tolerates store
// unavailability with a bounded retry followed by a typed fallback value
// (absent / false / sentinel), never an unbounded block or a raw error.
type Store struct {
	rdb    redisAPI
	policy retry.Policy
	logger *slog.Logger
}

// New creates a session Store.
func New(rdb redisAPI, logger *slog.Logger) (*Store, error) {
	if rdb == nil {
		return nil, errors.New("session: redis client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{rdb: rdb, policy: retry.Attempts(storeAttempts), logger: logger}, nil
}

// ConversationID resolves the active conversation for a user. The second
// return value is false when the user has no live conversation or the
// store is unavailable.
func (s *Store) ConversationID(ctx context.Context, userID string) (string, bool) {
	id, err := retry.Do(ctx, s.policy, func(ctx context.Context) (string, error) {
		v, err := s.rdb.Get(ctx, userConversationPrefix+userID).Result()
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return v, err
	})
	if err != nil {
		s.logger.Warn("session: error retrieving conversation id", "user_id", userID, "err", err)
		return "", false
	}
	return id, id != ""
}

// SetConversationID maps a user to their active conversation with a fresh
// session TTL. The session keyspace enforces at most one active
// conversation per user because this mapping is the only entry point.
func (s *Store) SetConversationID(ctx context.Context, userID, conversationID string) bool {
	_, err := retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.rdb.SetEx(ctx, userConversationPrefix+userID, conversationID, sessionTTL).Err()
	})
	if err != nil {
		s.logger.Warn("session: error setting conversation id",
			"user_id", userID, "conversation_id", conversationID, "err", err)
		return false
	}
	return true
}

// PushMessage appends a message to the conversation transcript and refreshes
// the three related session TTLs so a burst of activity keeps the whole
// session alive. Appends must be issued in call order; the transcript is the
// model's future context.
func (s *Store) PushMessage(ctx context.Context, userID, conversationID string, msg domain.Message) bool {
	raw, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("session: error encoding message", "conversation_id", conversationID, "err", err)
		return false
	}
	_, err = retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
		if err := s.rdb.RPush(ctx, messagesPrefix+conversationID, raw).Err(); err != nil {
			return struct{}{}, err
		}
		if err := s.rdb.Expire(ctx, userConversationPrefix+userID, sessionTTL).Err(); err != nil {
			return struct{}{}, err
		}
		if err := s.rdb.Expire(ctx, messagesPrefix+conversationID, sessionTTL).Err(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, s.rdb.Expire(ctx, metadataPrefix+conversationID, sessionTTL).Err()
	})
	if err != nil {
		s.logger.Warn("session: error pushing message",
			"user_id", userID, "conversation_id", conversationID, "err", err)
		return false
	}
	return true
}

// RefreshSession extends the TTLs of the user mapping and the transcript
// without appending anything. Used when an existing conversation is
// re-initialized.
func (s *Store) RefreshSession(ctx context.Context, userID, conversationID string) bool {
	_, err := retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
		if err := s.rdb.Expire(ctx, userConversationPrefix+userID, sessionTTL).Err(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, s.rdb.Expire(ctx, messagesPrefix+conversationID, sessionTTL).Err()
	})
	if err != nil {
		s.logger.Warn("session: error refreshing session expiration",
			"user_id", userID, "conversation_id", conversationID, "err", err)
		return false
	}
	return true
}

// RecentMessages returns the newest transcript messages, bounded to the
// handler context window.
func (s *Store) RecentMessages(ctx context.Context, conversationID string) ([]domain.Message, bool) {
	return s.lrange(ctx, conversationID, -recentMessageCount, -1)
}

// AllMessages returns the full transcript for a conversation.
func (s *Store) AllMessages(ctx context.Context, conversationID string) ([]domain.Message, bool) {
	return s.lrange(ctx, conversationID, 0, -1)
}

func (s *Store) lrange(ctx context.Context, conversationID string, start, stop int64) ([]domain.Message, bool) {
	raw, err := retry.Do(ctx, s.policy, func(ctx context.Context) ([]string, error) {
		return s.rdb.LRange(ctx, messagesPrefix+conversationID, start, stop).Result()
	})
	if err != nil {
		s.logger.Warn("session: error fetching conversation messages",
			"conversation_id", conversationID, "err", err)
		return nil, false
	}
	msgs := make([]domain.Message, 0, len(raw))
	for _, item := range raw {
		var msg domain.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			s.logger.Warn("session: skipping undecodable message",
				"conversation_id", conversationID, "err", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, true
}

// DeleteConversation removes every key scoped to the conversation and the
// user's active mapping.
func (s *Store) DeleteConversation(ctx context.Context, userID, conversationID string) bool {
	keys := []string{
		chatbotLabelPrefix + conversationID,
		messagesPrefix + conversationID,
		userConversationPrefix + userID,
		metadataPrefix + conversationID,
		mustHandoffPrefix + conversationID,
	}
	_, err := retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.rdb.Del(ctx, keys...).Err()
	})
	if err != nil {
		s.logger.Warn("session: error deleting conversation",
			"user_id", userID, "conversation_id", conversationID, "err", err)
		return false
	}
	return true
}

// SetActiveLabel records which handler category currently owns the
// conversation, with a fresh session TTL.
func (s *Store) SetActiveLabel(ctx context.Context, conversationID string, label domain.Label) bool {
	_, err := retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.rdb.SetEx(ctx, chatbotLabelPrefix+conversationID, string(label), sessionTTL).Err()
	})
	if err != nil {
		s.logger.Warn("session: error setting active label",
			"conversation_id", conversationID, "label", label, "err", err)
		return false
	}
	return true
}

// ActiveLabel returns the handler category recorded for the conversation,
// absent when none was set or the key expired.
func (s *Store) ActiveLabel(ctx context.Context, conversationID string) (domain.Label, bool) {
	raw, err := retry.Do(ctx, s.policy, func(ctx context.Context) (string, error) {
		v, err := s.rdb.Get(ctx, chatbotLabelPrefix+conversationID).Result()
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return v, err
	})
	if err != nil {
		s.logger.Warn("session: error retrieving active label",
			"conversation_id", conversationID, "err", err)
		return "", false
	}
	label := domain.Label(raw)
	return label, label.Valid()
}

// SetMustHandoff flags the conversation as handed off to a human. Once set,
// later turns bypass the automated handlers until the session expires or the
// conversation is restarted.
func (s *Store) SetMustHandoff(ctx context.Context, conversationID string) bool {
	_, err := retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.rdb.SetEx(ctx, mustHandoffPrefix+conversationID, "1", sessionTTL).Err()
	})
	if err != nil {
		s.logger.Warn("session: error setting handoff flag",
			"conversation_id", conversationID, "err", err)
		return false
	}
	return true
}

// MustHandoff reports whether the conversation has been handed off. Store
// unavailability reads as not handed off.
func (s *Store) MustHandoff(ctx context.Context, conversationID string) bool {
	flag, err := retry.Do(ctx, s.policy, func(ctx context.Context) (string, error) {
		v, err := s.rdb.Get(ctx, mustHandoffPrefix+conversationID).Result()
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return v, err
	})
	if err != nil {
		s.logger.Warn("session: error retrieving handoff flag",
			"conversation_id", conversationID, "err", err)
		return false
	}
	return flag != ""
}

// SetMetadata stores the conversation metadata with a fresh session TTL.
func (s *Store) SetMetadata(ctx context.Context, conversationID string, meta domain.Metadata) bool {
	raw, err := json.Marshal(meta)
	if err != nil {
		s.logger.Warn("session: error encoding metadata", "conversation_id", conversationID, "err", err)
		return false
	}
	_, err = retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.rdb.SetEx(ctx, metadataPrefix+conversationID, raw, sessionTTL).Err()
	})
	if err != nil {
		s.logger.Warn("session: error setting conversation metadata",
			"conversation_id", conversationID, "err", err)
		return false
	}
	return true
}

// Metadata returns the conversation metadata, absent when unset or expired.
func (s *Store) Metadata(ctx context.Context, conversationID string) (domain.Metadata, bool) {
	raw, err := retry.Do(ctx, s.policy, func(ctx context.Context) (string, error) {
		v, err := s.rdb.Get(ctx, metadataPrefix+conversationID).Result()
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return v, err
	})
	if err != nil {
		s.logger.Warn("session: error retrieving conversation metadata",
			"conversation_id", conversationID, "err", err)
		return domain.Metadata{}, false
	}
	if raw == "" {
		return domain.Metadata{}, false
	}
	var meta domain.Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		s.logger.Warn("session: error decoding conversation metadata",
			"conversation_id", conversationID, "err", err)
		return domain.Metadata{}, false
	}
	return meta, true
}

// GeneratePartIDs creates a fresh user/assistant part id pair for the turn
// starting now. The pair is single-use: it overwrites any previous pair and
// expires after a few minutes.
func (s *Store) GeneratePartIDs(ctx context.Context, userID string) bool {
	pair := partIDs{
		UserPartID:      fmt.Sprintf("%s-%s", userID, uuid.NewString()),
		AssistantPartID: fmt.Sprintf("%s-%s", userID, uuid.NewString()),
	}
	raw, err := json.Marshal(pair)
	if err != nil {
		s.logger.Warn("session: error encoding part ids", "user_id", userID, "err", err)
		return false
	}
	_, err = retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.rdb.SetEx(ctx, partIDsPrefix+userID, raw, partIDTTL).Err()
	})
	if err != nil {
		s.logger.Warn("session: error generating part ids", "user_id", userID, "err", err)
		return false
	}
	return true
}

// UserPartID returns the user-side correlation id for the current turn, or
// PartIDUnavailable when the pair expired or the store failed.
func (s *Store) UserPartID(ctx context.Context, userID string) string {
	return s.partID(ctx, userID, func(p partIDs) string { return p.UserPartID })
}

// AssistantPartID returns the assistant-side correlation id for the current
// turn, or PartIDUnavailable when the pair expired or the store failed.
func (s *Store) AssistantPartID(ctx context.Context, userID string) string {
	return s.partID(ctx, userID, func(p partIDs) string { return p.AssistantPartID })
}

func (s *Store) partID(ctx context.Context, userID string, pick func(partIDs) string) string {
	raw, err := retry.Do(ctx, s.policy, func(ctx context.Context) (string, error) {
		v, err := s.rdb.Get(ctx, partIDsPrefix+userID).Result()
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return v, err
	})
	if err != nil {
		s.logger.Warn("session: error retrieving part ids", "user_id", userID, "err", err)
		return PartIDUnavailable
	}
	if strings.TrimSpace(raw) == "" {
		return PartIDUnavailable
	}
	var pair partIDs
	if err := json.Unmarshal([]byte(raw), &pair); err != nil {
		s.logger.Warn("session: error decoding part ids", "user_id", userID, "err", err)
		return PartIDUnavailable
	}
	id := pick(pair)
	if id == "" {
		return PartIDUnavailable
	}
	return id
}
