// Package repository is the append-only writer over the durable DynamoDB
// log: a fine-grained event log and a coarse history transcript, stored in
// one table under the conversation partition key. The durable log is
// best-effort audit data, not the source of truth for live conversation
// state.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"support-orchestrator/internal/domain"
	"support-orchestrator/internal/retry"
)

const (
	skPrefixEvent   = "EVT#"
	skPrefixHistory = "HIST#"
	skOwner         = "OWNER#"

	// skTimeFormat is fixed-width so the lexical SK order DynamoDB
	// returns matches chronological order. RFC3339Nano would trim
	// trailing zeros and break that.
	skTimeFormat = "2006-01-02T15:04:05.000000000Z"

	writeAttempts = 3
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client wraps the DynamoDB table holding the two durable logs.
type Client struct {
	api       dynamodbAPI
	tableName string
	policy    retry.Policy

	// seq disambiguates sort keys for records created within the same
	// nanosecond, preserving append order on read-back.
	seq atomic.Uint64
}

// New creates a repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, policy: retry.Attempts(writeAttempts)}, nil
}

// convPK returns the partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func (c *Client) recordSK(prefix string, ts time.Time) string {
	return fmt.Sprintf("%s%s#%06d", prefix, ts.UTC().Format(skTimeFormat), c.seq.Add(1))
}

// AppendEvent persists one typed event record. Records are immutable; the
// caller decides whether a failure aborts the turn (it must not on the
// orchestration hot path).
func (c *Client) AppendEvent(ctx context.Context, record domain.EventRecord) error {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("repository: AppendEvent encode payload: %w", err)
	}
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(record.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: c.recordSK(skPrefixEvent, createdAt)},
		"conversationId": &types.AttributeValueMemberS{Value: record.ConversationID},
		"eventType":      &types.AttributeValueMemberS{Value: string(record.Type)},
		"payload":        &types.AttributeValueMemberS{Value: string(payload)},
		"messagePartId":  &types.AttributeValueMemberS{Value: record.PartID},
		"createdAt":      &types.AttributeValueMemberS{Value: createdAt.Format(time.RFC3339Nano)},
	}
	if err := c.put(ctx, item); err != nil {
		return fmt.Errorf("repository: AppendEvent: %w", err)
	}
	return nil
}

// AppendHistory persists one transcript row.
func (c *Client) AppendHistory(ctx context.Context, record domain.HistoryRecord) error {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(record.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: c.recordSK(skPrefixHistory, createdAt)},
		"conversationId": &types.AttributeValueMemberS{Value: record.ConversationID},
		"authorType":     &types.AttributeValueMemberS{Value: string(record.Author)},
		"message":        &types.AttributeValueMemberS{Value: record.Message},
		"chatbotLabel":   &types.AttributeValueMemberS{Value: record.Label},
		"messagePartId":  &types.AttributeValueMemberS{Value: record.PartID},
		"createdAt":      &types.AttributeValueMemberS{Value: createdAt.Format(time.RFC3339Nano)},
	}
	if err := c.put(ctx, item); err != nil {
		return fmt.Errorf("repository: AppendHistory: %w", err)
	}
	return nil
}

// RecordConversation durably records conversation ownership at creation.
func (c *Client) RecordConversation(ctx context.Context, userID, conversationID string) error {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: convPK(conversationID)},
		"SK":        &types.AttributeValueMemberS{Value: skOwner},
		"userId":    &types.AttributeValueMemberS{Value: userID},
		"createdAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}
	if err := c.put(ctx, item); err != nil {
		return fmt.Errorf("repository: RecordConversation: %w", err)
	}
	return nil
}

func (c *Client) put(ctx context.Context, item map[string]types.AttributeValue) error {
	_, err := retry.Do(ctx, c.policy, func(ctx context.Context) (struct{}, error) {
		_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(c.tableName),
			Item:      item,
		})
		return struct{}{}, err
	})
	return err
}

// EventsByConversation returns every event for a conversation ordered by
// creation time ascending.
func (c *Client) EventsByConversation(ctx context.Context, conversationID string) ([]domain.EventRecord, error) {
	items, err := c.query(ctx, conversationID, skPrefixEvent)
	if err != nil {
		return nil, fmt.Errorf("repository: EventsByConversation: %w", err)
	}
	events := make([]domain.EventRecord, 0, len(items))
	for _, item := range items {
		event, err := itemToEvent(item)
		if err != nil {
			return nil, fmt.Errorf("repository: EventsByConversation unmarshal: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

// HistoryByConversation returns every transcript row for a conversation
// ordered by creation time ascending.
func (c *Client) HistoryByConversation(ctx context.Context, conversationID string) ([]domain.HistoryRecord, error) {
	items, err := c.query(ctx, conversationID, skPrefixHistory)
	if err != nil {
		return nil, fmt.Errorf("repository: HistoryByConversation: %w", err)
	}
	rows := make([]domain.HistoryRecord, 0, len(items))
	for _, item := range items {
		row, err := itemToHistory(item)
		if err != nil {
			return nil, fmt.Errorf("repository: HistoryByConversation unmarshal: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// query reads all records under one sort-key prefix. DynamoDB returns them
// in SK order, which recordSK makes equivalent to creation order.
func (c *Client) query(ctx context.Context, conversationID, skPrefix string) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefix},
		},
	}
	out, err := retry.Do(ctx, c.policy, func(ctx context.Context) (*dynamodb.QueryOutput, error) {
		return c.api.Query(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	return out.Items, nil
}

func itemToEvent(item map[string]types.AttributeValue) (domain.EventRecord, error) {
	conversationID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.EventRecord{}, err
	}
	eventType, err := strAttr(item, "eventType")
	if err != nil {
		return domain.EventRecord{}, err
	}
	rawPayload, err := strAttr(item, "payload")
	if err != nil {
		return domain.EventRecord{}, err
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
		return domain.EventRecord{}, fmt.Errorf("decode payload: %w", err)
	}
	partID, _ := strAttr(item, "messagePartId") // allow empty
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.EventRecord{}, err
	}
	return domain.EventRecord{
		ConversationID: conversationID,
		Type:           domain.EventType(eventType),
		Payload:        payload,
		PartID:         partID,
		CreatedAt:      createdAt,
	}, nil
}

func itemToHistory(item map[string]types.AttributeValue) (domain.HistoryRecord, error) {
	conversationID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	author, err := strAttr(item, "authorType")
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	message, err := strAttr(item, "message")
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	label, _ := strAttr(item, "chatbotLabel") // allow empty
	partID, _ := strAttr(item, "messagePartId")
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	return domain.HistoryRecord{
		ConversationID: conversationID,
		Author:         domain.AuthorType(author),
		Message:        message,
		Label:          label,
		PartID:         partID,
		CreatedAt:      createdAt,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	raw, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}
