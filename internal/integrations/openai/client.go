// Package openai wraps the OpenAI Chat Completions API behind the two
// gateway operations the orchestration core needs: plain completion and
// completion with tool declarations. The gateway owns the request timeout,
// the bounded same-parameters retry, and per-call token/cost accounting;
// callers only ever observe a completion or its absence.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"support-orchestrator/internal/domain"
	"support-orchestrator/internal/retry"
)

const (
	requestTimeout   = 45 * time.Second
	defaultMaxTokens = 2048
	requestAttempts  = 3
)

// ModelGPT4o20240806 is the model every routing and handler call pins today.
// Callers pass it explicitly so a future per-component override stays cheap.
const ModelGPT4o20240806 = "gpt-4o-2024-08-06"

// chatAPI is the subset of the go-openai client used by the gateway.
// Defined here for testability.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ResponseFormat selects the completion output shape.
type ResponseFormat string

const (
	ResponseText ResponseFormat = "text"
	ResponseJSON ResponseFormat = "json_object"
)

// Temperature is a sampling temperature restricted to the discrete set
// 0.0, 0.1, ... 1.0. Arbitrary floats are rejected by the gateway.
type Temperature float32

const (
	TemperatureZero      Temperature = 0
	TemperaturePointFive Temperature = 0.5
	TemperatureOne       Temperature = 1
)

// Valid reports whether t is one of the eleven allowed tenth steps.
func (t Temperature) Valid() bool {
	scaled := float32(t) * 10
	if scaled < 0 || scaled > 10 {
		return false
	}
	return scaled == float32(int(scaled))
}

// ToolDefinition declares one callable function to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Options tunes a single gateway call. Action, Team and Chatbot are
// observability tags carried into the usage log.
type Options struct {
	Model          string
	Temperature    Temperature
	ResponseFormat ResponseFormat
	MaxTokens      int
	Action         string
	Team           string
	Chatbot        string
}

// Client is the LLM gateway.
type Client struct {
	api     chatAPI
	policy  retry.Policy
	logger  *slog.Logger
	timeout time.Duration
}

// NewClient creates a gateway over the given chat API implementation.
func NewClient(api chatAPI, logger *slog.Logger) (*Client, error) {
	if api == nil {
		return nil, errors.New("openai: chat api must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:     api,
		policy:  retry.Attempts(requestAttempts),
		logger:  logger,
		timeout: requestTimeout,
	}, nil
}

// NewClientWithKey creates a gateway backed by the default go-openai HTTP
// client.
func NewClientWithKey(apiKey string, logger *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	return NewClient(openai.NewClient(apiKey), logger)
}

// Complete issues a plain completion. The second return value is false when
// the request could not produce a usable completion after the bounded
// retry; the underlying failure is logged, never propagated.
func (c *Client) Complete(ctx context.Context, messages []domain.Message, opts Options) (domain.Completion, bool) {
	return c.complete(ctx, messages, nil, opts, "Complete")
}

// CompleteWithTools issues a completion with the given tool declarations
// and an automatic tool-choice policy: the model decides whether to call.
func (c *Client) CompleteWithTools(ctx context.Context, messages []domain.Message, tools []ToolDefinition, opts Options) (domain.Completion, bool) {
	return c.complete(ctx, messages, tools, opts, "CompleteWithTools")
}

func (c *Client) complete(ctx context.Context, messages []domain.Message, tools []ToolDefinition, opts Options, method string) (domain.Completion, bool) {
	if !opts.Temperature.Valid() {
		c.logger.Error("openai: rejected temperature outside allowed set",
			"temperature", float32(opts.Temperature), "method", method, "action", opts.Action)
		return domain.Completion{}, false
	}

	req := openai.ChatCompletionRequest{
		Model:       opts.Model,
		Messages:    encodeMessages(messages),
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = defaultMaxTokens
	}
	if opts.ResponseFormat == ResponseJSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if len(tools) > 0 {
		req.Tools = encodeTools(tools)
		req.ToolChoice = "auto"
	}

	start := time.Now()
	resp, err := retry.Do(ctx, c.policy, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		resp, err := c.api.CreateChatCompletion(callCtx, req)
		if err != nil {
			return openai.ChatCompletionResponse{}, err
		}
		if len(resp.Choices) == 0 {
			return openai.ChatCompletionResponse{}, errors.New("openai: no choices in response")
		}
		return resp, nil
	})
	if err != nil {
		// The system prompt is stripped before logging so the payload
		// context stays diagnosable without leaking it.
		c.logger.Warn("openai: request failed",
			"method", method,
			"model", opts.Model,
			"action", opts.Action,
			"team", opts.Team,
			"chatbot", opts.Chatbot,
			"err", err,
			"conversation_messages", sanitizeForLog(messages),
		)
		return domain.Completion{}, false
	}

	usage := domain.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	logArgs := []any{
		"method", method,
		"model", opts.Model,
		"action", opts.Action,
		"team", opts.Team,
		"chatbot", opts.Chatbot,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"total_tokens", usage.TotalTokens,
		"response_time", time.Since(start),
	}
	if cost, ok := Cost(opts.Model, usage); ok {
		logArgs = append(logArgs, "cost", cost)
	} else {
		logArgs = append(logArgs, "cost", costUnknownModel)
	}
	c.logger.Info("openai token usage", logArgs...)

	return decodeCompletion(resp), true
}

func encodeMessages(messages []domain.Message) []openai.ChatCompletionMessage {
	encoded := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, call := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments,
				},
			})
		}
		encoded = append(encoded, msg)
	}
	return encoded
}

func encodeTools(defs []ToolDefinition) []openai.Tool {
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return tools
}

func decodeCompletion(resp openai.ChatCompletionResponse) domain.Completion {
	choice := resp.Choices[0].Message
	completion := domain.Completion{
		Content: choice.Content,
		Usage: domain.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, call := range choice.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, domain.ToolCallInfo{
			ID:   call.ID,
			Type: string(call.Type),
			Function: domain.FunctionCall{
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			},
		})
	}
	return completion
}

// sanitizeForLog strips system messages and renders the rest as JSON for
// failure diagnostics.
func sanitizeForLog(messages []domain.Message) string {
	filtered := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			continue
		}
		filtered = append(filtered, m)
	}
	raw, err := json.Marshal(filtered)
	if err != nil {
		return "unserializable conversation"
	}
	return string(raw)
}
