package openai

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"support-orchestrator/internal/domain"
)

type mockChatAPI struct {
	responses []openai.ChatCompletionResponse
	errs      []error
	calls     int
	lastReq   openai.ChatCompletionRequest
}

func (m *mockChatAPI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.lastReq = req
	idx := m.calls
	m.calls++
	if idx < len(m.errs) && m.errs[idx] != nil {
		return openai.ChatCompletionResponse{}, m.errs[idx]
	}
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	if idx < 0 {
		return openai.ChatCompletionResponse{}, errors.New("no response configured")
	}
	return m.responses[idx], nil
}

func textResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: "assistant", Content: content}},
		},
		Usage: openai.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	}
}

func testMessages() []domain.Message {
	return []domain.Message{
		{Role: domain.RoleSystem, Content: "you are a support bot"},
		{Role: domain.RoleUser, Content: "hello"},
	}
}

func TestCompleteReturnsCompletion(t *testing.T) {
	api := &mockChatAPI{responses: []openai.ChatCompletionResponse{textResponse("hi there")}}
	c, err := NewClient(api, nil)
	require.NoError(t, err)

	completion, ok := c.Complete(context.Background(), testMessages(), Options{
		Model:       "gpt-4o-2024-08-06",
		Temperature: TemperatureZero,
	})
	require.True(t, ok)
	require.Equal(t, "hi there", completion.Content)
	require.Equal(t, 120, completion.Usage.TotalTokens)
}

func TestCompleteRetriesSameParameters(t *testing.T) {
	api := &mockChatAPI{
		errs:      []error{errors.New("429"), errors.New("timeout"), nil},
		responses: []openai.ChatCompletionResponse{textResponse("ok"), textResponse("ok"), textResponse("ok")},
	}
	c, err := NewClient(api, nil)
	require.NoError(t, err)

	completion, ok := c.Complete(context.Background(), testMessages(), Options{
		Model:       "gpt-4o",
		Temperature: TemperaturePointFive,
	})
	require.True(t, ok)
	require.Equal(t, "ok", completion.Content)
	require.Equal(t, 3, api.calls)
}

func TestCompleteAbsentAfterExhaustedRetries(t *testing.T) {
	api := &mockChatAPI{errs: []error{
		errors.New("down"), errors.New("down"), errors.New("down"), errors.New("down"),
	}}
	c, err := NewClient(api, nil)
	require.NoError(t, err)

	_, ok := c.Complete(context.Background(), testMessages(), Options{
		Model:       "gpt-4o",
		Temperature: TemperatureZero,
	})
	require.False(t, ok)
	require.Equal(t, requestAttempts, api.calls)
}

func TestCompleteTreatsEmptyChoicesAsFailure(t *testing.T) {
	api := &mockChatAPI{responses: []openai.ChatCompletionResponse{{}}}
	c, err := NewClient(api, nil)
	require.NoError(t, err)

	_, ok := c.Complete(context.Background(), testMessages(), Options{
		Model:       "gpt-4o",
		Temperature: TemperatureZero,
	})
	require.False(t, ok)
	require.Equal(t, requestAttempts, api.calls)
}

func TestCompleteRejectsArbitraryTemperature(t *testing.T) {
	api := &mockChatAPI{responses: []openai.ChatCompletionResponse{textResponse("ok")}}
	c, err := NewClient(api, nil)
	require.NoError(t, err)

	_, ok := c.Complete(context.Background(), testMessages(), Options{
		Model:       "gpt-4o",
		Temperature: Temperature(0.42),
	})
	require.False(t, ok)
	require.Zero(t, api.calls)
}

func TestTemperatureValidSet(t *testing.T) {
	for i := 0; i <= 10; i++ {
		require.True(t, Temperature(float32(i)/10).Valid(), "temperature %d/10", i)
	}
	require.False(t, Temperature(0.42).Valid())
	require.False(t, Temperature(-0.1).Valid())
	require.False(t, Temperature(1.5).Valid())
}

func TestCompleteWithToolsSendsDeclarationsAndAutoChoice(t *testing.T) {
	api := &mockChatAPI{responses: []openai.ChatCompletionResponse{{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:   "call_1",
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      "domain_transfer_in",
						Arguments: `{"domain_name":"example.com"}`,
					},
				}},
			},
		}},
		Usage: openai.Usage{PromptTokens: 50, CompletionTokens: 10, TotalTokens: 60},
	}}}
	c, err := NewClient(api, nil)
	require.NoError(t, err)

	tools := []ToolDefinition{{
		Name:        "domain_transfer_in",
		Description: "transfer a domain in",
		Parameters:  map[string]any{"type": "object"},
	}}
	completion, ok := c.CompleteWithTools(context.Background(), testMessages(), tools, Options{
		Model:       "gpt-4o-2024-08-06",
		Temperature: TemperaturePointFive,
	})
	require.True(t, ok)
	require.Len(t, completion.ToolCalls, 1)
	require.Equal(t, "call_1", completion.ToolCalls[0].ID)
	require.Equal(t, "domain_transfer_in", completion.ToolCalls[0].Function.Name)

	require.Equal(t, "auto", api.lastReq.ToolChoice)
	require.Len(t, api.lastReq.Tools, 1)
	require.Equal(t, "domain_transfer_in", api.lastReq.Tools[0].Function.Name)
}

func TestJSONResponseFormatForwarded(t *testing.T) {
	api := &mockChatAPI{responses: []openai.ChatCompletionResponse{textResponse(`{"x":1}`)}}
	c, err := NewClient(api, nil)
	require.NoError(t, err)

	_, ok := c.Complete(context.Background(), testMessages(), Options{
		Model:          "gpt-4o",
		Temperature:    TemperatureZero,
		ResponseFormat: ResponseJSON,
	})
	require.True(t, ok)
	require.NotNil(t, api.lastReq.ResponseFormat)
	require.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, api.lastReq.ResponseFormat.Type)
}

func TestCostKnownAndUnknownModels(t *testing.T) {
	usage := domain.TokenUsage{PromptTokens: 1000, CompletionTokens: 1000}

	cost, ok := Cost("gpt-4o-2024-08-06", usage)
	require.True(t, ok)
	require.InDelta(t, 0.0125, cost, 1e-9)

	cost, ok = Cost("gpt-4-turbo", usage)
	require.True(t, ok)
	require.InDelta(t, 0.04, cost, 1e-9)

	_, ok = Cost("some-future-model", usage)
	require.False(t, ok)
}

func TestToolCallHistoryRoundTripsThroughEncoder(t *testing.T) {
	api := &mockChatAPI{responses: []openai.ChatCompletionResponse{textResponse("done")}}
	c, err := NewClient(api, nil)
	require.NoError(t, err)

	messages := []domain.Message{
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCallInfo{{
			ID: "call_9", Type: "function",
			Function: domain.FunctionCall{Name: "domain_sell_domain", Arguments: `{}`},
		}}},
		{Role: domain.RoleTool, ToolCallID: "call_9", Content: "sold"},
	}
	_, ok := c.Complete(context.Background(), messages, Options{Model: "gpt-4o", Temperature: TemperatureZero})
	require.True(t, ok)

	require.Len(t, api.lastReq.Messages, 2)
	require.Len(t, api.lastReq.Messages[0].ToolCalls, 1)
	require.Equal(t, "call_9", api.lastReq.Messages[0].ToolCalls[0].ID)
	require.Equal(t, "call_9", api.lastReq.Messages[1].ToolCallID)
}
