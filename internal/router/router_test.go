package router

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"support-orchestrator/internal/domain"
	"support-orchestrator/internal/integrations/openai"
)

type gatewayReply struct {
	content string
	ok      bool
}

// fakeGateway serves canned completions keyed by the call's action tag, so
// one fake can drive the decider, labeler and message prompts in a single
// Route call.
type fakeGateway struct {
	replies map[string][]gatewayReply
	calls   map[string]int
	prompts map[string][]domain.Message
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		replies: map[string][]gatewayReply{},
		calls:   map[string]int{},
		prompts: map[string][]domain.Message{},
	}
}

func (g *fakeGateway) queue(action, content string, ok bool) {
	g.replies[action] = append(g.replies[action], gatewayReply{content: content, ok: ok})
}

func (g *fakeGateway) Complete(_ context.Context, messages []domain.Message, opts openai.Options) (domain.Completion, bool) {
	g.calls[opts.Action]++
	g.prompts[opts.Action] = messages
	queued := g.replies[opts.Action]
	if len(queued) == 0 {
		return domain.Completion{}, false
	}
	next := queued[0]
	g.replies[opts.Action] = queued[1:]
	return domain.Completion{Content: next.content}, next.ok
}

type fakeSessions struct {
	messages    []domain.Message
	messagesOK  bool
	activeLabel domain.Label
	mustHandoff bool
	partID      string
}

func (s *fakeSessions) AllMessages(context.Context, string) ([]domain.Message, bool) {
	return s.messages, s.messagesOK
}

func (s *fakeSessions) AssistantPartID(context.Context, string) string { return s.partID }

func (s *fakeSessions) SetActiveLabel(_ context.Context, _ string, label domain.Label) bool {
	s.activeLabel = label
	return true
}

func (s *fakeSessions) MustHandoff(context.Context, string) bool { return s.mustHandoff }

func (s *fakeSessions) SetMustHandoff(context.Context, string) bool {
	s.mustHandoff = true
	return true
}

type fakeEvents struct {
	records []domain.EventRecord
}

func (e *fakeEvents) AppendEvent(_ context.Context, record domain.EventRecord) error {
	e.records = append(e.records, record)
	return nil
}

func (e *fakeEvents) EventsByConversation(context.Context, string) ([]domain.EventRecord, error) {
	return e.records, nil
}

type fakeHandler struct {
	calls    int
	response domain.HandlerResponse
}

func (h *fakeHandler) Handle(context.Context, string, string) (domain.HandlerResponse, error) {
	h.calls++
	return h.response, nil
}

func chatTranscript() []domain.Message {
	return []domain.Message{
		{Role: domain.RoleUser, Content: "my domain is not resolving"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCallInfo{{ID: "call-1", Type: "function"}}},
		{Role: domain.RoleTool, ToolCallID: "call-1", Content: "dns checked"},
		{Role: domain.RoleAssistant, Content: "Your DNS records look fine."},
	}
}

func testSessions() *fakeSessions {
	return &fakeSessions{messages: chatTranscript(), messagesOK: true, partID: "user-1-part"}
}

func labelEvent(label domain.Label) domain.EventRecord {
	return domain.EventRecord{
		Type: domain.EventChatbotLabel,
		Payload: map[string]any{"content": map[string]any{
			"label": string(label),
		}},
	}
}

func newTestRouter(t *testing.T, gateway *fakeGateway, sessions *fakeSessions, events *fakeEvents, handlers map[domain.Label]Handler) *Router {
	t.Helper()
	logger := slog.Default()
	labeler, err := NewLabeler(gateway, sessions, events, logger)
	require.NoError(t, err)
	decider, err := NewDecider(gateway, sessions, logger)
	require.NoError(t, err)
	r, err := New(labeler, decider, sessions, events, handlers, logger)
	require.NoError(t, err)
	return r
}

func TestLabelerValidLabelRecordsEvent(t *testing.T) {
	gateway := newFakeGateway()
	gateway.queue("chatbot_label", `{"team_label": "domain"}`, true)
	sessions := testSessions()
	events := &fakeEvents{}
	labeler, err := NewLabeler(gateway, sessions, events, slog.Default())
	require.NoError(t, err)

	label := labeler.Label(context.Background(), "conv-1", "user-1")

	require.Equal(t, domain.LabelDomain, label)
	require.Equal(t, domain.LabelDomain, sessions.activeLabel)
	require.Len(t, events.records, 1)
	require.Equal(t, domain.EventChatbotLabel, events.records[0].Type)
	require.Equal(t, "user-1-part", events.records[0].PartID)
	content := events.records[0].Payload["content"].(map[string]any)
	require.Equal(t, "domain", content["label"])
}

func TestLabelerPromptExcludesToolTraffic(t *testing.T) {
	gateway := newFakeGateway()
	gateway.queue("chatbot_label", `{"team_label": "domain"}`, true)
	labeler, err := NewLabeler(gateway, testSessions(), &fakeEvents{}, slog.Default())
	require.NoError(t, err)

	labeler.Label(context.Background(), "conv-1", "user-1")

	prompt := gateway.prompts["chatbot_label"]
	require.Len(t, prompt, 3) // system + user + plain assistant
	require.Equal(t, domain.RoleSystem, prompt[0].Role)
	for _, msg := range prompt[1:] {
		require.NotEqual(t, domain.RoleTool, msg.Role)
		require.False(t, msg.HasToolCalls())
	}
}

func TestLabelerInvalidJSONFallsBackAfterRetries(t *testing.T) {
	gateway := newFakeGateway()
	for i := 0; i < labelAttempts; i++ {
		gateway.queue("chatbot_label", "not json", true)
	}
	events := &fakeEvents{}
	labeler, err := NewLabeler(gateway, testSessions(), events, slog.Default())
	require.NoError(t, err)

	label := labeler.Label(context.Background(), "conv-1", "user-1")

	require.Equal(t, domain.LabelOutOfScope, label)
	require.Equal(t, labelAttempts, gateway.calls["chatbot_label"])
	require.Empty(t, events.records, "fallback labels are not recorded as model decisions")
}

func TestLabelerUnknownLabelRetriesThenSucceeds(t *testing.T) {
	gateway := newFakeGateway()
	gateway.queue("chatbot_label", `{"team_label": "billing"}`, true)
	gateway.queue("chatbot_label", `{"team_label": "out_of_scope"}`, true)
	labeler, err := NewLabeler(gateway, testSessions(), &fakeEvents{}, slog.Default())
	require.NoError(t, err)

	label := labeler.Label(context.Background(), "conv-1", "user-1")

	require.Equal(t, domain.LabelOutOfScope, label)
	require.Equal(t, 2, gateway.calls["chatbot_label"])
}

func TestCoerceBool(t *testing.T) {
	cases := []struct {
		name    string
		value   any
		want    bool
		wantErr bool
	}{
		{name: "true bool", value: true, want: true},
		{name: "false bool", value: false, want: false},
		{name: "one", value: float64(1), want: true},
		{name: "zero", value: float64(0), want: false},
		{name: "true string mixed case", value: "True", want: true},
		{name: "false string upper case", value: "FALSE", want: false},
		{name: "other number", value: float64(2), wantErr: true},
		{name: "other string", value: "yes", wantErr: true},
		{name: "null", value: nil, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := coerceBool(tc.value)
			if tc.wantErr {
				require.Error(t, err)
				require.ErrorIs(t, err, domain.ErrInvalidModelResponse)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDeciderFallsBackToHandoffOnExhaustion(t *testing.T) {
	gateway := newFakeGateway() // no replies queued: every call fails
	decider, err := NewDecider(gateway, testSessions(), slog.Default())
	require.NoError(t, err)

	require.True(t, decider.IsSeekingHumanAssistance(context.Background(), "conv-1", "user-1"))
	require.Equal(t, deciderAttempts, gateway.calls["handoff_decider"])
}

func TestDeciderReadsStringEncodedDecision(t *testing.T) {
	gateway := newFakeGateway()
	gateway.queue("handoff_decider", `{"is_seeking_human_assistance": "False"}`, true)
	decider, err := NewDecider(gateway, testSessions(), slog.Default())
	require.NoError(t, err)

	require.False(t, decider.IsSeekingHumanAssistance(context.Background(), "conv-1", "user-1"))
	require.Equal(t, 1, gateway.calls["handoff_decider"])
}

func TestHandoffMessageFallsBackToDefault(t *testing.T) {
	gateway := newFakeGateway()
	decider, err := NewDecider(gateway, testSessions(), slog.Default())
	require.NoError(t, err)

	message := decider.HandoffMessage(context.Background(), "conv-1", "user-1")

	require.Equal(t, DefaultHandoffMessage, message)
	require.Equal(t, deciderAttempts, gateway.calls["handoff_message"])
}

func TestHandoffMessageUsesModelTranslation(t *testing.T) {
	gateway := newFakeGateway()
	gateway.queue("handoff_message", "Jus nukreipiame pas specialistą.", true)
	decider, err := NewDecider(gateway, testSessions(), slog.Default())
	require.NoError(t, err)

	message := decider.HandoffMessage(context.Background(), "conv-1", "user-1")

	require.Equal(t, "Jus nukreipiame pas specialistą.", message)
}

func TestRouteHandoffShortCircuit(t *testing.T) {
	gateway := newFakeGateway()
	gateway.queue("handoff_decider", `{"is_seeking_human_assistance": true}`, true)
	gateway.queue("handoff_message", "Redirecting you now.", true)
	sessions := testSessions()
	domainHandler := &fakeHandler{}
	oosHandler := &fakeHandler{}
	r := newTestRouter(t, gateway, sessions, &fakeEvents{}, map[domain.Label]Handler{
		domain.LabelDomain:     domainHandler,
		domain.LabelOutOfScope: oosHandler,
	})

	response, err := r.Route(context.Background(), "conv-1", "user-1")
	require.NoError(t, err)

	require.Equal(t, domain.StatusSupportHandoff, response.Status)
	require.Equal(t, domain.OutputLabelSupportHandoff, response.Label)
	require.Equal(t, "Redirecting you now.", response.Message)
	require.True(t, sessions.mustHandoff)
	require.Zero(t, domainHandler.calls)
	require.Zero(t, oosHandler.calls)
	require.Zero(t, gateway.calls["chatbot_label"], "label generation skipped on handoff")
}

func TestRouteDispatchesToLabeledHandler(t *testing.T) {
	gateway := newFakeGateway()
	gateway.queue("handoff_decider", `{"is_seeking_human_assistance": false}`, true)
	gateway.queue("chatbot_label", `{"team_label": "domain"}`, true)
	domainHandler := &fakeHandler{response: domain.HandlerResponse{
		Status:  domain.StatusSuccess,
		Message: "Here is how to update your nameservers.",
	}}
	r := newTestRouter(t, gateway, testSessions(), &fakeEvents{}, map[domain.Label]Handler{
		domain.LabelDomain:     domainHandler,
		domain.LabelOutOfScope: &fakeHandler{},
	})

	response, err := r.Route(context.Background(), "conv-1", "user-1")
	require.NoError(t, err)

	require.Equal(t, 1, domainHandler.calls)
	require.Equal(t, domain.StatusSuccess, response.Status)
	require.Equal(t, domain.OutputLabelDomain, response.Label)
	require.Equal(t, "Here is how to update your nameservers.", response.Message)
}

func TestRouteHandoffCarriesHandlerExitStatus(t *testing.T) {
	gateway := newFakeGateway()
	gateway.queue("handoff_decider", `{"is_seeking_human_assistance": false}`, true)
	gateway.queue("chatbot_label", `{"team_label": "domain"}`, true)
	domainHandler := &fakeHandler{response: domain.HandlerResponse{
		Status:  domain.StatusSupportHandoff,
		Message: "A specialist will take over from here.",
	}}
	r := newTestRouter(t, gateway, testSessions(), &fakeEvents{}, map[domain.Label]Handler{
		domain.LabelDomain:     domainHandler,
		domain.LabelOutOfScope: &fakeHandler{},
	})

	response, err := r.Route(context.Background(), "conv-1", "user-1")
	require.NoError(t, err)

	require.Equal(t, domain.StatusSupportHandoff, response.Status)
	require.Equal(t, domain.OutputLabelDomain, response.Label)
}

func TestRouteFlaggedConversationStaysHandedOff(t *testing.T) {
	gateway := newFakeGateway()
	gateway.queue("handoff_message", "Still redirecting you.", true)
	sessions := testSessions()
	sessions.mustHandoff = true
	domainHandler := &fakeHandler{}
	r := newTestRouter(t, gateway, sessions, &fakeEvents{}, map[domain.Label]Handler{
		domain.LabelDomain:     domainHandler,
		domain.LabelOutOfScope: &fakeHandler{},
	})

	response, err := r.Route(context.Background(), "conv-1", "user-1")
	require.NoError(t, err)

	require.Equal(t, domain.StatusSupportHandoff, response.Status)
	require.Zero(t, gateway.calls["handoff_decider"], "decision already made")
	require.Zero(t, domainHandler.calls)
}

func TestRouteOutOfScopeAttemptsExhaustedAsksForDetail(t *testing.T) {
	gateway := newFakeGateway()
	gateway.queue("handoff_decider", `{"is_seeking_human_assistance": false}`, true)
	gateway.queue("chatbot_label", `{"team_label": "out_of_scope"}`, true)
	gateway.queue("handoff_clarify", "Could you tell me more about the problem?", true)
	sessions := testSessions()
	events := &fakeEvents{records: []domain.EventRecord{
		labelEvent(domain.LabelOutOfScope),
		labelEvent(domain.LabelDomain),
		labelEvent(domain.LabelOutOfScope),
	}}
	oosHandler := &fakeHandler{}
	r := newTestRouter(t, gateway, sessions, events, map[domain.Label]Handler{
		domain.LabelDomain:     &fakeHandler{},
		domain.LabelOutOfScope: oosHandler,
	})

	response, err := r.Route(context.Background(), "conv-1", "user-1")
	require.NoError(t, err)

	// Two prior out-of-scope turns plus the current one reach the cap.
	require.Equal(t, domain.StatusSuccess, response.Status)
	require.Equal(t, domain.OutputLabelSupportHandoff, response.Label)
	require.Equal(t, "Could you tell me more about the problem?", response.Message)
	require.True(t, sessions.mustHandoff)
	require.Zero(t, oosHandler.calls)
}

func TestRouteOutOfScopeUnderCapDispatchesHandler(t *testing.T) {
	gateway := newFakeGateway()
	gateway.queue("handoff_decider", `{"is_seeking_human_assistance": false}`, true)
	gateway.queue("chatbot_label", `{"team_label": "out_of_scope"}`, true)
	sessions := testSessions()
	oosHandler := &fakeHandler{response: domain.HandlerResponse{
		Status:  domain.StatusSuccess,
		Message: "Happy to chat!",
	}}
	r := newTestRouter(t, gateway, sessions, &fakeEvents{records: []domain.EventRecord{
		labelEvent(domain.LabelOutOfScope),
	}}, map[domain.Label]Handler{
		domain.LabelDomain:     &fakeHandler{},
		domain.LabelOutOfScope: oosHandler,
	})

	response, err := r.Route(context.Background(), "conv-1", "user-1")
	require.NoError(t, err)

	require.Equal(t, 1, oosHandler.calls)
	require.Equal(t, domain.OutputLabelOutOfScope, response.Label)
	require.False(t, sessions.mustHandoff)
}
