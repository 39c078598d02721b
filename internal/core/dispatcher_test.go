package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bestpath/chatops/internal/api/request"
	"github.com/bestpath/chatops/internal/api/response"
	"github.com/bestpath/chatops/internal/config"
	"github.com/bestpath/chatops/internal/deliver"
	"github.com/bestpath/chatops/internal/execute"
	"github.com/bestpath/chatops/internal/forward"
	"github.com/bestpath/chatops/internal/route"
	"github.com/bestpath/chatops/internal/safety"
)

type postCall struct {
	url     string
	headers map[string]string
	body    any
}

type fakePoster struct {
	mu     sync.Mutex
	calls  []postCall
	result *forward.Result
	err    error
}

func (f *fakePoster) Post(_ context.Context, url string, headers map[string]string, body any) (*forward.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, postCall{url: url, headers: headers, body: body})
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &forward.Result{StatusCode: http.StatusOK, ContentType: "application/json", Body: []byte(`{"text":"ok"}`)}, nil
}

func (f *fakePoster) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakePoster) lastCall(t *testing.T) postCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		ServiceName:       "chatops-gateway",
		VerifyToken:       "secret",
		ResponseType:      response.TypeEphemeral,
		HTTPTimeout:       time.Second,
		FollowupThreshold: 1800,
		ExecTimeout:       time.Second,
		ExecTestMode:      true,
	}
}

func newTestDispatcher(t *testing.T, poster *fakePoster, cfg *config.Config) *Dispatcher {
	t.Helper()
	logger := zerolog.Nop()
	resolver := route.NewResolver(
		map[string]string{"ch1": "cust01", "ch3": "cust03"},
		map[string]string{"cust01": "http://backend.local/"},
		nil,
	)
	deliverer := deliver.NewDeliverer(logger, resolver, poster, cfg.FollowupThreshold, cfg.HTTPTimeout)
	executor := execute.NewExecutor(logger, cfg.ExecTestMode)
	return NewDispatcher(logger, cfg, resolver, safety.NewGate(), poster, deliverer, executor)
}

func chatBody(t *testing.T, rep Reply) response.ChatMessage {
	t.Helper()
	msg, ok := rep.Body.(response.ChatMessage)
	require.True(t, ok, "expected chat message body, got %T", rep.Body)
	return msg
}

func inbound(channelID string) *request.Inbound {
	return &request.Inbound{Token: "secret", ChannelID: channelID, UserName: "alice", Text: "status please"}
}

func TestNewDispatcher_BackgroundBudgetCoversRetries(t *testing.T) {
	cfg := testConfig()
	cfg.RetryCount = 2
	cfg.RetryBackoff = 100 * time.Millisecond

	d := newTestDispatcher(t, &fakePoster{}, cfg)

	// Three attempts of HTTPTimeout each plus two backoff sleeps.
	assert.Equal(t, 3*time.Second+200*time.Millisecond, d.bgTimeout)
}

func TestForwardCommand_Success(t *testing.T) {
	poster := &fakePoster{}
	d := newTestDispatcher(t, poster, testConfig())

	rep := d.ForwardCommand(context.Background(), inbound("ch1"), map[string]any{"text": "status please"})

	require.Equal(t, http.StatusOK, rep.Status)
	assert.Equal(t, "ok", chatBody(t, rep).Text)

	require.Equal(t, 1, poster.callCount())
	call := poster.lastCall(t)
	assert.Equal(t, "http://backend.local/router", call.url, "trailing slash stripped before path join")
	assert.Equal(t, "cust01", call.headers["X-Customer-Id"])
	assert.Equal(t, "ch1", call.headers["X-Channel-Id"])

	payload, ok := call.body.(map[string]any)
	require.True(t, ok)
	pctx, ok := payload["_proxy_ctx"].(map[string]any)
	require.True(t, ok, "forwarded body carries the provenance marker")
	assert.Equal(t, "chatops-gateway", pctx["source"])
	assert.Equal(t, "channel", pctx["route_by"])
	assert.Equal(t, "cust01", pctx["customer_id"])
	assert.NotEmpty(t, pctx["request_id"])
}

func TestForwardCommand_BadToken(t *testing.T) {
	poster := &fakePoster{}
	d := newTestDispatcher(t, poster, testConfig())

	inb := inbound("ch1")
	inb.Token = "wrong"
	rep := d.ForwardCommand(context.Background(), inb, nil)

	assert.Equal(t, http.StatusOK, rep.Status)
	assert.Contains(t, chatBody(t, rep).Text, ":warning: Invalid verification token")
	assert.Equal(t, 0, poster.callCount())
}

func TestForwardCommand_MissingChannel(t *testing.T) {
	d := newTestDispatcher(t, &fakePoster{}, testConfig())
	rep := d.ForwardCommand(context.Background(), inbound(""), nil)
	assert.Equal(t, http.StatusBadRequest, rep.Status)
}

func TestForwardCommand_UnknownChannel(t *testing.T) {
	d := newTestDispatcher(t, &fakePoster{}, testConfig())
	rep := d.ForwardCommand(context.Background(), inbound("nope"), nil)
	assert.Equal(t, http.StatusForbidden, rep.Status)
}

func TestForwardCommand_TenantWithoutBackend(t *testing.T) {
	d := newTestDispatcher(t, &fakePoster{}, testConfig())
	rep := d.ForwardCommand(context.Background(), inbound("ch3"), nil)
	assert.Equal(t, http.StatusBadGateway, rep.Status)
	assert.Contains(t, chatBody(t, rep).Text, ":warning:")
}

func TestForwardCommand_BackendErrorStatus(t *testing.T) {
	poster := &fakePoster{result: &forward.Result{StatusCode: 500, Body: []byte("boom")}}
	d := newTestDispatcher(t, poster, testConfig())

	rep := d.ForwardCommand(context.Background(), inbound("ch1"), nil)

	assert.Equal(t, http.StatusOK, rep.Status, "backend errors surface as chat messages")
	msg := chatBody(t, rep)
	assert.Contains(t, msg.Text, "Backend `cust01` error (500)")
	assert.Contains(t, msg.Text, "boom")
}

func TestForwardCommand_TransportError(t *testing.T) {
	poster := &fakePoster{err: context.DeadlineExceeded}
	d := newTestDispatcher(t, poster, testConfig())

	rep := d.ForwardCommand(context.Background(), inbound("ch1"), nil)

	assert.Equal(t, http.StatusOK, rep.Status)
	assert.Contains(t, chatBody(t, rep).Text, "backend for `cust01` is unreachable")
}

func TestForwardLLM(t *testing.T) {
	poster := &fakePoster{}
	d := newTestDispatcher(t, poster, testConfig())

	inb := inbound("ch1")
	inb.Text = "summarize the incident"
	rep := d.ForwardLLM(context.Background(), inb, map[string]any{"model": "fast"})

	require.Equal(t, http.StatusOK, rep.Status)
	call := poster.lastCall(t)
	assert.Equal(t, "http://backend.local/llm/chat", call.url)

	payload := call.body.(map[string]any)
	assert.Equal(t, "summarize the incident", payload["prompt"], "slash text becomes the prompt")
	assert.Equal(t, "fast", payload["model"])
}

func TestTriggerWorkflow(t *testing.T) {
	poster := &fakePoster{}
	d := newTestDispatcher(t, poster, testConfig())

	rep := d.TriggerWorkflow(context.Background(), inbound("ch1"), "nightly-report", map[string]any{"day": "monday"})

	require.Equal(t, http.StatusOK, rep.Status)
	assert.Contains(t, chatBody(t, rep).Text, "Workflow `nightly-report` triggered for tenant `cust01`")

	call := poster.lastCall(t)
	assert.Equal(t, "http://backend.local/workflow/trigger", call.url)
	payload := call.body.(map[string]any)
	assert.Equal(t, "nightly-report", payload["flow_name"])
}

func TestTriggerWorkflow_MissingFlowName(t *testing.T) {
	d := newTestDispatcher(t, &fakePoster{}, testConfig())
	rep := d.TriggerWorkflow(context.Background(), inbound("ch1"), "", nil)
	assert.Equal(t, http.StatusBadRequest, rep.Status)
}

func TestExec_Allowed(t *testing.T) {
	d := newTestDispatcher(t, &fakePoster{}, testConfig())

	rep := d.Exec(context.Background(), "kubectl get pods -n default", 0)

	require.Equal(t, http.StatusOK, rep.Status)
	res, ok := rep.Body.(execute.Result)
	require.True(t, ok)
	assert.True(t, res.OK)
	assert.Equal(t, "kubectl get pods -n default", res.Stdout, "test mode echoes the command")
}

func TestExec_Denials(t *testing.T) {
	d := newTestDispatcher(t, &fakePoster{}, testConfig())

	tests := []struct {
		name    string
		command string
		status  int
	}{
		{"disallowed subcommand", "kubectl delete pod web-0", http.StatusForbidden},
		{"disallowed helm verb", "helm install nginx", http.StatusForbidden},
		{"unknown tool", "rm -rf /", http.StatusBadRequest},
		{"metacharacters", "kubectl get pods; cat /etc/passwd", http.StatusBadRequest},
		{"empty", "   ", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := d.Exec(context.Background(), tt.command, 0)
			assert.Equal(t, tt.status, rep.Status)
		})
	}
}

func TestInboundWebhook_EmptyText(t *testing.T) {
	d := newTestDispatcher(t, &fakePoster{}, testConfig())

	inb := inbound("ch1")
	inb.Text = ""
	rep := d.InboundWebhook(context.Background(), inb, nil)

	assert.Equal(t, http.StatusOK, rep.Status)
	assert.Contains(t, chatBody(t, rep).Text, "Empty command")
}

func TestInboundWebhook_AdminDenied(t *testing.T) {
	d := newTestDispatcher(t, &fakePoster{}, testConfig())

	inb := inbound("ch1")
	inb.Text = "kubectl delete ns prod"
	rep := d.InboundWebhook(context.Background(), inb, nil)

	assert.Equal(t, http.StatusOK, rep.Status)
	assert.Contains(t, chatBody(t, rep).Text, "Command rejected")
}

func TestInboundWebhook_AdminTestMode(t *testing.T) {
	d := newTestDispatcher(t, &fakePoster{}, testConfig())

	inb := inbound("ch1")
	inb.Text = "kubectl get pods"
	rep := d.InboundWebhook(context.Background(), inb, nil)

	assert.Equal(t, http.StatusOK, rep.Status)
	msg := chatBody(t, rep)
	assert.Contains(t, msg.Text, "Test mode")
	assert.Contains(t, msg.Text, "kubectl get pods")
}

func TestInboundWebhook_TriggerWordStripped(t *testing.T) {
	d := newTestDispatcher(t, &fakePoster{}, testConfig())

	inb := inbound("ch1")
	inb.TriggerWord = "!ops"
	inb.Text = "!ops kubectl get pods"
	rep := d.InboundWebhook(context.Background(), inb, nil)

	assert.Contains(t, chatBody(t, rep).Text, "kubectl get pods")
	assert.NotContains(t, chatBody(t, rep).Text, "!ops")
}

func TestInboundWebhook_FreeformAck(t *testing.T) {
	poster := &fakePoster{}
	d := newTestDispatcher(t, poster, testConfig())

	inb := inbound("ch1")
	inb.ChannelName = "devops"
	inb.Text = "what is the status of the cluster"
	rep := d.InboundWebhook(context.Background(), inb, map[string]any{})

	assert.Equal(t, http.StatusOK, rep.Status)
	msg := chatBody(t, rep)
	assert.Equal(t, response.TypeEphemeral, msg.ResponseType)
	assert.Contains(t, msg.Text, "Forwarding to `cust01`")
}

func TestInboundWebhook_FreeformUnknownChannel(t *testing.T) {
	d := newTestDispatcher(t, &fakePoster{}, testConfig())

	inb := inbound("nope")
	inb.Text = "hello there"
	rep := d.InboundWebhook(context.Background(), inb, nil)

	assert.Equal(t, http.StatusOK, rep.Status, "chat entry points always answer chat-formatted")
	assert.Contains(t, chatBody(t, rep).Text, ":warning:")
}

func TestAdapterForward_ByCustomer(t *testing.T) {
	poster := &fakePoster{result: &forward.Result{StatusCode: 200, ContentType: "application/json", Body: []byte(`{"done":true}`)}}
	d := newTestDispatcher(t, poster, testConfig())

	r := httptest.NewRequest("POST", "/adapter/tools/restart?customer_id=cust01", nil)
	rep := d.AdapterForward(context.Background(), r, "restart", map[string]any{"arg": 1})

	assert.Equal(t, http.StatusOK, rep.Status)
	call := poster.lastCall(t)
	assert.Equal(t, "http://backend.local/tools/restart", call.url)

	pctx := call.body.(map[string]any)["_proxy_ctx"].(map[string]any)
	assert.Equal(t, "customer", pctx["route_by"])
}

func TestAdapterForward_ByChannel(t *testing.T) {
	poster := &fakePoster{}
	d := newTestDispatcher(t, poster, testConfig())

	r := httptest.NewRequest("POST", "/adapter/tools/restart", nil)
	rep := d.AdapterForward(context.Background(), r, "restart", map[string]any{"channel_id": "ch1"})

	assert.Equal(t, http.StatusOK, rep.Status)
	pctx := poster.lastCall(t).body.(map[string]any)["_proxy_ctx"].(map[string]any)
	assert.Equal(t, "channel", pctx["route_by"])
	assert.Equal(t, "cust01", pctx["customer_id"])
}

func TestAdapterForward_PlaceholdersSkipped(t *testing.T) {
	poster := &fakePoster{}
	d := newTestDispatcher(t, poster, testConfig())

	r := httptest.NewRequest("POST", "/adapter/tools/x", nil)
	body := map[string]any{
		"channel_id": "{{inputs.channel_id}}",
		"inputs":     map[string]any{"channel_id": "ch1"},
	}
	rep := d.AdapterForward(context.Background(), r, "x", body)

	assert.Equal(t, http.StatusOK, rep.Status, "placeholder skipped, nested concrete value used")

	// The forwarded body carries the resolved identifiers, never the
	// unexpanded placeholder.
	payload := poster.lastCall(t).body.(map[string]any)
	assert.Equal(t, "ch1", payload["channel_id"])
	assert.Equal(t, "cust01", payload["customer_id"])
}

func TestAdapterForward_DefaultBackend(t *testing.T) {
	poster := &fakePoster{}
	cfg := testConfig()
	cfg.DefaultBackendURL = "http://fallback.local"
	d := newTestDispatcher(t, poster, cfg)

	r := httptest.NewRequest("POST", "/adapter/tools/x", nil)
	rep := d.AdapterForward(context.Background(), r, "x", map[string]any{})

	assert.Equal(t, http.StatusOK, rep.Status)
	assert.Equal(t, "http://fallback.local/tools/x", poster.lastCall(t).url)
}

func TestAdapterForward_NoRoute(t *testing.T) {
	d := newTestDispatcher(t, &fakePoster{}, testConfig())

	r := httptest.NewRequest("POST", "/adapter/tools/x", nil)
	rep := d.AdapterForward(context.Background(), r, "x", map[string]any{})

	assert.Equal(t, http.StatusBadRequest, rep.Status)
}
