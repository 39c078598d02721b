package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/bestpath/chatops/internal/config"
	"github.com/bestpath/chatops/internal/core"
	"github.com/bestpath/chatops/internal/deliver"
	"github.com/bestpath/chatops/internal/execute"
	"github.com/bestpath/chatops/internal/forward"
	"github.com/bestpath/chatops/internal/route"
	"github.com/bestpath/chatops/internal/safety"
)

// stubPoster fakes the outbound client; tests inspect the recorded bodies.
type stubPoster struct {
	mu     sync.Mutex
	urls   []string
	bodies []any
	result *forward.Result
	err    error
}

func (p *stubPoster) Post(_ context.Context, url string, _ map[string]string, body any) (*forward.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urls = append(p.urls, url)
	p.bodies = append(p.bodies, body)
	if p.err != nil {
		return nil, p.err
	}
	if p.result != nil {
		return p.result, nil
	}
	return &forward.Result{StatusCode: http.StatusOK, ContentType: "application/json", Body: []byte(`{"text":"ok"}`)}, nil
}

func (p *stubPoster) sentBodies() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.bodies...)
}

// testResolver routes ch1 to cust01 and gives ch-hook a follow-up webhook.
func testResolver() *route.Resolver {
	return route.NewResolver(
		map[string]string{"ch1": "cust01", "ch-hook": "cust01"},
		map[string]string{"cust01": "http://backend.local"},
		map[string]string{"ch-hook": "http://chat.local/hooks/abc123"},
	)
}

func newTestDispatcher(poster *stubPoster) *core.Dispatcher {
	logger := zerolog.Nop()
	cfg := &config.Config{
		ServiceName:       "chatops-gateway",
		ResponseType:      "ephemeral",
		HTTPTimeout:       time.Second,
		FollowupThreshold: 1800,
		ExecTimeout:       time.Second,
		ExecTestMode:      true,
	}
	resolver := testResolver()
	deliverer := deliver.NewDeliverer(logger, resolver, poster, cfg.FollowupThreshold, cfg.HTTPTimeout)
	executor := execute.NewExecutor(logger, cfg.ExecTestMode)
	return core.NewDispatcher(logger, cfg, resolver, safety.NewGate(), poster, deliverer, executor)
}

// newRequest creates a new HTTP request with an optional JSON body.
func newRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	return r
}

// newRequestRaw creates a new HTTP request with a raw string body.
func newRequestRaw(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// withChiURLParam adds a chi URL parameter to the request context.
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// decodeBody parses a JSON response body into a map.
func decodeBody(rec *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	return body
}
