package handler

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboundReceive_AdminTestMode(t *testing.T) {
	h := NewInbound(newTestDispatcher(&stubPoster{}))

	form := url.Values{}
	form.Set("channel_id", "ch1")
	form.Set("user_name", "alice")
	form.Set("text", "kubectl get pods")
	r := httptest.NewRequest("POST", "/webhook", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	h.Receive(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	text := decodeBody(rec)["text"].(string)
	assert.Contains(t, text, "Test mode")
	assert.Contains(t, text, "kubectl get pods")
}

func TestInboundReceive_AdminDenied(t *testing.T) {
	h := NewInbound(newTestDispatcher(&stubPoster{}))

	rec := httptest.NewRecorder()
	h.Receive(rec, newRequest("POST", "/webhook", map[string]any{
		"channel_id": "ch1",
		"text":       "helm uninstall prod",
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody(rec)["text"], "Command rejected")
}

func TestInboundReceive_FreeformAck(t *testing.T) {
	h := NewInbound(newTestDispatcher(&stubPoster{}))

	rec := httptest.NewRecorder()
	h.Receive(rec, newRequest("POST", "/webhook", map[string]any{
		"channel_id": "ch1",
		"text":       "how are the deploys looking",
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody(rec)["text"], "Forwarding to `cust01`")
}

func TestInboundReceive_EmptyText(t *testing.T) {
	h := NewInbound(newTestDispatcher(&stubPoster{}))

	rec := httptest.NewRecorder()
	h.Receive(rec, newRequest("POST", "/webhook", map[string]any{"channel_id": "ch1"}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody(rec)["text"], "Empty command")
}
