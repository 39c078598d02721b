package request

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBody_FormEncoded(t *testing.T) {
	form := url.Values{}
	form.Set("channel_id", "ch1")
	form.Set("text", "kubectl get pods")
	r := httptest.NewRequest("POST", "/webhook", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := ParseBody(r)
	require.NoError(t, err)
	assert.Equal(t, "ch1", body["channel_id"])
	assert.Equal(t, "kubectl get pods", body["text"])
}

func TestParseBody_JSON(t *testing.T) {
	r := httptest.NewRequest("POST", "/chat/cmd", strings.NewReader(`{"channel_id":"ch1","text":"hello"}`))
	r.Header.Set("Content-Type", "application/json")

	body, err := ParseBody(r)
	require.NoError(t, err)
	assert.Equal(t, "ch1", body["channel_id"])
}

func TestParseBody_Invalid(t *testing.T) {
	r := httptest.NewRequest("POST", "/chat/cmd", strings.NewReader("{broken"))
	r.Header.Set("Content-Type", "application/json")

	_, err := ParseBody(r)
	require.Error(t, err)
}

func TestParseInbound_BodyFields(t *testing.T) {
	r := httptest.NewRequest("POST", "/webhook", nil)
	inb := ParseInbound(r, map[string]any{
		"token":        "tok",
		"channel_id":   "ch1",
		"channel_name": "devops",
		"team_domain":  "acme",
		"user_name":    "alice",
		"text":         "  kubectl get pods  ",
		"response_url": "https://chat/response/xyz",
	})

	assert.Equal(t, "tok", inb.Token)
	assert.Equal(t, "ch1", inb.ChannelID)
	assert.Equal(t, "devops", inb.ChannelName)
	assert.Equal(t, "acme", inb.TeamDomain)
	assert.Equal(t, "alice", inb.UserName)
	assert.Equal(t, "kubectl get pods", inb.Text, "text is trimmed")
	assert.Equal(t, "https://chat/response/xyz", inb.ResponseURL)
}

func TestParseInbound_HeaderFallback(t *testing.T) {
	r := httptest.NewRequest("POST", "/chat/cmd", nil)
	r.Header.Set("X-Channel-Id", "ch-header")
	r.Header.Set("X-Team-Id", "team-header")
	r.Header.Set("X-User-Id", "user-header")

	inb := ParseInbound(r, map[string]any{})

	assert.Equal(t, "ch-header", inb.ChannelID)
	assert.Equal(t, "team-header", inb.TeamID)
	assert.Equal(t, "user-header", inb.UserID)
}

func TestParseInbound_BodyWinsOverHeader(t *testing.T) {
	r := httptest.NewRequest("POST", "/chat/cmd", nil)
	r.Header.Set("X-Channel-Id", "ch-header")

	inb := ParseInbound(r, map[string]any{"channel_id": "ch-body"})
	assert.Equal(t, "ch-body", inb.ChannelID)
}

func TestFirstConcrete(t *testing.T) {
	tests := []struct {
		name       string
		candidates []string
		want       string
	}{
		{"first wins", []string{"a", "b"}, "a"},
		{"skips empty", []string{"", "b"}, "b"},
		{"skips whitespace", []string{"   ", "b"}, "b"},
		{"skips template placeholder", []string{"{{inputs.channel_id}}", "real"}, "real"},
		{"skips inputs prefix", []string{"inputs.channel_id", "real"}, "real"},
		{"all placeholders", []string{"{{x}}", "inputs.y", ""}, ""},
		{"none", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FirstConcrete(tt.candidates...))
		})
	}
}

func TestNestedString(t *testing.T) {
	body := map[string]any{
		"inputs": map[string]any{"channel_id": "ch1", "n": 3},
	}
	assert.Equal(t, "ch1", NestedString(body, "inputs", "channel_id"))
	assert.Equal(t, "", NestedString(body, "inputs", "missing"))
	assert.Equal(t, "", NestedString(body, "inputs", "n"))
	assert.Equal(t, "", NestedString(body, "nope", "channel_id"))
}
