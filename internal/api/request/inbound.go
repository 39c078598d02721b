package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Inbound is a parsed chat-platform request: slash command, outgoing
// webhook, or shortcut call. Identifiers travel with the request; nothing is
// inferred from shared state.
type Inbound struct {
	Token       string
	ChannelID   string
	ChannelName string
	TeamID      string
	TeamDomain  string
	UserID      string
	UserName    string
	Command     string
	TriggerWord string
	Text        string
	ResponseURL string
}

// ParseBody reads a form-encoded or JSON request body into a flat map.
// Unparseable bodies are an error; the dispatcher turns that into a 400.
func ParseBody(r *http.Request) (map[string]any, error) {
	ctype := strings.ToLower(r.Header.Get("Content-Type"))
	if strings.HasPrefix(ctype, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse form body: %w", err)
		}
		body := make(map[string]any, len(r.PostForm))
		for k, vs := range r.PostForm {
			if len(vs) > 0 {
				body[k] = vs[0]
			}
		}
		return body, nil
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("parse JSON body: %w", err)
	}
	return body, nil
}

// ParseInbound extracts the chat-platform fields from a parsed body, falling
// back to identifying headers where the body lacks a value.
func ParseInbound(r *http.Request, body map[string]any) *Inbound {
	return &Inbound{
		Token:       FirstConcrete(stringField(body, "token"), stringField(body, "verification_token"), r.Header.Get("X-Gateway-Token")),
		ChannelID:   FirstConcrete(stringField(body, "channel_id"), r.Header.Get("X-Channel-Id")),
		ChannelName: stringField(body, "channel_name"),
		TeamID:      FirstConcrete(stringField(body, "team_id"), r.Header.Get("X-Team-Id")),
		TeamDomain:  stringField(body, "team_domain"),
		UserID:      FirstConcrete(stringField(body, "user_id"), r.Header.Get("X-User-Id")),
		UserName:    stringField(body, "user_name"),
		Command:     stringField(body, "command"),
		TriggerWord: stringField(body, "trigger_word"),
		Text:        strings.TrimSpace(stringField(body, "text")),
		ResponseURL: stringField(body, "response_url"),
	}
}

// FirstConcrete returns the first candidate that holds a concrete value.
// Empty strings and unexpanded template placeholders ("{{...}}" or values
// starting with "inputs.") do not count. This is the single resolution point
// for identifier fallback priority: callers list candidates most-specific
// first.
func FirstConcrete(candidates ...string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if strings.Contains(c, "{{") || strings.HasPrefix(c, "inputs.") {
			continue
		}
		return c
	}
	return ""
}

func stringField(body map[string]any, key string) string {
	if body == nil {
		return ""
	}
	if v, ok := body[key].(string); ok {
		return v
	}
	return ""
}

// NestedString digs into a nested object field (e.g. body["inputs"]) and
// returns a string value by key.
func NestedString(body map[string]any, object, key string) string {
	nested, ok := body[object].(map[string]any)
	if !ok {
		return ""
	}
	if v, ok := nested[key].(string); ok {
		return v
	}
	return ""
}
