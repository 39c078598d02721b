package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bestpath/chatops/internal/api/request"
	"github.com/bestpath/chatops/internal/api/response"
	"github.com/bestpath/chatops/internal/config"
	"github.com/bestpath/chatops/internal/deliver"
	"github.com/bestpath/chatops/internal/execute"
	"github.com/bestpath/chatops/internal/forward"
	"github.com/bestpath/chatops/internal/route"
	"github.com/bestpath/chatops/internal/safety"
)

// Poster sends a JSON payload to a URL. Satisfied by *forward.Client.
type Poster interface {
	Post(ctx context.Context, url string, headers map[string]string, body any) (*forward.Result, error)
}

// Reply is the dispatcher's answer for a handler to write.
type Reply struct {
	Status int
	Body   any
}

func chatReply(responseType, text string) Reply {
	return Reply{Status: http.StatusOK, Body: response.ChatMessage{ResponseType: responseType, Text: text}}
}

func chatWarning(text string) Reply {
	return chatReply(response.TypeEphemeral, ":warning: "+text)
}

// Dispatcher orchestrates the request flow: token verification, tenant
// resolution, safety gating, forwarding, and response delivery. It holds no
// per-request state; every method is safe for concurrent use.
type Dispatcher struct {
	logger    zerolog.Logger
	resolver  *route.Resolver
	gate      *safety.Gate
	client    Poster
	deliverer *deliver.Deliverer
	executor  *execute.Executor

	serviceName    string
	verifyToken    string
	responseType   string
	execTimeout    time.Duration
	execTestMode   bool
	defaultBackend string
	bgTimeout      time.Duration
}

// NewDispatcher wires the dispatcher from its collaborators and config.
func NewDispatcher(logger zerolog.Logger, cfg *config.Config, resolver *route.Resolver, gate *safety.Gate, client Poster, deliverer *deliver.Deliverer, executor *execute.Executor) *Dispatcher {
	return &Dispatcher{
		logger:         logger.With().Str("component", "dispatcher").Logger(),
		resolver:       resolver,
		gate:           gate,
		client:         client,
		deliverer:      deliverer,
		executor:       executor,
		serviceName:    cfg.ServiceName,
		verifyToken:    cfg.VerifyToken,
		responseType:   cfg.ResponseType,
		execTimeout:    cfg.ExecTimeout,
		execTestMode:   cfg.ExecTestMode,
		defaultBackend: cfg.DefaultBackendURL,
		// Background contexts must outlive a full retry cycle: retries+1
		// attempts plus the backoff sleeps between them.
		bgTimeout: time.Duration(cfg.RetryCount+1)*cfg.HTTPTimeout +
			time.Duration(cfg.RetryCount)*cfg.RetryBackoff,
	}
}

// Resolver exposes the route tables for the admin endpoints.
func (d *Dispatcher) Resolver() *route.Resolver {
	return d.resolver
}

// tokenOK verifies the inbound token against the configured one. An empty
// configured token disables verification.
func (d *Dispatcher) tokenOK(token string) bool {
	return d.verifyToken == "" || token == d.verifyToken
}

var replyBadToken = chatWarning("Invalid verification token.")

// proxyCtx is the provenance marker attached to every forwarded body.
func (d *Dispatcher) proxyCtx(routeBy, tenantID string) map[string]any {
	return map[string]any{
		"source":      d.serviceName,
		"route_by":    routeBy,
		"customer_id": tenantID,
		"request_id":  uuid.NewString(),
	}
}

// envelope builds the forward headers and body: identifying headers plus the
// original payload with the provenance marker spliced in.
func (d *Dispatcher) envelope(inb *request.Inbound, body map[string]any, tenantID, routeBy string) (map[string]string, map[string]any) {
	headers := map[string]string{
		"X-Customer-Id": tenantID,
		"X-Channel-Id":  inb.ChannelID,
	}
	if inb.TeamID != "" {
		headers["X-Team-Id"] = inb.TeamID
	}
	if inb.UserID != "" {
		headers["X-User-Id"] = inb.UserID
	}

	payload := make(map[string]any, len(body)+1)
	for k, v := range body {
		payload[k] = v
	}
	payload["_proxy_ctx"] = d.proxyCtx(routeBy, tenantID)
	return headers, payload
}

// resolve maps the inbound channel to its tenant route, or returns the Reply
// the handler should write instead.
func (d *Dispatcher) resolve(inb *request.Inbound) (route.Route, *Reply) {
	if inb.ChannelID == "" {
		rep := Reply{Status: http.StatusBadRequest, Body: map[string]string{"error": "channel_id is required"}}
		return route.Route{}, &rep
	}
	rt, err := d.resolver.Resolve(inb.ChannelID)
	switch {
	case err == nil:
		return rt, nil
	case errors.Is(err, route.ErrNoBackend):
		d.logger.Error().Str("channel_id", inb.ChannelID).Err(err).Msg("tenant has no backend")
		rep := Reply{Status: http.StatusBadGateway, Body: response.ChatMessage{
			ResponseType: response.TypeEphemeral,
			Text:         fmt.Sprintf(":warning: Tenant for channel `%s` has no backend configured.", inb.ChannelID),
		}}
		return route.Route{}, &rep
	default:
		d.logger.Warn().Str("channel_id", inb.ChannelID).Msg("unknown channel")
		rep := Reply{Status: http.StatusForbidden, Body: map[string]string{
			"error": fmt.Sprintf("Unknown channel_id %q", inb.ChannelID),
		}}
		return route.Route{}, &rep
	}
}

// forwardTo posts the envelope to url and converts the outcome to chat text.
// Transport failures and backend error statuses both come back as warning
// replies naming the tenant; only a 2xx body is rendered and delivered.
func (d *Dispatcher) forwardTo(ctx context.Context, url, tenantID, channelID string, headers map[string]string, payload map[string]any) Reply {
	res, err := d.client.Post(ctx, url, headers, payload)
	if err != nil {
		d.logger.Error().Err(err).Str("tenant", tenantID).Str("url", url).Msg("forward failed")
		return chatWarning(fmt.Sprintf("Forwarding failed, backend for `%s` is unreachable.", tenantID))
	}
	if res.IsError() {
		return chatWarning(fmt.Sprintf("Backend `%s` error (%d): %s",
			tenantID, res.StatusCode, deliver.Truncate(string(res.Body), 2000)))
	}

	rendered := deliver.Render(res.ContentType, res.Body)
	outcome := d.deliverer.Deliver(channelID, rendered.Text, "", "")
	return chatReply(d.responseType, outcome.Text)
}

// ForwardCommand routes a generic slash command to the tenant backend's
// /router endpoint.
func (d *Dispatcher) ForwardCommand(ctx context.Context, inb *request.Inbound, body map[string]any) Reply {
	if !d.tokenOK(inb.Token) {
		return replyBadToken
	}
	rt, rep := d.resolve(inb)
	if rep != nil {
		return *rep
	}
	headers, payload := d.envelope(inb, body, rt.TenantID, "channel")
	return d.forwardTo(ctx, rt.BackendURL+"/router", rt.TenantID, inb.ChannelID, headers, payload)
}

// ForwardLLM routes a prompt to the tenant backend's /llm/chat endpoint. The
// slash-command text becomes the prompt unless the body already carries one.
func (d *Dispatcher) ForwardLLM(ctx context.Context, inb *request.Inbound, body map[string]any) Reply {
	if !d.tokenOK(inb.Token) {
		return replyBadToken
	}
	rt, rep := d.resolve(inb)
	if rep != nil {
		return *rep
	}

	headers, payload := d.envelope(inb, body, rt.TenantID, "channel")
	if _, ok := payload["prompt"]; !ok && inb.Text != "" {
		payload["prompt"] = inb.Text
	}
	return d.forwardTo(ctx, rt.BackendURL+"/llm/chat", rt.TenantID, inb.ChannelID, headers, payload)
}

// TriggerWorkflow posts a workflow trigger to the tenant backend and answers
// with a short summary. The full backend response goes to the channel's
// follow-up webhook when one is mapped.
func (d *Dispatcher) TriggerWorkflow(ctx context.Context, inb *request.Inbound, flowName string, params map[string]any) Reply {
	if !d.tokenOK(inb.Token) {
		return replyBadToken
	}
	if flowName == "" {
		return Reply{Status: http.StatusBadRequest, Body: map[string]string{"error": "flow_name is required"}}
	}
	rt, rep := d.resolve(inb)
	if rep != nil {
		return *rep
	}

	headers, payload := d.envelope(inb, map[string]any{
		"flow_name": flowName,
		"params":    params,
	}, rt.TenantID, "channel")

	res, err := d.client.Post(ctx, rt.BackendURL+"/workflow/trigger", headers, payload)
	if err != nil {
		d.logger.Error().Err(err).Str("tenant", rt.TenantID).Str("flow", flowName).Msg("workflow trigger failed")
		return chatWarning(fmt.Sprintf("Workflow trigger failed, backend for `%s` is unreachable.", rt.TenantID))
	}
	if res.IsError() {
		return chatWarning(fmt.Sprintf("Backend `%s` rejected workflow `%s` (%d): %s",
			rt.TenantID, flowName, res.StatusCode, deliver.Truncate(string(res.Body), 2000)))
	}

	rendered := deliver.Render(res.ContentType, res.Body)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.bgTimeout)
		defer cancel()
		if err := d.deliverer.SendWebhook(ctx, inb.ChannelID, rendered.Text, "", ""); err != nil {
			d.logger.Warn().Err(err).Str("channel_id", inb.ChannelID).Msg("workflow detail delivery skipped")
		}
	}()

	return chatReply(d.responseType,
		fmt.Sprintf(":rocket: Workflow `%s` triggered for tenant `%s`.", flowName, rt.TenantID))
}

// SendWebhookMessage posts a single message to the channel's follow-up
// webhook.
func (d *Dispatcher) SendWebhookMessage(ctx context.Context, channelID, text, username, iconEmoji string) Reply {
	if channelID == "" {
		return Reply{Status: http.StatusBadRequest, Body: map[string]string{"error": "channel_id is required"}}
	}
	if err := d.deliverer.SendWebhook(ctx, channelID, text, username, iconEmoji); err != nil {
		d.logger.Error().Err(err).Str("channel_id", channelID).Msg("webhook send failed")
		return chatWarning("Webhook delivery failed: " + err.Error())
	}
	return Reply{Status: http.StatusOK, Body: map[string]string{"status": "sent"}}
}

// SendTable renders rows as a markdown table and posts it to the channel's
// follow-up webhook.
func (d *Dispatcher) SendTable(ctx context.Context, channelID, title string, rows []map[string]any) Reply {
	table := deliver.MarkdownTable(rows)
	if title != "" {
		table = "### " + title + "\n\n" + table
	}
	return d.SendWebhookMessage(ctx, channelID, table, "", "")
}

// Exec runs a command through the safety gate and the local executor. Gate
// rejections answer 400, or 403 when the tool was recognized but the
// subcommand is not permitted. A non-positive timeout falls back to the
// configured default.
func (d *Dispatcher) Exec(ctx context.Context, commandText string, timeout time.Duration) Reply {
	if timeout <= 0 {
		timeout = d.execTimeout
	}
	text := safety.Sanitize(commandText)
	if text == "" {
		return Reply{Status: http.StatusBadRequest, Body: map[string]string{"error": safety.ReasonEmptyCommand}}
	}
	if err := d.gate.Authorize(text); err != nil {
		status := http.StatusBadRequest
		var denial *safety.DenialError
		if errors.As(err, &denial) && denial.Forbidden {
			status = http.StatusForbidden
		}
		d.logger.Warn().Str("command", text).Err(err).Msg("exec denied")
		return Reply{Status: status, Body: map[string]string{"error": err.Error()}}
	}

	res := d.executor.Run(ctx, text, timeout)
	return Reply{Status: http.StatusOK, Body: res}
}

// InboundWebhook handles the slash-command / outgoing-webhook entry point.
// Administrative text goes through the gate and the local executor; anything
// else is forwarded to the tenant backend. Long-running work is acknowledged
// immediately and finished in the background through response_url.
func (d *Dispatcher) InboundWebhook(ctx context.Context, inb *request.Inbound, body map[string]any) Reply {
	if !d.tokenOK(inb.Token) {
		return replyBadToken
	}

	text := safety.Sanitize(inb.Text)
	if inb.TriggerWord != "" {
		text = strings.TrimSpace(strings.TrimPrefix(text, inb.TriggerWord))
	}
	if text == "" {
		return chatWarning("Empty command.")
	}

	if d.gate.Classify(text) == safety.KindAdministrative {
		return d.handleAdministrative(ctx, inb, text)
	}
	return d.handleFreeform(inb, body, text)
}

func (d *Dispatcher) handleAdministrative(ctx context.Context, inb *request.Inbound, text string) Reply {
	if err := d.gate.Authorize(text); err != nil {
		d.logger.Warn().Str("command", text).Str("user", inb.UserName).Err(err).Msg("command denied")
		return chatWarning("Command rejected: " + err.Error())
	}

	if d.execTestMode {
		res := d.executor.Run(ctx, text, d.execTimeout)
		return chatReply(response.TypeEphemeral,
			":mag: Test mode, command not executed.\n\n"+execute.FormatResult(text, res, d.meta(inb, 0)))
	}

	if inb.ResponseURL != "" {
		go d.execAndRespond(inb, text)
		return chatReply(response.TypeEphemeral,
			fmt.Sprintf(":hourglass_flowing_sand: Running `%s`...", text))
	}

	start := time.Now()
	res := d.executor.Run(ctx, text, d.execTimeout)
	formatted := execute.FormatResult(text, res, d.meta(inb, time.Since(start).Milliseconds()))
	outcome := d.deliverer.Deliver(inb.ChannelID, formatted, "", "")
	return chatReply(response.TypeInChannel, outcome.Text)
}

// execAndRespond runs the command in the background and posts the formatted
// result to the chat platform's response_url.
func (d *Dispatcher) execAndRespond(inb *request.Inbound, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.execTimeout+d.bgTimeout)
	defer cancel()

	start := time.Now()
	res := d.executor.Run(ctx, text, d.execTimeout)
	formatted := execute.FormatResult(text, res, d.meta(inb, time.Since(start).Milliseconds()))
	d.sendDelayed(ctx, inb.ResponseURL, response.TypeInChannel, deliver.Truncate(formatted, deliver.InlineCap))
}

func (d *Dispatcher) handleFreeform(inb *request.Inbound, body map[string]any, text string) Reply {
	rt, rep := d.resolve(inb)
	if rep != nil {
		if msg, ok := rep.Body.(response.ChatMessage); ok {
			return Reply{Status: http.StatusOK, Body: msg}
		}
		return chatWarning(fmt.Sprintf("No route for channel `%s`.", inb.ChannelID))
	}

	headers, payload := d.envelope(inb, body, rt.TenantID, "channel")
	payload["text"] = text

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.bgTimeout*2)
		defer cancel()

		res, err := d.client.Post(ctx, rt.BackendURL+"/router", headers, payload)
		if err != nil {
			d.logger.Error().Err(err).Str("tenant", rt.TenantID).Msg("background forward failed")
			d.sendDelayed(ctx, inb.ResponseURL, response.TypeEphemeral,
				fmt.Sprintf(":warning: Forwarding failed, backend for `%s` is unreachable.", rt.TenantID))
			return
		}
		if res.IsError() {
			d.sendDelayed(ctx, inb.ResponseURL, response.TypeEphemeral,
				fmt.Sprintf(":warning: Backend `%s` error (%d): %s",
					rt.TenantID, res.StatusCode, deliver.Truncate(string(res.Body), 2000)))
			return
		}

		rendered := deliver.Render(res.ContentType, res.Body)
		if inb.ResponseURL != "" {
			d.sendDelayed(ctx, inb.ResponseURL, response.TypeInChannel, deliver.Truncate(rendered.Text, deliver.InlineCap))
			return
		}
		if err := d.deliverer.SendWebhook(ctx, inb.ChannelID, rendered.Text, "", ""); err != nil {
			d.logger.Warn().Err(err).Str("channel_id", inb.ChannelID).Msg("freeform result delivery skipped")
		}
	}()

	return chatReply(response.TypeEphemeral,
		fmt.Sprintf(":incoming_envelope: Forwarding to `%s` (channel `%s`, user `%s`)...",
			rt.TenantID, orDash(inb.ChannelName), orDash(inb.UserName)))
}

// AdapterForward handles tool calls whose identifiers may arrive as
// unexpanded template placeholders. The channel and customer IDs are taken
// from the first concrete value across query, headers, and body; explicit
// customer routing wins over channel resolution, and the configured default
// backend is the last resort.
func (d *Dispatcher) AdapterForward(ctx context.Context, r *http.Request, tool string, body map[string]any) Reply {
	channelID := request.FirstConcrete(
		r.URL.Query().Get("channel_id"),
		r.Header.Get("X-Channel-Id"),
		stringField(body, "channel_id"),
		request.NestedString(body, "inputs", "channel_id"),
	)
	customerID := request.FirstConcrete(
		r.URL.Query().Get("customer_id"),
		r.Header.Get("X-Customer-Id"),
		stringField(body, "customer_id"),
		request.NestedString(body, "inputs", "customer_id"),
	)

	backendURL, tenantID, routeBy := "", customerID, ""
	switch {
	case customerID != "":
		url, ok := d.resolver.Backends()[customerID]
		if !ok || url == "" {
			return Reply{Status: http.StatusBadRequest, Body: map[string]string{
				"error": fmt.Sprintf("unknown customer_id %q", customerID),
			}}
		}
		backendURL, routeBy = strings.TrimRight(url, "/"), "customer"
	case channelID != "":
		rt, err := d.resolver.Resolve(channelID)
		if err != nil {
			return Reply{Status: http.StatusForbidden, Body: map[string]string{
				"error": fmt.Sprintf("Unknown channel_id %q", channelID),
			}}
		}
		backendURL, tenantID, routeBy = rt.BackendURL, rt.TenantID, "channel"
	case d.defaultBackend != "":
		backendURL, routeBy = strings.TrimRight(d.defaultBackend, "/"), "default"
	default:
		return Reply{Status: http.StatusBadRequest, Body: map[string]string{
			"error": "no channel_id or customer_id resolved and no default backend configured",
		}}
	}

	payload := make(map[string]any, len(body)+3)
	for k, v := range body {
		payload[k] = v
	}
	// Overwrite the body identifiers with the resolved concrete values so the
	// backend never sees an unexpanded placeholder.
	if channelID != "" {
		payload["channel_id"] = channelID
	}
	if tenantID != "" {
		payload["customer_id"] = tenantID
	}
	payload["_proxy_ctx"] = d.proxyCtx(routeBy, tenantID)

	headers := map[string]string{"X-Customer-Id": tenantID, "X-Channel-Id": channelID}
	res, err := d.client.Post(ctx, backendURL+"/tools/"+tool, headers, payload)
	if err != nil {
		d.logger.Error().Err(err).Str("tool", tool).Str("route_by", routeBy).Msg("adapter forward failed")
		return Reply{Status: http.StatusBadGateway, Body: map[string]string{
			"error": "backend unreachable",
		}}
	}

	if strings.Contains(strings.ToLower(res.ContentType), "application/json") && json.Valid(res.Body) {
		return Reply{Status: res.StatusCode, Body: json.RawMessage(res.Body)}
	}
	return Reply{Status: res.StatusCode, Body: map[string]string{"body": string(res.Body)}}
}

// sendDelayed posts a chat-formatted message to a response_url. Best-effort;
// failures are logged only.
func (d *Dispatcher) sendDelayed(ctx context.Context, responseURL, responseType, text string) {
	if responseURL == "" {
		return
	}
	res, err := d.client.Post(ctx, responseURL, nil, response.ChatMessage{ResponseType: responseType, Text: text})
	if err != nil {
		d.logger.Warn().Err(err).Msg("delayed response failed")
		return
	}
	if res.StatusCode >= 300 {
		d.logger.Warn().Int("status", res.StatusCode).Msg("delayed response rejected")
	}
}

func (d *Dispatcher) meta(inb *request.Inbound, elapsedMS int64) execute.Meta {
	return execute.Meta{
		Team:      inb.TeamDomain,
		Channel:   inb.ChannelName,
		ChannelID: inb.ChannelID,
		User:      inb.UserName,
		Server:    d.serviceName,
		ElapsedMS: elapsedMS,
	}
}

func stringField(body map[string]any, key string) string {
	if v, ok := body[key].(string); ok {
		return v
	}
	return ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
