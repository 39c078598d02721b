package handler

import (
	"net/http"

	"github.com/bestpath/chatops/internal/api/request"
	"github.com/bestpath/chatops/internal/api/response"
	"github.com/bestpath/chatops/internal/core"
)

// Webhook handles direct follow-up webhook sends.
type Webhook struct {
	d *core.Dispatcher
}

func NewWebhook(d *core.Dispatcher) *Webhook {
	return &Webhook{d: d}
}

type sendWebhookRequest struct {
	ChannelID string `json:"channel_id" validate:"required"`
	Text      string `json:"text" validate:"required"`
	Username  string `json:"username"`
	IconEmoji string `json:"icon_emoji"`
}

// Send posts a single message to the channel's follow-up webhook.
func (h *Webhook) Send(w http.ResponseWriter, r *http.Request) {
	var req sendWebhookRequest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	rep := h.d.SendWebhookMessage(r.Context(), req.ChannelID, req.Text, req.Username, req.IconEmoji)
	response.WriteJSON(w, rep.Status, rep.Body)
}

type sendTableRequest struct {
	ChannelID string           `json:"channel_id" validate:"required"`
	Title     string           `json:"title"`
	Rows      []map[string]any `json:"rows" validate:"required"`
}

// Table renders rows as a markdown table and posts it to the channel's
// follow-up webhook.
func (h *Webhook) Table(w http.ResponseWriter, r *http.Request) {
	var req sendTableRequest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	rep := h.d.SendTable(r.Context(), req.ChannelID, req.Title, req.Rows)
	response.WriteJSON(w, rep.Status, rep.Body)
}
