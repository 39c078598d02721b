package handler

import (
	"net/http"

	"github.com/bestpath/chatops/internal/api/request"
	"github.com/bestpath/chatops/internal/api/response"
	"github.com/bestpath/chatops/internal/core"
)

// Inbound handles the chat platform's slash-command / outgoing-webhook entry
// point.
type Inbound struct {
	d *core.Dispatcher
}

func NewInbound(d *core.Dispatcher) *Inbound {
	return &Inbound{d: d}
}

func (h *Inbound) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := request.ParseBody(r)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	inb := request.ParseInbound(r, body)
	rep := h.d.InboundWebhook(r.Context(), inb, body)
	response.WriteJSON(w, rep.Status, rep.Body)
}
