package handler

import (
	"net/http"

	"github.com/bestpath/chatops/internal/api/request"
	"github.com/bestpath/chatops/internal/api/response"
	"github.com/bestpath/chatops/internal/core"
)

// Command handles generic slash-command routing to the tenant backend.
type Command struct {
	d *core.Dispatcher
}

func NewCommand(d *core.Dispatcher) *Command {
	return &Command{d: d}
}

// Forward resolves the channel and proxies the payload to the tenant
// backend's /router endpoint.
func (h *Command) Forward(w http.ResponseWriter, r *http.Request) {
	body, err := request.ParseBody(r)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	inb := request.ParseInbound(r, body)
	rep := h.d.ForwardCommand(r.Context(), inb, body)
	response.WriteJSON(w, rep.Status, rep.Body)
}
