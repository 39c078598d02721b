package handler

import (
	"net/http"

	"github.com/bestpath/chatops/internal/api/request"
	"github.com/bestpath/chatops/internal/api/response"
	"github.com/bestpath/chatops/internal/core"
)

// LLM handles the shortcut route to the tenant backend's LLM chat endpoint.
type LLM struct {
	d *core.Dispatcher
}

func NewLLM(d *core.Dispatcher) *LLM {
	return &LLM{d: d}
}

func (h *LLM) Forward(w http.ResponseWriter, r *http.Request) {
	body, err := request.ParseBody(r)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	inb := request.ParseInbound(r, body)
	rep := h.d.ForwardLLM(r.Context(), inb, body)
	response.WriteJSON(w, rep.Status, rep.Body)
}
