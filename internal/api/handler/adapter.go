package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bestpath/chatops/internal/api/request"
	"github.com/bestpath/chatops/internal/api/response"
	"github.com/bestpath/chatops/internal/core"
)

// Adapter handles tool calls from automation platforms whose payloads may
// carry unexpanded template placeholders instead of concrete identifiers.
type Adapter struct {
	d *core.Dispatcher
}

func NewAdapter(d *core.Dispatcher) *Adapter {
	return &Adapter{d: d}
}

func (h *Adapter) Forward(w http.ResponseWriter, r *http.Request) {
	tool := chi.URLParam(r, "tool")
	if tool == "" {
		response.WriteError(w, http.StatusBadRequest, "tool is required")
		return
	}

	// Tool calls may arrive with an empty body; identifiers can still come
	// from the query string or headers.
	body, err := request.ParseBody(r)
	if err != nil {
		body = map[string]any{}
	}

	rep := h.d.AdapterForward(r.Context(), r, tool, body)
	response.WriteJSON(w, rep.Status, rep.Body)
}
