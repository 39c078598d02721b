package handler

import (
	"net/http"
	"strings"

	"github.com/bestpath/chatops/internal/api/request"
	"github.com/bestpath/chatops/internal/api/response"
	"github.com/bestpath/chatops/internal/core"
)

// Workflow handles the shortcut route that triggers a named workflow on the
// tenant backend.
type Workflow struct {
	d *core.Dispatcher
}

func NewWorkflow(d *core.Dispatcher) *Workflow {
	return &Workflow{d: d}
}

// Trigger fires a workflow. The flow name comes from the body or, for slash
// commands, from the first word of the command text; remaining words become
// the "args" parameter.
func (h *Workflow) Trigger(w http.ResponseWriter, r *http.Request) {
	body, err := request.ParseBody(r)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	inb := request.ParseInbound(r, body)

	flowName, _ := body["flow_name"].(string)
	params, _ := body["params"].(map[string]any)
	if flowName == "" && inb.Text != "" {
		fields := strings.Fields(inb.Text)
		flowName = fields[0]
		if len(fields) > 1 {
			if params == nil {
				params = map[string]any{}
			}
			params["args"] = strings.Join(fields[1:], " ")
		}
	}

	rep := h.d.TriggerWorkflow(r.Context(), inb, flowName, params)
	response.WriteJSON(w, rep.Status, rep.Body)
}
