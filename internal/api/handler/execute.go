package handler

import (
	"net/http"
	"time"

	"github.com/bestpath/chatops/internal/api/request"
	"github.com/bestpath/chatops/internal/api/response"
	"github.com/bestpath/chatops/internal/core"
)

// Execute handles the local command execution endpoint.
type Execute struct {
	d *core.Dispatcher
}

func NewExecute(d *core.Dispatcher) *Execute {
	return &Execute{d: d}
}

// execRequest accepts "cmd" with "command" as an alias; at least one must be
// set. channel_id/channel_name are accepted for caller-side bookkeeping.
type execRequest struct {
	Cmd         string  `json:"cmd"`
	Command     string  `json:"command"`
	TimeoutSec  float64 `json:"timeout_sec"`
	ChannelID   string  `json:"channel_id"`
	ChannelName string  `json:"channel_name"`
}

// Run passes the command through the safety gate and runs it locally.
// Gate rejections answer 400, disallowed subcommands 403.
func (h *Execute) Run(w http.ResponseWriter, r *http.Request) {
	var req execRequest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	command := req.Cmd
	if command == "" {
		command = req.Command
	}
	if command == "" {
		response.WriteError(w, http.StatusBadRequest, "cmd is required")
		return
	}

	timeout := time.Duration(req.TimeoutSec * float64(time.Second))
	rep := h.d.Exec(r.Context(), command, timeout)
	response.WriteJSON(w, rep.Status, rep.Body)
}
