package execute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Result is the outcome of a local command run. It is rendered into a chat
// message immediately and then discarded.
type Result struct {
	OK         bool   `json:"ok"`
	ReturnCode int    `json:"returncode"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
}

// Executor runs allow-listed administrative commands as local subprocesses.
// Callers must have already passed the command through the safety gate.
type Executor struct {
	logger   zerolog.Logger
	testMode bool
}

// NewExecutor builds an Executor. In test mode commands are echoed back
// instead of executed.
func NewExecutor(logger zerolog.Logger, testMode bool) *Executor {
	return &Executor{
		logger:   logger.With().Str("component", "executor").Logger(),
		testMode: testMode,
	}
}

// Run executes commandText through the shell with a wall-clock timeout.
// It never returns an error: a timeout becomes a synthetic failure result
// with return code -1. Proxy environment variables are stripped so
// administrative commands cannot take an unexpected egress path.
func (e *Executor) Run(ctx context.Context, commandText string, timeout time.Duration) Result {
	if e.testMode {
		return Result{OK: true, ReturnCode: 0, Stdout: commandText}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The allow-listed tools take multi-token argument lists already
	// validated by the gate, so the command runs as one interpreted line.
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", commandText)
	// Some shells fork instead of exec'ing the command, so an orphaned
	// child can hold the output pipes open past the deadline. WaitDelay
	// bounds how long Run blocks on them after the context is cancelled.
	cmd.WaitDelay = time.Second
	cmd.Env = envWithoutProxy()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		e.logger.Warn().Str("command", commandText).Dur("timeout", timeout).Msg("command timed out")
		return Result{
			OK:         false,
			ReturnCode: -1,
			Stderr:     fmt.Sprintf("Timeout after %gs", timeout.Seconds()),
		}
	}

	result := Result{
		OK:         err == nil,
		ReturnCode: 0,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ReturnCode = exitErr.ExitCode()
		} else {
			result.ReturnCode = -1
			if result.Stderr == "" {
				result.Stderr = err.Error()
			}
		}
	}
	return result
}

// envWithoutProxy returns the process environment minus proxy variables.
func envWithoutProxy() []string {
	out := make([]string, 0, len(os.Environ()))
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		switch strings.ToUpper(key) {
		case "HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY":
			continue
		}
		out = append(out, kv)
	}
	return out
}
