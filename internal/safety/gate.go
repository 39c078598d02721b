package safety

import (
	"fmt"
	"regexp"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// Kind classifies inbound free text.
type Kind int

const (
	// KindFreeform text is routed to the tenant backend.
	KindFreeform Kind = iota
	// KindAdministrative text is a cluster-management invocation subject to
	// allow-list gating.
	KindAdministrative
)

// Denial reasons surfaced to the user.
const (
	ReasonEmptyCommand  = "empty command"
	ReasonParseError    = "command could not be parsed"
	ReasonTool          = "tool not permitted"
	ReasonSubcommand    = "subcommand not permitted"
	ReasonMetacharacter = "shell metacharacters not permitted"
)

// DenialError is returned by Authorize when a command is rejected.
// Forbidden distinguishes a policy denial (403 on the exec endpoint) from a
// malformed command (400).
type DenialError struct {
	Reason    string
	Detail    string
	Forbidden bool
}

func (e *DenialError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
	}
	return e.Reason
}

// adminPrefix matches a leading kubectl/k/helm word, case-insensitive.
var adminPrefix = regexp.MustCompile(`(?i)^\s*(kubectl|k|helm)\b`)

// dangerous matches characters that only have meaning under a command
// interpreter. Checked against the raw input regardless of whether
// tokenization succeeded.
var dangerous = regexp.MustCompile("[;&|<>`]")

// Gate validates administrative commands against an allow-list of
// tool/subcommand pairs and rejects shell metacharacters. The two checks are
// independent: the allow-list alone would still let a permitted verb carry
// dangerous arguments.
type Gate struct {
	allowed map[string]map[string]bool
}

// NewGate returns a Gate with the default read-only allow-list policy.
func NewGate() *Gate {
	return &Gate{
		allowed: map[string]map[string]bool{
			"kubectl": toSet("get", "describe", "logs", "top", "version", "api-resources", "api-versions"),
			"helm":    toSet("list", "status", "version", "history"),
		},
	}
}

// Classify reports whether text is an administrative command. Only the
// leading whole word is considered; anything else is freeform.
func (g *Gate) Classify(text string) Kind {
	if adminPrefix.MatchString(strings.TrimSpace(text)) {
		return KindAdministrative
	}
	return KindFreeform
}

// Sanitize normalizes embedded CR/LF to spaces and backticks to single
// quotes. This narrows some injection vectors but does not replace the
// metacharacter check in Authorize.
func Sanitize(text string) string {
	t := strings.TrimSpace(text)
	t = strings.ReplaceAll(t, "\r", " ")
	t = strings.ReplaceAll(t, "\n", " ")
	t = strings.ReplaceAll(t, "`", "'")
	return t
}

// Authorize validates an administrative command. It returns nil when the
// command is permitted, or a *DenialError describing the rejection.
func (g *Gate) Authorize(text string) error {
	// The raw string is checked before and independently of tokenization:
	// quoting tricks must not smuggle interpreter syntax past the parser.
	if dangerous.MatchString(text) {
		return &DenialError{Reason: ReasonMetacharacter}
	}

	tokens, err := shellwords.Parse(text)
	if err != nil {
		return &DenialError{Reason: ReasonParseError, Detail: err.Error()}
	}
	if len(tokens) == 0 {
		return &DenialError{Reason: ReasonEmptyCommand}
	}

	tool := strings.ToLower(tokens[0])
	if tool == "k" {
		tool = "kubectl"
	}
	verbs, ok := g.allowed[tool]
	if !ok {
		return &DenialError{Reason: ReasonTool, Detail: tokens[0]}
	}

	if len(tokens) < 2 {
		return &DenialError{Reason: ReasonEmptyCommand, Detail: tool + " requires a subcommand"}
	}
	if !verbs[tokens[1]] {
		return &DenialError{Reason: ReasonSubcommand, Detail: fmt.Sprintf("%s %s", tool, tokens[1]), Forbidden: true}
	}
	return nil
}

func toSet(items ...string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, it := range items {
		s[it] = true
	}
	return s
}
