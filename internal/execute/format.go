package execute

import (
	"fmt"
	"strings"

	"github.com/bestpath/chatops/internal/deliver"
)

// Meta carries the request context rendered alongside an execution result so
// operators can diagnose without log access.
type Meta struct {
	Team      string
	Channel   string
	ChannelID string
	User      string
	Server    string
	ElapsedMS int64
}

const outputCap = 3800

// FormatResult renders an execution result as a markdown chat message: the
// command in a fence, routing metadata, and capped STDOUT/STDERR sections.
func FormatResult(cmd string, res Result, meta Meta) string {
	head := "### :white_check_mark: Command succeeded"
	if !res.OK {
		head = "### :x: Command failed"
	}

	metaLines := []string{
		fmt.Sprintf("- **Team**: `%s`", orDash(meta.Team)),
		fmt.Sprintf("- **Channel**: `%s` (`%s`)", orDash(meta.Channel), orDash(meta.ChannelID)),
		fmt.Sprintf("- **User**: `%s`", orDash(meta.User)),
	}
	if meta.Server != "" {
		metaLines = append(metaLines, fmt.Sprintf("- **Server**: `%s`", meta.Server))
	}
	if meta.ElapsedMS > 0 {
		metaLines = append(metaLines, fmt.Sprintf("- **Elapsed**: `%d ms`", meta.ElapsedMS))
	}

	parts := []string{
		head,
		"",
		"```bash",
		cmd,
		"```",
		"",
		"---",
		"#### Meta",
		strings.Join(metaLines, "\n"),
	}

	if strings.TrimSpace(res.Stdout) != "" {
		parts = append(parts, "", "#### STDOUT", "```", deliver.Truncate(res.Stdout, outputCap), "```")
	}
	if strings.TrimSpace(res.Stderr) != "" {
		parts = append(parts, "", "#### STDERR", "```", deliver.Truncate(res.Stderr, outputCap), "```")
	}

	parts = append(parts, "", fmt.Sprintf("- **Return Code**: `%d`", res.ReturnCode))
	return strings.Join(parts, "\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
