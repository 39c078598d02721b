package deliver

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RenderedBody is a chat-ready rendering of a backend or executor payload.
type RenderedBody struct {
	// Text is the full chat-formatted text, including any code fence.
	Text string
	// Passthrough is set when the payload was already a chat message (a JSON
	// object with a "text" field); Text then carries that message verbatim.
	Passthrough bool
}

// Render converts a response payload into chat-formatted text. JSON bodies
// are pretty-printed with sorted keys and two-space indent inside a json
// fence; a JSON object that already carries a "text" field is passed through
// as-is; anything else is wrapped in a plain fence.
func Render(contentType string, body []byte) RenderedBody {
	if strings.Contains(strings.ToLower(contentType), "application/json") {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err == nil {
			if obj, ok := decoded.(map[string]any); ok {
				if text, ok := obj["text"].(string); ok {
					return RenderedBody{Text: text, Passthrough: true}
				}
			}
			pretty, err := json.MarshalIndent(decoded, "", "  ")
			if err == nil {
				return RenderedBody{Text: fmt.Sprintf("```json\n%s\n```", pretty)}
			}
		}
	}
	return RenderedBody{Text: fmt.Sprintf("```\n%s\n```", body)}
}

// Chunk splits text into sequential non-overlapping pieces of at most size
// bytes, preserving original byte order. Concatenating the chunks
// reconstructs the input exactly.
func Chunk(text string, size int) []string {
	if size <= 0 || text == "" {
		return nil
	}
	chunks := make([]string, 0, (len(text)+size-1)/size)
	for i := 0; i < len(text); i += size {
		end := i + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[i:end])
	}
	return chunks
}

// Truncate caps text at limit bytes, appending a truncation marker when it
// was cut.
func Truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "\n...(truncated)..."
}

// MarkdownTable renders rows as a markdown table. Columns come from the
// first row's keys, sorted for a stable layout.
func MarkdownTable(rows []map[string]any) string {
	if len(rows) == 0 {
		return "_(no rows)_"
	}

	cols := make([]string, 0, len(rows[0]))
	for c := range rows[0] {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var b strings.Builder
	b.WriteString("| " + strings.Join(cols, " | ") + " |\n")
	seps := make([]string, len(cols))
	for i := range seps {
		seps[i] = "---"
	}
	b.WriteString("| " + strings.Join(seps, " | ") + " |\n")

	for _, row := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			if v, ok := row[c]; ok && v != nil {
				cells[i] = fmt.Sprintf("%v", v)
			}
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return b.String()
}
