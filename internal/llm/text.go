package llm

import (
	"strings"
)

// StripFences removes a markdown code fence wrapped around a reply.
// Replies without a leading fence are returned trimmed.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.SplitN(text, "\n", 2)
	if len(lines) < 2 {
		return ""
	}
	text = lines[1]
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// ExtractJSON returns the outermost JSON object in a reply, tolerating
// fences and surrounding prose. It returns "" when there is none.
func ExtractJSON(text string) string {
	text = StripFences(text)
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return ""
	}
	return text[start : end+1]
}
