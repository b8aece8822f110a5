package checks

import "strings"

// ParseResult holds the normalized output from a parser.
type ParseResult struct {
	Passed   bool        `json:"passed"`
	Summary  string      `json:"summary"`
	Findings interface{} `json:"findings"`
	// Messages are the actionable error lines fed back to the generator.
	Messages []string `json:"messages,omitempty"`
}

// Parser converts raw command output into a structured ParseResult.
type Parser interface {
	Parse(stdout string, stderr string, exitCode int) ParseResult
}

// maxMessages caps how many error lines a parser returns.
const maxMessages = 50

// ParserFor picks a parser name from a command line. Unknown commands map
// to "generic".
func ParserFor(command string) string {
	c := strings.ToLower(command)
	switch {
	case strings.Contains(c, "ruff"):
		return "ruff"
	case strings.Contains(c, "pytest"):
		return "pytest"
	case strings.Contains(c, "eslint") && strings.Contains(c, "json"):
		return "eslint"
	case strings.Contains(c, "tsc"):
		return "typescript"
	case (strings.Contains(c, "vitest") || strings.Contains(c, "jest")) && strings.Contains(c, "json"):
		return "vitest"
	case strings.HasPrefix(c, "go test"), strings.HasPrefix(c, "go vet"):
		return "go"
	default:
		return "generic"
	}
}

func capMessages(msgs []string) []string {
	if len(msgs) > maxMessages {
		return append(msgs[:maxMessages:maxMessages], "...")
	}
	return msgs
}
