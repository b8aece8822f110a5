package checks

import (
	"fmt"
	"strings"
)

// GenericParser is the fallback parser that captures exit code and actual output.
type GenericParser struct{}

// maxOutputLen caps how much stdout/stderr the generic parser retains in findings.
const maxOutputLen = 8000

func (p *GenericParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	passed := exitCode == 0
	summary := fmt.Sprintf("exit code %d, stdout=%d bytes, stderr=%d bytes", exitCode, len(stdout), len(stderr))
	if passed {
		return ParseResult{Passed: true, Summary: "passed (exit code 0)", Findings: ""}
	}

	combined := joinOutput(stdout, stderr)
	// Keep the tail; error summaries and tracebacks are usually at the end.
	if len(combined) > maxOutputLen {
		combined = "…(truncated)\n" + combined[len(combined)-maxOutputLen:]
	}
	return ParseResult{
		Passed:   false,
		Summary:  summary,
		Findings: combined,
		Messages: tailLines(stdout, stderr, 30),
	}
}

func joinOutput(stdout, stderr string) string {
	combined := stdout
	if stderr != "" {
		if combined != "" && !strings.HasSuffix(combined, "\n") {
			combined += "\n"
		}
		combined += stderr
	}
	return combined
}

// tailLines returns the last n non-blank lines of the combined output.
func tailLines(stdout, stderr string, n int) []string {
	var lines []string
	for _, l := range strings.Split(joinOutput(stdout, stderr), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, strings.TrimRight(l, "\r"))
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
