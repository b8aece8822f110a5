package checks

import (
	"fmt"
	"regexp"
	"strings"
)

// GoParser parses `go vet` and `go test` output.
type GoParser struct{}

type goResult struct {
	FailedTests []string `json:"failed_tests"`
	Diagnostics []string `json:"diagnostics"`
}

var (
	goFailRe = regexp.MustCompile(`^\s*--- FAIL: (\S+)`)
	goDiagRe = regexp.MustCompile(`^\s*(?:\./)?(\S+\.go):(\d+)(?::(\d+))?:\s+(.+)$`)
)

func (p *GoParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var result goResult
	var messages []string
	for _, line := range strings.Split(stdout+"\n"+stderr, "\n") {
		if m := goFailRe.FindStringSubmatch(line); m != nil {
			result.FailedTests = append(result.FailedTests, m[1])
			messages = append(messages, strings.TrimSpace(line))
			continue
		}
		if goDiagRe.MatchString(line) {
			d := strings.TrimSpace(line)
			result.Diagnostics = append(result.Diagnostics, d)
			messages = append(messages, d)
		}
	}

	passed := exitCode == 0
	summary := "ok"
	if !passed {
		summary = fmt.Sprintf("%d failed tests, %d diagnostics", len(result.FailedTests), len(result.Diagnostics))
		if len(messages) == 0 {
			messages = tailLines(stdout, stderr, 30)
		}
	}
	return ParseResult{
		Passed:   passed,
		Summary:  summary,
		Findings: result,
		Messages: capMessages(messages),
	}
}
