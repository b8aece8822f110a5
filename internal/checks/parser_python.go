package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RuffParser parses `ruff check` concise output.
type RuffParser struct{}

type ruffFinding struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// price_utils.py:12:5: F821 Undefined name `discount`
var ruffLineRe = regexp.MustCompile(`^(.+?):(\d+):(\d+):\s+([A-Z]+[0-9]+)\s+(.+)$`)

// ruff's full format prints the location on its own line: --> price_utils.py:12:5
var ruffArrowRe = regexp.MustCompile(`^\s*-->\s+(.+?):(\d+):(\d+)`)

func (p *RuffParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var findings []ruffFinding
	var messages []string

	for _, line := range strings.Split(stdout+"\n"+stderr, "\n") {
		line = strings.TrimRight(line, "\r")
		if m := ruffLineRe.FindStringSubmatch(line); m != nil {
			ln, _ := strconv.Atoi(m[2])
			col, _ := strconv.Atoi(m[3])
			findings = append(findings, ruffFinding{File: m[1], Line: ln, Column: col, Code: m[4], Message: m[5]})
			messages = append(messages, strings.TrimSpace(line))
			continue
		}
		if m := ruffArrowRe.FindStringSubmatch(line); m != nil {
			messages = append(messages, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-->")))
		}
	}

	passed := exitCode == 0
	summary := "no lint errors"
	if !passed {
		summary = fmt.Sprintf("%d lint errors", len(findings))
		if len(messages) == 0 {
			messages = tailLines(stdout, stderr, 20)
		}
	}
	return ParseResult{
		Passed:   passed,
		Summary:  summary,
		Findings: findings,
		Messages: capMessages(messages),
	}
}

// PytestParser parses pytest's short test summary.
type PytestParser struct{}

type pytestFailure struct {
	Test  string `json:"test"`
	File  string `json:"file"`
	Error string `json:"error"`
}

type pytestResult struct {
	Passed   int             `json:"passed"`
	Failed   int             `json:"failed"`
	Errors   int             `json:"errors"`
	Skipped  int             `json:"skipped"`
	Failures []pytestFailure `json:"failures"`
}

// FAILED tests/test_price.py::test_discount - AssertionError: assert 90 == 80
var pytestFailedRe = regexp.MustCompile(`^(FAILED|ERROR)\s+(\S+?)(?:::(\S+))?(?:\s+-\s+(.*))?$`)

// tests/test_price.py:14: AssertionError
var pytestLocRe = regexp.MustCompile(`^(\S+\.py):(\d+):\s+(\w+.*)$`)

var pytestCountRe = regexp.MustCompile(`(\d+)\s+(passed|failed|errors?|skipped)`)

func (p *PytestParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var result pytestResult
	var messages []string

	lines := strings.Split(stdout+"\n"+stderr, "\n")
	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		if m := pytestFailedRe.FindStringSubmatch(line); m != nil {
			result.Failures = append(result.Failures, pytestFailure{Test: m[3], File: m[2], Error: m[4]})
			messages = append(messages, line)
			continue
		}
		if m := pytestLocRe.FindStringSubmatch(line); m != nil {
			messages = append(messages, line)
			continue
		}
		if strings.HasPrefix(line, "E   ") {
			messages = append(messages, strings.TrimSpace(line[1:]))
		}
	}

	// The final "=== 1 failed, 3 passed in 0.12s ===" line carries the counts.
	for i := len(lines) - 1; i >= 0; i-- {
		matches := pytestCountRe.FindAllStringSubmatch(lines[i], -1)
		if len(matches) == 0 {
			continue
		}
		for _, m := range matches {
			n, _ := strconv.Atoi(m[1])
			switch m[2] {
			case "passed":
				result.Passed = n
			case "failed":
				result.Failed = n
			case "error", "errors":
				result.Errors = n
			case "skipped":
				result.Skipped = n
			}
		}
		break
	}

	// Exit code 5 means no tests were collected.
	passed := exitCode == 0 || (exitCode == 5 && result.Failed == 0 && result.Errors == 0)
	summary := fmt.Sprintf("%d passed, %d failed, %d errors, %d skipped", result.Passed, result.Failed, result.Errors, result.Skipped)
	if !passed && len(messages) == 0 {
		messages = tailLines(stdout, stderr, 30)
	}
	return ParseResult{
		Passed:   passed,
		Summary:  summary,
		Findings: result,
		Messages: capMessages(messages),
	}
}
