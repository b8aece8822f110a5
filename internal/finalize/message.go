package finalize

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/lucasnoah/issuefactory/internal/issue"
	"github.com/lucasnoah/issuefactory/internal/pipeline"
)

const maxHeaderRunes = 72

var commitTypes = []struct {
	typ string
	re  *regexp.Regexp
}{
	{"fix", regexp.MustCompile(`(?i)\b(bug|fix(es|ed)?|error|crash(es)?|wrong|broken|incorrect(ly)?|fail(s|ing|ure)?|exception|regression|twice)\b`)},
	{"refactor", regexp.MustCompile(`(?i)\b(refactor|rename|clean ?up|simplify|extract)\b`)},
	{"perf", regexp.MustCompile(`(?i)\b(slow|performance|speed up|faster)\b`)},
	{"docs", regexp.MustCompile(`(?i)\b(docs?|documentation|docstring|readme)\b`)},
	{"feat", regexp.MustCompile(`(?i)\b(add|implement|support|new|feature|allow|introduce)\b`)},
}

// CommitType picks the conventional-commit type for a change.
func CommitType(is *pipeline.IssueRecord, plan *pipeline.Plan) string {
	if plan != nil && (plan.TestGeneration || len(plan.SourceFiles) == 0) {
		return "test"
	}
	for _, ct := range commitTypes {
		if ct.re.MatchString(is.Text) {
			return ct.typ
		}
	}
	return "fix"
}

// Scope is the stem of the primary file of the change.
func Scope(plan *pipeline.Plan) string {
	if plan == nil {
		return ""
	}
	if len(plan.SourceFiles) > 0 {
		return stem(plan.SourceFiles[0])
	}
	if len(plan.TestFiles) > 0 {
		s := stem(plan.TestFiles[0])
		s = strings.TrimPrefix(s, "test_")
		for _, suffix := range []string{"_test", ".test", "_spec", ".spec"} {
			s = strings.TrimSuffix(s, suffix)
		}
		return s
	}
	return ""
}

// CommitMessage builds a conventional-commit message from the issue and
// plan. The header never exceeds 72 characters.
func CommitMessage(is *pipeline.IssueRecord, plan *pipeline.Plan) string {
	header := CommitType(is, plan)
	if sc := Scope(plan); sc != "" {
		header += "(" + sc + ")"
	}
	header += ": "
	header += clip(subject(is), maxHeaderRunes-len([]rune(header)))

	var body []string
	if plan != nil && plan.Rationale != "" {
		body = append(body, wrap(plan.Rationale, maxHeaderRunes))
	}
	if is.Number > 0 {
		body = append(body, fmt.Sprintf("Refs #%d", is.Number))
	}
	if len(body) == 0 {
		return header
	}
	return header + "\n\n" + strings.Join(body, "\n\n")
}

func subject(is *pipeline.IssueRecord) string {
	s := is.Title
	if s == "" {
		s = issue.TitleOf(is.Text)
	}
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, ".!:; ")
	if s == "" {
		return "apply automated change"
	}
	r := []rune(s)
	// Lower-case the first word unless it looks like an identifier.
	if len(r) > 1 && r[0] >= 'A' && r[0] <= 'Z' && r[1] >= 'a' && r[1] <= 'z' {
		r[0] += 'a' - 'A'
	}
	return string(r)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:max(n, 0)])
	}
	cut := string(r[:n-3])
	if i := strings.LastIndexByte(cut, ' '); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:") + "..."
}

func wrap(text string, width int) string {
	var lines []string
	var line string
	for _, w := range strings.Fields(text) {
		switch {
		case line == "":
			line = w
		case len(line)+1+len(w) > width:
			lines = append(lines, line)
			line = w
		default:
			line += " " + w
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func stem(p string) string {
	b := path.Base(p)
	return strings.TrimSuffix(b, path.Ext(b))
}
