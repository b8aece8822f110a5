package planner

import (
	"regexp"
	"strings"
)

// sourceExts are the file extensions treated as code when searching.
var sourceExts = map[string]bool{
	".py": true, ".pyi": true,
	".js": true, ".jsx": true, ".mjs": true, ".cjs": true,
	".ts": true, ".tsx": true,
	".go": true, ".rs": true,
	".java": true, ".kt": true, ".scala": true,
	".rb": true, ".php": true, ".cs": true, ".swift": true,
	".c": true, ".h": true, ".cc": true, ".cpp": true, ".hpp": true,
	".vue": true, ".svelte": true,
	".sh": true, ".sql": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".html": true, ".css": true, ".scss": true,
}

var (
	fileRe     = regexp.MustCompile(`[A-Za-z0-9_./-]*[A-Za-z0-9_-]\.(?:pyi?|jsx?|mjs|cjs|tsx?|go|rs|java|kt|scala|rb|php|cs|swift|cc|cpp|hpp|[ch]|vue|svelte|sh|sql|json|ya?ml|toml|html|s?css)\b`)
	backtickRe = regexp.MustCompile("`([^`\n]{2,80})`")
	quotedRe   = regexp.MustCompile(`"([^"\n]{2,60})"|'([^'\n]{2,60})'`)
	funcRe     = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\(`)
	camelRe    = regexp.MustCompile(`\b(?:[A-Z][a-z0-9]+(?:[A-Z][a-z0-9]*)+|[a-z][a-z0-9]*(?:[A-Z][a-z0-9]*)+)\b`)
	snakeRe    = regexp.MustCompile(`\b[A-Za-z][A-Za-z0-9]*(?:_[A-Za-z0-9]+)+\b`)
	identRe    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "this": true, "that": true,
	"from": true, "when": true, "should": true, "would": true, "could": true, "into": true,
	"not": true, "but": true, "are": true, "was": true, "have": true, "has": true,
	"file": true, "files": true, "function": true, "method": true, "class": true,
	"issue": true, "error": true, "errors": true, "bug": true, "fix": true, "test": true,
	"tests": true, "code": true, "value": true, "values": true, "return": true,
	"returns": true, "true": true, "false": true, "none": true, "null": true,
	"print": true, "self": true, "len": true, "str": true, "int": true, "list": true,
	"dict": true, "float": true, "if": true, "for_each": true, "assert": true,
}

// Keywords holds the lexical search terms found in an issue.
type Keywords struct {
	// Files are file names or paths mentioned verbatim.
	Files []string
	// Terms are identifiers and quoted strings, in order of appearance.
	Terms []string
}

// All returns files followed by terms.
func (k Keywords) All() []string {
	return append(append([]string(nil), k.Files...), k.Terms...)
}

// ExtractKeywords derives search terms from issue text with regular
// expressions only.
func ExtractKeywords(text string) Keywords {
	var kw Keywords
	seen := map[string]bool{}
	addTerm := func(t string) {
		t = strings.Trim(strings.TrimSpace(t), ".,;:()[]{}")
		key := strings.ToLower(t)
		if len(t) < 3 || stopwords[key] || seen[key] {
			return
		}
		seen[key] = true
		kw.Terms = append(kw.Terms, t)
	}

	for _, f := range fileRe.FindAllString(text, -1) {
		f = strings.Trim(f, "./")
		key := strings.ToLower(f)
		if f == "" || seen[key] {
			continue
		}
		seen[key] = true
		kw.Files = append(kw.Files, f)
	}

	for _, m := range backtickRe.FindAllStringSubmatch(text, -1) {
		inner := strings.TrimSpace(m[1])
		if identRe.MatchString(inner) {
			addTerm(inner)
		}
		for _, f := range funcRe.FindAllStringSubmatch(inner, -1) {
			addTerm(f[1])
		}
	}
	for _, m := range quotedRe.FindAllStringSubmatch(text, -1) {
		// Single quotes are often apostrophes, so only identifiers count there.
		switch {
		case identRe.MatchString(m[1] + m[2]):
			addTerm(m[1] + m[2])
		case m[1] != "" && len(m[1]) >= 6:
			addTerm(m[1])
		}
	}
	for _, m := range funcRe.FindAllStringSubmatch(text, -1) {
		addTerm(m[1])
	}
	for _, m := range camelRe.FindAllString(text, -1) {
		addTerm(m)
	}
	for _, m := range snakeRe.FindAllString(text, -1) {
		addTerm(m)
	}
	return kw
}
