package issue

import (
	"regexp"
	"strings"
)

var (
	htmlCommentRe  = regexp.MustCompile(`(?s)<!--.*?-->`)
	imageRe        = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkRe         = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	headingRe      = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+`)
	checkboxMarkRe = regexp.MustCompile(`(?m)^([ \t]*)[-*+][ \t]+\[[ xX]\][ \t]+`)
	bulletRe       = regexp.MustCompile(`(?m)^([ \t]*)[*+][ \t]+`)
	boldRe         = regexp.MustCompile(`\*\*([^*\n]+)\*\*|__([^_\n]+)__`)
	fenceRe        = regexp.MustCompile("(?m)^[ \t]*```[a-zA-Z0-9_+-]*[ \t]*$\n?")
	blankRunRe     = regexp.MustCompile(`\n{3,}`)
)

// StripMarkdown removes presentation markup from an issue body. Inline
// code spans and quoted text are kept as-is because they carry the
// identifiers planning searches for.
func StripMarkdown(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = htmlCommentRe.ReplaceAllString(s, "")
	s = fenceRe.ReplaceAllString(s, "")
	s = imageRe.ReplaceAllString(s, "$1")
	s = linkRe.ReplaceAllString(s, "$1")
	s = headingRe.ReplaceAllString(s, "")
	s = checkboxMarkRe.ReplaceAllString(s, "$1- ")
	s = bulletRe.ReplaceAllString(s, "$1- ")
	s = boldRe.ReplaceAllString(s, "$1$2")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
