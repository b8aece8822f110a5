package planner

import (
	"os"
	"path"
	"sort"
	"strings"

	"github.com/lucasnoah/issuefactory/internal/pipeline"
	"github.com/lucasnoah/issuefactory/internal/worktree"
)

// maxSearchBytes skips large files during content search.
const maxSearchBytes = 256 * 1024

const (
	scoreMentioned   = 1000
	scoreMentionTest = 500
	scoreName        = 50
	scoreContent     = 10
)

// Candidate is a file found by the keyword search.
type Candidate struct {
	Path    string   `json:"path"`
	Score   int      `json:"score"`
	Test    bool     `json:"test,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
}

// FindCandidates searches file names and contents of tree for kw and
// returns at most limit files, best first. Mentioned files rank first,
// then tests named after a mentioned file, then name and content matches.
func FindCandidates(tree *worktree.Tree, kw Keywords, limit int) ([]Candidate, error) {
	files, err := tree.ListFiles()
	if err != nil {
		return nil, err
	}

	byPath := map[string]*Candidate{}
	hit := func(p string, score int, reason string) {
		c, ok := byPath[p]
		if !ok {
			c = &Candidate{Path: p, Test: pipeline.IsTestPath(p)}
			byPath[p] = c
		}
		c.Score += score
		c.Reasons = append(c.Reasons, reason)
	}

	var mentionedStems []string
	for _, f := range kw.Files {
		want := strings.ToLower(f)
		for _, p := range files {
			lp := strings.ToLower(p)
			if lp == want || strings.HasSuffix(lp, "/"+want) || (!strings.Contains(want, "/") && path.Base(lp) == path.Base(want)) {
				hit(p, scoreMentioned, "mentioned "+f)
				mentionedStems = append(mentionedStems, stem(p))
			}
		}
	}

	for _, p := range files {
		if !pipeline.IsTestPath(p) {
			continue
		}
		s := strings.ToLower(stem(p))
		for _, ms := range mentionedStems {
			if ms != "" && !pipeline.IsTestPath(ms) && strings.Contains(s, strings.ToLower(ms)) {
				hit(p, scoreMentionTest, "tests "+ms)
				break
			}
		}
	}

	for _, p := range files {
		if !sourceExts[strings.ToLower(path.Ext(p))] {
			continue
		}
		base := strings.ToLower(path.Base(p))
		st := strings.ToLower(stem(p))
		for _, t := range kw.Terms {
			lt := strings.ToLower(t)
			if strings.Contains(base, lt) || (len(st) >= 4 && strings.Contains(lt, st)) {
				hit(p, scoreName, "name ~ "+t)
			}
		}

		content := readSmall(tree, p)
		if content == "" {
			continue
		}
		for _, t := range kw.Terms {
			if n := strings.Count(content, t); n > 0 {
				if n > 5 {
					n = 5
				}
				hit(p, scoreContent+n, "contains "+t)
			}
		}
	}

	out := make([]Candidate, 0, len(byPath))
	for _, c := range byPath {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Path < out[j].Path
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func readSmall(tree *worktree.Tree, p string) string {
	abs, err := tree.Abs(p)
	if err != nil {
		return ""
	}
	info, err := os.Stat(abs)
	if err != nil || info.Size() > maxSearchBytes {
		return ""
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return ""
	}
	return string(data)
}

func stem(p string) string {
	b := path.Base(p)
	return strings.TrimSuffix(b, path.Ext(b))
}
