package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/lucasnoah/issuefactory/internal/llm"
	"github.com/lucasnoah/issuefactory/internal/pipeline"
	"github.com/lucasnoah/issuefactory/internal/prompt"
	"github.com/lucasnoah/issuefactory/internal/worktree"
)

// Defaults for Config.
const (
	DefaultMaxCandidates = 30
	DefaultFormatRetries = 2

	// NoRetries disables format retries.
	NoRetries = -1
)

// Config tunes the planner. Zero values select the defaults.
type Config struct {
	MaxCandidates int
	// FormatRetries is how often an unparseable answer is asked for again;
	// NoRetries (or any negative value) turns that off.
	FormatRetries     int
	InferMissingTests bool
}

// Planner picks the files a change should touch.
type Planner struct {
	model   llm.Model
	prompts *prompt.Library
	cfg     Config
	logger  *slog.Logger
}

// New creates a Planner.
func New(model llm.Model, prompts *prompt.Library, cfg Config, logger *slog.Logger) *Planner {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	switch {
	case cfg.FormatRetries == 0:
		cfg.FormatRetries = DefaultFormatRetries
	case cfg.FormatRetries < 0:
		cfg.FormatRetries = 0
	}
	if prompts == nil {
		prompts = prompt.NewLibrary("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{model: model, prompts: prompts, cfg: cfg, logger: logger}
}

// modelPlan is the JSON shape the model is asked for.
type modelPlan struct {
	SourceFiles    []string `json:"source_files"`
	RelevantFiles  []string `json:"relevant_files"`
	TestFiles      []string `json:"test_files"`
	Rationale      string   `json:"rationale"`
	TestGeneration bool     `json:"is_test_generation_issue"`
}

// Plan extracts keywords, searches tree for candidates and asks the model
// to classify them. Failures are *pipeline.PlanningError; an empty result
// wraps pipeline.ErrNoActionableFiles.
func (p *Planner) Plan(ctx context.Context, issue *pipeline.IssueRecord, pc *pipeline.ProjectContext, tree *worktree.Tree) (*pipeline.Plan, error) {
	kw := ExtractKeywords(issue.Text)
	p.logger.Info("keywords extracted", "files", kw.Files, "terms", kw.Terms)

	cands, err := FindCandidates(tree, kw, p.cfg.MaxCandidates)
	if err != nil {
		return nil, &pipeline.PlanningError{Reason: "search repository", Err: err}
	}
	if len(cands) == 0 {
		p.logger.Warn("no candidate files matched the issue")
		return nil, pipeline.NoActionableFiles("no repository files matched the issue keywords")
	}
	paths := make([]string, len(cands))
	for i, c := range cands {
		paths[i] = c.Path
	}
	p.logger.Info("candidates found", "count", len(cands), "top", paths[0])

	mp, err := p.classify(ctx, issue, pc, cands)
	if err != nil {
		return nil, err
	}

	plan := normalize(mp, tree, paths, p.logger)
	plan.Keywords = kw.All()
	plan.Candidates = paths
	if p.cfg.InferMissingTests && len(plan.TestFiles) == 0 && len(plan.SourceFiles) > 0 {
		if tp := inferTestPath(tree, plan.SourceFiles[0]); tp != "" {
			plan.TestFiles = append(plan.TestFiles, tp)
			if !tree.Exists(tp) {
				plan.NewTestFiles = append(plan.NewTestFiles, tp)
			}
			p.logger.Info("inferred test file", "path", tp)
		}
	}

	if len(plan.SourceFiles) == 0 && len(plan.TestFiles) == 0 {
		return nil, pipeline.NoActionableFiles("model selected no source or test files")
	}
	p.logger.Info("plan ready",
		"source_files", plan.SourceFiles,
		"test_files", plan.TestFiles,
		"relevant_files", plan.RelevantFiles,
		"new_test_files", plan.NewTestFiles)
	return plan, nil
}

func (p *Planner) classify(ctx context.Context, issue *pipeline.IssueRecord, pc *pipeline.ProjectContext, cands []Candidate) (*modelPlan, error) {
	vars := prompt.Vars{
		"issue":       issue.Text,
		"language":    orUnknown(pc.Language),
		"framework":   pc.Framework,
		"description": pc.Description,
		"candidates":  candidateList(cands),
	}
	system, err := p.prompts.Render(prompt.SystemTemplate, prompt.Vars{})
	if err != nil {
		return nil, &pipeline.PlanningError{Reason: "build prompt", Err: err}
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.FormatRetries; attempt++ {
		if lastErr != nil {
			vars["parse_error"] = lastErr.Error()
		}
		user, err := p.prompts.Render(prompt.PlanTemplate, vars)
		if err != nil {
			return nil, &pipeline.PlanningError{Reason: "build prompt", Err: err}
		}
		out, err := p.model.Generate(ctx, llm.Request{Purpose: "plan", System: system, User: user, JSON: true})
		if err != nil {
			return nil, &pipeline.PlanningError{Reason: "model call", Err: err}
		}
		mp, err := parsePlan(out)
		if err == nil {
			return mp, nil
		}
		lastErr = err
		p.logger.Warn("plan output unparseable", "attempt", attempt+1, "error", err, "raw", truncate(out, 500))
	}
	return nil, &pipeline.PlanningError{Reason: fmt.Sprintf("model output unparseable after %d attempts", p.cfg.FormatRetries+1), Err: lastErr}
}

func parsePlan(out string) (*modelPlan, error) {
	js := llm.ExtractJSON(out)
	if js == "" {
		return nil, errors.New("no JSON object in reply")
	}
	var mp modelPlan
	if err := json.Unmarshal([]byte(js), &mp); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return &mp, nil
}

// normalize enforces the plan invariants: clean relative paths, existing
// source and relevant files, tests either existing or flagged new. Test
// looking paths are always classified as tests.
func normalize(mp *modelPlan, tree *worktree.Tree, cands []string, logger *slog.Logger) *pipeline.Plan {
	plan := &pipeline.Plan{Rationale: strings.TrimSpace(mp.Rationale), TestGeneration: mp.TestGeneration}
	seen := map[string]bool{}
	add := func(list *[]string, p string) {
		if !seen[p] {
			seen[p] = true
			*list = append(*list, p)
		}
	}

	var sources, tests []string
	for _, raw := range mp.SourceFiles {
		if pipeline.IsTestPath(raw) {
			tests = append(tests, raw)
		} else {
			sources = append(sources, raw)
		}
	}
	for _, raw := range mp.TestFiles {
		if pipeline.IsTestPath(raw) {
			tests = append(tests, raw)
		} else {
			sources = append(sources, raw)
		}
	}

	for _, raw := range sources {
		if p := resolve(tree, cands, raw); p != "" {
			add(&plan.SourceFiles, p)
		} else {
			logger.Warn("dropping unknown source file", "path", raw)
		}
	}
	for _, raw := range tests {
		if p := resolve(tree, cands, raw); p != "" {
			add(&plan.TestFiles, p)
			continue
		}
		p, err := worktree.Clean(raw)
		if err != nil {
			logger.Warn("dropping invalid test path", "path", raw, "error", err)
			continue
		}
		if !strings.Contains(p, "/") {
			p = path.Join(testDir(tree), p)
		}
		if seen[p] {
			continue
		}
		add(&plan.TestFiles, p)
		if !tree.Exists(p) {
			plan.NewTestFiles = append(plan.NewTestFiles, p)
		}
	}
	for _, raw := range mp.RelevantFiles {
		if p := resolve(tree, cands, raw); p != "" {
			add(&plan.RelevantFiles, p)
		}
	}
	return plan
}

// resolve maps a model-supplied path onto an existing file: exact match,
// or the unique candidate (then repository file) ending in that path.
func resolve(tree *worktree.Tree, cands []string, raw string) string {
	p, err := worktree.Clean(raw)
	if err != nil {
		return ""
	}
	if tree.Exists(p) {
		return p
	}
	if m := uniqueSuffix(cands, p); m != "" {
		return m
	}
	files, err := tree.ListFiles()
	if err != nil {
		return ""
	}
	return uniqueSuffix(files, p)
}

func uniqueSuffix(paths []string, p string) string {
	var match string
	for _, c := range paths {
		if strings.HasSuffix(c, "/"+p) {
			if match != "" {
				return ""
			}
			match = c
		}
	}
	return match
}

// testDir is where bare new test file names are placed.
func testDir(tree *worktree.Tree) string {
	for _, d := range []string{"tests", "test"} {
		abs, err := tree.Abs(d)
		if err != nil {
			continue
		}
		if isDir(abs) {
			return d
		}
	}
	return "tests"
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// inferTestPath proposes the conventional test file for a source file.
func inferTestPath(tree *worktree.Tree, src string) string {
	ext := path.Ext(src)
	st := strings.TrimSuffix(path.Base(src), ext)
	dir := path.Dir(src)
	switch ext {
	case ".go":
		return path.Join(dir, st+"_test.go")
	case ".js", ".jsx", ".ts", ".tsx":
		return path.Join(dir, st+".test"+ext)
	case ".py":
		return path.Join(testDir(tree), "test_"+st+ext)
	case "":
		return ""
	default:
		return path.Join(testDir(tree), "test_"+st+ext)
	}
}

func candidateList(cands []Candidate) string {
	var sb strings.Builder
	for _, c := range cands {
		sb.WriteString("- ")
		sb.WriteString(c.Path)
		if c.Test {
			sb.WriteString(" (test)")
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
