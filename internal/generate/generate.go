// Package generate asks the model for the full new content of every file
// in a plan and feeds quality gate failures back into it.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/lucasnoah/issuefactory/internal/checks"
	"github.com/lucasnoah/issuefactory/internal/llm"
	"github.com/lucasnoah/issuefactory/internal/pipeline"
	"github.com/lucasnoah/issuefactory/internal/prompt"
	"github.com/lucasnoah/issuefactory/internal/worktree"
)

// Defaults for Config.
const (
	DefaultFileTokens        = 12000
	DefaultContextTokens     = 6000
	DefaultFormatRetries     = 1
	DefaultConventionSamples = 1
)

// NoRetries disables format retries.
const NoRetries = -1

// ErrUnusableOutput is wrapped in a GenerationError when the model kept
// answering with something that is not file content.
var ErrUnusableOutput = errors.New("model output is not usable file content")

// Config tunes prompt budgets and retries.
type Config struct {
	// FileTokens caps the current content of the file being edited.
	FileTokens int
	// ContextTokens caps read-only context (relevant files, code under
	// test, sampled tests), shared across all of it.
	ContextTokens int
	// FormatRetries defaults to DefaultFormatRetries when zero; NoRetries
	// turns retries off.
	FormatRetries     int
	ConventionSamples int
}

// Generator produces file contents with a model.
type Generator struct {
	model   llm.Model
	prompts *prompt.Library
	tokens  *llm.TokenCounter
	cfg     Config
	logger  *slog.Logger
}

// New creates a Generator. A nil counter gets a fresh one.
func New(model llm.Model, prompts *prompt.Library, tokens *llm.TokenCounter, cfg Config, logger *slog.Logger) *Generator {
	if cfg.FileTokens <= 0 {
		cfg.FileTokens = DefaultFileTokens
	}
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = DefaultContextTokens
	}
	switch {
	case cfg.FormatRetries == 0:
		cfg.FormatRetries = DefaultFormatRetries
	case cfg.FormatRetries < 0:
		cfg.FormatRetries = 0
	}
	if cfg.ConventionSamples <= 0 {
		cfg.ConventionSamples = DefaultConventionSamples
	}
	if prompts == nil {
		prompts = prompt.NewLibrary("")
	}
	if tokens == nil {
		tokens = llm.NewTokenCounter()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{model: model, prompts: prompts, tokens: tokens, cfg: cfg, logger: logger}
}

// Session binds a Generator to one run's issue, plan and working tree.
// It implements checks.Regenerator.
type Session struct {
	g     *Generator
	issue *pipeline.IssueRecord
	pc    *pipeline.ProjectContext
	plan  *pipeline.Plan
	tree  *worktree.Tree
}

var _ checks.Regenerator = (*Session)(nil)

// Bind returns a Session for one run.
func (g *Generator) Bind(issue *pipeline.IssueRecord, pc *pipeline.ProjectContext, plan *pipeline.Plan, tree *worktree.Tree) *Session {
	if pc == nil {
		pc = &pipeline.ProjectContext{}
	}
	return &Session{g: g, issue: issue, pc: pc, plan: plan, tree: tree}
}

// Generate produces content for every source file, then every test file.
// The returned set has exactly the plan's source and test paths.
func (s *Session) Generate(ctx context.Context) (*pipeline.CodeChangeSet, error) {
	changes := pipeline.NewCodeChangeSet()
	for _, p := range s.plan.SourceFiles {
		if err := s.generateInto(ctx, changes, p, ""); err != nil {
			return nil, err
		}
	}
	for _, p := range s.plan.TestFiles {
		if err := s.generateInto(ctx, changes, p, ""); err != nil {
			return nil, err
		}
	}
	s.g.logger.Info("change set generated", "files", changes.Paths(), "created", createdPaths(changes))
	return changes, nil
}

// Regenerate rewrites the files named in fb with the failure text in the
// prompt. Paths outside the plan are ignored. The returned set holds only
// the regenerated paths.
func (s *Session) Regenerate(ctx context.Context, fb checks.Feedback, current *pipeline.CodeChangeSet) (*pipeline.CodeChangeSet, error) {
	work := current.Clone()
	if work == nil {
		work = pipeline.NewCodeChangeSet()
	}
	out := pipeline.NewCodeChangeSet()
	text := fb.Text()
	for _, p := range fb.Files {
		if s.plan.Category(p) != pipeline.CategorySource && s.plan.Category(p) != pipeline.CategoryTest {
			s.g.logger.Warn("feedback names a file outside the plan", "path", p)
			continue
		}
		if err := s.generateInto(ctx, work, p, text); err != nil {
			return nil, err
		}
		out.Set(p, work.Files[p], work.Created[p])
	}
	s.g.logger.Info("files regenerated", "check", fb.Check, "attempt", fb.Attempt, "files", out.Paths())
	return out, nil
}

// generateInto asks for one file and stores the result in changes.
func (s *Session) generateInto(ctx context.Context, changes *pipeline.CodeChangeSet, p, feedback string) error {
	isTest := s.plan.Category(p) == pipeline.CategoryTest
	current, exists := changes.Files[p]
	created := changes.Created[p]
	if !exists {
		if s.tree.Exists(p) {
			c, err := s.tree.Read(p)
			if err != nil {
				return &pipeline.GenerationError{Path: p, Err: err}
			}
			current = c
		} else {
			created = true
		}
	}
	created = created || s.plan.IsNewTest(p)

	vars, err := s.vars(changes, p, current, created, isTest)
	if err != nil {
		return &pipeline.GenerationError{Path: p, Err: err}
	}
	if feedback != "" {
		vars["feedback"] = feedback
	}

	content, err := s.g.ask(ctx, p, isTest, vars)
	if err != nil {
		return err
	}
	changes.Set(p, content, created)
	return nil
}

func (s *Session) vars(changes *pipeline.CodeChangeSet, p, current string, created, isTest bool) (prompt.Vars, error) {
	g := s.g
	vars := prompt.Vars{
		"path":      p,
		"language":  orUnknown(s.pc.Language),
		"issue":     s.issue.Text,
		"rationale": s.plan.Rationale,
	}
	if created && current == "" {
		vars["is_new"] = "true"
	} else {
		cut, truncated := g.tokens.Truncate(current, g.cfg.FileTokens)
		if truncated {
			g.logger.Warn("file content truncated for prompt", "path", p, "limit_tokens", g.cfg.FileTokens)
		}
		vars["content"] = cut
	}

	budget := g.cfg.ContextTokens
	if !isTest {
		vars["context"] = s.section(s.plan.RelevantFiles, nil, &budget)
		return vars, nil
	}

	sources := s.section(s.plan.SourceFiles, changes, &budget)
	if sources == "" {
		// Tests for an untouched module: show the relevant files instead.
		sources = s.section(s.plan.RelevantFiles, nil, &budget)
	}
	if sources == "" {
		sources = "(no source files in this change)"
	}
	vars["sources"] = sources
	vars["conventions"] = s.section(s.conventionSamples(p), nil, &budget)
	if s.plan.TestGeneration {
		vars["test_only"] = "true"
	}
	return vars, nil
}

// section renders files as fenced blocks until budget tokens are used.
// Content comes from changes when present, else from the tree.
func (s *Session) section(paths []string, changes *pipeline.CodeChangeSet, budget *int) string {
	var sb strings.Builder
	for _, p := range paths {
		if *budget <= 0 {
			s.g.logger.Warn("context budget exhausted", "skipped", p)
			break
		}
		content, ok := "", false
		if changes != nil {
			content, ok = changes.Files[p]
		}
		if !ok {
			c, err := s.tree.Read(p)
			if err != nil {
				continue
			}
			content = c
		}
		cut, truncated := s.g.tokens.Truncate(content, *budget)
		*budget -= s.g.tokens.Count(cut)
		fmt.Fprintf(&sb, "### %s\n```\n%s", p, cut)
		if !strings.HasSuffix(cut, "\n") {
			sb.WriteByte('\n')
		}
		if truncated {
			sb.WriteString("... (truncated)\n")
		}
		sb.WriteString("```\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// conventionSamples picks existing test files other than target, preferring
// ones in the plan, then ones with the same extension.
func (s *Session) conventionSamples(target string) []string {
	n := s.g.cfg.ConventionSamples
	var out []string
	for _, p := range s.plan.TestFiles {
		if len(out) == n {
			return out
		}
		if p != target && s.tree.Exists(p) {
			out = append(out, p)
		}
	}
	files, err := s.tree.ListFiles()
	if err != nil {
		return out
	}
	ext := path.Ext(target)
	for _, p := range files {
		if len(out) == n {
			break
		}
		if p == target || path.Ext(p) != ext || !pipeline.IsTestPath(p) || contains(out, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ask renders the prompt, calls the model and retries unusable output.
func (g *Generator) ask(ctx context.Context, p string, isTest bool, vars prompt.Vars) (string, error) {
	tmpl, purpose := prompt.SourceTemplate, "source"
	if isTest {
		tmpl, purpose = prompt.TestTemplate, "test"
	}
	system, err := g.prompts.Render(prompt.SystemTemplate, prompt.Vars{})
	if err != nil {
		return "", &pipeline.GenerationError{Path: p, Err: err}
	}

	for attempt := 0; attempt <= g.cfg.FormatRetries; attempt++ {
		if attempt > 0 {
			vars["format_retry"] = "true"
		}
		user, err := g.prompts.Render(tmpl, vars)
		if err != nil {
			return "", &pipeline.GenerationError{Path: p, Err: err}
		}
		out, err := g.model.Generate(ctx, llm.Request{Purpose: purpose, System: system, User: user})
		if err != nil {
			return "", &pipeline.GenerationError{Path: p, Err: err}
		}
		if content, ok := Clean(out); ok {
			g.logger.Info("file generated", "path", p, "purpose", purpose, "bytes", len(content), "attempt", attempt+1)
			return content, nil
		}
		g.logger.Warn("unusable model output", "path", p, "attempt", attempt+1, "preview", preview(out))
	}
	return "", &pipeline.GenerationError{Path: p, Err: ErrUnusableOutput}
}

var refusalPrefixes = []string{
	"i'm sorry", "i am sorry", "i cannot", "i can't", "as an ai",
	"here is", "here's", "sure,", "sure!", "certainly",
}

// Clean strips a surrounding code fence and normalizes the trailing
// newline. It reports false for empty output or a conversational reply.
func Clean(out string) (string, bool) {
	content := llm.StripFences(out)
	if content == "" {
		return "", false
	}
	first := strings.ToLower(strings.SplitN(content, "\n", 2)[0])
	for _, prefix := range refusalPrefixes {
		if strings.HasPrefix(first, prefix) {
			return "", false
		}
	}
	return content + "\n", true
}

func createdPaths(c *pipeline.CodeChangeSet) []string {
	var out []string
	for _, p := range c.Paths() {
		if c.Created[p] {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
