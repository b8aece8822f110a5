package checks

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/lucasnoah/issuefactory/internal/pipeline"
)

// State is a quality gate state.
type State string

const (
	StateLint State = "LINT"
	StateTest State = "TEST"
	StatePass State = "PASS"
	StateFail State = "FAIL"
)

// DefaultMaxRetries is the retry ceiling used when none is configured.
const DefaultMaxRetries = 3

// next is the gate's transition table. A failed check re-enters LINT
// until the retry ceiling is reached.
func next(s State, passed bool, retries, maxRetries int) State {
	switch {
	case s == StateLint && passed:
		return StateTest
	case s == StateTest && passed:
		return StatePass
	case retries >= maxRetries:
		return StateFail
	default:
		return StateLint
	}
}

// Feedback is what the generator receives after a failed check.
type Feedback struct {
	Attempt  int      `json:"attempt"`
	Check    string   `json:"check"`
	Summary  string   `json:"summary"`
	Messages []string `json:"messages,omitempty"`
	// Files are the changed files implicated by the failure output, or
	// every changed file when none is mentioned.
	Files []string `json:"files"`
}

// Text renders feedback for a prompt.
func (f Feedback) Text() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The %s check failed (attempt %d): %s\n", f.Check, f.Attempt, f.Summary)
	for _, m := range f.Messages {
		sb.WriteString(m)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Applier writes a change set into the working tree.
type Applier interface {
	Apply(changes *pipeline.CodeChangeSet) error
}

// Regenerator produces new content for the implicated files. The returned
// set holds only the regenerated paths.
type Regenerator interface {
	Regenerate(ctx context.Context, fb Feedback, current *pipeline.CodeChangeSet) (*pipeline.CodeChangeSet, error)
}

// RegeneratorFunc adapts a function to Regenerator.
type RegeneratorFunc func(ctx context.Context, fb Feedback, current *pipeline.CodeChangeSet) (*pipeline.CodeChangeSet, error)

func (f RegeneratorFunc) Regenerate(ctx context.Context, fb Feedback, current *pipeline.CodeChangeSet) (*pipeline.CodeChangeSet, error) {
	return f(ctx, fb, current)
}

// Hooks observe gate progress. Nil hooks are skipped.
type Hooks struct {
	OnCheck   func(attempt int, r *pipeline.CheckResult)
	OnAttempt func(q *pipeline.QualityResult)
}

// GateConfig configures a Gate.
type GateConfig struct {
	Dir        string
	Lint       CheckConfig
	Test       CheckConfig
	MaxRetries int
}

// Gate runs lint and test against the working tree and drives the
// regenerate loop.
type Gate struct {
	runner *Runner
	apply  Applier
	regen  Regenerator
	cfg    GateConfig
	hooks  Hooks
	logger *slog.Logger
}

// NewGate creates a Gate.
func NewGate(runner *Runner, apply Applier, regen Regenerator, cfg GateConfig, hooks Hooks, logger *slog.Logger) *Gate {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Lint.Name == "" {
		cfg.Lint.Name = "lint"
	}
	if cfg.Test.Name == "" {
		cfg.Test.Name = "test"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{runner: runner, apply: apply, regen: regen, cfg: cfg, hooks: hooks, logger: logger}
}

// GateResult is the outcome of a gate run.
type GateResult struct {
	Final      State
	Changes    *pipeline.CodeChangeSet
	RetryCount int
	Degraded   bool
	Last       *pipeline.QualityResult
	Attempts   []*pipeline.QualityResult
	Trace      []State
}

// Run drives the gate from LINT until PASS or FAIL. retryCount is the
// run's counter on entry. On FAIL the error is *pipeline.QualityGateExhausted
// and the working tree holds the last attempt. Regeneration or apply
// failures are returned as-is together with the partial result.
func (g *Gate) Run(ctx context.Context, changes *pipeline.CodeChangeSet, retryCount int) (*GateResult, error) {
	res := &GateResult{Changes: changes.Clone(), RetryCount: retryCount}
	state := StateLint
	attempt := 1
	q := &pipeline.QualityResult{Attempt: attempt}

	for {
		res.Trace = append(res.Trace, state)
		switch state {
		case StateLint:
			if err := g.apply.Apply(res.Changes); err != nil {
				return res, fmt.Errorf("apply changes: %w", err)
			}
			lint, err := g.check(ctx, attempt, g.cfg.Lint)
			if err != nil {
				return res, err
			}
			q.Lint = lint
			state = g.advance(res, q, state, lint)

		case StateTest:
			test, err := g.check(ctx, attempt, g.cfg.Test)
			if err != nil {
				return res, err
			}
			q.Test = test
			state = g.advance(res, q, state, test)

		case StatePass:
			res.Final = StatePass
			g.logger.Info("quality gate passed", "attempt", attempt, "retry_count", res.RetryCount, "degraded", res.Degraded)
			return res, nil

		case StateFail:
			res.Final = StateFail
			failed := res.Last.Failed()
			name := ""
			if failed != nil {
				name = failed.Name
			}
			g.logger.Warn("quality gate exhausted", "attempts", attempt, "retry_count", res.RetryCount, "check", name)
			return res, &pipeline.QualityGateExhausted{Attempts: attempt, Check: name, Last: res.Last}
		}

		// A failed attempt that did not exhaust the gate loops back through
		// the generator with a fresh QualityResult.
		if state == StateLint {
			fb := g.feedback(res.Last, res.Changes)
			g.logger.Info("regenerating after failed check",
				"check", fb.Check, "attempt", attempt, "retry_count", res.RetryCount, "files", fb.Files)
			updated, err := g.regen.Regenerate(ctx, fb, res.Changes.Clone())
			if err != nil {
				return res, err
			}
			for _, p := range updated.Paths() {
				res.Changes.Set(p, updated.Files[p], updated.Created[p])
			}
			attempt++
			q = &pipeline.QualityResult{Attempt: attempt}
		}
	}
}

func (g *Gate) check(ctx context.Context, attempt int, cfg CheckConfig) (*pipeline.CheckResult, error) {
	r, err := g.runner.Run(ctx, g.cfg.Dir, cfg)
	if err != nil {
		return nil, err
	}
	if r.Skipped {
		g.logger.Warn("check skipped, run is degraded", "check", cfg.Name)
	} else {
		g.logger.Info("check finished", "check", cfg.Name, "attempt", attempt,
			"passed", r.Passed, "exit_code", r.ExitCode, "summary", r.Summary)
	}
	if g.hooks.OnCheck != nil {
		g.hooks.OnCheck(attempt, r)
	}
	return r, nil
}

// advance applies the transition table and closes the attempt when it
// ends on anything but LINT -> TEST.
func (g *Gate) advance(res *GateResult, q *pipeline.QualityResult, s State, r *pipeline.CheckResult) State {
	if r.Skipped {
		res.Degraded = true
		q.Degraded = true
	}
	if !r.Passed {
		res.RetryCount++
		q.Errors = r.Errors
	}
	ns := next(s, r.Passed, res.RetryCount, g.cfg.MaxRetries)
	if ns == StateTest {
		return ns
	}
	q.Passed = ns == StatePass
	res.Last = q
	res.Attempts = append(res.Attempts, q)
	if g.hooks.OnAttempt != nil {
		g.hooks.OnAttempt(q)
	}
	return ns
}

func (g *Gate) feedback(q *pipeline.QualityResult, changes *pipeline.CodeChangeSet) Feedback {
	failed := q.Failed()
	fb := Feedback{Attempt: q.Attempt}
	if failed == nil {
		return fb
	}
	fb.Check = failed.Name
	fb.Summary = failed.Summary
	fb.Messages = failed.Errors
	text := strings.Join(failed.Errors, "\n") + "\n" + failed.Stdout + "\n" + failed.Stderr
	fb.Files = ImplicatedFiles(text, changes.Paths())
	return fb
}

// ImplicatedFiles returns the paths whose full path or base name appears
// in output. When none does, every path is returned.
func ImplicatedFiles(output string, paths []string) []string {
	norm := filepath.ToSlash(output)
	var hit []string
	for _, p := range paths {
		if mentionsBase(norm, p) || mentionsBase(norm, filepath.Base(p)) {
			hit = append(hit, p)
		}
	}
	if len(hit) == 0 {
		return append([]string(nil), paths...)
	}
	return hit
}

// mentionsBase reports whether base appears in s bounded by path
// separators or punctuation, so "utils.py" does not match "price_utils.py".
func mentionsBase(s, base string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], base)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(base)
		before := start == 0 || isPathBoundary(s[start-1])
		after := end == len(s) || isPathBoundary(s[end])
		if before && after {
			return true
		}
		i = start + 1
	}
}

func isPathBoundary(c byte) bool {
	switch c {
	case '/', ' ', '\t', '\n', '"', '\'', '(', ')', ':', ',', '[', ']', '<', '>', '`':
		return true
	}
	return false
}
