// Package workflow drives one issue through ingest, checkout, probe,
// plan, generate, quality gate and finalize as an explicit state machine.
package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lucasnoah/issuefactory/internal/checks"
	"github.com/lucasnoah/issuefactory/internal/db"
	"github.com/lucasnoah/issuefactory/internal/finalize"
	"github.com/lucasnoah/issuefactory/internal/generate"
	"github.com/lucasnoah/issuefactory/internal/llm"
	"github.com/lucasnoah/issuefactory/internal/metrics"
	"github.com/lucasnoah/issuefactory/internal/pipeline"
	"github.com/lucasnoah/issuefactory/internal/planner"
	"github.com/lucasnoah/issuefactory/internal/prompt"
	"github.com/lucasnoah/issuefactory/internal/worktree"
)

// Ingestor resolves an issue reference.
type Ingestor interface {
	Ingest(ctx context.Context, ref, repoLink string) (*pipeline.IssueRecord, error)
}

// Checkouter prepares the working tree.
type Checkouter interface {
	Checkout(ctx context.Context, opts worktree.CheckoutOpts) (*worktree.CheckoutResult, error)
}

// Prober describes a checkout.
type Prober interface {
	Probe(root, repoLink string) *pipeline.ProjectContext
}

// Deps are the collaborators shared by every run. They must be safe for
// concurrent use when runs execute in parallel.
type Deps struct {
	Ingestor  Ingestor
	Checkout  Checkouter
	Prober    Prober
	Model     llm.Model
	Prompts   *prompt.Library
	Commands  checks.CommandRunner
	Committer finalize.Committer
	Host      finalize.Host
	// HostFor, when set, scopes Host to the run's repository.
	HostFor func(repoLink string) finalize.Host
	Store   *pipeline.Store
	// History is optional.
	History History
}

// Config is read-only run configuration.
type Config struct {
	// Provider labels model metrics.
	Provider       string
	Planner        planner.Config
	Generator      generate.Config
	MaxRetries     int
	LintParser     string
	TestParser     string
	CheckTimeout   time.Duration
	RunInstall     bool
	InstallTimeout time.Duration
	Publish        finalize.Config
	Console        io.Writer
	LogLevel       slog.Level
}

// Request identifies one run.
type Request struct {
	IssueRef string
	// Repo overrides the repository link of the issue.
	Repo    string
	BaseRef string
	Branch  string
	// Dest overrides the checkout directory.
	Dest string
	// RunID is generated when empty.
	RunID string
}

// Result is the terminal record of a run.
type Result struct {
	RunID    string
	Outcome  pipeline.Outcome
	State    pipeline.WorkflowState
	Summary  *pipeline.Summary
	RunDir   string
	Degraded bool
	Err      error
}

// ExitCode is the process exit code for the outcome.
func (r *Result) ExitCode() int {
	return r.Outcome.ExitCode()
}

// Controller runs workflows.
type Controller struct {
	deps Deps
	cfg  Config
}

// New creates a Controller.
func New(deps Deps, cfg Config) *Controller {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = checks.DefaultMaxRetries
	}
	if deps.Prompts == nil {
		deps.Prompts = prompt.NewLibrary("")
	}
	return &Controller{deps: deps, cfg: cfg}
}

// run holds what one workflow needs beyond WorkflowState.
type run struct {
	id       string
	req      Request
	logger   *slog.Logger
	closer   io.Closer
	rec      *metrics.Recorder
	model    llm.Model
	tokens   *llm.TokenCounter
	tree     *worktree.Tree
	session  *generate.Session
	degraded bool
}

type step func(ctx context.Context, r *run, st pipeline.WorkflowState) (pipeline.WorkflowState, error)

// Run executes one workflow to a terminal outcome. The returned error is
// set only when the run could not be recorded at all; workflow failures
// are reported through Result.Outcome and Result.Err.
func (c *Controller) Run(ctx context.Context, req Request) (*Result, error) {
	r, err := c.newRun(req)
	if err != nil {
		return nil, err
	}
	start := time.Now().UTC()
	st := pipeline.WorkflowState{
		RunID:       r.id,
		GitHubIssue: req.IssueRef,
		StartedAt:   start,
		UpdatedAt:   start,
	}
	c.recordStart(r, req, start)
	r.logger.Info("run started", "issue", req.IssueRef, "repo", req.Repo)

	steps := map[Phase]step{
		PhaseIngest:   c.ingest,
		PhaseCheckout: c.checkout,
		PhaseProbe:    c.probe,
		PhasePlan:     c.plan,
		PhaseGenerate: c.generate,
		PhaseGate:     c.gate,
		PhaseFinalize: c.finalize,
	}

	var runErr error
	phase := PhaseIngest
	for seq := 1; phase != PhaseDone; seq++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		st.Phase = string(phase)
		logger := r.logger.With("phase", string(phase))
		logger.Info("phase started")

		phaseStart := time.Now()
		next, err := steps[phase](ctx, r, st.Clone())
		elapsed := time.Since(phaseStart)
		if next.RunID != "" {
			st = next
		}
		st.Phase = string(phase)
		st.UpdatedAt = time.Now().UTC()
		if err != nil {
			st.Error = err.Error()
		}

		r.rec.ObservePhase(string(phase), err, elapsed)
		c.recordPhase(r, seq, phase, err, elapsed)
		if serr := c.deps.Store.SavePhase(seq, string(phase), st); serr != nil {
			logger.Warn("persist phase snapshot", "error", serr)
		}

		if err != nil {
			logger.Error("phase failed", "error", err, "duration_ms", elapsed.Milliseconds())
			runErr = err
			break
		}
		logger.Info("phase finished", "duration_ms", elapsed.Milliseconds())
		phase = transitions[phase]
	}

	outcome := OutcomeFor(phase, runErr)
	if runErr == nil && phase != PhaseDone {
		outcome = pipeline.OutcomeCancelled
	}
	st.Outcome = outcome
	if phase == PhaseDone {
		st.Phase = string(PhaseDone)
	}
	return c.finish(r, st, runErr), nil
}

func (c *Controller) newRun(req Request) (*run, error) {
	if c.deps.Store == nil {
		return nil, fmt.Errorf("workflow: no run store configured")
	}
	id := req.RunID
	if id == "" {
		id = pipeline.NewRunID()
	}
	if err := c.deps.Store.Create(id); err != nil {
		return nil, fmt.Errorf("create run %s: %w", id, err)
	}
	logger, closer, err := c.deps.Store.RunLogger(id, c.cfg.Console, c.cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	// finish closes the run log.
	r := &run{
		id:     id,
		req:    req,
		logger: logger,
		closer: closer,
		rec:    metrics.New(),
		tokens: llm.NewTokenCounter(),
	}

	var model llm.Model = c.deps.Model
	if c.deps.History != nil {
		model = &recordedModel{next: model, runID: id, history: c.deps.History, tokens: r.tokens, logger: logger}
	}
	r.model = llm.Instrumented(model, c.cfg.Provider, r.rec, r.tokens, logger)
	return r, nil
}

func (c *Controller) finish(r *run, st pipeline.WorkflowState, runErr error) *Result {
	defer r.closer.Close()

	finished := time.Now().UTC()
	sum := &pipeline.Summary{
		RunID:       r.id,
		IssueRef:    st.GitHubIssue,
		Outcome:     st.Outcome,
		ExitCode:    st.Outcome.ExitCode(),
		RetryCount:  st.RetryCount,
		Degraded:    r.degraded,
		Files:       st.CodeChanges.Paths(),
		StartedAt:   st.StartedAt.Format(time.RFC3339),
		FinishedAt:  finished.Format(time.RFC3339),
		DurationSec: finished.Sub(st.StartedAt).Seconds(),
	}
	if st.Publish != nil {
		sum.CommitSHA = st.Publish.CommitSHA
		sum.PRURL = st.Publish.PRURL
	}
	if runErr != nil {
		sum.Error = runErr.Error()
		st.Error = runErr.Error()
	}

	if err := c.deps.Store.SaveState(st); err != nil {
		r.logger.Warn("persist final state", "error", err)
	}
	if err := c.deps.Store.SaveSummary(sum); err != nil {
		r.logger.Warn("persist summary", "error", err)
	}
	r.rec.SetOutcome(string(st.Outcome))
	if err := r.rec.WriteFile(c.deps.Store.Path(r.id, pipeline.MetricsFile)); err != nil {
		r.logger.Warn("write metrics", "error", err)
	}
	c.recordFinish(r, sum)

	attrs := []any{"outcome", st.Outcome, "exit_code", sum.ExitCode, "retry_count", st.RetryCount, "degraded", r.degraded}
	if runErr != nil {
		r.logger.Error("run finished", append(attrs, "error", runErr)...)
	} else {
		r.logger.Info("run finished", append(attrs, "commit", sum.CommitSHA, "pr", sum.PRURL)...)
	}

	return &Result{
		RunID:    r.id,
		Outcome:  st.Outcome,
		State:    st,
		Summary:  sum,
		RunDir:   c.deps.Store.RunDir(r.id),
		Degraded: r.degraded,
		Err:      runErr,
	}
}

func (c *Controller) recordStart(r *run, req Request, start time.Time) {
	if c.deps.History == nil {
		return
	}
	err := c.deps.History.StartRun(db.Run{
		RunID:     r.id,
		IssueRef:  req.IssueRef,
		Repo:      req.Repo,
		StartedAt: start.Format(time.RFC3339),
	})
	if err != nil {
		r.logger.Warn("record run start", "error", err)
	}
}

func (c *Controller) recordPhase(r *run, seq int, phase Phase, err error, d time.Duration) {
	if c.deps.History == nil {
		return
	}
	result, detail := "ok", ""
	if err != nil {
		result, detail = "error", err.Error()
	}
	if herr := c.deps.History.LogPhase(r.id, seq, string(phase), result, int(d.Milliseconds()), detail); herr != nil {
		r.logger.Warn("record phase", "error", herr)
	}
}

func (c *Controller) recordCheck(r *run, attempt int, cr *pipeline.CheckResult) {
	r.rec.ObserveCheck(cr.Name, cr.Passed, cr.Skipped, time.Duration(cr.DurationMs)*time.Millisecond)
	if c.deps.History == nil {
		return
	}
	err := c.deps.History.LogCheckRun(db.CheckRun{
		RunID:      r.id,
		Attempt:    attempt,
		CheckName:  cr.Name,
		Passed:     cr.Passed,
		Skipped:    cr.Skipped,
		TimedOut:   cr.TimedOut,
		ExitCode:   cr.ExitCode,
		DurationMs: cr.DurationMs,
		Summary:    cr.Summary,
		Findings:   db.FindingsText(cr.Errors),
	})
	if err != nil {
		r.logger.Warn("record check run", "error", err)
	}
}

func (c *Controller) recordFinish(r *run, sum *pipeline.Summary) {
	if c.deps.History == nil {
		return
	}
	code := sum.ExitCode
	err := c.deps.History.FinishRun(db.Run{
		RunID:      r.id,
		Outcome:    string(sum.Outcome),
		ExitCode:   &code,
		RetryCount: sum.RetryCount,
		Degraded:   sum.Degraded,
		CommitSHA:  sum.CommitSHA,
		PRURL:      sum.PRURL,
		Error:      sum.Error,
		FinishedAt: sum.FinishedAt,
	})
	if err != nil {
		r.logger.Warn("record run finish", "error", err)
	}
}
