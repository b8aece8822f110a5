package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lucasnoah/issuefactory/internal/checks"
	"github.com/lucasnoah/issuefactory/internal/finalize"
	"github.com/lucasnoah/issuefactory/internal/generate"
	"github.com/lucasnoah/issuefactory/internal/issue"
	"github.com/lucasnoah/issuefactory/internal/pipeline"
	"github.com/lucasnoah/issuefactory/internal/planner"
	"github.com/lucasnoah/issuefactory/internal/worktree"
)

// DefaultInstallTimeout bounds the best-effort dependency install.
const DefaultInstallTimeout = 10 * time.Minute

func (c *Controller) ingest(ctx context.Context, r *run, st pipeline.WorkflowState) (pipeline.WorkflowState, error) {
	is, err := c.deps.Ingestor.Ingest(ctx, r.req.IssueRef, r.req.Repo)
	if err != nil {
		return st, err
	}
	st.Issue = is
	c.saveArtifact(r, pipeline.IssueFile, is)
	if c.deps.History != nil {
		if err := c.deps.History.UpdateRunIssue(r.id, string(is.Source), c.title(is)); err != nil {
			r.logger.Warn("record issue", "error", err)
		}
	}
	r.logger.Info("issue ingested", "source", is.Source, "number", is.Number, "title", c.title(is))
	return st, nil
}

func (c *Controller) checkout(ctx context.Context, r *run, st pipeline.WorkflowState) (pipeline.WorkflowState, error) {
	repo := runRepo(r, st)
	if c.deps.Checkout == nil {
		return st, &pipeline.CheckoutError{Repo: repo, Err: errors.New("no checkout manager configured")}
	}
	res, err := c.deps.Checkout.Checkout(ctx, worktree.CheckoutOpts{
		Repo:    repo,
		Dest:    r.req.Dest,
		RunID:   r.id,
		BaseRef: r.req.BaseRef,
		Issue:   st.Issue.Number,
		Title:   c.title(st.Issue),
		Branch:  r.req.Branch,
	})
	if err != nil {
		var ce *pipeline.CheckoutError
		if errors.As(err, &ce) {
			return st, err
		}
		return st, &pipeline.CheckoutError{Repo: repo, Err: err}
	}
	st.WorkDir = res.Path
	st.Branch = res.Branch
	r.tree = worktree.Open(res.Path)
	r.logger.Info("checkout ready", "path", res.Path, "branch", res.Branch, "reused", res.Reused)
	return st, nil
}

func (c *Controller) probe(ctx context.Context, r *run, st pipeline.WorkflowState) (pipeline.WorkflowState, error) {
	repo := r.req.Repo
	if repo == "" {
		repo = st.Issue.RepoLink
	}
	pc := c.deps.Prober.Probe(st.WorkDir, repo)
	if pc == nil {
		return st, &pipeline.CheckoutError{Repo: repo, Err: fmt.Errorf("probe %s: no project context", st.WorkDir)}
	}
	st.ProjectContext = pc
	c.saveArtifact(r, pipeline.ProjectContextFile, pc)
	r.logger.Info("project probed", "language", pc.Language, "framework", pc.Framework,
		"lint", pc.LintCommand, "test", pc.TestCommand)

	if c.cfg.RunInstall {
		c.install(ctx, r, st.WorkDir, pc.InstallCommand)
	}
	return st, nil
}

// install runs the discovered install command. Failures are logged and
// left for the test check to surface.
func (c *Controller) install(ctx context.Context, r *run, dir, command string) {
	if command == "" || c.deps.Commands == nil {
		return
	}
	timeout := c.cfg.InstallTimeout
	if timeout <= 0 {
		timeout = DefaultInstallTimeout
	}
	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	_, stderr, code, err := c.deps.Commands.Run(ictx, dir, command)
	if err != nil || code != 0 {
		r.logger.Warn("install failed", "command", command, "exit_code", code, "error", err, "stderr", tail(stderr, 500))
		return
	}
	r.logger.Info("dependencies installed", "command", command, "duration_ms", time.Since(start).Milliseconds())
}

func (c *Controller) plan(ctx context.Context, r *run, st pipeline.WorkflowState) (pipeline.WorkflowState, error) {
	p := planner.New(r.model, c.deps.Prompts, c.cfg.Planner, r.logger)
	plan, err := p.Plan(ctx, st.Issue, st.ProjectContext, r.tree)
	if err != nil {
		return st, err
	}
	st.Plan = plan
	c.saveArtifact(r, pipeline.PlanFile, plan)
	r.logger.Info("plan ready", "source_files", plan.SourceFiles, "test_files", plan.TestFiles,
		"relevant_files", len(plan.RelevantFiles), "test_generation", plan.TestGeneration)
	return st, nil
}

func (c *Controller) generate(ctx context.Context, r *run, st pipeline.WorkflowState) (pipeline.WorkflowState, error) {
	g := generate.New(r.model, c.deps.Prompts, r.tokens, c.cfg.Generator, r.logger)
	r.session = g.Bind(st.Issue, st.ProjectContext, st.Plan, r.tree)
	changes, err := r.session.Generate(ctx)
	if err != nil {
		return st, err
	}
	st.CodeChanges = changes
	r.logger.Info("code generated", "files", changes.Paths())
	return st, nil
}

func (c *Controller) gate(ctx context.Context, r *run, st pipeline.WorkflowState) (pipeline.WorkflowState, error) {
	pc := st.ProjectContext
	g := checks.NewGate(checks.NewRunner(c.deps.Commands), r.tree, r.session, checks.GateConfig{
		Dir:        st.WorkDir,
		Lint:       checks.CheckConfig{Name: "lint", Command: pc.LintCommand, Parser: c.cfg.LintParser, Timeout: c.cfg.CheckTimeout},
		Test:       checks.CheckConfig{Name: "test", Command: pc.TestCommand, Parser: c.cfg.TestParser, Timeout: c.cfg.CheckTimeout},
		MaxRetries: c.cfg.MaxRetries,
	}, checks.Hooks{
		OnCheck: func(attempt int, cr *pipeline.CheckResult) {
			c.recordCheck(r, attempt, cr)
		},
		OnAttempt: func(q *pipeline.QualityResult) {
			if err := c.deps.Store.SaveGateAttempt(r.id, q); err != nil {
				r.logger.Warn("persist gate attempt", "attempt", q.Attempt, "error", err)
			}
		},
	}, r.logger)

	res, err := g.Run(ctx, st.CodeChanges, st.RetryCount)
	if res != nil {
		st.CodeChanges = res.Changes
		st.RetryCount = res.RetryCount
		st.TestResults = res.Last
		r.degraded = r.degraded || res.Degraded
	}
	return st, err
}

func (c *Controller) finalize(ctx context.Context, r *run, st pipeline.WorkflowState) (pipeline.WorkflowState, error) {
	host := c.deps.Host
	if c.deps.HostFor != nil {
		host = c.deps.HostFor(runRepo(r, st))
	}
	f := finalize.New(c.deps.Committer, host, c.cfg.Publish, r.logger)
	info, err := f.Finalize(ctx, finalize.Input{
		Issue:   st.Issue,
		Plan:    st.Plan,
		Changes: st.CodeChanges,
		Tree:    r.tree,
		Branch:  st.Branch,
	})
	if info != nil {
		st.Publish = info
	}
	return st, err
}

func (c *Controller) saveArtifact(r *run, name string, v any) {
	if err := c.deps.Store.SaveArtifact(r.id, name, v); err != nil {
		r.logger.Warn("persist artifact", "name", name, "error", err)
	}
}

func runRepo(r *run, st pipeline.WorkflowState) string {
	if r.req.Repo != "" {
		return r.req.Repo
	}
	if st.Issue != nil {
		return st.Issue.RepoLink
	}
	return ""
}

func (c *Controller) title(is *pipeline.IssueRecord) string {
	if is.Title != "" {
		return is.Title
	}
	return issue.TitleOf(is.Text)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
