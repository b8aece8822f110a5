// Package benchmark runs the factory over a dataset of issues, each as an
// isolated workflow, and collects the outcomes.
package benchmark

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/issuefactory/internal/pipeline"
	"github.com/lucasnoah/issuefactory/internal/workflow"
)

// ReportFile is written to the output directory.
const ReportFile = "benchmark.json"

// OutcomeError marks an instance whose workflow could not be started.
const OutcomeError pipeline.Outcome = "ERROR"

// Runner executes one workflow. *workflow.Controller implements it.
type Runner interface {
	Run(ctx context.Context, req workflow.Request) (*workflow.Result, error)
}

// Config configures a benchmark.
type Config struct {
	// Samples limits the run to the first N instances; 0 means all.
	Samples     int
	Concurrency int
	// WorkDir holds one directory per instance with its issue file and
	// checkout.
	WorkDir string
}

// Result is the outcome of one instance.
type Result struct {
	InstanceID  string           `json:"instance_id"`
	Repo        string           `json:"repo"`
	RunID       string           `json:"run_id,omitempty"`
	Outcome     pipeline.Outcome `json:"outcome"`
	ExitCode    int              `json:"exit_code"`
	RetryCount  int              `json:"retry_count"`
	Degraded    bool             `json:"degraded,omitempty"`
	Files       []string         `json:"files,omitempty"`
	DurationSec float64          `json:"duration_sec"`
	Error       string           `json:"error,omitempty"`
}

// Report aggregates a benchmark.
type Report struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Total      int            `json:"total"`
	Counts     map[string]int `json:"counts"`
	Results    []Result       `json:"results"`
}

// Passed is the number of SUCCESS results.
func (r *Report) Passed() int {
	return r.Counts[string(pipeline.OutcomeSuccess)]
}

// Bench runs instances through a Runner.
type Bench struct {
	runner Runner
	cfg    Config
	logger *slog.Logger
}

// New creates a Bench.
func New(runner Runner, cfg Config, logger *slog.Logger) *Bench {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bench{runner: runner, cfg: cfg, logger: logger}
}

// Run executes the selected instances with bounded concurrency. A failing
// instance never stops the others; results keep dataset order.
func (b *Bench) Run(ctx context.Context, instances []Instance) *Report {
	if b.cfg.Samples > 0 && b.cfg.Samples < len(instances) {
		instances = instances[:b.cfg.Samples]
	}
	rep := &Report{
		StartedAt: time.Now().UTC(),
		Total:     len(instances),
		Results:   make([]Result, len(instances)),
	}
	b.logger.Info("benchmark started", "instances", len(instances), "concurrency", b.cfg.Concurrency)

	var g errgroup.Group
	g.SetLimit(b.cfg.Concurrency)
	for i, in := range instances {
		g.Go(func() error {
			rep.Results[i] = b.runOne(ctx, in)
			return nil
		})
	}
	_ = g.Wait()

	rep.FinishedAt = time.Now().UTC()
	rep.Counts = make(map[string]int)
	for _, r := range rep.Results {
		rep.Counts[string(r.Outcome)]++
	}
	b.logger.Info("benchmark finished", "instances", rep.Total, "passed", rep.Passed())
	return rep
}

func (b *Bench) runOne(ctx context.Context, in Instance) Result {
	res := Result{InstanceID: in.InstanceID, Repo: in.Repo}
	logger := b.logger.With("instance", in.InstanceID)

	if f := in.Missing(); f != "" {
		res.Outcome = pipeline.OutcomeIngestionFailed
		res.ExitCode = res.Outcome.ExitCode()
		res.Error = "missing " + f
		logger.Error("skipping instance", "missing", f)
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Outcome = pipeline.OutcomeCancelled
		res.ExitCode = res.Outcome.ExitCode()
		res.Error = err.Error()
		return res
	}

	dir := filepath.Join(b.cfg.WorkDir, safeName(in.InstanceID))
	issuePath := filepath.Join(dir, "issue.md")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return failed(res, fmt.Errorf("create instance dir: %w", err))
	}
	if err := os.WriteFile(issuePath, []byte(in.ProblemStatement), 0o644); err != nil {
		return failed(res, fmt.Errorf("write issue: %w", err))
	}

	start := time.Now()
	logger.Info("instance started", "repo", in.Repo, "base_commit", in.BaseCommit)
	out, err := b.runner.Run(ctx, workflow.Request{
		IssueRef: issuePath,
		Repo:     RepoURL(in.Repo),
		BaseRef:  in.BaseCommit,
		Branch:   "factory/bench-" + safeName(in.InstanceID),
		Dest:     filepath.Join(dir, "repo"),
	})
	res.DurationSec = time.Since(start).Seconds()
	if err != nil {
		return failed(res, err)
	}

	res.RunID = out.RunID
	res.Outcome = out.Outcome
	res.ExitCode = out.ExitCode()
	res.RetryCount = out.State.RetryCount
	res.Degraded = out.Degraded
	res.Files = out.State.CodeChanges.Paths()
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	logger.Info("instance finished", "outcome", res.Outcome, "retry_count", res.RetryCount, "run_id", res.RunID)
	return res
}

// failed records an error that kept the workflow from running at all.
func failed(res Result, err error) Result {
	res.Outcome = OutcomeError
	res.ExitCode = OutcomeError.ExitCode()
	res.Error = err.Error()
	return res
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeName(id string) string {
	return unsafeChars.ReplaceAllString(id, "_")
}

// WriteReport writes the report as JSON into dir.
func WriteReport(dir string, rep *Report) (string, error) {
	path := filepath.Join(dir, ReportFile)
	if err := pipeline.WriteJSON(path, rep); err != nil {
		return "", fmt.Errorf("write benchmark report: %w", err)
	}
	return path, nil
}

// Outcomes returns the outcome names present in counts, sorted.
func (r *Report) Outcomes() []string {
	names := make([]string, 0, len(r.Counts))
	for k := range r.Counts {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
