package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/lucasnoah/issuefactory/internal/checks"
	"github.com/lucasnoah/issuefactory/internal/config"
	"github.com/lucasnoah/issuefactory/internal/db"
	"github.com/lucasnoah/issuefactory/internal/finalize"
	"github.com/lucasnoah/issuefactory/internal/generate"
	"github.com/lucasnoah/issuefactory/internal/github"
	"github.com/lucasnoah/issuefactory/internal/issue"
	"github.com/lucasnoah/issuefactory/internal/llm"
	"github.com/lucasnoah/issuefactory/internal/output"
	"github.com/lucasnoah/issuefactory/internal/pipeline"
	"github.com/lucasnoah/issuefactory/internal/planner"
	"github.com/lucasnoah/issuefactory/internal/probe"
	"github.com/lucasnoah/issuefactory/internal/prompt"
	"github.com/lucasnoah/issuefactory/internal/workflow"
	"github.com/lucasnoah/issuefactory/internal/worktree"
)

// publishMode is what the command line asks of the finalize phase.
type publishMode struct {
	Commit bool
	Push   bool
	PR     bool
	Base   string
}

// publishFromConfig is the configured publish behavior.
func publishFromConfig(cfg *config.Config) publishMode {
	return publishMode{
		Commit: cfg.Publish.Enabled,
		Push:   cfg.Publish.Enabled && cfg.Publish.Push,
		PR:     cfg.Publish.Enabled && cfg.Publish.PR,
		Base:   cfg.Publish.Base,
	}
}

// openHistory opens the run history database. An empty DSN disables
// history; a failure to open it is reported and the run continues
// without it.
func openHistory(cfg *config.Config, ui *output.UI) *db.DB {
	if cfg.DB == "" {
		return nil
	}
	d, err := db.Open(cfg.DB)
	if err != nil {
		ui.Warning("run history disabled: %v", err)
		return nil
	}
	if err := d.Migrate(); err != nil {
		ui.Warning("run history disabled: %v", err)
		d.Close()
		return nil
	}
	return d
}

// newController wires every collaborator of a workflow from cfg. The
// returned cleanup closes the history database.
func newController(ctx context.Context, cfg *config.Config, pub publishMode, ui *output.UI, console io.Writer) (*workflow.Controller, *pipeline.Store, func(), error) {
	level, err := config.LogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	model, err := llm.New(ctx, cfg.ModelConfig())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("configure %s model: %w", cfg.LLM.Provider, err)
	}
	model = llm.WithTimeout(model, cfg.LLMTimeout())

	gh := github.NewClient(&github.ExecRunner{})
	trees := worktree.NewManager(&worktree.ExecGit{}, cfg.WorkDir)
	store := pipeline.NewStore(cfg.RunsDir)

	hostFor := func(repoLink string) finalize.Host {
		if repoLink == "" {
			return gh
		}
		return gh.ForRepo(repoLink)
	}
	deps := workflow.Deps{
		Ingestor:  issue.NewIngestor(issue.GitHubHost{Client: gh}, nil),
		Checkout:  trees,
		Prober:    probe.New(cfg.Commands, nil),
		Model:     model,
		Prompts:   prompt.NewLibrary(cfg.PromptsDir),
		Commands:  &checks.ExecRunner{},
		Committer: trees,
		Host:      gh,
		HostFor:   hostFor,
		Store:     store,
	}

	cleanup := func() {}
	if h := openHistory(cfg, ui); h != nil {
		deps.History = h
		cleanup = func() { h.Close() }
	}

	ctrl := workflow.New(deps, workflow.Config{
		Provider: cfg.LLM.Provider,
		Planner: planner.Config{
			MaxCandidates:     cfg.Planner.MaxCandidates,
			FormatRetries:     formatRetries(cfg.Planner.FormatRetries),
			InferMissingTests: cfg.Planner.InferMissingTests,
		},
		Generator: generate.Config{
			FileTokens:        cfg.Generator.FileTokens,
			ContextTokens:     cfg.Generator.ContextTokens,
			FormatRetries:     formatRetries(cfg.Generator.FormatRetries),
			ConventionSamples: cfg.Generator.ConventionSamples,
		},
		MaxRetries:     cfg.Gate.MaxRetries,
		LintParser:     config.Parser(cfg.Gate.LintParser),
		TestParser:     config.Parser(cfg.Gate.TestParser),
		CheckTimeout:   cfg.CheckTimeout(),
		RunInstall:     cfg.Gate.RunInstall,
		InstallTimeout: cfg.InstallTimeout(),
		Publish: finalize.Config{
			Commit:      pub.Commit,
			Push:        pub.Push || pub.PR,
			PR:          pub.PR,
			Base:        pub.Base,
			AuthorName:  cfg.Publish.AuthorName,
			AuthorEmail: cfg.Publish.AuthorEmail,
		},
		Console:  console,
		LogLevel: level,
	})
	return ctrl, store, cleanup, nil
}

// formatRetries converts a configured retry count for the planner and
// generator, which read zero as "use the default" and NoRetries as none.
func formatRetries(n int) int {
	if n == 0 {
		return planner.NoRetries
	}
	return n
}
