package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/issuefactory/internal/config"
	"github.com/lucasnoah/issuefactory/internal/github"
	"github.com/lucasnoah/issuefactory/internal/issue"
	"github.com/lucasnoah/issuefactory/internal/llm"
	"github.com/lucasnoah/issuefactory/internal/planner"
	"github.com/lucasnoah/issuefactory/internal/probe"
	"github.com/lucasnoah/issuefactory/internal/prompt"
	"github.com/lucasnoah/issuefactory/internal/workflow"
	"github.com/lucasnoah/issuefactory/internal/worktree"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Classify the files an issue would touch, without changing anything",
	Long: `Ingests the issue, probes --dir and asks the model which files to modify,
which are read-only context and which are tests. The plan is printed as
JSON; nothing is generated, written or committed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		ref, _ := cmd.Flags().GetString("issue")
		if ref == "" {
			return errors.New("--issue is required")
		}
		dir, _ := cmd.Flags().GetString("dir")
		root, err := filepath.Abs(dir)
		if err != nil {
			return err
		}
		repo := cfg.Repo
		if cmd.Flags().Changed("repo") {
			repo, _ = cmd.Flags().GetString("repo")
		}

		level, _ := config.LogLevel(cfg.LogLevel)
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		ctx := cmd.Context()

		gh := github.NewClient(&github.ExecRunner{})
		is, err := issue.NewIngestor(issue.GitHubHost{Client: gh}, logger).Ingest(ctx, ref, repo)
		if err != nil {
			return &ExitError{Code: workflow.OutcomeFor(workflow.PhaseIngest, err).ExitCode(), Err: err}
		}

		pc := probe.New(cfg.Commands, logger).Probe(root, repo)

		model, err := llm.New(ctx, cfg.ModelConfig())
		if err != nil {
			return fmt.Errorf("configure %s model: %w", cfg.LLM.Provider, err)
		}
		p := planner.New(llm.WithTimeout(model, cfg.LLMTimeout()), prompt.NewLibrary(cfg.PromptsDir), planner.Config{
			MaxCandidates:     cfg.Planner.MaxCandidates,
			FormatRetries:     formatRetries(cfg.Planner.FormatRetries),
			InferMissingTests: cfg.Planner.InferMissingTests,
		}, logger)

		plan, err := p.Plan(ctx, is, pc, worktree.Open(root))
		if err != nil {
			return &ExitError{Code: workflow.OutcomeFor(workflow.PhasePlan, err).ExitCode(), Err: err}
		}
		return writeJSON(cmd, plan)
	},
}

func init() {
	planCmd.Flags().String("issue", "", "issue number, path to an issue file, or issue text")
	planCmd.Flags().String("dir", ".", "checkout to plan against")
	planCmd.Flags().String("repo", "", "repository for numeric issues (default: repo from the config file)")
}
