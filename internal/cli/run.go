package cli

import (
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/issuefactory/internal/config"
	"github.com/lucasnoah/issuefactory/internal/output"
	"github.com/lucasnoah/issuefactory/internal/pipeline"
	"github.com/lucasnoah/issuefactory/internal/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Resolve one issue end to end",
	Long: `Runs the full workflow for one issue: ingest, checkout, probe, plan,
generate, quality gate and finalize.

--issue accepts an issue number (fetched with gh), a path to a file holding
the issue text, or the issue text itself. The process exits with the code
of the terminal outcome:

  0 SUCCESS            5 QUALITY_FAILED
  2 INGESTION_FAILED   6 PUBLISH_FAILED
  3 PLANNING_FAILED    7 CHECKOUT_FAILED
  4 GENERATION_FAILED  8 CANCELLED`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		ui := newUI(cmd)

		req, err := runRequest(cmd, cfg)
		if err != nil {
			return err
		}

		pub := publishFromConfig(cfg)
		if cmd.Flags().Changed("publish") {
			pub.Commit, _ = cmd.Flags().GetBool("publish")
			if !pub.Commit {
				pub.Push, pub.PR = false, false
			}
		}
		if cmd.Flags().Changed("push") {
			pub.Push, _ = cmd.Flags().GetBool("push")
		}
		if cmd.Flags().Changed("pr") {
			pub.PR, _ = cmd.Flags().GetBool("pr")
		}
		if cmd.Flags().Changed("base") {
			pub.Base, _ = cmd.Flags().GetString("base")
		}
		if (pub.Push || pub.PR) && !pub.Commit {
			return errors.New("--push and --pr need publishing enabled")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ctrl, _, cleanup, err := newController(ctx, cfg, pub, ui, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := ctrl.Run(ctx, req)
		if err != nil {
			return err
		}
		printResult(ui, res)
		if code := res.ExitCode(); code != 0 {
			return &ExitError{Code: code}
		}
		return nil
	},
}

// runRequest builds the workflow request from the run flags. Without
// --repo the configured repository is used.
func runRequest(cmd *cobra.Command, cfg *config.Config) (workflow.Request, error) {
	ref, _ := cmd.Flags().GetString("issue")
	if ref == "" {
		return workflow.Request{}, errors.New("--issue is required")
	}
	req := workflow.Request{IssueRef: ref, Repo: cfg.Repo}
	if cmd.Flags().Changed("repo") {
		req.Repo, _ = cmd.Flags().GetString("repo")
	}
	req.BaseRef, _ = cmd.Flags().GetString("base-ref")
	req.Branch, _ = cmd.Flags().GetString("branch")
	req.Dest, _ = cmd.Flags().GetString("dest")
	return req, nil
}

func printResult(ui *output.UI, res *workflow.Result) {
	st := res.State
	line := "%s %s (run %s, %d retries)"
	args := []any{output.OutcomeColor(string(res.Outcome)), issueLabel(st.Issue), res.RunID, st.RetryCount}
	if res.Outcome == pipeline.OutcomeSuccess {
		ui.Success(line, args...)
	} else {
		ui.Error(line, args...)
		if res.Err != nil {
			ui.Error("%v", res.Err)
		}
	}
	if res.Degraded {
		ui.Warning("quality gate ran without tests")
	}
	if p := st.Publish; p != nil {
		switch {
		case p.PRURL != "":
			ui.Info("pull request: %s", output.Cyan(p.PRURL))
		case p.CommitSHA != "":
			ui.Info("committed %s on %s", p.CommitSHA, p.Branch)
		case p.Skipped:
			ui.Info("changes left uncommitted in %s", st.WorkDir)
		}
		for _, f := range p.Files {
			ui.VerboseLog("%s", f)
		}
	}
	ui.VerboseLog("artifacts: %s", res.RunDir)
}

func issueLabel(is *pipeline.IssueRecord) string {
	switch {
	case is == nil:
		return "issue"
	case is.Number > 0:
		return "#" + strconv.Itoa(is.Number)
	case is.Title != "":
		return is.Title
	default:
		return "issue"
	}
}

func init() {
	runCmd.Flags().String("issue", "", "issue number, path to an issue file, or issue text")
	runCmd.Flags().String("repo", "", "repository URL or local path (default: repo from the config file)")
	runCmd.Flags().String("base-ref", "", "commit or branch to start from")
	runCmd.Flags().String("branch", "", "working branch name (default: factory/<issue>-<slug>)")
	runCmd.Flags().String("dest", "", "checkout directory (default: under work_dir)")
	runCmd.Flags().Bool("publish", true, "commit the change set (overrides publish.enabled)")
	runCmd.Flags().Bool("push", true, "push the branch (overrides publish.push)")
	runCmd.Flags().Bool("pr", true, "open a pull request (overrides publish.pr)")
	runCmd.Flags().String("base", "", "pull request base branch (overrides publish.base)")
}
