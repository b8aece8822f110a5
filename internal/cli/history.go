package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/issuefactory/internal/db"
	"github.com/lucasnoah/issuefactory/internal/output"
	"github.com/lucasnoah/issuefactory/internal/pipeline"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		ui := newUI(cmd)
		limit, _ := cmd.Flags().GetInt("limit")

		if h := openHistory(cfg, ui); h != nil {
			defer h.Close()
			runs, err := h.ListRuns(limit)
			if err != nil {
				return err
			}
			if stats, _ := cmd.Flags().GetBool("stats"); stats {
				return printOutcomeCounts(ui, h)
			}
			return printRuns(cmd, ui, runs)
		}

		// Without a database the run directories are the history.
		states, err := pipeline.NewStore(cfg.RunsDir).List(limit)
		if err != nil {
			return err
		}
		runs := make([]db.Run, 0, len(states))
		for _, st := range states {
			runs = append(runs, runFromState(st))
		}
		return printRuns(cmd, ui, runs)
	},
}

func runFromState(st pipeline.WorkflowState) db.Run {
	r := db.Run{
		RunID:      st.RunID,
		Outcome:    string(st.Outcome),
		RetryCount: st.RetryCount,
		StartedAt:  st.StartedAt.Format(time.RFC3339),
	}
	if st.Issue != nil {
		r.Title = st.Issue.Title
		r.Source = string(st.Issue.Source)
		if st.Issue.Number > 0 {
			r.IssueRef = "#" + strconv.Itoa(st.Issue.Number)
		}
	}
	return r
}

func printRuns(cmd *cobra.Command, ui *output.UI, runs []db.Run) error {
	if format, _ := cmd.Flags().GetString("format"); format == "json" {
		return writeJSON(cmd, runs)
	}
	if len(runs) == 0 {
		ui.Info("No runs found.")
		return nil
	}
	table := ui.Table([]string{"Run", "Outcome", "Issue", "Retries", "Started"})
	for _, r := range runs {
		issue := r.Title
		if issue == "" {
			issue = r.IssueRef
		}
		if len(issue) > 40 {
			issue = issue[:37] + "..."
		}
		if err := table.Append([]string{r.RunID, output.OutcomeColor(r.Outcome), issue, strconv.Itoa(r.RetryCount), r.StartedAt}); err != nil {
			return err
		}
	}
	return table.Render()
}

func printOutcomeCounts(ui *output.UI, h *db.DB) error {
	counts, err := h.OutcomeCounts()
	if err != nil {
		return err
	}
	table := ui.Table([]string{"Outcome", "Runs"})
	for _, o := range []pipeline.Outcome{
		pipeline.OutcomeSuccess,
		pipeline.OutcomeIngestionFailed,
		pipeline.OutcomeCheckoutFailed,
		pipeline.OutcomePlanningFailed,
		pipeline.OutcomeGenerationFailed,
		pipeline.OutcomeQualityFailed,
		pipeline.OutcomePublishFailed,
		pipeline.OutcomeCancelled,
	} {
		if n := counts[string(o)]; n > 0 {
			if err := table.Append([]string{output.OutcomeColor(string(o)), strconv.Itoa(n)}); err != nil {
				return err
			}
		}
	}
	return table.Render()
}

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the summary, phases and checks of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		ui := newUI(cmd)
		runID := args[0]
		store := pipeline.NewStore(cfg.RunsDir)

		sum, err := store.LoadSummary(runID)
		if err != nil {
			st, serr := store.LoadState(runID)
			if serr != nil {
				return serr
			}
			ui.Warning("run %s has no summary; showing its last snapshot (phase %s)", runID, st.Phase)
			return writeJSON(cmd, st)
		}
		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			return writeJSON(cmd, sum)
		}

		ui.Info("run %s: %s (exit %d)", sum.RunID, output.OutcomeColor(string(sum.Outcome)), sum.ExitCode)
		ui.Info("issue: %s", sum.IssueRef)
		ui.Info("retries: %d, duration: %s", sum.RetryCount, output.Duration(time.Duration(sum.DurationSec*float64(time.Second))))
		for _, f := range sum.Files {
			ui.Info("file: %s", f)
		}
		if sum.CommitSHA != "" {
			ui.Info("commit: %s", sum.CommitSHA)
		}
		if sum.PRURL != "" {
			ui.Info("pull request: %s", output.Cyan(sum.PRURL))
		}
		if sum.Error != "" {
			ui.Error("%s", sum.Error)
		}
		ui.VerboseLog("artifacts: %s", store.RunDir(runID))

		h := openHistory(cfg, ui)
		if h == nil {
			return nil
		}
		defer h.Close()
		return printRunDetail(cmd, ui, h, runID)
	},
}

func printRunDetail(cmd *cobra.Command, ui *output.UI, h *db.DB, runID string) error {
	run, err := h.GetRun(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return nil
	}

	events, err := h.GetPhaseEvents(runID)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout())
	phases := ui.Table([]string{"Phase", "Result", "Duration", "Detail"})
	for _, e := range events {
		if err := phases.Append([]string{e.Phase, e.Result, output.Duration(time.Duration(e.DurationMs) * time.Millisecond), e.Detail}); err != nil {
			return err
		}
	}
	if err := phases.Render(); err != nil {
		return err
	}

	checks, err := h.GetCheckRuns(runID)
	if err != nil {
		return err
	}
	if len(checks) > 0 {
		fmt.Fprintln(cmd.OutOrStdout())
		table := ui.Table([]string{"Attempt", "Check", "Result", "Duration", "Summary"})
		for _, c := range checks {
			if err := table.Append([]string{
				strconv.Itoa(c.Attempt), c.CheckName, output.CheckColor(c.Passed, c.Skipped),
				output.Duration(time.Duration(c.DurationMs) * time.Millisecond), c.Summary,
			}); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	stats, err := h.ModelStats(runID)
	if err != nil {
		return err
	}
	if len(stats) > 0 {
		fmt.Fprintln(cmd.OutOrStdout())
		table := ui.Table([]string{"Purpose", "Calls", "Errors", "Prompt tokens", "Avg"})
		for _, s := range stats {
			if err := table.Append([]string{
				s.Purpose, strconv.Itoa(s.Calls), strconv.Itoa(s.Errors), strconv.Itoa(s.PromptTokens),
				output.Duration(time.Duration(s.AvgMs) * time.Millisecond),
			}); err != nil {
				return err
			}
		}
		return table.Render()
	}
	return nil
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of runs to list (0 = all)")
	historyCmd.Flags().Bool("stats", false, "show outcome counts instead of runs")
	historyCmd.Flags().String("format", "text", "Output format: text or json")
	showCmd.Flags().String("format", "text", "Output format: text or json")
}
