package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/issuefactory/internal/analytics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate run history: phase timings, gate pass rates, retries, throughput",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		ui := newUI(cmd)
		h := openHistory(cfg, ui)
		if h == nil {
			return errors.New("stats need run history (set db in the config file)")
		}
		defer h.Close()
		since, _ := cmd.Flags().GetString("since")

		phases, err := analytics.QueryPhaseDurations(h, since)
		if err != nil {
			return err
		}
		checks, err := analytics.QueryCheckPassRates(h, since)
		if err != nil {
			return err
		}
		retries, err := analytics.QueryRetryDistribution(h, since)
		if err != nil {
			return err
		}
		weeks, err := analytics.QueryThroughput(h, since)
		if err != nil {
			return err
		}

		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			return writeJSON(cmd, map[string]any{
				"phases":     phases,
				"checks":     checks,
				"retries":    retries,
				"throughput": weeks,
			})
		}

		out := cmd.OutOrStdout()
		pt := ui.Table([]string{"Phase", "Count", "Errors", "Avg s", "P50 s", "P95 s"})
		for _, p := range phases {
			_ = pt.Append([]string{p.Phase, strconv.Itoa(p.Count), strconv.Itoa(p.Errors), num(p.Avg), num(p.P50), num(p.P95)})
		}
		if err := pt.Render(); err != nil {
			return err
		}

		fmt.Fprintln(out)
		ct := ui.Table([]string{"Check", "Runs", "First pass", "After retry", "Never"})
		for _, c := range checks {
			_ = ct.Append([]string{c.Check, strconv.Itoa(c.Runs), num(c.FirstPass) + "%", num(c.AfterRetry) + "%", num(c.NeverPassed) + "%"})
		}
		if err := ct.Render(); err != nil {
			return err
		}

		fmt.Fprintln(out)
		ui.Info("retries over %d finished runs: 0: %s%%  1: %s%%  2: %s%%  3+: %s%%",
			retries.Runs, num(retries.Zero), num(retries.One), num(retries.Two), num(retries.ThreePlus))

		fmt.Fprintln(out)
		wt := ui.Table([]string{"Week", "Runs", "Succeeded", "Failed", "Cancelled", "Avg min"})
		for _, w := range weeks {
			_ = wt.Append([]string{w.Period, strconv.Itoa(w.Runs), strconv.Itoa(w.Succeeded), strconv.Itoa(w.Failed), strconv.Itoa(w.Cancelled), num(w.AvgDuration)})
		}
		return wt.Render()
	},
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', 1, 64)
}

func init() {
	statsCmd.Flags().String("since", "", "only runs started on or after this date (YYYY-MM-DD)")
	statsCmd.Flags().String("format", "text", "Output format: text or json")
}
