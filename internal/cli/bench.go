package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/issuefactory/internal/benchmark"
	"github.com/lucasnoah/issuefactory/internal/config"
	"github.com/lucasnoah/issuefactory/internal/output"
	"github.com/lucasnoah/issuefactory/internal/pipeline"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a dataset of issues and report outcomes",
	Long: `Runs every instance of a dataset (JSONL, a JSON array, or YAML) through the
workflow with publishing disabled. Each instance needs instance_id, repo,
problem_statement and base_commit.

Instances run in parallel up to --concurrency, each in its own directory.
benchmark.json with per-instance outcomes is written to the output directory.
The command fails when any instance did not succeed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		ui := newUI(cmd)

		path, _ := cmd.Flags().GetString("dataset")
		if path == "" {
			return errors.New("--dataset is required")
		}
		instances, err := benchmark.LoadDataset(path)
		if err != nil {
			return err
		}

		bcfg := benchmark.Config{
			Samples:     cfg.Benchmark.Samples,
			Concurrency: cfg.Benchmark.Concurrency,
		}
		if cmd.Flags().Changed("samples") {
			bcfg.Samples, _ = cmd.Flags().GetInt("samples")
		}
		if cmd.Flags().Changed("concurrency") {
			bcfg.Concurrency, _ = cmd.Flags().GetInt("concurrency")
		}
		outDir := cfg.Benchmark.OutputDir
		if cmd.Flags().Changed("output") {
			outDir, _ = cmd.Flags().GetString("output")
		}
		bcfg.WorkDir = filepath.Join(outDir, pipeline.NewRunID())
		if err := os.MkdirAll(bcfg.WorkDir, 0o755); err != nil {
			return fmt.Errorf("create benchmark dir: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Per-run logs go to each run directory; the console only gets
		// instance progress unless --verbose.
		var console io.Writer
		if verbose {
			console = cmd.ErrOrStderr()
		}
		ctrl, _, cleanup, err := newController(ctx, cfg, publishMode{}, ui, console)
		if err != nil {
			return err
		}
		defer cleanup()

		level, _ := config.LogLevel(cfg.LogLevel)
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

		ui.Info("running %d instances from %s", min(len(instances), limit(bcfg.Samples, len(instances))), path)
		rep := benchmark.New(ctrl, bcfg, logger).Run(ctx, instances)

		table := ui.Table([]string{"Instance", "Outcome", "Retries", "Run", "Duration"})
		for _, r := range rep.Results {
			if err := table.Append([]string{
				r.InstanceID,
				output.OutcomeColor(string(r.Outcome)),
				strconv.Itoa(r.RetryCount),
				r.RunID,
				output.Duration(time.Duration(r.DurationSec * float64(time.Second))),
			}); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}

		reportPath, err := benchmark.WriteReport(bcfg.WorkDir, rep)
		if err != nil {
			return err
		}
		for _, o := range rep.Outcomes() {
			ui.VerboseLog("%s: %d", o, rep.Counts[o])
		}
		ui.Info("%d/%d succeeded; report: %s", rep.Passed(), rep.Total, reportPath)

		if rep.Passed() < rep.Total {
			return &ExitError{Code: 1}
		}
		return nil
	},
}

func limit(samples, n int) int {
	if samples > 0 {
		return samples
	}
	return n
}

func init() {
	benchCmd.Flags().String("dataset", "", "dataset file (.jsonl, .json or .yaml)")
	benchCmd.Flags().Int("samples", 0, "run only the first N instances (0 = all)")
	benchCmd.Flags().Int("concurrency", 2, "instances run in parallel")
	benchCmd.Flags().String("output", "", "directory for benchmark output (overrides benchmark.output_dir)")
}
