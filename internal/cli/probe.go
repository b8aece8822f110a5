package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/issuefactory/internal/pipeline"
	"github.com/lucasnoah/issuefactory/internal/probe"
)

var probeCmd = &cobra.Command{
	Use:   "probe [dir]",
	Short: "Detect the language and lint/test commands of a checkout",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return err
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			return fmt.Errorf("not a directory: %s", dir)
		}

		pc := probe.New(cfg.Commands, nil).Probe(abs, "")

		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			return writeJSON(cmd, pc)
		}
		printProject(cmd, pc)
		return nil
	},
}

func printProject(cmd *cobra.Command, pc *pipeline.ProjectContext) {
	ui := newUI(cmd)
	table := ui.Table([]string{"Field", "Value"})
	rows := [][]string{
		{"root", pc.Root},
		{"language", orDash(pc.Language)},
		{"framework", orDash(pc.Framework)},
		{"install", orDash(pc.InstallCommand)},
		{"lint", orDash(pc.LintCommand)},
		{"test", orDash(pc.TestCommand)},
		{"run", orDash(pc.RunCommand)},
	}
	for _, m := range pc.Manifests {
		rows = append(rows, []string{"manifest", m})
	}
	keys := make([]string, 0, len(pc.Signals))
	for k := range pc.Signals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rows = append(rows, []string{k, pc.Signals[k]})
	}
	for _, r := range rows {
		_ = table.Append(r)
	}
	_ = table.Render()
	if pc.Description != "" {
		ui.VerboseLog("%s", pc.Description)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func init() {
	probeCmd.Flags().String("format", "text", "Output format: text or json")
}
