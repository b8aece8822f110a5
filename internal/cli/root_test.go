package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lucasnoah/issuefactory/internal/config"
	"github.com/lucasnoah/issuefactory/internal/pipeline"
	"github.com/lucasnoah/issuefactory/internal/planner"
	"github.com/lucasnoah/issuefactory/internal/prompt"
)

func executeCommand(args ...string) (string, error) {
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// resetFlags puts every flag in the command tree back to its default, so
// values such as --help do not leak from one test into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// testConfig writes a config that keeps every path inside a temp dir.
func testConfig(t *testing.T, withDB bool) (path, runsDir string) {
	t.Helper()
	dir := t.TempDir()
	runsDir = filepath.Join(dir, "runs")
	dsn := ""
	if withDB {
		dsn = filepath.Join(dir, "factory.db")
	}
	content := fmt.Sprintf("runs_dir: %s\nwork_dir: %s\ndb: %q\n", runsDir, filepath.Join(dir, "work"), dsn)
	path = filepath.Join(dir, "factory.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path, runsDir
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestVersionString(t *testing.T) {
	tests := []struct {
		rev  revision
		want string
	}{
		{revision{}, "1.2.0"},
		{revision{sha: "0123456789abcdef"}, "1.2.0 (0123456789ab)"},
		{revision{sha: "abc123", dirty: true}, "1.2.0 (abc123-dirty)"},
	}
	for _, tt := range tests {
		if got := versionString("1.2.0", tt.rev); got != tt.want {
			t.Errorf("versionString(%+v) = %q, want %q", tt.rev, got, tt.want)
		}
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{
		"run", "bench", "probe", "plan", "history",
		"show", "stats", "prompts", "config", "db", "version",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestSubcommandHelp(t *testing.T) {
	cmds := [][]string{
		{"run"}, {"bench"}, {"probe"}, {"plan"}, {"history"}, {"show"}, {"stats"},
		{"config", "validate"}, {"config", "show"}, {"config", "init"},
		{"db", "migrate"}, {"db", "reset"},
	}
	for _, c := range cmds {
		out, err := executeCommand(append(c, "--help")...)
		if err != nil {
			t.Errorf("%s --help failed: %v", strings.Join(c, " "), err)
		}
		if out == "" {
			t.Errorf("%s --help produced no output", strings.Join(c, " "))
		}
	}
}

func TestFlagsDoNotLeakBetweenCommands(t *testing.T) {
	if _, err := executeCommand("history", "--help"); err != nil {
		t.Fatalf("history --help: %v", err)
	}
	cfg, _ := testConfig(t, false)
	out, err := executeCommand("history", "--config", cfg)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if strings.Contains(out, "Usage:") {
		t.Errorf("help flag leaked into the next invocation:\n%s", out)
	}
	if !strings.Contains(out, "No runs found.") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}

func TestConfigInitThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "factory.yaml")
	if _, err := executeCommand("config", "init", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# issuefactory configuration.") {
		t.Errorf("missing header:\n%s", data)
	}
	if !strings.Contains(string(data), "max_retries: 3") {
		t.Errorf("defaults not spelled out:\n%s", data)
	}

	out, err := executeCommand("config", "validate", "--config", path)
	if err != nil {
		t.Fatalf("config validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Configuration is valid.") {
		t.Errorf("unexpected output: %s", out)
	}

	if _, err := executeCommand("config", "init", path); err == nil {
		t.Error("expected init to refuse overwriting an existing file")
	}
}

func TestConfigValidate_ReportsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "factory.yaml")
	if err := os.WriteFile(path, []byte("gate:\n  max_retries: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := executeCommand("config", "validate", "--config", path)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(out, "gate.max_retries") {
		t.Errorf("expected the failing field in output, got: %s", out)
	}
}

func TestConfigShow_MasksAPIKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "factory.yaml")
	if err := os.WriteFile(path, []byte("llm:\n  provider: openai\n  api_key: sk-secret\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := executeCommand("config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "sk-secret") {
		t.Error("api key must not be printed")
	}
	if !strings.Contains(out, "provider: openai") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestProbeCommand(t *testing.T) {
	cfg, _ := testConfig(t, false)
	repo := t.TempDir()
	if err := os.WriteFile(filepath.Join(repo, "go.mod"), []byte("module example.com/x\n\ngo 1.22\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := executeCommand("probe", repo, "--format", "json", "--config", cfg)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !strings.Contains(out, `"language": "go"`) {
		t.Errorf("expected go language, got: %s", out)
	}
	if !strings.Contains(out, `"test_command": "go test ./..."`) {
		t.Errorf("expected go test command, got: %s", out)
	}
}

func TestRun_RequiresIssue(t *testing.T) {
	cfg, _ := testConfig(t, false)
	_, err := executeCommand("run", "--config", cfg)
	if err == nil || !strings.Contains(err.Error(), "--issue is required") {
		t.Errorf("expected missing issue error, got %v", err)
	}
}

func TestRun_PushNeedsPublish(t *testing.T) {
	cfg, _ := testConfig(t, false)
	_, err := executeCommand("run", "--config", cfg, "--issue", "fix it", "--publish=false", "--push")
	if err == nil || !strings.Contains(err.Error(), "need publishing enabled") {
		t.Errorf("expected publish error, got %v", err)
	}
}

func TestRunRequest_Repo(t *testing.T) {
	cfg := &config.Config{Repo: config.DefaultRepo}
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"configured default", []string{"--issue", "fix the discount"}, config.DefaultRepo},
		{"flag wins", []string{"--issue", "7", "--repo", "https://github.com/acme/shop"}, "https://github.com/acme/shop"},
		{"explicit empty flag", []string{"--issue", "7", "--repo", ""}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags(rootCmd)
			t.Cleanup(func() { resetFlags(rootCmd) })
			if err := runCmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("parse flags: %v", err)
			}
			req, err := runRequest(runCmd, cfg)
			if err != nil {
				t.Fatalf("runRequest: %v", err)
			}
			if req.Repo != tt.want {
				t.Errorf("repo = %q, want %q", req.Repo, tt.want)
			}
		})
	}
}

func TestFormatRetries(t *testing.T) {
	if got := formatRetries(0); got != planner.NoRetries {
		t.Errorf("formatRetries(0) = %d, want NoRetries", got)
	}
	if got := formatRetries(2); got != 2 {
		t.Errorf("formatRetries(2) = %d", got)
	}
}

func TestConfigShow_DefaultRepo(t *testing.T) {
	cfg, _ := testConfig(t, false)
	out, err := executeCommand("config", "show", "--config", cfg)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, config.DefaultRepo) {
		t.Errorf("expected the default repository in output, got: %s", out)
	}
}

func TestHistory_Empty(t *testing.T) {
	cfg, _ := testConfig(t, false)
	out, err := executeCommand("history", "--config", cfg)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "No runs found.") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestShow_Summary(t *testing.T) {
	cfg, runsDir := testConfig(t, false)
	store := pipeline.NewStore(runsDir)
	sum := &pipeline.Summary{
		RunID:     "01JTESTRUN",
		IssueRef:  "#42",
		Outcome:   pipeline.OutcomeSuccess,
		Files:     []string{"price_utils.py"},
		CommitSHA: "abc123",
	}
	if err := store.Create(sum.RunID); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSummary(sum); err != nil {
		t.Fatal(err)
	}

	out, err := executeCommand("show", sum.RunID, "--config", cfg)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"01JTESTRUN", "#42", "price_utils.py", "abc123"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
}

func TestShow_UnknownRun(t *testing.T) {
	cfg, _ := testConfig(t, false)
	if _, err := executeCommand("show", "nope", "--config", cfg); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestDBMigrateAndReset(t *testing.T) {
	cfg, _ := testConfig(t, true)
	out, err := executeCommand("db", "migrate", "--config", cfg)
	if err != nil {
		t.Fatalf("db migrate: %v", err)
	}
	if !strings.Contains(out, "schema is up to date") {
		t.Errorf("unexpected output: %s", out)
	}

	if _, err := executeCommand("db", "reset", "--config", cfg); err == nil {
		t.Error("expected reset to require --yes")
	}
	if _, err := executeCommand("db", "reset", "--yes", "--config", cfg); err != nil {
		t.Errorf("db reset --yes: %v", err)
	}
}

func TestStats_EmptyHistory(t *testing.T) {
	cfg, _ := testConfig(t, true)
	out, err := executeCommand("stats", "--config", cfg)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "retries over 0 finished runs") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestStats_RequiresDatabase(t *testing.T) {
	cfg, _ := testConfig(t, false)
	if _, err := executeCommand("stats", "--config", cfg); err == nil {
		t.Error("expected stats to need a database")
	}
}

func TestPromptsList(t *testing.T) {
	out, err := executeCommand("prompts", "list")
	if err != nil {
		t.Fatalf("prompts list: %v", err)
	}
	if strings.Count(out, "\n") != len(prompt.Names()) {
		t.Errorf("expected one line per template, got:\n%s", out)
	}
}

func TestExitError(t *testing.T) {
	err := error(&ExitError{Code: 5})
	if err.Error() != "exit status 5" {
		t.Errorf("Error() = %q", err.Error())
	}
	var ee *ExitError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &ee) || ee.Code != 5 {
		t.Error("ExitError should survive wrapping")
	}
	inner := errors.New("boom")
	if !errors.Is(&ExitError{Code: 2, Err: inner}, inner) {
		t.Error("ExitError should unwrap to its cause")
	}
}
