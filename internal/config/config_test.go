package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

const validConfig = `
runs_dir: /tmp/factory/runs
db: postgres://factory@localhost/factory
log_level: debug
llm:
  provider: anthropic
  model: claude-sonnet-4-5
  timeout: 90s
gate:
  max_retries: 2
  check_timeout: 2m
  lint_parser: ruff
  test_parser: auto
planner:
  max_candidates: 10
  infer_missing_tests: true
publish:
  enabled: true
  push: true
  pr: false
  base: main
commands:
  lint: ruff check .
  test: pytest -q
benchmark:
  concurrency: 4
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "factory.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func load(t *testing.T, content string) *Config {
	t.Helper()
	cfg, used, err := Load(viper.New(), writeConfig(t, content))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if used == "" {
		t.Error("expected the config file to be reported as used")
	}
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg := load(t, validConfig)

	if cfg.RunsDir != "/tmp/factory/runs" {
		t.Errorf("runs_dir = %q", cfg.RunsDir)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.Model != "claude-sonnet-4-5" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.LLMTimeout() != 90*time.Second {
		t.Errorf("llm timeout = %s", cfg.LLMTimeout())
	}
	if cfg.Gate.MaxRetries != 2 || cfg.CheckTimeout() != 2*time.Minute {
		t.Errorf("gate = %+v", cfg.Gate)
	}
	if cfg.Planner.MaxCandidates != 10 || !cfg.Planner.InferMissingTests {
		t.Errorf("planner = %+v", cfg.Planner)
	}
	if cfg.Publish.PR || !cfg.Publish.Push || cfg.Publish.Base != "main" {
		t.Errorf("publish = %+v", cfg.Publish)
	}
	if cfg.Commands.Lint != "ruff check ." || cfg.Commands.Test != "pytest -q" {
		t.Errorf("commands = %+v", cfg.Commands)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("expected no validation errors, got %v", errs)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := load(t, "llm:\n  provider: openai\n")

	if cfg.Gate.MaxRetries != 3 {
		t.Errorf("default max_retries = %d, want 3", cfg.Gate.MaxRetries)
	}
	if cfg.Planner.MaxCandidates != 30 {
		t.Errorf("default max_candidates = %d, want 30", cfg.Planner.MaxCandidates)
	}
	if cfg.Planner.InferMissingTests {
		t.Error("infer_missing_tests should default to false")
	}
	if cfg.Repo != DefaultRepo {
		t.Errorf("default repo = %q, want %q", cfg.Repo, DefaultRepo)
	}
	if !cfg.Publish.Enabled {
		t.Error("publish should default to enabled")
	}
	if cfg.Generator.FileTokens != 12000 {
		t.Errorf("default file_tokens = %d", cfg.Generator.FileTokens)
	}
	if !strings.HasSuffix(cfg.DB, "factory.db") {
		t.Errorf("default db = %q", cfg.DB)
	}
	if cfg.CheckTimeout() != 5*time.Minute {
		t.Errorf("default check timeout = %s", cfg.CheckTimeout())
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("defaults should validate, got %v", errs)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FACTORY_LLM_PROVIDER", "ollama")
	t.Setenv("FACTORY_GATE_MAX_RETRIES", "5")

	cfg := load(t, validConfig)
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("provider = %q, want env override", cfg.LLM.Provider)
	}
	if cfg.Gate.MaxRetries != 5 {
		t.Errorf("max_retries = %d, want 5", cfg.Gate.MaxRetries)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, _, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, _, err := Load(viper.New(), writeConfig(t, "llm: [unclosed"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, used, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if used != "" {
		t.Errorf("no file should be used, got %q", used)
	}
	if cfg.LLM.Provider != "gemini" {
		t.Errorf("default provider = %q", cfg.LLM.Provider)
	}
}

func TestLoad_SearchesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())
	if err := os.WriteFile("factory.yaml", []byte("llm:\n  provider: anthropic\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, used, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if used != "factory.yaml" {
		t.Errorf("used = %q, want factory.yaml", used)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %q", cfg.LLM.Provider)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"unknown provider", func(c *Config) { c.LLM.Provider = "watson" }, "llm.provider"},
		{"bad timeout", func(c *Config) { c.LLM.Timeout = "soon" }, "llm.timeout"},
		{"negative check timeout", func(c *Config) { c.Gate.CheckTimeout = "-1m" }, "gate.check_timeout"},
		{"zero retries", func(c *Config) { c.Gate.MaxRetries = 0 }, "gate.max_retries"},
		{"unknown parser", func(c *Config) { c.Gate.LintParser = "pylint" }, "gate.lint_parser"},
		{"zero candidates", func(c *Config) { c.Planner.MaxCandidates = 0 }, "planner.max_candidates"},
		{"pr without commit", func(c *Config) { c.Publish.Enabled = false; c.Publish.PR = true }, "publish"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"no concurrency", func(c *Config) { c.Benchmark.Concurrency = 0 }, "benchmark.concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := load(t, validConfig)
			tt.mutate(cfg)
			errs := Validate(cfg)
			if len(errs) != 1 {
				t.Fatalf("expected 1 error, got %v", errs)
			}
			if errs[0].Field != tt.field {
				t.Errorf("field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	e := ValidationError{Field: "gate.max_retries", Message: "must be at least 1"}
	if e.Error() != "gate.max_retries: must be at least 1" {
		t.Errorf("Error() = %q", e.Error())
	}
}

func TestParser(t *testing.T) {
	if Parser("auto") != "" {
		t.Error("auto should map to detection")
	}
	if Parser("ruff") != "ruff" {
		t.Error("explicit parser should pass through")
	}
}

func TestLogLevel(t *testing.T) {
	l, err := LogLevel("warn")
	if err != nil || l.String() != "WARN" {
		t.Errorf("LogLevel(warn) = %v, %v", l, err)
	}
	if _, err := LogLevel("chatty"); err == nil {
		t.Error("expected error for unknown level")
	}
}
