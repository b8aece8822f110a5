package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/lucasnoah/issuefactory/internal/checks"
	"github.com/lucasnoah/issuefactory/internal/llm"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Config for semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.RunsDir == "" {
		add("runs_dir", "is required")
	}
	if _, err := LogLevel(cfg.LogLevel); err != nil {
		add("log_level", "%v", err)
	}

	if !slices.Contains(llm.Providers, strings.ToLower(cfg.LLM.Provider)) {
		add("llm.provider", "unknown provider %q (want one of %s)", cfg.LLM.Provider, strings.Join(llm.Providers, ", "))
	}
	if cfg.LLM.MaxTokens < 0 {
		add("llm.max_tokens", "must not be negative")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		add("llm.temperature", "must be between 0 and 2")
	}

	for _, d := range []struct{ field, value string }{
		{"llm.timeout", cfg.LLM.Timeout},
		{"gate.check_timeout", cfg.Gate.CheckTimeout},
		{"gate.install_timeout", cfg.Gate.InstallTimeout},
	} {
		if _, err := duration(d.value); err != nil {
			add(d.field, "invalid duration %q: %v", d.value, err)
		}
	}

	if cfg.Gate.MaxRetries < 1 {
		add("gate.max_retries", "must be at least 1")
	}
	for _, p := range []struct{ field, name string }{
		{"gate.lint_parser", cfg.Gate.LintParser},
		{"gate.test_parser", cfg.Gate.TestParser},
	} {
		if p.name != "" && !slices.Contains(checks.ParserNames(), p.name) {
			add(p.field, "unrecognized parser %q", p.name)
		}
	}

	if cfg.Planner.MaxCandidates < 1 {
		add("planner.max_candidates", "must be at least 1")
	}
	if cfg.Planner.FormatRetries < 0 {
		add("planner.format_retries", "must not be negative")
	}
	if cfg.Generator.FileTokens < 1 {
		add("generator.file_tokens", "must be at least 1")
	}
	if cfg.Generator.ContextTokens < 0 {
		add("generator.context_tokens", "must not be negative")
	}
	if cfg.Generator.FormatRetries < 0 {
		add("generator.format_retries", "must not be negative")
	}

	if !cfg.Publish.Enabled && (cfg.Publish.Push || cfg.Publish.PR) {
		add("publish", "push and pr require enabled: true")
	}

	if cfg.Benchmark.Concurrency < 1 {
		add("benchmark.concurrency", "must be at least 1")
	}
	if cfg.Benchmark.Samples < 0 {
		add("benchmark.samples", "must not be negative")
	}

	return errs
}

// LogLevel parses a level name.
func LogLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
	return l, nil
}
