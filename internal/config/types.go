package config

import (
	"github.com/lucasnoah/issuefactory/internal/probe"
)

// Config is the factory configuration, decoded from factory.yaml layered
// under FACTORY_* environment variables and command-line flags.
type Config struct {
	// RunsDir holds one artifact directory per run.
	RunsDir string `yaml:"runs_dir" mapstructure:"runs_dir"`
	// WorkDir is the parent directory for checkouts.
	WorkDir string `yaml:"work_dir" mapstructure:"work_dir"`
	// Repo is the repository a run checks out when --repo is not given.
	// Empty falls back to the issue's own repository.
	Repo string `yaml:"repo" mapstructure:"repo"`
	// DB is a SQLite path or a postgres:// URL. Empty disables run history.
	DB         string `yaml:"db" mapstructure:"db"`
	PromptsDir string `yaml:"prompts_dir,omitempty" mapstructure:"prompts_dir"`
	LogLevel   string `yaml:"log_level" mapstructure:"log_level"`

	LLM       LLM            `yaml:"llm" mapstructure:"llm"`
	Gate      Gate           `yaml:"gate" mapstructure:"gate"`
	Planner   Planner        `yaml:"planner" mapstructure:"planner"`
	Generator Generator      `yaml:"generator" mapstructure:"generator"`
	Publish   Publish        `yaml:"publish" mapstructure:"publish"`
	Commands  probe.Commands `yaml:"commands,omitempty" mapstructure:"commands"`
	Benchmark Benchmark      `yaml:"benchmark" mapstructure:"benchmark"`
}

// LLM selects the text-generation provider.
type LLM struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	Model       string  `yaml:"model,omitempty" mapstructure:"model"`
	APIKey      string  `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL     string  `yaml:"base_url,omitempty" mapstructure:"base_url"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature"`
	Timeout     string  `yaml:"timeout" mapstructure:"timeout"`
}

// Gate configures the lint/test loop.
type Gate struct {
	MaxRetries     int    `yaml:"max_retries" mapstructure:"max_retries"`
	CheckTimeout   string `yaml:"check_timeout" mapstructure:"check_timeout"`
	LintParser     string `yaml:"lint_parser" mapstructure:"lint_parser"`
	TestParser     string `yaml:"test_parser" mapstructure:"test_parser"`
	RunInstall     bool   `yaml:"run_install" mapstructure:"run_install"`
	InstallTimeout string `yaml:"install_timeout" mapstructure:"install_timeout"`
}

// Planner tunes file classification.
type Planner struct {
	MaxCandidates     int  `yaml:"max_candidates" mapstructure:"max_candidates"`
	FormatRetries     int  `yaml:"format_retries" mapstructure:"format_retries"`
	InferMissingTests bool `yaml:"infer_missing_tests" mapstructure:"infer_missing_tests"`
}

// Generator tunes prompt budgets.
type Generator struct {
	FileTokens        int `yaml:"file_tokens" mapstructure:"file_tokens"`
	ContextTokens     int `yaml:"context_tokens" mapstructure:"context_tokens"`
	FormatRetries     int `yaml:"format_retries" mapstructure:"format_retries"`
	ConventionSamples int `yaml:"convention_samples" mapstructure:"convention_samples"`
}

// Publish controls what happens after the gate passes.
type Publish struct {
	// Enabled commits the change set. Push and PR require it.
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Push        bool   `yaml:"push" mapstructure:"push"`
	PR          bool   `yaml:"pr" mapstructure:"pr"`
	Base        string `yaml:"base,omitempty" mapstructure:"base"`
	AuthorName  string `yaml:"author_name,omitempty" mapstructure:"author_name"`
	AuthorEmail string `yaml:"author_email,omitempty" mapstructure:"author_email"`
}

// Benchmark configures `factory bench`.
type Benchmark struct {
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	Samples     int    `yaml:"samples" mapstructure:"samples"`
	OutputDir   string `yaml:"output_dir" mapstructure:"output_dir"`
}
