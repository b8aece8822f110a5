package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lucasnoah/issuefactory/internal/checks"
	"github.com/lucasnoah/issuefactory/internal/llm"
	"github.com/lucasnoah/issuefactory/internal/planner"
)

// DefaultRepo is the sample project runs use when no repository is named.
const DefaultRepo = "https://github.com/SDT-DeveloperTwin/SDT-Testing-Project.git"

// EnvPrefix prefixes environment overrides, e.g. FACTORY_LLM_PROVIDER.
const EnvPrefix = "FACTORY"

// FactoryHome returns ~/.factory, or .factory when there is no home.
func FactoryHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".factory"
	}
	return filepath.Join(home, ".factory")
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	home := FactoryHome()
	v.SetDefault("runs_dir", filepath.Join(home, "runs"))
	v.SetDefault("work_dir", filepath.Join(home, "work"))
	v.SetDefault("repo", DefaultRepo)
	v.SetDefault("db", filepath.Join(home, "factory.db"))
	v.SetDefault("prompts_dir", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_tokens", 8192)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", "3m")

	v.SetDefault("gate.max_retries", checks.DefaultMaxRetries)
	v.SetDefault("gate.check_timeout", checks.DefaultTimeout.String())
	v.SetDefault("gate.lint_parser", "auto")
	v.SetDefault("gate.test_parser", "auto")
	v.SetDefault("gate.run_install", true)
	v.SetDefault("gate.install_timeout", "10m")

	v.SetDefault("planner.max_candidates", planner.DefaultMaxCandidates)
	v.SetDefault("planner.format_retries", planner.DefaultFormatRetries)
	v.SetDefault("planner.infer_missing_tests", false)

	v.SetDefault("generator.file_tokens", 12000)
	v.SetDefault("generator.context_tokens", 6000)
	v.SetDefault("generator.format_retries", 1)
	v.SetDefault("generator.convention_samples", 1)

	v.SetDefault("publish.enabled", true)
	v.SetDefault("publish.push", true)
	v.SetDefault("publish.pr", true)
	v.SetDefault("publish.base", "")
	v.SetDefault("publish.author_name", "")
	v.SetDefault("publish.author_email", "")

	v.SetDefault("commands.install", "")
	v.SetDefault("commands.lint", "")
	v.SetDefault("commands.test", "")
	v.SetDefault("commands.run", "")

	v.SetDefault("benchmark.concurrency", 2)
	v.SetDefault("benchmark.samples", 0)
	v.SetDefault("benchmark.output_dir", filepath.Join(home, "bench"))
}

// Load reads configuration into v and decodes it. An explicit path must
// exist; otherwise ./factory.yaml and ~/.factory/config.yaml are tried in
// that order and a missing file is not an error. The returned string is
// the file that was read, or "".
func Load(v *viper.Viper, path string) (*Config, string, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("reading config file: %w", err)
		}
	} else if found := findDefault(); found != "" {
		v.SetConfigFile(found)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("reading config file %s: %w", found, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, v.ConfigFileUsed(), nil
}

// SearchPaths lists the default config locations in lookup order.
func SearchPaths() []string {
	return []string{"factory.yaml", filepath.Join(FactoryHome(), "config.yaml")}
}

func findDefault() string {
	for _, p := range SearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// duration parses a duration field; empty means zero.
func duration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("must not be negative")
	}
	return d, nil
}

// LLMTimeout is the per-call model timeout.
func (c *Config) LLMTimeout() time.Duration {
	d, _ := duration(c.LLM.Timeout)
	return d
}

// CheckTimeout is the per-command lint/test timeout.
func (c *Config) CheckTimeout() time.Duration {
	d, _ := duration(c.Gate.CheckTimeout)
	return d
}

// InstallTimeout bounds the dependency install.
func (c *Config) InstallTimeout() time.Duration {
	d, _ := duration(c.Gate.InstallTimeout)
	return d
}

// ModelConfig converts the llm section for llm.New.
func (c *Config) ModelConfig() llm.Config {
	return llm.Config{
		Provider:    c.LLM.Provider,
		Model:       c.LLM.Model,
		APIKey:      c.LLM.APIKey,
		BaseURL:     c.LLM.BaseURL,
		MaxTokens:   c.LLM.MaxTokens,
		Temperature: c.LLM.Temperature,
	}
}

// Parser returns the parser name for a check, with "auto" meaning
// detection from the command.
func Parser(name string) string {
	if name == "auto" {
		return ""
	}
	return name
}
