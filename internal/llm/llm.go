// Package llm is the narrow text-generation interface used by the planner
// and generator, with provider implementations and decorators.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Request is one prompt sent to a model.
type Request struct {
	// Purpose labels the call for logs and metrics ("plan", "source", "test").
	Purpose     string
	System      string
	User        string
	MaxTokens   int
	Temperature float32
	// JSON asks providers that support it for a JSON-only response.
	JSON bool
}

// Model turns a prompt into text.
type Model interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ErrEmptyResponse is returned when a provider answered with no text.
var ErrEmptyResponse = errors.New("model returned no text")

// Config selects and configures a provider.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float32
}

// Providers lists the recognised provider names.
var Providers = []string{"gemini", "anthropic", "openai", "ollama"}

// DefaultModels maps each provider to the model used when none is configured.
var DefaultModels = map[string]string{
	"gemini":    "gemini-2.0-flash",
	"anthropic": "claude-sonnet-4-5",
	"openai":    "gpt-4.1-mini",
	"ollama":    "qwen2.5-coder",
}

// New builds the provider named in cfg. Requests that leave MaxTokens or
// Temperature unset get the configured values.
func New(ctx context.Context, cfg Config) (Model, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModels[strings.ToLower(cfg.Provider)]
	}
	var (
		m   Model
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "":
		m, err = NewGemini(ctx, cfg.APIKey, model)
	case "anthropic":
		m = NewAnthropic(cfg.APIKey, model)
	case "openai":
		m = NewOpenAI(cfg.APIKey, cfg.BaseURL, model)
	case "ollama":
		m, err = NewOllama(cfg.BaseURL, model)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return &configured{next: m, maxTokens: cfg.MaxTokens, temperature: cfg.Temperature}, nil
}

type configured struct {
	next        Model
	maxTokens   int
	temperature float32
}

func (c *configured) Generate(ctx context.Context, req Request) (string, error) {
	return c.next.Generate(ctx, withDefaults(req, c.maxTokens, c.temperature))
}

// withDefaults fills zero request limits from provider defaults.
func withDefaults(req Request, maxTokens int, temperature float32) Request {
	if req.MaxTokens <= 0 {
		req.MaxTokens = maxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = temperature
	}
	return req
}

// joinPrompt folds the system text into the user text for providers that
// take a single input string.
func joinPrompt(req Request) string {
	if req.System == "" {
		return req.User
	}
	return req.System + "\n\n" + req.User
}
