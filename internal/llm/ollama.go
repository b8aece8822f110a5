package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// Ollama calls a local Ollama server.
type Ollama struct {
	client *api.Client
	model  string
}

// NewOllama creates an Ollama model talking to hostURL.
func NewOllama(hostURL, model string) (*Ollama, error) {
	if hostURL == "" {
		hostURL = DefaultOllamaURL
	}
	parsed, err := url.Parse(hostURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url %q: %w", hostURL, err)
	}
	return &Ollama{client: api.NewClient(parsed, http.DefaultClient), model: model}, nil
}

// Generate implements Model.
func (o *Ollama) Generate(ctx context.Context, req Request) (string, error) {
	req = withDefaults(req, 8192, 0.2)
	var messages []api.Message
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.User})

	stream := false
	chat := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}

	var sb strings.Builder
	err := o.client.Chat(ctx, chat, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
