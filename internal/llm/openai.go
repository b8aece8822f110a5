package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// OpenAI calls the OpenAI Responses API.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an OpenAI model. baseURL may point at any
// Responses-compatible endpoint.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}
}

// Generate implements Model.
func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	req = withDefaults(req, 8192, 0.2)
	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(req.MaxTokens)),
		Temperature:     openai.Float(float64(req.Temperature)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(req.User)},
	}
	if req.System != "" {
		params.Instructions = openai.String(req.System)
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai responses call: %w", err)
	}
	text := resp.OutputText()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
