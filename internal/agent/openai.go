package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/yalochat/sdlc-assistant/internal/engine"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
// Groq is served by the same client with a different base URL.
type OpenAIProvider struct {
	name      string
	baseURL   string
	model     string
	maxTokens int64
	client    openai.Client
}

// NewOpenAIProvider creates a provider; cfg must carry BaseURL and APIKey.
func NewOpenAIProvider(name string, cfg Config) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &OpenAIProvider{
		name:      name,
		baseURL:   cfg.BaseURL,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(baseURL),
			option.WithMaxRetries(0),
		),
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return p.name }

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (*Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if p.maxTokens > 0 {
		params.MaxTokens = openai.Int(p.maxTokens)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("%w: %s rejected the credential", engine.ErrAgentUnavailable, p.name)
			}
			return nil, fmt.Errorf("%s returned %d: %w", p.name, apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("%s request: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", p.name)
	}

	model := resp.Model
	if model == "" {
		model = p.model
	}
	return &Completion{
		Text:      resp.Choices[0].Message.Content,
		Model:     model,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}, nil
}
