package agent

import (
	"context"
	"fmt"
	"strings"
)

// MockProvider answers offline with text derived from the prompt. It lets
// the whole workflow be walked without credentials.
type MockProvider struct {
	model string
}

// NewMockProvider creates a mock provider.
func NewMockProvider(model string) *MockProvider {
	if model == "" {
		model = "mock"
	}
	return &MockProvider{model: model}
}

// Name implements Provider.
func (p *MockProvider) Name() string { return ProviderMock }

// Complete implements Provider.
func (p *MockProvider) Complete(ctx context.Context, prompt string) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	role := strings.TrimSpace(strings.SplitN(prompt, "\n", 2)[0])
	text := fmt.Sprintf("[%s] %s\n\n%d characters of context received.", p.model, role, len(prompt))
	return &Completion{
		Text:      text,
		Model:     p.model,
		TokensIn:  int64(len(strings.Fields(prompt))),
		TokensOut: int64(len(strings.Fields(text))),
	}, nil
}
