package agent

import (
	"fmt"
	"os"
	"time"

	"github.com/yalochat/sdlc-assistant/internal/engine"
)

// Provider names accepted by NewProvider.
const (
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderOpenAI    = "openai"
	ProviderGroq      = "groq"
	ProviderClaudeCLI = "claude-cli"
	ProviderMock      = "mock"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"
	groqBaseURL   = "https://api.groq.com/openai/v1"

	defaultOpenAIModel = "gpt-4o"
	defaultGroqModel   = "llama-3.3-70b-versatile"
	defaultMaxTokens   = 4096
)

// Config selects and configures a provider.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	MaxTokens  int64
	Timeout    time.Duration
	AWSRegion  string
	AWSProfile string
	// CLIPath is the claude executable for the claude-cli provider.
	CLIPath string
}

// ModelOptions lists the selectable models per provider.
var ModelOptions = map[string][]string{
	ProviderAnthropic: {"claude-sonnet-4-20250514", "claude-sonnet-4-5-20250929", "claude-haiku-4-5-20251001"},
	ProviderBedrock:   {"claude-sonnet-4-20250514", "claude-sonnet-4-5-20250929"},
	ProviderOpenAI:    {"gpt-4o", "gpt-4o-mini", "gpt-4.1"},
	ProviderGroq:      {"llama-3.3-70b-versatile", "llama-3.1-8b-instant", "gemma2-9b-it"},
	ProviderClaudeCLI: {"sonnet", "opus", "haiku"},
	ProviderMock:      {"mock"},
}

// NewProvider builds the configured provider. A missing provider or
// credential is reported as engine.ErrAgentUnavailable so the caller can
// start the workflow in its blocked state.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "":
		return nil, fmt.Errorf("%w: no provider selected", engine.ErrAgentUnavailable)
	case ProviderAnthropic, ProviderBedrock:
		return NewAnthropicProvider(cfg)
	case ProviderOpenAI:
		return newCompatible(cfg, "openai", openAIBaseURL, defaultOpenAIModel, "OPENAI_API_KEY")
	case ProviderGroq:
		return newCompatible(cfg, "groq", groqBaseURL, defaultGroqModel, "GROQ_API_KEY")
	case ProviderClaudeCLI:
		return NewClaudeCLIProvider(cfg), nil
	case ProviderMock:
		return NewMockProvider(cfg.Model), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

func newCompatible(cfg Config, name, baseURL, model, envKey string) (Provider, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(envKey)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s is not set", engine.ErrAgentUnavailable, envKey)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURL
	}
	if cfg.Model == "" {
		cfg.Model = model
	}
	return NewOpenAIProvider(name, cfg), nil
}
