// Package config loads settings for the SDLC assistant from user and
// project YAML files and the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yalochat/sdlc-assistant/internal/agent"
)

const (
	appName           = "sdlc"
	projectConfigName = ".sdlc.yaml"
)

// Config holds all configuration.
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm"`
	Store   StoreConfig   `mapstructure:"store"`
	Server  ServerConfig  `mapstructure:"server"`
	Prompts PromptsConfig `mapstructure:"prompts"`
	GitHub  GitHubConfig  `mapstructure:"github"`
	Log     LogConfig     `mapstructure:"log"`
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	Provider   string        `mapstructure:"provider"`
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxTokens  int64         `mapstructure:"max_tokens"`
	AWSRegion  string        `mapstructure:"aws_region"`
	AWSProfile string        `mapstructure:"aws_profile"`
	CLIPath    string        `mapstructure:"cli_path"`
	// Keys holds per-provider credentials picked up from the environment.
	Keys map[string]string `mapstructure:"keys"`
}

// StoreConfig holds the run journal location. Empty means in-memory only.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PromptsConfig points at an optional template override directory.
type PromptsConfig struct {
	Dir string `mapstructure:"dir"`
}

// GitHubConfig holds the default publish target.
type GitHubConfig struct {
	Repo   string `mapstructure:"repo"`
	Token  string `mapstructure:"token"`
	Branch string `mapstructure:"branch"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration with this precedence, highest first:
// 1. Environment variables (SDLC_*, provider keys, GITHUB_TOKEN, PORT, DB_PATH)
// 2. Project config (.sdlc.yaml in current directory or parent)
// 3. User config (~/.config/sdlc/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file plus the environment.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.LLM.APIKey = os.ExpandEnv(cfg.LLM.APIKey)
	cfg.GitHub.Token = os.ExpandEnv(cfg.GitHub.Token)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("SDLC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("llm.keys.anthropic", "ANTHROPIC_API_KEY")
	v.BindEnv("llm.keys.openai", "OPENAI_API_KEY")
	v.BindEnv("llm.keys.groq", "GROQ_API_KEY")
	v.BindEnv("github.token", "SDLC_GITHUB_TOKEN", "GITHUB_TOKEN")
	v.BindEnv("server.port", "SDLC_SERVER_PORT", "PORT")
	v.BindEnv("store.path", "SDLC_STORE_PATH", "DB_PATH")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.timeout", "5m")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.aws_region", "")
	v.SetDefault("llm.aws_profile", "")
	v.SetDefault("llm.cli_path", "")
	v.SetDefault("llm.keys.anthropic", "")
	v.SetDefault("llm.keys.openai", "")
	v.SetDefault("llm.keys.groq", "")

	v.SetDefault("store.path", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("prompts.dir", "prompts")

	v.SetDefault("github.repo", "")
	v.SetDefault("github.token", "")
	v.SetDefault("github.branch", "")

	v.SetDefault("log.level", "info")
}

// Validate rejects malformed settings. A missing provider or credential is
// not an error: the workflow starts blocked instead.
func (c *Config) Validate() error {
	if c.LLM.Provider != "" {
		if _, ok := agent.ModelOptions[c.LLM.Provider]; !ok {
			return fmt.Errorf("llm.provider %q is not one of %s", c.LLM.Provider, strings.Join(Providers(), ", "))
		}
	}
	if c.LLM.Timeout < 0 {
		return fmt.Errorf("llm.timeout must not be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Agent converts the LLM section into a provider config. An explicit
// api_key wins over the provider's environment key.
func (c *Config) Agent() agent.Config {
	key := c.LLM.APIKey
	if key == "" {
		name := c.LLM.Provider
		if name == agent.ProviderBedrock {
			name = agent.ProviderAnthropic
		}
		key = c.LLM.Keys[name]
	}
	return agent.Config{
		Provider:   c.LLM.Provider,
		Model:      c.LLM.Model,
		APIKey:     key,
		BaseURL:    c.LLM.BaseURL,
		MaxTokens:  c.LLM.MaxTokens,
		Timeout:    c.LLM.Timeout,
		AWSRegion:  c.LLM.AWSRegion,
		AWSProfile: c.LLM.AWSProfile,
		CLIPath:    c.LLM.CLIPath,
	}
}

// Providers lists the accepted llm.provider values in a stable order.
func Providers() []string {
	return []string{
		agent.ProviderAnthropic,
		agent.ProviderBedrock,
		agent.ProviderOpenAI,
		agent.ProviderGroq,
		agent.ProviderClaudeCLI,
		agent.ProviderMock,
	}
}

// ParseLogLevel maps a config string to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// getUserConfigDir returns the XDG config directory.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", appName)
	}
	return filepath.Join(home, ".config", appName)
}

// findProjectConfig searches for .sdlc.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, projectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}
