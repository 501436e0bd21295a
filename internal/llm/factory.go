package llm

import (
	"fmt"
	"time"
)

// FactoryConfig holds the parameters needed to create a Client.
// This is defined in the llm package to avoid importing the config package,
// keeping the llm package free of infrastructure dependencies.
type FactoryConfig struct {
	// Provider is the LLM provider name ("anthropic" or "openai").
	Provider string
	// Temperature is the sampling temperature.
	Temperature float64
	// MaxTokens is the default response token cap.
	MaxTokens int
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration
	// MaxRetries is the maximum number of retries for failed calls.
	MaxRetries int
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig
}

// NewClient creates a Client based on the configuration.
// Supports "anthropic" and "openai" providers. Returns an error for
// unsupported or empty provider values.
func NewClient(cfg FactoryConfig) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(cfg.Anthropic, cfg.Temperature, cfg.MaxTokens, cfg.Timeout, cfg.MaxRetries), nil
	case "openai":
		return NewOpenAIClient(cfg.OpenAI, cfg.Temperature, cfg.MaxTokens, cfg.Timeout, cfg.MaxRetries), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
