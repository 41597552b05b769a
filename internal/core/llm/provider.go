package llm

import (
	"context"
	"fmt"
)

// LLMProvider interface for the chat-completion backends. All supported
// backends speak the OpenAI wire protocol.
type LLMProvider interface {
	GenerateResponse(ctx context.Context, systemPrompt, userMessage string) (string, error)
	// GenerateJSON forces a JSON-object response, used by the offer extractor.
	GenerateJSON(ctx context.Context, systemPrompt, userMessage string) (string, error)
	GetProviderName() string
}

// ProviderType for the factory
type ProviderType string

const (
	ProviderOpenAI   ProviderType = "openai"
	ProviderGroq     ProviderType = "groq"
	ProviderDeepSeek ProviderType = "deepseek"
)

// ProviderConfig to create a provider
type ProviderConfig struct {
	Type ProviderType

	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
}

// NewProvider factory to create an LLM provider
func NewProvider(cfg *ProviderConfig) (LLMProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for LLM provider %q", cfg.Type)
	}

	switch cfg.Type {
	case ProviderOpenAI, "":
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens), nil

	case ProviderGroq:
		return NewGroqProvider(cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens), nil

	case ProviderDeepSeek:
		return NewDeepSeekProvider(cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens), nil

	default:
		return nil, fmt.Errorf("unknown LLM provider type: %s", cfg.Type)
	}
}
