package embedding

import (
	"fmt"
	"time"
)

// FactoryConfig selects and configures an embedding provider.
type FactoryConfig struct {
	// Provider is "openai" or "ollama".
	Provider string

	// APIKey authenticates against hosted providers (openai only).
	APIKey string

	// Model overrides the provider's default embedding model.
	Model string

	// BaseURL overrides the provider's default endpoint.
	BaseURL string

	// Timeout bounds each embedding request.
	Timeout time.Duration
}

// NewGenerator builds the Generator named by cfg.Provider.
func NewGenerator(cfg FactoryConfig) (Generator, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedding: openai provider requires an API key")
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}), nil
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}
