package llm

import (
	"fmt"
	"strings"
)

// ProviderConfig holds the credentials and endpoints needed to construct
// clients. Per-call policy rides along as Backend options.
type ProviderConfig struct {
	OpenAIKey       string
	OpenAIBaseURL   string
	TogetherKey     string
	TogetherBaseURL string
	AnthropicKey    string
	OllamaCommand   string // defaults to "ollama"

	Options []Option
}

// NewFromConfig resolves modelID against the model table and builds its
// Backend. Every configuration problem surfaces here, before any network call.
func NewFromConfig(modelID string, cfg ProviderConfig) (*Backend, error) {
	model, err := Lookup(modelID)
	if err != nil {
		return nil, err
	}

	var client Client
	switch model.Provider {
	case ProviderOpenAI:
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("%w: %s needs OPENAI_API_KEY", ErrMissingAPIKey, modelID)
		}
		client = NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, model)

	case ProviderTogether:
		if cfg.TogetherKey == "" {
			return nil, fmt.Errorf("%w: %s needs TOGETHER_API_KEY", ErrMissingAPIKey, modelID)
		}
		client = NewTogetherClient(cfg.TogetherKey, cfg.TogetherBaseURL, model)

	case ProviderAnthropic:
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("%w: %s needs ANTHROPIC_API_KEY", ErrMissingAPIKey, modelID)
		}
		client = NewAnthropicClient(cfg.AnthropicKey, model)

	case ProviderOllama:
		command := cfg.OllamaCommand
		if command == "" {
			command = "ollama"
		}
		name := strings.TrimPrefix(model.ID, "ollama/")
		client = NewCLIClient(command, []string{"run", name}, true)

	default:
		return nil, fmt.Errorf("%w: provider %q for %q", ErrUnknownModel, model.Provider, modelID)
	}

	return NewBackend(model, client, cfg.Options...), nil
}
