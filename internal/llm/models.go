package llm

import (
	"fmt"
	"sort"
	"time"

	"github.com/HexSleeves/guesscard/internal/buffer"
)

// Provider names a backend family.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderTogether  Provider = "together"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
)

// Model is the concrete backend configuration for one model identifier.
type Model struct {
	ID                string
	Provider          Provider
	Dialect           buffer.Dialect
	MaxTokens         int
	Temperature       float64
	TopP              float64
	TopK              int
	RepetitionPenalty float64
	Stop              []string

	// MinInterval paces calls client-side; zero means unpaced.
	MinInterval time.Duration
}

var llamaStop = []string{"[INST]", "None", "User:"}

func openAIModel(id string) Model {
	return Model{ID: id, Provider: ProviderOpenAI, Dialect: buffer.DialectPlain, MaxTokens: 256, Temperature: 0.8}
}

func togetherModel(id string) Model {
	return Model{
		ID:                id,
		Provider:          ProviderTogether,
		Dialect:           buffer.DialectLlama,
		MaxTokens:         256,
		Temperature:       0.8,
		TopP:              0.6,
		TopK:              60,
		RepetitionPenalty: 1.1,
		Stop:              llamaStop,
		MinInterval:       5 * time.Second,
	}
}

func anthropicModel(id string) Model {
	return Model{ID: id, Provider: ProviderAnthropic, Dialect: buffer.DialectPlain, MaxTokens: 256, Temperature: 0.8}
}

// models is the closed set of supported identifiers.
var models = map[string]Model{
	"gpt-3.5-turbo-0613":                      openAIModel("gpt-3.5-turbo-0613"),
	"gpt-3.5-turbo":                           openAIModel("gpt-3.5-turbo"),
	"gpt-3.5-turbo-16k":                       openAIModel("gpt-3.5-turbo-16k"),
	"ft:gpt-3.5-turbo-0613:personal::8G9xDV6J": openAIModel("ft:gpt-3.5-turbo-0613:personal::8G9xDV6J"),
	"gpt-4":                                   openAIModel("gpt-4"),

	"togethercomputer/llama-2-7b":      togetherModel("togethercomputer/llama-2-7b"),
	"togethercomputer/llama-2-7b-chat": togetherModel("togethercomputer/llama-2-7b-chat"),

	"claude-sonnet-4-20250514":  anthropicModel("claude-sonnet-4-20250514"),
	"claude-3-5-haiku-20241022": anthropicModel("claude-3-5-haiku-20241022"),

	"ollama/llama2": {
		ID:       "ollama/llama2",
		Provider: ProviderOllama,
		Dialect:  buffer.DialectLlama,
	},
}

// Lookup resolves a model identifier. Unknown identifiers wrap ErrUnknownModel.
func Lookup(id string) (Model, error) {
	m, ok := models[id]
	if !ok {
		return Model{}, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	m.Stop = append([]string(nil), m.Stop...)
	return m, nil
}

// Models lists the supported identifiers in sorted order.
func Models() []string {
	ids := make([]string, 0, len(models))
	for id := range models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Metadata describes the model for the transcript's llm column.
func (m Model) Metadata() map[string]any {
	meta := map[string]any{
		"provider": string(m.Provider),
		"model":    m.ID,
		"dialect":  string(m.Dialect),
	}
	if m.MaxTokens > 0 {
		meta["max_tokens"] = m.MaxTokens
	}
	if m.Temperature > 0 {
		meta["temperature"] = m.Temperature
	}
	if m.TopP > 0 {
		meta["top_p"] = m.TopP
	}
	if m.TopK > 0 {
		meta["top_k"] = m.TopK
	}
	if m.RepetitionPenalty > 0 {
		meta["repetition_penalty"] = m.RepetitionPenalty
	}
	if len(m.Stop) > 0 {
		meta["stop"] = m.Stop
	}
	return meta
}
