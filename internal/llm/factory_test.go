package llm

import (
	"errors"
	"testing"
	"time"

	"github.com/HexSleeves/guesscard/internal/buffer"
)

func TestLookupKnownModels(t *testing.T) {
	tests := []struct {
		id       string
		provider Provider
		dialect  buffer.Dialect
	}{
		{"gpt-3.5-turbo", ProviderOpenAI, buffer.DialectPlain},
		{"gpt-4", ProviderOpenAI, buffer.DialectPlain},
		{"ft:gpt-3.5-turbo-0613:personal::8G9xDV6J", ProviderOpenAI, buffer.DialectPlain},
		{"togethercomputer/llama-2-7b", ProviderTogether, buffer.DialectLlama},
		{"claude-sonnet-4-20250514", ProviderAnthropic, buffer.DialectPlain},
		{"ollama/llama2", ProviderOllama, buffer.DialectLlama},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			m, err := Lookup(tt.id)
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if m.Provider != tt.provider {
				t.Errorf("provider=%q, want %q", m.Provider, tt.provider)
			}
			if m.Dialect != tt.dialect {
				t.Errorf("dialect=%q, want %q", m.Dialect, tt.dialect)
			}
		})
	}
}

func TestLookupUnknownModel(t *testing.T) {
	_, err := Lookup("gpt-9000")
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestLookupReturnsIndependentStop(t *testing.T) {
	m, _ := Lookup("togethercomputer/llama-2-7b")
	m.Stop[0] = "mutated"
	again, _ := Lookup("togethercomputer/llama-2-7b")
	if again.Stop[0] != "[INST]" {
		t.Error("Lookup leaked the shared stop slice")
	}
}

func TestModelsSorted(t *testing.T) {
	ids := Models()
	if len(ids) != len(models) {
		t.Fatalf("Models() returned %d ids, want %d", len(ids), len(models))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i-1] > ids[i] {
			t.Fatalf("not sorted at %d: %q > %q", i, ids[i-1], ids[i])
		}
	}
}

func TestNewFromConfigFailsFast(t *testing.T) {
	tests := []struct {
		name  string
		model string
		cfg   ProviderConfig
		want  error
	}{
		{"unknown", "nope", ProviderConfig{OpenAIKey: "k"}, ErrUnknownModel},
		{"openai without key", "gpt-4", ProviderConfig{}, ErrMissingAPIKey},
		{"together without key", "togethercomputer/llama-2-7b", ProviderConfig{OpenAIKey: "k"}, ErrMissingAPIKey},
		{"anthropic without key", "claude-3-5-haiku-20241022", ProviderConfig{}, ErrMissingAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewFromConfig(tt.model, tt.cfg)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if b != nil {
				t.Error("expected nil backend on error")
			}
		})
	}
}

func TestNewFromConfigBuildsBackends(t *testing.T) {
	cfg := ProviderConfig{
		OpenAIKey:    "sk-test",
		TogetherKey:  "tg-test",
		AnthropicKey: "an-test",
		Options:      []Option{WithTimeout(3 * time.Second)},
	}
	for _, id := range Models() {
		t.Run(id, func(t *testing.T) {
			b, err := NewFromConfig(id, cfg)
			if err != nil {
				t.Fatalf("NewFromConfig: %v", err)
			}
			if b.Model().ID != id {
				t.Errorf("model=%q", b.Model().ID)
			}
			if b.timeout != 3*time.Second {
				t.Errorf("timeout=%v", b.timeout)
			}
		})
	}
}

func TestNewFromConfigOllamaCommand(t *testing.T) {
	b, err := NewFromConfig("ollama/llama2", ProviderConfig{OllamaCommand: "/usr/local/bin/ollama"})
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	c, ok := b.client.(*CLIClient)
	if !ok {
		t.Fatalf("client is %T", b.client)
	}
	if c.command != "/usr/local/bin/ollama" || len(c.args) != 2 || c.args[1] != "llama2" {
		t.Errorf("command=%q args=%v", c.command, c.args)
	}
}
