package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const DefaultPath = "guesscard.json"

type Config struct {
	Database  string       `json:"database"`
	Game      GameConfig   `json:"game"`
	Audit     AuditConfig  `json:"audit"`
	Providers ProviderKeys `json:"providers"`
}

type GameConfig struct {
	JudgeModel    string        `json:"judge_model"`
	GuesserModel  string        `json:"guesser_model"`
	MaxIterations int           `json:"max_iterations"`
	Treatment     string        `json:"treatment"`
	CallTimeout   time.Duration `json:"call_timeout"`
	MaxAttempts   int           `json:"max_attempts"`
	Parallel      int           `json:"parallel"`
}

// gameConfigJSON is GameConfig with the call timeout written as "10s".
type gameConfigJSON GameConfig

func (g GameConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		gameConfigJSON
		CallTimeout string `json:"call_timeout"`
	}{gameConfigJSON(g), g.CallTimeout.String()})
}

// UnmarshalJSON reads call_timeout as a duration string such as "10s". A bare
// number is taken as nanoseconds.
func (g *GameConfig) UnmarshalJSON(data []byte) error {
	aux := struct {
		*gameConfigJSON
		CallTimeout json.RawMessage `json:"call_timeout"`
	}{gameConfigJSON: (*gameConfigJSON)(g)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.CallTimeout) == 0 || string(aux.CallTimeout) == "null" {
		return nil
	}
	d, err := parseDuration(aux.CallTimeout)
	if err != nil || d <= 0 {
		return fmt.Errorf("call_timeout %s: want a positive duration such as \"10s\"", aux.CallTimeout)
	}
	g.CallTimeout = d
	return nil
}

func parseDuration(raw json.RawMessage) (time.Duration, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return time.ParseDuration(s)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return time.Duration(n), nil
}

type AuditConfig struct {
	Model string `json:"model"`
	// RatePerMinute paces bulk labeling.
	RatePerMinute float64 `json:"rate_per_minute"`
}

// ProviderKeys are never written by Save; they come from the environment.
type ProviderKeys struct {
	OpenAIKey       string `json:"-"`
	OpenAIBaseURL   string `json:"openai_base_url,omitempty"`
	TogetherKey     string `json:"-"`
	TogetherBaseURL string `json:"together_base_url,omitempty"`
	AnthropicKey    string `json:"-"`
	OllamaCommand   string `json:"ollama_command,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Database: filepath.Join(".guesscard", "guesscard.db"),
		Game: GameConfig{
			JudgeModel:    "togethercomputer/llama-2-7b-chat",
			GuesserModel:  "togethercomputer/llama-2-7b-chat",
			MaxIterations: 15,
			Treatment:     "default",
			CallTimeout:   10 * time.Second,
			MaxAttempts:   5,
			Parallel:      1,
		},
		Audit: AuditConfig{
			Model:         "gpt-3.5-turbo",
			RatePerMinute: 4,
		},
		Providers: ProviderKeys{
			OllamaCommand: "ollama",
		},
	}
}

// Load reads path over the defaults (a missing file is not an error), then
// applies .env and environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// .env is optional; variables already set in the environment win.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("GUESSCARD_DB", &c.Database)
	str("GUESSCARD_JUDGE_MODEL", &c.Game.JudgeModel)
	str("GUESSCARD_GUESSER_MODEL", &c.Game.GuesserModel)
	str("GUESSCARD_AUDIT_MODEL", &c.Audit.Model)
	str("GUESSCARD_TREATMENT", &c.Game.Treatment)
	str("OPENAI_API_KEY", &c.Providers.OpenAIKey)
	str("OPENAI_BASE_URL", &c.Providers.OpenAIBaseURL)
	str("TOGETHER_API_KEY", &c.Providers.TogetherKey)
	str("ANTHROPIC_API_KEY", &c.Providers.AnthropicKey)
	str("GUESSCARD_OLLAMA", &c.Providers.OllamaCommand)

	if v := os.Getenv("GUESSCARD_MAX_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("GUESSCARD_MAX_ITERATIONS=%q: want a positive integer", v)
		}
		c.Game.MaxIterations = n
	}
	if v := os.Getenv("GUESSCARD_CALL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("GUESSCARD_CALL_TIMEOUT=%q: want a positive duration", v)
		}
		c.Game.CallTimeout = d
	}
	if v := os.Getenv("GUESSCARD_LABEL_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 {
			return fmt.Errorf("GUESSCARD_LABEL_RATE=%q: want calls per minute > 0", v)
		}
		c.Audit.RatePerMinute = r
	}
	return nil
}

// Save writes the config as indented JSON. API keys are not written.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}
