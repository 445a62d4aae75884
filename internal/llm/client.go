// Package llm provides a provider-agnostic completion capability for the
// game's agents and the auditor.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Client submits one prompt and returns the completion text.
// Implementations exist for OpenAI chat, Together completions, Anthropic and
// local CLI inference.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

var (
	// ErrTimeout means a single call exceeded its deadline. Not retried here.
	ErrTimeout = errors.New("llm call timed out")
	// ErrRateLimited means the provider throttled the call.
	ErrRateLimited = errors.New("llm provider rate limited")
	// ErrUnavailable covers transport failures and provider-side errors.
	ErrUnavailable = errors.New("llm provider unavailable")
	// ErrMalformed means the provider answered without usable text.
	ErrMalformed = errors.New("llm response malformed")
	// ErrUnknownModel is returned at construction for identifiers outside the model table.
	ErrUnknownModel = errors.New("unknown model")
	// ErrMissingAPIKey is returned at construction when a hosted provider has no key.
	ErrMissingAPIKey = errors.New("missing API key")
)

// classifyStatus maps an HTTP status from a provider SDK error onto the
// package sentinels.
func classifyStatus(status int, err error) error {
	switch {
	case status == 429:
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case status >= 500:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return err
	}
}
