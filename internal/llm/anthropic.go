package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient wraps the Anthropic SDK.
type AnthropicClient struct {
	client *anthropic.Client
	model  Model
}

// NewAnthropicClient disables the SDK's own retries; Backend owns that policy.
func NewAnthropicClient(apiKey string, model Model) *AnthropicClient {
	opts := []anthropicopt.RequestOption{anthropicopt.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, anthropicopt.WithAPIKey(apiKey))
	}
	c := anthropic.NewClient(opts...)
	return &AnthropicClient{
		client: &c,
		model:  model,
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model.ID),
		MaxTokens: int64(c.model.MaxTokens),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
	}
	if c.model.Temperature > 0 {
		params.Temperature = anthropic.Float(c.model.Temperature)
	}
	if len(c.model.Stop) > 0 {
		params.StopSequences = c.model.Stop
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", classifyStatus(apiErr.StatusCode, err)
		}
		return "", transportError(ctx, err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", ErrMalformed
	}
	return out.String(), nil
}
