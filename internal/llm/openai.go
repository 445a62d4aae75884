package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
)

// OpenAIClient sends the rendered prompt as a single user message to the
// chat completions API.
type OpenAIClient struct {
	client openai.Client
	model  Model
}

func NewOpenAIClient(apiKey, baseURL string, model Model) *OpenAIClient {
	opts := []openaiopt.RequestOption{openaiopt.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, openaiopt.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, openaiopt.WithBaseURL(baseURL))
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model.ID),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		N:        openai.Int(1),
	}
	if c.model.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.model.MaxTokens))
	}
	if c.model.Temperature > 0 {
		params.Temperature = openai.Float(c.model.Temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", openAIError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformed)
	}
	return resp.Choices[0].Message.Content, nil
}

func openAIError(ctx context.Context, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode, err)
	}
	return transportError(ctx, err)
}

// transportError marks non-API failures unavailable, leaving context errors
// for Backend to interpret.
func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
