package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
)

// DefaultTogetherBaseURL is Together's OpenAI-compatible endpoint.
const DefaultTogetherBaseURL = "https://api.together.xyz/v1"

// TogetherClient calls the raw completions API of a self-hosted style
// inference provider. The prompt is sent verbatim, so the caller is
// responsible for the instruction dialect.
type TogetherClient struct {
	client openai.Client
	model  Model
}

func NewTogetherClient(apiKey, baseURL string, model Model) *TogetherClient {
	if baseURL == "" {
		baseURL = DefaultTogetherBaseURL
	}
	opts := []openaiopt.RequestOption{
		openaiopt.WithMaxRetries(0),
		openaiopt.WithBaseURL(baseURL),
	}
	if apiKey != "" {
		opts = append(opts, openaiopt.WithAPIKey(apiKey))
	}
	return &TogetherClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (c *TogetherClient) Complete(ctx context.Context, prompt string) (string, error) {
	params := openai.CompletionNewParams{
		Model:  openai.CompletionNewParamsModel(c.model.ID),
		Prompt: openai.CompletionNewParamsPromptUnion{OfString: openai.String(prompt)},
	}
	if c.model.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.model.MaxTokens))
	}
	if c.model.Temperature > 0 {
		params.Temperature = openai.Float(c.model.Temperature)
	}
	if c.model.TopP > 0 {
		params.TopP = openai.Float(c.model.TopP)
	}
	if len(c.model.Stop) > 0 {
		params.Stop = openai.CompletionNewParamsStopUnion{OfStringArray: c.model.Stop}
	}

	// top_k and repetition_penalty are provider extensions outside the
	// OpenAI schema.
	var extra []openaiopt.RequestOption
	if c.model.TopK > 0 {
		extra = append(extra, openaiopt.WithJSONSet("top_k", c.model.TopK))
	}
	if c.model.RepetitionPenalty > 0 {
		extra = append(extra, openaiopt.WithJSONSet("repetition_penalty", c.model.RepetitionPenalty))
	}

	resp, err := c.client.Completions.New(ctx, params, extra...)
	if err != nil {
		return "", openAIError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformed)
	}
	return resp.Choices[0].Text, nil
}
