package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// openAIClient talks to any chat-completions endpoint; OpenRouter is
// served by the same client with its own base URL and attribution headers.
type openAIClient struct {
	provider        string
	model           string
	temperature     float64
	maxOutputTokens int
	client          openai.Client
}

func newOpenAIClient(provider, baseURL, apiKey, model string, cfg Config) *openAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithRequestTimeout(cfg.timeout()),
		option.WithMaxRetries(0),
	}
	if provider == ProviderOpenRouter {
		opts = append(opts,
			option.WithHeader("HTTP-Referer", "https://github.com/oraclebridge"),
			option.WithHeader("X-Title", "oraclebridge"),
		)
	}
	return &openAIClient{
		provider:        provider,
		model:           model,
		temperature:     cfg.Temperature,
		maxOutputTokens: cfg.MaxOutputTokens,
		client:          openai.NewClient(opts...),
	}
}

func (c *openAIClient) Provider() string {
	return c.provider
}

func (c *openAIClient) Model() string {
	return c.model
}

func (c *openAIClient) Generate(ctx context.Context, prompt Prompt) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if strings.TrimSpace(prompt.System) != "" {
		messages = append(messages, openai.SystemMessage(prompt.System))
	}
	if strings.TrimSpace(prompt.User) != "" {
		messages = append(messages, openai.UserMessage(prompt.User))
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("empty prompt")
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if c.maxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxOutputTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s error: %w", c.provider, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s response had no choices", c.provider)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%s response had no content", c.provider)
	}
	return text, nil
}

func (c *openAIClient) ListModels(ctx context.Context) ([]string, error) {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s list models: %w", c.provider, err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
