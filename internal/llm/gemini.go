package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

type geminiClient struct {
	client          *genai.Client
	model           string
	temperature     float64
	maxOutputTokens int
	timeout         time.Duration
}

// newGeminiClient builds the SDK client once; it is reused by every call.
func newGeminiClient(baseURL, apiKey, model string, cfg Config) (*geminiClient, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &geminiClient{
		client:          client,
		model:           model,
		temperature:     cfg.Temperature,
		maxOutputTokens: cfg.MaxOutputTokens,
		timeout:         cfg.timeout(),
	}, nil
}

func (c *geminiClient) Provider() string {
	return ProviderGemini
}

func (c *geminiClient) Model() string {
	return c.model
}

func (c *geminiClient) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if strings.TrimSpace(prompt.User) == "" {
		return "", fmt.Errorf("empty prompt")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	gc := &genai.GenerateContentConfig{}
	if strings.TrimSpace(prompt.System) != "" {
		gc.SystemInstruction = genai.NewContentFromText(prompt.System, genai.RoleUser)
	}
	if c.temperature > 0 {
		gc.Temperature = genai.Ptr(float32(c.temperature))
	}
	if c.maxOutputTokens > 0 {
		gc.MaxOutputTokens = int32(c.maxOutputTokens)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(prompt.User, genai.RoleUser)}, gc)
	if err != nil {
		return "", fmt.Errorf("gemini error: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini response had no content")
	}
	return text, nil
}

func (c *geminiClient) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	page, err := c.client.Models.List(ctx, &genai.ListModelsConfig{})
	if err != nil {
		return nil, fmt.Errorf("gemini list models: %w", err)
	}
	names := make([]string, 0, len(page.Items))
	for _, m := range page.Items {
		names = append(names, strings.TrimPrefix(m.Name, "models/"))
	}
	return names, nil
}
