package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Prompt struct {
	System string
	User   string
}

type Client interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
	Provider() string
	Model() string
}

// ModelLister is implemented by clients whose provider can enumerate models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ErrNoCredential is returned by New when the selected provider needs an API
// key and none was configured. Callers fall back to mock decisions.
var ErrNoCredential = errors.New("no decision-engine credential configured")

const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderGemini     = "gemini"
	ProviderOllama     = "ollama"

	openRouterBaseURL = "https://openrouter.ai/api/v1"
	openAIBaseURL     = "https://api.openai.com/v1"
	ollamaBaseURL     = "http://localhost:11434"
)

type Config struct {
	Provider        string
	Model           string
	BaseURL         string
	APIKey          string
	Temperature     float64
	MaxOutputTokens int
	TimeoutSeconds  int
}

func (c Config) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// New builds the client for cfg.Provider. An empty provider yields a nil
// client and ErrNoCredential.
func New(cfg Config) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		return nil, ErrNoCredential
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	model := strings.TrimSpace(cfg.Model)
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	switch provider {
	case ProviderOpenRouter, ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("%s: %w", provider, ErrNoCredential)
		}
		if model == "" {
			return nil, fmt.Errorf("%s selected but no model configured", provider)
		}
		if baseURL == "" {
			baseURL = openAIBaseURL
			if provider == ProviderOpenRouter {
				baseURL = openRouterBaseURL
			}
		}
		return newOpenAIClient(provider, baseURL, apiKey, model, cfg), nil
	case ProviderGemini:
		if apiKey == "" {
			return nil, fmt.Errorf("%s: %w", provider, ErrNoCredential)
		}
		if model == "" {
			model = "gemini-2.5-flash"
		}
		return newGeminiClient(baseURL, apiKey, model, cfg)
	case ProviderOllama:
		if model == "" {
			model = "llama3.2"
		}
		if baseURL == "" {
			baseURL = ollamaBaseURL
		}
		return &ollamaClient{
			baseURL:         baseURL,
			model:           model,
			temperature:     cfg.Temperature,
			maxOutputTokens: cfg.MaxOutputTokens,
			timeout:         cfg.timeout(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}
