package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.tavily.com"

var ErrNoKey = errors.New("search api key is required")

type Result struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// Searcher returns web results for a query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// Tavily is a client for the Tavily search API.
type Tavily struct {
	BaseURL    string
	APIKey     string
	MaxResults int
	HTTP       *http.Client
}

type tavilyRequest struct {
	Query          string   `json:"query"`
	SearchDepth    string   `json:"search_depth"`
	IncludeDomains []string `json:"include_domains"`
	ExcludeDomains []string `json:"exclude_domains"`
	MaxResults     int      `json:"max_results"`
}

type tavilyResponse struct {
	Results []Result `json:"results"`
	Detail  any      `json:"detail"`
}

func NewTavily(apiKey, baseURL string, maxResults int) (*Tavily, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNoKey
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Tavily{
		BaseURL:    baseURL,
		APIKey:     strings.TrimSpace(apiKey),
		MaxResults: maxResults,
		HTTP:       &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (t *Tavily) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty search query")
	}
	body, err := json.Marshal(tavilyRequest{
		Query:          query,
		SearchDepth:    "basic",
		IncludeDomains: []string{},
		ExcludeDomains: []string{},
		MaxResults:     t.MaxResults,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.APIKey)

	resp, err := t.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tavily error (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	var parsed tavilyResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, err
	}
	return parsed.Results, nil
}

// Context renders results as a prompt preamble. Content is cut to 200
// characters per result.
func Context(results []Result) string {
	var sb strings.Builder
	sb.WriteString("Web search results:\n\n")
	for i, r := range results {
		content := r.Content
		if runes := []rune(content); len(runes) > 200 {
			content = string(runes[:200]) + "..."
		}
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   Source: %s\n\n", i+1, r.Title, content, r.URL)
	}
	return sb.String()
}

// Preamble is the text placed before a question when results are available.
func Preamble(results []Result) string {
	return "Here is some relevant information from the web:\n\n" + Context(results) + "\n"
}
