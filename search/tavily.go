package search

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/lexcodex/gradscout/framework"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// Tavily calls the Tavily search API.
type Tavily struct {
	APIKey     string
	Endpoint   string
	MaxResults int
	// Depth controls Tavily's search_depth parameter (basic or advanced).
	Depth  string
	client *http.Client
}

// NewTavily constructs a Tavily search provider.
func NewTavily(apiKey string, depth string) *Tavily {
	if depth == "" {
		depth = "basic"
	}
	return &Tavily{
		APIKey:     apiKey,
		Endpoint:   tavilyEndpoint,
		MaxResults: defaultMaxResults,
		Depth:      depth,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// NewTavilyWithClient constructs a Tavily search provider using the supplied HTTP client.
func NewTavilyWithClient(apiKey string, depth string, client *http.Client) *Tavily {
	t := NewTavily(apiKey, depth)
	t.client = client
	return t
}

// Search posts a query to Tavily.
func (t *Tavily) Search(ctx context.Context, query string) ([]framework.SearchResult, error) {
	if strings.TrimSpace(t.APIKey) == "" {
		return nil, missingKey("tavily")
	}
	payload, err := json.Marshal(map[string]any{
		"query":        query,
		"api_key":      t.APIKey,
		"search_depth": t.Depth,
		"max_results":  t.MaxResults,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("tavily", resp)
	}

	var response struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, err
	}
	results := make([]framework.SearchResult, 0, len(response.Results))
	for _, r := range response.Results {
		results = append(results, framework.SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return limit(results, t.MaxResults), nil
}
