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

const serperEndpoint = "https://google.serper.dev/search"

// Serper queries Google through the Serper API.
type Serper struct {
	APIKey     string
	Endpoint   string
	MaxResults int
	client     *http.Client
}

// NewSerper constructs a Serper search provider.
func NewSerper(apiKey string) *Serper {
	return &Serper{
		APIKey:     apiKey,
		Endpoint:   serperEndpoint,
		MaxResults: defaultMaxResults,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// NewSerperWithClient constructs a Serper provider using the supplied HTTP client.
func NewSerperWithClient(apiKey string, client *http.Client) *Serper {
	s := NewSerper(apiKey)
	s.client = client
	return s
}

// Search posts a single query.
func (s *Serper) Search(ctx context.Context, query string) ([]framework.SearchResult, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, missingKey("serper")
	}
	payload, err := json.Marshal(map[string]any{"q": query, "num": s.MaxResults})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("serper", resp)
	}

	var response struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, err
	}
	results := make([]framework.SearchResult, 0, len(response.Organic))
	for _, r := range response.Organic {
		results = append(results, framework.SearchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return limit(results, s.MaxResults), nil
}
