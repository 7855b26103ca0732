package search

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lexcodex/gradscout/framework"
)

const defaultMaxResults = 5

// New returns the provider registered under name.
func New(name, apiKey string, maxResults int) (framework.SearchProvider, error) {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "serper", "":
		s := NewSerper(apiKey)
		s.MaxResults = maxResults
		return s, nil
	case "tavily":
		t := NewTavily(apiKey, "")
		t.MaxResults = maxResults
		return t, nil
	case "brave":
		b := NewBrave(apiKey)
		b.MaxResults = maxResults
		return b, nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", name)
	}
}

// Providers lists the names New accepts.
func Providers() []string {
	return []string{"serper", "tavily", "brave"}
}

func missingKey(provider string) error {
	return fmt.Errorf("%s: %w", provider, framework.ErrMissingAPIKey)
}

func statusError(provider string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &framework.StatusError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(msg)),
	}
}

func limit(results []framework.SearchResult, max int) []framework.SearchResult {
	if max > 0 && len(results) > max {
		return results[:max]
	}
	return results
}
