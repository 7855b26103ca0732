package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lexcodex/gradscout/framework"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// braveKeyGate paces requests per API key. Brave's free tier allows one
// request per second, and every Brave value sharing a key shares the gate.
type braveKeyGate struct {
	mu      sync.Mutex
	readyAt time.Time
}

var (
	braveGatesMu sync.Mutex
	braveGates   = map[string]*braveKeyGate{}
)

func braveGateFor(apiKey string) *braveKeyGate {
	braveGatesMu.Lock()
	defer braveGatesMu.Unlock()
	g, ok := braveGates[apiKey]
	if !ok {
		g = &braveKeyGate{}
		braveGates[apiKey] = g
	}
	return g
}

// waitAndLock blocks until a request may fire and returns with the gate
// held. The caller must call unlock.
func (g *braveKeyGate) waitAndLock(ctx context.Context) error {
	g.mu.Lock()
	for {
		wait := time.Until(g.readyAt)
		if wait <= 0 {
			return nil
		}
		g.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		g.mu.Lock()
	}
}

func (g *braveKeyGate) unlock(delay time.Duration) {
	g.readyAt = time.Now().Add(delay)
	g.mu.Unlock()
}

// Brave uses the Brave Search API.
type Brave struct {
	APIKey     string
	Endpoint   string
	MaxResults int
	client     *http.Client
}

// NewBrave constructs a Brave search provider.
func NewBrave(apiKey string) *Brave {
	return &Brave{
		APIKey:     apiKey,
		Endpoint:   braveEndpoint,
		MaxResults: defaultMaxResults,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// NewBraveWithClient constructs a Brave search provider using the supplied HTTP client.
func NewBraveWithClient(apiKey string, client *http.Client) *Brave {
	b := NewBrave(apiKey)
	b.client = client
	return b
}

// Search executes one Brave query. A 429 is returned to the caller as a
// StatusError after recording the reset delay on the gate.
func (b *Brave) Search(ctx context.Context, query string) ([]framework.SearchResult, error) {
	if strings.TrimSpace(b.APIKey) == "" {
		return nil, missingKey("brave")
	}
	endpoint := b.Endpoint + "?q=" + url.QueryEscape(query) + "&count=" + strconv.Itoa(b.MaxResults)

	gate := braveGateFor(b.APIKey)
	if err := gate.waitAndLock(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		gate.unlock(0)
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.APIKey)

	resp, err := b.client.Do(req)
	if err != nil {
		gate.unlock(time.Second)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		gate.unlock(braveRetryDelay(resp.Header))
		return nil, statusError("brave", resp)
	}
	gate.unlock(braveNextDelay(resp.Header))
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("brave", resp)
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	results := make([]framework.SearchResult, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		results = append(results, framework.SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return limit(results, b.MaxResults), nil
}

// braveRetryDelay reads X-RateLimit-Reset ("1, 1419704": per-second and
// per-month windows) and uses the smallest value, defaulting to one second.
func braveRetryDelay(h http.Header) time.Duration {
	raw := h.Get("X-RateLimit-Reset")
	if raw == "" {
		return time.Second
	}
	minReset := -1
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			continue
		}
		if minReset < 0 || n < minReset {
			minReset = n
		}
	}
	if minReset <= 0 {
		return time.Second
	}
	return time.Duration(minReset) * time.Second
}

// braveNextDelay holds the gate for a second when the per-second bucket in
// X-RateLimit-Remaining is exhausted or the header is absent.
func braveNextDelay(h http.Header) time.Duration {
	raw := h.Get("X-RateLimit-Remaining")
	if raw == "" {
		return time.Second
	}
	parts := strings.SplitN(raw, ",", 2)
	perSecond, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || perSecond <= 0 {
		return time.Second
	}
	return 0
}
