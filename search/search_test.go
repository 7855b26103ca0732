package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/gradscout/framework"
)

func TestSerperSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "key", r.Header.Get("X-API-KEY"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ms cs canada", body["q"])
		_, _ = w.Write([]byte(`{"organic":[
			{"title":"UofT MScAC","link":"https://uoft.ca","snippet":"Applied computing"},
			{"title":"UBC MCS","link":"https://ubc.ca","snippet":"Vancouver"},
			{"title":"Waterloo","link":"https://uwaterloo.ca","snippet":"Co-op"}
		]}`))
	}))
	defer srv.Close()

	s := NewSerperWithClient("key", srv.Client())
	s.Endpoint = srv.URL
	s.MaxResults = 2
	results, err := s.Search(context.Background(), "ms cs canada")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, framework.SearchResult{Title: "UofT MScAC", URL: "https://uoft.ca", Snippet: "Applied computing"}, results[0])
}

func TestTavilySearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "advanced", body["search_depth"])
		assert.Equal(t, "tv-key", body["api_key"])
		_, _ = w.Write([]byte(`{"results":[{"title":"TUM","url":"https://tum.de","content":"No tuition"}]}`))
	}))
	defer srv.Close()

	tv := NewTavilyWithClient("tv-key", "advanced", srv.Client())
	tv.Endpoint = srv.URL
	results, err := tv.Search(context.Background(), "germany masters")
	require.NoError(t, err)
	assert.Equal(t, []framework.SearchResult{{Title: "TUM", URL: "https://tum.de", Snippet: "No tuition"}}, results)
}

func TestBraveSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "brave-key-1", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "ai programs", r.URL.Query().Get("q"))
		w.Header().Set("X-RateLimit-Remaining", "5, 1000")
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"ETH","url":"https://ethz.ch","description":"Zurich"}]}}`))
	}))
	defer srv.Close()

	b := NewBraveWithClient("brave-key-1", srv.Client())
	b.Endpoint = srv.URL
	start := time.Now()
	for i := 0; i < 2; i++ {
		results, err := b.Search(context.Background(), "ai programs")
		require.NoError(t, err)
		assert.Equal(t, "Zurich", results[0].Snippet)
	}
	assert.Less(t, time.Since(start), time.Second, "remaining budget means no pacing delay")
}

func TestBraveRateLimitIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := NewBraveWithClient("brave-key-2", srv.Client())
	b.Endpoint = srv.URL
	_, err := b.Search(context.Background(), "q")
	var status *framework.StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusTooManyRequests, status.StatusCode)
	assert.Equal(t, framework.KindRateLimited, framework.ClassifyError(context.Background(), framework.ToolSearch, err).Kind)
}

func TestProvidersRequireKeys(t *testing.T) {
	for _, name := range Providers() {
		p, err := New(name, "", 3)
		require.NoError(t, err)
		_, err = p.Search(context.Background(), "q")
		assert.True(t, errors.Is(err, framework.ErrMissingAPIKey), name)
	}
	_, err := New("bing", "k", 3)
	assert.Error(t, err)
}

func TestServerErrorsCarryStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSerperWithClient("key", srv.Client())
	s.Endpoint = srv.URL
	_, err := s.Search(context.Background(), "q")
	var status *framework.StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, "serper", status.Provider)
	assert.Equal(t, "upstream down", status.Body)
}
