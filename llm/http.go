// Package llm holds the text-generation providers: OpenRouter's hosted
// OpenAI-compatible API and a local Ollama server.
package llm

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexcodex/gradscout/framework"
)

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 60 * time.Second}
}

// statusError reads a bounded slice of the error body so the gateway can
// classify the failure by status code.
func statusError(provider string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &framework.StatusError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(msg)),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
