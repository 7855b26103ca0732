package framework

import "context"

// LLMOptions configures language model calls. Keeping the options struct
// inside the framework avoids hard-coding provider specific fields in stage
// code.
type LLMOptions struct {
	Model       string
	System      string
	Temperature float64
	MaxTokens   int
	Stop        []string
	TopP        float64
}

// LLMResponse is the result of a language model invocation.
type LLMResponse struct {
	Text         string         `json:"text,omitempty"`
	Model        string         `json:"model,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Usage        map[string]int `json:"usage,omitempty"`
}

// LanguageModel is the text-generation capability: prompt in, text out.
type LanguageModel interface {
	Generate(ctx context.Context, prompt string, options *LLMOptions) (*LLMResponse, error)
}

// SearchResult is a single ranked hit returned by a SearchProvider.
type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// SearchProvider is the web-search capability.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}
