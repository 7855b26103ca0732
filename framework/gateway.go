package framework

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	defaultGenerateTimeout  = 90 * time.Second
	defaultSearchTimeout    = 20 * time.Second
	defaultMaxSearchResults = 5
)

// ErrEmptyCompletion is returned when a model answers with no text. Free
// hosted models do this under load, so it is treated as a transient failure.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// ErrSearchUnavailable is returned by Search when no provider is configured.
var ErrSearchUnavailable = errors.New("no search provider configured")

// GatewayConfig bounds every tool call. Timeouts are mandatory; zero values
// fall back to defaults rather than disabling the bound.
type GatewayConfig struct {
	GenerateTimeout  time.Duration
	SearchTimeout    time.Duration
	MaxSearchResults int
	Options          LLMOptions
}

// GenerateRequest is one text-generation round trip. Context carries the
// accumulated material the prompt should be answered against.
type GenerateRequest struct {
	System  string
	Prompt  string
	Context string
}

// ToolGateway wraps the generation and search capabilities behind a uniform
// interface and normalizes provider failures into ToolErrors. It performs
// exactly one provider call per invocation; retries belong to RetryPolicy.
type ToolGateway struct {
	model    LanguageModel
	searcher SearchProvider
	cfg      GatewayConfig
}

// NewToolGateway builds a gateway. The search provider is optional.
func NewToolGateway(model LanguageModel, searcher SearchProvider, cfg GatewayConfig) (*ToolGateway, error) {
	if model == nil {
		return nil, errors.New("tool gateway requires a language model")
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = defaultGenerateTimeout
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = defaultSearchTimeout
	}
	if cfg.MaxSearchResults <= 0 {
		cfg.MaxSearchResults = defaultMaxSearchResults
	}
	return &ToolGateway{model: model, searcher: searcher, cfg: cfg}, nil
}

// CanSearch reports whether a search provider is wired.
func (g *ToolGateway) CanSearch() bool { return g.searcher != nil }

// Generate performs a single generation call bounded by the generate timeout.
func (g *ToolGateway) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.GenerateTimeout)
	defer cancel()

	opts := g.cfg.Options
	if req.System != "" {
		opts.System = req.System
	}
	resp, err := g.model.Generate(callCtx, composePrompt(req.Prompt, req.Context), &opts)
	if err != nil {
		return "", ClassifyError(ctx, ToolGenerate, err)
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return "", &ToolError{Tool: ToolGenerate, Kind: KindUnavailable, Retryable: true, Err: ErrEmptyCompletion}
	}
	return strings.TrimSpace(resp.Text), nil
}

// Search performs a single web search bounded by the search timeout and
// truncates the ranked list to MaxSearchResults.
func (g *ToolGateway) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if g.searcher == nil {
		return nil, &ToolError{Tool: ToolSearch, Kind: KindProvider, Err: ErrSearchUnavailable}
	}
	if strings.TrimSpace(query) == "" {
		return nil, &ToolError{Tool: ToolSearch, Kind: KindBadRequest, Err: errors.New("empty search query")}
	}
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.SearchTimeout)
	defer cancel()

	results, err := g.searcher.Search(callCtx, query)
	if err != nil {
		return nil, ClassifyError(ctx, ToolSearch, err)
	}
	if len(results) > g.cfg.MaxSearchResults {
		results = results[:g.cfg.MaxSearchResults]
	}
	return results, nil
}

func composePrompt(prompt, contextText string) string {
	contextText = strings.TrimSpace(contextText)
	if contextText == "" {
		return prompt
	}
	var b strings.Builder
	b.WriteString("CONTEXT:\n")
	b.WriteString(contextText)
	b.WriteString("\n\n")
	b.WriteString(prompt)
	return b.String()
}
