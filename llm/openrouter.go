package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/gradscout/framework"
)

const (
	DefaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	DefaultOpenRouterModel = "meta-llama/llama-3.3-70b-instruct:free"
)

// OpenRouterClient implements framework.LanguageModel against OpenRouter's
// OpenAI-compatible chat completions endpoint.
type OpenRouterClient struct {
	BaseURL string
	APIKey  string
	Model   string
	// Referer and Title are sent as OpenRouter's optional attribution headers.
	Referer string
	Title   string
	Debug   bool
	client  *http.Client
	logger  *zap.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
}

type chatChoice struct {
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatCompletionResponse struct {
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenRouterClient builds a client. The key is checked per call so a
// misconfiguration surfaces as a non-retryable auth error.
func NewOpenRouterClient(apiKey, model string, logger *zap.Logger) *OpenRouterClient {
	if model == "" {
		model = DefaultOpenRouterModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenRouterClient{
		BaseURL: DefaultOpenRouterURL,
		APIKey:  apiKey,
		Model:   model,
		Title:   "gradscout",
		client:  &http.Client{Timeout: 2 * time.Minute},
		logger:  logger,
	}
}

// Generate sends the prompt as a single user message, preceded by the system
// instruction when one is set.
func (c *OpenRouterClient) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, fmt.Errorf("openrouter: %w", framework.ErrMissingAPIKey)
	}
	reqBody := chatCompletionRequest{Model: c.Model}
	if options != nil {
		if options.Model != "" {
			reqBody.Model = options.Model
		}
		if options.System != "" {
			reqBody.Messages = append(reqBody.Messages, chatMessage{Role: "system", Content: options.System})
		}
		reqBody.MaxTokens = options.MaxTokens
		reqBody.Stop = options.Stop
		reqBody.Temperature = options.Temperature
		reqBody.TopP = options.TopP
	}
	reqBody.Messages = append(reqBody.Messages, chatMessage{Role: "user", Content: prompt})

	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(reqBody); err != nil {
		return nil, err
	}
	if c.Debug {
		c.logger.Debug("openrouter request", zap.String("model", reqBody.Model), zap.String("payload", truncate(buf.String(), 2048)))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/chat/completions", buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.Referer != "" {
		req.Header.Set("HTTP-Referer", c.Referer)
	}
	if c.Title != "" {
		req.Header.Set("X-Title", c.Title)
	}

	res, err := httpClient(c.client).Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, statusError("openrouter", res)
	}
	var cr chatCompletionResponse
	if err := json.NewDecoder(res.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("openrouter: decode response: %w", err)
	}
	// OpenRouter reports some upstream failures in a 200 body.
	if cr.Error != nil {
		code := cr.Error.Code
		if code == 0 {
			code = http.StatusBadGateway
		}
		return nil, &framework.StatusError{Provider: "openrouter", StatusCode: code, Body: cr.Error.Message}
	}
	if len(cr.Choices) == 0 {
		return nil, errors.New("openrouter: response has no choices")
	}
	out := &framework.LLMResponse{
		Text:         cr.Choices[0].Message.Content,
		Model:        cr.Model,
		FinishReason: cr.Choices[0].FinishReason,
	}
	if cr.Usage != nil {
		out.Usage = map[string]int{
			"prompt_tokens":     cr.Usage.PromptTokens,
			"completion_tokens": cr.Usage.CompletionTokens,
			"total_tokens":      cr.Usage.TotalTokens,
		}
	}
	return out, nil
}
