package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/gradscout/framework"
)

const defaultOllamaModel = "llama3.1"

// OllamaClient implements framework.LanguageModel for a local Ollama server.
type OllamaClient struct {
	Endpoint string
	Model    string
	Debug    bool
	client   *http.Client
	logger   *zap.Logger
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Model           string         `json:"model"`
	Text            string         `json:"text"`
	Response        string         `json:"response"`
	Message         *ollamaMessage `json:"message"`
	DoneReason      string         `json:"done_reason"`
	EvalCount       int            `json:"eval_count"`
	PromptEvalCount int            `json:"prompt_eval_count"`
}

// NewOllamaClient builds a client. Ollama needs no API key.
func NewOllamaClient(endpoint, model string, logger *zap.Logger) *OllamaClient {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaClient{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Model:    model,
		client:   &http.Client{Timeout: 3 * time.Minute},
		logger:   logger,
	}
}

// Generate implements single prompt completion via /api/generate.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	payload := map[string]interface{}{
		"model":  c.model(options),
		"prompt": prompt,
		"stream": false,
	}
	c.applyOptions(payload, options)
	return c.doRequest(ctx, "/api/generate", payload)
}

func (c *OllamaClient) model(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return defaultOllamaModel
}

func (c *OllamaClient) applyOptions(payload map[string]interface{}, options *framework.LLMOptions) {
	if options == nil {
		return
	}
	if options.System != "" {
		payload["system"] = options.System
	}
	tuning := map[string]interface{}{}
	if options.Temperature != 0 {
		tuning["temperature"] = options.Temperature
	}
	if options.MaxTokens != 0 {
		tuning["num_predict"] = options.MaxTokens
	}
	if options.Stop != nil {
		tuning["stop"] = options.Stop
	}
	if options.TopP != 0 {
		tuning["top_p"] = options.TopP
	}
	if len(tuning) > 0 {
		payload["options"] = tuning
	}
}

func (c *OllamaClient) doRequest(ctx context.Context, path string, payload interface{}) (*framework.LLMResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	c.logPayload("request", path, body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient(c.client).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, statusError("ollama", resp)
	}
	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logPayload("response", path, responseBody)
	return decodeOllamaResponse(bytes.NewReader(responseBody))
}

func decodeOllamaResponse(body io.Reader) (*framework.LLMResponse, error) {
	var raw ollamaResponse
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, err
	}
	resp := &framework.LLMResponse{
		Text:         firstNonEmpty(raw.Text, raw.Response),
		Model:        raw.Model,
		FinishReason: raw.DoneReason,
		Usage:        ollamaUsage(raw),
	}
	if resp.Text == "" && raw.Message != nil {
		resp.Text = raw.Message.Content
	}
	return resp, nil
}

func ollamaUsage(raw ollamaResponse) map[string]int {
	usage := make(map[string]int)
	if raw.EvalCount > 0 {
		usage["completion_tokens"] = raw.EvalCount
	}
	if raw.PromptEvalCount > 0 {
		usage["prompt_tokens"] = raw.PromptEvalCount
	}
	if len(usage) == 0 {
		return nil
	}
	return usage
}

func (c *OllamaClient) logPayload(direction, path string, payload []byte) {
	if !c.Debug {
		return
	}
	c.logger.Debug("ollama "+direction,
		zap.String("path", path),
		zap.String("payload", truncate(string(payload), 2048)),
	)
}
