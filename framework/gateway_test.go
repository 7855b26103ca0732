package framework

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type llmFunc func(ctx context.Context, prompt string, options *LLMOptions) (*LLMResponse, error)

func (f llmFunc) Generate(ctx context.Context, prompt string, options *LLMOptions) (*LLMResponse, error) {
	return f(ctx, prompt, options)
}

func TestClassifyErrorKinds(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name      string
		err       error
		kind      ErrorKind
		retryable bool
	}{
		{"rate limited", &StatusError{StatusCode: 429}, KindRateLimited, true},
		{"server error", fmt.Errorf("wrapped: %w", &StatusError{StatusCode: 503}), KindUnavailable, true},
		{"unauthorized", &StatusError{StatusCode: 401}, KindAuth, false},
		{"bad request", &StatusError{StatusCode: 422}, KindBadRequest, false},
		{"gateway timeout", &StatusError{StatusCode: 504}, KindTimeout, true},
		{"deadline", context.DeadlineExceeded, KindTimeout, true},
		{"missing key", fmt.Errorf("openrouter: %w", ErrMissingAPIKey), KindAuth, false},
		{"net op", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindNetwork, true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), KindNetwork, true},
		{"eof", io.ErrUnexpectedEOF, KindNetwork, true},
		{"other", errors.New("decode failure"), KindProvider, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyError(ctx, ToolGenerate, tc.err)
			assert.Equal(t, tc.kind, got.Kind)
			assert.Equal(t, tc.retryable, got.Retryable)
			assert.Equal(t, ToolGenerate, got.Tool)
			assert.True(t, errors.Is(got, tc.err))
		})
	}
}

func TestClassifyErrorParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := ClassifyError(ctx, ToolSearch, context.Canceled)
	assert.Equal(t, KindCancelled, got.Kind)
	assert.False(t, got.Retryable)
	assert.Nil(t, ClassifyError(ctx, ToolSearch, nil))
}

func TestGatewayGenerateComposesPrompt(t *testing.T) {
	var gotPrompt string
	var gotOpts LLMOptions
	model := llmFunc(func(ctx context.Context, prompt string, options *LLMOptions) (*LLMResponse, error) {
		gotPrompt = prompt
		gotOpts = *options
		return &LLMResponse{Text: "  answer \n"}, nil
	})
	gw, err := NewToolGateway(model, nil, GatewayConfig{Options: LLMOptions{Model: "m", Temperature: 0.2}})
	require.NoError(t, err)

	out, err := gw.Generate(context.Background(), GenerateRequest{System: "sys", Prompt: "question", Context: "facts"})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
	assert.Equal(t, "CONTEXT:\nfacts\n\nquestion", gotPrompt)
	assert.Equal(t, "sys", gotOpts.System)
	assert.Equal(t, "m", gotOpts.Model)
	assert.False(t, gw.CanSearch())
}

func TestGatewayTimeoutIsRetryable(t *testing.T) {
	model := llmFunc(func(ctx context.Context, prompt string, options *LLMOptions) (*LLMResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	gw, err := NewToolGateway(model, nil, GatewayConfig{GenerateTimeout: 10 * time.Millisecond})
	require.NoError(t, err)

	_, err = gw.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, KindTimeout, toolErr.Kind)
	assert.True(t, toolErr.Retryable)
}

func TestGatewayEmptyCompletionIsRetryable(t *testing.T) {
	model := llmFunc(func(ctx context.Context, prompt string, options *LLMOptions) (*LLMResponse, error) {
		return &LLMResponse{Text: "   "}, nil
	})
	gw, err := NewToolGateway(model, nil, GatewayConfig{})
	require.NoError(t, err)
	_, err = gw.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, ErrEmptyCompletion))
}

func TestGatewaySearch(t *testing.T) {
	model := llmFunc(func(ctx context.Context, prompt string, options *LLMOptions) (*LLMResponse, error) {
		return &LLMResponse{Text: "ok"}, nil
	})
	results := make([]SearchResult, 8)
	for i := range results {
		results[i] = SearchResult{Title: fmt.Sprintf("r%d", i)}
	}
	gw, err := NewToolGateway(model, &fakeSearch{results: results}, GatewayConfig{})
	require.NoError(t, err)

	got, err := gw.Search(context.Background(), "ai masters")
	require.NoError(t, err)
	assert.Len(t, got, defaultMaxSearchResults)

	_, err = gw.Search(context.Background(), "  ")
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, KindBadRequest, toolErr.Kind)

	noSearch, err := NewToolGateway(model, nil, GatewayConfig{})
	require.NoError(t, err)
	_, err = noSearch.Search(context.Background(), "q")
	assert.True(t, errors.Is(err, ErrSearchUnavailable))

	failing, err := NewToolGateway(model, &fakeSearch{err: &StatusError{StatusCode: 500}}, GatewayConfig{})
	require.NoError(t, err)
	_, err = failing.Search(context.Background(), "q")
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, ToolSearch, toolErr.Tool)
	assert.True(t, toolErr.Retryable)
}

func TestNewToolGatewayRequiresModel(t *testing.T) {
	_, err := NewToolGateway(nil, nil, GatewayConfig{})
	assert.Error(t, err)
}
