package framework

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ToolName identifies which external capability produced an error.
type ToolName string

const (
	ToolGenerate ToolName = "generate"
	ToolSearch   ToolName = "search"
)

// ErrorKind is the normalized failure category of a tool call. The kind is
// what lets callers tell configuration problems from transient ones.
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindTimeout     ErrorKind = "timeout"
	KindNetwork     ErrorKind = "network"
	KindUnavailable ErrorKind = "unavailable"
	KindAuth        ErrorKind = "auth"
	KindBadRequest  ErrorKind = "bad_request"
	KindProvider    ErrorKind = "provider"
	KindCancelled   ErrorKind = "cancelled"
)

// Retryable reports whether failures of this kind are worth another attempt.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindNetwork, KindUnavailable:
		return true
	default:
		return false
	}
}

// ToolError is the provider-independent error returned by the ToolGateway.
type ToolError struct {
	Tool      ToolName
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *ToolError) Error() string {
	retry := "non-retryable"
	if e.Retryable {
		retry = "retryable"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s failed (%s, %s)", e.Tool, e.Kind, retry)
	}
	return fmt.Sprintf("%s failed (%s, %s): %v", e.Tool, e.Kind, retry, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// StatusError is returned by HTTP-backed providers for non-2xx responses so
// the gateway can classify them without knowing the provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: http %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, e.Body)
}

// ErrMissingAPIKey is returned by providers constructed without a key.
var ErrMissingAPIKey = errors.New("api key is missing")

// IsRetryable is the default retry predicate: only ToolErrors flagged
// retryable qualify.
func IsRetryable(err error) bool {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Retryable
	}
	return false
}

// ClassifyError converts an arbitrary provider error into a ToolError. The
// parent context distinguishes a caller cancellation from the per-call
// deadline, which surfaces as a retryable timeout.
func ClassifyError(parent context.Context, tool ToolName, err error) *ToolError {
	if err == nil {
		return nil
	}
	var existing *ToolError
	if errors.As(err, &existing) {
		return existing
	}
	kind := classifyKind(parent, err)
	return &ToolError{Tool: tool, Kind: kind, Retryable: kind.Retryable(), Err: err}
}

func classifyKind(parent context.Context, err error) ErrorKind {
	if parent != nil && parent.Err() != nil {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, ErrMissingAPIKey) {
		return KindAuth
	}
	var status *StatusError
	if errors.As(err, &status) {
		return kindForStatus(status.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return KindNetwork
	}
	return KindProvider
}

func kindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusPaymentRequired:
		return KindAuth
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return KindTimeout
	case code >= 500:
		return KindUnavailable
	case code >= 400:
		return KindBadRequest
	default:
		return KindProvider
	}
}
