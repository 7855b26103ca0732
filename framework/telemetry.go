package framework

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType categorizes telemetry events.
type EventType string

const (
	EventRunStart    EventType = "run_start"
	EventRunFinish   EventType = "run_finish"
	EventStageStart  EventType = "stage_start"
	EventStageFinish EventType = "stage_finish"
	EventStageError  EventType = "stage_error"
	EventToolCall    EventType = "tool_call"
	EventToolResult  EventType = "tool_result"
	EventToolRetry   EventType = "tool_retry"
	EventLLMPrompt   EventType = "llm_prompt"
	EventLLMResponse EventType = "llm_response"
)

// StageInfo identifies the run and stage a tool call belongs to.
type StageInfo struct {
	RunID string
	Stage string
}

type stageInfoKey struct{}

// WithStageInfo attaches run and stage identifiers to ctx so providers and
// instrumentation can correlate their telemetry.
func WithStageInfo(ctx context.Context, info StageInfo) context.Context {
	return context.WithValue(ctx, stageInfoKey{}, info)
}

// StageInfoFrom returns the identifiers attached by WithStageInfo.
func StageInfoFrom(ctx context.Context) (StageInfo, bool) {
	if ctx == nil {
		return StageInfo{}, false
	}
	info, ok := ctx.Value(stageInfoKey{}).(StageInfo)
	return info, ok
}

// Event captures structured telemetry data.
type Event struct {
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id,omitempty"`
	Stage     string                 `json:"stage,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Telemetry captures execution traces emitted by the pipeline runtime.
// Implementations must be safe for concurrent use because independent runs
// may share a sink.
type Telemetry interface {
	Emit(event Event)
}

// MultiplexTelemetry broadcasts events to multiple sinks.
type MultiplexTelemetry struct {
	Sinks []Telemetry
}

// Emit forwards the event to all registered sinks.
func (m MultiplexTelemetry) Emit(event Event) {
	for _, s := range m.Sinks {
		if s != nil {
			s.Emit(event)
		}
	}
}

// JSONFileTelemetry writes events as newline-delimited JSON to a file.
// This allows external tools to tail and process the stream in real-time.
type JSONFileTelemetry struct {
	path string
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewJSONFileTelemetry opens (or creates) the log file.
func NewJSONFileTelemetry(path string) (*JSONFileTelemetry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONFileTelemetry{
		path: path,
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Emit writes the JSON record.
func (j *JSONFileTelemetry) Emit(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.enc != nil {
		_ = j.enc.Encode(event)
	}
}

// Close releases the file handle.
func (j *JSONFileTelemetry) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		err := j.file.Close()
		j.file = nil
		j.enc = nil
		return err
	}
	return nil
}

// ZapTelemetry emits events as structured log lines. Errors and retries are
// logged at warn level, everything else at debug so a default info logger
// only surfaces run boundaries and problems.
type ZapTelemetry struct {
	Logger *zap.Logger
}

// Emit logs the event.
func (t ZapTelemetry) Emit(event Event) {
	logger := t.Logger
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, 4+len(event.Metadata))
	fields = append(fields, zap.String("event", string(event.Type)))
	if event.RunID != "" {
		fields = append(fields, zap.String("run_id", event.RunID))
	}
	if event.Stage != "" {
		fields = append(fields, zap.String("stage", event.Stage))
	}
	for k, v := range event.Metadata {
		fields = append(fields, zap.Any(k, v))
	}
	msg := event.Message
	if msg == "" {
		msg = string(event.Type)
	}
	switch event.Type {
	case EventStageError, EventToolRetry:
		logger.Warn(msg, fields...)
	case EventRunStart, EventRunFinish:
		logger.Info(msg, fields...)
	default:
		logger.Debug(msg, fields...)
	}
}
