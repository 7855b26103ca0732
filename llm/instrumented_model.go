package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lexcodex/gradscout/framework"
)

// InstrumentedModel wraps a LanguageModel and emits telemetry for prompts and responses.
type InstrumentedModel struct {
	Inner     framework.LanguageModel
	Telemetry framework.Telemetry
	Debug     bool
}

func NewInstrumentedModel(inner framework.LanguageModel, telemetry framework.Telemetry, debug bool) *InstrumentedModel {
	return &InstrumentedModel{Inner: inner, Telemetry: telemetry, Debug: debug}
}

func (m *InstrumentedModel) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	started := time.Now()
	m.emitPrompt(ctx, prompt, options)
	resp, err := m.Inner.Generate(ctx, prompt, options)
	m.emitResponse(ctx, resp, err, time.Since(started))
	return resp, err
}

func (m *InstrumentedModel) emitPrompt(ctx context.Context, prompt string, options *framework.LLMOptions) {
	if m == nil || m.Telemetry == nil {
		return
	}
	metadata := map[string]interface{}{
		"model":          modelFromOptions(options),
		"prompt_chars":   len(prompt),
		"prompt_preview": clip(prompt, 1024),
	}
	if options != nil && options.System != "" {
		metadata["system_preview"] = clip(options.System, 256)
	}
	if m.Debug {
		metadata["prompt"] = clip(prompt, 8192)
	}
	info, _ := framework.StageInfoFrom(ctx)
	m.Telemetry.Emit(framework.Event{
		Type:      framework.EventLLMPrompt,
		RunID:     info.RunID,
		Stage:     info.Stage,
		Timestamp: time.Now().UTC(),
		Message:   "llm prompt",
		Metadata:  metadata,
	})
}

func (m *InstrumentedModel) emitResponse(ctx context.Context, resp *framework.LLMResponse, err error, elapsed time.Duration) {
	if m == nil || m.Telemetry == nil {
		return
	}
	metadata := map[string]interface{}{
		"elapsed": elapsed.String(),
	}
	if resp != nil {
		metadata["model"] = resp.Model
		metadata["finish_reason"] = resp.FinishReason
		metadata["text_preview"] = clip(resp.Text, 1024)
		if len(resp.Usage) > 0 {
			metadata["usage"] = resp.Usage
		}
	}
	if err != nil {
		metadata["error"] = err.Error()
	}
	info, _ := framework.StageInfoFrom(ctx)
	m.Telemetry.Emit(framework.Event{
		Type:      framework.EventLLMResponse,
		RunID:     info.RunID,
		Stage:     info.Stage,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("llm response (%s)", outcome(err)),
		Metadata:  metadata,
	})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func modelFromOptions(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	return ""
}

func clip(s string, max int) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
