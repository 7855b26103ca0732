package framework

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestJSONFileTelemetryWritesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	sink, err := NewJSONFileTelemetry(path)
	require.NoError(t, err)

	sink.Emit(Event{Type: EventStageStart, RunID: "r1", Stage: "normalizer", Timestamp: time.Now()})
	sink.Emit(Event{Type: EventStageFinish, RunID: "r1", Stage: "normalizer", Timestamp: time.Now()})
	require.NoError(t, sink.Close())
	sink.Emit(Event{Type: EventRunFinish})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var types []EventType
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventStageStart, EventStageFinish}, types)
}

func TestZapTelemetryLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := MultiplexTelemetry{Sinks: []Telemetry{nil, ZapTelemetry{Logger: zap.New(core)}}}

	sink.Emit(Event{Type: EventRunStart, RunID: "r1"})
	sink.Emit(Event{Type: EventToolRetry, RunID: "r1", Stage: "matcher", Message: "429", Metadata: map[string]interface{}{"attempt": 1}})
	sink.Emit(Event{Type: EventToolCall, RunID: "r1", Stage: "matcher"})

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "429", entries[1].Message)
	assert.Equal(t, "matcher", entries[1].ContextMap()["stage"])
	assert.Equal(t, zapcore.DebugLevel, entries[2].Level)

	ZapTelemetry{}.Emit(Event{Type: EventRunStart})
}

func TestBuildRecommendationMarksUnavailableStages(t *testing.T) {
	run := &PipelineRun{
		ID:     "run-1",
		Status: RunFailed,
		Results: []StageResult{
			{Stage: "normalizer", Title: "Student Profile", Status: StageSucceeded, Output: "summary", Attempts: 1},
			{Stage: "matcher", Title: "Program Matches", Status: StageFailed, Attempts: 3, Error: &StageError{Stage: "matcher", Attempts: 3, Kind: KindTimeout, Message: "deadline"}},
			{Stage: "ranker", Title: "Rankings", Status: StagePending},
		},
	}
	rec := BuildRecommendation(run)
	assert.Equal(t, "run-1", rec.RunID)
	require.Len(t, rec.Stages, 3)
	assert.Contains(t, rec.Stages[1].Error, "after 3 attempt(s) (timeout)")
	assert.Equal(t, "## Student Profile\nsummary\n\n## Program Matches\n_[unavailable: matcher produced no output]_\n\n## Rankings\n_not run_", rec.Markdown)
}
