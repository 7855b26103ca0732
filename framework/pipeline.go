package framework

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunEvent is one record of a run's output stream: either a stage result,
// or the final aggregate together with the finished run.
type RunEvent struct {
	Stage *StageResult
	Final *Recommendation
	Run   *PipelineRun
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithRetryPolicy replaces the default retry policy for every tool call.
func WithRetryPolicy(policy RetryPolicy) PipelineOption {
	return func(p *Pipeline) { p.retry = policy }
}

// WithRequiredStages names the stages whose failure fails and halts the run.
// Passing no names makes every stage optional.
func WithRequiredStages(names ...string) PipelineOption {
	return func(p *Pipeline) {
		p.required = append([]string(nil), names...)
		p.requiredSet = true
	}
}

// WithTelemetry attaches a telemetry sink.
func WithTelemetry(t Telemetry) PipelineOption {
	return func(p *Pipeline) { p.telemetry = t }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the time source used for durations and the year
// exposed to templates.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// DefaultRequiredStage is required unless WithRequiredStages says otherwise.
const DefaultRequiredStage = "normalizer"

// Pipeline runs an ordered list of stages against one profile at a time. A
// Pipeline holds no per-run state, so one value can serve concurrent runs.
type Pipeline struct {
	stages      []*StageDefinition
	graph       *StageGraph
	gateway     *ToolGateway
	retry       RetryPolicy
	required    []string
	requiredSet bool
	telemetry   Telemetry
	logger      *zap.Logger
	now         func() time.Time
}

// NewPipeline validates the stage list and builds a pipeline. When no
// required stages are configured, DefaultRequiredStage is required if the
// pipeline has a stage by that name.
func NewPipeline(gateway *ToolGateway, stages []*StageDefinition, opts ...PipelineOption) (*Pipeline, error) {
	if gateway == nil {
		return nil, errors.New("pipeline requires a tool gateway")
	}
	g, err := BuildStageGraph(stages)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		stages:  append([]*StageDefinition(nil), stages...),
		graph:   g,
		gateway: gateway,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if !p.requiredSet {
		for _, stage := range stages {
			if stage.Name() == DefaultRequiredStage {
				p.required = []string{DefaultRequiredStage}
			}
		}
	}
	known := make(map[string]bool, len(stages))
	for _, stage := range stages {
		known[stage.Name()] = true
	}
	for _, name := range p.required {
		if !known[name] {
			return nil, fmt.Errorf("required stage %s is not in the pipeline", name)
		}
	}
	return p, nil
}

// Stages returns the stage definitions in execution order.
func (p *Pipeline) Stages() []*StageDefinition {
	return append([]*StageDefinition(nil), p.stages...)
}

// Graph returns the validated dependency graph.
func (p *Pipeline) Graph() *StageGraph { return p.graph }

// Required returns the names of the required stages.
func (p *Pipeline) Required() []string {
	return append([]string(nil), p.required...)
}

// Gateway returns the tool gateway the pipeline calls through.
func (p *Pipeline) Gateway() *ToolGateway { return p.gateway }

// RetryPolicy returns the policy applied to tool calls.
func (p *Pipeline) RetryPolicy() RetryPolicy { return p.retry }

func (p *Pipeline) isRequired(name string) bool {
	for _, r := range p.required {
		if r == name {
			return true
		}
	}
	return false
}

func (p *Pipeline) emitTelemetry(event Event) {
	if p.telemetry == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	p.telemetry.Emit(event)
}

// Stream runs the pipeline in a goroutine and delivers events on the
// returned channel, which is closed after the final event. The channel is
// buffered for the whole run so an abandoned reader never blocks the run.
func (p *Pipeline) Stream(ctx context.Context, profile Profile) (<-chan RunEvent, error) {
	if profile.IsZero() {
		return nil, &ValidationError{Field: "profile", Reason: "profile was not validated"}
	}
	events := make(chan RunEvent, len(p.stages)+1)
	go func() {
		defer close(events)
		_, _ = p.Run(ctx, profile, func(ev RunEvent) { events <- ev })
	}()
	return events, nil
}

// Run executes every stage in definition order, calling emit once per
// executed stage and once more with the aggregate. It returns an error only
// for an unvalidated profile or a cancelled context; stage failures are
// reported through the run.
func (p *Pipeline) Run(ctx context.Context, profile Profile, emit func(RunEvent)) (*PipelineRun, error) {
	if profile.IsZero() {
		return nil, &ValidationError{Field: "profile", Reason: "profile was not validated"}
	}
	if emit == nil {
		emit = func(RunEvent) {}
	}
	run := &PipelineRun{
		ID:        uuid.NewString(),
		Status:    RunRunning,
		Profile:   profile,
		Context:   NewPipelineContext(),
		Required:  p.Required(),
		StartedAt: p.now(),
		Results:   make([]StageResult, len(p.stages)),
	}
	for i, stage := range p.stages {
		run.Results[i] = StageResult{Stage: stage.Name(), Title: stage.Title(), Status: StagePending}
	}
	logger := p.logger.With(zap.String("run_id", run.ID))
	p.emitTelemetry(Event{Type: EventRunStart, RunID: run.ID, Metadata: map[string]interface{}{"stages": len(p.stages)}})
	logger.Info("pipeline run started", zap.Int("stages", len(p.stages)))

	var runErr error
	for i, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			run.Status = RunCancelled
			runErr = fmt.Errorf("run %s cancelled before stage %s: %w", run.ID, stage.Name(), err)
			break
		}
		run.Results[i].Status = StageRunning
		res := p.executeStage(ctx, run, stage, logger)
		run.Results[i] = res
		if res.Status == StageSucceeded {
			if err := run.Context.Append(stage.Name(), res.Output); err != nil {
				res.Status = StageFailed
				res.Error = newStageError(stage.Name(), res.Attempts, err)
				run.Results[i] = res
			}
		}
		emitted := res
		emit(RunEvent{Stage: &emitted})
		if res.Status == StageFailed && p.isRequired(stage.Name()) {
			run.Status = RunFailed
			logger.Warn("required stage failed; halting run", zap.String("stage", stage.Name()))
			break
		}
	}
	if run.Status == RunRunning {
		run.Status = RunSucceeded
	}
	run.FinishedAt = p.now()

	rec := BuildRecommendation(run)
	emit(RunEvent{Final: &rec, Run: run})
	p.emitTelemetry(Event{
		Type:    EventRunFinish,
		RunID:   run.ID,
		Message: string(run.Status),
		Metadata: map[string]interface{}{
			"status":   string(run.Status),
			"duration": run.FinishedAt.Sub(run.StartedAt).String(),
		},
	})
	logger.Info("pipeline run finished", zap.String("status", string(run.Status)), zap.Duration("duration", run.FinishedAt.Sub(run.StartedAt)))
	return run, runErr
}

func (p *Pipeline) executeStage(ctx context.Context, run *PipelineRun, stage *StageDefinition, logger *zap.Logger) StageResult {
	started := p.now()
	res := StageResult{Stage: stage.Name(), Title: stage.Title(), Status: StageRunning}
	ctx = WithStageInfo(ctx, StageInfo{RunID: run.ID, Stage: stage.Name()})
	logger = logger.With(zap.String("stage", stage.Name()))
	p.emitTelemetry(Event{Type: EventStageStart, RunID: run.ID, Stage: stage.Name()})

	fail := func(attempts int, err error) StageResult {
		res.Status = StageFailed
		res.Attempts = attempts
		res.Error = newStageError(stage.Name(), attempts, err)
		res.Duration = p.now().Sub(started)
		p.emitTelemetry(Event{
			Type:    EventStageError,
			RunID:   run.ID,
			Stage:   stage.Name(),
			Message: res.Error.Error(),
			Metadata: map[string]interface{}{
				"attempts": attempts,
				"kind":     string(res.Error.Kind),
			},
		})
		logger.Warn("stage failed", zap.Int("attempts", attempts), zap.Error(err))
		return res
	}

	data := PromptData{
		Profile:  run.Profile.Render(),
		Text:     run.Profile.Text(),
		Document: run.Profile.Document(),
		Fields:   run.Profile.Fields(),
		Year:     p.now().Year(),
	}
	prompt, err := stage.RenderPrompt(data, run.Context)
	if err != nil {
		return fail(0, err)
	}

	if stage.NeedsSearch() {
		if snippets, ok := p.searchForStage(ctx, run, stage, data, logger); ok {
			prompt = prompt + "\n\n" + snippets
			res.UsedSearch = true
		}
	}

	var output string
	attempts, err := p.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		p.emitTelemetry(Event{Type: EventToolCall, RunID: run.ID, Stage: stage.Name(), Metadata: map[string]interface{}{"tool": string(ToolGenerate), "attempt": attempt}})
		text, err := p.gateway.Generate(ctx, GenerateRequest{System: stage.System(), Prompt: prompt})
		if err != nil {
			p.noteRetry(run.ID, stage.Name(), ToolGenerate, attempt, err)
			return err
		}
		output = text
		return nil
	})
	if err != nil {
		return fail(attempts, err)
	}
	res.Status = StageSucceeded
	res.Output = output
	res.Attempts = attempts
	res.Duration = p.now().Sub(started)
	p.emitTelemetry(Event{
		Type:  EventStageFinish,
		RunID: run.ID,
		Stage: stage.Name(),
		Metadata: map[string]interface{}{
			"attempts":    attempts,
			"used_search": res.UsedSearch,
		},
	})
	logger.Debug("stage succeeded", zap.Int("attempts", attempts), zap.Bool("used_search", res.UsedSearch))
	return res
}

// searchForStage runs the enrichment search. Failure never fails the stage.
func (p *Pipeline) searchForStage(ctx context.Context, run *PipelineRun, stage *StageDefinition, data PromptData, logger *zap.Logger) (string, bool) {
	if !p.gateway.CanSearch() {
		logger.Debug("search skipped: no provider configured")
		return "", false
	}
	query, err := stage.SearchQuery(data, run.Context)
	if err != nil {
		logger.Warn("search query could not be built; continuing without results", zap.Error(err))
		return "", false
	}
	var results []SearchResult
	_, err = p.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		p.emitTelemetry(Event{Type: EventToolCall, RunID: run.ID, Stage: stage.Name(), Metadata: map[string]interface{}{"tool": string(ToolSearch), "attempt": attempt}})
		found, err := p.gateway.Search(ctx, query)
		if err != nil {
			p.noteRetry(run.ID, stage.Name(), ToolSearch, attempt, err)
			return err
		}
		results = found
		return nil
	})
	if err != nil {
		logger.Warn("search failed; continuing without results", zap.Error(err))
		return "", false
	}
	p.emitTelemetry(Event{Type: EventToolResult, RunID: run.ID, Stage: stage.Name(), Metadata: map[string]interface{}{"tool": string(ToolSearch), "results": len(results)}})
	if len(results) == 0 {
		return "", false
	}
	return FormatSearchResults(results), true
}

func (p *Pipeline) noteRetry(runID, stage string, tool ToolName, attempt int, err error) {
	if attempt >= p.retry.maxAttempts() || !p.retry.retryable(err) {
		return
	}
	p.emitTelemetry(Event{
		Type:    EventToolRetry,
		RunID:   runID,
		Stage:   stage,
		Message: err.Error(),
		Metadata: map[string]interface{}{
			"tool":    string(tool),
			"attempt": attempt,
		},
	})
}

// FormatSearchResults renders results as a numbered prompt section.
func FormatSearchResults(results []SearchResult) string {
	var b strings.Builder
	b.WriteString("Web search results:")
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s", i+1, strings.TrimSpace(r.Title))
		if snippet := strings.TrimSpace(r.Snippet); snippet != "" {
			fmt.Fprintf(&b, "\n   %s", snippet)
		}
		if r.URL != "" {
			fmt.Fprintf(&b, "\n   %s", r.URL)
		}
	}
	return b.String()
}
