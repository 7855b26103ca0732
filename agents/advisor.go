package agents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lexcodex/gradscout/document"
	"github.com/lexcodex/gradscout/framework"
	"github.com/lexcodex/gradscout/persistence"
)

// DocumentExtractor turns a supporting document into text.
type DocumentExtractor interface {
	Extract(ctx context.Context, r io.Reader) (*document.Extraction, error)
}

// Request is one recommendation request: the free-text profile, an optional
// PDF, and the caller's credentials.
type Request struct {
	Profile     string
	Document    io.Reader
	Credentials framework.Credentials
}

// ProviderFactory builds provider clients bound to a set of credentials.
type ProviderFactory func(creds framework.Credentials) (framework.LanguageModel, framework.SearchProvider, error)

// AdvisorOptions wires an Advisor. Model is required; everything else has a
// default derived from Config.
type AdvisorOptions struct {
	Config   *GlobalConfig
	StageSet *StageSet
	Model    framework.LanguageModel
	Search   framework.SearchProvider

	// Credentials are the ones Model and Search were built with. A request
	// carrying different credentials gets its own clients from Providers.
	Credentials framework.Credentials
	Providers   ProviderFactory

	Extractor DocumentExtractor
	Store     persistence.SessionStore
	Telemetry framework.Telemetry
	Logger    *zap.Logger
	Retry     *framework.RetryPolicy
	Clock     func() time.Time
}

// Advisor is the service facade used by the CLI and the HTTP API: it
// validates input, extracts documents, runs the pipeline, keeps finished
// runs for follow-ups and answers questions against them.
type Advisor struct {
	cfg          *GlobalConfig
	stageSet     *StageSet
	stages       []*framework.StageDefinition
	pipelineOpts []framework.PipelineOption
	retry        framework.RetryPolicy
	pipeline     *framework.Pipeline
	responder    *framework.FollowUpResponder
	creds        framework.Credentials
	providers    ProviderFactory
	extractor    DocumentExtractor
	store        persistence.SessionStore
	logger       *zap.Logger
	requirements framework.CredentialRequirements
	now          func() time.Time
}

// NewAdvisor assembles the gateway, pipeline and responder.
func NewAdvisor(opts AdvisorOptions) (*Advisor, error) {
	if opts.Model == nil {
		return nil, errors.New("advisor requires a language model")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultGlobalConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	set := opts.StageSet
	if set == nil {
		set = DefaultStageSet()
	}
	stages, err := set.Compile()
	if err != nil {
		return nil, fmt.Errorf("stage set %s: %w", set.Name, err)
	}

	retry := framework.RetryPolicy{MaxAttempts: cfg.Pipeline.MaxAttempts}
	if cfg.Pipeline.BackoffStep > 0 {
		retry.Backoff = framework.LinearBackoff(cfg.Pipeline.BackoffStep)
	}
	if opts.Retry != nil {
		retry = *opts.Retry
	}

	a := &Advisor{
		cfg:       cfg,
		stageSet:  set,
		stages:    stages,
		retry:     retry,
		creds:     opts.Credentials,
		providers: opts.Providers,
		logger:    logger,
	}
	a.pipelineOpts = []framework.PipelineOption{
		framework.WithRetryPolicy(retry),
		framework.WithTelemetry(opts.Telemetry),
		framework.WithLogger(logger),
	}
	if required := requiredStages(cfg, set); required != nil {
		a.pipelineOpts = append(a.pipelineOpts, framework.WithRequiredStages(required...))
	}
	if opts.Clock != nil {
		a.pipelineOpts = append(a.pipelineOpts, framework.WithClock(opts.Clock))
	}
	a.pipeline, a.responder, err = a.assemble(opts.Model, opts.Search)
	if err != nil {
		return nil, err
	}

	store := opts.Store
	if store == nil {
		store, err = persistence.NewSessionStore(cfg.Pipeline.SessionStore)
		if err != nil {
			return nil, err
		}
	}
	extractor := opts.Extractor
	if extractor == nil {
		extractor = BuildExtractor(cfg.Document, logger)
	}
	a.now = opts.Clock
	if a.now == nil {
		a.now = time.Now
	}
	a.extractor = extractor
	a.store = store
	a.requirements = cfg.CredentialRequirements()
	return a, nil
}

// assemble binds the stages to a gateway over the given clients.
func (a *Advisor) assemble(model framework.LanguageModel, searcher framework.SearchProvider) (*framework.Pipeline, *framework.FollowUpResponder, error) {
	gateway, err := framework.NewToolGateway(model, searcher, framework.GatewayConfig{
		GenerateTimeout:  a.cfg.Generation.Timeout,
		SearchTimeout:    a.cfg.Search.Timeout,
		MaxSearchResults: a.cfg.Search.MaxResults,
		Options: framework.LLMOptions{
			Model:       a.cfg.Generation.Model,
			Temperature: a.cfg.Generation.Temperature,
			MaxTokens:   a.cfg.Generation.MaxTokens,
		},
	})
	if err != nil {
		return nil, nil, err
	}
	pipeline, err := framework.NewPipeline(gateway, a.stages, a.pipelineOpts...)
	if err != nil {
		return nil, nil, err
	}
	responder, err := framework.NewFollowUpResponder(gateway, a.retry)
	if err != nil {
		return nil, nil, err
	}
	return pipeline, responder, nil
}

// bind returns the pipeline and responder for a request's credentials,
// building request-scoped clients when they differ from the advisor's own.
func (a *Advisor) bind(creds framework.Credentials) (*framework.Pipeline, *framework.FollowUpResponder, error) {
	if a.providers == nil || creds == a.creds || (creds == framework.Credentials{}) {
		return a.pipeline, a.responder, nil
	}
	model, searcher, err := a.providers(creds)
	if err != nil {
		return nil, nil, err
	}
	return a.assemble(model, searcher)
}

// requiredStages prefers the config list over the stage set's own. Nil means
// the pipeline default applies.
func requiredStages(cfg *GlobalConfig, set *StageSet) []string {
	if len(cfg.Pipeline.Required) > 0 {
		return cfg.Pipeline.Required
	}
	if len(set.Required) > 0 {
		return set.Required
	}
	return nil
}

// Pipeline exposes the assembled pipeline.
func (a *Advisor) Pipeline() *framework.Pipeline { return a.pipeline }

// StageSet returns the stage set the advisor runs.
func (a *Advisor) StageSet() *StageSet { return a.stageSet }

// Store returns the session store holding finished runs.
func (a *Advisor) Store() persistence.SessionStore { return a.store }

// Prepare validates the request and merges the extracted document into the
// profile. An unreadable document is dropped with a warning unless
// document.required is set.
func (a *Advisor) Prepare(ctx context.Context, req Request) (framework.Profile, *document.Extraction, error) {
	profile, err := framework.ValidateProfile(req.Profile, req.Credentials, a.requirements)
	if err != nil {
		return framework.Profile{}, nil, err
	}
	if req.Document == nil {
		return profile, nil, nil
	}
	extraction, err := a.extractor.Extract(ctx, req.Document)
	if err != nil {
		if a.cfg.Document.Required {
			return framework.Profile{}, nil, err
		}
		a.logger.Warn("continuing without supporting document", zap.Error(err))
		return profile, nil, nil
	}
	a.logger.Debug("supporting document extracted",
		zap.String("method", string(extraction.Method)),
		zap.Int("pages", extraction.Pages),
		zap.Ints("skipped_pages", extraction.SkippedPages),
	)
	return profile.WithDocument(extraction.Text), extraction, nil
}

// Recommend prepares the request and runs the pipeline to completion,
// forwarding events to emit. The finished run is stored for follow-ups even
// when it was cancelled part way.
func (a *Advisor) Recommend(ctx context.Context, req Request, emit func(framework.RunEvent)) (*framework.PipelineRun, error) {
	profile, _, err := a.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	pipeline, _, err := a.bind(req.Credentials)
	if err != nil {
		return nil, err
	}
	return a.run(ctx, pipeline, profile, emit)
}

// Stream is Recommend delivering events on a channel. Validation and
// extraction errors are returned before any stage runs.
func (a *Advisor) Stream(ctx context.Context, req Request) (<-chan framework.RunEvent, error) {
	profile, _, err := a.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	pipeline, _, err := a.bind(req.Credentials)
	if err != nil {
		return nil, err
	}
	events := make(chan framework.RunEvent, len(pipeline.Stages())+1)
	go func() {
		defer close(events)
		_, _ = a.run(ctx, pipeline, profile, func(ev framework.RunEvent) { events <- ev })
	}()
	return events, nil
}

func (a *Advisor) run(ctx context.Context, pipeline *framework.Pipeline, profile framework.Profile, emit func(framework.RunEvent)) (*framework.PipelineRun, error) {
	if emit == nil {
		emit = func(framework.RunEvent) {}
	}
	return pipeline.Run(ctx, profile, func(ev framework.RunEvent) {
		if ev.Run != nil {
			// stored before the final event so a consumer can ask right away
			if err := a.store.Save(context.WithoutCancel(ctx), ev.Run); err != nil {
				a.logger.Error("failed to store run", zap.String("run_id", ev.Run.ID), zap.Error(err))
			}
		}
		emit(ev)
	})
}

// Ask answers a follow-up question against a stored run and records the
// exchange.
func (a *Advisor) Ask(ctx context.Context, runID, question string) (string, error) {
	return a.AskWithCredentials(ctx, framework.Credentials{}, runID, question)
}

// AskWithCredentials is Ask using the caller's credentials for generation.
func (a *Advisor) AskWithCredentials(ctx context.Context, creds framework.Credentials, runID, question string) (string, error) {
	_, responder, err := a.bind(creds)
	if err != nil {
		return "", err
	}
	run, ok, err := a.store.Load(ctx, runID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &framework.StateError{Operation: "follow-up", Reason: fmt.Sprintf("unknown run %s", runID)}
	}
	answer, err := responder.Answer(ctx, question, run)
	if err != nil {
		return "", err
	}
	ex := persistence.Exchange{Question: strings.TrimSpace(question), Answer: answer, AskedAt: a.now()}
	if err := a.store.AppendExchange(ctx, runID, ex); err != nil {
		a.logger.Warn("failed to record follow-up", zap.String("run_id", runID), zap.Error(err))
	}
	return answer, nil
}

// Run returns a stored run.
func (a *Advisor) Run(ctx context.Context, runID string) (*framework.PipelineRun, bool, error) {
	return a.store.Load(ctx, runID)
}

// History returns the follow-ups asked against a run.
func (a *Advisor) History(ctx context.Context, runID string) ([]persistence.Exchange, error) {
	return a.store.History(ctx, runID)
}

// BatchResult is the outcome of one request in a batch.
type BatchResult struct {
	Index int
	Run   *framework.PipelineRun
	Err   error
}

// RunBatch executes independent requests concurrently, at most limit at a
// time. One request failing does not stop the others; the returned error is
// only the parent context's.
func (a *Advisor) RunBatch(ctx context.Context, reqs []Request, limit int) ([]BatchResult, error) {
	if limit <= 0 {
		limit = a.cfg.Pipeline.Concurrency
	}
	if limit <= 0 {
		limit = 1
	}
	results := make([]BatchResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, req := range reqs {
		g.Go(func() error {
			run, err := a.Recommend(gctx, req, nil)
			results[i] = BatchResult{Index: i, Run: run, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
