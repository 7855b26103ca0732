package main

import (
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/lexcodex/gradscout/agents"
	"github.com/lexcodex/gradscout/framework"
)

// session bundles what a command needs to run the advisor.
type session struct {
	cfg      *agents.GlobalConfig
	registry *agents.Registry
	advisor  *agents.Advisor
	creds    framework.Credentials
	closers  []io.Closer
}

// openSession loads stage sets, builds providers from config and assembles
// the advisor. Credentials come from the environment variables named in
// config.
func openSession(stageSet string) (*session, error) {
	cfg := globalCfg
	if cfg == nil {
		cfg = agents.DefaultGlobalConfig()
	}
	workspace, err := resolveWorkspace()
	if err != nil {
		return nil, err
	}
	registry := buildRegistry(cfg, workspace)
	if err := registry.Load(); err != nil {
		return nil, err
	}
	set, err := resolveStageSet(registry, cfg, workspace, stageSet)
	if err != nil {
		return nil, err
	}

	telemetry, closer, err := agents.BuildTelemetry(cfg.Logging, logger)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, registry: registry, closers: []io.Closer{closer}}
	s.creds = cfg.ResolveCredentials(framework.Credentials{})
	providers := cfg.Providers(telemetry, logger)
	model, searcher, err := providers(s.creds)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.advisor, err = agents.NewAdvisor(agents.AdvisorOptions{
		Config:      cfg,
		StageSet:    set,
		Model:       model,
		Search:      searcher,
		Credentials: s.creds,
		Providers:   providers,
		Telemetry:   telemetry,
		Logger:      logger,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if c, ok := s.advisor.Store().(io.Closer); ok {
		s.closers = append(s.closers, c)
	}
	logger.Debug("session ready",
		zap.String("stage_set", set.Name),
		zap.String("generation", cfg.Generation.Provider),
		zap.String("search", cfg.Search.Provider),
	)
	return s, nil
}

// Close releases the telemetry file and session store.
func (s *session) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildRegistry(cfg *agents.GlobalConfig, workspace string) *agents.Registry {
	return agents.NewRegistry(agents.RegistryOptions{
		Workspace: workspace,
		Paths:     cfg.StageSearchPaths(workspace),
		Logger:    logger,
	})
}

// resolveStageSet picks, in order: the named set, pipeline.stages_file, then
// pipeline.stage_set.
func resolveStageSet(registry *agents.Registry, cfg *agents.GlobalConfig, workspace, name string) (*agents.StageSet, error) {
	if name != "" {
		return registry.Get(name)
	}
	if path := cfg.StagesFilePath(workspace); path != "" {
		return agents.LoadStageSet(path)
	}
	return registry.Get(cfg.Pipeline.StageSet)
}
