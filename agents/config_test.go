package agents

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexcodex/gradscout/framework"
	"github.com/lexcodex/gradscout/llm"
	"github.com/lexcodex/gradscout/search"
)

func TestLoadGlobalConfigDefaultsWhenMissing(t *testing.T) {
	cfg, err := LoadGlobalConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultGlobalConfig(), cfg)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 90*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, 20*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 5, cfg.Search.MaxResults)
}

func TestLoadGlobalConfigOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
generation:
  provider: ollama
  model: llama3.1
  timeout: 2m
search:
  provider: tavily
pipeline:
  backoff_step: 250ms
`), 0o644))
	cfg, err := LoadGlobalConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Generation.Provider)
	assert.Equal(t, 2*time.Minute, cfg.Generation.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.BackoffStep)
	assert.Equal(t, "tavily", cfg.Search.Provider)
	assert.Equal(t, "SERPER_API_KEY", cfg.Search.APIKeyEnv, "unset fields keep defaults")
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
}

func TestSaveGlobalConfigRoundTrip(t *testing.T) {
	path := filepath.Join(ConfigDir(t.TempDir()), "config.yaml")
	cfg := DefaultGlobalConfig()
	cfg.Logging.Level = "debug"
	cfg.Pipeline.Required = []string{"normalizer", "matcher"}
	require.NoError(t, SaveGlobalConfig(path, cfg))
	loaded, err := LoadGlobalConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	assert.Error(t, SaveGlobalConfig(path, nil))
}

func TestCredentialRequirementsAndResolution(t *testing.T) {
	cfg := DefaultGlobalConfig()
	assert.Equal(t, framework.CredentialRequirements{Generation: true, Search: true}, cfg.CredentialRequirements())

	cfg.Generation.Provider = "ollama"
	cfg.Search.Provider = "none"
	assert.Equal(t, framework.CredentialRequirements{}, cfg.CredentialRequirements())

	t.Setenv("GRADSCOUT_TEST_GEN", "from-env")
	t.Setenv("GRADSCOUT_TEST_SEARCH", "search-env")
	cfg.Generation.APIKeyEnv = "GRADSCOUT_TEST_GEN"
	cfg.Search.APIKeyEnv = "GRADSCOUT_TEST_SEARCH"
	creds := cfg.ResolveCredentials(framework.Credentials{GenerationKey: "explicit"})
	assert.Equal(t, "explicit", creds.GenerationKey)
	assert.Equal(t, "search-env", creds.SearchKey)
}

func TestBuildProviders(t *testing.T) {
	model, err := BuildModel(GenerationConfig{Provider: "openrouter", Endpoint: "http://proxy"}, "k", true, nil)
	require.NoError(t, err)
	or, ok := model.(*llm.OpenRouterClient)
	require.True(t, ok)
	assert.Equal(t, "http://proxy", or.BaseURL)
	assert.True(t, or.Debug)

	model, err = BuildModel(GenerationConfig{Provider: "ollama", Model: "qwen2"}, "", false, nil)
	require.NoError(t, err)
	assert.IsType(t, &llm.OllamaClient{}, model)

	_, err = BuildModel(GenerationConfig{Provider: "gpt-local"}, "", false, nil)
	assert.Error(t, err)

	searcher, err := BuildSearch(SearchConfig{Provider: "off"}, "")
	require.NoError(t, err)
	assert.Nil(t, searcher)
	searcher, err = BuildSearch(SearchConfig{Provider: "brave", MaxResults: 3}, "k")
	require.NoError(t, err)
	brave, ok := searcher.(*search.Brave)
	require.True(t, ok)
	assert.Equal(t, 3, brave.MaxResults)
}

func TestBuildTelemetryWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	sink, closer, err := BuildTelemetry(LoggingConfig{Telemetry: path}, zap.NewNop())
	require.NoError(t, err)
	sink.Emit(framework.Event{Type: framework.EventRunStart, RunID: "r1"})
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var ev framework.Event
	require.NoError(t, json.NewDecoder(bytes.NewReader(data)).Decode(&ev))
	assert.Equal(t, "r1", ev.RunID)

	sink, closer, err = BuildTelemetry(LoggingConfig{}, zap.NewNop())
	require.NoError(t, err)
	sink.Emit(framework.Event{Type: framework.EventRunStart})
	assert.NoError(t, closer.Close())
}
