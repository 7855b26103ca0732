package agents

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/lexcodex/gradscout/document"
	"github.com/lexcodex/gradscout/framework"
	"github.com/lexcodex/gradscout/llm"
	"github.com/lexcodex/gradscout/search"
)

// SearchDisabled reports whether the config turns web search off.
func (c SearchConfig) SearchDisabled() bool {
	p := strings.ToLower(strings.TrimSpace(c.Provider))
	return p == "" || p == "none" || p == "off"
}

// CredentialRequirements derives which secrets the configured providers
// need. Ollama runs locally and needs none.
func (c *GlobalConfig) CredentialRequirements() framework.CredentialRequirements {
	return framework.CredentialRequirements{
		Generation: !strings.EqualFold(c.Generation.Provider, "ollama"),
		Search:     !c.Search.SearchDisabled(),
	}
}

// ResolveCredentials fills credentials not supplied explicitly from the
// environment variables named in config.
func (c *GlobalConfig) ResolveCredentials(explicit framework.Credentials) framework.Credentials {
	creds := explicit
	if strings.TrimSpace(creds.GenerationKey) == "" && c.Generation.APIKeyEnv != "" {
		creds.GenerationKey = os.Getenv(c.Generation.APIKeyEnv)
	}
	if strings.TrimSpace(creds.SearchKey) == "" && c.Search.APIKeyEnv != "" {
		creds.SearchKey = os.Getenv(c.Search.APIKeyEnv)
	}
	return creds
}

// BuildModel constructs the configured language model client.
func BuildModel(cfg GenerationConfig, apiKey string, debug bool, logger *zap.Logger) (framework.LanguageModel, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openrouter", "":
		client := llm.NewOpenRouterClient(apiKey, cfg.Model, logger)
		if cfg.Endpoint != "" {
			client.BaseURL = cfg.Endpoint
		}
		client.Debug = debug
		return client, nil
	case "ollama":
		client := llm.NewOllamaClient(cfg.Endpoint, cfg.Model, logger)
		client.Debug = debug
		return client, nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}

// Providers returns a factory building instrumented clients from this config
// for a given set of credentials.
func (c *GlobalConfig) Providers(telemetry framework.Telemetry, logger *zap.Logger) ProviderFactory {
	return func(creds framework.Credentials) (framework.LanguageModel, framework.SearchProvider, error) {
		model, err := BuildModel(c.Generation, creds.GenerationKey, c.Logging.LLM, logger)
		if err != nil {
			return nil, nil, err
		}
		searcher, err := BuildSearch(c.Search, creds.SearchKey)
		if err != nil {
			return nil, nil, err
		}
		if telemetry != nil {
			model = llm.NewInstrumentedModel(model, telemetry, c.Logging.LLM)
		}
		return model, searcher, nil
	}
}

// BuildSearch constructs the configured search provider, or nil when search
// is disabled.
func BuildSearch(cfg SearchConfig, apiKey string) (framework.SearchProvider, error) {
	if cfg.SearchDisabled() {
		return nil, nil
	}
	return search.New(cfg.Provider, apiKey, cfg.MaxResults)
}

// BuildExtractor constructs the document extractor. With OCR disabled only
// embedded text is read.
func BuildExtractor(cfg DocumentConfig, logger *zap.Logger) *document.Extractor {
	var recognizer document.PageRecognizer
	if cfg.OCR {
		recognizer = document.NewTesseractRecognizer(nil, document.OCRConfig{
			Language:    cfg.OCRLanguage,
			DPI:         cfg.OCRDPI,
			PageTimeout: cfg.OCRTimeout,
		})
	}
	return document.NewExtractor(document.PDFTextSource{}, recognizer, document.Config{
		MinTextLength: cfg.MinTextLength,
		MaxBytes:      cfg.MaxBytes,
	}, logger)
}

// BuildTelemetry returns the zap sink plus, when configured, an NDJSON file
// sink. The closer must be called once the telemetry is no longer used.
func BuildTelemetry(cfg LoggingConfig, logger *zap.Logger) (framework.Telemetry, io.Closer, error) {
	sinks := framework.MultiplexTelemetry{Sinks: []framework.Telemetry{framework.ZapTelemetry{Logger: logger}}}
	if cfg.Telemetry == "" {
		return sinks, nopCloser{}, nil
	}
	file, err := framework.NewJSONFileTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, nil, err
	}
	sinks.Sinks = append(sinks.Sinks, file)
	return sinks, file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
