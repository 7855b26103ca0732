package agents

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const configDirName = "gradscout_cfg"

// ConfigDir returns the workspace-local configuration directory.
func ConfigDir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, configDirName)
}

// GlobalConfig matches gradscout_cfg/config.yaml inside the workspace.
type GlobalConfig struct {
	Version    string           `yaml:"version"`
	Generation GenerationConfig `yaml:"generation"`
	Search     SearchConfig     `yaml:"search"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Document   DocumentConfig   `yaml:"document"`
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
}

// GenerationConfig selects the language model.
type GenerationConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	Endpoint    string        `yaml:"endpoint,omitempty"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens,omitempty"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SearchConfig selects the web search provider. An empty provider disables
// search; stages that want it then run without enrichment.
type SearchConfig struct {
	Provider   string        `yaml:"provider"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	MaxResults int           `yaml:"max_results"`
	Timeout    time.Duration `yaml:"timeout"`
}

// PipelineConfig controls stage selection and retries.
type PipelineConfig struct {
	StageSet     string        `yaml:"stage_set"`
	StagesFile   string        `yaml:"stages_file,omitempty"`
	StagePaths   []string      `yaml:"stage_paths,omitempty"`
	Required     []string      `yaml:"required,omitempty"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BackoffStep  time.Duration `yaml:"backoff_step"`
	SessionStore string        `yaml:"session_store"`
	Concurrency  int           `yaml:"concurrency"`
}

// DocumentConfig bounds supporting-document extraction.
type DocumentConfig struct {
	MaxBytes      int64         `yaml:"max_bytes"`
	MinTextLength int           `yaml:"min_text_length"`
	OCR           bool          `yaml:"ocr"`
	OCRLanguage   string        `yaml:"ocr_language"`
	OCRDPI        int           `yaml:"ocr_dpi"`
	OCRTimeout    time.Duration `yaml:"ocr_timeout"`
	Required      bool          `yaml:"required"`
}

// LoggingConfig describes log output.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	File      string `yaml:"file,omitempty"`
	Format    string `yaml:"format"`
	Telemetry string `yaml:"telemetry_file,omitempty"`
	LLM       bool   `yaml:"llm_debug"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultGlobalConfig returns the configuration used when no file exists.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Version: "1.0.0",
		Generation: GenerationConfig{
			Provider:    "openrouter",
			APIKeyEnv:   "OPENROUTER_API_KEY",
			Temperature: 0.1,
			Timeout:     90 * time.Second,
		},
		Search: SearchConfig{
			Provider:   "serper",
			APIKeyEnv:  "SERPER_API_KEY",
			MaxResults: 5,
			Timeout:    20 * time.Second,
		},
		Pipeline: PipelineConfig{
			StageSet:     DefaultStageSetName,
			MaxAttempts:  3,
			BackoffStep:  800 * time.Millisecond,
			SessionStore: "memory",
			Concurrency:  2,
		},
		Document: DocumentConfig{
			MaxBytes:      20 << 20,
			MinTextLength: 50,
			OCR:           true,
			OCRLanguage:   "eng",
			OCRDPI:        300,
			OCRTimeout:    60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// DefaultConfigPath returns gradscout_cfg/config.yaml within the workspace.
func DefaultConfigPath(workspace string) string {
	return filepath.Join(ConfigDir(workspace), "config.yaml")
}

// DefaultStagePaths returns the canonical stage-file search path.
func DefaultStagePaths(workspace string) []string {
	return []string{filepath.Join(ConfigDir(workspace), "stages")}
}

// LoadGlobalConfig loads the config or returns defaults when missing. Fields
// absent from the file keep their defaults.
func LoadGlobalConfig(path string) (*GlobalConfig, error) {
	cfg := DefaultGlobalConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveGlobalConfig writes the config to disk.
func SaveGlobalConfig(path string, cfg *GlobalConfig) error {
	if cfg == nil {
		return errors.New("config missing")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// StageSearchPaths resolves stage-file paths for the registry.
func (c *GlobalConfig) StageSearchPaths(workspace string) []string {
	if c == nil || len(c.Pipeline.StagePaths) == 0 {
		return DefaultStagePaths(workspace)
	}
	resolved := make([]string, 0, len(c.Pipeline.StagePaths))
	for _, path := range c.Pipeline.StagePaths {
		resolved = append(resolved, expandPath(path, workspace))
	}
	return resolved
}

// expandPath resolves ~ and workspace-relative paths into absolute paths while
// leaving already absolute entries untouched.
func expandPath(path, workspace string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	if strings.HasPrefix(path, ".") {
		return filepath.Join(workspace, path)
	}
	return path
}

// StagesFilePath resolves pipeline.stages_file, or "" when unset.
func (c *GlobalConfig) StagesFilePath(workspace string) string {
	if c == nil {
		return ""
	}
	return expandPath(c.Pipeline.StagesFile, workspace)
}
