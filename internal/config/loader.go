package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables.
// A missing config file yields the built-in defaults for everything except
// the model endpoints, which have no sensible default and must be set.
func Load(configPath string) (*Config, *Secrets, error) {
	var cfg Config

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// Defaults only.
	default:
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	secrets, err := LoadSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}
	return &cfg, secrets, nil
}

// applyDefaults sets default values for optional configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Generation.MinModules == 0 {
		cfg.Generation.MinModules = 8
	}
	if cfg.Generation.TargetModuleWords == 0 {
		cfg.Generation.TargetModuleWords = 3000
	}
	if cfg.Generation.MinModuleWords == 0 {
		cfg.Generation.MinModuleWords = 300
	}
	if cfg.Generation.ContextModules == 0 {
		cfg.Generation.ContextModules = 2
	}
	if cfg.Generation.ContextExcerptChars == 0 {
		cfg.Generation.ContextExcerptChars = 1500
	}
	if cfg.Generation.GlossaryInputChars == 0 {
		cfg.Generation.GlossaryInputChars = 24000
	}
	if cfg.Generation.RoadmapAttempts == 0 {
		cfg.Generation.RoadmapAttempts = 2
	}
	if cfg.Generation.RoadmapRetryDelayMS == 0 {
		cfg.Generation.RoadmapRetryDelayMS = 2000
	}
	if cfg.Generation.PausePollIntervalMS == 0 {
		cfg.Generation.PausePollIntervalMS = 500
	}

	if cfg.Retry.MaxModuleAttempts == 0 {
		cfg.Retry.MaxModuleAttempts = 5
	}
	if cfg.Retry.BaseRetryDelayMS == 0 {
		cfg.Retry.BaseRetryDelayMS = 3000
	}
	if cfg.Retry.MaxRetryDelayMS == 0 {
		cfg.Retry.MaxRetryDelayMS = 30000
	}
	if cfg.Retry.BaseRateLimitDelayMS == 0 {
		cfg.Retry.BaseRateLimitDelayMS = 5000
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "file"
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "output"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "output/bookforge.db"
	}

	if cfg.Models == nil {
		cfg.Models = make(map[string]ModelConfig)
	}
	for name, model := range cfg.Models {
		if model.Temperature == 0 {
			model.Temperature = 0.7
		}
		if model.TopP == 0 {
			model.TopP = 1.0
		}
		if model.MaxOutputTokens == 0 {
			model.MaxOutputTokens = 8192
		}
		if model.RateLimitPerMinute == 0 {
			model.RateLimitPerMinute = 60
		}
		if model.HTTPTimeoutSeconds == 0 {
			model.HTTPTimeoutSeconds = 300
		}
		if model.AdapterMaxRetries == 0 {
			model.AdapterMaxRetries = 2
		}
		if model.MaxBackoffSeconds == 0 {
			model.MaxBackoffSeconds = 120
		}
		cfg.Models[name] = model
	}

	if cfg.PromptTemplates.Roadmap == "" {
		cfg.PromptTemplates.Roadmap = DefaultRoadmapTemplate()
	}
	if cfg.PromptTemplates.Module == "" {
		cfg.PromptTemplates.Module = DefaultModuleTemplate()
	}
	if cfg.PromptTemplates.Introduction == "" {
		cfg.PromptTemplates.Introduction = DefaultIntroductionTemplate()
	}
	if cfg.PromptTemplates.Summary == "" {
		cfg.PromptTemplates.Summary = DefaultSummaryTemplate()
	}
	if cfg.PromptTemplates.Glossary == "" {
		cfg.PromptTemplates.Glossary = DefaultGlossaryTemplate()
	}
}
