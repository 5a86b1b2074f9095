package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/lamim/bookforge/pkg/models"
)

// Config represents the complete application configuration.
type Config struct {
	Generation         GenerationConfig       `toml:"generation"`
	Retry              RetryConfig            `toml:"retry"`
	Storage            StorageConfig          `toml:"storage"`
	Models             map[string]ModelConfig `toml:"models"`
	PromptTemplates    PromptTemplates        `toml:"prompt_templates"`
	ProviderRateLimits map[string]int         `toml:"provider_rate_limits"` // requests per minute per provider
}

// GenerationConfig holds book-generation settings.
type GenerationConfig struct {
	MinModules          int `toml:"min_modules"`           // minimum roadmap size requested (default 8)
	TargetModuleWords   int `toml:"target_module_words"`   // denominator for live progress (default 3000)
	MinModuleWords      int `toml:"min_module_words"`      // below this a generation counts as failed (default 300)
	ContextModules      int `toml:"context_modules"`       // completed modules echoed into the next prompt (default 2)
	ContextExcerptChars int `toml:"context_excerpt_chars"` // per-module excerpt cap (default 1500)
	GlossaryInputChars  int `toml:"glossary_input_chars"`  // cap on concatenated content fed to the glossary call (default 24000)
	RoadmapAttempts     int `toml:"roadmap_attempts"`      // whole-roadmap attempts on parse failure (default 2)
	RoadmapRetryDelayMS int `toml:"roadmap_retry_delay_ms"`
	PausePollIntervalMS int `toml:"pause_poll_interval_ms"` // mid-stream pause flag poll cadence (default 500)
}

// RetryConfig tunes the per-module retry policy.
type RetryConfig struct {
	MaxModuleAttempts    int `toml:"max_module_attempts"`     // default 5
	BaseRetryDelayMS     int `toml:"base_retry_delay_ms"`     // default 3000
	MaxRetryDelayMS      int `toml:"max_retry_delay_ms"`      // default 30000
	BaseRateLimitDelayMS int `toml:"base_rate_limit_delay_ms"` // default 5000
}

// StorageConfig selects where checkpoints, pause flags and artifacts live.
type StorageConfig struct {
	Backend    string `toml:"backend"` // "file" or "sqlite"
	Dir        string `toml:"dir"`     // project output root (default "output")
	SQLitePath string `toml:"sqlite_path"`
}

// ModelConfig represents configuration for a single model endpoint.
type ModelConfig struct {
	BaseURL            string  `toml:"base_url"`
	ModelName          string  `toml:"model_name"`
	Temperature        float64 `toml:"temperature"`
	TopP               float64 `toml:"top_p"`
	MaxOutputTokens    int     `toml:"max_output_tokens"`
	RateLimitPerMinute int     `toml:"rate_limit_per_minute"`
	HTTPTimeoutSeconds int     `toml:"http_timeout_seconds"` // per-request bound (default 300)
	AdapterMaxRetries  int     `toml:"adapter_max_retries"`  // adapter-internal 429/503 retries (default 2)
	MaxBackoffSeconds  int     `toml:"max_backoff_seconds"`
}

// PromptTemplates holds the customizable prompt templates. Empty fields
// fall back to the built-in defaults.
type PromptTemplates struct {
	Roadmap      string `toml:"roadmap"`
	Module       string `toml:"module"`
	Introduction string `toml:"introduction"`
	Summary      string `toml:"summary"`
	Glossary     string `toml:"glossary"`
}

// Secrets holds credentials loaded from environment variables.
type Secrets struct {
	APIKeys map[string]string
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Generation.MinModules < 1 {
		return fmt.Errorf("generation.min_modules must be at least 1")
	}
	if c.Generation.MinModuleWords < 0 {
		return fmt.Errorf("generation.min_module_words must not be negative")
	}
	if c.Generation.MinModuleWords >= c.Generation.TargetModuleWords {
		return fmt.Errorf("generation.min_module_words (%d) must be below target_module_words (%d)",
			c.Generation.MinModuleWords, c.Generation.TargetModuleWords)
	}
	if c.Generation.RoadmapAttempts < 1 {
		return fmt.Errorf("generation.roadmap_attempts must be at least 1")
	}
	if c.Retry.MaxModuleAttempts < 1 {
		return fmt.Errorf("retry.max_module_attempts must be at least 1")
	}
	if c.Retry.BaseRetryDelayMS < 0 || c.Retry.BaseRateLimitDelayMS < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if c.Retry.MaxRetryDelayMS < c.Retry.BaseRetryDelayMS {
		return fmt.Errorf("retry.max_retry_delay_ms (%d) must be at least base_retry_delay_ms (%d)",
			c.Retry.MaxRetryDelayMS, c.Retry.BaseRetryDelayMS)
	}

	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("storage.backend must be \"file\" or \"sqlite\" (got %q)", c.Storage.Backend)
	}

	mainModel, ok := c.Models["main"]
	if !ok {
		return fmt.Errorf("models.main is required")
	}
	if err := validateModelConfig("main", mainModel); err != nil {
		return err
	}
	if assemblyModel, ok := c.Models["assembly"]; ok {
		if err := validateModelConfig("assembly", assemblyModel); err != nil {
			return err
		}
	}
	return nil
}

func validateModelConfig(name string, mc ModelConfig) error {
	if mc.BaseURL == "" {
		return fmt.Errorf("models.%s.base_url is required", name)
	}
	if mc.ModelName == "" {
		return fmt.Errorf("models.%s.model_name is required", name)
	}
	if mc.Temperature < 0 || mc.Temperature > 2 {
		return fmt.Errorf("models.%s.temperature must be between 0 and 2", name)
	}
	if mc.TopP < 0 || mc.TopP > 1 {
		return fmt.Errorf("models.%s.top_p must be between 0 and 1", name)
	}
	if mc.MaxOutputTokens < 1 {
		return fmt.Errorf("models.%s.max_output_tokens must be at least 1", name)
	}
	if mc.RateLimitPerMinute < 1 {
		return fmt.Errorf("models.%s.rate_limit_per_minute must be at least 1", name)
	}
	return nil
}

// AssemblyModel returns the model used for the assembly phase calls,
// falling back to the main model when none is configured.
func (c *Config) AssemblyModel() ModelConfig {
	if mc, ok := c.Models["assembly"]; ok {
		return mc
	}
	return c.Models["main"]
}

// ValidateSession checks caller-supplied session input before any
// generation starts. Configuration errors are fatal and never retried.
func ValidateSession(s models.Session) error {
	if strings.TrimSpace(s.Goal) == "" {
		return fmt.Errorf("session goal is required")
	}
	switch s.ComplexityLevel {
	case models.ComplexityBeginner, models.ComplexityIntermediate, models.ComplexityAdvanced:
		return nil
	case "":
		return fmt.Errorf("session complexity_level is required")
	default:
		return fmt.Errorf("session complexity_level must be beginner, intermediate or advanced (got %q)", s.ComplexityLevel)
	}
}

// LoadSecrets loads API keys from environment variables.
func LoadSecrets() (*Secrets, error) {
	secrets := &Secrets{APIKeys: make(map[string]string)}

	if key := os.Getenv("API_KEY"); key != "" {
		secrets.APIKeys["generic"] = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		secrets.APIKeys["openai"] = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		secrets.APIKeys["anthropic"] = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		secrets.APIKeys["gemini"] = key
	}
	if key := os.Getenv("TOGETHER_API_KEY"); key != "" {
		secrets.APIKeys["together"] = key
	}
	return secrets, nil
}

// GetAPIKey returns the API key for a given base URL, falling back to the
// generic API_KEY for any OpenAI-compatible provider. An empty result is
// valid for local servers without auth.
func (s *Secrets) GetAPIKey(baseURL string) string {
	if name := GetProviderName(baseURL); name != "" {
		if key := s.APIKeys[name]; key != "" {
			return key
		}
	}
	return s.APIKeys["generic"]
}

// GetProviderName extracts a provider name from a base URL, used for keyed
// rate limits and key lookup. Unknown providers map to "".
func GetProviderName(baseURL string) string {
	switch {
	case strings.Contains(baseURL, "openai.com"):
		return "openai"
	case strings.Contains(baseURL, "anthropic.com"):
		return "anthropic"
	case strings.Contains(baseURL, "googleapis.com"):
		return "gemini"
	case strings.Contains(baseURL, "together.xyz"), strings.Contains(baseURL, "together.ai"):
		return "together"
	}
	return ""
}
