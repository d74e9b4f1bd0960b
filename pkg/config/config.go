// Package config loads the interview engine configuration from a JSON file,
// applies defaults, expands ${ENV_VAR} references, and validates the result.
// The loaded Config is passed by value into constructors; there is no
// package-level instance.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Provider identifiers for LLM backends.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGoogle    = "google"
)

// Duration wraps time.Duration so JSON can say "60s" instead of nanoseconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ModelConfig selects the LLM backend and model.
type ModelConfig struct {
	Provider  string `json:"provider"`
	Model     string `json:"model,omitempty"`
	APIKeyVar string `json:"api_key_var,omitempty"` // secret name, e.g. ANTHROPIC_API_KEY
	Host      string `json:"host,omitempty"`        // ollama only
}

// BreakerConfig mirrors resilience.BreakerConfig in serializable form.
type BreakerConfig struct {
	FailureThreshold int      `json:"failure_threshold"`
	SuccessThreshold int      `json:"success_threshold"`
	OpenTimeout      Duration `json:"open_timeout"`
	HalfOpenBudget   int      `json:"half_open_budget"`
}

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	MaxAttempts int `json:"max_attempts"`
}

// ResilienceConfig groups breaker and retry settings.
type ResilienceConfig struct {
	Breaker BreakerConfig `json:"breaker"`
	Retry   RetryConfig   `json:"retry"`
}

// CacheConfig tunes the response cache.
type CacheConfig struct {
	Capacity        int      `json:"capacity"`
	DefaultTTL      Duration `json:"default_ttl"`
	CleanupInterval Duration `json:"cleanup_interval"`
}

// InterviewConfig tunes the interview loop itself.
type InterviewConfig struct {
	MaxQuestions       int `json:"max_questions"`
	HistoryTokenBudget int `json:"history_token_budget"`
}

// CheckpointConfig selects the persistence backend.
type CheckpointConfig struct {
	Backend string `json:"backend"` // "file" or "sqlite"
	Path    string `json:"path"`
}

// MetricsConfig points the usage report at a Prometheus server.
type MetricsConfig struct {
	PrometheusURL string `json:"prometheus_url,omitempty"`
}

// Config is the root configuration.
type Config struct {
	Model      ModelConfig      `json:"model"`
	Resilience ResilienceConfig `json:"resilience"`
	Cache      CacheConfig      `json:"cache"`
	Interview  InterviewConfig  `json:"interview"`
	Checkpoint CheckpointConfig `json:"checkpoint"`
	Metrics    MetricsConfig    `json:"metrics"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Provider:  ProviderAnthropic,
			APIKeyVar: "ANTHROPIC_API_KEY",
		},
		Resilience: ResilienceConfig{
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				OpenTimeout:      Duration(60 * time.Second),
				HalfOpenBudget:   2,
			},
			Retry: RetryConfig{MaxAttempts: 3},
		},
		Cache: CacheConfig{
			Capacity:        256,
			DefaultTTL:      Duration(30 * time.Minute),
			CleanupInterval: Duration(time.Minute),
		},
		Interview: InterviewConfig{
			MaxQuestions:       5,
			HistoryTokenBudget: 6000,
		},
		Checkpoint: CheckpointConfig{
			Backend: "sqlite",
			Path:    "specsmith.db",
		},
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads path, expands ${VAR} references from the environment, fills in
// defaults for omitted sections, and validates. A missing file yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})

	// The model section is taken as a unit: a file that names a provider must
	// also name its key var, it cannot inherit the default provider's.
	var sections map[string]json.RawMessage
	if err := json.Unmarshal([]byte(expanded), &sections); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if _, ok := sections["model"]; ok {
		cfg.Model = ModelConfig{}
	}

	if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderOllama, ProviderGoogle:
	default:
		return fmt.Errorf("unknown provider %q", c.Model.Provider)
	}
	if c.Model.Provider != ProviderOllama && c.Model.APIKeyVar == "" {
		return fmt.Errorf("provider %s requires api_key_var", c.Model.Provider)
	}
	if c.Resilience.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure_threshold must be positive")
	}
	if c.Resilience.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be positive")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache capacity must be positive")
	}
	if c.Interview.MaxQuestions <= 0 {
		return fmt.Errorf("interview max_questions must be positive")
	}
	switch c.Checkpoint.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	if c.Checkpoint.Path == "" {
		return fmt.Errorf("checkpoint path cannot be empty")
	}
	return nil
}
