// Package config holds the process-wide configuration for the excavate
// service. Tunables are loaded once at startup and treated as immutable; none
// of them are exposed to callers through the turn protocol.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface is the read-only view of the configuration handed to components.
// It exists so tests can inject a fake without building a full Config.
type Interface interface {
	Logger() LoggerConfig
	Server() ServerConfig
	Engine() EngineConfig
	LLM() LLMConfig
	Guardrail() GuardrailConfig
	Idempotency() IdempotencyConfig
}

// Config is the root configuration object.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	ServerCfg      ServerConfig      `mapstructure:"server" yaml:"server"`
	EngineCfg      EngineConfig      `mapstructure:"engine" yaml:"engine"`
	LLMCfg         LLMConfig         `mapstructure:"llm" yaml:"llm"`
	GuardrailCfg   GuardrailConfig   `mapstructure:"guardrail" yaml:"guardrail"`
	IdempotencyCfg IdempotencyConfig `mapstructure:"idempotency" yaml:"idempotency"`
}

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Server() ServerConfig           { return c.ServerCfg }
func (c *Config) Engine() EngineConfig           { return c.EngineCfg }
func (c *Config) LLM() LLMConfig                 { return c.LLMCfg }
func (c *Config) Guardrail() GuardrailConfig     { return c.GuardrailCfg }
func (c *Config) Idempotency() IdempotencyConfig { return c.IdempotencyCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// RatePerMinute caps turn requests per client IP. The guard runs before
	// any state mutation so a rejected request never charges budget.
	RatePerMinute int `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
	RateBurst     int `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// EngineConfig carries the decision-loop tunables. These are the only
// "globals" the engine is permitted; they never travel over the wire.
type EngineConfig struct {
	// TauHigh is the top-probability threshold for a confident exit.
	TauHigh float64 `mapstructure:"tau_high" yaml:"tau_high"`
	// DeltaGap is the required lead of the top hypothesis over the runner-up.
	DeltaGap float64 `mapstructure:"delta_gap" yaml:"delta_gap"`
	// EpsilonEVI is the diminishing-returns floor: when no candidate action
	// scores at least this much, the loop stops.
	EpsilonEVI float64 `mapstructure:"epsilon_evi" yaml:"epsilon_evi"`
	// LambdaCost weights user effort against expected information gain.
	LambdaCost float64 `mapstructure:"lambda_cost" yaml:"lambda_cost"`

	MaxUserQueries int `mapstructure:"max_user_queries" yaml:"max_user_queries"`
	MaxSteps       int `mapstructure:"max_steps" yaml:"max_steps"`
	MaxHypotheses  int `mapstructure:"max_hypotheses" yaml:"max_hypotheses"`

	// MergeRadius is the similarity above which two active nodes are merged.
	MergeRadius float64 `mapstructure:"merge_radius" yaml:"merge_radius"`
	// RetireFloor and RetirePatience control stale-node retirement: a node
	// whose probability stays below the floor for patience consecutive turns
	// is retired.
	RetireFloor    float64 `mapstructure:"retire_floor" yaml:"retire_floor"`
	RetirePatience int     `mapstructure:"retire_patience" yaml:"retire_patience"`

	// ConfirmationBar is the minimum confidence for a secondary theme to be
	// reported in the result.
	ConfirmationBar float64 `mapstructure:"confirmation_bar" yaml:"confirmation_bar"`

	// IntegrityKey signs the state integrity tag. Loaded from the
	// EXCAVATE_INTEGRITY_KEY environment variable.
	IntegrityKey string `mapstructure:"integrity_key" yaml:"-"`
}

// LLMProvider identifies a reasoning-service backend.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderMock   LLMProvider = "mock"
)

// LLMModelConfig defines the configuration for a single model endpoint.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// EmbeddingConfig configures the similarity embedder. When disabled or left
// without an API key the merge pass falls back to lexical similarity.
type EmbeddingConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Model   string `mapstructure:"model" yaml:"model"`
	APIKey  string `mapstructure:"api_key" yaml:"-"`
}

// LLMConfig routes completions across model tiers.
type LLMConfig struct {
	Fast      LLMModelConfig  `mapstructure:"fast" yaml:"fast"`
	Powerful  LLMModelConfig  `mapstructure:"powerful" yaml:"powerful"`
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`

	// MaxRetries bounds retry attempts per reasoning call. The turn protocol
	// assumes a single bounded retry; raising this stretches turn latency.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}

// GuardrailConfig controls the safety short-circuit.
type GuardrailConfig struct {
	// ExtraDistressPatterns extends the built-in distress regex set.
	ExtraDistressPatterns []string `mapstructure:"extra_distress_patterns" yaml:"extra_distress_patterns"`
}

// IdempotencyConfig bounds the replay-deduplication window.
type IdempotencyConfig struct {
	Window  time.Duration `mapstructure:"window" yaml:"window"`
	MaxKeys int           `mapstructure:"max_keys" yaml:"max_keys"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "excavate")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_per_minute", 30)
	v.SetDefault("server.rate_burst", 10)

	// -- Engine --
	v.SetDefault("engine.tau_high", 0.80)
	v.SetDefault("engine.delta_gap", 0.25)
	v.SetDefault("engine.epsilon_evi", 0.05)
	v.SetDefault("engine.lambda_cost", 1.0)
	v.SetDefault("engine.max_user_queries", 3)
	v.SetDefault("engine.max_steps", 8)
	v.SetDefault("engine.max_hypotheses", 6)
	v.SetDefault("engine.merge_radius", 0.92)
	v.SetDefault("engine.retire_floor", 0.08)
	v.SetDefault("engine.retire_patience", 2)
	v.SetDefault("engine.confirmation_bar", 0.10)

	// -- LLM --
	v.SetDefault("llm.fast.provider", "gemini")
	v.SetDefault("llm.fast.model", "gemini-2.5-flash")
	v.SetDefault("llm.fast.api_timeout", "20s")
	v.SetDefault("llm.fast.temperature", 0.2)
	v.SetDefault("llm.fast.max_tokens", 2048)
	v.SetDefault("llm.powerful.provider", "gemini")
	v.SetDefault("llm.powerful.model", "gemini-2.5-pro")
	v.SetDefault("llm.powerful.api_timeout", "45s")
	v.SetDefault("llm.powerful.temperature", 0.4)
	v.SetDefault("llm.powerful.max_tokens", 4096)
	v.SetDefault("llm.embedding.enabled", false)
	v.SetDefault("llm.embedding.model", "gemini-embedding-001")
	v.SetDefault("llm.max_retries", 1)

	// -- Idempotency --
	v.SetDefault("idempotency.window", "5m")
	v.SetDefault("idempotency.max_keys", 4096)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for secrets.
	_ = v.BindEnv("llm.fast.api_key", "EXCAVATE_LLM_API_KEY")
	_ = v.BindEnv("llm.powerful.api_key", "EXCAVATE_LLM_API_KEY")
	_ = v.BindEnv("llm.embedding.api_key", "EXCAVATE_LLM_API_KEY")
	_ = v.BindEnv("engine.integrity_key", "EXCAVATE_INTEGRITY_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.EngineCfg.IntegrityKey == "" {
		cfg.EngineCfg.IntegrityKey = os.Getenv("EXCAVATE_INTEGRITY_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.EngineCfg.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	if c.ServerCfg.Port <= 0 || c.ServerCfg.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535]")
	}
	if c.ServerCfg.RatePerMinute <= 0 {
		return fmt.Errorf("server.rate_per_minute must be a positive integer")
	}
	if c.LLMCfg.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative")
	}
	if c.IdempotencyCfg.Window <= 0 {
		return fmt.Errorf("idempotency.window must be a positive duration")
	}
	if c.IdempotencyCfg.MaxKeys <= 0 {
		return fmt.Errorf("idempotency.max_keys must be a positive integer")
	}
	return nil
}

// Validate checks the engine tunables.
func (e *EngineConfig) Validate() error {
	if e.TauHigh <= 0 || e.TauHigh > 1 {
		return fmt.Errorf("tau_high must be in (0, 1]")
	}
	if e.DeltaGap < 0 || e.DeltaGap > 1 {
		return fmt.Errorf("delta_gap must be in [0, 1]")
	}
	if e.EpsilonEVI < 0 {
		return fmt.Errorf("epsilon_evi must not be negative")
	}
	if e.LambdaCost < 0 {
		return fmt.Errorf("lambda_cost must not be negative")
	}
	if e.MaxUserQueries <= 0 {
		return fmt.Errorf("max_user_queries must be a positive integer")
	}
	if e.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be a positive integer")
	}
	if e.MaxHypotheses < 2 {
		return fmt.Errorf("max_hypotheses must be at least 2")
	}
	if e.MergeRadius <= 0 || e.MergeRadius > 1 {
		return fmt.Errorf("merge_radius must be in (0, 1]")
	}
	if e.RetireFloor < 0 || e.RetireFloor >= 1 {
		return fmt.Errorf("retire_floor must be in [0, 1)")
	}
	if e.RetirePatience <= 0 {
		return fmt.Errorf("retire_patience must be a positive integer")
	}
	return nil
}
