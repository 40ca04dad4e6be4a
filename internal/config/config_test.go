package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, 8000, cfg.Server().Port)
	assert.Equal(t, 0.80, cfg.Engine().TauHigh)
	assert.Equal(t, 0.25, cfg.Engine().DeltaGap)
	assert.Equal(t, 0.05, cfg.Engine().EpsilonEVI)
	assert.Equal(t, 1.0, cfg.Engine().LambdaCost)
	assert.Equal(t, 3, cfg.Engine().MaxUserQueries)
	assert.Equal(t, 8, cfg.Engine().MaxSteps)
	assert.Equal(t, 6, cfg.Engine().MaxHypotheses)
	assert.Equal(t, 0.92, cfg.Engine().MergeRadius)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM().Fast.Model)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM().Powerful.Model)
	assert.False(t, cfg.LLM().Embedding.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Idempotency().Window)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("core", func(t *testing.T) {
		cfg := NewDefaultConfig()
		assert.NoError(t, cfg.Validate())

		badPort := *cfg
		badPort.ServerCfg.Port = 0
		err := badPort.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server.port")

		badRate := *cfg
		badRate.ServerCfg.RatePerMinute = 0
		err = badRate.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server.rate_per_minute")

		badWindow := *cfg
		badWindow.IdempotencyCfg.Window = 0
		err = badWindow.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "idempotency.window")
	})

	t.Run("engine", func(t *testing.T) {
		base := NewDefaultConfig().EngineCfg
		assert.NoError(t, base.Validate())

		cases := []struct {
			name string
			mod  func(*EngineConfig)
			want string
		}{
			{"tau out of range", func(e *EngineConfig) { e.TauHigh = 1.5 }, "tau_high"},
			{"negative epsilon", func(e *EngineConfig) { e.EpsilonEVI = -0.1 }, "epsilon_evi"},
			{"negative lambda", func(e *EngineConfig) { e.LambdaCost = -1 }, "lambda_cost"},
			{"zero queries", func(e *EngineConfig) { e.MaxUserQueries = 0 }, "max_user_queries"},
			{"zero steps", func(e *EngineConfig) { e.MaxSteps = 0 }, "max_steps"},
			{"single hypothesis cap", func(e *EngineConfig) { e.MaxHypotheses = 1 }, "max_hypotheses"},
			{"merge radius over one", func(e *EngineConfig) { e.MergeRadius = 1.2 }, "merge_radius"},
			{"retire floor at one", func(e *EngineConfig) { e.RetireFloor = 1.0 }, "retire_floor"},
			{"zero patience", func(e *EngineConfig) { e.RetirePatience = 0 }, "retire_patience"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				cfg := base
				tc.mod(&cfg)
				err := cfg.Validate()
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.want)
			})
		}
	})
}

// -- Loading Tests --

func TestNewConfigFromViper(t *testing.T) {
	yamlConfig := []byte(`
server:
  port: 9100
  rate_per_minute: 120
engine:
  tau_high: 0.9
  max_user_queries: 2
llm:
  fast:
    model: some-fast-model
`)
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	t.Setenv("EXCAVATE_INTEGRITY_KEY", "test-key-from-env")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	// File values override defaults; untouched keys keep defaults.
	assert.Equal(t, 9100, cfg.Server().Port)
	assert.Equal(t, 120, cfg.Server().RatePerMinute)
	assert.Equal(t, 0.9, cfg.Engine().TauHigh)
	assert.Equal(t, 2, cfg.Engine().MaxUserQueries)
	assert.Equal(t, "some-fast-model", cfg.LLM().Fast.Model)
	assert.Equal(t, 8, cfg.Engine().MaxSteps)
	assert.Equal(t, "test-key-from-env", cfg.Engine().IntegrityKey)
}

func TestNewConfigFromViperRejectsInvalid(t *testing.T) {
	yamlConfig := []byte(`
engine:
  tau_high: 3.0
`)
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tau_high")
}
