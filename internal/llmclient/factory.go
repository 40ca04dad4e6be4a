package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/protolith/excavate/api/schemas"
	"github.com/protolith/excavate/internal/config"
)

// NewReasoner builds the tier router from the configuration. Both tiers may
// point at the same provider and model; each still gets its own client so the
// per-tier timeouts apply.
func NewReasoner(cfg config.LLMConfig, logger *zap.Logger) (schemas.Reasoner, error) {
	fast, err := newTierClient(cfg.Fast, cfg.MaxRetries, logger)
	if err != nil {
		return nil, fmt.Errorf("fast tier: %w", err)
	}
	powerful, err := newTierClient(cfg.Powerful, cfg.MaxRetries, logger)
	if err != nil {
		_ = fast.Close()
		return nil, fmt.Errorf("powerful tier: %w", err)
	}
	return NewRouter(logger, fast, powerful)
}

func newTierClient(cfg config.LLMModelConfig, maxRetries int, logger *zap.Logger) (schemas.Reasoner, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(cfg, maxRetries, logger)
	case config.ProviderMock:
		return NewMockReasoner(), nil
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderMock)
	}
}
