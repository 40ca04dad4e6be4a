// Package service assembles the application graph: configuration in,
// running components out. The command layer never constructs engine parts
// directly.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/protolith/excavate/api/schemas"
	"github.com/protolith/excavate/internal/apiserver"
	"github.com/protolith/excavate/internal/config"
	"github.com/protolith/excavate/internal/engine"
	"github.com/protolith/excavate/internal/llmclient"
	"github.com/protolith/excavate/internal/statecodec"
)

// ComponentFactory creates the component set for a server run. The
// indirection keeps the serve command testable against a fake graph.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory returns the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create performs the full dependency wiring. A failure midway shuts down
// whatever was already constructed.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{logger: logger}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("initialization failed, shutting down partial components", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	if cfg.Engine().IntegrityKey == "" {
		initializationErr = fmt.Errorf("engine integrity key is not configured (hint: check EXCAVATE_INTEGRITY_KEY)")
		return nil, initializationErr
	}

	// 1. Reasoning service clients, one per tier behind a router.
	reasoner, err := llmclient.NewReasoner(cfg.LLM(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize reasoning clients: %w", err)
		return nil, initializationErr
	}
	components.Reasoner = reasoner
	logger.Debug("reasoning clients initialized")

	// 2. Similarity embedder. Optional; without it the merge pass degrades
	// to lexical similarity.
	var embedder schemas.Embedder
	if cfg.LLM().Embedding.Enabled && cfg.LLM().Embedding.APIKey != "" {
		embedder, err = llmclient.NewGenAIEmbedder(ctx, cfg.LLM().Embedding)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize embedder: %w", err)
			return nil, initializationErr
		}
		logger.Debug("similarity embedder initialized")
	} else {
		logger.Debug("similarity embedder disabled, merge pass will use lexical similarity")
	}
	components.Embedder = embedder

	// 3. Decision engine.
	eng := engine.New(cfg.Engine(), cfg.Guardrail(), reasoner, embedder, logger)
	components.Engine = eng
	logger.Debug("excavation engine initialized")

	// 4. Replay guard and HTTP surface.
	components.Replay = statecodec.NewReplayGuard(cfg.Idempotency())
	handlers := apiserver.NewHandlers(eng, components.Replay, logger)
	components.Server = apiserver.NewServer(cfg.Server(), handlers, logger)
	logger.Debug("http server initialized")

	return components, nil
}
