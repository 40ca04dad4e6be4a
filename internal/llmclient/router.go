package llmclient

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/protolith/excavate/api/schemas"
)

// Router implements schemas.Reasoner and dispatches each completion to the
// client registered for its tier.
type Router struct {
	logger  *zap.Logger
	clients map[schemas.ModelTier]schemas.Reasoner
}

// NewRouter creates a router with the given clients for each tier.
func NewRouter(logger *zap.Logger, fast, powerful schemas.Reasoner) (*Router, error) {
	if fast == nil || powerful == nil {
		return nil, fmt.Errorf("both fast and powerful tier clients must be provided")
	}

	return &Router{
		logger: logger.Named("llm_router"),
		clients: map[schemas.ModelTier]schemas.Reasoner{
			schemas.TierFast:     fast,
			schemas.TierPowerful: powerful,
		},
	}, nil
}

// Complete selects the appropriate client based on the request's Tier.
func (r *Router) Complete(ctx context.Context, req schemas.CompletionRequest) (json.RawMessage, error) {
	tier := req.Tier
	if tier == "" {
		tier = schemas.TierFast // Unspecified calls take the cheap path.
	}

	client, ok := r.clients[tier]
	if !ok {
		return nil, fmt.Errorf("no reasoning client configured for tier: %s", tier)
	}

	r.logger.Debug("Routing reasoning request", zap.String("tier", string(tier)))
	return client.Complete(ctx, req)
}

// Close closes every distinct underlying client.
func (r *Router) Close() error {
	seen := make(map[schemas.Reasoner]bool)
	var firstErr error
	for _, c := range r.clients {
		if seen[c] {
			continue
		}
		seen[c] = true
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
