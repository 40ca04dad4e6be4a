package service

import (
	"go.uber.org/zap"

	"github.com/protolith/excavate/api/schemas"
	"github.com/protolith/excavate/internal/apiserver"
	"github.com/protolith/excavate/internal/statecodec"
)

// Components holds the initialized services behind the turn endpoint. The
// struct centralizes lifecycle management so the command layer only starts
// and stops one thing.
type Components struct {
	Reasoner schemas.Reasoner
	Embedder schemas.Embedder
	Engine   apiserver.Excavator
	Replay   *statecodec.ReplayGuard
	Server   *apiserver.Server

	logger *zap.Logger
}

// Shutdown releases held resources. The HTTP server drains itself through
// its own run context before this is called.
func (c *Components) Shutdown() {
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.Reasoner != nil {
		if err := c.Reasoner.Close(); err != nil {
			c.logger.Warn("reasoner close failed", zap.Error(err))
		}
	}
	c.logger.Info("all components shut down")
}
