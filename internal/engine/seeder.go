package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/protolith/excavate/api/schemas"
	"github.com/protolith/excavate/internal/belief"
	"github.com/protolith/excavate/internal/config"
)

const maxHypothesisTextLen = 400

// Seeder turns raw input text into the initial belief distribution. It never
// fails: a reasoning-service error degrades to scripted hypotheses, and an
// unusable response degrades to a single generic node, so the loop can always
// start.
type Seeder struct {
	cfg      config.EngineConfig
	reasoner schemas.Reasoner
	logger   *zap.Logger
}

// NewSeeder builds the seeder.
func NewSeeder(cfg config.EngineConfig, reasoner schemas.Reasoner, logger *zap.Logger) *Seeder {
	return &Seeder{cfg: cfg, reasoner: reasoner, logger: logger.Named("seeder")}
}

type seededHypothesis struct {
	Text    string `json:"text"`
	Support string `json:"support,omitempty"`
}

type seedResponse struct {
	Hypotheses []seededHypothesis `json:"hypotheses"`
}

// Seed extracts 2 to 4 candidate hypotheses from the input text and builds a
// near-uniform distribution over them. The jitter comes from the excavation's
// recorded seed, so reseeding the same state id reproduces the same priors.
func (s *Seeder) Seed(ctx context.Context, inputText string, seed uint64) *belief.State {
	candidates := s.generate(ctx, inputText)
	if len(candidates) == 0 {
		s.logger.Warn("No usable hypotheses, seeding a single generic node")
		candidates = []seededHypothesis{{Text: genericHypothesis}}
	}
	if len(candidates) > s.cfg.MaxHypotheses {
		candidates = candidates[:s.cfg.MaxHypotheses]
	}

	rng := rand.New(rand.NewSource(int64(seed)))
	nodes := make([]schemas.WireNode, 0, len(candidates))
	for _, c := range candidates {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		if len(text) > maxHypothesisTextLen {
			text = text[:maxHypothesisTextLen]
		}
		// Near-uniform in log-odds space: zero plus a small deterministic
		// jitter so the initial ranking is never an artifact of slice order.
		jitter := (rng.Float64() - 0.5) * 0.1
		node := schemas.WireNode{
			ID:      uuid.New(),
			Text:    text,
			LogOdds: jitter,
			Prior:   jitter,
			Status:  schemas.NodeActive,
		}
		if sup := strings.TrimSpace(c.Support); sup != "" {
			node.Supports = []string{sup}
		}
		nodes = append(nodes, node)
	}
	if len(nodes) == 0 {
		nodes = []schemas.WireNode{{ID: uuid.New(), Text: genericHypothesis, Status: schemas.NodeActive}}
	}

	st := &belief.State{Nodes: nodes}
	st.Renormalize()
	s.logger.Info("Belief state seeded", zap.Int("hypotheses", len(nodes)))
	return st
}

func (s *Seeder) generate(ctx context.Context, inputText string) []seededHypothesis {
	raw, err := s.reasoner.Complete(ctx, schemas.CompletionRequest{
		SystemPrompt:   seedSystemPrompt,
		UserPrompt:     fmt.Sprintf(seedUserPromptTemplate, inputText),
		Tier:           schemas.TierPowerful,
		ResponseSchema: seedResponseSchema,
	})
	if err != nil {
		s.logger.Warn("Hypothesis seeding failed, using scripted fallbacks", zap.Error(err))
		return scriptedFallbacks(2)
	}

	var parsed seedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		s.logger.Warn("Unparseable seeding response, using scripted fallbacks", zap.Error(err))
		return scriptedFallbacks(2)
	}

	var usable []seededHypothesis
	for _, h := range parsed.Hypotheses {
		if strings.TrimSpace(h.Text) != "" {
			usable = append(usable, h)
		}
		if len(usable) == 4 {
			break
		}
	}
	return usable
}

func scriptedFallbacks(n int) []seededHypothesis {
	if n > len(fallbackHypotheses) {
		n = len(fallbackHypotheses)
	}
	out := make([]seededHypothesis, 0, n)
	for _, text := range fallbackHypotheses[:n] {
		out = append(out, seededHypothesis{Text: text})
	}
	return out
}
