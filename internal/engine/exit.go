package engine

import (
	"github.com/protolith/excavate/api/schemas"
	"github.com/protolith/excavate/internal/belief"
	"github.com/protolith/excavate/internal/config"
)

// ExitController evaluates the termination predicates. The guardrail
// short-circuit is handled upstream by the orchestrator before any scoring;
// everything here assumes the turn is safe to continue.
type ExitController struct {
	cfg config.EngineConfig
}

// NewExitController builds the controller.
func NewExitController(cfg config.EngineConfig) *ExitController {
	return &ExitController{cfg: cfg}
}

// Check evaluates the predicates in fixed priority order against the updated
// belief state and budgets. Exactly one reason is reported. The diminishing
// returns predicate needs the best candidate score and is evaluated by
// CheckScores once the scorer has run.
func (c *ExitController) Check(bs *belief.State, st *schemas.WireState) (schemas.ExitReason, bool) {
	_, firstP, _, secondP := bs.Top()
	thresholdHit := firstP >= c.cfg.TauHigh && firstP-secondP >= c.cfg.DeltaGap
	queriesSpent := st.QueriesUsed >= c.cfg.MaxUserQueries
	stepsSpent := st.StepsUsed >= c.cfg.MaxSteps

	st.ExitFlags = map[string]bool{
		"threshold":         thresholdHit,
		"queries_exhausted": queriesSpent,
		"steps_exhausted":   stepsSpent,
	}

	if thresholdHit {
		return schemas.ExitThreshold, true
	}
	if queriesSpent || stepsSpent {
		return schemas.ExitBudget, true
	}
	return "", false
}

// CheckScores applies the diminishing-returns predicate to the ranked
// candidates: when no action clears epsilon, or nothing but Stop was
// enumerable, the loop stops.
func (c *ExitController) CheckScores(st *schemas.WireState, ranked []ScoredAction) (schemas.ExitReason, bool) {
	if len(ranked) == 0 {
		st.ExitFlags["no_actions"] = true
		return schemas.ExitBudget, true
	}
	if ranked[0].Score < c.cfg.EpsilonEVI {
		st.ExitFlags["diminishing_returns"] = true
		return schemas.ExitEpsilon, true
	}
	return "", false
}
