package engine

import (
	"math/rand"
	"sort"

	"github.com/protolith/excavate/api/schemas"
	"github.com/protolith/excavate/internal/belief"
	"github.com/protolith/excavate/internal/config"
)

// Per-action-type costs, in the same bit-denominated currency as the
// expected gain. Asking the user costs several times any internal step; the
// lambda weight in the config scales the whole term. The levels are set so a
// contrastive question wins only while real ambiguity remains (gains around
// 0.3 to 0.4 bits) and internal refinements win the quiet stretches.
const (
	costAskUser  = 0.25
	costInternal = 0.05
)

// actionPriority is the fixed tie-break order: internal actions before
// ask_user so equal scores never burden the user, Stop strictly last.
var actionPriority = map[schemas.ActionKind]int{
	schemas.ActionConfidenceUpdate: 0,
	schemas.ActionSilenceCheck:     1,
	schemas.ActionEvidenceRequest:  2,
	schemas.ActionClusterThemes:    3,
	schemas.ActionCounterfactual:   4,
	schemas.ActionHypothesize:      5,
	schemas.ActionAskUser:          6,
	schemas.ActionStop:             7,
}

// ScoredAction pairs a candidate with its expected-value score. Stop carries
// no score; the exit controller judges it separately.
type ScoredAction struct {
	Action schemas.Action
	Score  float64
}

// Scorer ranks candidate actions by expected entropy reduction net of user
// effort. Scoring is pure and deterministic given the belief state and the
// turn's sampler; both the outcome expectation and the belief updater share
// one likelihood model (the updater's own delta rule applied to hypothetical
// signals), so simulated and real updates never diverge.
type Scorer struct {
	cfg     config.EngineConfig
	updater *belief.Updater
}

// NewScorer builds the scorer around the shared updater.
func NewScorer(cfg config.EngineConfig, updater *belief.Updater) *Scorer {
	return &Scorer{cfg: cfg, updater: updater}
}

// Rank scores every non-Stop candidate and returns them best-first. Ties are
// broken by the fixed priority order. Stop candidates are excluded; the
// caller consults the exit controller for those.
func (s *Scorer) Rank(bs *belief.State, candidates []schemas.Action, rng *rand.Rand) []ScoredAction {
	var scored []ScoredAction
	for _, a := range candidates {
		if a.Kind == schemas.ActionStop {
			continue
		}
		evi := s.expectedGain(bs, a, rng)
		scored = append(scored, ScoredAction{
			Action: a,
			Score:  evi - s.cfg.LambdaCost*actionCost(a.Kind),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return actionPriority[scored[i].Action.Kind] < actionPriority[scored[j].Action.Kind]
	})
	return scored
}

func actionCost(kind schemas.ActionKind) float64 {
	if kind == schemas.ActionAskUser {
		return costAskUser
	}
	return costInternal
}

// outcome is one plausible observation from taking an action: a probability
// weight and the hypothetical signals the observation would produce.
type outcome struct {
	weight  float64
	signals []belief.Signal
}

// expectedGain computes E_o[H - H|o] over the action's discrete outcome set.
// Posterior entropy is measured by applying each outcome's signals to a copy
// of the belief state through the real updater.
func (s *Scorer) expectedGain(bs *belief.State, a schemas.Action, rng *rand.Rand) float64 {
	outcomes := s.outcomes(bs, a, rng)
	if len(outcomes) == 0 {
		return 0
	}

	h := bs.Entropy()
	var total, gain float64
	for _, o := range outcomes {
		total += o.weight
	}
	if total == 0 {
		return 0
	}
	for _, o := range outcomes {
		sim := cloneBelief(bs)
		s.updater.Apply(sim, o.signals, "")
		gain += (o.weight / total) * (h - sim.Entropy())
	}
	return gain
}

// outcomes builds the discrete outcome set for each action kind. The sampled
// specificity keeps the expectation from being a fixed constant per kind
// while remaining reproducible under the recorded seed.
func (s *Scorer) outcomes(bs *belief.State, a schemas.Action, rng *rand.Rand) []outcome {
	spec := 0.6 + 0.3*rng.Float64()

	switch a.Kind {
	case schemas.ActionAskUser:
		return s.askUserOutcomes(bs, a, spec)

	case schemas.ActionCounterfactual:
		// The test either confirms or denies the leading hypothesis. Its
		// evidence is derived from the log rather than the user, so the
		// movement is modest.
		first, firstP, _, _ := bs.Top()
		return []outcome{
			{weight: firstP, signals: []belief.Signal{{NodeID: first, Support: 0.3, Specificity: spec, Novelty: 0.5}}},
			{weight: 1 - firstP, signals: []belief.Signal{{NodeID: first, Support: -0.3, Specificity: spec, Novelty: 0.5}}},
		}

	case schemas.ActionEvidenceRequest:
		// A fresh quote mildly supports or mildly undercuts the leader.
		first, _, _, _ := bs.Top()
		return []outcome{
			{weight: 0.7, signals: []belief.Signal{{NodeID: first, Support: 0.4, Specificity: spec, Novelty: 0.7}}},
			{weight: 0.3, signals: []belief.Signal{{NodeID: first, Support: -0.3, Specificity: spec, Novelty: 0.7}}},
		}

	case schemas.ActionHypothesize, schemas.ActionClusterThemes:
		// Structural actions reshape the node set rather than move log-odds.
		// Their gain is the entropy change of the restructured distribution.
		return []outcome{{weight: 1, signals: s.structuralProxy(bs, a)}}

	case schemas.ActionSilenceCheck, schemas.ActionConfidenceUpdate:
		// Bookkeeping actions produce at most a faint signal for the leader.
		first, _, _, _ := bs.Top()
		return []outcome{
			{weight: 1, signals: []belief.Signal{{NodeID: first, Support: 0.1, Specificity: 0.2, Novelty: 0.1}}},
		}

	default:
		return nil
	}
}

// askUserOutcomes models the quick-option replies. Picking a target is
// contrastive evidence: it confirms the chosen hypothesis and counters the
// other target at once. Target picks carry 70% of the outcome mass split by
// current belief; "both", "neither", and free text carry 10% each.
func (s *Scorer) askUserOutcomes(bs *belief.State, a schemas.Action, spec float64) []outcome {
	var targetMass float64
	for _, id := range a.TargetIDs {
		targetMass += bs.Probs[id]
	}

	var outcomes []outcome
	for k, id := range a.TargetIDs {
		share := 0.0
		if targetMass > 0 {
			share = 0.7 * bs.Probs[id] / targetMass
		}
		signals := []belief.Signal{{NodeID: id, Support: 0.9, Specificity: spec, Novelty: 0.8}}
		for j, other := range a.TargetIDs {
			if j != k {
				signals = append(signals, belief.Signal{NodeID: other, Support: -0.7, Specificity: spec, Novelty: 0.5})
			}
		}
		outcomes = append(outcomes, outcome{weight: share, signals: signals})
	}

	if len(a.TargetIDs) >= 2 {
		both := make([]belief.Signal, 0, len(a.TargetIDs))
		neither := make([]belief.Signal, 0, len(a.TargetIDs))
		for _, id := range a.TargetIDs {
			both = append(both, belief.Signal{NodeID: id, Support: 0.3, Specificity: spec, Novelty: 0.4})
			neither = append(neither, belief.Signal{NodeID: id, Support: -0.6, Specificity: spec, Novelty: 0.6})
		}
		outcomes = append(outcomes,
			outcome{weight: 0.1, signals: both},
			outcome{weight: 0.1, signals: neither},
		)
	}

	// Free-text "other": weak novel support spread over the leader.
	first, _, _, _ := bs.Top()
	outcomes = append(outcomes, outcome{
		weight:  0.1,
		signals: []belief.Signal{{NodeID: first, Support: 0.2, Specificity: 0.3, Novelty: 0.9}},
	})
	return outcomes
}

// structuralProxy approximates Hypothesize and ClusterThemes as log-odds
// movements on the copy: a spawn flattens the distribution slightly from the
// leader's viewpoint, a cluster removes the redundancy between the closest
// pair by boosting the leader.
func (s *Scorer) structuralProxy(bs *belief.State, a schemas.Action) []belief.Signal {
	first, _, second, secondP := bs.Top()
	switch a.Kind {
	case schemas.ActionHypothesize:
		return []belief.Signal{{NodeID: first, Support: -0.2, Specificity: 0.3, Novelty: 0.8}}
	case schemas.ActionClusterThemes:
		if secondP > 0 {
			return []belief.Signal{
				{NodeID: first, Support: 0.3, Specificity: 0.5, Novelty: 0.3},
				{NodeID: second, Support: -0.3, Specificity: 0.5, Novelty: 0.3},
			}
		}
		return []belief.Signal{{NodeID: first, Support: 0.2, Specificity: 0.5, Novelty: 0.3}}
	default:
		return nil
	}
}

func cloneBelief(bs *belief.State) *belief.State {
	clone := &belief.State{Nodes: make([]schemas.WireNode, len(bs.Nodes))}
	copy(clone.Nodes, bs.Nodes)
	clone.Renormalize()
	return clone
}
