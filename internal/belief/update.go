package belief

import (
	"math"

	"github.com/google/uuid"

	"github.com/protolith/excavate/api/schemas"
	"github.com/protolith/excavate/internal/config"
)

// Signal is the per-node reading of one evidence record, produced upstream
// (reasoning-service scoring or the lexical fallback) and consumed here.
type Signal struct {
	NodeID uuid.UUID

	// Support is the entailment/contradiction strength in [-1, 1]: positive
	// values confirm the hypothesis, negative values contradict it.
	Support float64

	// Specificity in [0, 1] measures how directly the evidence addresses this
	// node rather than the situation in general.
	Specificity float64

	// Novelty in [0, 1] measures how much of the evidence is not already
	// captured by the node's recorded snippets.
	Novelty float64
}

// gainScale converts a weighted support value into log-odds. Together with
// the per-step clip it keeps any single answer from deciding the excavation.
const gainScale = 2.0

// Updater folds evidence signals into the distribution and runs the merge
// and retire housekeeping passes.
type Updater struct {
	cfg config.EngineConfig
}

// NewUpdater builds an Updater with the process tunables.
func NewUpdater(cfg config.EngineConfig) *Updater {
	return &Updater{cfg: cfg}
}

// delta maps one signal to a bounded log-odds step. Specificity and novelty
// attenuate rather than amplify: fully generic, fully redundant evidence
// still moves the node a quarter step in the support direction.
func delta(sig Signal) float64 {
	weight := (0.5 + 0.5*sig.Specificity) * (0.5 + 0.5*sig.Novelty)
	return clampStep(sig.Support * weight * gainScale)
}

// Apply folds the signals for one evidence record into the distribution and
// renormalizes. Signals referencing unknown or non-active nodes are ignored.
// Supporting and countering snippets are appended to the touched nodes.
func (u *Updater) Apply(s *State, signals []Signal, snippet string) {
	for _, sig := range signals {
		n := s.Node(sig.NodeID)
		if n == nil || n.Status != schemas.NodeActive {
			continue
		}
		n.LogOdds = clampLogOdds(n.LogOdds + delta(sig))
		if snippet != "" {
			if sig.Support > 0 {
				n.Supports = append(n.Supports, snippet)
			} else if sig.Support < 0 {
				n.Counters = append(n.Counters, snippet)
			}
		}
	}
	s.Renormalize()
}

// SimilarityFunc scores how close two hypothesis statements are, in [0, 1].
type SimilarityFunc func(a, b schemas.WireNode) float64

// MergePass merges any pair of active nodes whose similarity exceeds the
// merge radius. The higher-probability node stays active and absorbs the
// other's snippets and belief mass; the other is marked merged. Returns the
// number of merges performed.
func (u *Updater) MergePass(s *State, sim SimilarityFunc) int {
	merged := 0
	for {
		// Recompute pairs after every merge; a merge changes the active set.
		i, j, ok := u.closestPair(s, sim)
		if !ok {
			break
		}
		keep, fold := i, j
		if s.Probs[s.Nodes[j].ID] > s.Probs[s.Nodes[i].ID] {
			keep, fold = j, i
		}
		s.Nodes[keep].Supports = append(s.Nodes[keep].Supports, s.Nodes[fold].Supports...)
		s.Nodes[keep].Counters = append(s.Nodes[keep].Counters, s.Nodes[fold].Counters...)
		// Folding in log-odds space: logsumexp of the two logits, so the
		// kept node carries both nodes' softmax mass after renormalization.
		hi, lo := s.Nodes[keep].LogOdds, s.Nodes[fold].LogOdds
		if lo > hi {
			hi, lo = lo, hi
		}
		s.Nodes[keep].LogOdds = clampLogOdds(hi + math.Log1p(math.Exp(lo-hi)))
		s.Nodes[fold].Status = schemas.NodeMerged
		merged++
		s.Renormalize()
	}
	return merged
}

// closestPair finds the most similar active pair above the merge radius.
func (u *Updater) closestPair(s *State, sim SimilarityFunc) (int, int, bool) {
	active := s.Active()
	best := u.cfg.MergeRadius
	bi, bj, found := 0, 0, false
	for x := 0; x < len(active); x++ {
		for y := x + 1; y < len(active); y++ {
			v := sim(s.Nodes[active[x]], s.Nodes[active[y]])
			if v >= best {
				best, bi, bj, found = v, active[x], active[y], true
			}
		}
	}
	return bi, bj, found
}

// RetirePass retires nodes whose probability has stayed below the floor for
// the configured number of consecutive turns. The last active node is never
// retired; a belief state must always contain at least one live hypothesis.
// Returns the ids of retired nodes.
func (u *Updater) RetirePass(s *State) []uuid.UUID {
	var retired []uuid.UUID
	for _, i := range s.Active() {
		id := s.Nodes[i].ID
		if s.Probs[id] < u.cfg.RetireFloor {
			s.Nodes[i].LowStreak++
		} else {
			s.Nodes[i].LowStreak = 0
		}
	}
	for _, i := range s.Active() {
		if s.ActiveCount() <= 1 {
			break
		}
		if s.Nodes[i].LowStreak >= u.cfg.RetirePatience {
			s.Nodes[i].Status = schemas.NodeRetired
			retired = append(retired, s.Nodes[i].ID)
		}
	}
	if len(retired) > 0 {
		s.Renormalize()
	}
	return retired
}
