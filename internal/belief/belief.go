// Package belief holds the probabilistic model at the center of the
// excavation loop: the hypothesis nodes, the distribution over them, and the
// update rules that fold evidence in. The package is pure; anything that
// needs I/O (answer scoring, embeddings) happens upstream and arrives here as
// plain numbers.
package belief

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/protolith/excavate/api/schemas"
)

const (
	// maxAbsLogOdds clips accumulated log-odds so no node's probability can
	// saturate to exactly 0 or 1.
	maxAbsLogOdds = 6.0
	// maxStepLogOdds clips the log-odds delta from a single evidence record.
	maxStepLogOdds = 1.5
)

// State is the working belief distribution for one turn. It is built from the
// wire snapshot, mutated through the pipeline, and serialized back out. Probs
// and Ranking are always derived from the log-odds of active nodes; inbound
// claimed values are discarded by Renormalize.
type State struct {
	Nodes   []schemas.WireNode
	Probs   map[uuid.UUID]float64
	Ranking []uuid.UUID
}

// FromWire rebuilds a State from the round-tripped snapshot. The claimed
// probability map and ranking are dropped; the distribution is recomputed
// from the accumulated log-odds, so caller-supplied floats never flow into
// the authoritative numbers.
func FromWire(w schemas.WireBelief) *State {
	s := &State{Nodes: make([]schemas.WireNode, len(w.Nodes))}
	copy(s.Nodes, w.Nodes)
	s.Renormalize()
	return s
}

// ToWire snapshots the state for serialization.
func (s *State) ToWire() schemas.WireBelief {
	nodes := make([]schemas.WireNode, len(s.Nodes))
	copy(nodes, s.Nodes)
	probs := make(map[uuid.UUID]float64, len(s.Probs))
	for id, p := range s.Probs {
		probs[id] = p
	}
	ranking := make([]uuid.UUID, len(s.Ranking))
	copy(ranking, s.Ranking)
	return schemas.WireBelief{Nodes: nodes, Probs: probs, Ranking: ranking}
}

// Active returns the indices of active nodes in Nodes order.
func (s *State) Active() []int {
	var idx []int
	for i := range s.Nodes {
		if s.Nodes[i].Status == schemas.NodeActive {
			idx = append(idx, i)
		}
	}
	return idx
}

// ActiveCount returns the number of active nodes.
func (s *State) ActiveCount() int {
	return len(s.Active())
}

// Node returns a pointer to the node with the given id, or nil.
func (s *State) Node(id uuid.UUID) *schemas.WireNode {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return &s.Nodes[i]
		}
	}
	return nil
}

// Renormalize recomputes Probs as a softmax over the log-odds of active
// nodes and refreshes the ranking. Retired and merged nodes are excluded from
// the sum but kept in Nodes for audit. This is the single renormalization
// rule used by the seeder and the updater, so repeated application is stable.
func (s *State) Renormalize() {
	s.Probs = make(map[uuid.UUID]float64)

	active := s.Active()
	if len(active) == 0 {
		s.Ranking = nil
		return
	}

	// Softmax with max-subtraction for numeric stability.
	maxLO := math.Inf(-1)
	for _, i := range active {
		if s.Nodes[i].LogOdds > maxLO {
			maxLO = s.Nodes[i].LogOdds
		}
	}
	var sum float64
	exps := make([]float64, len(active))
	for k, i := range active {
		exps[k] = math.Exp(s.Nodes[i].LogOdds - maxLO)
		sum += exps[k]
	}
	for k, i := range active {
		s.Probs[s.Nodes[i].ID] = exps[k] / sum
	}

	s.Ranking = make([]uuid.UUID, 0, len(active))
	for _, i := range active {
		s.Ranking = append(s.Ranking, s.Nodes[i].ID)
	}
	sort.SliceStable(s.Ranking, func(a, b int) bool {
		pa, pb := s.Probs[s.Ranking[a]], s.Probs[s.Ranking[b]]
		if pa != pb {
			return pa > pb
		}
		// Stable order for equal probabilities: lexical by id.
		return s.Ranking[a].String() < s.Ranking[b].String()
	})
}

// Entropy returns the Shannon entropy in bits of the active distribution.
func (s *State) Entropy() float64 {
	var h float64
	for _, p := range s.Probs {
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	return h
}

// Top returns the ids and probabilities of the two highest-ranked active
// nodes. The second return values are zero when fewer than two nodes remain.
func (s *State) Top() (first uuid.UUID, firstP float64, second uuid.UUID, secondP float64) {
	if len(s.Ranking) >= 1 {
		first = s.Ranking[0]
		firstP = s.Probs[first]
	}
	if len(s.Ranking) >= 2 {
		second = s.Ranking[1]
		secondP = s.Probs[second]
	}
	return
}

// clampLogOdds bounds an accumulated log-odds value.
func clampLogOdds(lo float64) float64 {
	if lo > maxAbsLogOdds {
		return maxAbsLogOdds
	}
	if lo < -maxAbsLogOdds {
		return -maxAbsLogOdds
	}
	return lo
}

// clampStep bounds a single update step.
func clampStep(d float64) float64 {
	if d > maxStepLogOdds {
		return maxStepLogOdds
	}
	if d < -maxStepLogOdds {
		return -maxStepLogOdds
	}
	return d
}
