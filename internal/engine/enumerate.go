package engine

import (
	"github.com/google/uuid"

	"github.com/protolith/excavate/api/schemas"
	"github.com/protolith/excavate/internal/belief"
	"github.com/protolith/excavate/internal/config"
)

const (
	// highEntropyBits marks a distribution spread enough to justify spawning
	// another hypothesis.
	highEntropyBits = 1.0
	// viableFloor is the minimum probability for a node to count as a live
	// contender in the counterfactual rule.
	viableFloor = 0.15
)

// Enumerator produces the menu of candidate actions legal this turn. It is a
// pure rule table over the belief state and budgets; it does not rank.
type Enumerator struct {
	cfg config.EngineConfig
}

// NewEnumerator builds the enumerator.
func NewEnumerator(cfg config.EngineConfig) *Enumerator {
	return &Enumerator{cfg: cfg}
}

// Enumerate returns the candidate list for the state. The list always ends
// with a Stop candidate; when every other rule is closed off Stop is the only
// entry and the loop terminates.
func (e *Enumerator) Enumerate(bs *belief.State, st *schemas.WireState, sim belief.SimilarityFunc) []schemas.Action {
	var actions []schemas.Action

	if st.QueriesUsed < e.cfg.MaxUserQueries {
		actions = append(actions, e.askUserCandidate(bs))
	}

	if bs.Entropy() > highEntropyBits && bs.ActiveCount() < e.cfg.MaxHypotheses {
		actions = append(actions, schemas.Action{
			ID:         uuid.New(),
			Kind:       schemas.ActionHypothesize,
			SpawnCount: 1,
		})
	}

	if pairAboveRadius(bs, sim, e.cfg.MergeRadius) {
		actions = append(actions, schemas.Action{
			ID:     uuid.New(),
			Kind:   schemas.ActionClusterThemes,
			Method: "similarity",
		})
	}

	if viableCount(bs) >= 2 {
		actions = append(actions, schemas.Action{
			ID:       uuid.New(),
			Kind:     schemas.ActionCounterfactual,
			TestSpec: "persistent trait vs situational trigger for the leading hypothesis",
		})
	}

	if !hasEvidenceKind(st, schemas.EvidenceEntryQuote) {
		actions = append(actions, schemas.Action{
			ID:          uuid.New(),
			Kind:        schemas.ActionEvidenceRequest,
			RequestKind: schemas.EvidenceEntryQuote,
		})
	}

	if quietSince(st) {
		actions = append(actions, schemas.Action{ID: uuid.New(), Kind: schemas.ActionSilenceCheck})
	}

	actions = append(actions, schemas.Action{ID: uuid.New(), Kind: schemas.ActionConfidenceUpdate})

	// Stop is always a candidate. It is judged by the exit predicate, not by
	// the information-gain formula.
	actions = append(actions, schemas.Action{ID: uuid.New(), Kind: schemas.ActionStop})
	return actions
}

// askUserCandidate targets the top two hypotheses for a contrastive question.
// The question itself is phrased at execution time; enumeration stays pure.
func (e *Enumerator) askUserCandidate(bs *belief.State) schemas.Action {
	a := schemas.Action{
		ID:           uuid.New(),
		Kind:         schemas.ActionAskUser,
		QuickOptions: defaultQuickOptions,
		Rationale:    "Comparing top hypotheses",
	}
	first, _, second, secondP := bs.Top()
	if first != uuid.Nil {
		a.TargetIDs = append(a.TargetIDs, first)
	}
	if secondP > 0 {
		a.TargetIDs = append(a.TargetIDs, second)
	}
	if len(a.TargetIDs) < 2 {
		a.Rationale = "Exploring core concerns"
		a.QuickOptions = []string{"Emotional impact", "Practical consequences", "Values conflict", "Other"}
	}
	return a
}

func pairAboveRadius(bs *belief.State, sim belief.SimilarityFunc, radius float64) bool {
	active := bs.Active()
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			if sim(bs.Nodes[active[i]], bs.Nodes[active[j]]) >= radius {
				return true
			}
		}
	}
	return false
}

func viableCount(bs *belief.State) int {
	n := 0
	for _, p := range bs.Probs {
		if p >= viableFloor {
			n++
		}
	}
	return n
}

func hasEvidenceKind(st *schemas.WireState, kind schemas.EvidenceKind) bool {
	for _, ev := range st.Evidence {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

// quietSince reports whether the evidence log has gone silent: at least one
// record exists but nothing has landed in the last two revisions.
func quietSince(st *schemas.WireState) bool {
	if len(st.Evidence) == 0 {
		return false
	}
	last := st.Evidence[len(st.Evidence)-1]
	return st.Revision-last.AtRevision >= 2
}
