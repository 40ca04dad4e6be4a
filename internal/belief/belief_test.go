package belief

import (
	"fmt"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protolith/excavate/api/schemas"
	"github.com/protolith/excavate/internal/config"
)

func testEngineConfig() config.EngineConfig {
	return config.NewDefaultConfig().EngineCfg
}

func newTestState(t *testing.T, logOdds ...float64) *State {
	t.Helper()
	nodes := make([]schemas.WireNode, len(logOdds))
	for i, lo := range logOdds {
		nodes[i] = schemas.WireNode{
			ID:      uuid.New(),
			Text:    fmt.Sprintf("hypothesis %d", i),
			LogOdds: lo,
			Status:  schemas.NodeActive,
		}
	}
	s := &State{Nodes: nodes}
	s.Renormalize()
	return s
}

func assertDistribution(t *testing.T, s *State) {
	t.Helper()
	var sum float64
	for _, p := range s.Probs {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
		sum += p
	}
	if s.ActiveCount() > 0 {
		assert.InDelta(t, 1.0, sum, 1e-9, "active probabilities must sum to one")
		assert.Len(t, s.Ranking, s.ActiveCount())
	} else {
		assert.Empty(t, s.Probs)
	}
}

func TestRenormalizeSumsToOne(t *testing.T) {
	s := newTestState(t, 0.0, 0.5, -0.5, 2.0)
	assertDistribution(t, s)

	// Ranking is ordered by descending probability.
	for i := 1; i < len(s.Ranking); i++ {
		assert.GreaterOrEqual(t, s.Probs[s.Ranking[i-1]], s.Probs[s.Ranking[i]])
	}
	first, firstP, _, secondP := s.Top()
	assert.Equal(t, s.Ranking[0], first)
	assert.GreaterOrEqual(t, firstP, secondP)
}

func TestRenormalizeExcludesInactiveNodes(t *testing.T) {
	s := newTestState(t, 1.0, 0.0, -1.0)
	s.Nodes[2].Status = schemas.NodeRetired
	s.Renormalize()

	assertDistribution(t, s)
	_, ok := s.Probs[s.Nodes[2].ID]
	assert.False(t, ok, "retired node must not carry probability mass")
	assert.Equal(t, 2, s.ActiveCount())
}

func TestRenormalizeIsIdempotent(t *testing.T) {
	s := newTestState(t, 0.3, -0.7, 1.2)
	before := make(map[uuid.UUID]float64, len(s.Probs))
	for id, p := range s.Probs {
		before[id] = p
	}
	s.Renormalize()
	s.Renormalize()
	for id, p := range before {
		assert.InDelta(t, p, s.Probs[id], 1e-12)
	}
}

func TestFromWireDiscardsClaimedProbs(t *testing.T) {
	s := newTestState(t, 0.0, 0.0)
	w := s.ToWire()

	// A tampering client claims certainty for the first node.
	w.Probs[w.Nodes[0].ID] = 0.999
	w.Probs[w.Nodes[1].ID] = 0.001

	rebuilt := FromWire(w)
	assert.InDelta(t, 0.5, rebuilt.Probs[w.Nodes[0].ID], 1e-9)
	assert.InDelta(t, 0.5, rebuilt.Probs[w.Nodes[1].ID], 1e-9)
}

func TestEntropyBounds(t *testing.T) {
	uniform := newTestState(t, 0.0, 0.0, 0.0, 0.0)
	assert.InDelta(t, 2.0, uniform.Entropy(), 1e-9, "uniform over four nodes is two bits")

	peaked := newTestState(t, maxAbsLogOdds, -maxAbsLogOdds, -maxAbsLogOdds)
	assert.Less(t, peaked.Entropy(), 0.1)
	assert.GreaterOrEqual(t, peaked.Entropy(), 0.0)
}

func TestApplyClampsSteps(t *testing.T) {
	u := NewUpdater(testEngineConfig())
	s := newTestState(t, 0.0, 0.0)
	id := s.Nodes[0].ID

	// Maximal support on a maximally specific, maximally novel signal still
	// gets clipped to the per-step bound.
	u.Apply(s, []Signal{{NodeID: id, Support: 1.0, Specificity: 1.0, Novelty: 1.0}}, "strong quote")
	assert.InDelta(t, maxStepLogOdds, s.Nodes[0].LogOdds, 1e-9)
	assert.Equal(t, []string{"strong quote"}, s.Nodes[0].Supports)
	assertDistribution(t, s)
}

func TestApplyClampsAccumulatedLogOdds(t *testing.T) {
	u := NewUpdater(testEngineConfig())
	s := newTestState(t, 0.0, 0.0)
	id := s.Nodes[0].ID

	for i := 0; i < 20; i++ {
		u.Apply(s, []Signal{{NodeID: id, Support: 1.0, Specificity: 1.0, Novelty: 1.0}}, "")
	}
	assert.InDelta(t, maxAbsLogOdds, s.Nodes[0].LogOdds, 1e-9)
	assert.Less(t, s.Probs[id], 1.0, "probability must never saturate to exactly one")
	assertDistribution(t, s)
}

func TestApplyCountersNegativeSupport(t *testing.T) {
	u := NewUpdater(testEngineConfig())
	s := newTestState(t, 0.0, 0.0)
	id := s.Nodes[1].ID

	u.Apply(s, []Signal{{NodeID: id, Support: -0.8, Specificity: 0.5, Novelty: 0.5}}, "contradiction")
	assert.Negative(t, s.Nodes[1].LogOdds)
	assert.Equal(t, []string{"contradiction"}, s.Nodes[1].Counters)
	assert.Empty(t, s.Nodes[1].Supports)
}

func TestApplyIgnoresUnknownAndInactiveNodes(t *testing.T) {
	u := NewUpdater(testEngineConfig())
	s := newTestState(t, 0.0, 0.0)
	s.Nodes[1].Status = schemas.NodeMerged
	s.Renormalize()

	u.Apply(s, []Signal{
		{NodeID: uuid.New(), Support: 1.0, Specificity: 1.0, Novelty: 1.0},
		{NodeID: s.Nodes[1].ID, Support: 1.0, Specificity: 1.0, Novelty: 1.0},
	}, "quote")

	assert.Zero(t, s.Nodes[0].LogOdds)
	assert.Zero(t, s.Nodes[1].LogOdds)
	assertDistribution(t, s)
}

func TestAttenuatedSignalStillMoves(t *testing.T) {
	// Fully generic, fully redundant positive evidence moves a quarter step.
	d := delta(Signal{Support: 1.0, Specificity: 0, Novelty: 0})
	assert.InDelta(t, 0.5, d, 1e-9)
	assert.Positive(t, d)
}

func TestMergePassFoldsNearDuplicates(t *testing.T) {
	cfg := testEngineConfig()
	cfg.MergeRadius = 0.5
	u := NewUpdater(cfg)
	s := newTestState(t, 1.0, 0.9, -2.0)
	s.Nodes[0].Text = "fear of disappointing a mentor at work"
	s.Nodes[1].Text = "fear of disappointing a mentor at the office"
	s.Nodes[2].Text = "unprocessed grief over a recent move"
	s.Nodes[1].Supports = []string{"kept snippet"}
	s.Renormalize()

	wantMass := s.Probs[s.Nodes[0].ID] + s.Probs[s.Nodes[1].ID]

	sim := func(a, b schemas.WireNode) float64 { return Jaccard(a.Text, b.Text) }
	merged := u.MergePass(s, sim)

	require.Equal(t, 1, merged)
	assert.Equal(t, schemas.NodeActive, s.Nodes[0].Status)
	assert.Equal(t, schemas.NodeMerged, s.Nodes[1].Status)
	assert.Equal(t, schemas.NodeActive, s.Nodes[2].Status)
	assert.Contains(t, s.Nodes[0].Supports, "kept snippet")
	// The keeper carries the combined mass of the pair; the bystander's
	// probability is untouched by the merge.
	assert.InDelta(t, wantMass, s.Probs[s.Nodes[0].ID], 1e-9)
	assertDistribution(t, s)
}

func TestMergePassKeepsHigherProbabilityNode(t *testing.T) {
	cfg := testEngineConfig()
	cfg.MergeRadius = 0.7
	u := NewUpdater(cfg)
	s := newTestState(t, 0.2, 2.5)
	s.Nodes[0].Text = "avoidance of a difficult conversation"
	s.Nodes[1].Text = "avoidance of a difficult conversation today"
	s.Renormalize()

	sim := func(a, b schemas.WireNode) float64 { return Jaccard(a.Text, b.Text) }
	merged := u.MergePass(s, sim)

	require.Equal(t, 1, merged)
	assert.Equal(t, schemas.NodeMerged, s.Nodes[0].Status)
	assert.Equal(t, schemas.NodeActive, s.Nodes[1].Status)
	// The kept node's logit is the logsumexp of the pair, never less than
	// the larger of the two.
	want := 2.5 + math.Log1p(math.Exp(0.2-2.5))
	assert.InDelta(t, want, s.Nodes[1].LogOdds, 1e-9)
}

func TestMergePassNoopBelowRadius(t *testing.T) {
	u := NewUpdater(testEngineConfig())
	s := newTestState(t, 0.0, 0.0)
	s.Nodes[0].Text = "burnout from sustained overcommitment"
	s.Nodes[1].Text = "loneliness after relocating"
	s.Renormalize()

	sim := func(a, b schemas.WireNode) float64 { return Jaccard(a.Text, b.Text) }
	assert.Zero(t, u.MergePass(s, sim))
	assert.Equal(t, 2, s.ActiveCount())
}

func TestRetirePassRequiresPatience(t *testing.T) {
	cfg := testEngineConfig()
	u := NewUpdater(cfg)
	s := newTestState(t, 3.0, 3.0, -6.0)
	weak := s.Nodes[2].ID
	require.Less(t, s.Probs[weak], cfg.RetireFloor)

	retired := u.RetirePass(s)
	assert.Empty(t, retired, "one low turn is not enough")
	assert.Equal(t, 1, s.Nodes[2].LowStreak)

	retired = u.RetirePass(s)
	require.Len(t, retired, 1)
	assert.Equal(t, weak, retired[0])
	assert.Equal(t, schemas.NodeRetired, s.Nodes[2].Status)
	assertDistribution(t, s)
}

func TestRetirePassResetsStreakOnRecovery(t *testing.T) {
	u := NewUpdater(testEngineConfig())
	s := newTestState(t, 3.0, 3.0, -6.0)
	u.RetirePass(s)
	require.Equal(t, 1, s.Nodes[2].LowStreak)

	// The node recovers before the patience window runs out.
	s.Nodes[2].LogOdds = 3.0
	s.Renormalize()
	u.RetirePass(s)
	assert.Zero(t, s.Nodes[2].LowStreak)
	assert.Equal(t, schemas.NodeActive, s.Nodes[2].Status)
}

func TestRetirePassNeverEmptiesState(t *testing.T) {
	cfg := testEngineConfig()
	cfg.RetireFloor = 0.99
	cfg.RetirePatience = 1
	u := NewUpdater(cfg)

	s := newTestState(t, 0.0, 0.0, 0.0)
	u.RetirePass(s)
	assert.GreaterOrEqual(t, s.ActiveCount(), 1, "at least one hypothesis must survive")
}

func TestLifecycleIsOneDirectional(t *testing.T) {
	u := NewUpdater(testEngineConfig())
	s := newTestState(t, 0.0, 0.0)
	s.Nodes[1].Status = schemas.NodeRetired
	s.Renormalize()

	// Strong evidence for a retired node does not resurrect it.
	u.Apply(s, []Signal{{NodeID: s.Nodes[1].ID, Support: 1.0, Specificity: 1.0, Novelty: 1.0}}, "")
	assert.Equal(t, schemas.NodeRetired, s.Nodes[1].Status)
	_, ok := s.Probs[s.Nodes[1].ID]
	assert.False(t, ok)
}

func TestJaccardSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard("fear of failure", "fear of failure"))
	assert.Zero(t, Jaccard("fear of failure", "joy about success"))
	mid := Jaccard("fear of disappointing mentor", "fear of disappointing family")
	assert.Greater(t, mid, 0.0)
	assert.Less(t, mid, 1.0)
	assert.Equal(t, 1.0, Jaccard("", ""))
	assert.Zero(t, Jaccard("anything", ""))
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}
	assert.InDelta(t, 0.0, Cosine(a, b), 1e-9)
	assert.InDelta(t, 1.0, Cosine(a, a), 1e-9)
	assert.InDelta(t, -1.0, Cosine(a, []float32{-1, 0, 0}), 1e-9)
	assert.Zero(t, Cosine(a, []float32{1, 0}), "dimension mismatch")
	assert.Zero(t, Cosine(nil, nil))
	assert.False(t, math.IsNaN(Cosine([]float32{0, 0}, []float32{0, 0})))
}
