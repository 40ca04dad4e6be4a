package engine

import (
	"encoding/binary"
	"math/rand"

	"github.com/google/uuid"
)

// NewStateSeed derives the excavation's base seed from its state id. The seed
// travels in the wire state so any turn's scoring can be replayed offline.
func NewStateSeed(stateID uuid.UUID) uint64 {
	return binary.BigEndian.Uint64(stateID[:8])
}

// turnSampler builds the deterministic sampler for one turn's scoring pass.
// Mixing the revision in means successive turns draw different but
// reproducible outcome jitter.
func turnSampler(seed uint64, revision int) *rand.Rand {
	mixed := seed ^ (uint64(revision) * 0x9e3779b97f4a7c15)
	return rand.New(rand.NewSource(int64(mixed)))
}
