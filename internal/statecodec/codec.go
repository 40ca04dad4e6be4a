// Package statecodec owns the round-tripped state's trust boundary: canonical
// encoding, the integrity tag, revision monotonicity, and replay
// deduplication. Everything above it may assume a verified state; everything
// below it treats inbound bytes as hostile.
package statecodec

import (
	"crypto/subtle"
	"encoding/base64"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/protolith/excavate/api/schemas"
)

// canonical serializes with sorted map keys so the signed bytes are stable
// across encode/decode cycles and client-side re-serialization.
var canonical = jsoniter.Config{
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// Codec signs and verifies state snapshots.
type Codec struct {
	key    []byte
	method *jwt.SigningMethodHMAC
}

// New creates a Codec from the integrity key. An empty key is rejected at
// config validation time, not here.
func New(key string) *Codec {
	return &Codec{
		key:    []byte(key),
		method: jwt.SigningMethodHS256,
	}
}

// CanonicalBytes returns the canonical encoding of the state with the
// integrity tag blanked. This is the exact byte string the tag covers.
func (c *Codec) CanonicalBytes(state schemas.WireState) ([]byte, error) {
	state.Integrity = ""
	out, err := canonical.Marshal(state)
	if err != nil {
		return nil, newError(ErrCodeEncoding, "canonical encoding failed: %v", err)
	}
	return out, nil
}

// Sign computes the integrity tag for the state and returns a copy with the
// tag set. The inbound tag, if any, is ignored.
func (c *Codec) Sign(state schemas.WireState) (schemas.WireState, error) {
	payload, err := c.CanonicalBytes(state)
	if err != nil {
		return state, err
	}
	sig, err := c.method.Sign(string(payload), c.key)
	if err != nil {
		return state, newError(ErrCodeEncoding, "signing failed: %v", err)
	}
	state.Integrity = base64.RawURLEncoding.EncodeToString(sig)
	return state, nil
}

// Verify checks the state's integrity tag. A missing tag and a wrong tag are
// distinct failures; both are fatal for the turn.
func (c *Codec) Verify(state schemas.WireState) error {
	if state.Integrity == "" {
		return newError(ErrCodeIntegrityMissing, "state carries no integrity tag")
	}
	claimed, err := base64.RawURLEncoding.DecodeString(state.Integrity)
	if err != nil {
		return newError(ErrCodeIntegrityMismatch, "integrity tag is not valid base64url")
	}

	payload, err := c.CanonicalBytes(state)
	if err != nil {
		return err
	}
	expected, err := c.method.Sign(string(payload), c.key)
	if err != nil {
		return newError(ErrCodeEncoding, "signing failed: %v", err)
	}
	if subtle.ConstantTimeCompare(claimed, expected) != 1 {
		return newError(ErrCodeIntegrityMismatch, "integrity tag does not match state contents")
	}
	return nil
}

// ValidateStructure runs the structural checks on a verified continue state.
// These catch states that were honestly signed by an older process but can no
// longer be resumed coherently.
func (c *Codec) ValidateStructure(state *schemas.WireState) error {
	if state.StateID == uuid.Nil {
		return newError(ErrCodeMalformedState, "state id is missing")
	}
	if state.Revision < 1 {
		return newError(ErrCodeMalformedState, "revision %d is below the initial revision", state.Revision)
	}
	if len(state.Belief.Nodes) == 0 {
		return newError(ErrCodeMalformedState, "belief state has no hypothesis nodes")
	}
	active := 0
	for _, n := range state.Belief.Nodes {
		switch n.Status {
		case schemas.NodeActive:
			active++
		case schemas.NodeMerged, schemas.NodeRetired:
		default:
			return newError(ErrCodeMalformedState, "node %s has unknown status %q", n.ID, n.Status)
		}
	}
	if active == 0 {
		return newError(ErrCodeMalformedState, "belief state has no active hypothesis nodes")
	}
	for _, ev := range state.Evidence {
		if ev.AtRevision > state.Revision {
			return newError(ErrCodeMalformedState, "evidence %s is from future revision %d", ev.ID, ev.AtRevision)
		}
	}
	return nil
}

// ValidateAnswerTarget checks that the user event answers the last emitted
// action. This is its own error code; callers surface it differently from a
// generic validation failure because the fix (resend with the right action
// id) is different.
func (c *Codec) ValidateAnswerTarget(state *schemas.WireState, ev *schemas.UserEvent) error {
	if ev == nil {
		return nil
	}
	if state.LastAction == nil {
		return newError(ErrCodeAnswerTargetMismatch, "user event answers %s but no action is pending", ev.AnswerTo)
	}
	if state.LastAction.ID != ev.AnswerTo {
		return newError(ErrCodeAnswerTargetMismatch,
			"user event answers %s but the pending action is %s", ev.AnswerTo, state.LastAction.ID)
	}
	return nil
}
