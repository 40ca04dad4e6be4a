package statecodec

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/protolith/excavate/internal/config"
)

// replayKey identifies one deduplicated request. Binding the idempotency key
// to the (state id, revision) pair keeps a reused key on a different turn
// from returning a stale response.
type replayKey struct {
	Key      string
	StateID  uuid.UUID
	Revision int
}

// revisionKey identifies one revision of one excavation; at most one turn may
// be in flight per revisionKey at any moment.
type revisionKey struct {
	StateID  uuid.UUID
	Revision int
}

// ReplayGuard provides the turn endpoint's at-most-once semantics within a
// bounded window: byte-identical replay for retried requests, collapsing of
// concurrent duplicates, and a revision watermark for optimistic concurrency.
// The window is in-memory and expiring; the caller still owns durability of
// the state itself.
type ReplayGuard struct {
	responses *expirable.LRU[replayKey, []byte]
	watermark *expirable.LRU[uuid.UUID, int]
	group     singleflight.Group

	mu       sync.Mutex
	inFlight map[revisionKey]struct{}
}

// NewReplayGuard sizes the guard from the idempotency configuration.
func NewReplayGuard(cfg config.IdempotencyConfig) *ReplayGuard {
	return &ReplayGuard{
		responses: expirable.NewLRU[replayKey, []byte](cfg.MaxKeys, nil, cfg.Window),
		watermark: expirable.NewLRU[uuid.UUID, int](cfg.MaxKeys, nil, cfg.Window),
		inFlight:  make(map[revisionKey]struct{}),
	}
}

// CheckRevision rejects snapshots older than the newest revision this process
// has emitted for the state within the window. Replays of the current
// revision pass; Do catches keyed retries before any work happens.
func (g *ReplayGuard) CheckRevision(stateID uuid.UUID, revision int) error {
	if latest, ok := g.watermark.Get(stateID); ok && revision < latest {
		return newError(ErrCodeStaleRevision,
			"revision %d is stale, the excavation has advanced to revision %d", revision, latest)
	}
	return nil
}

// Do executes fn exactly once per (idempotency key, state id, revision)
// within the window and returns the cached bytes on replay. Concurrent
// duplicates of the same key share a single execution; concurrent requests
// for the same revision under different keys (or no key) race, and only the
// first claimant runs while the rest are rejected as stale. The second return
// reports whether the response was served from cache.
func (g *ReplayGuard) Do(key string, stateID uuid.UUID, revision int, fn func() ([]byte, error)) ([]byte, bool, error) {
	if key == "" {
		release, err := g.claim(stateID, revision)
		if err != nil {
			return nil, false, err
		}
		defer release()
		out, err := fn()
		if err == nil {
			g.advance(stateID, revision)
		}
		return out, false, err
	}

	rk := replayKey{Key: key, StateID: stateID, Revision: revision}
	if cached, ok := g.responses.Get(rk); ok {
		return cached, true, nil
	}

	flightKey := fmt.Sprintf("%s|%s|%d", key, stateID, revision)
	v, err, shared := g.group.Do(flightKey, func() (any, error) {
		if cached, ok := g.responses.Get(rk); ok {
			return cached, nil
		}
		release, err := g.claim(stateID, revision)
		if err != nil {
			return nil, err
		}
		defer release()
		out, err := fn()
		if err != nil {
			// Failures are not cached; the client may retry.
			return nil, err
		}
		g.responses.Add(rk, out)
		g.advance(stateID, revision)
		return out, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), shared, nil
}

// claim marks (state id, revision) as in flight. A revision already claimed
// by another request is rejected; the winner's successful completion advances
// the watermark before the claim is released, so later arrivals fail the
// stale check instead.
func (g *ReplayGuard) claim(stateID uuid.UUID, revision int) (func(), error) {
	if stateID == uuid.Nil {
		return func() {}, nil
	}
	k := revisionKey{StateID: stateID, Revision: revision}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[k]; busy {
		return nil, newError(ErrCodeStaleRevision,
			"revision %d of state %s is already being processed", revision, stateID)
	}
	g.inFlight[k] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.inFlight, k)
		g.mu.Unlock()
	}, nil
}

// advance bumps the per-state revision watermark past the consumed revision.
func (g *ReplayGuard) advance(stateID uuid.UUID, consumed int) {
	if stateID == uuid.Nil {
		return
	}
	next := consumed + 1
	if latest, ok := g.watermark.Get(stateID); ok && latest >= next {
		return
	}
	g.watermark.Add(stateID, next)
}
