package statecodec

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protolith/excavate/api/schemas"
	"github.com/protolith/excavate/internal/config"
)

func testState(t *testing.T) schemas.WireState {
	t.Helper()
	node := schemas.WireNode{
		ID:     uuid.New(),
		Text:   "fear of letting a mentor down",
		Status: schemas.NodeActive,
	}
	return schemas.WireState{
		StateID:   uuid.New(),
		Revision:  1,
		Seed:      42,
		InputText: "journal entry text",
		Belief: schemas.WireBelief{
			Nodes:   []schemas.WireNode{node},
			Probs:   map[uuid.UUID]float64{node.ID: 1.0},
			Ranking: []uuid.UUID{node.ID},
		},
	}
}

func codecErrCode(t *testing.T, err error) ErrorCode {
	t.Helper()
	var ce *CodecError
	require.ErrorAs(t, err, &ce)
	return ce.Code
}

func TestSignVerifyRoundTrip(t *testing.T) {
	c := New("test-integrity-key")
	signed, err := c.Sign(testState(t))
	require.NoError(t, err)
	require.NotEmpty(t, signed.Integrity)
	assert.NoError(t, c.Verify(signed))
}

func TestVerifyRejectsTamperedState(t *testing.T) {
	c := New("test-integrity-key")
	signed, err := c.Sign(testState(t))
	require.NoError(t, err)

	tampered := signed
	tampered.Belief.Nodes = []schemas.WireNode{signed.Belief.Nodes[0]}
	tampered.Belief.Nodes[0].LogOdds = 5.0

	err = c.Verify(tampered)
	assert.Equal(t, ErrCodeIntegrityMismatch, codecErrCode(t, err))
}

func TestVerifyRejectsMissingTag(t *testing.T) {
	c := New("test-integrity-key")
	err := c.Verify(testState(t))
	assert.Equal(t, ErrCodeIntegrityMissing, codecErrCode(t, err))
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	signed, err := New("key-one").Sign(testState(t))
	require.NoError(t, err)

	err = New("key-two").Verify(signed)
	assert.Equal(t, ErrCodeIntegrityMismatch, codecErrCode(t, err))
}

func TestSignIsDeterministic(t *testing.T) {
	c := New("test-integrity-key")
	state := testState(t)

	a, err := c.Sign(state)
	require.NoError(t, err)
	b, err := c.Sign(state)
	require.NoError(t, err)
	assert.Equal(t, a.Integrity, b.Integrity)

	// The advisory probability map is part of the signed bytes; sorted-key
	// encoding keeps the tag stable regardless of map iteration order.
	canonA, err := c.CanonicalBytes(state)
	require.NoError(t, err)
	canonB, err := c.CanonicalBytes(state)
	require.NoError(t, err)
	assert.Equal(t, canonA, canonB)
}

func TestValidateStructure(t *testing.T) {
	c := New("k")

	valid := testState(t)
	assert.NoError(t, c.ValidateStructure(&valid))

	noID := testState(t)
	noID.StateID = uuid.Nil
	assert.Equal(t, ErrCodeMalformedState, codecErrCode(t, c.ValidateStructure(&noID)))

	noNodes := testState(t)
	noNodes.Belief.Nodes = nil
	assert.Equal(t, ErrCodeMalformedState, codecErrCode(t, c.ValidateStructure(&noNodes)))

	allRetired := testState(t)
	allRetired.Belief.Nodes[0].Status = schemas.NodeRetired
	assert.Equal(t, ErrCodeMalformedState, codecErrCode(t, c.ValidateStructure(&allRetired)))

	futureEvidence := testState(t)
	futureEvidence.Evidence = []schemas.Evidence{{ID: uuid.New(), AtRevision: 5}}
	assert.Equal(t, ErrCodeMalformedState, codecErrCode(t, c.ValidateStructure(&futureEvidence)))
}

func TestValidateAnswerTarget(t *testing.T) {
	c := New("k")
	actionID := uuid.New()

	state := testState(t)
	state.LastAction = &schemas.Action{ID: actionID, Kind: schemas.ActionAskUser}

	assert.NoError(t, c.ValidateAnswerTarget(&state, nil))
	assert.NoError(t, c.ValidateAnswerTarget(&state, &schemas.UserEvent{AnswerTo: actionID, Value: "yes"}))

	err := c.ValidateAnswerTarget(&state, &schemas.UserEvent{AnswerTo: uuid.New(), Value: "yes"})
	assert.Equal(t, ErrCodeAnswerTargetMismatch, codecErrCode(t, err))

	noPending := testState(t)
	err = c.ValidateAnswerTarget(&noPending, &schemas.UserEvent{AnswerTo: actionID, Value: "yes"})
	assert.Equal(t, ErrCodeAnswerTargetMismatch, codecErrCode(t, err))
}

func testGuard() *ReplayGuard {
	return NewReplayGuard(config.IdempotencyConfig{Window: time.Minute, MaxKeys: 64})
}

func TestReplayGuardReturnsIdenticalBytes(t *testing.T) {
	g := testGuard()
	stateID := uuid.New()
	calls := 0

	fn := func() ([]byte, error) {
		calls++
		return []byte(`{"complete":false}`), nil
	}

	first, replayed, err := g.Do("idem-1", stateID, 1, fn)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := g.Do("idem-1", stateID, 1, fn)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "the turn must execute exactly once")
}

func TestReplayGuardKeyBoundToStateAndRevision(t *testing.T) {
	g := testGuard()
	stateID := uuid.New()
	calls := 0
	fn := func() ([]byte, error) {
		calls++
		return []byte("out"), nil
	}

	_, _, err := g.Do("idem-1", stateID, 1, fn)
	require.NoError(t, err)
	_, replayed, err := g.Do("idem-1", stateID, 2, fn)
	require.NoError(t, err)
	assert.False(t, replayed, "same key on a new revision is a new request")
	assert.Equal(t, 2, calls)
}

func TestReplayGuardDoesNotCacheFailures(t *testing.T) {
	g := testGuard()
	stateID := uuid.New()
	calls := 0
	fail := errors.New("upstream down")

	_, _, err := g.Do("idem-1", stateID, 1, func() ([]byte, error) {
		calls++
		return nil, fail
	})
	assert.ErrorIs(t, err, fail)

	out, replayed, err := g.Do("idem-1", stateID, 1, func() ([]byte, error) {
		calls++
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, []byte("ok"), out)
	assert.Equal(t, 2, calls)
}

func TestReplayGuardCollapsesConcurrentDuplicates(t *testing.T) {
	g := testGuard()
	stateID := uuid.New()

	var calls int
	var mu sync.Mutex
	release := make(chan struct{})
	fn := func() ([]byte, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return []byte("out"), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, _, err := g.Do("idem-1", stateID, 1, fn)
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}

	// Give the goroutines time to pile onto the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
	for _, r := range results {
		assert.Equal(t, []byte("out"), r)
	}
}

func TestReplayGuardRejectsConcurrentSameRevision(t *testing.T) {
	g := testGuard()
	stateID := uuid.New()

	var executions int
	var mu sync.Mutex
	release := make(chan struct{})
	fn := func() ([]byte, error) {
		mu.Lock()
		executions++
		mu.Unlock()
		<-release
		return []byte("winner"), nil
	}

	started := make(chan struct{})
	winnerErr := make(chan error, 1)
	go func() {
		close(started)
		_, _, err := g.Do("", stateID, 1, fn)
		winnerErr <- err
	}()
	<-started
	// Wait for the winner to hold the revision claim before racing it.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return executions == 1
	}, time.Second, time.Millisecond)

	// The loser is rejected without running its turn.
	_, _, err := g.Do("", stateID, 1, fn)
	assert.Equal(t, ErrCodeStaleRevision, codecErrCode(t, err))

	close(release)
	require.NoError(t, <-winnerErr)

	mu.Lock()
	assert.Equal(t, 1, executions)
	mu.Unlock()

	// After the winner lands, the same revision is stale by watermark.
	err = g.CheckRevision(stateID, 1)
	assert.Equal(t, ErrCodeStaleRevision, codecErrCode(t, err))
}

func TestRevisionWatermark(t *testing.T) {
	g := testGuard()
	stateID := uuid.New()

	assert.NoError(t, g.CheckRevision(stateID, 1))

	_, _, err := g.Do("", stateID, 1, func() ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)

	// Revision 1 was consumed; the excavation is now at revision 2.
	err = g.CheckRevision(stateID, 1)
	assert.Equal(t, ErrCodeStaleRevision, codecErrCode(t, err))
	assert.NoError(t, g.CheckRevision(stateID, 2))

	// Unknown state ids are never stale; the window may simply have expired.
	assert.NoError(t, g.CheckRevision(uuid.New(), 1))
}
