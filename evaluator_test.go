package uciflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawnsight/uciflow/internal/errors"
	"github.com/pawnsight/uciflow/internal/uci"
)

const (
	fenStart   = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	fenAfterE4 = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
)

const eventually = 2 * time.Second

func startedEvaluator(t *testing.T, opts ...Option) (*Evaluator, *fakeFactory) {
	t.Helper()

	factory := &fakeFactory{}
	ev := NewEvaluator(opts...)
	ev.newSession = factory.new

	require.NoError(t, ev.Start("/fake/engine", fenStart))
	t.Cleanup(ev.Stop)

	require.Eventually(t, func() bool {
		return factory.count() == 1 && factory.session(0).State() == uci.StateSearching
	}, eventually, 5*time.Millisecond)

	return ev, factory
}

func TestEvaluatorStartBeginsUnboundedSearch(t *testing.T) {
	_, factory := startedEvaluator(t)
	sess := factory.session(0)

	assert.Equal(t, []string{fenStart}, sess.positionHistory())

	searches := sess.searchHistory()
	require.Len(t, searches, 1)
	assert.True(t, searches[0].Unbounded(), "continuous evaluation must search without bounds")
}

func TestEvaluatorStartTwiceRejected(t *testing.T) {
	ev, _ := startedEvaluator(t)

	require.ErrorIs(t, ev.Start("/fake/engine", fenStart), errors.ErrAlreadyRunning)
}

func TestEvaluatorForwardsUpdates(t *testing.T) {
	ev, factory := startedEvaluator(t)
	sess := factory.session(0)

	sess.push(AnalysisLine{Index: 1, Depth: 14, Score: Score{Centipawns: 22}})

	select {
	case u := <-ev.Updates():
		assert.Equal(t, fenStart, u.Position)
		assert.Equal(t, 14, u.Line.Depth)
	case <-time.After(eventually):
		t.Fatal("no update forwarded")
	}
}

func TestEvaluatorUpdatePositionReusesProcess(t *testing.T) {
	ev, factory := startedEvaluator(t)
	sess := factory.session(0)

	require.NoError(t, ev.UpdatePosition(fenAfterE4))

	require.Eventually(t, func() bool {
		return sess.LastPosition() == fenAfterE4 && sess.State() == uci.StateSearching
	}, eventually, 5*time.Millisecond)

	assert.Equal(t, 1, factory.count(), "position change must never spawn a new process")
	assert.False(t, sess.wasQuit(), "position change must never quit the engine")
	assert.Equal(t, fenAfterE4, ev.LastPosition())
}

func TestEvaluatorUpdateAfterPositionChangeCarriesNewPosition(t *testing.T) {
	ev, factory := startedEvaluator(t)
	sess := factory.session(0)

	require.NoError(t, ev.UpdatePosition(fenAfterE4))

	require.Eventually(t, func() bool {
		return sess.LastPosition() == fenAfterE4
	}, eventually, 5*time.Millisecond)

	sess.push(AnalysisLine{Index: 1, Depth: 3, Score: Score{Centipawns: -8}})

	select {
	case u := <-ev.Updates():
		assert.Equal(t, fenAfterE4, u.Position, "updates after a position change must carry the new position")
	case <-time.After(eventually):
		t.Fatal("no update forwarded")
	}
}

func TestEvaluatorUpdatePositionBeforeStart(t *testing.T) {
	ev := NewEvaluator()

	require.ErrorIs(t, ev.UpdatePosition(fenStart), errors.ErrNotRunning)
}

func TestEvaluatorStopIsNonBlocking(t *testing.T) {
	ev, factory := startedEvaluator(t)

	begin := time.Now()
	ev.Stop()
	assert.Less(t, time.Since(begin), 10*time.Millisecond, "stop must return without waiting for teardown")

	select {
	case <-ev.Done():
	case <-time.After(eventually):
		t.Fatal("worker did not exit")
	}

	assert.True(t, factory.session(0).wasQuit(), "worker cleanup must release the engine")
	require.NoError(t, ev.Err())
}

func TestEvaluatorSurfacesCrash(t *testing.T) {
	ev, factory := startedEvaluator(t)

	factory.session(0).crash()

	select {
	case <-ev.Done():
	case <-time.After(eventually):
		t.Fatal("worker did not exit after crash")
	}

	var crashed *EngineCrashedError
	require.ErrorAs(t, ev.Err(), &crashed)
	assert.False(t, ev.Running())
}

func TestEvaluatorSpawnFailureSurfacesAsync(t *testing.T) {
	factory := &fakeFactory{spawnErr: &SpawnError{Path: "/missing", Err: errors.ErrTransportClosed}}
	ev := NewEvaluator()
	ev.newSession = factory.new

	require.NoError(t, ev.Start("/missing", fenStart), "start itself must not block on spawn")

	select {
	case <-ev.Done():
	case <-time.After(eventually):
		t.Fatal("worker did not exit after spawn failure")
	}

	var spawnErr *SpawnError
	require.ErrorAs(t, ev.Err(), &spawnErr)
}

func TestEvaluatorThrottlesUpdates(t *testing.T) {
	ev, factory := startedEvaluator(t, WithUpdateInterval(200*time.Millisecond))
	sess := factory.session(0)

	for depth := 1; depth <= 5; depth++ {
		sess.push(AnalysisLine{Index: 1, Depth: depth})
	}

	first := <-ev.Updates()
	assert.Equal(t, 1, first.Line.Depth)

	// The next delivery for the same index waits out the interval and
	// carries the most recent pending update, not an older superseded one.
	second := <-ev.Updates()
	assert.Equal(t, 5, second.Line.Depth)
}
