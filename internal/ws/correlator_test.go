package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/matchsync/internal/match"
)

// fakeInvoker records invocations and lets tests deliver inline replies.
type fakeInvoker struct {
	mu        sync.Mutex
	frames    [][]byte
	callbacks map[string]func(Reply)
	forgotten []string
	err       error
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{callbacks: make(map[string]func(Reply))}
}

func (f *fakeInvoker) Invoke(_ context.Context, requestID string, frame []byte, onReply func(Reply)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, frame)
	f.callbacks[requestID] = onReply
	return nil
}

func (f *fakeInvoker) ForgetReply(requestID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.callbacks, requestID)
	f.forgotten = append(f.forgotten, requestID)
}

func (f *fakeInvoker) reply(r Reply) bool {
	f.mu.Lock()
	cb, ok := f.callbacks[r.RequestID]
	f.mu.Unlock()
	if ok {
		cb(r)
	}
	return ok
}

func (f *fakeInvoker) wasForgotten(requestID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.forgotten {
		if id == requestID {
			return true
		}
	}
	return false
}

func (f *fakeInvoker) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func envelope(submitter string, seq int) ResultEnvelope {
	return ResultEnvelope{
		Submitter: submitter,
		Result:    map[string]any{"tournamentMatchId": seq, "player1Legs": 3, "player2Legs": 1},
	}
}

func waitFuture(t *testing.T, f *Future) (Ack, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-f.Done():
	case <-ctx.Done():
		t.Fatal("future did not resolve")
	}
	return f.Wait(ctx)
}

func TestCorrelatorInlineSuccess(t *testing.T) {
	inv := newFakeInvoker()
	c := NewCorrelator(inv, zap.NewNop(), nil)

	f, err := c.SendWithAck(context.Background(), envelope("board-1", 5), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Pending())

	require.True(t, inv.reply(Reply{RequestID: f.RequestID, Success: true, Data: map[string]any{"stored": true}}))

	ack, err := waitFuture(t, f)
	require.NoError(t, err)
	assert.Equal(t, AckInline, ack.Source)
	assert.Equal(t, f.RequestID, ack.RequestID)
	assert.Equal(t, true, ack.Data["stored"])
	assert.Zero(t, c.Pending())
}

func TestCorrelatorInlineRejection(t *testing.T) {
	inv := newFakeInvoker()
	c := NewCorrelator(inv, zap.NewNop(), nil)

	f, err := c.SendWithAck(context.Background(), envelope("board-1", 5), time.Minute)
	require.NoError(t, err)
	inv.reply(Reply{RequestID: f.RequestID, Success: false, Error: "match already closed"})

	_, err = waitFuture(t, f)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "match already closed", remote.Message)
}

func TestCorrelatorResolvedByMatchUpdated(t *testing.T) {
	inv := newFakeInvoker()
	c := NewCorrelator(inv, zap.NewNop(), nil)

	f, err := c.SendWithAck(context.Background(), envelope("board-1", 5), time.Minute)
	require.NoError(t, err)

	other := match.Reconcile(map[string]any{"tournamentMatchId": 6})
	c.ObserveUpdate(KindMatchUpdated, "", other)
	select {
	case <-f.Done():
		t.Fatal("resolved by another match")
	default:
	}

	same := match.Reconcile(map[string]any{"tournamentMatchId": 5})
	c.ObserveUpdate(KindMatchUpdated, "", same)

	ack, err := waitFuture(t, f)
	require.NoError(t, err)
	assert.Equal(t, AckEvent, ack.Source)
	assert.True(t, ack.Update.SameMatch(same))
	assert.True(t, inv.wasForgotten(f.RequestID))
}

func TestCorrelatorResolvedByEchoedRequestID(t *testing.T) {
	inv := newFakeInvoker()
	c := NewCorrelator(inv, zap.NewNop(), nil)

	f, err := c.SendWithAck(context.Background(), envelope("board-1", 5), time.Minute)
	require.NoError(t, err)

	c.ObserveUpdate(KindLegCompleted, f.RequestID, match.Reconcile(map[string]any{"tournamentMatchId": 99}))

	ack, err := waitFuture(t, f)
	require.NoError(t, err)
	assert.Equal(t, AckEvent, ack.Source)
}

func TestCorrelatorIgnoresLiveProgressForSameMatch(t *testing.T) {
	inv := newFakeInvoker()
	c := NewCorrelator(inv, zap.NewNop(), nil)

	f, err := c.SendWithAck(context.Background(), envelope("board-1", 5), time.Minute)
	require.NoError(t, err)

	progress := match.Reconcile(map[string]any{"tournamentMatchId": 5}).WithStatus(match.StatusInProgress)
	c.ObserveUpdate(KindLegCompleted, "", progress)
	assert.Equal(t, 1, c.Pending())

	finished := progress.WithStatus(match.StatusFinished)
	c.ObserveUpdate(KindMatchInProgress, "", finished)
	_, err = waitFuture(t, f)
	require.NoError(t, err)
}

func TestCorrelatorResolvesOnce(t *testing.T) {
	reg := newTestRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	inv := newFakeInvoker()
	c := NewCorrelator(inv, zap.NewNop(), m)

	f, err := c.SendWithAck(context.Background(), envelope("board-1", 5), time.Minute)
	require.NoError(t, err)
	inv.mu.Lock()
	cb := inv.callbacks[f.RequestID]
	inv.mu.Unlock()

	c.ObserveUpdate(KindMatchUpdated, "", match.Reconcile(map[string]any{"tournamentMatchId": 5}))
	cb(Reply{RequestID: f.RequestID, Success: false, Error: "late"})

	ack, err := waitFuture(t, f)
	require.NoError(t, err)
	assert.Equal(t, AckEvent, ack.Source)
	assert.Equal(t, 1.0, counterValue(t, reg, "matchsync_correlator_requests_total", "outcome", "event"))
	assert.Zero(t, counterValue(t, reg, "matchsync_correlator_requests_total", "outcome", "rejected"))
}

func TestCorrelatorTimeoutFreesSubmitter(t *testing.T) {
	inv := newFakeInvoker()
	c := NewCorrelator(inv, zap.NewNop(), nil)

	f, err := c.SendWithAck(context.Background(), envelope("board-1", 5), 30*time.Millisecond)
	require.NoError(t, err)

	_, err = waitFuture(t, f)
	require.ErrorIs(t, err, ErrAckTimeout)
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, f.RequestID, timeout.RequestID)
	eventually(t, func() bool { return inv.wasForgotten(f.RequestID) }, "reply callback not dropped")

	// A reply arriving after the timeout has nowhere to go.
	assert.False(t, inv.reply(Reply{RequestID: f.RequestID, Success: true}))

	next, err := c.SendWithAck(context.Background(), envelope("board-1", 5), time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, f.RequestID, next.RequestID)
}

func TestCorrelatorRejectsSecondRequestFromSameSubmitter(t *testing.T) {
	inv := newFakeInvoker()
	c := NewCorrelator(inv, zap.NewNop(), nil)

	_, err := c.SendWithAck(context.Background(), envelope("board-1", 5), time.Minute)
	require.NoError(t, err)

	_, err = c.SendWithAck(context.Background(), envelope("board-1", 6), time.Minute)
	require.ErrorIs(t, err, ErrRequestInFlight)
	assert.Equal(t, 1, inv.sentCount())

	_, err = c.SendWithAck(context.Background(), envelope("board-2", 6), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, inv.sentCount())
	assert.Equal(t, 2, c.Pending())
}

func TestCorrelatorInvokeFailureFreesSubmitter(t *testing.T) {
	inv := newFakeInvoker()
	inv.err = ErrNotConnected
	c := NewCorrelator(inv, zap.NewNop(), nil)

	_, err := c.SendWithAck(context.Background(), envelope("board-1", 5), time.Minute)
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, c.Pending())

	inv.err = nil
	_, err = c.SendWithAck(context.Background(), envelope("board-1", 5), time.Minute)
	require.NoError(t, err)
}

func TestCorrelatorObserveError(t *testing.T) {
	inv := newFakeInvoker()
	c := NewCorrelator(inv, zap.NewNop(), nil)

	f, err := c.SendWithAck(context.Background(), envelope("board-1", 5), time.Minute)
	require.NoError(t, err)

	c.ObserveError(ServerError{Code: "rejected", Message: "no", RequestID: "someone-else"})
	c.ObserveError(ServerError{Code: "rejected", Message: "no"})
	assert.Equal(t, 1, c.Pending())

	c.ObserveError(ServerError{Code: "rejected", Message: "no", RequestID: f.RequestID})
	_, err = waitFuture(t, f)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "rejected", remote.Code)
}

func TestCorrelatorCancel(t *testing.T) {
	inv := newFakeInvoker()
	c := NewCorrelator(inv, zap.NewNop(), nil)

	f, err := c.SendWithAck(context.Background(), envelope("board-1", 5), time.Minute)
	require.NoError(t, err)

	assert.True(t, c.Cancel(f.RequestID))
	assert.False(t, c.Cancel(f.RequestID))
	_, err = waitFuture(t, f)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCorrelatorClose(t *testing.T) {
	inv := newFakeInvoker()
	c := NewCorrelator(inv, zap.NewNop(), nil)

	f1, err := c.SendWithAck(context.Background(), envelope("board-1", 5), time.Minute)
	require.NoError(t, err)
	f2, err := c.SendWithAck(context.Background(), envelope("board-2", 6), time.Minute)
	require.NoError(t, err)

	c.Close()

	for _, f := range []*Future{f1, f2} {
		_, err := waitFuture(t, f)
		assert.ErrorIs(t, err, ErrCorrelatorClosed)
	}
	_, err = c.SendWithAck(context.Background(), envelope("board-3", 7), time.Minute)
	assert.True(t, errors.Is(err, ErrCorrelatorClosed))
}

func TestFutureWaitHonorsContext(t *testing.T) {
	inv := newFakeInvoker()
	c := NewCorrelator(inv, zap.NewNop(), nil)

	f, err := c.SendWithAck(context.Background(), envelope("board-1", 5), time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, c.Pending())
}
