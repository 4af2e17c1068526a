package notes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brunoscheufler/notepad/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func snapshotOf(ids ...string) []store.Note {
	notes := make([]store.Note, len(ids))
	for i, id := range ids {
		notes[i] = store.Note{ID: id}
	}
	return notes
}

func closePersister(t *testing.T, p *persister) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.close(ctx))
}

func TestPersister_WritesInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	gateway := newFakeGateway()
	p := newPersister(gateway, fastRetry(), 0, discardLogger(), nil)

	p.enqueue(snapshotOf("a"))
	p.enqueue(snapshotOf("b", "a"))
	p.enqueue(snapshotOf("c", "b", "a"))
	closePersister(t, p)

	require.Len(t, gateway.writes, 3)
	require.Equal(t, []string{"a"}, ids(gateway.writes[0]))
	require.Equal(t, []string{"c", "b", "a"}, ids(gateway.storedNotes()))
}

func TestPersister_RetriesTransientFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	gateway := newFakeGateway()
	gateway.persistErrs = []error{errors.New("busy"), errors.New("busy")}
	p := newPersister(gateway, fastRetry(), 0, discardLogger(), nil)

	p.enqueue(snapshotOf("a"))
	closePersister(t, p)

	require.Equal(t, []string{"a"}, ids(gateway.storedNotes()))
}

func TestPersister_FailedWriteDoesNotBlockLaterWrites(t *testing.T) {
	defer goleak.VerifyNone(t)

	gateway := newFakeGateway()
	down := errors.New("down")
	gateway.persistErrs = []error{down, down, down}
	p := newPersister(gateway, fastRetry(), 0, discardLogger(), nil)

	p.enqueue(snapshotOf("lost"))
	p.enqueue(snapshotOf("kept"))
	closePersister(t, p)

	require.Len(t, gateway.writes, 1)
	require.Equal(t, []string{"kept"}, ids(gateway.storedNotes()))
}

func TestPersister_BackpressureDropsOldestQueued(t *testing.T) {
	defer goleak.VerifyNone(t)

	gateway := newFakeGateway()
	gate := make(chan struct{})
	gateway.persistGate = gate
	p := newPersister(gateway, fastRetry(), 2, discardLogger(), nil)

	p.enqueue(snapshotOf("1"))
	require.Eventually(t, func() bool { return p.pending() == 1 && p.inFlightNow() }, time.Second, time.Millisecond)

	p.enqueue(snapshotOf("2"))
	p.enqueue(snapshotOf("3"))
	p.enqueue(snapshotOf("4"))
	require.Equal(t, 3, p.pending(), "one in flight plus two queued")

	close(gate)
	closePersister(t, p)

	require.Len(t, gateway.writes, 3)
	require.Equal(t, []string{"1"}, ids(gateway.writes[0]))
	require.Equal(t, []string{"3"}, ids(gateway.writes[1]))
	require.Equal(t, []string{"4"}, ids(gateway.writes[2]))
}

func TestPersister_FlushWaitsForQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	gateway := newFakeGateway()
	p := newPersister(gateway, fastRetry(), 0, discardLogger(), nil)
	defer closePersister(t, p)

	require.NoError(t, p.flush(context.Background()), "Flushing an idle writer returns at once")

	for i := 0; i < 20; i++ {
		p.enqueue(snapshotOf("x"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.flush(ctx))
	require.Zero(t, p.pending())
	require.Equal(t, 20, gateway.writeCount())
}

func TestPersister_FlushHonoursContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	gateway := newFakeGateway()
	gateway.persistGate = make(chan struct{})
	p := newPersister(gateway, fastRetry(), 0, discardLogger(), nil)

	p.enqueue(snapshotOf("stuck"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.flush(ctx), context.DeadlineExceeded)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer closeCancel()
	require.ErrorIs(t, p.close(closeCtx), context.DeadlineExceeded, "Close gives up on a stalled gateway")
	require.Zero(t, gateway.writeCount())
}

func TestPersister_EnqueueAfterCloseIsDropped(t *testing.T) {
	defer goleak.VerifyNone(t)

	gateway := newFakeGateway()
	p := newPersister(gateway, fastRetry(), 0, discardLogger(), nil)
	closePersister(t, p)

	p.enqueue(snapshotOf("late"))

	require.Zero(t, p.pending())
	require.Zero(t, gateway.writeCount())
	closePersister(t, p)
}

type rejectedWrite struct{}

func (rejectedWrite) Error() string   { return "rejected" }
func (rejectedWrite) Temporary() bool { return false }

func TestPersister_PermanentFailureIsNotRetried(t *testing.T) {
	defer goleak.VerifyNone(t)

	gateway := newFakeGateway()
	gateway.persistErrs = []error{rejectedWrite{}}
	p := newPersister(gateway, fastRetry(), 0, discardLogger(), nil)

	p.enqueue(snapshotOf("rejected"))
	p.enqueue(snapshotOf("next"))
	closePersister(t, p)

	require.Len(t, gateway.writes, 1, "The rejected snapshot is given up after one attempt")
	require.Equal(t, []string{"next"}, ids(gateway.writes[0]))
}

func TestPersister_HoldParksSnapshots(t *testing.T) {
	defer goleak.VerifyNone(t)

	gateway := newFakeGateway()
	p := newPersister(gateway, fastRetry(), 0, discardLogger(), nil)

	p.hold(context.Background())
	p.enqueue(snapshotOf("parked"))
	p.enqueue(snapshotOf("parked", "again"))
	require.Equal(t, 2, p.pending())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.flush(ctx), context.DeadlineExceeded)
	require.Zero(t, gateway.writeCount())

	p.release(snapshotOf("merged", "parked", "again"))
	closePersister(t, p)

	require.Equal(t, 1, gateway.writeCount())
	require.Equal(t, []string{"merged", "parked", "again"}, ids(gateway.storedNotes()))
}

func TestPersister_ReleaseWithoutSnapshotWritesParked(t *testing.T) {
	defer goleak.VerifyNone(t)

	gateway := newFakeGateway()
	p := newPersister(gateway, fastRetry(), 0, discardLogger(), nil)

	p.hold(context.Background())
	p.enqueue(snapshotOf("a"))
	p.release(nil)
	closePersister(t, p)

	require.Equal(t, []string{"a"}, ids(gateway.storedNotes()))
}

func TestPersister_CloseWaitsForRelease(t *testing.T) {
	defer goleak.VerifyNone(t)

	gateway := newFakeGateway()
	p := newPersister(gateway, fastRetry(), 0, discardLogger(), nil)

	p.hold(context.Background())
	closed := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		closed <- p.close(ctx)
	}()

	p.release(snapshotOf("final"))
	require.NoError(t, <-closed)
	require.Equal(t, []string{"final"}, ids(gateway.storedNotes()))
}

func (p *persister) inFlightNow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}
