package notes

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/brunoscheufler/notepad/store"
	"github.com/brunoscheufler/notepad/util"
	"github.com/stretchr/testify/require"
)

// fakeGateway records every persisted snapshot and can hold FetchAll open.
type fakeGateway struct {
	mu          sync.Mutex
	stored      []store.Note
	writes      [][]store.Note
	fetchErr    error
	persistErrs []error

	fetchStarted chan struct{}
	fetchRelease chan struct{}
	persistGate  chan struct{}
}

func newFakeGateway(initial ...store.Note) *fakeGateway {
	return &fakeGateway{stored: slices.Clone(initial)}
}

// holdFetch makes the next FetchAll block until the returned release func is called.
func (g *fakeGateway) holdFetch() (started <-chan struct{}, release func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.fetchStarted = make(chan struct{})
	g.fetchRelease = make(chan struct{})
	releaseCh := g.fetchRelease
	return g.fetchStarted, func() { close(releaseCh) }
}

func (g *fakeGateway) FetchAll(ctx context.Context) ([]store.Note, error) {
	g.mu.Lock()
	started, release := g.fetchStarted, g.fetchRelease
	g.fetchStarted, g.fetchRelease = nil, nil
	g.mu.Unlock()

	if started != nil {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return slices.Clone(g.stored), nil
}

func (g *fakeGateway) PersistAll(ctx context.Context, notes []store.Note) error {
	g.mu.Lock()
	gate := g.persistGate
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.persistErrs) > 0 {
		err := g.persistErrs[0]
		g.persistErrs = g.persistErrs[1:]
		if err != nil {
			return err
		}
	}
	g.stored = slices.Clone(notes)
	g.writes = append(g.writes, slices.Clone(notes))
	return nil
}

func (g *fakeGateway) storedNotes() []store.Note {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.stored)
}

func (g *fakeGateway) writeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.writes)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sequentialIDs returns note-1, note-2, ...
func sequentialIDs() IDGenerator {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("note-%d", n)
	}
}

// steppingClock advances one second per reading.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func fastRetry() util.RetryConfig {
	return util.RetryConfig{
		MaxRetries:      2,
		BaseDelay:       time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		ShouldRetryFunc: util.RetryTransient,
	}
}

func newTestStore(t *testing.T, gateway store.Gateway, options ...Option) *Store {
	t.Helper()

	defaults := []Option{
		WithLogger(discardLogger()),
		WithIDGenerator(sequentialIDs()),
		WithClock(steppingClock()),
		WithRetryPolicy(fastRetry()),
	}
	s := New(gateway, append(defaults, options...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Close(ctx)
	})
	return s
}

func flush(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}

func ids(notes []store.Note) []string {
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = n.ID
	}
	return out
}
