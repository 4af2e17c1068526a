package notes

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/brunoscheufler/notepad/store"
	"github.com/brunoscheufler/notepad/telemetry"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestStore_GroceriesScenario(t *testing.T) {
	gateway := newFakeGateway()
	s := newTestStore(t, gateway)

	a := s.Add()
	require.Equal(t, "New Note", a.Title)
	require.Empty(t, a.Content)

	_, ok := s.Update(a.ID, TitlePatch("Groceries"))
	require.True(t, ok)

	b := s.Add()

	state := s.Snapshot()
	require.Equal(t, []string{b.ID, a.ID}, ids(state.Notes))
	require.Equal(t, "Groceries", state.Notes[1].Title)
	require.Equal(t, b.ID, state.ActiveNoteID)

	flush(t, s)
	require.Equal(t, 3, gateway.writeCount(), "Every mutation writes the full list")
	require.Equal(t, ids(state.Notes), ids(gateway.storedNotes()))
}

func TestStore_AddPrependsAndActivates(t *testing.T) {
	s := newTestStore(t, newFakeGateway())

	for i := 0; i < 5; i++ {
		note := s.Add()
		state := s.Snapshot()
		require.Equal(t, note.ID, state.Notes[0].ID, "New note should be the head")
		require.Equal(t, note.ID, state.ActiveNoteID, "New note should be active")
		require.Len(t, state.Notes, i+1)
		require.False(t, note.UpdatedAt.IsZero())
	}
}

func TestStore_AddSkipsTakenIDs(t *testing.T) {
	calls := 0
	gen := func() string {
		calls++
		if calls <= 2 {
			return "same"
		}
		return "other"
	}
	s := newTestStore(t, newFakeGateway(), WithIDGenerator(gen))

	first := s.Add()
	second := s.Add()

	require.Equal(t, "same", first.ID)
	require.Equal(t, "other", second.ID)
}

func TestStore_UpdateMissingIsNoop(t *testing.T) {
	gateway := newFakeGateway()
	s := newTestStore(t, gateway)
	s.Add()
	flush(t, s)

	before := s.Snapshot()
	_, ok := s.Update("does-not-exist", TitlePatch("X"))
	require.False(t, ok)

	flush(t, s)
	require.Equal(t, before.Notes, s.Snapshot().Notes)
	require.Equal(t, 1, gateway.writeCount(), "A no-op update should not write")
}

func TestStore_UpdateContentTouchesOnlyThatNote(t *testing.T) {
	s := newTestStore(t, newFakeGateway())
	a := s.Add()
	b := s.Add()
	before := s.Snapshot()

	updated, ok := s.Update(a.ID, ContentPatch("<p>Y</p>"))
	require.True(t, ok)

	after := s.Snapshot()
	require.Equal(t, before.Notes[0], after.Notes[0], "Other notes should be untouched")
	require.Equal(t, b.ID, after.Notes[0].ID)

	got := after.Notes[1]
	require.Equal(t, "<p>Y</p>", got.Content)
	require.Equal(t, a.Title, got.Title)
	require.Equal(t, a.ID, got.ID)
	require.True(t, got.UpdatedAt.After(a.UpdatedAt))
	require.Equal(t, updated, got)

	again, _ := s.Update(a.ID, ContentPatch("<p>Y</p>"))
	require.Equal(t, got.Content, again.Content)
	require.True(t, again.UpdatedAt.After(got.UpdatedAt), "Repeated updates only advance UpdatedAt")
}

func TestStore_UpdateEmptyPatchRefreshesTimestamp(t *testing.T) {
	s := newTestStore(t, newFakeGateway())
	a := s.Add()

	updated, ok := s.Update(a.ID, Patch{})
	require.True(t, ok)
	require.Equal(t, a.Title, updated.Title)
	require.True(t, updated.UpdatedAt.After(a.UpdatedAt))
}

func TestStore_Delete(t *testing.T) {
	tests := []struct {
		name           string
		notes          int
		deleteIndex    int
		activeIndex    int
		expectedActive func(state State, deleted string, previous State) string
	}{
		{
			name:        "active note with others selects new head",
			notes:       3,
			deleteIndex: 0,
			activeIndex: 0,
			expectedActive: func(state State, _ string, _ State) string {
				return state.Notes[0].ID
			},
		},
		{
			name:        "active note in the middle selects head",
			notes:       3,
			deleteIndex: 1,
			activeIndex: 1,
			expectedActive: func(state State, _ string, _ State) string {
				return state.Notes[0].ID
			},
		},
		{
			name:        "inactive note keeps selection",
			notes:       3,
			deleteIndex: 2,
			activeIndex: 0,
			expectedActive: func(_ State, _ string, previous State) string {
				return previous.ActiveNoteID
			},
		},
		{
			name:        "only note clears selection",
			notes:       1,
			deleteIndex: 0,
			activeIndex: 0,
			expectedActive: func(State, string, State) string {
				return ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := newFakeGateway()
			s := newTestStore(t, gateway)
			for i := 0; i < tt.notes; i++ {
				s.Add()
			}
			initial := s.Snapshot()
			s.SetActive(initial.Notes[tt.activeIndex].ID)
			previous := s.Snapshot()

			deleted := previous.Notes[tt.deleteIndex].ID
			require.True(t, s.Delete(deleted))

			state := s.Snapshot()
			require.Len(t, state.Notes, tt.notes-1)
			require.NotContains(t, ids(state.Notes), deleted)
			require.Equal(t, tt.expectedActive(state, deleted, previous), state.ActiveNoteID)

			flush(t, s)
			require.Equal(t, ids(state.Notes), ids(gateway.storedNotes()))
		})
	}
}

func TestStore_DeleteMissingIsNoop(t *testing.T) {
	gateway := newFakeGateway()
	s := newTestStore(t, gateway)
	a := s.Add()
	flush(t, s)

	require.False(t, s.Delete("missing"))
	flush(t, s)

	require.Equal(t, []string{a.ID}, ids(s.Snapshot().Notes))
	require.Equal(t, 1, gateway.writeCount())
}

func TestStore_SetActiveIsUnvalidated(t *testing.T) {
	gateway := newFakeGateway()
	s := newTestStore(t, gateway)
	s.Add()
	flush(t, s)

	s.SetActive("dangling")

	state := s.Snapshot()
	require.Equal(t, "dangling", state.ActiveNoteID)
	_, ok := state.ActiveNote()
	require.False(t, ok, "A dangling id renders as no note selected")

	flush(t, s)
	require.Equal(t, 1, gateway.writeCount(), "Selection is not persisted")
}

func TestStore_LoadSelectsFirstNote(t *testing.T) {
	stored := []store.Note{
		{ID: "b", Title: "B", UpdatedAt: time.Now()},
		{ID: "a", Title: "A", UpdatedAt: time.Now()},
	}
	gateway := newFakeGateway(stored...)
	s := newTestStore(t, gateway)

	s.Load(context.Background())

	state := s.Snapshot()
	require.Equal(t, []string{"b", "a"}, ids(state.Notes))
	require.Equal(t, "b", state.ActiveNoteID)
	require.False(t, state.IsLoading)

	note, ok := state.ActiveNote()
	require.True(t, ok)
	require.Equal(t, "B", note.Title)

	flush(t, s)
	require.Zero(t, gateway.writeCount(), "Plain load does not write back")
}

func TestStore_LoadKeepsExistingSelection(t *testing.T) {
	gateway := newFakeGateway(store.Note{ID: "a"}, store.Note{ID: "b"})
	s := newTestStore(t, gateway)
	s.SetActive("b")

	s.Load(context.Background())

	require.Equal(t, "b", s.Snapshot().ActiveNoteID)
}

func TestStore_LoadEmptyLeavesSelectionClear(t *testing.T) {
	s := newTestStore(t, newFakeGateway())

	s.Load(context.Background())

	state := s.Snapshot()
	require.Empty(t, state.Notes)
	require.Empty(t, state.ActiveNoteID)
}

func TestStore_LoadDropsDuplicateIDs(t *testing.T) {
	gateway := newFakeGateway(store.Note{ID: "a", Title: "first"}, store.Note{ID: "a", Title: "second"})
	s := newTestStore(t, gateway)

	s.Load(context.Background())

	state := s.Snapshot()
	require.Len(t, state.Notes, 1)
	require.Equal(t, "first", state.Notes[0].Title)
}

func TestStore_LoadFailureIsSwallowed(t *testing.T) {
	gateway := newFakeGateway()
	s := newTestStore(t, gateway)
	existing := s.Add()
	flush(t, s)

	gateway.mu.Lock()
	gateway.fetchErr = errors.New("host unreachable")
	gateway.mu.Unlock()

	s.Load(context.Background())

	state := s.Snapshot()
	require.False(t, state.IsLoading, "Loading flag clears on failure")
	require.Equal(t, []string{existing.ID}, ids(state.Notes), "Notes stay at their previous value")
}

func TestStore_LoadingFlagWhileFetching(t *testing.T) {
	gateway := newFakeGateway(store.Note{ID: "a"})
	s := newTestStore(t, gateway)
	started, release := gateway.holdFetch()

	done := make(chan struct{})
	go func() {
		s.Load(context.Background())
		close(done)
	}()

	<-started
	require.True(t, s.Snapshot().IsLoading)
	release()
	<-done
	require.False(t, s.Snapshot().IsLoading)
}

func TestStore_LoadDoesNotClobberInterimAdd(t *testing.T) {
	gateway := newFakeGateway(
		store.Note{ID: "old-2", Title: "Old 2"},
		store.Note{ID: "old-1", Title: "Old 1"},
	)
	s := newTestStore(t, gateway)
	started, release := gateway.holdFetch()

	done := make(chan struct{})
	go func() {
		s.Load(context.Background())
		close(done)
	}()

	<-started
	added := s.Add()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Flush(ctx), context.DeadlineExceeded, "Writes wait for the fetch")
	require.Equal(t, []string{"old-2", "old-1"}, ids(gateway.storedNotes()))

	release()
	<-done

	state := s.Snapshot()
	require.Equal(t, []string{added.ID, "old-2", "old-1"}, ids(state.Notes))
	require.Equal(t, added.ID, state.ActiveNoteID)

	flush(t, s)
	require.Equal(t, ids(state.Notes), ids(gateway.storedNotes()), "Merged list is written back")
	require.Equal(t, 1, gateway.writeCount(), "The merged list replaces the parked snapshot")
}

func TestStore_LoadWaitsForEarlierWrites(t *testing.T) {
	gateway := newFakeGateway()
	gate := make(chan struct{})
	gateway.mu.Lock()
	gateway.persistGate = gate
	gateway.mu.Unlock()
	s := newTestStore(t, gateway)

	added := s.Add()
	started, release := gateway.holdFetch()
	release()

	done := make(chan struct{})
	go func() {
		s.Load(context.Background())
		close(done)
	}()

	select {
	case <-started:
		t.Fatal("fetch started while a write was pending")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	<-done

	state := s.Snapshot()
	require.Equal(t, []string{added.ID}, ids(state.Notes))
	require.Equal(t, []string{added.ID}, ids(gateway.storedNotes()))
}

func TestStore_LoadDoesNotResurrectInterimDelete(t *testing.T) {
	gateway := newFakeGateway(store.Note{ID: "a"}, store.Note{ID: "b"})
	s := newTestStore(t, gateway)
	s.Load(context.Background())

	started, release := gateway.holdFetch()
	done := make(chan struct{})
	go func() {
		s.Load(context.Background())
		close(done)
	}()

	<-started
	require.True(t, s.Delete("a"))
	release()
	<-done

	state := s.Snapshot()
	require.Equal(t, []string{"b"}, ids(state.Notes))
	require.Equal(t, "b", state.ActiveNoteID)
}

func TestStore_LoadKeepsInterimEdits(t *testing.T) {
	gateway := newFakeGateway(store.Note{ID: "a", Title: "stored"})
	s := newTestStore(t, gateway)
	s.Load(context.Background())

	started, release := gateway.holdFetch()
	done := make(chan struct{})
	go func() {
		s.Load(context.Background())
		close(done)
	}()

	<-started
	s.Update("a", TitlePatch("edited"))
	release()
	<-done

	require.Equal(t, "edited", s.Snapshot().Notes[0].Title)
}

func TestStore_RoundTripThroughLocalFallback(t *testing.T) {
	kv := store.NewFileKeyValue(afero.NewMemMapFs(), "data")

	first := newTestStore(t, store.NewLocalGateway(kv, discardLogger()))
	a := first.Add()
	first.Update(a.ID, TitlePatch("Groceries"))
	b := first.Add()
	first.Update(b.ID, ContentPatch("<p>call mom</p>"))
	want := first.Snapshot().Notes

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, first.Close(ctx))

	second := newTestStore(t, store.NewLocalGateway(kv, discardLogger()))
	second.Load(context.Background())
	got := second.Snapshot()

	require.Len(t, got.Notes, len(want))
	for i := range want {
		require.Equal(t, want[i].ID, got.Notes[i].ID)
		require.Equal(t, want[i].Title, got.Notes[i].Title)
		require.Equal(t, want[i].Content, got.Notes[i].Content)
	}
	require.Equal(t, b.ID, got.ActiveNoteID)
}

func TestStore_RandomOperationsKeepInvariants(t *testing.T) {
	gateway := newFakeGateway()
	s := newTestStore(t, gateway)
	rng := rand.New(rand.NewSource(42))
	assigned := map[string]bool{}

	for i := 0; i < 500; i++ {
		state := s.Snapshot()
		switch op := rng.Intn(10); {
		case op < 3 || len(state.Notes) == 0:
			note := s.Add()
			require.False(t, assigned[note.ID], "ids are never reused")
			assigned[note.ID] = true
		case op < 7:
			target := state.Notes[rng.Intn(len(state.Notes))]
			s.Update(target.ID, ContentPatch(target.Content+"x"))
		case op < 9:
			s.Delete(state.Notes[rng.Intn(len(state.Notes))].ID)
		default:
			s.SetActive(state.Notes[rng.Intn(len(state.Notes))].ID)
		}

		after := s.Snapshot()
		seen := map[string]bool{}
		for _, note := range after.Notes {
			require.False(t, seen[note.ID], "duplicate id %s", note.ID)
			seen[note.ID] = true
		}
		if after.ActiveNoteID != "" {
			require.True(t, seen[after.ActiveNoteID], "active id must reference a note")
		}
	}

	flush(t, s)
	require.Equal(t, ids(s.Snapshot().Notes), ids(gateway.storedNotes()), "Storage converges to the latest state")
}

func TestStore_SubscribeSignalsChanges(t *testing.T) {
	s := newTestStore(t, newFakeGateway())
	changes, unsubscribe := s.Subscribe()

	s.Add()
	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("expected a change signal")
	}

	unsubscribe()
	s.Add()
	select {
	case <-changes:
		t.Fatal("unsubscribed channel should not receive")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestStore_TracksGatewayAccess(t *testing.T) {
	stats := telemetry.NewStatsCollector(telemetry.WithAutoStart(false))
	defer stats.Stop()

	s := newTestStore(t, newFakeGateway(), WithStatsCollector(stats))
	s.Load(context.Background())
	s.Add()
	flush(t, s)

	exported := stats.Export()
	require.Equal(t, 1, exported.GatewayAccess["FetchAll-true"].Metrics.TotalCount)
	require.Equal(t, 1, exported.GatewayAccess["PersistAll-true"].Metrics.TotalCount)
}

func TestStore_ULIDGenerator(t *testing.T) {
	s := newTestStore(t, newFakeGateway(), WithIDGenerator(ULIDGenerator))

	first := s.Add()
	second := s.Add()

	require.Len(t, first.ID, 26)
	require.Less(t, first.ID, second.ID, "ULIDs sort by creation")
}

func TestGeneratorByName(t *testing.T) {
	for _, name := range []string{"", "uuid", "ULID"} {
		gen, err := GeneratorByName(name)
		require.NoError(t, err, name)
		require.NotEmpty(t, gen())
	}

	_, err := GeneratorByName("snowflake")
	require.Error(t, err)
}
