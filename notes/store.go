// Package notes holds the in-memory note list and the active selection, and mediates
// every write to the storage gateway.
package notes

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/brunoscheufler/notepad/constants"
	"github.com/brunoscheufler/notepad/store"
	"github.com/brunoscheufler/notepad/telemetry"
	"github.com/brunoscheufler/notepad/util"
	"github.com/google/uuid"
)

// Patch carries the fields an Update should overwrite. Nil fields are left untouched.
type Patch struct {
	Title   *string
	Content *string
}

// TitlePatch returns a Patch that only sets the title.
func TitlePatch(title string) Patch { return Patch{Title: &title} }

// ContentPatch returns a Patch that only sets the content.
func ContentPatch(content string) Patch { return Patch{Content: &content} }

// State is a copy of the store contents at one point in time.
type State struct {
	Notes        []store.Note
	ActiveNoteID string
	IsLoading    bool
}

// ActiveNote looks up the active note by id. It reports false when nothing is selected
// or the active id does not match any note.
func (s State) ActiveNote() (store.Note, bool) {
	if s.ActiveNoteID == "" {
		return store.Note{}, false
	}
	for _, note := range s.Notes {
		if note.ID == s.ActiveNoteID {
			return note, true
		}
	}
	return store.Note{}, false
}

type config struct {
	logger     *slog.Logger
	stats      telemetry.StatsCollector
	clock      func() time.Time
	newID      IDGenerator
	retry      util.RetryConfig
	maxPending int
}

// Option configures a Store
type Option func(*config)

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

func WithStatsCollector(stats telemetry.StatsCollector) Option {
	return func(c *config) { c.stats = stats }
}

// WithClock overrides the source of UpdatedAt timestamps.
func WithClock(clock func() time.Time) Option {
	return func(c *config) { c.clock = clock }
}

func WithIDGenerator(gen IDGenerator) Option {
	return func(c *config) { c.newID = gen }
}

// WithRetryPolicy sets how failed writes are retried before being logged and dropped.
func WithRetryPolicy(retry util.RetryConfig) Option {
	return func(c *config) { c.retry = retry }
}

// WithMaxPendingWrites bounds the write queue. When it is full the oldest queued
// snapshot is discarded.
func WithMaxPendingWrites(n int) Option {
	return func(c *config) { c.maxPending = n }
}

// DefaultWriteRetry retries transient persistence errors a few times with backoff.
// Rejected writes are not repeated.
func DefaultWriteRetry() util.RetryConfig {
	return util.RetryConfig{
		MaxRetries:      3,
		BaseDelay:       50 * time.Millisecond,
		MaxDelay:        2 * time.Second,
		ShouldRetryFunc: util.RetryTransient,
	}
}

// Store is the single source of truth for notes and the active selection.
// All methods are safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	notes     []store.Note
	activeID  string
	loading   int
	mutations uint64
	// ids deleted while at least one Load is in flight
	deletedDuringLoad map[string]struct{}

	gateway   store.Gateway
	persister *persister
	logger    *slog.Logger
	stats     telemetry.StatsCollector
	now       func() time.Time
	newID     IDGenerator

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// New creates an empty store writing through gateway. Call Load to populate it and
// Close to drain pending writes.
func New(gateway store.Gateway, options ...Option) *Store {
	cfg := config{
		logger:     slog.Default(),
		clock:      func() time.Time { return time.Now().UTC() },
		newID:      UUIDGenerator,
		retry:      DefaultWriteRetry(),
		maxPending: constants.DefaultMaxPendingWrites,
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Store{
		notes:     []store.Note{},
		gateway:   gateway,
		persister: newPersister(gateway, cfg.retry, cfg.maxPending, cfg.logger, cfg.stats),
		logger:    cfg.logger,
		stats:     cfg.stats,
		now:       cfg.clock,
		newID:     cfg.newID,
		subs:      make(map[int]chan struct{}),
	}
}

// Load fetches the stored notes. Errors are logged, never returned; on failure the
// current notes are kept. Mutations made while the fetch is in flight are preserved.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	s.loading++
	if s.deletedDuringLoad == nil {
		s.deletedDuringLoad = make(map[string]struct{})
	}
	startMutations := s.mutations
	s.mu.Unlock()
	s.notify()

	// storage must reflect every earlier write and must not change under the fetch
	s.persister.hold(ctx)

	start := time.Now()
	fetched, err := s.gateway.FetchAll(ctx)
	s.track("FetchAll", time.Since(start), err == nil)

	s.mu.Lock()
	s.loading--
	if err != nil {
		s.persister.release(nil)
		s.endLoadLocked()
		s.mu.Unlock()
		s.logger.Error("Failed to load notes", "error", err)
		s.notify()
		return
	}

	merged := s.mutations != startMutations
	if merged {
		s.notes = s.mergeLocked(fetched)
	} else {
		s.notes = s.uniqueLocked(fetched)
	}

	if len(s.notes) > 0 && s.activeID == "" {
		s.activeID = s.notes[0].ID
	}

	// snapshots parked during the fetch lack the fetched notes
	if merged {
		s.persister.release(slices.Clone(s.notes))
	} else {
		s.persister.release(nil)
	}

	s.endLoadLocked()
	count := len(s.notes)
	s.mu.Unlock()

	s.logger.Debug("Loaded notes", "count", count, "merged", merged)
	s.notify()
}

// Add creates a note, prepends it and makes it active.
func (s *Store) Add() store.Note {
	s.mu.Lock()
	note := store.Note{
		ID:        s.freshIDLocked(),
		Title:     constants.DefaultNoteTitle,
		Content:   "",
		UpdatedAt: s.now(),
	}

	s.notes = append([]store.Note{note}, s.notes...)
	s.activeID = note.ID
	s.mutations++
	s.persistLocked()
	s.mu.Unlock()

	s.notify()
	return note
}

// Update applies patch to the note with id and refreshes its UpdatedAt. It reports
// false, and changes nothing, when no such note exists.
func (s *Store) Update(id string, patch Patch) (store.Note, bool) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return store.Note{}, false
	}

	note := s.notes[i]
	if patch.Title != nil {
		note.Title = *patch.Title
	}
	if patch.Content != nil {
		note.Content = *patch.Content
	}
	note.UpdatedAt = s.now()
	s.notes[i] = note

	s.mutations++
	s.persistLocked()
	s.mu.Unlock()

	s.notify()
	return note, true
}

// Delete removes the note with id. Deleting the active note selects the new first
// note, or clears the selection when the list is empty.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}

	s.notes = slices.Delete(s.notes, i, i+1)
	if s.activeID == id {
		s.activeID = ""
		if len(s.notes) > 0 {
			s.activeID = s.notes[0].ID
		}
	}
	if s.loading > 0 {
		s.deletedDuringLoad[id] = struct{}{}
	}

	s.mutations++
	s.persistLocked()
	s.mu.Unlock()

	s.notify()
	return true
}

// SetActive selects id without checking that it exists.
func (s *Store) SetActive(id string) {
	s.mu.Lock()
	s.activeID = id
	s.mu.Unlock()

	s.notify()
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return State{
		Notes:        slices.Clone(s.notes),
		ActiveNoteID: s.activeID,
		IsLoading:    s.loading > 0,
	}
}

// Subscribe returns a channel that receives a signal after every state change and a
// func to stop receiving. Signals coalesce; read Snapshot after each one.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// PendingWrites reports how many snapshots are queued or being written.
func (s *Store) PendingWrites() int {
	return s.persister.pending()
}

// Flush blocks until every queued write has been attempted or ctx is done.
func (s *Store) Flush(ctx context.Context) error {
	return s.persister.flush(ctx)
}

// Close drains queued writes and stops the background writer. Writes still queued
// when ctx is done are dropped.
func (s *Store) Close(ctx context.Context) error {
	return s.persister.close(ctx)
}

func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) persistLocked() {
	s.persister.enqueue(slices.Clone(s.notes))
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.notes, func(n store.Note) bool { return n.ID == id })
}

func (s *Store) freshIDLocked() string {
	for attempt := 0; attempt < 10; attempt++ {
		id := s.newID()
		if id != "" && s.indexLocked(id) < 0 {
			return id
		}
	}
	s.logger.Warn("ID generator kept returning taken ids, falling back to uuid")
	return uuid.NewString()
}

// mergeLocked keeps current notes as they are and appends fetched notes that are
// neither present nor deleted since the load began.
func (s *Store) mergeLocked(fetched []store.Note) []store.Note {
	seen := make(map[string]struct{}, len(s.notes)+len(fetched))
	merged := make([]store.Note, 0, len(s.notes)+len(fetched))
	for _, note := range s.notes {
		seen[note.ID] = struct{}{}
		merged = append(merged, note)
	}
	for _, note := range fetched {
		if _, ok := seen[note.ID]; ok {
			continue
		}
		if _, ok := s.deletedDuringLoad[note.ID]; ok {
			continue
		}
		seen[note.ID] = struct{}{}
		merged = append(merged, note)
	}
	return merged
}

func (s *Store) uniqueLocked(fetched []store.Note) []store.Note {
	seen := make(map[string]struct{}, len(fetched))
	unique := make([]store.Note, 0, len(fetched))
	for _, note := range fetched {
		if _, ok := seen[note.ID]; ok {
			s.logger.Warn("Dropping duplicate note from storage", "id", note.ID)
			continue
		}
		seen[note.ID] = struct{}{}
		unique = append(unique, note)
	}
	return unique
}

func (s *Store) endLoadLocked() {
	if s.loading == 0 {
		s.deletedDuringLoad = nil
	}
}

func (s *Store) track(operation string, duration time.Duration, success bool) {
	if s.stats == nil {
		return
	}
	if err := s.stats.TrackGatewayAccess(operation, duration, success); err != nil {
		s.logger.Debug("Failed to track gateway access", "error", err)
	}
}
