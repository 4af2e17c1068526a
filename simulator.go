package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/brunoscheufler/notepad/constants"
	"github.com/brunoscheufler/notepad/notes"
	"github.com/brunoscheufler/notepad/store"
)

var simulatorWords = []string{
	"milk", "eggs", "deploy", "review", "meeting", "gopher", "coffee",
	"draft", "notes", "ideas", "later", "call", "fix", "ship",
}

type SimulatorOptions struct {
	RequestsPerMin int
	// Seed makes a run reproducible. Zero picks one from the clock.
	Seed int64
}

// Simulator types into notes it creates itself and remembers what it wrote, so the
// round trip through the gateway can be checked afterwards.
type Simulator struct {
	store   *notes.Store
	gateway store.Gateway
	logger  *slog.Logger
	options SimulatorOptions
	rng     *rand.Rand

	// Track notes with their expected content hashes
	notes     map[string]string // noteID -> hash
	notesLock sync.Mutex
	created   int

	mu      sync.Mutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// hashContents returns a SHA256 hash of the given title and content
func hashContents(title, content string) string {
	hash := sha256.Sum256([]byte(title + "\x00" + content))
	return fmt.Sprintf("%x", hash)
}

func NewSimulator(noteStore *notes.Store, gateway store.Gateway, logger *slog.Logger, options SimulatorOptions) *Simulator {
	ctx, cancel := context.WithCancel(context.Background())

	seed := options.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Simulator{
		store:   noteStore,
		gateway: gateway,
		logger:  logger,
		options: options,
		rng:     rand.New(rand.NewSource(seed)),
		notes:   make(map[string]string),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Simulator) Start() error {
	if s.options.RequestsPerMin <= 0 {
		return fmt.Errorf("typing simulator needs a positive rpm, got %d", s.options.RequestsPerMin)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}

	s.logger.Info("Starting typing simulator", "requests_per_min", s.options.RequestsPerMin)

	interval := time.Duration(constants.MillisecondsPerMinute/s.options.RequestsPerMin) * time.Millisecond
	s.wg.Add(1)
	go s.run(max(interval, time.Millisecond))
	return nil
}

func (s *Simulator) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.logger.Info("Stopping typing simulator...")
	s.cancel()

	// Wait for the loop to finish with a timeout to prevent hanging
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Typing simulator stopped")
	case <-time.After(2 * time.Second):
		s.logger.Warn("Typing simulator stop timed out")
	}
}

func (s *Simulator) run(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.step()
		}
	}
}

// step performs one random operation
func (s *Simulator) step() {
	s.notesLock.Lock()
	defer s.notesLock.Unlock()

	if len(s.notes) == 0 {
		s.createNote()
		return
	}

	switch roll := s.rng.Intn(100); {
	case roll < 10:
		s.createNote()
	case roll < 75:
		s.typeWord()
	case roll < 85:
		s.retitle()
	case roll < 95:
		s.selectNote()
	default:
		s.deleteNote()
	}
}

func (s *Simulator) createNote() {
	s.created++
	note := s.store.Add()
	title := fmt.Sprintf("Simulated note %d", s.created)
	updated, ok := s.store.Update(note.ID, notes.TitlePatch(title))
	if !ok {
		return
	}
	s.notes[note.ID] = hashContents(updated.Title, updated.Content)
}

// pick returns a random note owned by the simulator that still exists in the store
func (s *Simulator) pick() (store.Note, bool) {
	ids := make([]string, 0, len(s.notes))
	for id := range s.notes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	id := ids[s.rng.Intn(len(ids))]

	for _, note := range s.store.Snapshot().Notes {
		if note.ID == id {
			return note, true
		}
	}
	// Deleted from under us, e.g. in the editor
	delete(s.notes, id)
	return store.Note{}, false
}

func (s *Simulator) typeWord() {
	note, ok := s.pick()
	if !ok {
		return
	}

	word := simulatorWords[s.rng.Intn(len(simulatorWords))]
	content := strings.TrimSuffix(note.Content, "</p>")
	if content == "" {
		content = "<p>" + word
	} else {
		content += " " + word
	}
	content += "</p>"

	if updated, ok := s.store.Update(note.ID, notes.ContentPatch(content)); ok {
		s.notes[note.ID] = hashContents(updated.Title, updated.Content)
	}
}

func (s *Simulator) retitle() {
	note, ok := s.pick()
	if !ok {
		return
	}

	title := "Simulated " + simulatorWords[s.rng.Intn(len(simulatorWords))]
	if updated, ok := s.store.Update(note.ID, notes.TitlePatch(title)); ok {
		s.notes[note.ID] = hashContents(updated.Title, updated.Content)
	}
}

func (s *Simulator) selectNote() {
	if note, ok := s.pick(); ok {
		s.store.SetActive(note.ID)
	}
}

func (s *Simulator) deleteNote() {
	note, ok := s.pick()
	if !ok {
		return
	}
	s.store.Delete(note.ID)
	delete(s.notes, note.ID)
}

// Verify waits for pending writes and checks that every note the simulator wrote was
// persisted with the content it expects
func (s *Simulator) Verify(ctx context.Context) error {
	if err := s.store.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush notes: %w", err)
	}

	stored, err := s.gateway.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch notes: %w", err)
	}

	serverNotes := make(map[string]string, len(stored))
	for _, note := range stored {
		serverNotes[note.ID] = hashContents(note.Title, note.Content)
	}

	s.notesLock.Lock()
	defer s.notesLock.Unlock()

	var errs []error
	for id, expectedHash := range s.notes {
		actualHash, exists := serverNotes[id]
		switch {
		case !exists:
			s.logger.Warn("CONSISTENCY ERROR: Note missing from storage", "noteID", id)
			errs = append(errs, fmt.Errorf("note %s missing from storage", id))
		case actualHash != expectedHash:
			s.logger.Warn("CONSISTENCY ERROR: Note content mismatch detected", "noteID", id)
			errs = append(errs, fmt.Errorf("note %s content mismatch", id))
		}
	}

	if len(errs) == 0 {
		s.logger.Info("Typing simulator round trip verified", "notes", len(s.notes))
	}
	return errors.Join(errs...)
}
