package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brunoscheufler/notepad/store"
	"github.com/brunoscheufler/notepad/telemetry"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// noteGetter is implemented by backends that can look up a single note directly.
type noteGetter interface {
	GetNote(ctx context.Context, id string) (*store.Note, error)
}

// Server exposes a storage gateway as the host storage API.
type Server struct {
	backend   store.Gateway
	telemetry *telemetry.Telemetry
	logger    *slog.Logger
}

// ServerOption defines a functional option for configuring Server
type ServerOption func(*serverConfig)

type serverConfig struct {
	backend   store.Gateway
	telemetry *telemetry.Telemetry
}

// WithBackend configures the gateway the server reads from and writes to
func WithBackend(backend store.Gateway) ServerOption {
	return func(config *serverConfig) {
		config.backend = backend
	}
}

// WithTelemetry configures the telemetry instance for the server
func WithTelemetry(tel *telemetry.Telemetry) ServerOption {
	return func(config *serverConfig) {
		config.telemetry = tel
	}
}

// NewServer creates a new server with functional options
func NewServer(options ...ServerOption) *Server {
	config := &serverConfig{}
	for _, option := range options {
		option(config)
	}

	if config.telemetry == nil {
		config.telemetry = telemetry.New()
	}

	return &Server{
		backend:   config.backend,
		telemetry: config.telemetry,
		logger:    config.telemetry.GetLogger(),
	}
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthCheck)

	mux.HandleFunc("GET /notes", s.handleListNotes)
	mux.HandleFunc("PUT /notes", s.handleReplaceNotes)
	mux.HandleFunc("GET /notes/{id}", s.handleGetNote)
}

// Handler returns the routes wrapped in the logging middleware
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return s.LoggingMiddleware(mux)
}

// responseWriter captures the status code for metrics
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		duration := time.Since(start)

		route := r.Pattern
		if route == "" {
			route = r.URL.Path
		}
		if i := strings.IndexByte(route, ' '); i >= 0 {
			route = route[i+1:]
		}

		if err := s.telemetry.GetStatsCollector().TrackAPIRequest(r.Method, route, duration, rw.status); err != nil {
			s.logger.Info("Failed to track API request metric", "error", err.Error())
		}

		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", duration,
			"status", rw.status,
		)
	})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if checker, ok := s.backend.(store.HealthChecker); ok {
		if err := checker.HealthCheck(ctx); err != nil {
			s.logger.Warn("Note storage unhealthy", "error", err)
			s.writeError(w, http.StatusServiceUnavailable, "Note storage unavailable")
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.backend.FetchAll(r.Context())
	if err != nil {
		s.logger.Error("Failed to list notes", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list notes")
		return
	}
	if notes == nil {
		notes = []store.Note{}
	}
	s.writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleReplaceNotes(w http.ResponseWriter, r *http.Request) {
	var notes []store.Note
	if err := json.NewDecoder(r.Body).Decode(&notes); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if err := validateNotes(notes); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if notes == nil {
		notes = []store.Note{}
	}

	if err := s.backend.PersistAll(r.Context(), notes); err != nil {
		s.logger.Error("Failed to persist notes", "error", err, "count", len(notes))
		s.writeError(w, http.StatusInternalServerError, "Failed to persist notes")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	note, err := s.lookupNote(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNoteNotFound) {
			s.writeError(w, http.StatusNotFound, "Note not found")
			return
		}
		s.logger.Error("Failed to get note", "error", err, "noteID", id)
		s.writeError(w, http.StatusInternalServerError, "Failed to get note")
		return
	}

	s.writeJSON(w, http.StatusOK, note)
}

func (s *Server) lookupNote(ctx context.Context, id string) (*store.Note, error) {
	if getter, ok := s.backend.(noteGetter); ok {
		return getter.GetNote(ctx, id)
	}

	notes, err := s.backend.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range notes {
		if notes[i].ID == id {
			return &notes[i], nil
		}
	}
	return nil, store.ErrNoteNotFound
}

// validateNotes rejects lists the note store could never have produced
func validateNotes(notes []store.Note) error {
	seen := make(map[string]struct{}, len(notes))
	for i, note := range notes {
		if strings.TrimSpace(note.ID) == "" {
			return fmt.Errorf("note %d: id is required", i)
		}
		if _, dup := seen[note.ID]; dup {
			return fmt.Errorf("note %d: duplicate id %q", i, note.ID)
		}
		seen[note.ID] = struct{}{}
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, ErrorResponse{Error: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON", "error", err)
	}
}
