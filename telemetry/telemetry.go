package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/brunoscheufler/notepad/constants"
	"github.com/lmittmann/tint"
)

// Telemetry provides centralized logging and stats collection
type Telemetry struct {
	Logger         *slog.Logger
	LogCapture     *LogCapture
	StatsCollector StatsCollector

	cliMode  bool
	logLevel slog.Level
	output   io.Writer
}

// Option configures a Telemetry instance
type Option func(*Telemetry)

// WithCLIMode routes logs only into the capture buffer, leaving the terminal to the editor.
func WithCLIMode(enabled bool) Option {
	return func(t *Telemetry) {
		t.cliMode = enabled
	}
}

// WithLogLevel sets the minimum level by name (debug, info, warn, error).
func WithLogLevel(level string) Option {
	return func(t *Telemetry) {
		t.logLevel = ParseLogLevel(level)
	}
}

// WithOutput replaces stderr as the terminal log destination.
func WithOutput(w io.Writer) Option {
	return func(t *Telemetry) {
		t.output = w
	}
}

// WithStatsCollector replaces the default in-memory collector.
func WithStatsCollector(collector StatsCollector) Option {
	return func(t *Telemetry) {
		t.StatsCollector = collector
	}
}

// New creates a new telemetry instance
func New(options ...Option) *Telemetry {
	t := &Telemetry{
		LogCapture: NewLogCapture(constants.DefaultLogBufferSize),
		logLevel:   slog.LevelDebug,
		output:     os.Stderr,
	}

	for _, option := range options {
		option(t)
	}

	if t.StatsCollector == nil {
		t.StatsCollector = NewStatsCollector()
	}

	var w io.Writer = t.LogCapture
	if !t.cliMode {
		w = io.MultiWriter(t.output, t.LogCapture)
	}

	t.Logger = slog.New(tint.NewHandler(w, &tint.Options{
		Level:      t.logLevel,
		TimeFormat: time.Kitchen,
		NoColor:    !t.cliMode && !isTerminal(t.output),
	}))

	return t
}

// SetupLogging makes the telemetry logger the process default
func (t *Telemetry) SetupLogging() {
	slog.SetDefault(t.Logger)
}

func (t *Telemetry) GetLogger() *slog.Logger {
	return t.Logger
}

func (t *Telemetry) GetStatsCollector() StatsCollector {
	return t.StatsCollector
}

// Stop releases background resources
func (t *Telemetry) Stop() {
	t.StatsCollector.Stop()
}

func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
