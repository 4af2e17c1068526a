package constants

import "time"

// Application-wide constants
const (
	// Health check configuration
	MaxHealthCheckRetries    = 10
	HealthCheckRetryInterval = 200 * time.Millisecond
	HealthCheckTimeout       = 5 * time.Second

	// Server configuration
	DefaultPort             = "8080"
	GracefulShutdownTimeout = 5 * time.Second

	// Note defaults
	DefaultNoteTitle = "New Note"

	// Persistence
	DefaultMaxPendingWrites = 64
	DefaultFlushTimeout     = 5 * time.Second

	// Typing simulator configuration
	MillisecondsPerMinute = 60000
	SimulatorStartDelay   = 100 * time.Millisecond

	// Telemetry configuration
	DefaultLogBufferSize = 1000
	DefaultStatsInterval = 2 * time.Second
)

// Storage names
const (
	HostDatabaseName = "notes"
	LocalStoreDir    = "local"
)
