package store

import (
	"context"
	"errors"
	"time"
)

// UntitledLabel is shown in place of an empty title.
const UntitledLabel = "Untitled"

type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DisplayTitle returns the title, or UntitledLabel when it is empty.
func (n Note) DisplayTitle() string {
	if n.Title == "" {
		return UntitledLabel
	}
	return n.Title
}

// Gateway is the persistence boundary of the note store. Both operations work on the
// full, ordered list of notes.
type Gateway interface {
	FetchAll(ctx context.Context) ([]Note, error)
	PersistAll(ctx context.Context, notes []Note) error
}

// HealthChecker is implemented by gateways that can report their availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// KeyValue is a synchronous string store used by the local fallback.
type KeyValue interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

var (
	ErrNoteNotFound = errors.New("note not found")
	ErrKeyNotFound  = errors.New("key not found")
)

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	EnableWAL       bool
}

// DefaultDatabaseConfig returns sensible defaults for database configuration
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: 5 * time.Minute,
		EnableWAL:       true,
	}
}

// StoreOptions configures store creation
type StoreOptions struct {
	Name     string
	BasePath string
	Config   DatabaseConfig
}

// DefaultStoreOptions returns sensible defaults for store creation
func DefaultStoreOptions(name string) StoreOptions {
	return StoreOptions{
		Name:   name,
		Config: DefaultDatabaseConfig(),
	}
}
