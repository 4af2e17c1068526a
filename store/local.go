package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// NotesKey is the fixed key the local fallback stores its blob under.
const NotesKey = "notes"

// FileKeyValue stores each key as <dir>/<key>.json on fs.
type FileKeyValue struct {
	fs  afero.Fs
	dir string
	mu  sync.Mutex
}

var _ KeyValue = (*FileKeyValue)(nil)

func NewFileKeyValue(fs afero.Fs, dir string) *FileKeyValue {
	return &FileKeyValue{fs: fs, dir: dir}
}

func (kv *FileKeyValue) path(key string) string {
	return filepath.Join(kv.dir, key+".json")
}

func (kv *FileKeyValue) Get(key string) (string, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	data, err := afero.ReadFile(kv.fs, kv.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return string(data), nil
}

func (kv *FileKeyValue) Set(key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if err := WriteFileAtomic(kv.fs, kv.path(key), []byte(value)); err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// LocalGateway serializes the whole note list as one JSON blob in a KeyValue store.
// A missing or unreadable blob loads as an empty list.
type LocalGateway struct {
	kv     KeyValue
	logger *slog.Logger
}

var _ Gateway = (*LocalGateway)(nil)

func NewLocalGateway(kv KeyValue, logger *slog.Logger) *LocalGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalGateway{kv: kv, logger: logger}
}

func (g *LocalGateway) FetchAll(ctx context.Context) ([]Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	blob, err := g.kv.Get(NotesKey)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return []Note{}, nil
		}
		return nil, err
	}

	var notes []Note
	if err := json.Unmarshal([]byte(blob), &notes); err != nil {
		g.logger.Warn("Discarding unreadable local notes blob", "key", NotesKey, "error", err)
		return []Note{}, nil
	}
	if notes == nil {
		notes = []Note{}
	}
	return notes, nil
}

func (g *LocalGateway) PersistAll(ctx context.Context, notes []Note) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if notes == nil {
		notes = []Note{}
	}

	blob, err := json.Marshal(notes)
	if err != nil {
		return fmt.Errorf("failed to marshal notes: %w", err)
	}
	return g.kv.Set(NotesKey, string(blob))
}
