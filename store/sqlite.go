package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brunoscheufler/notepad/util"
	_ "modernc.org/sqlite"
)

// SQLiteGateway keeps the ordered note list in a single SQLite table. It backs the
// host storage API.
type SQLiteGateway struct {
	db *sql.DB
}

var _ Gateway = (*SQLiteGateway)(nil)

func NewSQLiteGateway(opts StoreOptions) (*SQLiteGateway, error) {
	db, err := createSQLiteDatabaseWithPath(opts.Name, opts.BasePath, opts.Config)
	if err != nil {
		return nil, fmt.Errorf("could not create sqlite db: %w", err)
	}

	if err := createNotesTable(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create notes table: %w", err)
	}

	return &SQLiteGateway{db}, nil
}

func (s *SQLiteGateway) FetchAll(ctx context.Context) ([]Note, error) {
	query := `SELECT id, title, content, updated_at FROM notes ORDER BY position`

	var rows *sql.Rows
	err := util.Retry(ctx, defaultRetryConfig, func(ctx context.Context) error {
		var queryErr error
		rows, queryErr = s.db.QueryContext(ctx, query)
		return queryErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	notes := []Note{}
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return notes, nil
}

// PersistAll replaces the stored list with notes in a single transaction.
func (s *SQLiteGateway) PersistAll(ctx context.Context, notes []Note) error {
	err := util.Retry(ctx, defaultRetryConfig, func(ctx context.Context) error {
		return s.replaceAll(ctx, notes)
	})
	if err != nil {
		return fmt.Errorf("failed to persist notes: %w", err)
	}
	return nil
}

func (s *SQLiteGateway) replaceAll(ctx context.Context, notes []Note) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notes`); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO notes (id, position, title, content, updated_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, note := range notes {
		if _, err := stmt.ExecContext(ctx, note.ID, i, note.Title, note.Content, note.UpdatedAt.UnixMilli()); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteGateway) GetNote(ctx context.Context, id string) (*Note, error) {
	query := `SELECT id, title, content, updated_at FROM notes WHERE id = ?`

	var note Note
	err := util.Retry(ctx, defaultRetryConfig, func(ctx context.Context) error {
		var scanErr error
		note, scanErr = scanNote(s.db.QueryRowContext(ctx, query, id))
		return scanErr
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoteNotFound
		}
		return nil, fmt.Errorf("failed to get note: %w", err)
	}

	return &note, nil
}

func (s *SQLiteGateway) CountNotes(ctx context.Context) (int, error) {
	var count int
	err := util.Retry(ctx, defaultRetryConfig, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", err)
	}
	return count, nil
}

func (s *SQLiteGateway) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteGateway) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (Note, error) {
	var note Note
	var updatedAtMillis int64
	if err := row.Scan(&note.ID, &note.Title, &note.Content, &updatedAtMillis); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Note{}, err
		}
		return Note{}, fmt.Errorf("failed to scan note: %w", err)
	}
	note.UpdatedAt = time.UnixMilli(updatedAtMillis).UTC()
	return note, nil
}

func createNotesTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`

	_, err := db.Exec(query)
	return err
}

func createSQLiteDatabaseWithPath(name, basePath string, config DatabaseConfig) (*sql.DB, error) {
	var dir string
	if basePath != "" {
		dir = filepath.Join(basePath, ".data")
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("could not get working directory: %w", err)
		}
		dir = filepath.Join(wd, ".data")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("could not create data dir: %w", err)
	}

	file := filepath.Join(dir, fmt.Sprintf("%s.db", name))

	dsn := fmt.Sprintf("file:%s", file)
	if config.EnableWAL {
		// https://www.sqlite.org/pragma.html#pragma_journal_mode
		// https://www.sqlite.org/pragma.html#pragma_busy_timeout
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open sqlite db: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	return db, nil
}

// isSQLiteBusyError checks if an error is a SQLite BUSY error that should be retried
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

var defaultRetryConfig = util.RetryConfig{
	MaxRetries:      5,
	BaseDelay:       10 * time.Millisecond,
	MaxDelay:        1 * time.Second,
	ShouldRetryFunc: isSQLiteBusyError,
}
