// Package stats keeps the running count of generated images in SQLite.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const imageCountKey = "image_count"

// Counter is a set of named integer counters stored in one SQLite table.
type Counter struct {
	db *sql.DB
}

// Open opens or creates the counter database at path. An empty path keeps
// the counters in memory for the life of the process.
func Open(path string) (*Counter, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	} else if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create stats directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps an in-memory
	// database alive.
	db.SetMaxOpenConns(1)

	if path != "" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS counters (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Counter{db: db}, nil
}

// Close closes the database connection.
func (c *Counter) Close() error {
	return c.db.Close()
}

// Incr adds one to the named counter and returns the new value.
func (c *Counter) Incr(ctx context.Context, name string) (int64, error) {
	var value int64
	err := c.db.QueryRowContext(ctx,
		`INSERT INTO counters (name, value) VALUES (?, 1)
		 ON CONFLICT(name) DO UPDATE SET value = value + 1
		 RETURNING value`,
		name,
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", name, err)
	}
	return value, nil
}

// Get returns the named counter, zero when it was never incremented.
func (c *Counter) Get(ctx context.Context, name string) (int64, error) {
	var value int64
	err := c.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", name, err)
	}
	return value, nil
}

// IncrImages records one freshly generated image.
func (c *Counter) IncrImages(ctx context.Context) (int64, error) {
	return c.Incr(ctx, imageCountKey)
}

// Images returns the number of generated images.
func (c *Counter) Images(ctx context.Context) (int64, error) {
	return c.Get(ctx, imageCountKey)
}
