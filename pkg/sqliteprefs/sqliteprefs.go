// Package sqliteprefs provides a settings store backed by an SQLite database.
//
// All namespaces share the table settings(namespace, key, value). The pure Go
// driver modernc.org/sqlite is used, so no cgo toolchain is required. Since
// SQLite serializes writers, multiple processes may safely share one database
// file.
package sqliteprefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/tus/doctree/pkg/bridge"
)

type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the database at path and creates the settings
// table if needed. Use ":memory:" for a database which lives only as long as
// the store.
func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqliteprefs: open database: %w", err)
	}
	// Every connection to :memory: would open its own, empty database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqliteprefs: set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqliteprefs: migrate database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			namespace TEXT NOT NULL,
			key       TEXT NOT NULL,
			value     TEXT NOT NULL,
			PRIMARY KEY (namespace, key)
		)
	`)
	return err
}

// UseIn sets this store as the settings store in the passed composer.
func (store *SQLiteStore) UseIn(composer *bridge.Composer) {
	composer.UseSettings(store)
}

// Close closes the underlying database connection.
func (store *SQLiteStore) Close() error {
	return store.db.Close()
}

func (store *SQLiteStore) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	var value string
	err := store.db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE namespace = ? AND key = ?", namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqliteprefs: get %s/%s: %w", namespace, key, err)
	}

	return value, true, nil
}

func (store *SQLiteStore) Set(ctx context.Context, namespace, key, value string) error {
	_, err := store.db.ExecContext(ctx, `
		INSERT INTO settings (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value
	`, namespace, key, value)
	if err != nil {
		return fmt.Errorf("sqliteprefs: set %s/%s: %w", namespace, key, err)
	}

	return nil
}
