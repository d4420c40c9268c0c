// Package sqlite provides an on-device relationships.Store backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/illmade-knight/panic-signal/pkg/relationships"
	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5 * time.Second

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS relationship_flags (
		category TEXT NOT NULL,
		responder_id TEXT NOT NULL,
		value INTEGER NOT NULL,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (category, responder_id)
	)`,
}

const upsertFlag = `
	INSERT INTO relationship_flags (category, responder_id, value, updated_at)
	VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(category, responder_id) DO UPDATE SET
		value = excluded.value,
		updated_at = CURRENT_TIMESTAMP`

// RelationshipStore is a concrete implementation of the relationships.Store
// interface using SQLite. Every write is committed with synchronous=FULL before
// it returns.
type RelationshipStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*RelationshipStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("relationships: open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("relationships: apply %q: %w", p, err)
		}
	}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("relationships: apply schema: %w", err)
		}
	}
	return &RelationshipStore{db: db}, nil
}

// Close releases the database handle.
func (s *RelationshipStore) Close() error {
	return s.db.Close()
}

// SetFlag upserts a flag value.
func (s *RelationshipStore) SetFlag(ctx context.Context, category relationships.Category, id string, value bool) error {
	if err := relationships.ValidateCategory(category); err != nil {
		return err
	}
	if err := relationships.ValidateIdentifier(id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, upsertFlag, string(category), id, boolToInt(value))
	if err != nil {
		return fmt.Errorf("relationships: set %s flag for %s: %w", category, id, err)
	}
	return nil
}

// SetFlags upserts value for every id in a single transaction.
func (s *RelationshipStore) SetFlags(ctx context.Context, category relationships.Category, ids []string, value bool) (err error) {
	if err := relationships.ValidateCategory(category); err != nil {
		return err
	}
	if err := relationships.ValidateIdentifiers(ids); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("relationships: begin %s batch: %w", category, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertFlag)
	if err != nil {
		return fmt.Errorf("relationships: prepare %s batch: %w", category, err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err = stmt.ExecContext(ctx, string(category), id, boolToInt(value)); err != nil {
			return fmt.Errorf("relationships: set %s flag for %s: %w", category, id, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("relationships: commit %s batch: %w", category, err)
	}
	return nil
}

// GetFlag returns a flag value, false when absent.
func (s *RelationshipStore) GetFlag(ctx context.Context, category relationships.Category, id string) (bool, error) {
	if err := relationships.ValidateCategory(category); err != nil {
		return false, err
	}
	var value int
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM relationship_flags WHERE category = ? AND responder_id = ?`,
		string(category), id).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("relationships: get %s flag for %s: %w", category, id, err)
	}
	return value != 0, nil
}

// ListSet returns the identifiers set to true, sorted.
func (s *RelationshipStore) ListSet(ctx context.Context, category relationships.Category) ([]string, error) {
	if err := relationships.ValidateCategory(category); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT responder_id FROM relationship_flags WHERE category = ? AND value = 1 ORDER BY responder_id`,
		string(category))
	if err != nil {
		return nil, fmt.Errorf("relationships: list %s: %w", category, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("relationships: scan %s: %w", category, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("relationships: list %s: %w", category, err)
	}
	return ids, nil
}

// HasAnyEntry reports whether the category has any row, true or false.
func (s *RelationshipStore) HasAnyEntry(ctx context.Context, category relationships.Category) (bool, error) {
	if err := relationships.ValidateCategory(category); err != nil {
		return false, err
	}
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM relationship_flags WHERE category = ?)`,
		string(category)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("relationships: check %s: %w", category, err)
	}
	return exists == 1, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
