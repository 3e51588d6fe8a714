// package repositories provides the persistence layer for the listening-history store.
//
// Every write path runs inside one transaction and deduplicates against persisted keys before inserting.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/tunelog/internal/shared"
)

// LoadError reports which table a failed load was writing when it rolled back.
//
// It matches [shared.ErrLoadFailed] and the underlying driver error with [errors.Is].
type LoadError struct {
	Table string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%v: %s: %v", shared.ErrLoadFailed, e.Table, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{shared.ErrLoadFailed, e.Err}
}

func loadError(table string, err error) error {
	return &LoadError{Table: table, Err: err}
}

// withTx runs fn in a transaction, committing only if fn succeeds.
//
// fn must use tx for every statement: an in-memory store has a single connection.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return loadError("transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return loadError("commit", err)
	}
	return nil
}

// keySet reads the single-column result of query into a set.
func keySet(ctx context.Context, tx *sql.Tx, query string, args ...any) (map[string]struct{}, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys[key] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return keys, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// parseNullTimestamp parses a nullable stored timestamp.
func parseNullTimestamp(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := shared.ParseTimestamp(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// IsLoadError reports whether err came from a rolled-back load and returns the table it failed on.
func IsLoadError(err error) (string, bool) {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Table, true
	}
	return "", false
}
