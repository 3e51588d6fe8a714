package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StoreStats summarises the contents of the store.
type StoreStats struct {
	Plays        int
	Tracks       int
	Artists      int
	Genres       int
	Features     int
	FailedISRCs  int
	InvalidMBIDs int
	Pending      int
	Watermark    *time.Time
}

// StoreRepository answers the read-side questions the pipeline asks before each stage.
type StoreRepository struct {
	db *sql.DB
}

// NewStoreRepository creates a new StoreRepository with the given database connection
func NewStoreRepository(db *sql.DB) *StoreRepository {
	return &StoreRepository{db: db}
}

// pendingISRCsQuery selects track ISRCs not yet classified by any enrichment table.
const pendingISRCsQuery = `
	SELECT DISTINCT t.isrc
	FROM tracks t
	LEFT JOIN track_features f ON f.isrc = t.isrc
	LEFT JOIN failed_isrcs fi ON fi.isrc = t.isrc
	LEFT JOIN invalid_mbids im ON im.isrc = t.isrc
	WHERE t.isrc IS NOT NULL AND t.isrc <> ''
		AND f.isrc IS NULL
		AND fi.isrc IS NULL
		AND im.isrc IS NULL
	ORDER BY t.isrc
`

// Watermark returns the latest persisted play time, or nil when no play is stored.
func (r *StoreRepository) Watermark(ctx context.Context) (*time.Time, error) {
	var ns sql.NullString
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(played_at) FROM plays`).Scan(&ns); err != nil {
		return nil, fmt.Errorf("failed to read watermark: %w", err)
	}
	return parseNullTimestamp(ns)
}

func watermarkTx(ctx context.Context, tx *sql.Tx) (*time.Time, error) {
	var ns sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT MAX(played_at) FROM plays`).Scan(&ns); err != nil {
		return nil, fmt.Errorf("failed to read watermark: %w", err)
	}
	return parseNullTimestamp(ns)
}

// PendingISRCs returns the ISRCs that have no feature record, failed lookup or invalid MBID yet.
func (r *StoreRepository) PendingISRCs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, pendingISRCsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending isrcs: %w", err)
	}
	defer rows.Close()

	var isrcs []string
	for rows.Next() {
		var isrc string
		if err := rows.Scan(&isrc); err != nil {
			return nil, fmt.Errorf("failed to scan isrc: %w", err)
		}
		isrcs = append(isrcs, isrc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return isrcs, nil
}

// Stats counts the rows of every table.
func (r *StoreRepository) Stats(ctx context.Context) (*StoreStats, error) {
	var stats StoreStats

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM plays`, &stats.Plays},
		{`SELECT COUNT(*) FROM tracks`, &stats.Tracks},
		{`SELECT COUNT(*) FROM artists`, &stats.Artists},
		{`SELECT COUNT(*) FROM genres`, &stats.Genres},
		{`SELECT COUNT(*) FROM track_features`, &stats.Features},
		{`SELECT COUNT(*) FROM failed_isrcs`, &stats.FailedISRCs},
		{`SELECT COUNT(*) FROM invalid_mbids`, &stats.InvalidMBIDs},
		{`SELECT COUNT(*) FROM (` + pendingISRCsQuery + `)`, &stats.Pending},
	}

	for _, c := range counts {
		if err := r.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count rows: %w", err)
		}
	}

	watermark, err := r.Watermark(ctx)
	if err != nil {
		return nil, err
	}
	stats.Watermark = watermark

	return &stats, nil
}
