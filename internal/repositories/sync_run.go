package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/tunelog/internal/models"
	"github.com/desertthunder/tunelog/internal/shared"
)

// SyncRunRepository records one row per pipeline stage invocation.
type SyncRunRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSyncRunRepository creates a new SyncRunRepository with the given database connection
func NewSyncRunRepository(db *sql.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db, now: time.Now}
}

// Start inserts a running [models.SyncRun] of the given kind with a generated ID.
func (r *SyncRunRepository) Start(ctx context.Context, kind models.RunKind) (*models.SyncRun, error) {
	run := &models.SyncRun{
		ID:        shared.GenerateID(),
		Kind:      kind,
		Status:    models.RunStatusRunning,
		StartedAt: r.now().UTC(),
	}

	query := `
		INSERT INTO sync_runs (id, kind, status, started_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query, run.ID, string(run.Kind), string(run.Status), shared.FormatTimestamp(run.StartedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert sync run: %w", err)
	}

	return run, nil
}

// Finish stores the terminal status, counts and error of run. A nil runErr marks the run succeeded.
func (r *SyncRunRepository) Finish(ctx context.Context, run *models.SyncRun, runErr error) error {
	finished := r.now().UTC()
	run.FinishedAt = &finished
	run.Status = models.RunStatusSucceeded
	run.Error = ""
	if runErr != nil {
		run.Status = models.RunStatusFailed
		run.Error = runErr.Error()
	}

	query := `
		UPDATE sync_runs
		SET status = ?, finished_at = ?, plays_inserted = ?, tracks_inserted = ?,
			artists_inserted = ?, genres_inserted = ?, features_inserted = ?,
			failed_isrcs_inserted = ?, invalid_mbids_inserted = ?, items_skipped = ?,
			error_message = ?
		WHERE id = ?
	`

	c := run.Counts
	result, err := r.db.ExecContext(ctx, query,
		string(run.Status),
		shared.FormatTimestamp(finished),
		c.Plays,
		c.Tracks,
		c.Artists,
		c.Genres,
		c.Features,
		c.FailedISRCs,
		c.InvalidMBIDs,
		c.Skipped,
		nullString(run.Error),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("sync run not found: %s", run.ID)
	}

	return nil
}

const syncRunColumns = `
	id, kind, status, started_at, finished_at, plays_inserted, tracks_inserted,
	artists_inserted, genres_inserted, features_inserted, failed_isrcs_inserted,
	invalid_mbids_inserted, items_skipped, error_message
`

// Get retrieves a sync run by ID.
func (r *SyncRunRepository) Get(ctx context.Context, id string) (*models.SyncRun, error) {
	query := `SELECT ` + syncRunColumns + ` FROM sync_runs WHERE id = ?`

	run, err := scanSyncRun(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sync run not found: %s", id)
	}
	return run, err
}

// List returns the most recent runs first, optionally restricted to one kind. A limit of zero returns every run.
func (r *SyncRunRepository) List(ctx context.Context, kind models.RunKind, limit int) ([]*models.SyncRun, error) {
	query := `SELECT ` + syncRunColumns + ` FROM sync_runs`
	args := []any{}

	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, string(kind))
	}

	query += " ORDER BY started_at DESC, rowid DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanSyncRun scans a single row into a [models.SyncRun]. [sql.ErrNoRows] is returned unwrapped.
func scanSyncRun(row scanner) (*models.SyncRun, error) {
	var (
		run          models.SyncRun
		kind, status string
		startedAt    string
		finishedAt   sql.NullString
		errorMessage sql.NullString
	)

	err := row.Scan(
		&run.ID, &kind, &status, &startedAt, &finishedAt,
		&run.Counts.Plays, &run.Counts.Tracks, &run.Counts.Artists, &run.Counts.Genres,
		&run.Counts.Features, &run.Counts.FailedISRCs, &run.Counts.InvalidMBIDs,
		&run.Counts.Skipped, &errorMessage,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync run: %w", err)
	}

	run.Kind = models.RunKind(kind)
	run.Status = models.RunStatus(status)
	run.Error = errorMessage.String

	if run.StartedAt, err = shared.ParseTimestamp(startedAt); err != nil {
		return nil, err
	}
	if run.FinishedAt, err = parseNullTimestamp(finishedAt); err != nil {
		return nil, err
	}

	return &run, nil
}
