package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tunelog/internal/models"
	"github.com/desertthunder/tunelog/internal/shared"
)

// PlayLoadResult counts what one [Loader.LoadPlays] call inserted and dropped.
type PlayLoadResult struct {
	Watermark      *time.Time // latest persisted play before the load, nil for an empty store
	Plays          int
	Tracks         int
	Artists        int
	Genres         int
	BelowWatermark int // plays at or before the watermark, dropped permanently
	Duplicates     int // rows already persisted or repeated within the batch
}

// Counts converts the result into per-table run counts.
func (r PlayLoadResult) Counts() models.RunCounts {
	return models.RunCounts{Plays: r.Plays, Tracks: r.Tracks, Artists: r.Artists, Genres: r.Genres}
}

// EnrichmentLoadResult counts what one [Loader.LoadEnrichment] call inserted and dropped.
type EnrichmentLoadResult struct {
	Features     int
	FailedISRCs  int
	InvalidMBIDs int
	Duplicates   int // rows already persisted, repeated within the batch or conflicting with the other cache
	Unmapped     int // invalid MBIDs with no ISRC to attribute them to
}

// Add sums two results.
func (r EnrichmentLoadResult) Add(other EnrichmentLoadResult) EnrichmentLoadResult {
	return EnrichmentLoadResult{
		Features:     r.Features + other.Features,
		FailedISRCs:  r.FailedISRCs + other.FailedISRCs,
		InvalidMBIDs: r.InvalidMBIDs + other.InvalidMBIDs,
		Duplicates:   r.Duplicates + other.Duplicates,
		Unmapped:     r.Unmapped + other.Unmapped,
	}
}

// Counts converts the result into per-table run counts.
func (r EnrichmentLoadResult) Counts() models.RunCounts {
	return models.RunCounts{Features: r.Features, FailedISRCs: r.FailedISRCs, InvalidMBIDs: r.InvalidMBIDs}
}

// Loader merges transformed batches into the store.
//
// Each call is one transaction: the dedup reads and the inserts they guard see the same snapshot,
// and any failure rolls back every table the call touched. The store assumes a single writer.
type Loader struct {
	db     *sql.DB
	now    func() time.Time
	logger *log.Logger
}

// NewLoader creates a Loader over an open, migrated database.
func NewLoader(db *sql.DB, logger *log.Logger) *Loader {
	return &Loader{db: db, now: time.Now, logger: shared.WithLogger(logger, "component", "loader")}
}

// SetClock replaces the clock used to stamp negative-cache rows.
func (l *Loader) SetClock(now func() time.Time) {
	l.now = now
}

// LoadPlays inserts the plays newer than the persisted watermark together with their tracks, primary artists
// and genres that are not yet stored.
//
// Plays at or before the watermark are dropped without error, and so is every track, artist and genre only
// they referenced. New plays are inserted in ascending time order. Within the batch the first occurrence of a key wins.
func (l *Loader) LoadPlays(ctx context.Context, batch models.PlayBatch) (PlayLoadResult, error) {
	var result PlayLoadResult

	if err := validatePlayBatch(batch); err != nil {
		return result, err
	}

	err := withTx(ctx, l.db, func(tx *sql.Tx) error {
		watermark, err := watermarkTx(ctx, tx)
		if err != nil {
			return loadError("plays", err)
		}
		result.Watermark = watermark

		kept, err := l.insertPlays(ctx, tx, batch.Plays, watermark, &result)
		if err != nil {
			return loadError("plays", err)
		}

		scoped := scopeToTracks(batch, kept)
		if err := l.insertTracks(ctx, tx, scoped.Tracks, &result); err != nil {
			return loadError("tracks", err)
		}
		if err := l.insertArtists(ctx, tx, scoped.Artists, &result); err != nil {
			return loadError("artists", err)
		}
		if err := l.insertGenres(ctx, tx, scoped.Genres, &result); err != nil {
			return loadError("genres", err)
		}
		return nil
	})
	if err != nil {
		l.logger.Error("play load rolled back", "error", err)
		return PlayLoadResult{}, err
	}

	l.logger.Info("loaded plays",
		"plays", result.Plays, "tracks", result.Tracks, "artists", result.Artists, "genres", result.Genres,
		"below_watermark", result.BelowWatermark, "duplicates", result.Duplicates)
	return result, nil
}

func validatePlayBatch(batch models.PlayBatch) error {
	for _, p := range batch.Plays {
		if p.TrackID == "" || p.PlayedAt.IsZero() {
			return fmt.Errorf("%w: play without track id or timestamp", shared.ErrInvalidBatch)
		}
	}
	for _, t := range batch.Tracks {
		if t.ID == "" {
			return fmt.Errorf("%w: track without id", shared.ErrInvalidBatch)
		}
	}
	for _, a := range batch.Artists {
		if a.ID == "" {
			return fmt.Errorf("%w: artist without id", shared.ErrInvalidBatch)
		}
	}
	for _, g := range batch.Genres {
		if g.ArtistID == "" || g.Genre == "" {
			return fmt.Errorf("%w: genre without artist id or name", shared.ErrInvalidBatch)
		}
	}
	return nil
}

// scopeToTracks drops the tracks not in kept, the artists not credited as primary on a kept track,
// and the genres of dropped artists.
func scopeToTracks(batch models.PlayBatch, kept map[string]struct{}) models.PlayBatch {
	scoped := models.PlayBatch{Plays: batch.Plays}

	artists := make(map[string]struct{})
	for _, t := range batch.Tracks {
		if _, ok := kept[t.ID]; !ok {
			continue
		}
		scoped.Tracks = append(scoped.Tracks, t)
		if t.ArtistID != "" {
			artists[t.ArtistID] = struct{}{}
		}
	}
	for _, a := range batch.Artists {
		if _, ok := artists[a.ID]; ok {
			scoped.Artists = append(scoped.Artists, a)
		}
	}
	for _, g := range batch.Genres {
		if _, ok := artists[g.ArtistID]; ok {
			scoped.Genres = append(scoped.Genres, g)
		}
	}
	return scoped
}

// insertPlays inserts the plays above the watermark and returns the track ids they reference.
func (l *Loader) insertPlays(ctx context.Context, tx *sql.Tx, plays []models.PlayEvent, watermark *time.Time, result *PlayLoadResult) (map[string]struct{}, error) {
	var floor string
	if watermark != nil {
		floor = shared.FormatTimestamp(*watermark)
	}

	type row struct {
		playedAt string
		trackID  string
	}

	seen := make(map[string]struct{}, len(plays))
	rows := make([]row, 0, len(plays))
	for _, p := range plays {
		key := shared.FormatTimestamp(p.PlayedAt)
		if watermark != nil && key <= floor {
			result.BelowWatermark++
			continue
		}
		if _, ok := seen[key]; ok {
			result.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		rows = append(rows, row{playedAt: key, trackID: p.TrackID})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].playedAt < rows[j].playedAt })

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO plays (played_at, track_id) VALUES (?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	kept := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.playedAt, r.trackID); err != nil {
			return nil, fmt.Errorf("failed to insert play %s: %w", r.playedAt, err)
		}
		kept[r.trackID] = struct{}{}
		result.Plays++
	}
	return kept, nil
}

func (l *Loader) insertTracks(ctx context.Context, tx *sql.Tx, tracks []models.Track, result *PlayLoadResult) error {
	persisted, err := keySet(ctx, tx, `SELECT track_id FROM tracks`)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tracks (
			track_id, song_name, featured_artists, album_name, release_date,
			duration_sec, artist_id, url, isrc
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range tracks {
		if _, ok := persisted[t.ID]; ok {
			result.Duplicates++
			continue
		}
		persisted[t.ID] = struct{}{}

		_, err := stmt.ExecContext(ctx,
			t.ID,
			t.SongName,
			t.FeaturedArtists,
			t.AlbumName,
			t.ReleaseDate,
			t.DurationSec,
			nullString(t.ArtistID),
			t.URL,
			nullString(t.ISRC),
		)
		if err != nil {
			return fmt.Errorf("failed to insert track %s: %w", t.ID, err)
		}
		result.Tracks++
	}
	return nil
}

func (l *Loader) insertArtists(ctx context.Context, tx *sql.Tx, artists []models.Artist, result *PlayLoadResult) error {
	persisted, err := keySet(ctx, tx, `SELECT artist_id FROM artists`)
	if err != nil {
		return err
	}

	for _, a := range artists {
		if _, ok := persisted[a.ID]; ok {
			result.Duplicates++
			continue
		}
		persisted[a.ID] = struct{}{}

		if _, err := tx.ExecContext(ctx, `INSERT INTO artists (artist_id, artist_name) VALUES (?, ?)`, a.ID, a.Name); err != nil {
			return fmt.Errorf("failed to insert artist %s: %w", a.ID, err)
		}
		result.Artists++
	}
	return nil
}

func (l *Loader) insertGenres(ctx context.Context, tx *sql.Tx, genres []models.Genre, result *PlayLoadResult) error {
	persisted, err := keySet(ctx, tx, `SELECT artist_id || '|' || genre FROM genres`)
	if err != nil {
		return err
	}

	for _, g := range genres {
		key := g.ArtistID + "|" + g.Genre
		if _, ok := persisted[key]; ok {
			result.Duplicates++
			continue
		}
		persisted[key] = struct{}{}

		if _, err := tx.ExecContext(ctx, `INSERT INTO genres (artist_id, genre) VALUES (?, ?)`, g.ArtistID, g.Genre); err != nil {
			return fmt.Errorf("failed to insert genre %s/%s: %w", g.ArtistID, g.Genre, err)
		}
		result.Genres++
	}
	return nil
}

// LoadEnrichment inserts new feature records and negative-cache entries.
//
// A feature record is skipped when its MBID or ISRC is already stored, or its ISRC is already a failed lookup.
// A failed ISRC is skipped when it is already failed or enriched. An invalid MBID is only written when it maps
// back to an ISRC. Negative-cache rows are stamped with the loader clock.
func (l *Loader) LoadEnrichment(ctx context.Context, batch models.EnrichmentBatch) (EnrichmentLoadResult, error) {
	var result EnrichmentLoadResult

	for _, f := range batch.Features {
		if f.ISRC == "" || f.MBID == "" {
			return result, fmt.Errorf("%w: feature record without isrc or mbid", shared.ErrInvalidBatch)
		}
	}

	stamp := shared.FormatTimestamp(l.now())

	err := withTx(ctx, l.db, func(tx *sql.Tx) error {
		enriched, err := l.insertFeatures(ctx, tx, batch.Features, &result)
		if err != nil {
			return loadError("track_features", err)
		}
		if err := l.insertFailedISRCs(ctx, tx, batch.FailedISRCs, enriched, stamp, &result); err != nil {
			return loadError("failed_isrcs", err)
		}
		if err := l.insertInvalidMBIDs(ctx, tx, batch.InvalidMBIDs, batch.MBIDToISRC, stamp, &result); err != nil {
			return loadError("invalid_mbids", err)
		}
		return nil
	})
	if err != nil {
		l.logger.Error("enrichment load rolled back", "error", err)
		return EnrichmentLoadResult{}, err
	}

	l.logger.Info("loaded enrichment",
		"features", result.Features, "failed_isrcs", result.FailedISRCs, "invalid_mbids", result.InvalidMBIDs,
		"duplicates", result.Duplicates, "unmapped", result.Unmapped)
	return result, nil
}

// insertFeatures returns the set of ISRCs that hold a feature record after the insert.
func (l *Loader) insertFeatures(ctx context.Context, tx *sql.Tx, features []models.EnrichmentRecord, result *EnrichmentLoadResult) (map[string]struct{}, error) {
	mbids, err := keySet(ctx, tx, `SELECT mbid FROM track_features WHERE mbid IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	isrcs, err := keySet(ctx, tx, `SELECT isrc FROM track_features`)
	if err != nil {
		return nil, err
	}
	failed, err := keySet(ctx, tx, `SELECT isrc FROM failed_isrcs`)
	if err != nil {
		return nil, err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO track_features (
			isrc, mbid, danceability, instrumentality, instrumentality_prob,
			gender, gender_prob, timbre, tonality
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for _, f := range features {
		_, mbidSeen := mbids[f.MBID]
		_, isrcSeen := isrcs[f.ISRC]
		_, isFailed := failed[f.ISRC]
		if mbidSeen || isrcSeen || isFailed {
			result.Duplicates++
			continue
		}
		mbids[f.MBID] = struct{}{}
		isrcs[f.ISRC] = struct{}{}

		_, err := stmt.ExecContext(ctx,
			f.ISRC,
			f.MBID,
			f.Danceability,
			f.Instrumentality,
			f.InstrumentalityProb,
			f.Gender,
			f.GenderProb,
			f.Timbre,
			f.Tonality,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert features for %s: %w", f.ISRC, err)
		}
		result.Features++
	}
	return isrcs, nil
}

func (l *Loader) insertFailedISRCs(ctx context.Context, tx *sql.Tx, isrcs []string, enriched map[string]struct{}, stamp string, result *EnrichmentLoadResult) error {
	persisted, err := keySet(ctx, tx, `SELECT isrc FROM failed_isrcs`)
	if err != nil {
		return err
	}

	for _, isrc := range isrcs {
		if isrc == "" {
			continue
		}
		_, isFailed := persisted[isrc]
		_, isEnriched := enriched[isrc]
		if isFailed || isEnriched {
			result.Duplicates++
			continue
		}
		persisted[isrc] = struct{}{}

		if _, err := tx.ExecContext(ctx, `INSERT INTO failed_isrcs (isrc, last_attempt) VALUES (?, ?)`, isrc, stamp); err != nil {
			return fmt.Errorf("failed to insert failed isrc %s: %w", isrc, err)
		}
		result.FailedISRCs++
	}
	return nil
}

func (l *Loader) insertInvalidMBIDs(ctx context.Context, tx *sql.Tx, mbids []string, mbidToISRC map[string]string, stamp string, result *EnrichmentLoadResult) error {
	persisted, err := keySet(ctx, tx, `SELECT mbid FROM invalid_mbids`)
	if err != nil {
		return err
	}

	for _, mbid := range mbids {
		if mbid == "" {
			continue
		}
		isrc, ok := mbidToISRC[mbid]
		if !ok || isrc == "" {
			l.logger.Warn("invalid mbid has no isrc, not recorded", "mbid", mbid)
			result.Unmapped++
			continue
		}
		if _, ok := persisted[mbid]; ok {
			result.Duplicates++
			continue
		}
		persisted[mbid] = struct{}{}

		if _, err := tx.ExecContext(ctx, `INSERT INTO invalid_mbids (mbid, isrc, last_attempt) VALUES (?, ?, ?)`, mbid, isrc, stamp); err != nil {
			return fmt.Errorf("failed to insert invalid mbid %s: %w", mbid, err)
		}
		result.InvalidMBIDs++
	}
	return nil
}
