// package models defines the data model for the listening-history store
package models

import (
	"time"
)

// PlayEvent is a single play of a track. PlayedAt is unique across the store.
type PlayEvent struct {
	PlayedAt time.Time
	TrackID  string
}

// Track holds song metadata. ISRC is empty when the source did not provide one.
type Track struct {
	ID              string
	SongName        string
	FeaturedArtists string // comma-joined names of the non-primary artists
	AlbumName       string
	ReleaseDate     string
	DurationSec     int
	ArtistID        string
	URL             string
	ISRC            string
}

// HasISRC reports whether the track can take part in enrichment.
func (t Track) HasISRC() bool {
	return t.ISRC != ""
}

// Artist is the primary artist of at least one track.
type Artist struct {
	ID   string
	Name string
}

// Genre is a set-like (artist, genre) pair.
type Genre struct {
	ArtistID string
	Genre    string
}

// EnrichmentRecord is the flat audio-feature row for a resolved ISRC.
//
// Feature fields are nil when the upstream payload did not carry them.
type EnrichmentRecord struct {
	ISRC                string
	MBID                string
	Danceability        *string
	Instrumentality     *string
	InstrumentalityProb *float64
	Gender              *string
	GenderProb          *float64
	Timbre              *string
	Tonality            *string
}

// FailedISRC records an ISRC the lookup API could not resolve.
type FailedISRC struct {
	ISRC        string
	LastAttempt time.Time
}

// InvalidMBID records an MBID the feature API had no data for.
type InvalidMBID struct {
	MBID        string
	ISRC        string
	LastAttempt time.Time
}

// RunKind names the stage(s) a [SyncRun] covered.
type RunKind string

const (
	RunKindSync   RunKind = "sync"
	RunKindEnrich RunKind = "enrich"
)

// RunStatus is the terminal state of a [SyncRun].
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// SyncRun is one recorded invocation of a pipeline stage.
type SyncRun struct {
	ID         string
	Kind       RunKind
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	Counts     RunCounts
	Error      string
}

// Duration returns how long the run took, or zero if it has not finished.
func (r SyncRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunCounts are the rows a run inserted per table, plus items it skipped.
type RunCounts struct {
	Plays        int
	Tracks       int
	Artists      int
	Genres       int
	Features     int
	FailedISRCs  int
	InvalidMBIDs int
	Skipped      int
}

// Total returns the number of rows inserted across all tables.
func (c RunCounts) Total() int {
	return c.Plays + c.Tracks + c.Artists + c.Genres + c.Features + c.FailedISRCs + c.InvalidMBIDs
}
