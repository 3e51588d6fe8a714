package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tunelog/internal/services"
	"github.com/desertthunder/tunelog/internal/shared"
)

// HistorySource is the streaming service the extractor reads from.
type HistorySource interface {
	RecentlyPlayed(ctx context.Context, after time.Time, limit int) ([]services.PlayHistoryItem, error)
	SeveralArtists(ctx context.Context, artistIDs []string) ([]services.SpotifyArtist, error)
}

// Extraction is the raw output of one [Extractor.Extract] call.
type Extraction struct {
	After   time.Time
	Items   []services.PlayHistoryItem
	Artists []services.SpotifyArtist
	// ArtistErr is set when the artist lookup failed and genres are missing from this extraction.
	ArtistErr error
}

// ExtractorOptions configures an [Extractor]. Zero values select the defaults.
type ExtractorOptions struct {
	Lookback  time.Duration
	PageLimit int
	Logger    *log.Logger
}

// Extractor pulls recent plays and their primary artists' details.
type Extractor struct {
	source    HistorySource
	lookback  time.Duration
	pageLimit int
	now       func() time.Time
	logger    *log.Logger
}

// NewExtractor creates an Extractor over source.
func NewExtractor(source HistorySource, opts ExtractorOptions) *Extractor {
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 50
	}
	return &Extractor{
		source:    source,
		lookback:  opts.Lookback,
		pageLimit: opts.PageLimit,
		now:       time.Now,
		logger:    shared.WithLogger(opts.Logger, "component", "extractor"),
	}
}

// Since returns the lower bound for the next extraction: the later of the lookback window start and the watermark.
func (e *Extractor) Since(watermark *time.Time) time.Time {
	after := e.now().Add(-e.lookback).UTC()
	if watermark != nil && watermark.After(after) {
		after = watermark.UTC()
	}
	return after
}

// Extract reads the plays after Since(watermark) and the details of every distinct primary artist.
//
// A failed play history read aborts the extraction. A failed artist lookup does not, unless it was
// rate limited or cancelled: the extraction carries on with empty genres.
func (e *Extractor) Extract(ctx context.Context, watermark *time.Time, progress chan<- ProgressUpdate) (*Extraction, error) {
	after := e.Since(watermark)
	sendProgress(progress, extractUpdate(shared.FormatTimestamp(after)))

	items, err := e.source.RecentlyPlayed(ctx, after, e.pageLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read play history: %w", err)
	}

	extraction := &Extraction{After: after, Items: items}

	ids := primaryArtistIDs(items)
	if len(ids) == 0 {
		return extraction, nil
	}

	sendProgress(progress, fetchArtistsUpdate(len(ids)))
	artists, err := e.source.SeveralArtists(ctx, ids)
	switch {
	case err == nil:
		extraction.Artists = artists
	case errors.Is(err, shared.ErrRateLimited) || ctx.Err() != nil:
		return nil, fmt.Errorf("failed to read artists: %w", err)
	default:
		e.logger.Warn("artist lookup failed, genres skipped", "artists", len(ids), "error", err)
		extraction.ArtistErr = err
	}

	e.logger.Info("extracted plays", "after", after, "items", len(items), "artists", len(extraction.Artists))
	return extraction, nil
}

// primaryArtistIDs returns the distinct first-listed artist ids in play order.
func primaryArtistIDs(items []services.PlayHistoryItem) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, item := range items {
		if item.Track == nil || len(item.Track.Artists) == 0 {
			continue
		}
		id := item.Track.Artists[0].ID
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
