package tasks

import (
	"math"
	"strings"

	"github.com/desertthunder/tunelog/internal/models"
	"github.com/desertthunder/tunelog/internal/services"
	"github.com/desertthunder/tunelog/internal/shared"
)

// PlayRecord is the canonical form of one play history item.
type PlayRecord struct {
	Play   models.PlayEvent
	Track  models.Track
	Artist *models.Artist // nil when the track has no artists
}

// TransformPlay maps one play history item. It returns a diagnostic instead of a record
// when the item has no track id or an unparseable timestamp.
func TransformPlay(item services.PlayHistoryItem) (PlayRecord, *Diagnostic) {
	if item.Track == nil || item.Track.ID == "" {
		return PlayRecord{}, &Diagnostic{Key: item.PlayedAt, Reason: "play item has no track id"}
	}

	playedAt, err := shared.ParseTimestamp(item.PlayedAt)
	if err != nil {
		return PlayRecord{}, &Diagnostic{Key: item.Track.ID, Reason: err.Error()}
	}

	t := item.Track
	rec := PlayRecord{
		Play: models.PlayEvent{PlayedAt: playedAt, TrackID: t.ID},
		Track: models.Track{
			ID:          t.ID,
			SongName:    t.Name,
			AlbumName:   t.Album.Name,
			ReleaseDate: t.Album.ReleaseDate,
			DurationSec: int(math.Round(float64(t.DurationMS) / 1000)),
			URL:         t.ExternalURLs.Spotify,
			ISRC:        t.ExternalIDs.ISRC,
		},
	}

	if len(t.Artists) > 0 {
		primary := t.Artists[0]
		rec.Track.ArtistID = primary.ID
		if primary.ID != "" {
			rec.Artist = &models.Artist{ID: primary.ID, Name: primary.Name}
		}

		featured := make([]string, 0, len(t.Artists)-1)
		for _, a := range t.Artists[1:] {
			featured = append(featured, a.Name)
		}
		rec.Track.FeaturedArtists = strings.Join(featured, ", ")
	}

	return rec, nil
}

// TransformPlays maps play history items and artist details into a [models.PlayBatch].
//
// Rows keep the order of items. Genres come from artists and are emitted once per primary artist.
// Keys repeated across items are left for the loader to deduplicate.
func TransformPlays(items []services.PlayHistoryItem, artists []services.SpotifyArtist) (models.PlayBatch, []Diagnostic) {
	genres := make(map[string][]string, len(artists))
	for _, a := range artists {
		genres[a.ID] = a.Genres
	}

	var (
		batch       models.PlayBatch
		diagnostics []Diagnostic
		genresDone  = make(map[string]struct{})
	)

	for _, item := range items {
		rec, diag := TransformPlay(item)
		if diag != nil {
			diagnostics = append(diagnostics, *diag)
			continue
		}

		batch.Plays = append(batch.Plays, rec.Play)
		batch.Tracks = append(batch.Tracks, rec.Track)

		if rec.Artist == nil {
			continue
		}
		batch.Artists = append(batch.Artists, *rec.Artist)

		if _, ok := genresDone[rec.Artist.ID]; ok {
			continue
		}
		genresDone[rec.Artist.ID] = struct{}{}
		for _, g := range genres[rec.Artist.ID] {
			if g != "" {
				batch.Genres = append(batch.Genres, models.Genre{ArtistID: rec.Artist.ID, Genre: g})
			}
		}
	}

	return batch, diagnostics
}

// FeatureInput gathers the resolver and feature fetcher outputs for [TransformFeatures].
type FeatureInput struct {
	Candidates []string
	Payloads   map[string]*services.HighLevel
	MBIDToISRC map[string]string
	Failed     []string
	Invalid    []string
}

// TransformFeatures builds one feature record per distinct candidate MBID.
//
// A candidate is dropped with a diagnostic when it cannot be mapped back to an ISRC, when it or its ISRC
// is in the invalid or failed set, or when no payload was fetched for it this run.
func TransformFeatures(in FeatureInput) ([]models.EnrichmentRecord, []Diagnostic) {
	failed := toSet(in.Failed)
	invalid := toSet(in.Invalid)
	seen := make(map[string]struct{}, len(in.Candidates))

	var (
		records     []models.EnrichmentRecord
		diagnostics []Diagnostic
	)

	for _, mbid := range in.Candidates {
		if mbid == "" {
			continue
		}
		if _, ok := seen[mbid]; ok {
			continue
		}
		seen[mbid] = struct{}{}

		isrc, ok := in.MBIDToISRC[mbid]
		switch {
		case !ok || isrc == "":
			diagnostics = append(diagnostics, Diagnostic{Key: mbid, Reason: "mbid does not map to an isrc"})
			continue
		case contains(invalid, mbid):
			diagnostics = append(diagnostics, Diagnostic{Key: mbid, Reason: "mbid has no feature data"})
			continue
		case contains(failed, isrc):
			diagnostics = append(diagnostics, Diagnostic{Key: mbid, Reason: "isrc failed to resolve"})
			continue
		}

		payload := in.Payloads[mbid]
		if payload == nil {
			diagnostics = append(diagnostics, Diagnostic{Key: mbid, Reason: "no feature payload fetched this run"})
			continue
		}

		records = append(records, FeatureRecord(isrc, mbid, payload))
	}

	return records, diagnostics
}

// FeatureRecord flattens a high-level payload. Missing classifiers map to nil fields.
func FeatureRecord(isrc, mbid string, payload *services.HighLevel) models.EnrichmentRecord {
	rec := models.EnrichmentRecord{ISRC: isrc, MBID: mbid}

	if f := payload.Feature("danceability"); f != nil {
		rec.Danceability = value(f)
	}
	if f := payload.Feature("voice_instrumental"); f != nil {
		rec.Instrumentality = value(f)
		rec.InstrumentalityProb = f.Probability
	}
	if f := payload.Feature("gender"); f != nil {
		rec.Gender = value(f)
		rec.GenderProb = f.Probability
	}
	if f := payload.Feature("timbre"); f != nil {
		rec.Timbre = value(f)
	}
	if f := payload.Feature("tonal_atonal"); f != nil {
		rec.Tonality = value(f)
	}

	return rec
}

func value(f *services.HighLevelFeature) *string {
	if f.Value == "" {
		return nil
	}
	v := f.Value
	return &v
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
