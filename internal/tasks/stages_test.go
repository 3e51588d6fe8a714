package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/tunelog/internal/services"
	"github.com/desertthunder/tunelog/internal/shared"
)

type fakeLookup struct {
	results map[string]services.LookupResult
	calls   []string
}

func (f *fakeLookup) LookupISRC(ctx context.Context, isrc string) services.LookupResult {
	f.calls = append(f.calls, isrc)
	if r, ok := f.results[isrc]; ok {
		r.ISRC = isrc
		return r
	}
	return services.LookupResult{ISRC: isrc, Outcome: services.OutcomeNotFound, Err: shared.ErrAPIRequest}
}

type fakeFeatures struct {
	results map[string]services.FeatureResult
	calls   map[string]int
}

func newFakeFeatures(results map[string]services.FeatureResult) *fakeFeatures {
	return &fakeFeatures{results: results, calls: map[string]int{}}
}

func (f *fakeFeatures) HighLevel(ctx context.Context, mbid string) services.FeatureResult {
	f.calls[mbid]++
	if r, ok := f.results[mbid]; ok {
		r.MBID = mbid
		return r
	}
	return services.FeatureResult{MBID: mbid, Outcome: services.OutcomeNotFound, Err: shared.ErrAPIRequest}
}

type recordingTaskObserver struct {
	mu    sync.Mutex
	items map[string]int
	rows  map[string]int
	runs  []string
}

func newRecordingTaskObserver() *recordingTaskObserver {
	return &recordingTaskObserver{items: map[string]int{}, rows: map[string]int{}}
}

func (o *recordingTaskObserver) ObserveItem(stage, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items[stage+"/"+status]++
}

func (o *recordingTaskObserver) ObserveRows(table string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rows[table] += n
}

func (o *recordingTaskObserver) ObserveRun(kind, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, kind+"/"+status)
}

func success(mbids ...string) services.LookupResult {
	return services.LookupResult{Outcome: services.OutcomeSuccess, MBIDs: mbids}
}

func payloadResult() services.FeatureResult {
	return services.FeatureResult{
		Outcome: services.OutcomeSuccess,
		Payload: &services.HighLevel{Features: map[string]*services.HighLevelFeature{
			"danceability": {Value: "danceable"},
		}},
	}
}

func rateLimited(name string) error {
	return fmt.Errorf("%w: %s", shared.ErrRateLimited, name)
}

func TestResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("Matches And Failures", func(t *testing.T) {
		lookup := &fakeLookup{results: map[string]services.LookupResult{
			"ISRC_A": success("mbid_a"),
			"ISRC_B": success(),
		}}
		observer := newRecordingTaskObserver()

		res, err := NewResolver(lookup, observer, nil).Resolve(ctx, []string{"ISRC_A", "ISRC_B"}, nil)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}

		if len(res.Candidates) != 1 || res.Candidates[0] != "mbid_a" {
			t.Errorf("Candidates = %v, want [mbid_a]", res.Candidates)
		}
		if len(res.Failed) != 1 || res.Failed[0] != "ISRC_B" {
			t.Errorf("Failed = %v, want [ISRC_B]", res.Failed)
		}
		if res.MBIDToISRC["mbid_a"] != "ISRC_A" || res.ISRCToMBID["ISRC_A"] != "mbid_a" {
			t.Errorf("unexpected mappings: %v %v", res.MBIDToISRC, res.ISRCToMBID)
		}
		if observer.items["resolve/resolved"] != 1 || observer.items["resolve/negative"] != 1 {
			t.Errorf("unexpected observed items: %v", observer.items)
		}
	})

	t.Run("First Listed Match Wins", func(t *testing.T) {
		lookup := &fakeLookup{results: map[string]services.LookupResult{
			"ISRC_A": success("first", "second", "third"),
		}}
		resolver := NewResolver(lookup, nil, nil)

		for range 3 {
			res, err := resolver.Resolve(ctx, []string{"ISRC_A"}, nil)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if res.Candidates[0] != "first" {
				t.Fatalf("expected first match, got %s", res.Candidates[0])
			}
		}
	})

	t.Run("Not Found Is Negative", func(t *testing.T) {
		lookup := &fakeLookup{}

		res, err := NewResolver(lookup, nil, nil).Resolve(ctx, []string{"ISRC_X"}, nil)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if len(res.Failed) != 1 || res.Items[0].Status != StatusNegative {
			t.Errorf("expected a negative outcome, got %+v", res.Items)
		}
	})

	t.Run("Unknown Error Is Skipped", func(t *testing.T) {
		lookup := &fakeLookup{results: map[string]services.LookupResult{
			"ISRC_A": {Outcome: services.OutcomeUnknown, Err: errors.New("boom")},
			"ISRC_B": success("mbid_b"),
		}}

		res, err := NewResolver(lookup, nil, nil).Resolve(ctx, []string{"ISRC_A", "ISRC_B"}, nil)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if len(res.Failed) != 0 {
			t.Errorf("unknown errors must not be negative cached, got %v", res.Failed)
		}
		if len(res.Candidates) != 1 || res.Candidates[0] != "mbid_b" {
			t.Errorf("Candidates = %v", res.Candidates)
		}
		if CountStatus(res.Items, StatusSkipped) != 1 {
			t.Errorf("expected 1 skipped item, got %+v", res.Items)
		}
	})

	t.Run("Rate Limit Stops The Pass", func(t *testing.T) {
		lookup := &fakeLookup{results: map[string]services.LookupResult{
			"ISRC_A": success("mbid_a"),
			"ISRC_B": {Outcome: services.OutcomeRateLimited, Err: rateLimited("musicbrainz")},
			"ISRC_C": success("mbid_c"),
		}}

		res, err := NewResolver(lookup, nil, nil).Resolve(ctx, []string{"ISRC_A", "ISRC_B", "ISRC_C"}, nil)
		if !errors.Is(err, shared.ErrRateLimited) {
			t.Fatalf("expected ErrRateLimited, got %v", err)
		}
		if len(res.Candidates) != 1 {
			t.Errorf("expected partial result, got %v", res.Candidates)
		}
		if len(lookup.calls) != 2 {
			t.Errorf("expected the pass to stop after ISRC_B, calls = %v", lookup.calls)
		}
	})

	t.Run("Cancelled Context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := NewResolver(&fakeLookup{}, nil, nil).Resolve(cctx, []string{"ISRC_A"}, nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("Reports Progress", func(t *testing.T) {
		lookup := &fakeLookup{results: map[string]services.LookupResult{"ISRC_A": success("mbid_a")}}
		progress := make(chan ProgressUpdate, 10)

		if _, err := NewResolver(lookup, nil, nil).Resolve(ctx, []string{"ISRC_A", "ISRC_B"}, progress); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		close(progress)

		var updates []ProgressUpdate
		for u := range progress {
			updates = append(updates, u)
		}
		if len(updates) != 2 {
			t.Fatalf("expected 2 updates, got %d", len(updates))
		}
		if updates[1].Phase != ResolveISRCs || updates[1].Step != 2 || updates[1].Total != 2 {
			t.Errorf("unexpected update: %+v", updates[1])
		}
		if _, ok := updates[0].Data.(ItemOutcome); !ok {
			t.Errorf("expected ItemOutcome data, got %T", updates[0].Data)
		}
	})
}

func TestFeatureFetcher(t *testing.T) {
	ctx := context.Background()

	t.Run("Fetches Each MBID Once", func(t *testing.T) {
		source := newFakeFeatures(map[string]services.FeatureResult{"m1": payloadResult()})

		set, err := NewFeatureFetcher(source, time.Minute, nil, nil).Fetch(ctx, []string{"m1", "", "m1", "m2", "m2"}, nil)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}

		if source.calls["m1"] != 1 || source.calls["m2"] != 1 {
			t.Errorf("expected one call per mbid, got %v", source.calls)
		}
		if _, ok := source.calls[""]; ok {
			t.Error("empty mbid should not be fetched")
		}
		if set.Payloads["m1"] == nil {
			t.Error("expected a payload for m1")
		}
		if len(set.Invalid) != 1 || set.Invalid[0] != "m2" {
			t.Errorf("Invalid = %v, want [m2]", set.Invalid)
		}
	})

	t.Run("Memoises Settled Outcomes", func(t *testing.T) {
		source := newFakeFeatures(map[string]services.FeatureResult{"m1": payloadResult()})
		fetcher := NewFeatureFetcher(source, time.Minute, nil, nil)

		set, err := fetcher.Fetch(ctx, []string{"m1", "m2", "m1", "m2"}, nil)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}

		if source.calls["m1"] != 1 || source.calls["m2"] != 1 {
			t.Errorf("expected repeats answered from the memo, got %v", source.calls)
		}
		if len(set.Items) != 4 {
			t.Fatalf("expected one item per candidate, got %d", len(set.Items))
		}
		if CountStatus(set.Items, StatusResolved) != 2 || CountStatus(set.Items, StatusNegative) != 2 {
			t.Errorf("unexpected statuses: %+v", set.Items)
		}
		if len(set.Invalid) != 1 {
			t.Errorf("Invalid = %v, want [m2]", set.Invalid)
		}

		if _, err := fetcher.Fetch(ctx, []string{"m1", "m2"}, nil); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if source.calls["m1"] != 1 || source.calls["m2"] != 1 {
			t.Errorf("expected a later pass to reuse the memo, got %v", source.calls)
		}
	})

	t.Run("Repeated Unknown Failure Is Retried", func(t *testing.T) {
		source := newFakeFeatures(map[string]services.FeatureResult{
			"m1": {Outcome: services.OutcomeUnknown, Err: errors.New("boom")},
		})

		set, err := NewFeatureFetcher(source, time.Minute, nil, nil).Fetch(ctx, []string{"m1", "m1"}, nil)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if source.calls["m1"] != 2 {
			t.Errorf("expected 2 calls, got %d", source.calls["m1"])
		}
		if CountStatus(set.Items, StatusSkipped) != 2 {
			t.Errorf("expected 2 skipped items, got %+v", set.Items)
		}
	})

	t.Run("Unknown Errors Are Not Memoised", func(t *testing.T) {
		source := newFakeFeatures(map[string]services.FeatureResult{
			"m1": {Outcome: services.OutcomeUnknown, Err: errors.New("boom")},
		})
		fetcher := NewFeatureFetcher(source, time.Minute, nil, nil)

		for range 2 {
			set, err := fetcher.Fetch(ctx, []string{"m1"}, nil)
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if len(set.Invalid) != 0 || CountStatus(set.Items, StatusSkipped) != 1 {
				t.Errorf("expected a skipped outcome, got %+v", set.Items)
			}
		}

		if source.calls["m1"] != 2 {
			t.Errorf("expected 2 calls, got %d", source.calls["m1"])
		}
	})

	t.Run("Rate Limit Stops The Pass", func(t *testing.T) {
		source := newFakeFeatures(map[string]services.FeatureResult{
			"m1": payloadResult(),
			"m2": {Outcome: services.OutcomeRateLimited, Err: rateLimited("acousticbrainz")},
			"m3": payloadResult(),
		})
		observer := newRecordingTaskObserver()

		set, err := NewFeatureFetcher(source, time.Minute, observer, nil).Fetch(ctx, []string{"m1", "m2", "m3"}, nil)
		if !errors.Is(err, shared.ErrRateLimited) {
			t.Fatalf("expected ErrRateLimited, got %v", err)
		}
		if len(set.Payloads) != 1 {
			t.Errorf("expected partial payloads, got %d", len(set.Payloads))
		}
		if source.calls["m3"] != 0 {
			t.Error("m3 should not be fetched after the rate limit")
		}
		if observer.items["features/skipped"] != 1 || observer.items["features/resolved"] != 1 {
			t.Errorf("unexpected observed items: %v", observer.items)
		}
	})
}

type fakeHistory struct {
	items     []services.PlayHistoryItem
	artists   []services.SpotifyArtist
	err       error
	artistErr error
	after     time.Time
	artistIDs []string
	limit     int
	calls     int
}

func (f *fakeHistory) RecentlyPlayed(ctx context.Context, after time.Time, limit int) ([]services.PlayHistoryItem, error) {
	f.calls++
	f.after = after
	f.limit = limit
	return f.items, f.err
}

func (f *fakeHistory) SeveralArtists(ctx context.Context, artistIDs []string) ([]services.SpotifyArtist, error) {
	f.artistIDs = artistIDs
	return f.artists, f.artistErr
}

func TestExtractor(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)

	newExtractor := func(source HistorySource) *Extractor {
		e := NewExtractor(source, ExtractorOptions{Lookback: 24 * time.Hour, PageLimit: 20})
		e.now = func() time.Time { return now }
		return e
	}

	t.Run("Since", func(t *testing.T) {
		e := newExtractor(&fakeHistory{})
		windowStart := now.Add(-24 * time.Hour)

		if got := e.Since(nil); !got.Equal(windowStart) {
			t.Errorf("Since(nil) = %v, want %v", got, windowStart)
		}

		old := now.Add(-48 * time.Hour)
		if got := e.Since(&old); !got.Equal(windowStart) {
			t.Errorf("Since(old) = %v, want %v", got, windowStart)
		}

		recent := now.Add(-time.Hour)
		if got := e.Since(&recent); !got.Equal(recent) {
			t.Errorf("Since(recent) = %v, want %v", got, recent)
		}
	})

	t.Run("Fetches Distinct Primary Artists", func(t *testing.T) {
		source := &fakeHistory{
			items: []services.PlayHistoryItem{
				{PlayedAt: "2024-03-02T10:00:00Z", Track: track("t1", "I1", artist("a1", "A"), artist("a9", "Guest"))},
				{PlayedAt: "2024-03-02T10:05:00Z", Track: track("t2", "I2", artist("a1", "A"))},
				{PlayedAt: "2024-03-02T10:10:00Z", Track: track("t3", "I3", artist("a2", "B"))},
				{PlayedAt: "2024-03-02T10:15:00Z"},
			},
			artists: []services.SpotifyArtist{{ID: "a1", Genres: []string{"rock"}}},
		}

		extraction, err := newExtractor(source).Extract(ctx, nil, nil)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}

		if fmt.Sprint(source.artistIDs) != "[a1 a2]" {
			t.Errorf("artist ids = %v, want [a1 a2]", source.artistIDs)
		}
		if source.limit != 20 {
			t.Errorf("limit = %d, want 20", source.limit)
		}
		if len(extraction.Items) != 4 || len(extraction.Artists) != 1 {
			t.Errorf("unexpected extraction: %+v", extraction)
		}
	})

	t.Run("History Error Aborts", func(t *testing.T) {
		source := &fakeHistory{err: shared.ErrAPIRequest}

		if _, err := newExtractor(source).Extract(ctx, nil, nil); !errors.Is(err, shared.ErrAPIRequest) {
			t.Errorf("expected ErrAPIRequest, got %v", err)
		}
	})

	t.Run("Artist Error Leaves Genres Empty", func(t *testing.T) {
		source := &fakeHistory{
			items:     []services.PlayHistoryItem{{PlayedAt: "2024-03-02T10:00:00Z", Track: track("t1", "I1", artist("a1", "A"))}},
			artistErr: shared.ErrAPIRequest,
		}

		extraction, err := newExtractor(source).Extract(ctx, nil, nil)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if extraction.ArtistErr == nil || len(extraction.Artists) != 0 {
			t.Errorf("expected artist error and no artists, got %+v", extraction)
		}
	})

	t.Run("Rate Limited Artist Lookup Aborts", func(t *testing.T) {
		source := &fakeHistory{
			items:     []services.PlayHistoryItem{{PlayedAt: "2024-03-02T10:00:00Z", Track: track("t1", "I1", artist("a1", "A"))}},
			artistErr: rateLimited("spotify"),
		}

		if _, err := newExtractor(source).Extract(ctx, nil, nil); !errors.Is(err, shared.ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, got %v", err)
		}
	})
}
