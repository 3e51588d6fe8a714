package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tunelog/internal/services"
	"github.com/desertthunder/tunelog/internal/shared"
	"github.com/patrickmn/go-cache"
)

// FeatureSource fetches the feature payload for an MBID.
type FeatureSource interface {
	HighLevel(ctx context.Context, mbid string) services.FeatureResult
}

// FeatureSet is the output of one [FeatureFetcher.Fetch] pass.
type FeatureSet struct {
	Payloads map[string]*services.HighLevel
	// Invalid holds MBIDs with no feature data, each listed once.
	Invalid []string
	Items   []ItemOutcome
}

// FeatureFetcher retrieves feature payloads for candidate MBIDs.
//
// Settled outcomes (a payload or a 404) are memoised per MBID. A candidate listed again,
// in the same pass or a later one within the ttl, is answered from the memo.
// Unknown failures are never memoised.
type FeatureFetcher struct {
	source   FeatureSource
	memo     *cache.Cache
	observer Observer
	logger   *log.Logger
}

// NewFeatureFetcher creates a FeatureFetcher whose memo entries live for ttl. observer may be nil.
func NewFeatureFetcher(source FeatureSource, ttl time.Duration, observer Observer, logger *log.Logger) *FeatureFetcher {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &FeatureFetcher{
		source:   source,
		memo:     cache.New(ttl, 2*ttl),
		observer: observer,
		logger:   shared.WithLogger(logger, "component", "features"),
	}
}

// Fetch fetches every non-empty MBID. Candidates share MBIDs when several ISRCs resolve to one
// recording; repeats are answered from the memo and produce one item each.
//
// A 404 marks the MBID invalid. Any other error skips it for this run.
// A rate-limited fetch or a cancelled context stops the pass and returns the partial set with the error.
func (f *FeatureFetcher) Fetch(ctx context.Context, mbids []string, progress chan<- ProgressUpdate) (*FeatureSet, error) {
	set := &FeatureSet{Payloads: map[string]*services.HighLevel{}}
	invalid := make(map[string]struct{})

	var queue []string
	for _, mbid := range mbids {
		if mbid != "" {
			queue = append(queue, mbid)
		}
	}

	total := len(queue)
	memoised := 0
	for i, mbid := range queue {
		if err := ctx.Err(); err != nil {
			return set, err
		}

		result, hit := f.fetch(ctx, mbid)
		if hit {
			memoised++
		}
		item := ItemOutcome{Stage: StageFeatures, Key: mbid, Err: result.Err}

		switch result.Outcome {
		case services.OutcomeSuccess:
			item.Status = StatusResolved
			set.Payloads[mbid] = result.Payload
		case services.OutcomeNotFound:
			item.Status = StatusNegative
			if _, ok := invalid[mbid]; !ok {
				invalid[mbid] = struct{}{}
				set.Invalid = append(set.Invalid, mbid)
			}
		case services.OutcomeRateLimited:
			item.Status = StatusSkipped
			f.record(set, item, progress, i+1, total)
			return set, fmt.Errorf("features %s: %w", mbid, result.Err)
		default:
			if err := ctx.Err(); err != nil {
				return set, err
			}
			item.Status = StatusSkipped
			f.logger.Warn("feature fetch failed, retrying next run", "mbid", mbid, "error", result.Err)
		}

		f.record(set, item, progress, i+1, total)
	}

	f.logger.Info("fetched features",
		"total", total,
		"fetched", len(set.Payloads),
		"invalid", len(set.Invalid),
		"memoised", memoised,
		"skipped", CountStatus(set.Items, StatusSkipped))
	return set, nil
}

// fetch reports whether the result came from the memo.
func (f *FeatureFetcher) fetch(ctx context.Context, mbid string) (services.FeatureResult, bool) {
	if cached, ok := f.memo.Get(mbid); ok {
		return cached.(services.FeatureResult), true
	}

	result := f.source.HighLevel(ctx, mbid)
	if result.Outcome == services.OutcomeSuccess || result.Outcome == services.OutcomeNotFound {
		f.memo.SetDefault(mbid, result)
	}
	return result, false
}

func (f *FeatureFetcher) record(set *FeatureSet, item ItemOutcome, progress chan<- ProgressUpdate, step, total int) {
	set.Items = append(set.Items, item)
	observeItem(f.observer, item)
	sendProgress(progress, itemUpdate(FetchFeatures, step, total, item))
}
