package tasks

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tunelog/internal/services"
	"github.com/desertthunder/tunelog/internal/shared"
)

// ISRCLookup resolves an ISRC to candidate MBIDs.
type ISRCLookup interface {
	LookupISRC(ctx context.Context, isrc string) services.LookupResult
}

// Resolution is the output of one [Resolver.Resolve] pass.
type Resolution struct {
	// Candidates holds one MBID per resolved ISRC in input order. Two ISRCs resolving to the same MBID both appear.
	Candidates []string
	// Failed holds ISRCs with no match. They become negative-cache entries.
	Failed []string
	// MBIDToISRC and ISRCToMBID link candidates to their ISRC. On collision the last ISRC wins.
	MBIDToISRC map[string]string
	ISRCToMBID map[string]string
	Items      []ItemOutcome
}

func newResolution() *Resolution {
	return &Resolution{MBIDToISRC: map[string]string{}, ISRCToMBID: map[string]string{}}
}

// Resolver maps unclassified ISRCs to MBIDs, taking the first match the lookup API lists.
type Resolver struct {
	lookup   ISRCLookup
	observer Observer
	logger   *log.Logger
}

// NewResolver creates a Resolver. observer may be nil.
func NewResolver(lookup ISRCLookup, observer Observer, logger *log.Logger) *Resolver {
	return &Resolver{lookup: lookup, observer: observer, logger: shared.WithLogger(logger, "component", "resolver")}
}

// Resolve looks up every ISRC in order.
//
// A lookup with no match or a 404 marks the ISRC failed. Any other error skips it for this run.
// A rate-limited lookup or a cancelled context stops the pass: the partial resolution is returned with the error.
func (r *Resolver) Resolve(ctx context.Context, isrcs []string, progress chan<- ProgressUpdate) (*Resolution, error) {
	res := newResolution()
	total := len(isrcs)

	for i, isrc := range isrcs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		result := r.lookup.LookupISRC(ctx, isrc)
		item := ItemOutcome{Stage: StageResolve, Key: isrc, Err: result.Err}

		switch result.Outcome {
		case services.OutcomeSuccess:
			if len(result.MBIDs) == 0 {
				item.Status = StatusNegative
				res.Failed = append(res.Failed, isrc)
				break
			}
			mbid := result.MBIDs[0]
			item.Status = StatusResolved
			res.Candidates = append(res.Candidates, mbid)
			res.MBIDToISRC[mbid] = isrc
			res.ISRCToMBID[isrc] = mbid
		case services.OutcomeNotFound:
			item.Status = StatusNegative
			res.Failed = append(res.Failed, isrc)
		case services.OutcomeRateLimited:
			item.Status = StatusSkipped
			r.record(res, item, progress, i+1, total)
			return res, fmt.Errorf("resolve %s: %w", isrc, result.Err)
		default:
			if err := ctx.Err(); err != nil {
				return res, err
			}
			item.Status = StatusSkipped
			r.logger.Warn("isrc lookup failed, retrying next run", "isrc", isrc, "error", result.Err)
		}

		r.record(res, item, progress, i+1, total)
	}

	r.logger.Info("resolved isrcs",
		"total", total,
		"resolved", CountStatus(res.Items, StatusResolved),
		"failed", CountStatus(res.Items, StatusNegative),
		"skipped", CountStatus(res.Items, StatusSkipped))
	return res, nil
}

func (r *Resolver) record(res *Resolution, item ItemOutcome, progress chan<- ProgressUpdate, step, total int) {
	res.Items = append(res.Items, item)
	observeItem(r.observer, item)
	sendProgress(progress, itemUpdate(ResolveISRCs, step, total, item))
}
