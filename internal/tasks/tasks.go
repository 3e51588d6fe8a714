// package tasks implements the listening-history pipeline: extract, resolve, fetch features, transform and load.
//
// The core abstraction is PipelineEngine, which sequences the stages of a sync or enrich run.
// Operations emit progress updates via channels for non-blocking status reporting to the CLI layer.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tunelog/internal/models"
	"github.com/desertthunder/tunelog/internal/repositories"
	"github.com/desertthunder/tunelog/internal/shared"
)

// Store answers the read-side questions asked before each stage.
type Store interface {
	Watermark(ctx context.Context) (*time.Time, error)
	PendingISRCs(ctx context.Context) ([]string, error)
}

// Loader merges transformed batches into the store.
type Loader interface {
	LoadPlays(ctx context.Context, batch models.PlayBatch) (repositories.PlayLoadResult, error)
	LoadEnrichment(ctx context.Context, batch models.EnrichmentBatch) (repositories.EnrichmentLoadResult, error)
}

// RunRecorder persists the history of pipeline runs.
type RunRecorder interface {
	Start(ctx context.Context, kind models.RunKind) (*models.SyncRun, error)
	Finish(ctx context.Context, run *models.SyncRun, runErr error) error
}

// SyncResult contains everything one sync run produced.
type SyncResult struct {
	Run         *models.SyncRun
	After       time.Time // lower bound the plays were requested from
	Items       int       // play items returned by the streaming service
	Diagnostics []Diagnostic
	Load        repositories.PlayLoadResult
}

// EnrichResult contains everything one enrich run produced.
type EnrichResult struct {
	Run         *models.SyncRun
	Pending     int
	Resolution  *Resolution
	Features    *FeatureSet
	Diagnostics []Diagnostic
	Load        repositories.EnrichmentLoadResult
}

// Items returns the per-item outcomes of both enrichment stages.
func (r *EnrichResult) Items() []ItemOutcome {
	var items []ItemOutcome
	if r.Resolution != nil {
		items = append(items, r.Resolution.Items...)
	}
	if r.Features != nil {
		items = append(items, r.Features.Items...)
	}
	return items
}

// RunResult pairs the sync and enrich results of [PipelineEngine.Run]. Enrich is nil when the sync failed.
type RunResult struct {
	Sync   *SyncResult
	Enrich *EnrichResult
}

// Engine defines the pipeline operations.
type Engine interface {
	// Sync pulls recent plays, transforms them and loads every row newer than the watermark.
	Sync(ctx context.Context, progress chan<- ProgressUpdate) (*SyncResult, error)

	// Enrich resolves unclassified ISRCs, fetches their features and loads the results with the negative caches.
	Enrich(ctx context.Context, progress chan<- ProgressUpdate) (*EnrichResult, error)

	// Run performs Sync then Enrich. A failed sync skips the enrich stage.
	Run(ctx context.Context, progress chan<- ProgressUpdate) (*RunResult, error)
}

// EngineDeps lists the collaborators of a [PipelineEngine]. Runs and Observer may be nil.
type EngineDeps struct {
	Extractor *Extractor
	Resolver  *Resolver
	Features  *FeatureFetcher
	Store     Store
	Loader    Loader
	Runs      RunRecorder
	Observer  Observer
	Logger    *log.Logger
}

// PipelineEngine implements [Engine] over an explicitly injected store connection and API clients.
type PipelineEngine struct {
	extractor *Extractor
	resolver  *Resolver
	features  *FeatureFetcher
	store     Store
	loader    Loader
	runs      RunRecorder
	observer  Observer
	logger    *log.Logger
}

// NewPipelineEngine creates a new PipelineEngine with the provided dependencies.
func NewPipelineEngine(deps EngineDeps) *PipelineEngine {
	return &PipelineEngine{
		extractor: deps.Extractor,
		resolver:  deps.Resolver,
		features:  deps.Features,
		store:     deps.Store,
		loader:    deps.Loader,
		runs:      deps.Runs,
		observer:  deps.Observer,
		logger:    shared.WithLogger(deps.Logger, "component", "pipeline"),
	}
}

// Sync performs one play sync run.
//
// Play items without a track id or timestamp are skipped with a diagnostic. A failed watermark read,
// history read or load fails the run and nothing from it is persisted.
func (e *PipelineEngine) Sync(ctx context.Context, progress chan<- ProgressUpdate) (*SyncResult, error) {
	if e.extractor == nil || e.store == nil || e.loader == nil {
		return nil, fmt.Errorf("%w: sync pipeline not initialized", shared.ErrServiceUnavailable)
	}

	run, err := e.start(ctx, models.RunKindSync)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Run: run}
	err = e.sync(ctx, progress, result)
	run.Counts = result.Load.Counts()
	run.Counts.Skipped = len(result.Diagnostics)

	return result, e.finish(ctx, run, err)
}

func (e *PipelineEngine) sync(ctx context.Context, progress chan<- ProgressUpdate, result *SyncResult) error {
	watermark, err := e.store.Watermark(ctx)
	if err != nil {
		return err
	}

	extraction, err := e.extractor.Extract(ctx, watermark, progress)
	if err != nil {
		return err
	}
	result.After = extraction.After
	result.Items = len(extraction.Items)

	batch, diagnostics := TransformPlays(extraction.Items, extraction.Artists)
	result.Diagnostics = diagnostics
	for _, d := range diagnostics {
		e.logger.Warn("skipped play item", "key", d.Key, "reason", d.Reason)
		observeItem(e.observer, ItemOutcome{Stage: StageExtract, Key: d.Key, Status: StatusSkipped})
	}
	for _, p := range batch.Plays {
		observeItem(e.observer, ItemOutcome{Stage: StageExtract, Key: p.TrackID, Status: StatusResolved})
	}
	sendProgress(progress, transformPlaysUpdate(len(extraction.Items), len(diagnostics)))

	if batch.Empty() {
		sendProgress(progress, loadUpdate(LoadPlays, 0))
		return nil
	}

	load, err := e.loader.LoadPlays(ctx, batch)
	if err != nil {
		return err
	}
	result.Load = load

	counts := load.Counts()
	sendProgress(progress, loadUpdate(LoadPlays, counts.Total()))
	e.logger.Info("loaded plays",
		"plays", load.Plays,
		"tracks", load.Tracks,
		"artists", load.Artists,
		"genres", load.Genres,
		"below_watermark", load.BelowWatermark,
		"duplicates", load.Duplicates)
	return nil
}

// Enrich performs one enrichment run over every ISRC not yet classified.
//
// Unknown per-item failures are skipped and retried next run. A rate-limited or cancelled stage fails
// the run and its partial results are fetched again next time. ISRCs the resolve stage marked failed
// are loaded before features are fetched, so they survive a feature stage abort.
func (e *PipelineEngine) Enrich(ctx context.Context, progress chan<- ProgressUpdate) (*EnrichResult, error) {
	if e.resolver == nil || e.features == nil || e.store == nil || e.loader == nil {
		return nil, fmt.Errorf("%w: enrich pipeline not initialized", shared.ErrServiceUnavailable)
	}

	run, err := e.start(ctx, models.RunKindEnrich)
	if err != nil {
		return nil, err
	}

	result := &EnrichResult{Run: run}
	err = e.enrich(ctx, progress, result)
	run.Counts = result.Load.Counts()
	run.Counts.Skipped = CountStatus(result.Items(), StatusSkipped)

	return result, e.finish(ctx, run, err)
}

func (e *PipelineEngine) enrich(ctx context.Context, progress chan<- ProgressUpdate, result *EnrichResult) error {
	pending, err := e.store.PendingISRCs(ctx)
	if err != nil {
		return err
	}
	result.Pending = len(pending)
	sendProgress(progress, pendingUpdate(len(pending)))

	if len(pending) == 0 {
		return nil
	}

	resolution, err := e.resolver.Resolve(ctx, pending, progress)
	result.Resolution = resolution
	if err != nil {
		return err
	}

	// Settled failures are persisted before the feature stage can abort.
	if len(resolution.Failed) > 0 {
		load, err := e.loader.LoadEnrichment(ctx, models.EnrichmentBatch{FailedISRCs: resolution.Failed})
		if err != nil {
			return err
		}
		result.Load = result.Load.Add(load)
		e.logger.Debug("loaded failed isrcs", "failed_isrcs", load.FailedISRCs, "duplicates", load.Duplicates)
	}

	set, err := e.features.Fetch(ctx, resolution.Candidates, progress)
	result.Features = set
	if err != nil {
		return err
	}

	records, diagnostics := TransformFeatures(FeatureInput{
		Candidates: resolution.Candidates,
		Payloads:   set.Payloads,
		MBIDToISRC: resolution.MBIDToISRC,
		Failed:     resolution.Failed,
		Invalid:    set.Invalid,
	})
	result.Diagnostics = diagnostics
	for _, d := range diagnostics {
		e.logger.Debug("dropped feature candidate", "mbid", d.Key, "reason", d.Reason)
	}
	sendProgress(progress, transformFeaturesUpdate(len(records), len(diagnostics)))

	batch := models.EnrichmentBatch{
		Features:     records,
		InvalidMBIDs: set.Invalid,
		MBIDToISRC:   resolution.MBIDToISRC,
	}
	if !batch.Empty() {
		load, err := e.loader.LoadEnrichment(ctx, batch)
		if err != nil {
			return err
		}
		result.Load = result.Load.Add(load)
	}

	load := result.Load
	sendProgress(progress, loadUpdate(LoadEnrichment, load.Counts().Total()))
	e.logger.Info("loaded enrichment",
		"features", load.Features,
		"failed_isrcs", load.FailedISRCs,
		"invalid_mbids", load.InvalidMBIDs,
		"duplicates", load.Duplicates,
		"unmapped", load.Unmapped)
	return nil
}

// Run performs a sync run followed by an enrich run.
func (e *PipelineEngine) Run(ctx context.Context, progress chan<- ProgressUpdate) (*RunResult, error) {
	result := &RunResult{}

	syncResult, err := e.Sync(ctx, progress)
	result.Sync = syncResult
	if err != nil {
		return result, fmt.Errorf("sync failed, enrich skipped: %w", err)
	}

	enrichResult, err := e.Enrich(ctx, progress)
	result.Enrich = enrichResult
	if err != nil {
		return result, fmt.Errorf("enrich failed: %w", err)
	}

	return result, nil
}

// start opens a run record. Without a recorder the run lives only in memory.
func (e *PipelineEngine) start(ctx context.Context, kind models.RunKind) (*models.SyncRun, error) {
	if e.runs == nil {
		return &models.SyncRun{
			ID:        shared.GenerateID(),
			Kind:      kind,
			Status:    models.RunStatusRunning,
			StartedAt: time.Now().UTC(),
		}, nil
	}

	run, err := e.runs.Start(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to record %s run: %w", kind, err)
	}
	e.logger.Debug("run started", "id", run.ID, "kind", kind)
	return run, nil
}

// finish closes the run record, reports it to the observer and returns runErr.
// The record is written even when ctx was cancelled.
func (e *PipelineEngine) finish(ctx context.Context, run *models.SyncRun, runErr error) error {
	if e.runs != nil {
		if err := e.runs.Finish(context.WithoutCancel(ctx), run, runErr); err != nil {
			e.logger.Error("failed to record run result", "id", run.ID, "error", err)
			runErr = errors.Join(runErr, err)
		}
	} else {
		now := time.Now().UTC()
		run.FinishedAt = &now
		run.Status = models.RunStatusSucceeded
		if runErr != nil {
			run.Status = models.RunStatusFailed
			run.Error = runErr.Error()
		}
	}

	if runErr != nil {
		run.Status = models.RunStatusFailed
		if table, ok := repositories.IsLoadError(runErr); ok {
			e.logger.Error("load failed", "id", run.ID, "table", table, "error", runErr)
		} else {
			e.logger.Error("run failed", "id", run.ID, "kind", run.Kind, "error", runErr)
		}
	}

	if e.observer != nil {
		c := run.Counts
		for table, n := range map[string]int{
			"plays":          c.Plays,
			"tracks":         c.Tracks,
			"artists":        c.Artists,
			"genres":         c.Genres,
			"track_features": c.Features,
			"failed_isrcs":   c.FailedISRCs,
			"invalid_mbids":  c.InvalidMBIDs,
		} {
			if n > 0 {
				e.observer.ObserveRows(table, n)
			}
		}
		e.observer.ObserveRun(string(run.Kind), string(run.Status))
	}

	e.logger.Info("run finished",
		"id", run.ID,
		"kind", run.Kind,
		"status", run.Status,
		"inserted", run.Counts.Total(),
		"skipped", run.Counts.Skipped,
		"duration", run.Duration())
	return runErr
}
