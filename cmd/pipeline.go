package main

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/tunelog/internal/formatter"
	"github.com/desertthunder/tunelog/internal/metrics"
	"github.com/desertthunder/tunelog/internal/models"
	"github.com/desertthunder/tunelog/internal/repositories"
	"github.com/desertthunder/tunelog/internal/services"
	"github.com/desertthunder/tunelog/internal/shared"
	"github.com/desertthunder/tunelog/internal/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
)

// stage selects which API clients a pipeline needs.
type stage int

const (
	stageSync stage = 1 << iota
	stageEnrich
)

const featureCacheTTL = time.Hour

// pipeline bundles an engine with the resources it owns.
type pipeline struct {
	engine  *tasks.PipelineEngine
	db      *sql.DB
	metrics *metrics.PipelineMetrics
}

func (p *pipeline) Close() error {
	return p.db.Close()
}

// openStore opens the configured database and brings its schema up to date.
func (r *Runner) openStore(ctx context.Context) (*sql.DB, error) {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if err := shared.RunMigrationsContext(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

func (r *Runner) fetcher(name string, m *metrics.PipelineMetrics, rps float64) *services.Fetcher {
	opts := services.FetcherOptionsFromConfig(name, r.config.Fetch, rps)
	opts.Client = r.httpClient
	opts.Logger = r.logger
	opts.Observer = m
	return services.NewFetcher(opts)
}

// newPipeline wires the engine for the requested stages. Credentials are only checked for the APIs those stages call.
func (r *Runner) newPipeline(ctx context.Context, stages stage) (*pipeline, error) {
	cfg := r.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m, err := metrics.NewPipelineMetrics(prometheus.NewRegistry())
	if err != nil {
		return nil, err
	}

	deps := tasks.EngineDeps{Observer: m, Logger: r.logger}
	rates := cfg.Fetch.RequestsPerSecond

	if stages&stageSync != 0 {
		tokens := r.tokens
		if tokens == nil {
			if err := cfg.ValidateSpotify(); err != nil {
				return nil, err
			}
			if tokens, err = services.NewTokenSource(ctx, cfg.Credentials.Spotify, r.logger); err != nil {
				return nil, err
			}
		}

		spotify := services.NewSpotifyService(r.fetcher(services.SpotifyAPI, m, rates.Spotify), tokens, services.SpotifyOptions{
			MaxPages: cfg.Sync.MaxPages,
			Logger:   r.logger,
		})
		deps.Extractor = tasks.NewExtractor(spotify, tasks.ExtractorOptions{
			Lookback:  cfg.Sync.Lookback,
			PageLimit: cfg.Sync.PageLimit,
			Logger:    r.logger,
		})
	}

	if stages&stageEnrich != 0 {
		if err := cfg.ValidateMusicBrainz(); err != nil {
			return nil, err
		}
		mb := services.NewMusicBrainzService(r.fetcher(services.MusicBrainzAPI, m, rates.MusicBrainz), cfg.MusicBrainz, r.logger)
		ab := services.NewAcousticBrainzService(r.fetcher(services.AcousticBrainzAPI, m, rates.AcousticBrainz), cfg.AcousticBrainz, r.logger)

		deps.Resolver = tasks.NewResolver(mb, m, r.logger)
		deps.Features = tasks.NewFeatureFetcher(ab, featureCacheTTL, m, r.logger)
	}

	db, err := r.openStore(ctx)
	if err != nil {
		return nil, err
	}

	deps.Store = repositories.NewStoreRepository(db)
	deps.Loader = repositories.NewLoader(db, r.logger)
	deps.Runs = repositories.NewSyncRunRepository(db)

	return &pipeline{engine: tasks.NewPipelineEngine(deps), db: db, metrics: m}, nil
}

// watchProgress prints progress updates until the returned stop func is called.
// The stop func closes the channel and waits for the printer to drain it.
func (r *Runner) watchProgress(quiet bool) (chan tasks.ProgressUpdate, func()) {
	progress := make(chan tasks.ProgressUpdate, 32)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		for update := range progress {
			if quiet {
				continue
			}
			if update.Total > 0 {
				r.writePlain("%s [%d/%d] %s\n", r.palette.Help(update.Phase.String()), update.Step, update.Total, update.Message)
			} else {
				r.writePlain("%s %s\n", r.palette.Help(update.Phase.String()), update.Message)
			}
		}
	}()

	return progress, func() {
		close(progress)
		wg.Wait()
	}
}

// finishCommand prints run summaries and writes the metrics textfile.
// The run error is returned unchanged so the exit status reflects it.
func (r *Runner) finishCommand(p *pipeline, runErr error, runs ...*models.SyncRun) error {
	for _, run := range runs {
		if run != nil {
			r.writePlain("%s\n", formatter.RunSummary(run, r.palette))
		}
	}

	if path := r.config.Metrics.Textfile; path != "" {
		if err := p.metrics.WriteTextfile(path); err != nil {
			r.logger.Warn("failed to write metrics textfile", "path", path, "error", err)
		} else {
			r.logger.Debug("metrics written", "path", path)
		}
	}
	return runErr
}

// Sync loads recently played tracks newer than the watermark.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return err
	}

	p, err := r.newPipeline(ctx, stageSync)
	if err != nil {
		return err
	}
	defer p.Close()

	progress, stop := r.watchProgress(cmd.Bool("quiet"))
	result, err := p.engine.Sync(ctx, progress)
	stop()

	var run *models.SyncRun
	if result != nil {
		run = result.Run
	}
	return r.finishCommand(p, err, run)
}

// Enrich classifies every pending ISRC.
func (r *Runner) Enrich(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return err
	}

	p, err := r.newPipeline(ctx, stageEnrich)
	if err != nil {
		return err
	}
	defer p.Close()

	progress, stop := r.watchProgress(cmd.Bool("quiet"))
	result, err := p.engine.Enrich(ctx, progress)
	stop()

	var run *models.SyncRun
	if result != nil {
		run = result.Run
	}
	return r.finishCommand(p, err, run)
}

// Run syncs then enriches.
func (r *Runner) Run(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return err
	}

	p, err := r.newPipeline(ctx, stageSync|stageEnrich)
	if err != nil {
		return err
	}
	defer p.Close()

	progress, stop := r.watchProgress(cmd.Bool("quiet"))
	result, err := p.engine.Run(ctx, progress)
	stop()

	var runs []*models.SyncRun
	if result != nil {
		if result.Sync != nil {
			runs = append(runs, result.Sync.Run)
		}
		if result.Enrich != nil {
			runs = append(runs, result.Enrich.Run)
		}
	}
	return r.finishCommand(p, err, runs...)
}
