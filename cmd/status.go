package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/tunelog/internal/formatter"
	"github.com/desertthunder/tunelog/internal/models"
	"github.com/desertthunder/tunelog/internal/repositories"
	"github.com/desertthunder/tunelog/internal/shared"
	"github.com/urfave/cli/v3"
)

// Status reports store statistics and recent runs.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return err
	}

	format := formatter.FormatText
	switch {
	case cmd.Bool("json") && cmd.Bool("csv"):
		return fmt.Errorf("%w: --json and --csv are mutually exclusive", shared.ErrInvalidArgument)
	case cmd.Bool("json"):
		format = formatter.FormatJSON
	case cmd.Bool("csv"):
		format = formatter.FormatCSV
	}

	kind := models.RunKind(cmd.String("kind"))
	if kind != "" && kind != models.RunKindSync && kind != models.RunKindEnrich {
		return fmt.Errorf("%w: unknown run kind %q", shared.ErrInvalidArgument, kind)
	}

	db, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := repositories.NewStoreRepository(db).Stats(ctx)
	if err != nil {
		return err
	}
	runs, err := repositories.NewSyncRunRepository(db).List(ctx, kind, cmd.Int("limit"))
	if err != nil {
		return err
	}
	report := formatter.StatusReport{Stats: stats, Runs: runs}

	if output := cmd.String("output"); output != "" {
		path, err := formatter.WriteReport(report, format, output)
		if err != nil {
			return err
		}
		r.logger.Info("status report written", "path", path, "format", format)
		return nil
	}

	data, err := formatter.Render(report, format, r.palette)
	if err != nil {
		return err
	}
	return r.writePlain("%s", data)
}
