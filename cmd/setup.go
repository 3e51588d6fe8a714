package main

import (
	"bytes"
	"context"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/desertthunder/tunelog/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupDatabase initializes the database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return err
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)

	db, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	return r.writePlain("%s database ready at %s\n", r.palette.OK("✓"), r.config.Database.Path)
}

// SetupConfig writes the example config to the --config path, or prints the effective configuration with --print.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("print") {
		if err := r.loadConfig(cmd); err != nil {
			return err
		}

		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(r.config); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		return r.writePlain("%s", buf.String())
	}

	path := cmd.String("config")
	if path == "" {
		path = defaultConfigPath
	}

	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}
	r.logger.Info("config file created", "path", path)

	r.writePlain("%s config written to %s\n", r.palette.OK("✓"), path)
	r.writePlainln("Next steps:")
	r.writePlain("1. Fill in credentials.spotify and musicbrainz.email\n")
	r.writePlain("2. Store a Spotify token at credentials.spotify.token_path\n")
	r.writePlain("3. Run 'tunelog run'\n")
	return nil
}
