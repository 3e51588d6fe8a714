package main

import (
	"context"
	"time"

	"github.com/desertthunder/tunelog/internal/services"
	"github.com/urfave/cli/v3"
)

// AuthStatus reports whether the stored Spotify token can be used by the next sync.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return err
	}

	path := r.config.Credentials.Spotify.TokenPath
	r.logger.Debug("checking stored token", "path", path)

	token, err := services.LoadToken(path)
	if err != nil {
		return err
	}

	r.writePlainHeader("Spotify")
	r.writePlain("Token file: %s\n", path)

	switch {
	case token.Valid():
		r.writePlain("Access token: %s\n", r.palette.OK("✓ valid"))
	case token.RefreshToken != "":
		r.writePlain("Access token: %s\n", r.palette.Warn("expired, will refresh on next sync"))
	default:
		r.writePlain("Access token: %s\n", r.palette.Err("✗ expired"))
	}

	if !token.Expiry.IsZero() {
		r.writePlain("Expires: %s\n", token.Expiry.UTC().Format(time.RFC3339))
	}

	if token.RefreshToken != "" {
		r.writePlain("Refresh token: %s\n", r.palette.OK("✓ present"))
	} else {
		r.writePlain("Refresh token: %s\n", r.palette.Err("✗ missing"))
	}
	return nil
}
