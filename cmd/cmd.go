// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand handles setup operations for the config file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:  "config",
				Usage: "Write an example config file",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "print",
						Usage: "Print the effective configuration instead of writing a file",
					},
				},
				Action: r.SetupConfig,
			},
		},
	}
}

// authCommand inspects the stored streaming-service credential.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage authentication",
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Check the stored Spotify token",
				Action: r.AuthStatus,
			},
		},
	}
}

// syncCommand pulls recently played tracks into the store.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "sync",
		Usage:  "Load recently played tracks newer than the last stored play",
		Flags:  []cli.Flag{quietFlag()},
		Action: r.Sync,
	}
}

// enrichCommand classifies every pending ISRC.
func enrichCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "enrich",
		Usage:  "Resolve pending ISRCs and fetch their audio features",
		Flags:  []cli.Flag{quietFlag()},
		Action: r.Enrich,
	}
}

// runCommand performs sync then enrich.
func runCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Sync then enrich",
		Flags:  []cli.Flag{quietFlag()},
		Action: r.Run,
	}
}

// statusCommand reports store contents and run history.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show store statistics and recent runs",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output JSON",
			},
			&cli.BoolFlag{
				Name:  "csv",
				Usage: "Output run history as CSV",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Number of runs to show (0 for all)",
				Value: 10,
			},
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Only show runs of this kind (sync or enrich)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the report to a file instead of stdout",
			},
		},
		Action: r.Status,
	}
}

func quietFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "quiet",
		Aliases: []string{"q"},
		Usage:   "Only print the run summary",
	}
}
