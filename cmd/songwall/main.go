// Command songwall runs the song wall web application.
package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/justestif/songwall/internal/logging"
)

func main() {
	app := &cli.Command{
		Name:  "songwall",
		Usage: "A public wall of pinned Spotify tracks",
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			configCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logging.New(os.Stderr, "error").Fatal("application error", "err", err)
	}
}
