// Command codetree builds code graphs for repositories and answers
// questions about them, either from the command line or as an MCP server
// over stdio.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"

	"github.com/codetreehq/codetree/internal/store"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "codetree: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "codetree",
		Usage:   "build and query code graphs for repositories",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "db",
				Usage: "path to the graph database (defaults to the user cache dir)",
			},
			&cli.StringFlag{
				Name:  "repo",
				Usage: "repository hash (defaults to the most recently built)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			setupLogging(c.App.ErrWriter, c.Bool("verbose"))
			return nil
		},
		Commands: []*cli.Command{
			buildCommand(),
			serveCommand(),
			reposCommand(),
			entriesCommand(),
			functionsCommand(),
			functionCommand(),
			calleesCommand(),
			callersCommand(),
			traceCommand(),
			snippetCommand(),
			askCommand(),
			queryCommand(),
			linksCommand(),
			tracesCommand(),
			installCommand(),
			uninstallCommand(),
			updateCommand(),
		},
	}
}

func setupLogging(w io.Writer, verbose bool) {
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
	})))
}

// openStore opens the database named by the global --db flag, or the
// default per-user database when the flag is unset.
func openStore(c *cli.Context) (*store.Store, error) {
	if path := c.String("db"); path != "" {
		return store.OpenPath(path)
	}
	return store.Open("codetree")
}
