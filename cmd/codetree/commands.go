package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"

	"github.com/codetreehq/codetree/internal/api"
	"github.com/codetreehq/codetree/internal/config"
	"github.com/codetreehq/codetree/internal/cypher"
	"github.com/codetreehq/codetree/internal/describe"
	"github.com/codetreehq/codetree/internal/httplink"
	"github.com/codetreehq/codetree/internal/lang"
	"github.com/codetreehq/codetree/internal/pipeline"
	"github.com/codetreehq/codetree/internal/registry"
	"github.com/codetreehq/codetree/internal/segment"
	"github.com/codetreehq/codetree/internal/store"
	"github.com/codetreehq/codetree/internal/tools"
	"github.com/codetreehq/codetree/internal/traces"
	"github.com/codetreehq/codetree/internal/watcher"
)

func buildCommand() *cli.Command {
	return &cli.Command{
		Name:      "build",
		Usage:     "analyze a repository and store its code graph",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "entry",
				Usage: "entry point spec 'relative/path.py:Qualified.Name' (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:  "lang",
				Usage: "restrict analysis to the named languages (repeatable)",
			},
			&cli.StringFlag{
				Name:  "reuse",
				Usage: "comma-separated cache layers to reuse: parse,resolve,component,description (default all)",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "ignore the layer cache and rebuild from scratch",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "functions per description request (overrides config)",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "directory holding " + config.FileName + " (defaults to the repository root)",
			},
		},
		Action: runBuild,
	}
}

// parseReuse turns the --reuse flag value into a layer selection.
func parseReuse(spec string) (registry.LayerReuse, error) {
	var reuse registry.LayerReuse
	for _, name := range strings.Split(spec, ",") {
		switch strings.TrimSpace(name) {
		case "parse":
			reuse.Parse = true
		case "resolve":
			reuse.Resolve = true
		case "component":
			reuse.Component = true
		case "description":
			reuse.Description = true
		case "":
		default:
			return reuse, fmt.Errorf("unknown reuse layer %q", name)
		}
	}
	return reuse, nil
}

func runBuild(c *cli.Context) error {
	root := c.Args().First()
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	cfgDir := c.String("config")
	if cfgDir == "" {
		cfgDir = root
	}
	cfg := config.Load(cfgDir)

	s, err := openStore(c)
	if err != nil {
		return err
	}
	defer s.Close()

	entries := c.StringSlice("entry")
	if len(entries) == 0 {
		entries = cfg.Build.EntryPoints
	}
	langNames := c.StringSlice("lang")
	if len(langNames) == 0 {
		langNames = cfg.Build.Languages
	}
	var langs []lang.Language
	for _, name := range langNames {
		langs = append(langs, lang.Language(name))
	}

	var reuse registry.LayerReuse
	switch {
	case c.Bool("force"):
		if err := s.ClearRegistry(); err != nil {
			return fmt.Errorf("clear registry: %w", err)
		}
	case c.String("reuse") != "":
		reuse, err = parseReuse(c.String("reuse"))
		if err != nil {
			return err
		}
	case cfg.EffectiveReuse():
		reuse = registry.AllLayers()
	}

	batchSize := cfg.EffectiveBatchSize()
	if c.Int("batch-size") > 0 {
		batchSize = c.Int("batch-size")
	}

	res, err := pipeline.New(c.Context, s, pipeline.Options{
		RepoRoot:    root,
		EntryPoints: entries,
		Languages:   langs,
		Reuse:       reuse,
		Describer:   newDescriber(cfg),
		BatchSize:   batchSize,
	}).Run()
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "repo       %s\n", res.RepoHash)
	fmt.Fprintf(w, "files      %d (%d skipped)\n", res.Files, res.SkippedFiles)
	fmt.Fprintf(w, "functions  %d\n", res.Functions)
	fmt.Fprintf(w, "edges      %d (%d unresolved, %d ambiguous)\n", res.Edges, res.Unresolved, res.Ambiguous)
	if res.Described > 0 {
		fmt.Fprintf(w, "described  %d\n", res.Described)
	}
	fmt.Fprintf(w, "elapsed    %s\n", res.Elapsed.Round(time.Millisecond))
	return nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the MCP server over stdio",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "rebuild repositories automatically when their files change",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	s, err := openStore(c)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg := config.Load(".")
	srv := tools.NewServer(s, newDescriber(cfg))

	if c.Bool("watch") {
		w := watcher.New(s, func(ctx context.Context, repoHash, root string) error {
			_, err := pipeline.New(ctx, s, pipeline.Options{
				RepoRoot: root,
				Reuse:    registry.AllLayers(),
			}).Run()
			return err
		})
		go w.Run(c.Context)
	}

	return srv.MCPServer().Run(c.Context, &mcp.StdioTransport{})
}

func reposCommand() *cli.Command {
	return &cli.Command{
		Name:  "repos",
		Usage: "list built repositories",
		Action: func(c *cli.Context) error {
			s, err := openStore(c)
			if err != nil {
				return err
			}
			defer s.Close()
			repos, err := s.ListRepositories()
			if err != nil {
				return err
			}
			w := c.App.Writer
			if len(repos) == 0 {
				fmt.Fprintln(w, "no repositories built yet; run 'codetree build <path>'")
				return nil
			}
			for _, r := range repos {
				fmt.Fprintf(w, "%s  %s  %s\n", r.Hash, r.Root, r.CreatedAt)
			}
			return nil
		},
	}
}

func entriesCommand() *cli.Command {
	return &cli.Command{
		Name:  "entries",
		Usage: "list a repository's entry-point functions",
		Action: func(c *cli.Context) error {
			s, err := openStore(c)
			if err != nil {
				return err
			}
			defer s.Close()
			a := &api.API{Store: s}
			funcs, err := a.EntryFunctions(c.String("repo"))
			if err != nil {
				return err
			}
			printFunctions(c.App.Writer, funcs)
			return nil
		},
	}
}

func functionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "functions",
		Usage:     "list functions, optionally filtered by a glob pattern",
		ArgsUsage: "[pattern]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 50, Usage: "maximum results for pattern search"},
		},
		Action: func(c *cli.Context) error {
			s, err := openStore(c)
			if err != nil {
				return err
			}
			defer s.Close()
			a := &api.API{Store: s}
			repo, err := a.ResolveRepo(c.String("repo"))
			if err != nil {
				return err
			}
			var funcs []*store.Function
			if pattern := c.Args().First(); pattern != "" {
				funcs, err = s.SearchFunctions(repo.Hash, pattern, c.Int("limit"))
			} else {
				funcs, err = s.AllFunctions(repo.Hash)
			}
			if err != nil {
				return err
			}
			printFunctions(c.App.Writer, funcs)
			return nil
		},
	}
}

func functionCommand() *cli.Command {
	return &cli.Command{
		Name:      "function",
		Usage:     "show one function with its segments and components",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return fmt.Errorf("function name required")
			}
			s, err := openStore(c)
			if err != nil {
				return err
			}
			defer s.Close()
			a := &api.API{Store: s}
			detail, err := a.Function(c.String("repo"), name)
			if err != nil {
				return err
			}
			printFunctionDetail(c.App.Writer, detail)
			return nil
		},
	}
}

func calleesCommand() *cli.Command {
	return neighborCommand("callees", "list the functions a function calls",
		func(a *api.API, repo, name string) ([]*store.Function, error) {
			return a.Callees(repo, name)
		})
}

func callersCommand() *cli.Command {
	return neighborCommand("callers", "list the functions that call a function",
		func(a *api.API, repo, name string) ([]*store.Function, error) {
			return a.Callers(repo, name)
		})
}

func neighborCommand(name, usage string, fetch func(*api.API, string, string) ([]*store.Function, error)) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			fnName := c.Args().First()
			if fnName == "" {
				return fmt.Errorf("function name required")
			}
			s, err := openStore(c)
			if err != nil {
				return err
			}
			defer s.Close()
			a := &api.API{Store: s}
			funcs, err := fetch(a, c.String("repo"), fnName)
			if err != nil {
				return err
			}
			printFunctions(c.App.Writer, funcs)
			return nil
		},
	}
}

func traceCommand() *cli.Command {
	return &cli.Command{
		Name:      "trace",
		Usage:     "walk the call graph breadth-first from a function",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "direction", Value: "down", Usage: "'down' toward callees or 'up' toward callers"},
			&cli.IntFlag{Name: "depth", Value: 3, Usage: "maximum hop distance"},
			&cli.IntFlag{Name: "limit", Value: 50, Usage: "maximum functions visited"},
		},
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return fmt.Errorf("function name required")
			}
			s, err := openStore(c)
			if err != nil {
				return err
			}
			defer s.Close()
			a := &api.API{Store: s}
			res, err := a.Trace(c.String("repo"), name, c.String("direction"), c.Int("depth"), c.Int("limit"))
			if err != nil {
				return err
			}
			w := c.App.Writer
			fmt.Fprintf(w, "%s (%s:%d)\n", res.Root.FullName(), res.Root.FilePath, res.Root.Lineno)
			for _, hop := range res.Visited {
				fmt.Fprintf(w, "%s%s  %s:%d\n", strings.Repeat("  ", hop.Hop),
					hop.Function.FullName(), hop.Function.FilePath, hop.Function.Lineno)
			}
			return nil
		},
	}
}

func snippetCommand() *cli.Command {
	return &cli.Command{
		Name:      "snippet",
		Usage:     "print a function's source code",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return fmt.Errorf("function name required")
			}
			s, err := openStore(c)
			if err != nil {
				return err
			}
			defer s.Close()
			a := &api.API{Store: s}
			src, err := a.Snippet(c.String("repo"), name)
			if err != nil {
				return err
			}
			fmt.Fprint(c.App.Writer, src)
			if !strings.HasSuffix(src, "\n") {
				fmt.Fprintln(c.App.Writer)
			}
			return nil
		},
	}
}

func askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "rank functions against a natural-language question",
		ArgsUsage: "<question>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 5, Usage: "maximum answers"},
		},
		Action: func(c *cli.Context) error {
			question := strings.Join(c.Args().Slice(), " ")
			if question == "" {
				return fmt.Errorf("question required")
			}
			s, err := openStore(c)
			if err != nil {
				return err
			}
			defer s.Close()
			a := &api.API{Store: s}
			res, err := a.Ask(c.Context, c.String("repo"), question, c.Int("limit"))
			if err != nil {
				return err
			}
			w := c.App.Writer
			fmt.Fprintln(w, res.Answer)
			if len(res.Matches) == 0 {
				return nil
			}
			fmt.Fprintln(w)
			for _, ans := range res.Matches {
				fmt.Fprintf(w, "%.3f  %s  %s:%d\n", ans.Score,
					ans.Function.FullName(), ans.Function.FilePath, ans.Function.Lineno)
				if ans.Function.ShortDescription != "" {
					fmt.Fprintf(w, "       %s\n", ans.Function.ShortDescription)
				}
			}
			return nil
		},
	}
}

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "run a Cypher-style query against the code graph",
		ArgsUsage: "<query>",
		Action: func(c *cli.Context) error {
			q := strings.Join(c.Args().Slice(), " ")
			if q == "" {
				return fmt.Errorf("query required")
			}
			s, err := openStore(c)
			if err != nil {
				return err
			}
			defer s.Close()
			a := &api.API{Store: s}
			repo, err := a.ResolveRepo(c.String("repo"))
			if err != nil {
				return err
			}
			exec := &cypher.Executor{Store: s, Repo: repo.Hash}
			res, err := exec.Execute(q)
			if err != nil {
				return err
			}
			w := c.App.Writer
			fmt.Fprintln(w, strings.Join(res.Columns, "\t"))
			for _, row := range res.Rows {
				vals := make([]string, len(res.Columns))
				for i, col := range res.Columns {
					vals[i] = fmt.Sprintf("%v", row[col])
				}
				fmt.Fprintln(w, strings.Join(vals, "\t"))
			}
			return nil
		},
	}
}

func linksCommand() *cli.Command {
	return &cli.Command{
		Name:  "links",
		Usage: "discover cross-service HTTP calls between repository functions",
		Action: func(c *cli.Context) error {
			s, err := openStore(c)
			if err != nil {
				return err
			}
			defer s.Close()
			a := &api.API{Store: s}
			repo, err := a.ResolveRepo(c.String("repo"))
			if err != nil {
				return err
			}
			cfg := config.Load(repo.Root)
			linker := httplink.New(s, repo.Hash, httplink.Options{
				ExcludePaths:  cfg.Link.ExcludePaths,
				MinConfidence: cfg.EffectiveMinConfidence(),
				FuzzyMatching: cfg.EffectiveFuzzyMatching(),
			})
			links, err := linker.Run()
			if err != nil {
				return err
			}
			w := c.App.Writer
			if len(links) == 0 {
				fmt.Fprintln(w, "no HTTP links found")
				return nil
			}
			for _, l := range links {
				method := l.Method
				if method == "" {
					method = "?"
				}
				fmt.Fprintf(w, "%-11s %.2f  %s -> %s  [%s %s]\n",
					l.Band, l.Confidence, l.CallerName, l.HandlerName, method, l.URLPath)
			}
			return nil
		},
	}
}

func tracesCommand() *cli.Command {
	return &cli.Command{
		Name:      "traces",
		Usage:     "ingest an OTLP JSON trace file and match spans to functions",
		ArgsUsage: "<file>",
		Action: func(c *cli.Context) error {
			file := c.Args().First()
			if file == "" {
				return fmt.Errorf("trace file required")
			}
			s, err := openStore(c)
			if err != nil {
				return err
			}
			defer s.Close()
			a := &api.API{Store: s}
			repo, err := a.ResolveRepo(c.String("repo"))
			if err != nil {
				return err
			}
			res, err := traces.Ingest(s, repo.Hash, file)
			if err != nil {
				return err
			}
			w := c.App.Writer
			fmt.Fprintf(w, "spans    %d\n", res.SpansProcessed)
			fmt.Fprintf(w, "matched  %d\n", res.FunctionsMatched)
			for _, obs := range res.Observations {
				fmt.Fprintf(w, "  %s  calls=%d errors=%d", obs.FullName, obs.Calls, obs.Errors)
				if obs.P99LatencyNs > 0 {
					fmt.Fprintf(w, " p99=%.1fms", float64(obs.P99LatencyNs)/1e6)
				}
				fmt.Fprintln(w)
			}
			for _, name := range res.Unmatched {
				fmt.Fprintf(w, "  unmatched: %s\n", name)
			}
			return nil
		},
	}
}

// newDescriber builds an LLM describer from config, or nil when no
// endpoint is configured.
func newDescriber(cfg *config.Config) describe.Describer {
	if cfg.Describe.BaseURL == "" {
		return nil
	}
	return describe.NewClient(describe.ClientConfig{
		BaseURL:    cfg.Describe.BaseURL,
		APIKey:     cfg.APIKey(),
		Model:      cfg.Describe.Model,
		MaxRetries: cfg.EffectiveMaxRetries(),
		RateLimit:  rate.Limit(cfg.EffectiveRateLimit()),
		Logger:     slog.Default(),
	})
}

func printFunctions(w io.Writer, funcs []*store.Function) {
	if len(funcs) == 0 {
		fmt.Fprintln(w, "no functions found")
		return
	}
	for _, f := range funcs {
		marker := " "
		if f.IsEntry {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s  %s:%d\n", marker, f.FullName(), f.FilePath, f.Lineno)
		if f.ShortDescription != "" {
			fmt.Fprintf(w, "     %s\n", f.ShortDescription)
		}
	}
}

func printFunctionDetail(w io.Writer, d *api.FunctionDetail) {
	f := d.Function
	fmt.Fprintf(w, "%s\n", f.FullName())
	fmt.Fprintf(w, "  file:  %s:%d-%d\n", f.FilePath, f.Lineno, f.EndLineno)
	if f.IsEntry {
		fmt.Fprintln(w, "  entry: yes")
	}
	if f.ShortDescription != "" {
		fmt.Fprintf(w, "  short: %s\n", f.ShortDescription)
	}
	if f.InputOutputDescription != "" {
		fmt.Fprintf(w, "  io:    %s\n", f.InputOutputDescription)
	}
	if f.LongDescription != "" {
		fmt.Fprintf(w, "  long:  %s\n", f.LongDescription)
	}
	if len(d.Components) > 0 {
		fmt.Fprintf(w, "  components (%d):\n", len(d.Components))
		for _, comp := range d.Components {
			fmt.Fprintf(w, "    [%d] lines %d-%d", comp.Ordinal, comp.StartLineno, comp.EndLineno)
			if comp.ShortDescription != "" {
				fmt.Fprintf(w, "  %s", comp.ShortDescription)
			}
			fmt.Fprintln(w)
		}
	}
	calls := 0
	for _, seg := range d.Segments {
		if seg.Kind == segment.KindCall {
			calls++
		}
	}
	fmt.Fprintf(w, "  segments: %d (%d calls)\n", len(d.Segments), calls)
}
