// Package pipeline orchestrates a repository build: discover files, parse
// them in parallel, resolve calls across the whole tree, segment and
// describe every function, and commit the graph in a single transaction.
// Each stage finishes completely before the next starts; resolution never
// sees a half-parsed repository.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codetreehq/codetree/internal/analyze"
	"github.com/codetreehq/codetree/internal/describe"
	"github.com/codetreehq/codetree/internal/discover"
	"github.com/codetreehq/codetree/internal/lang"
	"github.com/codetreehq/codetree/internal/registry"
	"github.com/codetreehq/codetree/internal/segment"
	"github.com/codetreehq/codetree/internal/store"
)

// Options configures one build.
type Options struct {
	RepoRoot    string
	EntryPoints []string // "relative/path.py:Qualified.Name"
	Languages   []lang.Language
	IgnoreFile  string
	Reuse       registry.LayerReuse
	Describer   describe.Describer // nil disables generated descriptions
	BatchSize   int
	Strategy    segment.Strategy // component fallback, default Structural
	Logger      *slog.Logger
}

// Result summarizes a finished build.
type Result struct {
	RepoHash     string
	Files        int
	SkippedFiles int
	Functions    int
	Edges        int
	Unresolved   int
	Ambiguous    int
	Described    int
	Elapsed      time.Duration
}

// Pipeline runs builds against one store.
type Pipeline struct {
	ctx    context.Context
	store  *store.Store
	opts   Options
	logger *slog.Logger
}

// New creates a Pipeline.
func New(ctx context.Context, s *store.Store, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Strategy == nil {
		opts.Strategy = &segment.Structural{}
	}
	return &Pipeline{ctx: ctx, store: s, opts: opts, logger: logger}
}

func (p *Pipeline) checkCancel() error {
	return p.ctx.Err()
}

// Run executes the full build.
func (p *Pipeline) Run() (*Result, error) {
	started := time.Now()
	p.logger.Info("pipeline.start", "path", p.opts.RepoRoot)

	files, err := discover.Discover(p.ctx, p.opts.RepoRoot, &discover.Options{
		IgnoreFile: p.opts.IgnoreFile,
		Languages:  p.opts.Languages,
	})
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	p.logger.Info("pipeline.discovered", "files", len(files))

	t := time.Now()
	parsed, skipped, err := p.parseAll(files)
	if err != nil {
		return nil, err
	}
	p.logger.Info("pass.timing", "pass", "parse", "elapsed", time.Since(t), "files", len(parsed), "skipped", skipped)
	if err := p.checkCancel(); err != nil {
		return nil, err
	}

	fileHashes := make(map[string]string, len(parsed))
	fileResults := make([]*analyze.FileResult, 0, len(parsed))
	for _, pf := range parsed {
		fileHashes[pf.result.File.RelPath] = pf.hash
		fileResults = append(fileResults, pf.result)
	}
	repoHash := registry.RepoHash(fileHashes, p.opts.EntryPoints)

	t = time.Now()
	resolved := p.resolveAll(repoHash, fileResults)
	p.logger.Info("pass.timing", "pass", "resolve", "elapsed", time.Since(t), "functions", len(resolved.Registry.Functions))
	if err := p.checkCancel(); err != nil {
		return nil, err
	}

	// A build asked for specific entry points must reach at least one of
	// them; describing and committing a graph nothing can enter is wasted
	// work and a broken result.
	if len(p.opts.EntryPoints) > 0 {
		matcher := newEntryMatcher(p.opts.EntryPoints)
		found := false
		for _, d := range resolved.Registry.Functions {
			if matcher.matches(d) {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("no entry points resolved: %s", strings.Join(p.opts.EntryPoints, ", "))
		}
	}

	t = time.Now()
	descriptions := p.describeAll(parsed, resolved.Registry.Functions)
	p.logger.Info("pass.timing", "pass", "describe", "elapsed", time.Since(t), "described", len(descriptions))
	if err := p.checkCancel(); err != nil {
		return nil, err
	}

	t = time.Now()
	res, err := p.commit(repoHash, fileHashes, resolved, descriptions)
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	p.logger.Info("pass.timing", "pass", "commit", "elapsed", time.Since(t))

	res.RepoHash = repoHash
	res.Files = len(parsed)
	res.SkippedFiles = skipped
	res.Described = len(descriptions)
	res.Elapsed = time.Since(started)
	p.logger.Info("pipeline.done",
		"repo", repoHash, "functions", res.Functions, "edges", res.Edges, "elapsed", res.Elapsed)
	return res, nil
}

// entryMatcher matches "path:qualified_name" specs against declarations.
type entryMatcher struct {
	specs map[string]map[string]bool // rel path -> qualified names ("" means whole file)
}

func newEntryMatcher(specs []string) *entryMatcher {
	m := &entryMatcher{specs: map[string]map[string]bool{}}
	for _, spec := range specs {
		path, name, _ := strings.Cut(spec, ":")
		if m.specs[path] == nil {
			m.specs[path] = map[string]bool{}
		}
		m.specs[path][name] = true
	}
	return m
}

func (m *entryMatcher) matches(d *analyze.FunctionDecl) bool {
	names, ok := m.specs[d.FilePath]
	if !ok {
		return false
	}
	return names[""] || names[d.QualifiedName] || names[d.FullName()]
}
