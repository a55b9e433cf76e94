package pipeline

import (
	"errors"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/codetreehq/codetree/internal/analyze"
	"github.com/codetreehq/codetree/internal/describe"
	"github.com/codetreehq/codetree/internal/discover"
	"github.com/codetreehq/codetree/internal/registry"
)

type parsedFile struct {
	result *analyze.FileResult
	hash   string
}

// parseAll reads and parses every discovered file across CPU cores,
// consulting the registry cache first: an unchanged file's extraction is
// loaded instead of re-parsed. Files that fail to read or parse are logged
// and skipped; the build goes on with the rest.
func (p *Pipeline) parseAll(files []discover.FileInfo) ([]parsedFile, int, error) {
	results := make([]*parsedFile, len(files))

	cache := registry.NewCache(p.store, p.opts.Reuse, p.logger)
	var cacheMu sync.Mutex // store access stays single-connection
	hits := 0

	numWorkers := runtime.NumCPU()
	if numWorkers > len(files) {
		numWorkers = len(files)
	}
	g, gctx := errgroup.WithContext(p.ctx)
	g.SetLimit(numWorkers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			source, err := os.ReadFile(f.Path)
			if err != nil {
				p.logger.Warn("pipeline.read.skip", "file", f.RelPath, "error", err)
				return nil
			}
			hash := registry.HashBytes(source)

			// the extraction depends on the path too: the module name
			// derives from it
			pathSig := registry.HashString(f.RelPath)
			var cached analyze.FileResult
			cacheMu.Lock()
			hit := cache.Load(hash, pathSig, registry.LayerParse, &cached)
			if hit {
				hits++
			}
			cacheMu.Unlock()
			if hit {
				cached.File = f
				results[i] = &parsedFile{result: &cached, hash: hash}
				return nil
			}

			res, err := analyze.ParseFile(f, source)
			if err != nil {
				var perr *analyze.ParseError
				if errors.As(err, &perr) {
					p.logger.Warn("pipeline.parse.skip", "file", f.RelPath, "error", perr.Err)
					return nil
				}
				return err
			}
			cacheMu.Lock()
			saveErr := cache.Save(hash, pathSig, registry.LayerParse, res)
			cacheMu.Unlock()
			if saveErr != nil {
				p.logger.Warn("parse.cache.save_failed", "file", f.RelPath, "error", saveErr)
			}
			results[i] = &parsedFile{result: res, hash: hash}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	p.logger.Info("parse.cache", "hits", hits, "parsed", len(files)-hits)

	out := make([]parsedFile, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, len(files) - len(out), nil
}

// describeAll generates descriptions for every function, reusing cached
// ones when the reuse flags allow it. Without a Describer it returns nil
// and the build proceeds undescribed.
func (p *Pipeline) describeAll(parsed []parsedFile, fns []*analyze.FunctionDecl) map[string]describe.FunctionDescription {
	if p.opts.Describer == nil {
		return nil
	}

	fileHashByPath := make(map[string]string, len(parsed))
	for _, pf := range parsed {
		fileHashByPath[pf.result.File.RelPath] = pf.hash
	}

	cache := registry.NewCache(p.store, p.opts.Reuse, p.logger)
	sigFor := func(d *analyze.FunctionDecl) string {
		return registry.HashString(d.Signature() + "\n" + d.Source())
	}

	out := make(map[string]describe.FunctionDescription, len(fns))
	var pending []*analyze.FunctionDecl
	for _, d := range fns {
		var cached describe.FunctionDescription
		if cache.Load(fileHashByPath[d.FilePath], sigFor(d), registry.LayerDescription, &cached) {
			out[d.FullName()] = cached
			continue
		}
		pending = append(pending, d)
	}
	p.logger.Info("describe.cache", "hits", len(out), "pending", len(pending))
	if len(pending) == 0 {
		return out
	}

	runner := &describe.Runner{
		Describer: p.opts.Describer,
		BatchSize: p.opts.BatchSize,
		Logger:    p.logger,
	}
	fresh, err := runner.Run(p.ctx, pending)
	if err != nil {
		p.logger.Warn("describe.aborted", "error", err)
		return out
	}
	for _, d := range pending {
		desc, ok := fresh[d.FullName()]
		if !ok {
			continue
		}
		out[d.FullName()] = desc
		if err := cache.Save(fileHashByPath[d.FilePath], sigFor(d), registry.LayerDescription, desc); err != nil {
			p.logger.Warn("describe.cache.save_failed", "function", d.FullName(), "error", err)
		}
	}
	return out
}
