package pipeline

import (
	"github.com/codetreehq/codetree/internal/analyze"
	"github.com/codetreehq/codetree/internal/registry"
	"github.com/codetreehq/codetree/internal/resolve"
)

// declRef names a function declaration by its position in the parse output.
// Positions are stable for a given repository hash, so cached resolutions
// can be mapped back onto a fresh parse of the same content.
type declRef struct {
	File  string `json:"file"`
	Index int    `json:"index"`
}

// cachedCall is one resolved call site in storable form.
type cachedCall struct {
	Caller     declRef   `json:"caller"`
	Site       int       `json:"site"` // index into the caller's call sites
	State      int       `json:"state"`
	Target     *declRef  `json:"target,omitempty"`
	Candidates []declRef `json:"candidates,omitempty"`
}

// resolveAll resolves every call site, reusing the cached resolution of an
// identical repository when the resolve layer allows it. The cache key is
// the repository hash: resolution depends on the whole tree, so per-file
// reuse would be unsound.
func (p *Pipeline) resolveAll(repoHash string, files []*analyze.FileResult) *resolve.Result {
	cache := registry.NewCache(p.store, p.opts.Reuse, p.logger)

	var cached []cachedCall
	if cache.Load(repoHash, repoHash, registry.LayerResolve, &cached) {
		if res, ok := restoreResolution(files, cached); ok {
			p.logger.Info("resolve.cache", "hit", true, "calls", len(cached))
			return res
		}
		p.logger.Warn("resolve.cache.mismatch", "repo", repoHash)
	}

	res := resolve.ResolveAll(files)
	if err := cache.Save(repoHash, repoHash, registry.LayerResolve, flattenResolution(files, res)); err != nil {
		p.logger.Warn("resolve.cache.save_failed", "error", err)
	}
	return res
}

func flattenResolution(files []*analyze.FileResult, res *resolve.Result) []cachedCall {
	refs := make(map[*analyze.FunctionDecl]declRef)
	for _, f := range files {
		for i, d := range f.Functions {
			refs[d] = declRef{File: f.File.RelPath, Index: i}
		}
	}

	out := []cachedCall{}
	for _, f := range files {
		for _, d := range f.Functions {
			siteIdx := make(map[*analyze.CallSite]int, len(d.Calls))
			for i, site := range d.Calls {
				siteIdx[site] = i
			}
			for _, rc := range res.Calls[d] {
				cc := cachedCall{Caller: refs[d], Site: siteIdx[rc.Site], State: int(rc.State)}
				if rc.Target != nil {
					ref := refs[rc.Target]
					cc.Target = &ref
				}
				for _, cand := range rc.Candidates {
					cc.Candidates = append(cc.Candidates, refs[cand])
				}
				out = append(out, cc)
			}
		}
	}
	return out
}

// restoreResolution maps a cached resolution back onto fresh declarations.
// Any reference that no longer lines up invalidates the whole payload.
func restoreResolution(files []*analyze.FileResult, cached []cachedCall) (*resolve.Result, bool) {
	decls := make(map[string][]*analyze.FunctionDecl, len(files))
	for _, f := range files {
		decls[f.File.RelPath] = f.Functions
	}
	lookup := func(ref declRef) *analyze.FunctionDecl {
		fns := decls[ref.File]
		if ref.Index < 0 || ref.Index >= len(fns) {
			return nil
		}
		return fns[ref.Index]
	}

	res := &resolve.Result{
		Registry: resolve.NewRegistry(files),
		Calls:    map[*analyze.FunctionDecl][]resolve.ResolvedCall{},
	}
	for _, cc := range cached {
		caller := lookup(cc.Caller)
		if caller == nil || cc.Site < 0 || cc.Site >= len(caller.Calls) {
			return nil, false
		}
		rc := resolve.ResolvedCall{Site: caller.Calls[cc.Site]}
		rc.State = resolve.State(cc.State)
		if cc.Target != nil {
			if rc.Target = lookup(*cc.Target); rc.Target == nil {
				return nil, false
			}
		}
		for _, cand := range cc.Candidates {
			d := lookup(cand)
			if d == nil {
				return nil, false
			}
			rc.Candidates = append(rc.Candidates, d)
		}
		res.Calls[caller] = append(res.Calls[caller], rc)
	}
	return res, true
}
