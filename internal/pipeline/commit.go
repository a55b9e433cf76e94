package pipeline

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/codetreehq/codetree/internal/analyze"
	"github.com/codetreehq/codetree/internal/describe"
	"github.com/codetreehq/codetree/internal/qa"
	"github.com/codetreehq/codetree/internal/registry"
	"github.com/codetreehq/codetree/internal/resolve"
	"github.com/codetreehq/codetree/internal/segment"
	"github.com/codetreehq/codetree/internal/store"
)

// componentSig keys the component cache. Components depend on the function
// source and, when descriptions drive segmentation, on the described ranges.
func componentSig(d *analyze.FunctionDecl, desc describe.FunctionDescription) string {
	var b strings.Builder
	b.WriteString(d.Signature())
	b.WriteString("\n")
	b.WriteString(d.Source())
	for _, c := range desc.Components {
		b.WriteString("\n")
		b.WriteString(strconv.Itoa(c.StartLine))
		b.WriteString(":")
		b.WriteString(strconv.Itoa(c.EndLine))
		b.WriteString(":")
		b.WriteString(c.Short)
		b.WriteString(":")
		b.WriteString(c.Long)
	}
	return registry.HashString(b.String())
}

// commit writes the whole graph in one transaction. A previous build of the
// same repository hash is dropped first, so readers never see a mix of two
// builds.
func (p *Pipeline) commit(repoHash string, fileHashes map[string]string, resolved *resolve.Result, descs map[string]describe.FunctionDescription) (*Result, error) {
	matcher := newEntryMatcher(p.opts.EntryPoints)
	strategy := p.opts.Strategy
	if len(descs) > 0 {
		strategy = &describe.ComponentStrategy{Descriptions: descs}
	}

	res := &Result{}
	err := p.store.WithTransaction(func(tx *store.Store) error {
		// The cache shares the commit transaction so its writes cannot
		// contend with the open write lock.
		cache := registry.NewCache(tx, p.opts.Reuse, p.logger)

		if err := tx.DeleteRepository(repoHash); err != nil {
			return fmt.Errorf("delete previous build: %w", err)
		}
		if err := tx.UpsertRepository(&store.Repository{
			Hash:        repoHash,
			Root:        p.opts.RepoRoot,
			EntryPoints: p.opts.EntryPoints,
		}); err != nil {
			return fmt.Errorf("upsert repository: %w", err)
		}

		decls := resolved.Registry.Functions
		fns := make([]*store.Function, len(decls))
		for i, d := range decls {
			desc := descs[d.FullName()]
			fns[i] = &store.Function{
				Repo:                   repoHash,
				Name:                   d.Name,
				QualifiedName:          d.QualifiedName,
				FilePath:               d.FilePath,
				ModuleName:             d.Module,
				ClassName:              d.ClassName,
				Lineno:                 d.Lineno,
				EndLineno:              d.EndLineno,
				IsEntry:                matcher.matches(d),
				ShortDescription:       desc.Short,
				InputOutputDescription: desc.InputOutput,
				LongDescription:        desc.Long,
			}
		}
		if _, err := tx.InsertFunctionBatch(fns); err != nil {
			return fmt.Errorf("insert functions: %w", err)
		}
		idByDecl := make(map[*analyze.FunctionDecl]int64, len(decls))
		for i, d := range decls {
			idByDecl[d] = fns[i].ID
		}

		var edges []*store.CallEdge
		for i, d := range decls {
			sig := componentSig(d, descs[d.FullName()])
			var comps []segment.Component
			if !cache.Load(fileHashes[d.FilePath], sig, registry.LayerComponent, &comps) {
				var cerr error
				comps, cerr = strategy.Components(p.ctx, d)
				if cerr != nil {
					p.logger.Warn("segment.components.failed", "function", d.FullName(), "error", cerr)
					comps = nil
				}
				if err := cache.Save(fileHashes[d.FilePath], sig, registry.LayerComponent, comps); err != nil {
					p.logger.Warn("component.cache.save_failed", "function", d.FullName(), "error", err)
				}
			}
			segs := segment.Overlay(segment.Build(d, resolved.Calls[d]), comps)

			storeSegs := make([]*store.Segment, len(segs))
			for j, sg := range segs {
				storeSegs[j] = &store.Segment{
					FunctionID: fns[i].ID,
					Ordinal:    sg.Ordinal,
					Kind:       sg.Kind,
					Lineno:     sg.Lineno,
					EndLineno:  sg.EndLineno,
					Content:    sg.Content,
				}
				if sg.Target != nil {
					storeSegs[j].TargetID = sql.NullInt64{Int64: idByDecl[sg.Target], Valid: true}
				}
				if sg.ComponentOrd >= 0 {
					storeSegs[j].ComponentOrd = sql.NullInt64{Int64: int64(sg.ComponentOrd), Valid: true}
				}
				if sg.Kind == segment.KindCall && sg.Target != nil {
					edges = append(edges, &store.CallEdge{
						CallerID:       fns[i].ID,
						SegmentOrdinal: sg.Ordinal,
						CalleeID:       idByDecl[sg.Target],
					})
				}
			}
			if err := tx.ReplaceSegments(fns[i].ID, d.BodyLen(), storeSegs); err != nil {
				return fmt.Errorf("segments for %s: %w", d.FullName(), err)
			}

			storeComps := make([]*store.Component, len(comps))
			for j, c := range comps {
				storeComps[j] = &store.Component{
					FunctionID:       fns[i].ID,
					Ordinal:          c.Ordinal,
					StartLineno:      d.Lineno + c.Lineno - 1,
					EndLineno:        d.Lineno + c.EndLineno - 1,
					ShortDescription: c.Short,
					LongDescription:  c.Long,
				}
			}
			if err := tx.ReplaceComponents(fns[i].ID, storeComps); err != nil {
				return fmt.Errorf("components for %s: %w", d.FullName(), err)
			}
		}
		if err := tx.InsertCallEdgeBatch(edges); err != nil {
			return fmt.Errorf("insert edges: %w", err)
		}

		for _, calls := range resolved.Calls {
			for _, c := range calls {
				switch c.State {
				case resolve.Unresolved:
					res.Unresolved++
				case resolve.Ambiguous:
					res.Ambiguous++
				}
			}
		}

		docs := make([]*store.QADoc, len(decls))
		for i, d := range decls {
			desc := descs[d.FullName()]
			docs[i] = &store.QADoc{
				FunctionID: fns[i].ID,
				Repo:       repoHash,
				Content:    qa.ComposeDoc(d.FullName(), desc.Short, desc.InputOutput, d.Source()),
			}
		}
		indexer := &qa.Indexer{Store: tx, Logger: p.logger}
		if err := indexer.Index(p.ctx, repoHash, docs); err != nil {
			return fmt.Errorf("qa index: %w", err)
		}

		res.Functions = len(decls)
		res.Edges = len(edges)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
