package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codetreehq/codetree/internal/store"
)

func functionSummary(f *store.Function) map[string]any {
	out := map[string]any{
		"name":       f.FullName(),
		"file":       f.FilePath,
		"lineno":     f.Lineno,
		"end_lineno": f.EndLineno,
	}
	if f.ClassName != "" {
		out["class"] = f.ClassName
	}
	if f.IsEntry {
		out["entry"] = true
	}
	if f.ShortDescription != "" {
		out["short_description"] = f.ShortDescription
	}
	return out
}

func functionSummaries(fns []*store.Function) []map[string]any {
	out := make([]map[string]any, len(fns))
	for i, f := range fns {
		out[i] = functionSummary(f)
	}
	return out
}

func (s *Server) handleListEntryFunctions(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	entries, err := s.api.EntryFunctions(getStringArg(args, "repo"))
	if err != nil {
		return errResult(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"entries": functionSummaries(entries),
		"total":   len(entries),
	}), nil
}

func (s *Server) handleGetFunction(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	name := getStringArg(args, "name")
	if name == "" {
		return errResult("missing required 'name' parameter"), nil
	}

	detail, err := s.api.Function(getStringArg(args, "repo"), name)
	if err != nil {
		return errResult(err.Error()), nil
	}

	fn := functionSummary(detail.Function)
	if detail.Function.InputOutputDescription != "" {
		fn["input_output_description"] = detail.Function.InputOutputDescription
	}
	if detail.Function.LongDescription != "" {
		fn["long_description"] = detail.Function.LongDescription
	}

	segments := make([]map[string]any, len(detail.Segments))
	for i, seg := range detail.Segments {
		m := map[string]any{
			"ordinal":    seg.Ordinal,
			"kind":       seg.Kind,
			"lineno":     seg.Lineno,
			"end_lineno": seg.EndLineno,
			"content":    seg.Content,
		}
		if seg.TargetID.Valid {
			if target, terr := s.store.FindFunctionByID(seg.TargetID.Int64); terr == nil && target != nil {
				m["target"] = target.FullName()
			}
		}
		if seg.ComponentOrd.Valid {
			m["component"] = seg.ComponentOrd.Int64
		}
		segments[i] = m
	}

	components := make([]map[string]any, len(detail.Components))
	for i, c := range detail.Components {
		components[i] = map[string]any{
			"ordinal":           c.Ordinal,
			"start_lineno":      c.StartLineno,
			"end_lineno":        c.EndLineno,
			"short_description": c.ShortDescription,
			"long_description":  c.LongDescription,
		}
	}

	return jsonResult(map[string]any{
		"function":   fn,
		"segments":   segments,
		"components": components,
	}), nil
}

func (s *Server) handleListFunctions(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	repo, err := s.api.ResolveRepo(getStringArg(args, "repo"))
	if err != nil {
		return errResult(err.Error()), nil
	}

	pattern := getStringArg(args, "pattern")
	limit := getIntArg(args, "limit", 100)

	var fns []*store.Function
	if pattern != "" {
		fns, err = s.store.SearchFunctions(repo.Hash, pattern, limit)
	} else {
		fns, err = s.store.AllFunctions(repo.Hash)
		if err == nil && len(fns) > limit {
			fns = fns[:limit]
		}
	}
	if err != nil {
		return errResult(fmt.Sprintf("list functions: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"functions": functionSummaries(fns),
		"total":     len(fns),
	}), nil
}

func (s *Server) handleListCallees(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleNeighbors(req, "callees", s.api.Callees)
}

func (s *Server) handleListCallers(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleNeighbors(req, "callers", s.api.Callers)
}

func (s *Server) handleNeighbors(req *mcp.CallToolRequest, key string, fetch func(repo, name string) ([]*store.Function, error)) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	name := getStringArg(args, "name")
	if name == "" {
		return errResult("missing required 'name' parameter"), nil
	}
	fns, err := fetch(getStringArg(args, "repo"), name)
	if err != nil {
		return errResult(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"function": name,
		key:        functionSummaries(fns),
		"total":    len(fns),
	}), nil
}
