package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codetreehq/codetree/internal/store"
)

func (s *Server) handleTraceCallPath(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	name := getStringArg(args, "name")
	if name == "" {
		return errResult("missing required 'name' parameter"), nil
	}

	direction := getStringArg(args, "direction")
	if direction == "" {
		direction = store.DirectionCallees
	}
	if direction != store.DirectionCallees && direction != store.DirectionCallers {
		return errResult("direction must be 'callees' or 'callers'"), nil
	}

	depth := getIntArg(args, "depth", 3)
	maxResults := getIntArg(args, "max_results", 50)

	result, err := s.api.Trace(getStringArg(args, "repo"), name, direction, depth, maxResults)
	if err != nil {
		return errResult(err.Error()), nil
	}

	visited := make([]map[string]any, len(result.Visited))
	for i, hop := range result.Visited {
		visited[i] = map[string]any{
			"name":   hop.Function.FullName(),
			"file":   hop.Function.FilePath,
			"lineno": hop.Function.Lineno,
			"hop":    hop.Hop,
		}
		if hop.Function.ShortDescription != "" {
			visited[i]["short_description"] = hop.Function.ShortDescription
		}
	}

	edges := make([]map[string]any, len(result.Edges))
	for i, e := range result.Edges {
		edges[i] = map[string]any{"from": e.FromName, "to": e.ToName}
	}

	return jsonResult(map[string]any{
		"root":      result.Root.FullName(),
		"direction": direction,
		"visited":   visited,
		"edges":     edges,
	}), nil
}
