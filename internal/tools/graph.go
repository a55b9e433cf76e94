package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codetreehq/codetree/internal/cypher"
)

func (s *Server) handleQueryGraph(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	query := getStringArg(args, "query")
	if query == "" {
		return errResult("missing required 'query' parameter"), nil
	}

	repo, err := s.api.ResolveRepo(getStringArg(args, "repo"))
	if err != nil {
		return errResult(err.Error()), nil
	}

	exec := &cypher.Executor{Store: s.store, Repo: repo.Hash}
	res, err := exec.Execute(query)
	if err != nil {
		return errResult(err.Error()), nil
	}

	return jsonResult(map[string]any{
		"columns": res.Columns,
		"rows":    res.Rows,
		"total":   len(res.Rows),
	}), nil
}
