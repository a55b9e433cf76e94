package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) handleAskCodebase(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	question := getStringArg(args, "question")
	if question == "" {
		return errResult("missing required 'question' parameter"), nil
	}

	limit := getIntArg(args, "limit", 5)

	res, err := s.api.Ask(ctx, getStringArg(args, "repo"), question, limit)
	if err != nil {
		return errResult(err.Error()), nil
	}

	out := make([]map[string]any, len(res.Matches))
	for i, a := range res.Matches {
		m := map[string]any{
			"name":   a.Function.FullName(),
			"file":   a.Function.FilePath,
			"lineno": a.Function.Lineno,
			"score":  fmt.Sprintf("%.4f", a.Score),
		}
		if a.Function.ShortDescription != "" {
			m["short_description"] = a.Function.ShortDescription
		}
		out[i] = m
	}

	return jsonResult(map[string]any{
		"question": question,
		"answer":   res.Answer,
		"matches":  out,
		"total":    len(out),
	}), nil
}
