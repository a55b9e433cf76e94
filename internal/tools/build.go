package tools

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codetreehq/codetree/internal/pipeline"
	"github.com/codetreehq/codetree/internal/registry"
)

func (s *Server) handleBuildRepository(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	repoPath := getStringArg(args, "repo_path")
	if repoPath == "" {
		return errResult("repo_path is required"), nil
	}
	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return errResult(fmt.Sprintf("invalid path: %v", err)), nil
	}

	var reuse registry.LayerReuse
	if getBoolArg(args, "reuse", true) {
		reuse = registry.AllLayers()
	}

	// one build at a time
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	p := pipeline.New(ctx, s.store, pipeline.Options{
		RepoRoot:    absPath,
		EntryPoints: getStringSliceArg(args, "entry_points"),
		Reuse:       reuse,
		Describer:   s.describer,
	})
	res, err := p.Run()
	if err != nil {
		return errResult(fmt.Sprintf("build failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"repo":          res.RepoHash,
		"files":         res.Files,
		"skipped_files": res.SkippedFiles,
		"functions":     res.Functions,
		"edges":         res.Edges,
		"unresolved":    res.Unresolved,
		"ambiguous":     res.Ambiguous,
		"described":     res.Described,
		"elapsed":       res.Elapsed.String(),
	}), nil
}
