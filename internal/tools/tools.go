// Package tools exposes the code graph over MCP.
package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codetreehq/codetree/internal/api"
	"github.com/codetreehq/codetree/internal/describe"
	"github.com/codetreehq/codetree/internal/store"
)

// Server wraps the MCP server with tool handlers.
type Server struct {
	mcp       *mcp.Server
	store     *store.Store
	api       *api.API
	describer describe.Describer // optional, used by build_repository

	buildMu sync.Mutex
}

// NewServer creates an MCP server with all tools registered.
func NewServer(s *store.Store, describer describe.Describer) *Server {
	srv := &Server{
		store:     s,
		api:       &api.API{Store: s},
		describer: describer,
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    "codetree",
				Version: "0.1.0",
			},
			nil,
		),
	}
	srv.registerTools()
	return srv
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	// 1. build_repository
	s.mcp.AddTool(&mcp.Tool{
		Name:        "build_repository",
		Description: "Analyze a repository and build its code graph. Parses source files, resolves call relationships across the whole tree, segments every function into code/call/comment slices, and stores the result for querying. Layers cached from earlier builds are reused for unchanged functions.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"repo_path": {
					"type": "string",
					"description": "Absolute path to the repository root."
				},
				"entry_points": {
					"type": "array",
					"items": {"type": "string"},
					"description": "Entry point specs, 'relative/path.py:Qualified.Name' or 'relative/path.py' for a whole file."
				},
				"reuse": {
					"type": "boolean",
					"description": "Reuse cached analysis layers for unchanged functions (default true)."
				}
			},
			"required": ["repo_path"]
		}`),
	}, s.handleBuildRepository)

	// 2. list_entry_functions
	s.mcp.AddTool(&mcp.Tool{
		Name:        "list_entry_functions",
		Description: "List the entry-point functions of a built repository, the natural starting points for reading the code graph.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"repo": {
					"type": "string",
					"description": "Repository hash. Omit for the most recent build."
				}
			}
		}`),
	}, s.handleListEntryFunctions)

	// 3. get_function
	s.mcp.AddTool(&mcp.Tool{
		Name:        "get_function",
		Description: "Fetch one function by name: location, descriptions, the ordered segment list (code, call, comment) with resolved call targets, and its components.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {
					"type": "string",
					"description": "Full dotted name (e.g. 'app.demo.DemoApp.run') or a bare function name when unambiguous."
				},
				"repo": {
					"type": "string",
					"description": "Repository hash. Omit for the most recent build."
				}
			},
			"required": ["name"]
		}`),
	}, s.handleGetFunction)

	// 4. list_functions
	s.mcp.AddTool(&mcp.Tool{
		Name:        "list_functions",
		Description: "List functions of a built repository, optionally filtered by a glob over the full dotted name (e.g. 'app.demo.*').",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern": {
					"type": "string",
					"description": "Glob over full names. Omit to list everything."
				},
				"repo": {"type": "string"},
				"limit": {"type": "integer"}
			}
		}`),
	}, s.handleListFunctions)

	// 5. list_callees
	s.mcp.AddTool(&mcp.Tool{
		Name:        "list_callees",
		Description: "List the functions a function calls, in source order of the call sites.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Function name."},
				"repo": {"type": "string"}
			},
			"required": ["name"]
		}`),
	}, s.handleListCallees)

	// 6. list_callers
	s.mcp.AddTool(&mcp.Tool{
		Name:        "list_callers",
		Description: "List the functions that call a function.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Function name."},
				"repo": {"type": "string"}
			},
			"required": ["name"]
		}`),
	}, s.handleListCallers)

	// 7. trace_call_path
	s.mcp.AddTool(&mcp.Tool{
		Name:        "trace_call_path",
		Description: "Trace call paths from a function using BFS. Returns hop-by-hop functions and the edges between them. Cycles and recursion are handled.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Function to trace from."},
				"direction": {
					"type": "string",
					"enum": ["callees", "callers"],
					"description": "Follow calls outward (callees, default) or inward (callers)."
				},
				"depth": {"type": "integer", "description": "Maximum BFS depth (default 3)."},
				"repo": {"type": "string"}
			},
			"required": ["name"]
		}`),
	}, s.handleTraceCallPath)

	// 8. get_code_snippet
	s.mcp.AddTool(&mcp.Tool{
		Name:        "get_code_snippet",
		Description: "Read a function's source from disk using its stored file path and line range.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Function name."},
				"repo": {"type": "string"}
			},
			"required": ["name"]
		}`),
	}, s.handleGetCodeSnippet)

	// 9. query_graph
	s.mcp.AddTool(&mcp.Tool{
		Name:        "query_graph",
		Description: "Run a Cypher-style query over the call graph. Nodes are functions (label Function), the relationship is CALLS. Supports MATCH patterns with direction and variable-length hops, WHERE filters (=, =~, CONTAINS, STARTS WITH, numeric comparisons), and RETURN with COUNT, DISTINCT, ORDER BY, LIMIT. Example: MATCH (f)-[:CALLS*1..3]->(g) WHERE f.name = \"main\" RETURN g.full_name",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The Cypher query."},
				"repo": {"type": "string"}
			},
			"required": ["query"]
		}`),
	}, s.handleQueryGraph)

	// 10. ask_codebase
	s.mcp.AddTool(&mcp.Tool{
		Name:        "ask_codebase",
		Description: "Answer a natural-language question about the repository by ranking function documentation, returning the best matching functions.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"question": {"type": "string"},
				"limit": {"type": "integer", "description": "Maximum answers (default 5)."},
				"repo": {"type": "string"}
			},
			"required": ["question"]
		}`),
	}, s.handleAskCodebase)
}

// jsonResult marshals data to JSON and returns it as a tool result.
func jsonResult(data any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errResult("json marshal err=" + err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}
}

// errResult returns a tool result indicating an error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// parseArgs unmarshals the raw JSON arguments into a map.
func parseArgs(req *mcp.CallToolRequest) (map[string]any, error) {
	if len(req.Params.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &m); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return m, nil
}

// getStringArg extracts a string argument from parsed args.
func getStringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// getIntArg extracts an integer argument with a default value.
func getIntArg(args map[string]any, key string, defaultVal int) int {
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	f, ok := v.(float64) // JSON numbers decode as float64
	if !ok {
		return defaultVal
	}
	return int(f)
}

// getBoolArg extracts a boolean argument with a default value.
func getBoolArg(args map[string]any, key string, defaultVal bool) bool {
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

// getStringSliceArg extracts a string-array argument.
func getStringSliceArg(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
