// Package api is the read surface over a built code graph, shared by the
// CLI and the MCP tools.
package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codetreehq/codetree/internal/qa"
	"github.com/codetreehq/codetree/internal/store"
)

// API answers queries against one store.
type API struct {
	Store    *store.Store
	Embedder qa.Embedder // optional, for Ask
}

// ResolveRepo maps a hash (or empty string) to a repository. Empty selects
// the most recently built one.
func (a *API) ResolveRepo(hash string) (*store.Repository, error) {
	if hash != "" {
		repo, err := a.Store.GetRepository(hash)
		if err != nil {
			return nil, err
		}
		if repo == nil {
			return nil, fmt.Errorf("no repository with hash %s", hash)
		}
		return repo, nil
	}
	repos, err := a.Store.ListRepositories()
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		return nil, fmt.Errorf("no repositories built yet")
	}
	return repos[len(repos)-1], nil
}

// EntryFunctions lists the marked entry points of a repository.
func (a *API) EntryFunctions(repoHash string) ([]*store.Function, error) {
	repo, err := a.ResolveRepo(repoHash)
	if err != nil {
		return nil, err
	}
	return a.Store.EntryFunctions(repo.Hash)
}

// AllFunctions lists every function of a repository.
func (a *API) AllFunctions(repoHash string) ([]*store.Function, error) {
	repo, err := a.ResolveRepo(repoHash)
	if err != nil {
		return nil, err
	}
	return a.Store.AllFunctions(repo.Hash)
}

// FunctionDetail is one function with its segments and components.
type FunctionDetail struct {
	Function   *store.Function
	Segments   []*store.Segment
	Components []*store.Component
}

// Function looks a function up by full dotted name, falling back to a bare
// name match when the full name misses, and loads its segments and
// components.
func (a *API) Function(repoHash, name string) (*FunctionDetail, error) {
	repo, err := a.ResolveRepo(repoHash)
	if err != nil {
		return nil, err
	}
	fn, err := a.lookup(repo.Hash, name)
	if err != nil {
		return nil, err
	}
	segs, err := a.Store.SegmentsByFunction(fn.ID)
	if err != nil {
		return nil, err
	}
	comps, err := a.Store.ComponentsByFunction(fn.ID)
	if err != nil {
		return nil, err
	}
	return &FunctionDetail{Function: fn, Segments: segs, Components: comps}, nil
}

func (a *API) lookup(repoHash, name string) (*store.Function, error) {
	fn, err := a.Store.FindFunctionByFullName(repoHash, name)
	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn, nil
	}
	matches, err := a.Store.FindFunctionsByName(repoHash, name)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no function named %q", name)
	case 1:
		return matches[0], nil
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.FullName()
	}
	return nil, fmt.Errorf("name %q is ambiguous: %s", name, strings.Join(names, ", "))
}

// Callees returns the functions a function calls, in source order.
func (a *API) Callees(repoHash, name string) ([]*store.Function, error) {
	repo, err := a.ResolveRepo(repoHash)
	if err != nil {
		return nil, err
	}
	fn, err := a.lookup(repo.Hash, name)
	if err != nil {
		return nil, err
	}
	return a.Store.Callees(fn.ID)
}

// Callers returns the functions calling a function.
func (a *API) Callers(repoHash, name string) ([]*store.Function, error) {
	repo, err := a.ResolveRepo(repoHash)
	if err != nil {
		return nil, err
	}
	fn, err := a.lookup(repo.Hash, name)
	if err != nil {
		return nil, err
	}
	return a.Store.Callers(fn.ID)
}

// Trace walks the call graph breadth-first from a function.
func (a *API) Trace(repoHash, name, direction string, depth, maxResults int) (*store.TraverseResult, error) {
	repo, err := a.ResolveRepo(repoHash)
	if err != nil {
		return nil, err
	}
	fn, err := a.lookup(repo.Hash, name)
	if err != nil {
		return nil, err
	}
	return a.Store.BFS(fn.ID, direction, depth, maxResults)
}

// Answer is one ranked response to a question.
type Answer struct {
	Function *store.Function
	Score    float64
	Content  string
}

// AskResult pairs a synthesized answer with the ranked matches it was
// drawn from.
type AskResult struct {
	Answer  string
	Matches []Answer
}

// Ask ranks the repository's functions against a natural-language question
// and synthesizes an answer from the top matches.
func (a *API) Ask(ctx context.Context, repoHash, question string, limit int) (*AskResult, error) {
	repo, err := a.ResolveRepo(repoHash)
	if err != nil {
		return nil, err
	}
	ix := &qa.Indexer{Store: a.Store, Embedder: a.Embedder}
	results, err := ix.Search(ctx, repo.Hash, question, limit)
	if err != nil {
		return nil, err
	}
	answers := make([]Answer, 0, len(results))
	for _, r := range results {
		fn, err := a.Store.FindFunctionByID(r.FunctionID)
		if err != nil {
			return nil, err
		}
		if fn == nil {
			continue
		}
		answers = append(answers, Answer{Function: fn, Score: r.Score, Content: r.Content})
	}
	return &AskResult{Answer: synthesizeAnswer(answers), Matches: answers}, nil
}

// synthesizeAnswer builds a textual answer from ranked matches without a
// chat model: the top match carries the answer, the rest are mentioned.
func synthesizeAnswer(matches []Answer) string {
	if len(matches) == 0 {
		return "No indexed function matches the question."
	}
	top := matches[0].Function
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s:%d) is the closest match", top.FullName(), top.FilePath, top.Lineno)
	if top.ShortDescription != "" {
		fmt.Fprintf(&b, ": %s", strings.TrimSuffix(top.ShortDescription, "."))
	}
	b.WriteString(".")
	if len(matches) > 1 {
		names := make([]string, 0, len(matches)-1)
		for _, m := range matches[1:] {
			names = append(names, m.Function.FullName())
		}
		fmt.Fprintf(&b, " Also relevant: %s.", strings.Join(names, ", "))
	}
	return b.String()
}

// Snippet reads a function's source straight from disk using the stored
// line range.
func (a *API) Snippet(repoHash, name string) (string, error) {
	repo, err := a.ResolveRepo(repoHash)
	if err != nil {
		return "", err
	}
	fn, err := a.lookup(repo.Hash, name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(repo.Root, filepath.FromSlash(fn.FilePath)))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", fn.FilePath, err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if fn.Lineno < 1 || fn.Lineno > len(lines) {
		return "", fmt.Errorf("stale line range for %s", fn.FullName())
	}
	end := fn.EndLineno
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[fn.Lineno-1:end], "\n"), nil
}
