// Package analyze extracts functions, call sites and comment positions from
// source files. Extraction is per file and side-effect free so files can be
// parsed concurrently; cross-file resolution happens later.
package analyze

import (
	"fmt"
	"strings"

	"github.com/codetreehq/codetree/internal/discover"
	"github.com/codetreehq/codetree/internal/fqn"
	"github.com/codetreehq/codetree/internal/lang"
	"github.com/codetreehq/codetree/internal/parser"
)

// ParseError marks a file the parser could not produce a usable tree for.
// The build records it and continues with the remaining files.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ImportMap records what a file imports.
type ImportMap struct {
	Modules map[string]bool   // imported module paths
	Locals  map[string]string // local name -> module path (from-imports and aliases)
}

// CallSite is one syntactic invocation inside a function body.
// Line numbers are relative to the function (definition line = 1).
type CallSite struct {
	Chain      string // dotted callee expression, e.g. demo.run_demo
	Lineno     int
	EndLineno  int
	Content    string
	ArgNames   []string          // positional arguments that are bare identifiers
	KwArgNames map[string]string // keyword name -> bare identifier argument
}

// Assignment is a `x = SomeCallable(...)` binding inside a function body.
type Assignment struct {
	Var    string
	Chain  string // invoked chain on the right-hand side
	Lineno int    // relative
}

// CommentLine is one comment inside a function body.
type CommentLine struct {
	Lineno     int // relative
	Text       string
	Standalone bool // comment is the first token on its line
}

// FunctionDecl is one extracted function or method.
type FunctionDecl struct {
	Name          string
	QualifiedName string // in-file scope chain, e.g. DemoApp.run
	Module        string
	ClassName     string
	FilePath      string // relative to repo root
	Lineno        int    // absolute, 1-based, inclusive
	EndLineno     int
	IsCtor        bool

	Lines      []string // body lines, definition line included
	ParamOrder []string
	ParamTypes map[string]string // param -> bare class name from annotation

	Calls       []*CallSite
	Assignments []*Assignment
	Comments    []CommentLine
}

// FullName returns the repository-wide dotted name.
func (d *FunctionDecl) FullName() string {
	return fqn.Full(d.Module, d.QualifiedName)
}

// BodyLen returns the number of lines the function spans.
func (d *FunctionDecl) BodyLen() int {
	return d.EndLineno - d.Lineno + 1
}

// Source returns the function's text.
func (d *FunctionDecl) Source() string {
	return strings.TrimRight(strings.Join(d.Lines, "\n"), "\n")
}

// Signature returns a stable textual signature used for content hashing.
func (d *FunctionDecl) Signature() string {
	return d.FullName() + "(" + strings.Join(d.ParamOrder, ",") + ")"
}

// FileResult is everything extracted from one source file.
type FileResult struct {
	File      discover.FileInfo
	Module    string
	Imports   *ImportMap
	Functions []*FunctionDecl
}

// ParseFile parses one source file and extracts its functions.
// Returns *ParseError when the file has syntax errors.
func ParseFile(f discover.FileInfo, source []byte) (*FileResult, error) {
	tree, err := parser.Parse(f.Language, source)
	if err != nil {
		return nil, &ParseError{Path: f.RelPath, Err: err}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, &ParseError{Path: f.RelPath, Err: fmt.Errorf("no root node")}
	}
	if root.HasError() {
		return nil, &ParseError{Path: f.RelPath, Err: fmt.Errorf("syntax errors in file")}
	}

	result := &FileResult{
		File:   f,
		Module: fqn.Module(f.RelPath),
		Imports: &ImportMap{
			Modules: map[string]bool{},
			Locals:  map[string]string{},
		},
	}
	lines := splitLines(source)

	switch f.Language {
	case lang.Python:
		extractPython(root, source, lines, result)
	default:
		extractGeneric(root, source, lines, f.Language, result)
	}

	// Attach body lines and comments per function
	for _, d := range result.Functions {
		d.Module = result.Module
		d.FilePath = f.RelPath
		if d.EndLineno > len(lines) {
			d.EndLineno = len(lines)
		}
		d.Lines = append([]string{}, lines[d.Lineno-1:d.EndLineno]...)
	}
	attachComments(root, source, lines, f.Language, result)

	return result, nil
}

// splitLines splits source into lines without trailing newlines.
func splitLines(source []byte) []string {
	s := strings.TrimSuffix(string(source), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// lineIsBlankBefore reports whether a line holds only whitespace before col.
func lineIsBlankBefore(line string, col int) bool {
	if col > len(line) {
		col = len(line)
	}
	return strings.TrimSpace(line[:col]) == ""
}
