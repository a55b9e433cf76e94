// Command ast_debug dumps the tree-sitter AST of a source file. It is a
// development aid for writing and debugging grammar queries.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/codetreehq/codetree/internal/lang"
	"github.com/codetreehq/codetree/internal/parser"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

func printAST(node *tree_sitter.Node, source []byte, indent int) {
	if node == nil {
		return
	}
	prefix := ""
	for i := 0; i < indent; i++ {
		prefix += "  "
	}
	parentKind := "nil"
	if node.Parent() != nil {
		parentKind = node.Parent().Kind()
	}
	text := string(source[node.StartByte():node.EndByte()])
	if len(text) > 60 {
		text = text[:60] + "..."
	}
	fmt.Printf("%s%s (parent=%s) %q\n", prefix, node.Kind(), parentKind, text)
	for i := uint(0); i < node.ChildCount(); i++ {
		printAST(node.Child(i), source, indent+1)
	}
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: ast_debug <source-file>")
		os.Exit(2)
	}
	path := os.Args[1]

	spec := lang.ForExtension(filepath.Ext(path))
	if spec == nil {
		fmt.Fprintf(os.Stderr, "unsupported file extension: %s\n", filepath.Ext(path))
		os.Exit(1)
	}

	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	tree, err := parser.Parse(spec.Language, source)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer tree.Close()

	fmt.Printf("=== %s (%s) ===\n", path, spec.Language)
	printAST(tree.RootNode(), source, 0)
}
