package analyze

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/codetreehq/codetree/internal/lang"
	"github.com/codetreehq/codetree/internal/parser"
)

// attachComments collects comment nodes and attaches each to every function
// whose line range contains it, with function-relative line numbers.
func attachComments(root *tree_sitter.Node, source []byte, lines []string, l lang.Language, result *FileResult) {
	spec := lang.ForLanguage(l)
	if spec == nil || len(spec.CommentNodeTypes) == 0 {
		return
	}
	kinds := map[string]bool{}
	for _, k := range spec.CommentNodeTypes {
		kinds[k] = true
	}

	type comment struct {
		line int // absolute
		col  int
		text string
	}
	var comments []comment

	parser.Walk(root, func(n *tree_sitter.Node) bool {
		if kinds[n.Kind()] {
			comments = append(comments, comment{
				line: int(n.StartPosition().Row) + 1,
				col:  int(n.StartPosition().Column),
				text: parser.NodeText(n, source),
			})
			return false
		}
		return true
	})

	for _, d := range result.Functions {
		for _, c := range comments {
			if c.line < d.Lineno || c.line > d.EndLineno {
				continue
			}
			standalone := false
			if c.line-1 < len(lines) {
				standalone = lineIsBlankBefore(lines[c.line-1], c.col)
			}
			d.Comments = append(d.Comments, CommentLine{
				Lineno:     c.line - d.Lineno + 1,
				Text:       c.text,
				Standalone: standalone,
			})
		}
	}
}
