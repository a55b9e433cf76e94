package analyze

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/codetreehq/codetree/internal/fqn"
	"github.com/codetreehq/codetree/internal/parser"
)

func extractPython(root *tree_sitter.Node, source []byte, lines []string, result *FileResult) {
	collectPythonImports(root, source, result.Imports)
	walkPythonDefs(root, source, nil, "", result)
}

// walkPythonDefs walks definitions carrying the enclosing scope chain and the
// innermost enclosing class name.
func walkPythonDefs(node *tree_sitter.Node, source []byte, scope []string, currentClass string, result *FileResult) {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "class_definition":
			nameNode := child.ChildByFieldName("name")
			if nameNode == nil {
				continue
			}
			name := parser.NodeText(nameNode, source)
			if body := child.ChildByFieldName("body"); body != nil {
				walkPythonDefs(body, source, pushScope(scope, name), name, result)
			}
		case "function_definition":
			extractPythonFunction(child, source, scope, currentClass, result)
		case "decorated_definition":
			if def := child.ChildByFieldName("definition"); def != nil {
				switch def.Kind() {
				case "function_definition":
					extractPythonFunction(def, source, scope, currentClass, result)
				case "class_definition":
					nameNode := def.ChildByFieldName("name")
					if nameNode == nil {
						continue
					}
					name := parser.NodeText(nameNode, source)
					if body := def.ChildByFieldName("body"); body != nil {
						walkPythonDefs(body, source, pushScope(scope, name), name, result)
					}
				}
			}
		case "if_statement":
			if len(scope) == 0 && isMainGuard(child, source) {
				extractPythonMainBlock(child, source, result)
				continue
			}
			walkPythonDefs(child, source, scope, currentClass, result)
		default:
			// functions may hide inside try/with/for blocks
			walkPythonDefs(child, source, scope, currentClass, result)
		}
	}
}

func pushScope(scope []string, name string) []string {
	out := make([]string, len(scope), len(scope)+1)
	copy(out, scope)
	return append(out, name)
}

func extractPythonFunction(node *tree_sitter.Node, source []byte, scope []string, currentClass string, result *FileResult) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := parser.NodeText(nameNode, source)

	d := &FunctionDecl{
		Name:          name,
		QualifiedName: fqn.Qualified(scope, name),
		ClassName:     currentClass,
		Lineno:        int(node.StartPosition().Row) + 1,
		EndLineno:     int(node.EndPosition().Row) + 1,
		IsCtor:        currentClass != "" && name == "__init__",
		ParamTypes:    map[string]string{},
	}
	if params := node.ChildByFieldName("parameters"); params != nil {
		extractPythonParams(params, source, d)
	}
	if body := node.ChildByFieldName("body"); body != nil {
		collectPythonCalls(body, source, d)
		// nested defs are functions of their own
		walkPythonDefs(body, source, pushScope(scope, name), currentClass, result)
	}
	result.Functions = append(result.Functions, d)
}

// extractPythonMainBlock registers an `if __name__ == "__main__"` guard as a
// pseudo-function named __main__.
func extractPythonMainBlock(node *tree_sitter.Node, source []byte, result *FileResult) {
	d := &FunctionDecl{
		Name:          "__main__",
		QualifiedName: "__main__",
		Lineno:        int(node.StartPosition().Row) + 1,
		EndLineno:     int(node.EndPosition().Row) + 1,
		ParamTypes:    map[string]string{},
	}
	if body := node.ChildByFieldName("consequence"); body != nil {
		collectPythonCalls(body, source, d)
		walkPythonDefs(body, source, nil, "", result)
	}
	result.Functions = append(result.Functions, d)
}

func isMainGuard(node *tree_sitter.Node, source []byte) bool {
	cond := node.ChildByFieldName("condition")
	if cond == nil {
		return false
	}
	text := parser.NodeText(cond, source)
	return strings.HasPrefix(strings.TrimSpace(text), "__name__") && strings.Contains(text, "__main__")
}

func extractPythonParams(params *tree_sitter.Node, source []byte, d *FunctionDecl) {
	for i := uint(0); i < params.NamedChildCount(); i++ {
		p := params.NamedChild(i)
		if p == nil {
			continue
		}
		switch p.Kind() {
		case "identifier":
			d.ParamOrder = append(d.ParamOrder, parser.NodeText(p, source))
		case "typed_parameter":
			pattern := p.NamedChild(0)
			if pattern == nil || pattern.Kind() != "identifier" {
				continue
			}
			pname := parser.NodeText(pattern, source)
			d.ParamOrder = append(d.ParamOrder, pname)
			if typ := p.ChildByFieldName("type"); typ != nil {
				if cls := annotationClass(parser.NodeText(typ, source)); cls != "" {
					d.ParamTypes[pname] = cls
				}
			}
		case "default_parameter":
			if n := p.ChildByFieldName("name"); n != nil {
				d.ParamOrder = append(d.ParamOrder, parser.NodeText(n, source))
			}
		case "typed_default_parameter":
			n := p.ChildByFieldName("name")
			if n == nil {
				continue
			}
			pname := parser.NodeText(n, source)
			d.ParamOrder = append(d.ParamOrder, pname)
			if typ := p.ChildByFieldName("type"); typ != nil {
				if cls := annotationClass(parser.NodeText(typ, source)); cls != "" {
					d.ParamTypes[pname] = cls
				}
			}
		case "list_splat_pattern":
			if n := p.NamedChild(0); n != nil {
				d.ParamOrder = append(d.ParamOrder, "*"+parser.NodeText(n, source))
			}
		case "dictionary_splat_pattern":
			if n := p.NamedChild(0); n != nil {
				d.ParamOrder = append(d.ParamOrder, "**"+parser.NodeText(n, source))
			}
		}
	}
}

// annotationClass maps an annotation like demo.DemoApp.Foo or list[Foo] to a
// bare class name.
func annotationClass(text string) string {
	text = strings.Trim(text, `"'`)
	if i := strings.IndexByte(text, '['); i >= 0 {
		text = text[:i]
	}
	return fqn.LastSegment(strings.TrimSpace(text))
}

// collectPythonCalls records call sites and constructor-style assignments in
// a function body, without descending into nested definitions.
func collectPythonCalls(body *tree_sitter.Node, source []byte, d *FunctionDecl) {
	parser.Walk(body, func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "function_definition", "class_definition":
			return false
		case "assignment":
			left := n.ChildByFieldName("left")
			right := n.ChildByFieldName("right")
			if left != nil && right != nil && left.Kind() == "identifier" && right.Kind() == "call" {
				if fn := right.ChildByFieldName("function"); fn != nil {
					if chain := pyChain(fn, source); chain != "" {
						d.Assignments = append(d.Assignments, &Assignment{
							Var:    parser.NodeText(left, source),
							Chain:  chain,
							Lineno: int(n.StartPosition().Row) + 1 - d.Lineno + 1,
						})
					}
				}
			}
		case "call":
			fn := n.ChildByFieldName("function")
			if fn == nil {
				return true
			}
			chain := pyChain(fn, source)
			if chain == "" {
				return true
			}
			site := &CallSite{
				Chain:     chain,
				Lineno:    int(n.StartPosition().Row) + 1 - d.Lineno + 1,
				EndLineno: int(n.EndPosition().Row) + 1 - d.Lineno + 1,
				Content:   strings.TrimSpace(parser.NodeText(n, source)),
			}
			if args := n.ChildByFieldName("arguments"); args != nil {
				for i := uint(0); i < args.NamedChildCount(); i++ {
					a := args.NamedChild(i)
					if a == nil {
						continue
					}
					switch a.Kind() {
					case "identifier":
						site.ArgNames = append(site.ArgNames, parser.NodeText(a, source))
					case "keyword_argument":
						kn := a.ChildByFieldName("name")
						kv := a.ChildByFieldName("value")
						if kn != nil && kv != nil && kv.Kind() == "identifier" {
							if site.KwArgNames == nil {
								site.KwArgNames = map[string]string{}
							}
							site.KwArgNames[parser.NodeText(kn, source)] = parser.NodeText(kv, source)
						}
					}
				}
			}
			d.Calls = append(d.Calls, site)
		}
		return true
	})
}

// pyChain flattens a pure identifier/attribute chain, e.g. demo.run_demo.
// Anything else (subscripts, call results) yields "".
func pyChain(n *tree_sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	switch n.Kind() {
	case "identifier":
		return parser.NodeText(n, source)
	case "attribute":
		base := pyChain(n.ChildByFieldName("object"), source)
		attr := n.ChildByFieldName("attribute")
		if base == "" || attr == nil {
			return ""
		}
		return base + "." + parser.NodeText(attr, source)
	}
	return ""
}

func collectPythonImports(root *tree_sitter.Node, source []byte, imports *ImportMap) {
	for i := uint(0); i < root.NamedChildCount(); i++ {
		stmt := root.NamedChild(i)
		if stmt == nil {
			continue
		}
		switch stmt.Kind() {
		case "import_statement":
			for j := uint(0); j < stmt.NamedChildCount(); j++ {
				item := stmt.NamedChild(j)
				if item == nil {
					continue
				}
				switch item.Kind() {
				case "dotted_name":
					imports.Modules[parser.NodeText(item, source)] = true
				case "aliased_import":
					name := item.ChildByFieldName("name")
					alias := item.ChildByFieldName("alias")
					if name != nil {
						mod := parser.NodeText(name, source)
						imports.Modules[mod] = true
						if alias != nil {
							imports.Locals[parser.NodeText(alias, source)] = mod
						}
					}
				}
			}
		case "import_from_statement":
			modNode := stmt.ChildByFieldName("module_name")
			if modNode == nil {
				continue
			}
			mod := parser.NodeText(modNode, source)
			imports.Modules[mod] = true
			for j := uint(0); j < stmt.NamedChildCount(); j++ {
				item := stmt.NamedChild(j)
				if item == nil || item.StartByte() <= modNode.StartByte() {
					continue
				}
				switch item.Kind() {
				case "dotted_name":
					imports.Locals[parser.NodeText(item, source)] = mod
				case "aliased_import":
					name := item.ChildByFieldName("name")
					alias := item.ChildByFieldName("alias")
					if name != nil && alias != nil {
						imports.Locals[parser.NodeText(alias, source)] = mod
					}
				}
			}
		}
	}
}
