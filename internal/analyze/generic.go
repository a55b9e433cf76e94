package analyze

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/codetreehq/codetree/internal/fqn"
	"github.com/codetreehq/codetree/internal/lang"
	"github.com/codetreehq/codetree/internal/parser"
)

func extractGeneric(root *tree_sitter.Node, source []byte, lines []string, l lang.Language, result *FileResult) {
	switch l {
	case lang.Go:
		collectGoImports(root, source, result.Imports)
		extractGo(root, source, result)
	default:
		collectJSImports(root, source, result.Imports)
		walkJSDefs(root, source, nil, "", result)
	}
}

func extractGo(root *tree_sitter.Node, source []byte, result *FileResult) {
	for i := uint(0); i < root.NamedChildCount(); i++ {
		child := root.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "function_declaration":
			extractGoFunction(child, source, "", result)
		case "method_declaration":
			extractGoFunction(child, source, goReceiverType(child, source), result)
		}
	}
}

func extractGoFunction(node *tree_sitter.Node, source []byte, receiver string, result *FileResult) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := parser.NodeText(nameNode, source)
	qualified := name
	if receiver != "" {
		qualified = receiver + "." + name
	}

	d := &FunctionDecl{
		Name:          name,
		QualifiedName: qualified,
		ClassName:     receiver,
		Lineno:        int(node.StartPosition().Row) + 1,
		EndLineno:     int(node.EndPosition().Row) + 1,
		ParamTypes:    map[string]string{},
	}
	if params := node.ChildByFieldName("parameters"); params != nil {
		extractGoParams(params, source, d)
	}
	if body := node.ChildByFieldName("body"); body != nil {
		collectGoCalls(body, source, d)
	}
	result.Functions = append(result.Functions, d)
}

// goReceiverType pulls the receiver base type of a method declaration.
func goReceiverType(node *tree_sitter.Node, source []byte) string {
	recv := node.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	decl := recv.NamedChild(0)
	if decl == nil {
		return ""
	}
	typ := decl.ChildByFieldName("type")
	if typ == nil {
		return ""
	}
	return bareTypeName(parser.NodeText(typ, source))
}

func extractGoParams(params *tree_sitter.Node, source []byte, d *FunctionDecl) {
	for i := uint(0); i < params.NamedChildCount(); i++ {
		decl := params.NamedChild(i)
		if decl == nil || decl.Kind() != "parameter_declaration" {
			continue
		}
		typ := decl.ChildByFieldName("type")
		var cls string
		if typ != nil {
			cls = bareTypeName(parser.NodeText(typ, source))
		}
		// a parameter_declaration may bind several names to one type
		named := false
		for j := uint(0); j < decl.NamedChildCount(); j++ {
			n := decl.NamedChild(j)
			if n == nil || n.Kind() != "identifier" {
				continue
			}
			named = true
			pname := parser.NodeText(n, source)
			d.ParamOrder = append(d.ParamOrder, pname)
			if cls != "" {
				d.ParamTypes[pname] = cls
			}
		}
		if !named && typ != nil {
			d.ParamOrder = append(d.ParamOrder, "_")
		}
	}
}

func collectGoCalls(body *tree_sitter.Node, source []byte, d *FunctionDecl) {
	parser.Walk(body, func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "func_literal":
			return true
		case "short_var_declaration":
			left := n.ChildByFieldName("left")
			right := n.ChildByFieldName("right")
			if left == nil || right == nil || left.NamedChildCount() != 1 || right.NamedChildCount() != 1 {
				return true
			}
			v := left.NamedChild(0)
			rhs := right.NamedChild(0)
			if v == nil || rhs == nil || v.Kind() != "identifier" || rhs.Kind() != "call_expression" {
				return true
			}
			if fn := rhs.ChildByFieldName("function"); fn != nil {
				if chain := goChain(fn, source); chain != "" {
					d.Assignments = append(d.Assignments, &Assignment{
						Var:    parser.NodeText(v, source),
						Chain:  chain,
						Lineno: int(n.StartPosition().Row) + 1 - d.Lineno + 1,
					})
				}
			}
		case "call_expression":
			fn := n.ChildByFieldName("function")
			if fn == nil {
				return true
			}
			chain := goChain(fn, source)
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
					if a != nil && a.Kind() == "identifier" {
						site.ArgNames = append(site.ArgNames, parser.NodeText(a, source))
					}
				}
			}
			d.Calls = append(d.Calls, site)
		}
		return true
	})
}

func goChain(n *tree_sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	switch n.Kind() {
	case "identifier":
		return parser.NodeText(n, source)
	case "selector_expression":
		base := goChain(n.ChildByFieldName("operand"), source)
		field := n.ChildByFieldName("field")
		if base == "" || field == nil {
			return ""
		}
		return base + "." + parser.NodeText(field, source)
	}
	return ""
}

func collectGoImports(root *tree_sitter.Node, source []byte, imports *ImportMap) {
	parser.Walk(root, func(n *tree_sitter.Node) bool {
		if n.Kind() != "import_spec" {
			return n.Kind() == "source_file" || n.Kind() == "import_declaration" || n.Kind() == "import_spec_list"
		}
		path := n.ChildByFieldName("path")
		if path == nil {
			return false
		}
		mod := strings.Trim(parser.NodeText(path, source), `"`)
		imports.Modules[mod] = true
		local := mod
		if i := strings.LastIndexByte(mod, '/'); i >= 0 {
			local = mod[i+1:]
		}
		if name := n.ChildByFieldName("name"); name != nil {
			local = parser.NodeText(name, source)
		}
		if local != "_" && local != "." {
			imports.Locals[local] = mod
		}
		return false
	})
}

// walkJSDefs handles JavaScript, TypeScript and TSX definitions.
func walkJSDefs(node *tree_sitter.Node, source []byte, scope []string, currentClass string, result *FileResult) {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "function_declaration", "generator_function_declaration":
			extractJSFunction(child, source, scope, currentClass, "", result)
		case "class_declaration", "class":
			nameNode := child.ChildByFieldName("name")
			if nameNode == nil {
				continue
			}
			name := parser.NodeText(nameNode, source)
			if body := child.ChildByFieldName("body"); body != nil {
				walkJSClassBody(body, source, pushScope(scope, name), name, result)
			}
		case "lexical_declaration", "variable_declaration":
			extractJSVarFunctions(child, source, scope, currentClass, result)
		default:
			walkJSDefs(child, source, scope, currentClass, result)
		}
	}
}

func walkJSClassBody(body *tree_sitter.Node, source []byte, scope []string, className string, result *FileResult) {
	for i := uint(0); i < body.NamedChildCount(); i++ {
		m := body.NamedChild(i)
		if m == nil || m.Kind() != "method_definition" {
			continue
		}
		extractJSFunction(m, source, scope, className, "", result)
	}
}

// extractJSVarFunctions registers `const f = () => ...` style bindings.
func extractJSVarFunctions(decl *tree_sitter.Node, source []byte, scope []string, currentClass string, result *FileResult) {
	for i := uint(0); i < decl.NamedChildCount(); i++ {
		vd := decl.NamedChild(i)
		if vd == nil || vd.Kind() != "variable_declarator" {
			continue
		}
		nameNode := vd.ChildByFieldName("name")
		value := vd.ChildByFieldName("value")
		if nameNode == nil || value == nil || nameNode.Kind() != "identifier" {
			continue
		}
		switch value.Kind() {
		case "arrow_function", "function_expression", "function", "generator_function":
			extractJSFunction(value, source, scope, currentClass, parser.NodeText(nameNode, source), result)
		}
	}
}

func extractJSFunction(node *tree_sitter.Node, source []byte, scope []string, currentClass, nameOverride string, result *FileResult) {
	name := nameOverride
	if name == "" {
		nameNode := node.ChildByFieldName("name")
		if nameNode == nil {
			return
		}
		name = parser.NodeText(nameNode, source)
	}

	d := &FunctionDecl{
		Name:          name,
		QualifiedName: fqn.Qualified(scope, name),
		ClassName:     currentClass,
		Lineno:        int(node.StartPosition().Row) + 1,
		EndLineno:     int(node.EndPosition().Row) + 1,
		IsCtor:        currentClass != "" && name == "constructor",
		ParamTypes:    map[string]string{},
	}
	if params := node.ChildByFieldName("parameters"); params != nil {
		extractJSParams(params, source, d)
	}
	if body := node.ChildByFieldName("body"); body != nil {
		collectJSCalls(body, source, d)
		walkJSDefs(body, source, pushScope(scope, name), currentClass, result)
	}
	result.Functions = append(result.Functions, d)
}

func extractJSParams(params *tree_sitter.Node, source []byte, d *FunctionDecl) {
	for i := uint(0); i < params.NamedChildCount(); i++ {
		p := params.NamedChild(i)
		if p == nil {
			continue
		}
		switch p.Kind() {
		case "identifier":
			d.ParamOrder = append(d.ParamOrder, parser.NodeText(p, source))
		case "required_parameter", "optional_parameter":
			pattern := p.ChildByFieldName("pattern")
			if pattern == nil || pattern.Kind() != "identifier" {
				continue
			}
			pname := parser.NodeText(pattern, source)
			d.ParamOrder = append(d.ParamOrder, pname)
			if ann := p.ChildByFieldName("type"); ann != nil {
				text := strings.TrimPrefix(strings.TrimSpace(parser.NodeText(ann, source)), ":")
				if cls := annotationClass(text); cls != "" {
					d.ParamTypes[pname] = cls
				}
			}
		case "assignment_pattern":
			if left := p.ChildByFieldName("left"); left != nil && left.Kind() == "identifier" {
				d.ParamOrder = append(d.ParamOrder, parser.NodeText(left, source))
			}
		case "rest_pattern":
			if n := p.NamedChild(0); n != nil && n.Kind() == "identifier" {
				d.ParamOrder = append(d.ParamOrder, "..."+parser.NodeText(n, source))
			}
		}
	}
}

func collectJSCalls(body *tree_sitter.Node, source []byte, d *FunctionDecl) {
	parser.Walk(body, func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "function_declaration", "generator_function_declaration", "class_declaration", "method_definition":
			return false
		case "variable_declarator":
			nameNode := n.ChildByFieldName("name")
			value := n.ChildByFieldName("value")
			if nameNode != nil && value != nil && nameNode.Kind() == "identifier" && value.Kind() == "new_expression" {
				if ctor := value.ChildByFieldName("constructor"); ctor != nil {
					if chain := jsChain(ctor, source); chain != "" {
						d.Assignments = append(d.Assignments, &Assignment{
							Var:    parser.NodeText(nameNode, source),
							Chain:  chain,
							Lineno: int(n.StartPosition().Row) + 1 - d.Lineno + 1,
						})
					}
				}
			}
		case "call_expression", "new_expression":
			var fn *tree_sitter.Node
			if n.Kind() == "call_expression" {
				fn = n.ChildByFieldName("function")
			} else {
				fn = n.ChildByFieldName("constructor")
			}
			chain := jsChain(fn, source)
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
					if a != nil && a.Kind() == "identifier" {
						site.ArgNames = append(site.ArgNames, parser.NodeText(a, source))
					}
				}
			}
			d.Calls = append(d.Calls, site)
		}
		return true
	})
}

func jsChain(n *tree_sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	switch n.Kind() {
	case "identifier":
		return parser.NodeText(n, source)
	case "this":
		return "this"
	case "member_expression":
		base := jsChain(n.ChildByFieldName("object"), source)
		prop := n.ChildByFieldName("property")
		if base == "" || prop == nil {
			return ""
		}
		return base + "." + parser.NodeText(prop, source)
	}
	return ""
}

func collectJSImports(root *tree_sitter.Node, source []byte, imports *ImportMap) {
	for i := uint(0); i < root.NamedChildCount(); i++ {
		stmt := root.NamedChild(i)
		if stmt == nil || stmt.Kind() != "import_statement" {
			continue
		}
		src := stmt.ChildByFieldName("source")
		if src == nil {
			continue
		}
		mod := strings.Trim(parser.NodeText(src, source), `"'`)
		mod = jsModulePath(mod)
		imports.Modules[mod] = true
		for j := uint(0); j < stmt.NamedChildCount(); j++ {
			clause := stmt.NamedChild(j)
			if clause == nil || clause.Kind() != "import_clause" {
				continue
			}
			parser.Walk(clause, func(n *tree_sitter.Node) bool {
				switch n.Kind() {
				case "identifier":
					imports.Locals[parser.NodeText(n, source)] = mod
					return false
				case "import_specifier":
					name := n.ChildByFieldName("name")
					local := n.ChildByFieldName("alias")
					if local == nil {
						local = name
					}
					if name != nil && local != nil {
						imports.Locals[parser.NodeText(local, source)] = mod
					}
					return false
				case "namespace_import":
					if id := n.NamedChild(0); id != nil {
						imports.Locals[parser.NodeText(id, source)] = mod
					}
					return false
				}
				return true
			})
		}
	}
}

// jsModulePath normalizes a relative import specifier to the dotted module
// convention used for file identity, e.g. ./utils/math -> utils.math.
func jsModulePath(spec string) string {
	spec = strings.TrimPrefix(spec, "./")
	for strings.HasPrefix(spec, "../") {
		spec = strings.TrimPrefix(spec, "../")
	}
	for _, ext := range []string{".ts", ".tsx", ".js", ".jsx"} {
		spec = strings.TrimSuffix(spec, ext)
	}
	return strings.ReplaceAll(spec, "/", ".")
}

// bareTypeName strips pointers, slices and package qualifiers from a type
// expression, leaving the base named type.
func bareTypeName(text string) string {
	text = strings.TrimSpace(text)
	for {
		switch {
		case strings.HasPrefix(text, "*"):
			text = text[1:]
		case strings.HasPrefix(text, "[]"):
			text = text[2:]
		case strings.HasPrefix(text, "..."):
			text = text[3:]
		default:
			if i := strings.IndexByte(text, '['); i >= 0 {
				text = text[:i]
			}
			return fqn.LastSegment(text)
		}
	}
}
