package resolve

import (
	"strings"

	"github.com/codetreehq/codetree/internal/analyze"
)

// maxPropagationRounds bounds the fixed-point iteration; class bindings
// rarely need more than two hops to settle.
const maxPropagationRounds = 5

// propagateTypes flows class bindings from call arguments into the untyped
// parameters of resolved callees, then repeats until no parameter gains a
// type or the round limit is hit. Annotated parameters are never overwritten.
func propagateTypes(reg *Registry) {
	for round := 0; round < maxPropagationRounds; round++ {
		changed := false
		for _, d := range reg.Functions {
			env := reg.BindingEnv(d)
			for _, site := range d.Calls {
				res := reg.Resolve(d, site.Chain, env)
				if res.Target == nil {
					continue
				}
				if propagateCall(env, site, res.Target) {
					changed = true
				}
			}
		}
		if !changed {
			return
		}
	}
}

func propagateCall(env map[string]string, site *analyze.CallSite, target *analyze.FunctionDecl) bool {
	changed := false
	params := target.ParamOrder

	offset := 0
	if target.ClassName != "" && len(params) > 0 && (params[0] == "self" || params[0] == "cls") {
		offset = 1
	}
	for i, arg := range site.ArgNames {
		idx := i + offset
		if idx >= len(params) {
			break
		}
		p := params[idx]
		if strings.HasPrefix(p, "*") || strings.HasPrefix(p, ".") {
			break
		}
		if setParamType(target, p, env[arg]) {
			changed = true
		}
	}
	for kw, arg := range site.KwArgNames {
		if !hasParam(params, kw) {
			continue
		}
		if setParamType(target, kw, env[arg]) {
			changed = true
		}
	}
	return changed
}

func setParamType(target *analyze.FunctionDecl, param, class string) bool {
	if class == "" {
		return false
	}
	if _, ok := target.ParamTypes[param]; ok {
		return false
	}
	target.ParamTypes[param] = class
	return true
}

func hasParam(params []string, name string) bool {
	for _, p := range params {
		if p == name {
			return true
		}
	}
	return false
}
