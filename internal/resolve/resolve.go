// Package resolve links extracted call sites to function declarations across
// the whole repository. It runs after every file has been parsed, so the
// symbol table is complete before the first lookup.
package resolve

import (
	"sort"
	"strings"

	"github.com/codetreehq/codetree/internal/analyze"
	"github.com/codetreehq/codetree/internal/fqn"
)

// State classifies a lookup outcome.
type State int

const (
	Unresolved State = iota
	Resolved
	Ambiguous
)

func (s State) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Ambiguous:
		return "ambiguous"
	default:
		return "unresolved"
	}
}

// Resolution is the outcome of resolving one call site. For Ambiguous the
// lexically last candidate is chosen as Target and the rest are kept in
// Candidates.
type Resolution struct {
	State      State
	Target     *analyze.FunctionDecl
	Candidates []*analyze.FunctionDecl
}

// ResolvedCall pairs a call site with its resolution.
type ResolvedCall struct {
	Site *analyze.CallSite
	Resolution
}

// Result holds the resolver output for the whole repository.
type Result struct {
	Registry *Registry
	Calls    map[*analyze.FunctionDecl][]ResolvedCall
}

// Registry is the repository-wide symbol table.
type Registry struct {
	Functions []*analyze.FunctionDecl

	byFull      map[string][]*analyze.FunctionDecl
	byName      map[string][]*analyze.FunctionDecl
	ctorByClass map[string][]*analyze.FunctionDecl
	methods     map[string][]*analyze.FunctionDecl // ClassName.Name
	imports     map[string]*analyze.ImportMap      // module -> imports of its file
}

// NewRegistry indexes the parse results of every file.
func NewRegistry(files []*analyze.FileResult) *Registry {
	r := &Registry{
		byFull:      map[string][]*analyze.FunctionDecl{},
		byName:      map[string][]*analyze.FunctionDecl{},
		ctorByClass: map[string][]*analyze.FunctionDecl{},
		methods:     map[string][]*analyze.FunctionDecl{},
		imports:     map[string]*analyze.ImportMap{},
	}
	for _, f := range files {
		r.imports[f.Module] = f.Imports
		for _, d := range f.Functions {
			r.Functions = append(r.Functions, d)
			full := d.FullName()
			r.byFull[full] = append(r.byFull[full], d)
			r.byName[d.Name] = append(r.byName[d.Name], d)
			if d.IsCtor {
				r.ctorByClass[d.ClassName] = append(r.ctorByClass[d.ClassName], d)
			}
			if d.ClassName != "" {
				key := d.ClassName + "." + d.Name
				r.methods[key] = append(r.methods[key], d)
			}
		}
	}
	return r
}

// FullNames returns every declared full name, sorted.
func (r *Registry) FullNames() []string {
	names := make([]string, 0, len(r.byFull))
	for n := range r.byFull {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the declarations registered under a full dotted name.
func (r *Registry) Lookup(full string) []*analyze.FunctionDecl {
	return r.byFull[full]
}

// HasClass reports whether any constructor is registered for the class.
func (r *Registry) HasClass(class string) bool {
	return len(r.ctorByClass[class]) > 0
}

func (r *Registry) importsOf(module string) *analyze.ImportMap {
	if im := r.imports[module]; im != nil {
		return im
	}
	return &analyze.ImportMap{Modules: map[string]bool{}, Locals: map[string]string{}}
}

// pick turns a candidate list into a Resolution. Multiple candidates are
// legal (same-name functions in sibling files); the lexically last one by
// (file path, line) wins and the call is flagged ambiguous.
func pick(candidates []*analyze.FunctionDecl) Resolution {
	switch len(candidates) {
	case 0:
		return Resolution{State: Unresolved}
	case 1:
		return Resolution{State: Resolved, Target: candidates[0]}
	}
	sorted := make([]*analyze.FunctionDecl, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].FilePath != sorted[j].FilePath {
			return sorted[i].FilePath < sorted[j].FilePath
		}
		return sorted[i].Lineno < sorted[j].Lineno
	})
	return Resolution{State: Ambiguous, Target: sorted[len(sorted)-1], Candidates: sorted}
}

// Resolve finds the declaration a call chain refers to, trying in order:
// exact full name, imported name, same module, constructor, instance method
// through the binding environment, and finally a suffix match restricted to
// imported modules.
func (r *Registry) Resolve(caller *analyze.FunctionDecl, chain string, env map[string]string) Resolution {
	imports := r.importsOf(caller.Module)

	// 1. the chain already is a full name
	if res := pick(r.byFull[chain]); res.State != Unresolved {
		return res
	}

	// 2. first segment is an imported local name or module alias
	base, rest, hasRest := strings.Cut(chain, ".")
	if mod, ok := imports.Locals[base]; ok {
		if !hasRest {
			// from mod import base: base names a function or class there
			if res := pick(r.byFull[mod+"."+base]); res.State != Unresolved {
				return res
			}
			if res := r.resolveCtor(mod, base); res.State != Unresolved {
				return res
			}
		} else {
			// alias.rest: base may alias a module or name a class
			if res := pick(r.byFull[mod+"."+rest]); res.State != Unresolved {
				return res
			}
			if res := pick(r.byFull[mod+"."+base+"."+rest]); res.State != Unresolved {
				return res
			}
		}
	}

	// 3. declared in the caller's own module
	if res := pick(r.byFull[fqn.Full(caller.Module, chain)]); res.State != Unresolved {
		return res
	}

	// 4. bare class name: a call constructs it
	if !hasRest {
		if res := pick(r.ctorByClass[chain]); res.State != Unresolved {
			return res
		}
	}

	// 5. method call through a bound variable
	if hasRest && env != nil {
		if class, ok := env[base]; ok {
			method, _, _ := strings.Cut(rest, ".")
			if res := pick(r.methods[class+"."+method]); res.State != Unresolved {
				return res
			}
		}
	}

	// 6. suffix match, gated on the caller's imports
	var viaSuffix []*analyze.FunctionDecl
	last := fqn.LastSegment(chain)
	for _, cand := range r.byName[last] {
		full := cand.FullName()
		if !strings.HasSuffix(full, "."+chain) && full != chain {
			continue
		}
		if imports.Modules[cand.Module] || modulePrefixImported(imports, cand.Module) {
			viaSuffix = append(viaSuffix, cand)
		}
	}
	return pick(viaSuffix)
}

func (r *Registry) resolveCtor(module, class string) Resolution {
	var hits []*analyze.FunctionDecl
	for _, c := range r.ctorByClass[class] {
		if c.Module == module {
			hits = append(hits, c)
		}
	}
	return pick(hits)
}

func modulePrefixImported(imports *analyze.ImportMap, module string) bool {
	for imported := range imports.Modules {
		if imported == module || strings.HasPrefix(module, imported+".") {
			return true
		}
	}
	return false
}

// BindingEnv builds the variable-to-class map for one function: self and cls
// bind to the enclosing class, annotated parameters to their declared class,
// and constructor assignments to the constructed class.
func (r *Registry) BindingEnv(d *analyze.FunctionDecl) map[string]string {
	env := map[string]string{}
	if d.ClassName != "" {
		env["self"] = d.ClassName
		env["cls"] = d.ClassName
		env["this"] = d.ClassName
	}
	for p, class := range d.ParamTypes {
		env[p] = class
	}
	for _, a := range d.Assignments {
		class := fqn.LastSegment(a.Chain)
		if r.HasClass(class) {
			env[a.Var] = class
		}
	}
	return env
}

// ResolveAll resolves every call site of every function, running bounded
// type-propagation rounds so classes flowing through untyped parameters are
// picked up.
func ResolveAll(files []*analyze.FileResult) *Result {
	reg := NewRegistry(files)
	propagateTypes(reg)

	res := &Result{
		Registry: reg,
		Calls:    map[*analyze.FunctionDecl][]ResolvedCall{},
	}
	for _, d := range reg.Functions {
		if len(d.Calls) == 0 {
			continue
		}
		env := reg.BindingEnv(d)
		calls := make([]ResolvedCall, 0, len(d.Calls))
		for _, site := range d.Calls {
			calls = append(calls, ResolvedCall{
				Site:       site,
				Resolution: reg.Resolve(d, site.Chain, env),
			})
		}
		res.Calls[d] = calls
	}
	return res
}
