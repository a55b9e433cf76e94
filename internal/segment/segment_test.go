package segment

import (
	"context"
	"testing"

	"github.com/codetreehq/codetree/internal/analyze"
	"github.com/codetreehq/codetree/internal/discover"
	"github.com/codetreehq/codetree/internal/lang"
	"github.com/codetreehq/codetree/internal/resolve"
)

func parseFunc(t *testing.T, src, name string) (*analyze.FunctionDecl, []resolve.ResolvedCall) {
	t.Helper()
	res, err := analyze.ParseFile(discover.FileInfo{Path: "f.py", RelPath: "f.py", Language: lang.Python}, []byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	all := resolve.ResolveAll([]*analyze.FileResult{res})
	for _, d := range res.Functions {
		if d.Name == name {
			return d, all.Calls[d]
		}
	}
	t.Fatalf("function %q not found", name)
	return nil, nil
}

func checkCoverage(t *testing.T, segs []Segment, bodyLen int) {
	t.Helper()
	if len(segs) == 0 {
		t.Fatal("no segments")
	}
	if segs[0].Lineno != 1 {
		t.Fatalf("first segment starts at %d", segs[0].Lineno)
	}
	for i, s := range segs {
		if s.Ordinal != i {
			t.Fatalf("segment %d has ordinal %d", i, s.Ordinal)
		}
		if s.EndLineno < s.Lineno {
			t.Fatalf("segment %d inverted: [%d, %d]", i, s.Lineno, s.EndLineno)
		}
		if i > 0 && s.Lineno != segs[i-1].EndLineno+1 {
			t.Fatalf("gap before segment %d: prev ends %d, next starts %d", i, segs[i-1].EndLineno, s.Lineno)
		}
	}
	if last := segs[len(segs)-1].EndLineno; last != bodyLen {
		t.Fatalf("segments end at %d, body has %d lines", last, bodyLen)
	}
}

func TestBuildSegments(t *testing.T) {
	d, calls := parseFunc(t, `def helper():
    pass

def work():
    # set up
    x = 1
    helper()
    return x
`, "work")
	segs := Build(d, calls)
	checkCoverage(t, segs, d.BodyLen())

	kinds := make([]string, len(segs))
	for i, s := range segs {
		kinds[i] = s.Kind
	}
	// def line, comment, code, call, code
	want := []string{KindCode, KindComment, KindCode, KindCall, KindCode}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", kinds, want)
		}
	}

	call := segs[3]
	if call.Target == nil || call.Target.Name != "helper" {
		t.Fatalf("call segment target = %+v", call.Target)
	}
	if call.Content != "    helper()" {
		t.Fatalf("call content = %q", call.Content)
	}
}

func TestBuildUnresolvedCallKeepsSegment(t *testing.T) {
	d, calls := parseFunc(t, `def work():
    print("x")
`, "work")
	segs := Build(d, calls)
	checkCoverage(t, segs, d.BodyLen())
	if segs[1].Kind != KindCall {
		t.Fatalf("kind = %q", segs[1].Kind)
	}
	if segs[1].Target != nil {
		t.Fatalf("unresolved call should have nil target, got %v", segs[1].Target)
	}
}

func TestBuildMultilineCall(t *testing.T) {
	d, calls := parseFunc(t, `def helper(a, b):
    pass

def work():
    helper(
        1,
        2,
    )
    return
`, "work")
	segs := Build(d, calls)
	checkCoverage(t, segs, d.BodyLen())

	var call *Segment
	for i := range segs {
		if segs[i].Kind == KindCall {
			call = &segs[i]
		}
	}
	if call == nil {
		t.Fatal("no call segment")
	}
	if call.Lineno != 2 || call.EndLineno != 5 {
		t.Fatalf("call span = [%d, %d]", call.Lineno, call.EndLineno)
	}
}

func TestOverlaySplitsAtBoundaries(t *testing.T) {
	d, calls := parseFunc(t, `def work():
    a = 1
    b = 2
    c = 3
    d = 4
`, "work")
	segs := Build(d, calls)
	comps := []Component{
		{Ordinal: 0, Lineno: 2, EndLineno: 3},
		{Ordinal: 1, Lineno: 4, EndLineno: 5},
	}
	out := Overlay(segs, comps)
	checkCoverage(t, out, d.BodyLen())

	if len(out) != 3 {
		t.Fatalf("segments after overlay = %d, want 3", len(out))
	}
	if out[0].ComponentOrd != -1 {
		t.Fatalf("def line component = %d", out[0].ComponentOrd)
	}
	if out[1].ComponentOrd != 0 || out[1].Lineno != 2 || out[1].EndLineno != 3 {
		t.Fatalf("segment 1 = %+v", out[1])
	}
	if out[2].ComponentOrd != 1 || out[2].Lineno != 4 || out[2].EndLineno != 5 {
		t.Fatalf("segment 2 = %+v", out[2])
	}
	if out[1].Content != "    a = 1\n    b = 2" {
		t.Fatalf("segment 1 content = %q", out[1].Content)
	}
}

func TestOverlayNeverSplitsCalls(t *testing.T) {
	d, calls := parseFunc(t, `def helper(a, b):
    pass

def work():
    helper(
        1,
        2,
    )
`, "work")
	segs := Build(d, calls)
	// boundary in the middle of the call span
	comps := []Component{
		{Ordinal: 0, Lineno: 1, EndLineno: 3},
		{Ordinal: 1, Lineno: 4, EndLineno: 5},
	}
	out := Overlay(segs, comps)

	var call *Segment
	for i := range out {
		if out[i].Kind == KindCall {
			if call != nil {
				t.Fatal("call segment was split")
			}
			call = &out[i]
		}
	}
	if call == nil {
		t.Fatal("no call segment")
	}
	if call.Lineno != 2 || call.EndLineno != 5 {
		t.Fatalf("call span = [%d, %d]", call.Lineno, call.EndLineno)
	}
	// straddles both components, so it belongs to neither
	if call.ComponentOrd != -1 {
		t.Fatalf("call component = %d, want -1 for a boundary-straddling call", call.ComponentOrd)
	}
}

func TestOverlayContainedCallKeepsComponent(t *testing.T) {
	d, calls := parseFunc(t, `def helper(a, b):
    pass

def work():
    helper(
        1,
        2,
    )
`, "work")
	segs := Build(d, calls)
	// call span [2,5] sits entirely inside the component
	comps := []Component{{Ordinal: 0, Lineno: 1, EndLineno: 5}}
	out := Overlay(segs, comps)

	for i := range out {
		if out[i].Kind != KindCall {
			continue
		}
		if out[i].ComponentOrd != 0 {
			t.Fatalf("contained call component = %d, want 0", out[i].ComponentOrd)
		}
		if out[i].Lineno < comps[0].Lineno || out[i].EndLineno > comps[0].EndLineno {
			t.Fatalf("assigned call [%d, %d] leaks outside component [%d, %d]",
				out[i].Lineno, out[i].EndLineno, comps[0].Lineno, comps[0].EndLineno)
		}
		return
	}
	t.Fatal("no call segment")
}

func TestStructuralStrategy(t *testing.T) {
	d, _ := parseFunc(t, `def work():
    a = 1
    b = 2

    c = 3
    d = 4
`, "work")
	comps, err := (&Structural{}).Components(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if len(comps) != 2 {
		t.Fatalf("components = %+v", comps)
	}
	if comps[0].Lineno != 2 || comps[0].EndLineno != 3 {
		t.Fatalf("component 0 = %+v", comps[0])
	}
	if comps[1].Lineno != 5 || comps[1].EndLineno != 6 {
		t.Fatalf("component 1 = %+v", comps[1])
	}
}

func TestStructuralStrategySkipsShortFunctions(t *testing.T) {
	d, _ := parseFunc(t, `def work():
    return 1
`, "work")
	comps, err := (&Structural{}).Components(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if comps != nil {
		t.Fatalf("components = %+v, want none", comps)
	}
}
