// Package segment slices a function body into an ordered, gap-free list of
// code, call and comment segments, and overlays components on top of them.
// All line numbers are relative to the function, definition line = 1.
package segment

import (
	"sort"
	"strings"

	"github.com/codetreehq/codetree/internal/analyze"
	"github.com/codetreehq/codetree/internal/resolve"
)

const (
	KindCode    = "code"
	KindCall    = "call"
	KindComment = "comment"
)

// Segment is one contiguous slice of a function body.
type Segment struct {
	Ordinal      int
	Kind         string
	Lineno       int
	EndLineno    int
	Content      string
	Target       *analyze.FunctionDecl // callee, only for call segments that resolved
	ComponentOrd int                   // -1 when outside every component
}

// Component groups consecutive lines of one function under a description.
type Component struct {
	Ordinal   int
	Lineno    int // relative, inclusive
	EndLineno int
	Short     string
	Long      string
}

// Build produces the segment list for one function: every call site becomes
// a call segment, runs of standalone comments become comment segments, and
// whatever is left becomes code segments. The list covers lines 1..BodyLen
// with no gaps and no overlaps.
func Build(d *analyze.FunctionDecl, calls []resolve.ResolvedCall) []Segment {
	bodyLen := d.BodyLen()
	if bodyLen <= 0 {
		return nil
	}

	type callSpan struct {
		end    int
		target *analyze.FunctionDecl
	}
	callAt := map[int]callSpan{}
	for _, c := range calls {
		start := c.Site.Lineno
		if start < 1 || start > bodyLen {
			continue
		}
		end := c.Site.EndLineno
		if end > bodyLen {
			end = bodyLen
		}
		if prev, ok := callAt[start]; ok && prev.end >= end {
			continue // keep the outermost call starting here
		}
		callAt[start] = callSpan{end: end, target: c.Target}
	}

	commentAt := map[int]bool{}
	for _, c := range d.Comments {
		if c.Standalone && c.Lineno >= 1 && c.Lineno <= bodyLen {
			commentAt[c.Lineno] = true
		}
	}

	var segs []Segment
	lineText := func(from, to int) string {
		return strings.Join(d.Lines[from-1:to], "\n")
	}
	flushCode := func(from, to int) {
		if from > to {
			return
		}
		segs = append(segs, Segment{
			Kind:      KindCode,
			Lineno:    from,
			EndLineno: to,
			Content:   lineText(from, to),
		})
	}

	codeStart := 0
	line := 1
	for line <= bodyLen {
		if span, ok := callAt[line]; ok {
			if codeStart > 0 {
				flushCode(codeStart, line-1)
				codeStart = 0
			}
			segs = append(segs, Segment{
				Kind:      KindCall,
				Lineno:    line,
				EndLineno: span.end,
				Content:   lineText(line, span.end),
				Target:    span.target,
			})
			line = span.end + 1
			continue
		}
		if commentAt[line] {
			if codeStart > 0 {
				flushCode(codeStart, line-1)
				codeStart = 0
			}
			end := line
			for end+1 <= bodyLen && commentAt[end+1] {
				// a call can start on a comment-looking line only if the
				// parser said so, and then the call wins
				if _, ok := callAt[end+1]; ok {
					break
				}
				end++
			}
			segs = append(segs, Segment{
				Kind:      KindComment,
				Lineno:    line,
				EndLineno: end,
				Content:   lineText(line, end),
			})
			line = end + 1
			continue
		}
		if codeStart == 0 {
			codeStart = line
		}
		line++
	}
	if codeStart > 0 {
		flushCode(codeStart, bodyLen)
	}

	for i := range segs {
		segs[i].Ordinal = i
		segs[i].ComponentOrd = -1
	}
	return segs
}

// Overlay splits segments at component boundaries and tags each segment
// with the component that fully contains it. Call segments are never split;
// a call straddling a boundary belongs to no component, so every assigned
// segment's line range stays inside its component's range.
func Overlay(segs []Segment, comps []Component) []Segment {
	if len(comps) == 0 {
		return segs
	}

	cuts := map[int]bool{}
	for _, c := range comps {
		cuts[c.Lineno] = true
		cuts[c.EndLineno+1] = true
	}

	var out []Segment
	for _, s := range segs {
		if s.Kind == KindCall {
			out = append(out, s)
			continue
		}
		start := s.Lineno
		for line := s.Lineno + 1; line <= s.EndLineno; line++ {
			if cuts[line] {
				out = append(out, sliceSegment(s, start, line-1))
				start = line
			}
		}
		out = append(out, sliceSegment(s, start, s.EndLineno))
	}

	sorted := make([]Component, len(comps))
	copy(sorted, comps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lineno < sorted[j].Lineno })

	for i := range out {
		out[i].Ordinal = i
		out[i].ComponentOrd = -1
		for _, c := range sorted {
			if out[i].Lineno >= c.Lineno && out[i].EndLineno <= c.EndLineno {
				out[i].ComponentOrd = c.Ordinal
				break
			}
		}
	}
	return out
}

func sliceSegment(s Segment, from, to int) Segment {
	lines := strings.Split(s.Content, "\n")
	lo := from - s.Lineno
	hi := to - s.Lineno + 1
	return Segment{
		Kind:      s.Kind,
		Lineno:    from,
		EndLineno: to,
		Content:   strings.Join(lines[lo:hi], "\n"),
	}
}
