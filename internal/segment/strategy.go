package segment

import (
	"context"
	"strings"

	"github.com/codetreehq/codetree/internal/analyze"
)

// Strategy produces the component layout for one function. The structural
// strategy below works from the text alone; the describer package provides a
// model-backed one.
type Strategy interface {
	Components(ctx context.Context, d *analyze.FunctionDecl) ([]Component, error)
}

// Structural derives components from blank-line structure: each maximal run
// of non-blank body lines after the definition line becomes one component.
// Functions shorter than MinLines get no components at all.
type Structural struct {
	MinLines int // minimum body length to segment, default 6
}

func (s *Structural) Components(_ context.Context, d *analyze.FunctionDecl) ([]Component, error) {
	minLines := s.MinLines
	if minLines <= 0 {
		minLines = 6
	}
	if d.BodyLen() < minLines {
		return nil, nil
	}

	var comps []Component
	start := 0
	for i := 1; i < len(d.Lines); i++ { // skip the definition line
		blank := strings.TrimSpace(d.Lines[i]) == ""
		if blank {
			if start > 0 {
				comps = append(comps, Component{Lineno: start, EndLineno: i})
				start = 0
			}
			continue
		}
		if start == 0 {
			start = i + 1
		}
	}
	if start > 0 {
		comps = append(comps, Component{Lineno: start, EndLineno: len(d.Lines)})
	}
	if len(comps) < 2 {
		return nil, nil
	}
	for i := range comps {
		comps[i].Ordinal = i
	}
	return comps, nil
}
