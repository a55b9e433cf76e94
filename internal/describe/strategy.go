package describe

import (
	"context"
	"sort"

	"github.com/codetreehq/codetree/internal/analyze"
	"github.com/codetreehq/codetree/internal/segment"
)

// ComponentStrategy adapts generated descriptions into a segmentation
// strategy. Functions without a description get no components.
type ComponentStrategy struct {
	Descriptions map[string]FunctionDescription
}

func (s *ComponentStrategy) Components(_ context.Context, d *analyze.FunctionDecl) ([]segment.Component, error) {
	desc, ok := s.Descriptions[d.FullName()]
	if !ok {
		return nil, nil
	}
	return NormalizeComponents(desc.Components, d.BodyLen()), nil
}

// NormalizeComponents clamps model output to the function body and discards
// inverted or overlapping ranges, keeping the earlier one on conflict.
func NormalizeComponents(comps []ComponentDescription, bodyLen int) []segment.Component {
	sorted := make([]ComponentDescription, 0, len(comps))
	for _, c := range comps {
		if c.StartLine < 1 {
			c.StartLine = 1
		}
		if c.EndLine > bodyLen {
			c.EndLine = bodyLen
		}
		if c.StartLine > bodyLen || c.EndLine < c.StartLine {
			continue
		}
		sorted = append(sorted, c)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartLine < sorted[j].StartLine })

	var out []segment.Component
	prevEnd := 0
	for _, c := range sorted {
		if c.StartLine <= prevEnd {
			continue
		}
		out = append(out, segment.Component{
			Ordinal:   len(out),
			Lineno:    c.StartLine,
			EndLineno: c.EndLine,
			Short:     c.Short,
			Long:      c.Long,
		})
		prevEnd = c.EndLine
	}
	return out
}
