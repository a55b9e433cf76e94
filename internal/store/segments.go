package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// ErrSegmentCoverage is returned when a segment list does not tile the
// function body exactly.
type ErrSegmentCoverage struct {
	FunctionID int64
	Reason     string
}

func (e *ErrSegmentCoverage) Error() string {
	return fmt.Sprintf("segment coverage violation for function %d: %s", e.FunctionID, e.Reason)
}

// ValidateSegments checks that segments are ordered, non-overlapping and
// cover [1, bodyLen] with no gaps. Line numbers are function relative.
func ValidateSegments(functionID int64, bodyLen int, segs []*Segment) error {
	if len(segs) == 0 {
		if bodyLen == 0 {
			return nil
		}
		return &ErrSegmentCoverage{functionID, "no segments for non-empty body"}
	}
	if segs[0].Lineno != 1 {
		return &ErrSegmentCoverage{functionID, fmt.Sprintf("first segment starts at line %d, want 1", segs[0].Lineno)}
	}
	prevEnd := 0
	for i, seg := range segs {
		if seg.Ordinal != i {
			return &ErrSegmentCoverage{functionID, fmt.Sprintf("segment %d has ordinal %d", i, seg.Ordinal)}
		}
		if seg.EndLineno < seg.Lineno {
			return &ErrSegmentCoverage{functionID, fmt.Sprintf("segment %d has inverted range [%d,%d]", i, seg.Lineno, seg.EndLineno)}
		}
		if seg.Lineno != prevEnd+1 {
			return &ErrSegmentCoverage{functionID, fmt.Sprintf("segment %d starts at %d, want %d", i, seg.Lineno, prevEnd+1)}
		}
		switch seg.Kind {
		case SegmentCode, SegmentCall, SegmentComment:
		default:
			return &ErrSegmentCoverage{functionID, fmt.Sprintf("segment %d has unknown kind %q", i, seg.Kind)}
		}
		prevEnd = seg.EndLineno
	}
	if prevEnd != bodyLen {
		return &ErrSegmentCoverage{functionID, fmt.Sprintf("segments end at %d, body has %d lines", prevEnd, bodyLen)}
	}
	return nil
}

const numSegmentCols = 8
const segmentsBatchSize = 999 / numSegmentCols // = 124

// ReplaceSegments validates and stores the full segment list for one
// function, replacing any previous segments.
func (s *Store) ReplaceSegments(functionID int64, bodyLen int, segs []*Segment) error {
	if err := ValidateSegments(functionID, bodyLen, segs); err != nil {
		return err
	}
	if _, err := s.q.Exec("DELETE FROM segments WHERE function_id=?", functionID); err != nil {
		return fmt.Errorf("delete segments: %w", err)
	}

	for i := 0; i < len(segs); i += segmentsBatchSize {
		end := i + segmentsBatchSize
		if end > len(segs) {
			end = len(segs)
		}
		if err := s.insertSegmentChunk(functionID, segs[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertSegmentChunk(functionID int64, batch []*Segment) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO segments (function_id, ordinal, kind, lineno, end_lineno, content, target_id, component_ord) VALUES `)

	args := make([]any, 0, len(batch)*numSegmentCols)
	for i, seg := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?,?,?,?,?,?,?,?)")
		args = append(args, functionID, seg.Ordinal, seg.Kind, seg.Lineno, seg.EndLineno, seg.Content, seg.TargetID, seg.ComponentOrd)
	}

	if _, err := s.q.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("insert segment batch: %w", err)
	}
	return nil
}

// SegmentsByFunction returns a function's segments in ordinal order.
func (s *Store) SegmentsByFunction(functionID int64) ([]*Segment, error) {
	rows, err := s.q.Query(`SELECT function_id, ordinal, kind, lineno, end_lineno, content, target_id, component_ord
		FROM segments WHERE function_id=? ORDER BY ordinal`, functionID)
	if err != nil {
		return nil, fmt.Errorf("segments by function: %w", err)
	}
	defer rows.Close()
	return scanSegments(rows)
}

// CallSegments returns a function's call segments in ordinal order.
func (s *Store) CallSegments(functionID int64) ([]*Segment, error) {
	rows, err := s.q.Query(`SELECT function_id, ordinal, kind, lineno, end_lineno, content, target_id, component_ord
		FROM segments WHERE function_id=? AND kind='call' ORDER BY ordinal`, functionID)
	if err != nil {
		return nil, fmt.Errorf("call segments: %w", err)
	}
	defer rows.Close()
	return scanSegments(rows)
}

func scanSegments(rows *sql.Rows) ([]*Segment, error) {
	var result []*Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.FunctionID, &seg.Ordinal, &seg.Kind, &seg.Lineno, &seg.EndLineno,
			&seg.Content, &seg.TargetID, &seg.ComponentOrd); err != nil {
			return nil, err
		}
		result = append(result, &seg)
	}
	return result, rows.Err()
}
