package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// ErrComponentOverlap is returned when two components of the same function
// share lines.
type ErrComponentOverlap struct {
	FunctionID int64
	Reason     string
}

func (e *ErrComponentOverlap) Error() string {
	return fmt.Sprintf("component overlap for function %d: %s", e.FunctionID, e.Reason)
}

// ValidateComponents checks ordinal order and pairwise non-overlap.
// Line numbers are absolute file positions.
func ValidateComponents(functionID int64, comps []*Component) error {
	sorted := append([]*Component{}, comps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartLineno < sorted[j].StartLineno })
	for i, c := range comps {
		if c.Ordinal != i {
			return &ErrComponentOverlap{functionID, fmt.Sprintf("component %d has ordinal %d", i, c.Ordinal)}
		}
		if c.EndLineno < c.StartLineno {
			return &ErrComponentOverlap{functionID, fmt.Sprintf("component %d has inverted range [%d,%d]", i, c.StartLineno, c.EndLineno)}
		}
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i].StartLineno <= sorted[i-1].EndLineno {
			return &ErrComponentOverlap{functionID,
				fmt.Sprintf("[%d,%d] overlaps [%d,%d]",
					sorted[i-1].StartLineno, sorted[i-1].EndLineno, sorted[i].StartLineno, sorted[i].EndLineno)}
		}
	}
	return nil
}

const numComponentCols = 6
const componentsBatchSize = 999 / numComponentCols // = 166

// ReplaceComponents validates and stores a function's components, replacing
// any previous set. Zero components is legal.
func (s *Store) ReplaceComponents(functionID int64, comps []*Component) error {
	if err := ValidateComponents(functionID, comps); err != nil {
		return err
	}
	if _, err := s.q.Exec("DELETE FROM components WHERE function_id=?", functionID); err != nil {
		return fmt.Errorf("delete components: %w", err)
	}
	for i := 0; i < len(comps); i += componentsBatchSize {
		end := i + componentsBatchSize
		if end > len(comps) {
			end = len(comps)
		}
		if err := s.insertComponentChunk(functionID, comps[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertComponentChunk(functionID int64, batch []*Component) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO components (function_id, ordinal, start_lineno, end_lineno, short_description, long_description) VALUES `)

	args := make([]any, 0, len(batch)*numComponentCols)
	for i, c := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?,?,?,?,?,?)")
		args = append(args, functionID, c.Ordinal, c.StartLineno, c.EndLineno, c.ShortDescription, c.LongDescription)
	}

	if _, err := s.q.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("insert component batch: %w", err)
	}
	return nil
}

// ComponentsByFunction returns a function's components in ordinal order.
func (s *Store) ComponentsByFunction(functionID int64) ([]*Component, error) {
	rows, err := s.q.Query(`SELECT function_id, ordinal, start_lineno, end_lineno, short_description, long_description
		FROM components WHERE function_id=? ORDER BY ordinal`, functionID)
	if err != nil {
		return nil, fmt.Errorf("components by function: %w", err)
	}
	defer rows.Close()
	return scanComponents(rows)
}

func scanComponents(rows *sql.Rows) ([]*Component, error) {
	var result []*Component
	for rows.Next() {
		var c Component
		if err := rows.Scan(&c.FunctionID, &c.Ordinal, &c.StartLineno, &c.EndLineno,
			&c.ShortDescription, &c.LongDescription); err != nil {
			return nil, err
		}
		result = append(result, &c)
	}
	return result, rows.Err()
}
