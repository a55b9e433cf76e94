package store

import (
	"database/sql"
	"fmt"
	"strings"
)

const numEdgeCols = 3
const edgesBatchSize = 999 / numEdgeCols // = 333

// InsertCallEdge inserts one resolved call edge
// (dedup by caller_id, segment_ordinal).
func (s *Store) InsertCallEdge(e *CallEdge) error {
	_, err := s.q.Exec(`
		INSERT INTO call_edges (caller_id, segment_ordinal, callee_id) VALUES (?, ?, ?)
		ON CONFLICT(caller_id, segment_ordinal) DO UPDATE SET callee_id=excluded.callee_id`,
		e.CallerID, e.SegmentOrdinal, e.CalleeID)
	if err != nil {
		return fmt.Errorf("insert call edge: %w", err)
	}
	return nil
}

// InsertCallEdgeBatch inserts call edges in batched multi-row INSERTs.
func (s *Store) InsertCallEdgeBatch(edges []*CallEdge) error {
	if len(edges) == 0 {
		return nil
	}
	for i := 0; i < len(edges); i += edgesBatchSize {
		end := i + edgesBatchSize
		if end > len(edges) {
			end = len(edges)
		}
		if err := s.insertCallEdgeChunk(edges[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertCallEdgeChunk(batch []*CallEdge) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO call_edges (caller_id, segment_ordinal, callee_id) VALUES `)

	args := make([]any, 0, len(batch)*numEdgeCols)
	for i, e := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?,?,?)")
		args = append(args, e.CallerID, e.SegmentOrdinal, e.CalleeID)
	}
	sb.WriteString(` ON CONFLICT(caller_id, segment_ordinal) DO UPDATE SET callee_id=excluded.callee_id`)

	if _, err := s.q.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("insert call edge batch: %w", err)
	}
	return nil
}

// ValidateEdgeEndpoints checks that every call edge in a repository joins
// two functions of that same repository. Run before commit.
func (s *Store) ValidateEdgeEndpoints(repo string) error {
	var count int
	err := s.q.QueryRow(`
		SELECT COUNT(*) FROM call_edges e
		JOIN functions caller ON e.caller_id = caller.id
		JOIN functions callee ON e.callee_id = callee.id
		WHERE caller.repo = ? AND callee.repo != caller.repo`, repo).Scan(&count)
	if err != nil {
		return fmt.Errorf("validate edge endpoints: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%d call edges cross repository versions", count)
	}
	return nil
}

// Callees returns the functions directly called by a function, in call
// segment order. Self edges from recursion appear like any other callee.
func (s *Store) Callees(functionID int64) ([]*Function, error) {
	rows, err := s.q.Query(`SELECT `+functionSelectCols+` FROM functions
		WHERE id IN (SELECT callee_id FROM call_edges WHERE caller_id=?)
		ORDER BY file_path, lineno`, functionID)
	if err != nil {
		return nil, fmt.Errorf("callees: %w", err)
	}
	defer rows.Close()
	return scanFunctions(rows)
}

// Callers returns the functions that directly call a function.
func (s *Store) Callers(functionID int64) ([]*Function, error) {
	rows, err := s.q.Query(`SELECT `+functionSelectCols+` FROM functions
		WHERE id IN (SELECT caller_id FROM call_edges WHERE callee_id=?)
		ORDER BY file_path, lineno`, functionID)
	if err != nil {
		return nil, fmt.Errorf("callers: %w", err)
	}
	defer rows.Close()
	return scanFunctions(rows)
}

// EdgesByCaller returns the raw call edges out of a function in segment order.
func (s *Store) EdgesByCaller(functionID int64) ([]*CallEdge, error) {
	rows, err := s.q.Query(`SELECT caller_id, segment_ordinal, callee_id
		FROM call_edges WHERE caller_id=? ORDER BY segment_ordinal`, functionID)
	if err != nil {
		return nil, fmt.Errorf("edges by caller: %w", err)
	}
	defer rows.Close()
	return scanCallEdges(rows)
}

// CountCallEdges returns the number of call edges in a repository.
func (s *Store) CountCallEdges(repo string) (int, error) {
	var count int
	err := s.q.QueryRow(`SELECT COUNT(*) FROM call_edges e
		JOIN functions f ON e.caller_id = f.id WHERE f.repo=?`, repo).Scan(&count)
	return count, err
}

func scanCallEdges(rows *sql.Rows) ([]*CallEdge, error) {
	var result []*CallEdge
	for rows.Next() {
		var e CallEdge
		if err := rows.Scan(&e.CallerID, &e.SegmentOrdinal, &e.CalleeID); err != nil {
			return nil, err
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}
