package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// FuncKey identifies a function within one repository version.
func FuncKey(filePath, qualifiedName string) string {
	return filePath + ":" + qualifiedName
}

// InsertFunction inserts or replaces a single function
// (dedup by repo, file_path, qualified_name).
func (s *Store) InsertFunction(f *Function) (int64, error) {
	res, err := s.q.Exec(`
		INSERT INTO functions (repo, name, qualified_name, file_path, module_name, class_name,
			lineno, end_lineno, is_entry, short_description, input_output_description, long_description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo, file_path, qualified_name) DO UPDATE SET
			name=excluded.name, module_name=excluded.module_name, class_name=excluded.class_name,
			lineno=excluded.lineno, end_lineno=excluded.end_lineno, is_entry=excluded.is_entry,
			short_description=excluded.short_description,
			input_output_description=excluded.input_output_description,
			long_description=excluded.long_description`,
		f.Repo, f.Name, f.QualifiedName, f.FilePath, f.ModuleName, f.ClassName,
		f.Lineno, f.EndLineno, boolToInt(f.IsEntry),
		f.ShortDescription, f.InputOutputDescription, f.LongDescription)
	if err != nil {
		return 0, fmt.Errorf("insert function: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	// On conflict, LastInsertId may return a stale id; query the actual one
	if id == 0 {
		err = s.q.QueryRow("SELECT id FROM functions WHERE repo=? AND file_path=? AND qualified_name=?",
			f.Repo, f.FilePath, f.QualifiedName).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("get function id: %w", err)
		}
	}
	f.ID = id
	return id, nil
}

// Formula-derived batch size: SQLite has a 999 bind variable limit.
const numFunctionCols = 12
const functionsBatchSize = 999 / numFunctionCols // = 83

// InsertFunctionBatch inserts or updates functions in batched multi-row INSERTs.
// Returns a map of FuncKey(file_path, qualified_name) → ID.
func (s *Store) InsertFunctionBatch(fns []*Function) (map[string]int64, error) {
	if len(fns) == 0 {
		return map[string]int64{}, nil
	}

	result := make(map[string]int64, len(fns))

	for i := 0; i < len(fns); i += functionsBatchSize {
		end := i + functionsBatchSize
		if end > len(fns) {
			end = len(fns)
		}
		if err := s.insertFunctionChunk(fns[i:end], result); err != nil {
			return nil, err
		}
	}

	// Propagate assigned IDs back to the inputs
	for _, f := range fns {
		if id, ok := result[FuncKey(f.FilePath, f.QualifiedName)]; ok {
			f.ID = id
		}
	}
	return result, nil
}

func (s *Store) insertFunctionChunk(batch []*Function, idMap map[string]int64) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO functions (repo, name, qualified_name, file_path, module_name, class_name,
		lineno, end_lineno, is_entry, short_description, input_output_description, long_description) VALUES `)

	args := make([]any, 0, len(batch)*numFunctionCols)
	for i, f := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?,?,?,?,?,?,?,?,?,?,?,?)")
		args = append(args, f.Repo, f.Name, f.QualifiedName, f.FilePath, f.ModuleName, f.ClassName,
			f.Lineno, f.EndLineno, boolToInt(f.IsEntry),
			f.ShortDescription, f.InputOutputDescription, f.LongDescription)
	}
	sb.WriteString(` ON CONFLICT(repo, file_path, qualified_name) DO UPDATE SET
		name=excluded.name, module_name=excluded.module_name, class_name=excluded.class_name,
		lineno=excluded.lineno, end_lineno=excluded.end_lineno, is_entry=excluded.is_entry,
		short_description=excluded.short_description,
		input_output_description=excluded.input_output_description,
		long_description=excluded.long_description`)

	if _, err := s.q.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("insert function batch: %w", err)
	}

	// Recover IDs via SELECT ... IN (...), grouped by repo and file
	byFile := make(map[string][]string)
	var repo string
	for _, f := range batch {
		repo = f.Repo
		byFile[f.FilePath] = append(byFile[f.FilePath], f.QualifiedName)
	}
	for filePath, qns := range byFile {
		if err := s.resolveFunctionIDs(repo, filePath, qns, idMap); err != nil {
			return err
		}
	}
	return nil
}

// resolveFunctionIDs fetches IDs for qualified names within a single file.
// Respects the 999-var limit by batching the IN clause.
func (s *Store) resolveFunctionIDs(repo, filePath string, qns []string, idMap map[string]int64) error {
	const maxQNsPerQuery = 997 // 2 vars for repo+file

	for i := 0; i < len(qns); i += maxQNsPerQuery {
		end := i + maxQNsPerQuery
		if end > len(qns) {
			end = len(qns)
		}
		chunk := qns[i:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)+2)
		args = append(args, repo, filePath)
		for j, qn := range chunk {
			placeholders[j] = "?"
			args = append(args, qn)
		}

		query := fmt.Sprintf(
			"SELECT id, qualified_name FROM functions WHERE repo=? AND file_path=? AND qualified_name IN (%s)",
			strings.Join(placeholders, ","))

		if err := func() error {
			rows, err := s.q.Query(query, args...)
			if err != nil {
				return fmt.Errorf("resolve function IDs: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var id int64
				var qn string
				if err := rows.Scan(&id, &qn); err != nil {
					return err
				}
				idMap[FuncKey(filePath, qn)] = id
			}
			return rows.Err()
		}(); err != nil {
			return err
		}
	}
	return nil
}

const functionSelectCols = `id, repo, name, qualified_name, file_path, module_name, class_name,
	lineno, end_lineno, is_entry, short_description, input_output_description, long_description`

// FindFunctionByID finds a function by its primary key, or nil if absent.
func (s *Store) FindFunctionByID(id int64) (*Function, error) {
	row := s.q.QueryRow(`SELECT `+functionSelectCols+` FROM functions WHERE id=?`, id)
	return scanFunction(row)
}

// FindFunctionByFullName finds a function by repo and dotted full name
// (module_name.qualified_name), or nil if absent.
func (s *Store) FindFunctionByFullName(repo, fullName string) (*Function, error) {
	row := s.q.QueryRow(`SELECT `+functionSelectCols+` FROM functions
		WHERE repo=? AND (module_name || '.' || qualified_name = ? OR (module_name = '' AND qualified_name = ?))`,
		repo, fullName, fullName)
	return scanFunction(row)
}

// FindFunctionsByName finds functions by bare name.
func (s *Store) FindFunctionsByName(repo, name string) ([]*Function, error) {
	rows, err := s.q.Query(`SELECT `+functionSelectCols+` FROM functions
		WHERE repo=? AND name=? ORDER BY file_path, lineno`, repo, name)
	if err != nil {
		return nil, fmt.Errorf("find by name: %w", err)
	}
	defer rows.Close()
	return scanFunctions(rows)
}

// FindFunctionsByFile finds all functions in a file, ordered by position.
func (s *Store) FindFunctionsByFile(repo, filePath string) ([]*Function, error) {
	rows, err := s.q.Query(`SELECT `+functionSelectCols+` FROM functions
		WHERE repo=? AND file_path=? ORDER BY lineno`, repo, filePath)
	if err != nil {
		return nil, fmt.Errorf("find by file: %w", err)
	}
	defer rows.Close()
	return scanFunctions(rows)
}

// EntryFunctions returns all entry-point functions for a repository.
func (s *Store) EntryFunctions(repo string) ([]*Function, error) {
	rows, err := s.q.Query(`SELECT `+functionSelectCols+` FROM functions
		WHERE repo=? AND is_entry=1 ORDER BY file_path, lineno`, repo)
	if err != nil {
		return nil, fmt.Errorf("entry functions: %w", err)
	}
	defer rows.Close()
	return scanFunctions(rows)
}

// AllFunctions returns all functions for a repository, ordered by position.
func (s *Store) AllFunctions(repo string) ([]*Function, error) {
	rows, err := s.q.Query(`SELECT `+functionSelectCols+` FROM functions
		WHERE repo=? ORDER BY file_path, lineno`, repo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFunctions(rows)
}

// CountFunctions returns the number of functions in a repository.
func (s *Store) CountFunctions(repo string) (int, error) {
	var count int
	err := s.q.QueryRow("SELECT COUNT(*) FROM functions WHERE repo=?", repo).Scan(&count)
	return count, err
}

// UpdateDescriptions stores the generated descriptions for a function.
func (s *Store) UpdateDescriptions(id int64, short, inputOutput, long string) error {
	_, err := s.q.Exec(`UPDATE functions SET short_description=?, input_output_description=?, long_description=?
		WHERE id=?`, short, inputOutput, long, id)
	return err
}

// MarkEntry flags a function as an entry point.
func (s *Store) MarkEntry(id int64) error {
	_, err := s.q.Exec("UPDATE functions SET is_entry=1 WHERE id=?", id)
	return err
}

// SearchFunctions returns functions whose full name matches a glob pattern
// (converted to SQL LIKE). An empty pattern matches everything.
func (s *Store) SearchFunctions(repo, pattern string, limit int) ([]*Function, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `SELECT ` + functionSelectCols + ` FROM functions WHERE repo=?`
	args := []any{repo}
	if pattern != "" {
		query += ` AND (module_name || '.' || qualified_name) LIKE ?`
		args = append(args, globToLike(pattern))
	}
	query += ` ORDER BY file_path, lineno LIMIT ?`
	args = append(args, limit)

	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search functions: %w", err)
	}
	defer rows.Close()
	return scanFunctions(rows)
}

// globToLike converts a glob pattern to a SQL LIKE pattern.
func globToLike(pattern string) string {
	result := strings.ReplaceAll(pattern, "**", "%")
	result = strings.ReplaceAll(result, "*", "%")
	result = strings.ReplaceAll(result, "?", "_")
	return result
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFunction(row scanner) (*Function, error) {
	var f Function
	var isEntry int
	err := row.Scan(&f.ID, &f.Repo, &f.Name, &f.QualifiedName, &f.FilePath, &f.ModuleName, &f.ClassName,
		&f.Lineno, &f.EndLineno, &isEntry, &f.ShortDescription, &f.InputOutputDescription, &f.LongDescription)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	f.IsEntry = isEntry != 0
	return &f, nil
}

func scanFunctions(rows *sql.Rows) ([]*Function, error) {
	var result []*Function
	for rows.Next() {
		var f Function
		var isEntry int
		if err := rows.Scan(&f.ID, &f.Repo, &f.Name, &f.QualifiedName, &f.FilePath, &f.ModuleName, &f.ClassName,
			&f.Lineno, &f.EndLineno, &isEntry, &f.ShortDescription, &f.InputOutputDescription, &f.LongDescription); err != nil {
			return nil, err
		}
		f.IsEntry = isEntry != 0
		result = append(result, &f)
	}
	return result, rows.Err()
}
