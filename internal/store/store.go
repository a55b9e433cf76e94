package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Querier abstracts *sql.DB and *sql.Tx so store methods work in both contexts.
type Querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store wraps a SQLite connection for graph storage.
type Store struct {
	db     *sql.DB
	q      Querier // active querier: db or tx
	dbPath string
}

// Repository is one analyzed version of a source tree.
type Repository struct {
	Hash        string
	Root        string
	EntryPoints []string
	CreatedAt   string
}

// Function is a graph node for a single function or method.
type Function struct {
	ID            int64
	Repo          string
	Name          string
	QualifiedName string
	FilePath      string
	ModuleName    string
	ClassName     string
	Lineno        int
	EndLineno     int
	IsEntry       bool

	ShortDescription       string
	InputOutputDescription string
	LongDescription        string
}

// FullName returns the repository-wide dotted name of the function.
func (f *Function) FullName() string {
	if f.ModuleName == "" {
		return f.QualifiedName
	}
	return f.ModuleName + "." + f.QualifiedName
}

// Segment kinds.
const (
	SegmentCode    = "code"
	SegmentCall    = "call"
	SegmentComment = "comment"
)

// Segment is one contiguous slice of a function body. Line numbers are
// relative to the function: the definition line is 1.
type Segment struct {
	FunctionID   int64
	Ordinal      int
	Kind         string
	Lineno       int
	EndLineno    int
	Content      string
	TargetID     sql.NullInt64 // resolved callee, call segments only
	ComponentOrd sql.NullInt64 // enclosing component, if any
}

// Component is a semantic grouping of consecutive lines inside one function.
// Line numbers are absolute file positions.
type Component struct {
	FunctionID       int64
	Ordinal          int
	StartLineno      int
	EndLineno        int
	ShortDescription string
	LongDescription  string
}

// CallEdge connects a caller's call segment to its resolved callee.
type CallEdge struct {
	CallerID       int64
	SegmentOrdinal int
	CalleeID       int64
}

// cacheDir returns the default directory for databases.
func cacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	dir := filepath.Join(home, ".cache", "codetree")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir cache: %w", err)
	}
	return dir, nil
}

// Open opens or creates the SQLite database for a named project.
func Open(project string) (*Store, error) {
	dir, err := cacheDir()
	if err != nil {
		return nil, err
	}
	dbPath := filepath.Join(dir, project+".db")
	return OpenPath(dbPath)
}

// OpenPath opens a SQLite database at the given path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &Store{db: db, dbPath: dbPath}
	s.q = s.db
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// OpenMemory opens an in-memory SQLite database (for testing).
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	s := &Store{db: db, dbPath: ":memory:"}
	s.q = s.db
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// WithTransaction executes fn within a single SQLite transaction.
// The callback receives a transaction-scoped Store — all store methods called on
// txStore use the transaction. The receiver's q field is never mutated, so
// concurrent read-only callers (using s.q == s.db) are unaffected.
func (s *Store) WithTransaction(fn func(txStore *Store) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &Store{db: s.db, q: tx, dbPath: s.dbPath}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying sql.DB (for advanced queries).
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repositories (
		hash TEXT PRIMARY KEY,
		root TEXT NOT NULL,
		entry_points TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS functions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repo TEXT NOT NULL REFERENCES repositories(hash) ON DELETE CASCADE,
		name TEXT NOT NULL,
		qualified_name TEXT NOT NULL,
		file_path TEXT NOT NULL,
		module_name TEXT NOT NULL DEFAULT '',
		class_name TEXT NOT NULL DEFAULT '',
		lineno INTEGER NOT NULL,
		end_lineno INTEGER NOT NULL,
		is_entry INTEGER NOT NULL DEFAULT 0,
		short_description TEXT NOT NULL DEFAULT '',
		input_output_description TEXT NOT NULL DEFAULT '',
		long_description TEXT NOT NULL DEFAULT '',
		UNIQUE(repo, file_path, qualified_name)
	);

	CREATE INDEX IF NOT EXISTS idx_functions_name ON functions(repo, name);
	CREATE INDEX IF NOT EXISTS idx_functions_file ON functions(repo, file_path);
	CREATE INDEX IF NOT EXISTS idx_functions_entry ON functions(repo, is_entry);

	CREATE TABLE IF NOT EXISTS segments (
		function_id INTEGER NOT NULL REFERENCES functions(id) ON DELETE CASCADE,
		ordinal INTEGER NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('code','call','comment')),
		lineno INTEGER NOT NULL,
		end_lineno INTEGER NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		target_id INTEGER REFERENCES functions(id) ON DELETE SET NULL,
		component_ord INTEGER,
		PRIMARY KEY (function_id, ordinal)
	);

	CREATE INDEX IF NOT EXISTS idx_segments_target ON segments(target_id);

	CREATE TABLE IF NOT EXISTS components (
		function_id INTEGER NOT NULL REFERENCES functions(id) ON DELETE CASCADE,
		ordinal INTEGER NOT NULL,
		start_lineno INTEGER NOT NULL,
		end_lineno INTEGER NOT NULL,
		short_description TEXT NOT NULL DEFAULT '',
		long_description TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (function_id, ordinal)
	);

	CREATE TABLE IF NOT EXISTS call_edges (
		caller_id INTEGER NOT NULL REFERENCES functions(id) ON DELETE CASCADE,
		segment_ordinal INTEGER NOT NULL,
		callee_id INTEGER NOT NULL REFERENCES functions(id) ON DELETE CASCADE,
		PRIMARY KEY (caller_id, segment_ordinal)
	);

	CREATE INDEX IF NOT EXISTS idx_call_edges_callee ON call_edges(callee_id);

	CREATE TABLE IF NOT EXISTS registry_entries (
		file_hash TEXT NOT NULL,
		sig_hash TEXT NOT NULL,
		layer TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (file_hash, sig_hash, layer)
	);

	CREATE TABLE IF NOT EXISTS qa_docs (
		function_id INTEGER PRIMARY KEY REFERENCES functions(id) ON DELETE CASCADE,
		repo TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_qa_docs_repo ON qa_docs(repo);
	`
	_, err := s.db.Exec(schema)
	return err
}

// marshalStrings serializes a string slice to JSON.
func marshalStrings(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// unmarshalStrings deserializes a JSON string array.
func unmarshalStrings(data string) []string {
	if data == "" {
		return nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(data), &ss); err != nil {
		return nil
	}
	return ss
}

// Now returns the current time in ISO 8601 format.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
