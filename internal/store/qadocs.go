package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// QADoc is one retrieval document: the composed text (and optional
// embedding) for a function.
type QADoc struct {
	FunctionID int64
	Repo       string
	Content    string
	Embedding  []byte
}

const numQADocCols = 4
const qaDocsBatchSize = 999 / numQADocCols // = 249

// ReplaceQADocs replaces the retrieval index for a repository.
func (s *Store) ReplaceQADocs(repo string, docs []*QADoc) error {
	if _, err := s.q.Exec("DELETE FROM qa_docs WHERE repo=?", repo); err != nil {
		return fmt.Errorf("delete qa docs: %w", err)
	}
	for i := 0; i < len(docs); i += qaDocsBatchSize {
		end := i + qaDocsBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := s.insertQADocChunk(docs[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertQADocChunk(batch []*QADoc) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO qa_docs (function_id, repo, content, embedding) VALUES `)

	args := make([]any, 0, len(batch)*numQADocCols)
	for i, d := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?,?,?,?)")
		args = append(args, d.FunctionID, d.Repo, d.Content, d.Embedding)
	}
	sb.WriteString(` ON CONFLICT(function_id) DO UPDATE SET
		repo=excluded.repo, content=excluded.content, embedding=excluded.embedding`)

	if _, err := s.q.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("insert qa doc batch: %w", err)
	}
	return nil
}

// QADocs returns the retrieval documents for a repository.
func (s *Store) QADocs(repo string) ([]*QADoc, error) {
	rows, err := s.q.Query(`SELECT function_id, repo, content, embedding FROM qa_docs WHERE repo=?`, repo)
	if err != nil {
		return nil, fmt.Errorf("qa docs: %w", err)
	}
	defer rows.Close()
	return scanQADocs(rows)
}

func scanQADocs(rows *sql.Rows) ([]*QADoc, error) {
	var result []*QADoc
	for rows.Next() {
		var d QADoc
		if err := rows.Scan(&d.FunctionID, &d.Repo, &d.Content, &d.Embedding); err != nil {
			return nil, err
		}
		result = append(result, &d)
	}
	return result, rows.Err()
}
