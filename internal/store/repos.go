package store

import (
	"database/sql"
	"errors"
)

// UpsertRepository creates or replaces a repository record.
func (s *Store) UpsertRepository(r *Repository) error {
	_, err := s.q.Exec(`
		INSERT INTO repositories (hash, root, entry_points, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET root=excluded.root, entry_points=excluded.entry_points, created_at=excluded.created_at`,
		r.Hash, r.Root, marshalStrings(r.EntryPoints), Now())
	return err
}

// GetRepository returns a repository by hash, or nil if absent.
func (s *Store) GetRepository(hash string) (*Repository, error) {
	var r Repository
	var eps string
	err := s.q.QueryRow("SELECT hash, root, entry_points, created_at FROM repositories WHERE hash=?", hash).
		Scan(&r.Hash, &r.Root, &eps, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.EntryPoints = unmarshalStrings(eps)
	return &r, nil
}

// ListRepositories returns all stored repositories.
func (s *Store) ListRepositories() ([]*Repository, error) {
	rows, err := s.q.Query("SELECT hash, root, entry_points, created_at FROM repositories ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*Repository
	for rows.Next() {
		var r Repository
		var eps string
		if err := rows.Scan(&r.Hash, &r.Root, &eps, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.EntryPoints = unmarshalStrings(eps)
		result = append(result, &r)
	}
	return result, rows.Err()
}

// DeleteRepository deletes a repository and all associated data (CASCADE).
func (s *Store) DeleteRepository(hash string) error {
	_, err := s.q.Exec("DELETE FROM repositories WHERE hash=?", hash)
	return err
}
