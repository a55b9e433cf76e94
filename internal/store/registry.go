package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// RegistryEntry is one cached per-layer analysis payload, keyed by the
// source file's content hash and the function's signature hash.
type RegistryEntry struct {
	FileHash  string
	SigHash   string
	Layer     string
	Payload   string
	Version   int
	UpdatedAt string
}

// GetRegistryEntry returns a cached entry, or nil on a miss.
func (s *Store) GetRegistryEntry(fileHash, sigHash, layer string) (*RegistryEntry, error) {
	var e RegistryEntry
	err := s.q.QueryRow(`SELECT file_hash, sig_hash, layer, payload, version, updated_at
		FROM registry_entries WHERE file_hash=? AND sig_hash=? AND layer=?`,
		fileHash, sigHash, layer).
		Scan(&e.FileHash, &e.SigHash, &e.Layer, &e.Payload, &e.Version, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get registry entry: %w", err)
	}
	return &e, nil
}

// PutRegistryEntry stores a cached entry, last writer wins.
func (s *Store) PutRegistryEntry(e *RegistryEntry) error {
	_, err := s.q.Exec(`
		INSERT INTO registry_entries (file_hash, sig_hash, layer, payload, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_hash, sig_hash, layer) DO UPDATE SET
			payload=excluded.payload, version=excluded.version, updated_at=excluded.updated_at`,
		e.FileHash, e.SigHash, e.Layer, e.Payload, e.Version, Now())
	if err != nil {
		return fmt.Errorf("put registry entry: %w", err)
	}
	return nil
}

// DeleteRegistryEntry removes one cached entry.
func (s *Store) DeleteRegistryEntry(fileHash, sigHash, layer string) error {
	_, err := s.q.Exec(`DELETE FROM registry_entries WHERE file_hash=? AND sig_hash=? AND layer=?`,
		fileHash, sigHash, layer)
	return err
}

// ClearRegistry drops all cached entries.
func (s *Store) ClearRegistry() error {
	_, err := s.q.Exec(`DELETE FROM registry_entries`)
	return err
}

// CountRegistryEntries returns the number of cached entries.
func (s *Store) CountRegistryEntries() (int, error) {
	var count int
	err := s.q.QueryRow(`SELECT COUNT(*) FROM registry_entries`).Scan(&count)
	return count, err
}
