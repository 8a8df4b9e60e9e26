package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNoKASKey is returned when no key access server key is stored yet.
var ErrNoKASKey = errors.New("no key access server key stored")

// GetKASKey retrieves the sealed keypair.
func (s *Store) GetKASKey() (*KASKeyRecord, error) {
	rec := &KASKeyRecord{}
	err := s.db.QueryRow(
		`SELECT key_sealed, public_key, created_at FROM kas_keys WHERE id = 1`,
	).Scan(&rec.KeySealed, &rec.PublicKey, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoKASKey
	}
	if err != nil {
		return nil, fmt.Errorf("get kas key: %w", err)
	}
	return rec, nil
}

// PutKASKey stores the sealed keypair. The single-row table makes a
// second insert fail rather than silently rotating the key.
func (s *Store) PutKASKey(rec *KASKeyRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO kas_keys (id, key_sealed, public_key) VALUES (1, ?, ?)`,
		rec.KeySealed, rec.PublicKey,
	)
	if err != nil {
		return fmt.Errorf("store kas key: %w", err)
	}
	return nil
}
