package db

import (
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Sentinel errors for subject operations.
var (
	ErrSubjectExists   = errors.New("subject already exists")
	ErrSubjectHasLinks = errors.New("subject has issued links; delete them first or use ?cascade=true")
)

// CreateSubject inserts a new subject.
func (s *Store) CreateSubject(sub *Subject) error {
	_, err := s.db.Exec(
		`INSERT INTO subjects (subject, role, audience, token_hash) VALUES (?, ?, ?, ?)`,
		sub.Subject, sub.Role, sub.Audience, sub.TokenHash,
	)
	if err != nil {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return ErrSubjectExists
		}
		return fmt.Errorf("insert subject: %w", err)
	}
	return nil
}

// GetSubject retrieves a subject by name. Returns nil when absent.
func (s *Store) GetSubject(subject string) (*Subject, error) {
	sub := &Subject{}
	err := s.db.QueryRow(
		`SELECT subject, role, audience, token_hash, created_at FROM subjects WHERE subject = ?`,
		subject,
	).Scan(&sub.Subject, &sub.Role, &sub.Audience, &sub.TokenHash, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subject: %w", err)
	}
	return sub, nil
}

// ListSubjects returns all registered subjects. Token hashes are not
// populated.
func (s *Store) ListSubjects() ([]Subject, error) {
	rows, err := s.db.Query(
		`SELECT subject, role, audience, created_at FROM subjects ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	var subs []Subject
	for rows.Next() {
		var sub Subject
		if err := rows.Scan(&sub.Subject, &sub.Role, &sub.Audience, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DeleteSubject deletes a subject by name. Returns true if a row was
// deleted. Returns ErrSubjectHasLinks if audit records still reference
// the subject.
func (s *Store) DeleteSubject(subject string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM subjects WHERE subject = ?`, subject)
	if err != nil {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
			return false, ErrSubjectHasLinks
		}
		return false, fmt.Errorf("delete subject: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteSubjectCascade deletes a subject and its audit records in a
// transaction. Returns true if the subject existed and was deleted.
func (s *Store) DeleteSubjectCascade(subject string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM issued_links WHERE subject = ?`, subject); err != nil {
		return false, fmt.Errorf("delete issued links for subject: %w", err)
	}

	res, err := tx.Exec(`DELETE FROM subjects WHERE subject = ?`, subject)
	if err != nil {
		return false, fmt.Errorf("delete subject: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}
