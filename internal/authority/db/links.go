package db

import "fmt"

// InsertIssuedLink records one terminal issuance in the audit log.
func (s *Store) InsertIssuedLink(link *IssuedLink) error {
	_, err := s.db.Exec(
		`INSERT INTO issued_links (subject, device_id, platform, auth_level, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		link.Subject, link.DeviceID, link.Platform, link.AuthLevel, link.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert issued link: %w", err)
	}
	return nil
}

// ListIssuedLinks returns the most recent audit records, newest first.
// A non-positive limit falls back to 100.
func (s *Store) ListIssuedLinks(limit int) ([]IssuedLink, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, subject, device_id, platform, auth_level, expires_at, issued_at
		 FROM issued_links ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list issued links: %w", err)
	}
	defer rows.Close()

	var links []IssuedLink
	for rows.Next() {
		var l IssuedLink
		if err := rows.Scan(&l.ID, &l.Subject, &l.DeviceID, &l.Platform, &l.AuthLevel, &l.ExpiresAt, &l.IssuedAt); err != nil {
			return nil, fmt.Errorf("scan issued link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}
