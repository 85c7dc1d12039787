package sqlite

import (
	"context"
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/evidence"
)

var _ evidence.Store = (*Store)(nil)

// SaveArchive inserts a write-once evidence archive. Updating or deleting
// an existing row is rejected by the schema's triggers.
func (s *Store) SaveArchive(ctx context.Context, archive evidence.Archive) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence_archives (archive_id, session_id, format, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		archive.ArchiveID, archive.SessionID, archive.Format, archive.Payload,
		archive.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// ListArchives returns every archive saved for sessionID, oldest first.
func (s *Store) ListArchives(ctx context.Context, sessionID string) ([]evidence.Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT archive_id, session_id, format, payload, created_at
		FROM evidence_archives WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var archives []evidence.Archive
	for rows.Next() {
		var a evidence.Archive
		var createdAt string
		if err := rows.Scan(&a.ArchiveID, &a.SessionID, &a.Format, &a.Payload, &createdAt); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, err
		}
		archives = append(archives, a)
	}
	return archives, rows.Err()
}
