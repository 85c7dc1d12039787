package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/transparency"
)

var _ transparency.CheckpointStore = (*Store)(nil)

// SaveCheckpoint inserts a new transparency checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, cp transparency.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transparency_checkpoints (session_id, root_hash, event_count, anchored_at, anchor_source, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cp.SessionID, cp.RootHash, cp.EventCount, cp.AnchoredAt.UTC().Format(time.RFC3339Nano),
		nullable(cp.AnchorSource), cp.Status,
	)
	return err
}

// ListCheckpoints returns every checkpoint anchored for sessionID, oldest
// first.
func (s *Store) ListCheckpoints(ctx context.Context, sessionID string) ([]transparency.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, root_hash, event_count, anchored_at, anchor_source, status
		FROM transparency_checkpoints WHERE session_id = ? ORDER BY anchored_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []transparency.Checkpoint
	for rows.Next() {
		var cp transparency.Checkpoint
		var anchoredAt string
		var anchorSource sql.NullString
		if err := rows.Scan(&cp.SessionID, &cp.RootHash, &cp.EventCount, &anchoredAt, &anchorSource, &cp.Status); err != nil {
			return nil, err
		}
		cp.AnchorSource = stringOr(anchorSource)
		if cp.AnchoredAt, err = time.Parse(time.RFC3339Nano, anchoredAt); err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}
