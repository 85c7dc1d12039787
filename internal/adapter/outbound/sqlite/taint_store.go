package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/taint"
)

var _ taint.Store = (*Store)(nil)

// GetSessionTaints returns a session's stored taint labels, or an empty
// slice if the session has none recorded yet.
func (s *Store) GetSessionTaints(ctx context.Context, sessionID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var labels string
	err := s.db.QueryRowContext(ctx, `SELECT labels FROM session_taints WHERE session_id = ?`, sessionID).Scan(&labels)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if labels == "" {
		return nil, nil
	}
	return strings.Split(labels, ","), nil
}

// SaveSessionTaints upserts a session's taint label set.
func (s *Store) SaveSessionTaints(ctx context.Context, sessionID string, labels []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_taints (session_id, labels) VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET labels = excluded.labels`,
		sessionID, strings.Join(labels, ","),
	)
	return err
}
