package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/replay"
)

var _ replay.Store = (*Store)(nil)

// CreateRun inserts a new replay run in the running state.
func (s *Store) CreateRun(ctx context.Context, run *replay.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replay_runs (run_id, baseline_version, candidate_version, session_id, status, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.BaselineVersion, run.CandidateVersion, nullable(run.SessionID),
		run.Status, run.CreatedAt.UTC().Format(time.RFC3339Nano), formatTimePtr(run.CompletedAt),
	)
	return err
}

// CompleteRun marks a run completed at completedAt.
func (s *Store) CompleteRun(ctx context.Context, runID string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE replay_runs SET status = 'completed', completed_at = ? WHERE run_id = ?`,
		completedAt.UTC().Format(time.RFC3339Nano), runID,
	)
	return err
}

// SaveDelta persists one per-event replay delta.
func (s *Store) SaveDelta(ctx context.Context, delta replay.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replay_deltas (run_id, event_id, baseline_action, candidate_action, severity, root_cause, explanation)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		delta.RunID, delta.EventID, string(delta.BaselineAction), string(delta.CandidateAction),
		string(delta.Severity), delta.RootCause, nullable(delta.Explanation),
	)
	return err
}

// Deltas returns every delta recorded for runID.
func (s *Store) Deltas(ctx context.Context, runID string) ([]replay.Delta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, event_id, baseline_action, candidate_action, severity, root_cause, explanation
		FROM replay_deltas WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deltas []replay.Delta
	for rows.Next() {
		var d replay.Delta
		var baseline, candidate, severity string
		var explanation sql.NullString
		if err := rows.Scan(&d.RunID, &d.EventID, &baseline, &candidate, &severity, &d.RootCause, &explanation); err != nil {
			return nil, err
		}
		d.BaselineAction = toAction(baseline)
		d.CandidateAction = toAction(candidate)
		d.Severity = replay.Severity(severity)
		d.Explanation = stringOr(explanation)
		deltas = append(deltas, d)
	}
	return deltas, rows.Err()
}
