package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/trace"
)

var _ trace.Store = (*Store)(nil)

// Append inserts a new trace event. The events table has no update or
// delete path; this is the only mutation it exposes.
func (s *Store) Append(ctx context.Context, event trace.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trace_events (
			event_id, timestamp, session_id, user_id, agent_id, tool_name,
			arguments_hash, policy_version, policy_decision, policy_reason,
			matched_rule, executed, duration_ms, error, is_write_action,
			approval_token_present
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.Timestamp.UTC().Format(time.RFC3339Nano), event.SessionID,
		nullable(event.UserID), nullable(event.AgentID), event.ToolName,
		event.ArgumentsHash, nullable(event.PolicyVersion), event.PolicyDecision,
		nullable(event.PolicyReason), nullable(event.MatchedRule), boolToInt(event.Executed),
		event.DurationMS, nullable(event.Error), boolToInt(event.IsWriteAction),
		boolToInt(event.ApprovalTokenPresent),
	)
	return err
}

// Query returns events for sessionID (or all sessions when empty),
// ordered by timestamp ascending, optionally filtered to events at or
// after since.
func (s *Store) Query(ctx context.Context, sessionID string, since *time.Time) ([]trace.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT event_id, timestamp, session_id, user_id, agent_id, tool_name,
		arguments_hash, policy_version, policy_decision, policy_reason, matched_rule,
		executed, duration_ms, error, is_write_action, approval_token_present
		FROM trace_events WHERE 1=1`
	var args []any
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	if since != nil {
		query += ` AND timestamp >= ?`
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []trace.Event
	for rows.Next() {
		var ev trace.Event
		var ts string
		var userID, agentID, policyVersion, policyReason, matchedRule, errStr sql.NullString
		var durationMS sql.NullInt64
		var executed, isWrite, approvalPresent int

		if err := rows.Scan(&ev.EventID, &ts, &ev.SessionID, &userID, &agentID, &ev.ToolName,
			&ev.ArgumentsHash, &policyVersion, &ev.PolicyDecision, &policyReason, &matchedRule,
			&executed, &durationMS, &errStr, &isWrite, &approvalPresent); err != nil {
			return nil, err
		}

		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		ev.Timestamp = parsed
		ev.UserID = stringOr(userID)
		ev.AgentID = stringOr(agentID)
		ev.PolicyVersion = stringOr(policyVersion)
		ev.PolicyReason = stringOr(policyReason)
		ev.MatchedRule = stringOr(matchedRule)
		ev.Error = stringOr(errStr)
		ev.Executed = executed != 0
		ev.IsWriteAction = isWrite != 0
		ev.ApprovalTokenPresent = approvalPresent != 0
		if durationMS.Valid {
			v := durationMS.Int64
			ev.DurationMS = &v
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListSessions returns the distinct session ids that have at least one
// trace event, most-recently-active first.
func (s *Store) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id FROM trace_events
		GROUP BY session_id
		ORDER BY MAX(timestamp) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sessions = append(sessions, id)
	}
	return sessions, rows.Err()
}

// PurgeSession deletes one session's trace events and taint labels. It
// deliberately leaves incidents and incident_events untouched: a data-
// retention purge clears request history, not the incident audit trail.
func (s *Store) PurgeSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM trace_events WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_taints WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
