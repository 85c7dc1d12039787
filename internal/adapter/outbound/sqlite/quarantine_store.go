package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/quarantine"
)

var _ quarantine.Store = (*Store)(nil)

// CreateIncident inserts a new incident record. A uniqueness violation on
// the partial index over active statuses surfaces as a driver error;
// quarantine.Coordinator detects it via isUniquenessError and reloads the
// existing active incident instead of failing the request.
func (s *Store) CreateIncident(ctx context.Context, rec *quarantine.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents (incident_id, session_id, status, risk_score, reason, created_at, updated_at, released_by, released_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.IncidentID, rec.SessionID, string(rec.Status), rec.RiskScore, nullable(rec.Reason),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		nullable(rec.ReleasedBy), formatTimePtr(rec.ReleasedAt),
	)
	return err
}

// UpdateIncident updates an existing incident's mutable fields.
func (s *Store) UpdateIncident(ctx context.Context, rec *quarantine.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET status = ?, risk_score = ?, reason = ?, updated_at = ?, released_by = ?, released_at = ?
		WHERE incident_id = ?`,
		string(rec.Status), rec.RiskScore, nullable(rec.Reason), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		nullable(rec.ReleasedBy), formatTimePtr(rec.ReleasedAt), rec.IncidentID,
	)
	return err
}

// ActiveIncidents returns every incident whose status is currently
// quarantined, revoked, or failed.
func (s *Store) ActiveIncidents(ctx context.Context) ([]quarantine.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT incident_id, session_id, status, risk_score, reason, created_at, updated_at, released_by, released_at
		FROM incidents WHERE status IN ('quarantined', 'revoked', 'failed')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []quarantine.Record
	for rows.Next() {
		var rec quarantine.Record
		var status, createdAt, updatedAt string
		var reason, releasedBy, releasedAt sql.NullString
		if err := rows.Scan(&rec.IncidentID, &rec.SessionID, &status, &rec.RiskScore, &reason,
			&createdAt, &updatedAt, &releasedBy, &releasedAt); err != nil {
			return nil, err
		}
		rec.Status = quarantine.Status(status)
		rec.Reason = stringOr(reason)
		rec.ReleasedBy = stringOr(releasedBy)
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, err
		}
		if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, err
		}
		if releasedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, releasedAt.String)
			if err != nil {
				return nil, err
			}
			rec.ReleasedAt = &t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AddIncidentEvent inserts one incident transition row. Append-only, like
// trace_events: history is never rewritten once written.
func (s *Store) AddIncidentEvent(ctx context.Context, event quarantine.IncidentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incident_events (event_id, incident_id, event_type, detail, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		event.EventID, event.IncidentID, string(event.EventType), nullable(event.Detail),
		event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
