package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/rollout"
)

var _ rollout.Store = (*Store)(nil)

// CreateRollout inserts a new rollout record.
func (s *Store) CreateRollout(ctx context.Context, rec *rollout.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rollouts (rollout_id, tenant_id, baseline_version, candidate_version, status, verdict, rolled_back, critical, high, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RolloutID, rec.TenantID, rec.BaselineVersion, rec.CandidateVersion, string(rec.Status),
		string(rec.Verdict), boolToInt(rec.RolledBack), rec.Critical, rec.High,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetRollout looks up a rollout by id.
func (s *Store) GetRollout(ctx context.Context, rolloutID string) (*rollout.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT rollout_id, tenant_id, baseline_version, candidate_version, status, verdict, rolled_back, critical, high, created_at, updated_at
		FROM rollouts WHERE rollout_id = ?`, rolloutID)
	return scanRollout(row)
}

// FindRollout looks up a rollout by its idempotency triple.
func (s *Store) FindRollout(ctx context.Context, tenantID, baselineVersion, candidateVersion string) (*rollout.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT rollout_id, tenant_id, baseline_version, candidate_version, status, verdict, rolled_back, critical, high, created_at, updated_at
		FROM rollouts WHERE tenant_id = ? AND baseline_version = ? AND candidate_version = ?`,
		tenantID, baselineVersion, candidateVersion)
	rec, err := scanRollout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// UpdateRollout updates an existing rollout's mutable fields.
func (s *Store) UpdateRollout(ctx context.Context, rec *rollout.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE rollouts SET status = ?, verdict = ?, rolled_back = ?, critical = ?, high = ?, updated_at = ?
		WHERE rollout_id = ?`,
		string(rec.Status), string(rec.Verdict), boolToInt(rec.RolledBack), rec.Critical, rec.High,
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano), rec.RolloutID,
	)
	return err
}

func scanRollout(row *sql.Row) (*rollout.Record, error) {
	var rec rollout.Record
	var status, verdict, createdAt, updatedAt string
	var rolledBack int
	if err := row.Scan(&rec.RolloutID, &rec.TenantID, &rec.BaselineVersion, &rec.CandidateVersion,
		&status, &verdict, &rolledBack, &rec.Critical, &rec.High, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Status = rollout.Status(status)
	rec.Verdict = rollout.Verdict(verdict)
	rec.RolledBack = rolledBack != 0
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
