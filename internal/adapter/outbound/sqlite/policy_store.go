package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
)

var _ policy.Store = (*Store)(nil)

// CreateRevision inserts a new policy revision.
func (s *Store) CreateRevision(ctx context.Context, rev *policy.Revision) error {
	bundle, err := json.Marshal(rev.Bundle)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policy_revisions (id, version, status, bundle, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rev.ID, rev.Version, string(rev.Status), string(bundle),
		rev.CreatedAt.UTC().Format(time.RFC3339Nano), rev.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetRevision looks up a revision by id.
func (s *Store) GetRevision(ctx context.Context, id string) (*policy.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, version, status, bundle, created_at, updated_at FROM policy_revisions WHERE id = ?`, id)
	return scanRevision(row)
}

// ListRevisions returns every revision, most recently created first.
func (s *Store) ListRevisions(ctx context.Context) ([]policy.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, status, bundle, created_at, updated_at FROM policy_revisions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revisions []policy.Revision
	for rows.Next() {
		var id, version, status, bundleRaw, createdAt, updatedAt string
		if err := rows.Scan(&id, &version, &status, &bundleRaw, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		rev, err := revisionFromRow(id, version, status, bundleRaw, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, *rev)
	}
	return revisions, rows.Err()
}

// UpdateRevision updates a revision's mutable fields.
func (s *Store) UpdateRevision(ctx context.Context, rev *policy.Revision) error {
	bundle, err := json.Marshal(rev.Bundle)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		UPDATE policy_revisions SET status = ?, bundle = ?, updated_at = ? WHERE id = ?`,
		string(rev.Status), string(bundle), rev.UpdatedAt.UTC().Format(time.RFC3339Nano), rev.ID,
	)
	return err
}

// PublishedRevision returns the single currently published revision, or
// nil if none is published.
func (s *Store) PublishedRevision(ctx context.Context) (*policy.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, version, status, bundle, created_at, updated_at FROM policy_revisions
		WHERE status = ? ORDER BY updated_at DESC LIMIT 1`, string(policy.StatusPublished))
	rev, err := scanRevision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rev, err
}

func scanRevision(row *sql.Row) (*policy.Revision, error) {
	var id, version, status, bundleRaw, createdAt, updatedAt string
	if err := row.Scan(&id, &version, &status, &bundleRaw, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	return revisionFromRow(id, version, status, bundleRaw, createdAt, updatedAt)
}

func revisionFromRow(id, version, status, bundleRaw, createdAt, updatedAt string) (*policy.Revision, error) {
	var bundle map[string]any
	if err := json.Unmarshal([]byte(bundleRaw), &bundle); err != nil {
		return nil, err
	}
	rev := &policy.Revision{ID: id, Version: version, Status: policy.RevisionStatus(status), Bundle: bundle}
	var err error
	if rev.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if rev.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}
	return rev, nil
}
