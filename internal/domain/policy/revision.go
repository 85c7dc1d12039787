package policy

import (
	"context"
	"errors"
	"time"
)

// RevisionManager enforces the policy lifecycle FSM over a Store:
// draft -> in_review -> published, with a rolled_back sink. Only one
// revision may be published at a time.
type RevisionManager struct {
	store Store
	Now   func() time.Time
}

// NewRevisionManager wraps store with the FSM transition rules.
func NewRevisionManager(store Store) *RevisionManager {
	return &RevisionManager{store: store, Now: time.Now}
}

// Submit moves a draft revision to in_review.
func (m *RevisionManager) Submit(ctx context.Context, id string) error {
	rev, err := m.store.GetRevision(ctx, id)
	if err != nil {
		return err
	}
	if rev.Status != StatusDraft {
		return errors.New("revision must be draft to submit for review")
	}
	rev.Status = StatusInReview
	rev.UpdatedAt = m.Now()
	return m.store.UpdateRevision(ctx, rev)
}

// Publish promotes an in_review revision to published, rolling back
// whatever revision is currently published.
func (m *RevisionManager) Publish(ctx context.Context, id string) error {
	rev, err := m.store.GetRevision(ctx, id)
	if err != nil {
		return err
	}
	if rev.Status != StatusInReview {
		return errors.New("publish requires revision to be in_review")
	}

	if current, err := m.store.PublishedRevision(ctx); err == nil && current != nil && current.ID != rev.ID {
		current.Status = StatusRolledBack
		current.UpdatedAt = m.Now()
		if err := m.store.UpdateRevision(ctx, current); err != nil {
			return err
		}
	}

	rev.Status = StatusPublished
	rev.UpdatedAt = m.Now()
	return m.store.UpdateRevision(ctx, rev)
}

// Rollback transitions the currently published revision to rolled_back and
// restores restoreID (which must already exist) to published.
func (m *RevisionManager) Rollback(ctx context.Context, restoreID string) error {
	current, err := m.store.PublishedRevision(ctx)
	if err != nil {
		return err
	}
	restore, err := m.store.GetRevision(ctx, restoreID)
	if err != nil {
		return err
	}

	now := m.Now()
	if current != nil {
		current.Status = StatusRolledBack
		current.UpdatedAt = now
		if err := m.store.UpdateRevision(ctx, current); err != nil {
			return err
		}
	}
	restore.Status = StatusPublished
	restore.UpdatedAt = now
	return m.store.UpdateRevision(ctx, restore)
}
