// Package draft persists the single in-flight conversation snapshot so an
// interrupted intake can be resumed after a restart. One slot only: saving
// overwrites the previous snapshot whole.
package draft

import (
	"context"
	"time"

	"intake-chatbot/internal/db"
	"intake-chatbot/pkg"
)

// TTL is how long a saved snapshot stays resumable.
const TTL = 24 * time.Hour

// Store wraps the persistence layer's draft slot with expiry handling.
// Now is injectable for tests.
type Store struct {
	Backend db.Store
	Now     func() time.Time
}

// NewStore constructs a draft store over the given backend.
func NewStore(backend db.Store) *Store {
	return &Store{Backend: backend, Now: time.Now}
}

// Save stamps the snapshot and overwrites the slot.
func (s *Store) Save(ctx context.Context, snap *pkg.DraftSnapshot) error {
	snap.SavedAt = s.now()
	return s.Backend.PutDraft(ctx, snap)
}

// Load returns the saved snapshot, or nil when none exists. An expired
// snapshot is cleared and nil is returned: it is never surfaced for resume.
func (s *Store) Load(ctx context.Context) (*pkg.DraftSnapshot, error) {
	snap, err := s.Backend.GetDraft(ctx)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}
	if s.IsExpired(snap) {
		if err := s.Backend.ClearDraft(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return snap, nil
}

// Clear drops the snapshot, called the instant a record commits or the
// user explicitly discards the conversation.
func (s *Store) Clear(ctx context.Context) error {
	return s.Backend.ClearDraft(ctx)
}

// IsExpired reports whether the snapshot is older than the TTL.
func (s *Store) IsExpired(snap *pkg.DraftSnapshot) bool {
	return s.now().Sub(snap.SavedAt) > TTL
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
