package draft

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake-chatbot/internal/db"
	"intake-chatbot/pkg"
)

var savedAt = time.Date(2025, 12, 11, 9, 0, 0, 0, time.UTC)

func newTestStore() *Store {
	s := NewStore(db.NewMemory())
	s.Now = func() time.Time { return savedAt }
	return s
}

func sampleSnapshot() *pkg.DraftSnapshot {
	loc := pkg.LocationChest
	return &pkg.DraftSnapshot{
		History: []pkg.Utterance{{Role: pkg.RoleUser, Text: "chest pain", CreatedAt: savedAt}},
		Record:  pkg.RecordMetadata{Location: &loc},
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleSnapshot()))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, savedAt, snap.SavedAt)
	assert.Len(t, snap.History, 1)
}

func TestLoadJustBeforeExpiryStillResumes(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleSnapshot()))

	s.Now = func() time.Time { return savedAt.Add(TTL - time.Second) }
	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.NotNil(t, snap)
}

func TestLoadAfterExpiryClearsAndHides(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleSnapshot()))

	s.Now = func() time.Time { return savedAt.Add(TTL + time.Second) }
	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)

	// The slot itself was cleared, not just filtered.
	raw, err := s.Backend.GetDraft(ctx)
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestSaveOverwritesSlotWhole(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleSnapshot()))
	second := sampleSnapshot()
	second.History = append(second.History,
		pkg.Utterance{Role: pkg.RoleAssistant, Text: "when did it start?", CreatedAt: savedAt})
	require.NoError(t, s.Save(ctx, second))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Len(t, snap.History, 2)
}

func TestClear(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleSnapshot()))
	require.NoError(t, s.Clear(ctx))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)
}
