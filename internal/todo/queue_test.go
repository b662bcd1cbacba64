package todo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake-chatbot/internal/db"
)

func newTestQueue() *Queue {
	q := NewQueue(db.NewMemory())
	q.Now = func() time.Time { return time.Date(2025, 12, 11, 12, 0, 0, 0, time.UTC) }
	return q
}

func TestAddDeduplicatesCaseInsensitively(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	added, err := q.Add(ctx, []string{"stomach ache", "  Stomach Ache ", "STOMACH ACHE"})
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, "stomach ache", added[0].SubjectText)

	// A later call against the stored queue dedups too.
	added, err = q.Add(ctx, []string{"Stomach Ache", "dizzy spells"})
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, "dizzy spells", added[0].SubjectText)

	items, err := q.List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestAddIgnoresBlankSubjects(t *testing.T) {
	q := newTestQueue()
	added, err := q.Add(context.Background(), []string{"", "   "})
	require.NoError(t, err)
	assert.Empty(t, added)
}

func TestCompleteUnknownIDLeavesQueueUnchanged(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	_, err := q.Add(ctx, []string{"headache"})
	require.NoError(t, err)

	ok, err := q.Complete(ctx, "no-such-id")
	require.NoError(t, err)
	assert.False(t, ok)

	items, err := q.List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestNextReturnsOldestPending(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	next, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = q.Add(ctx, []string{"headache", "sore knee"})
	require.NoError(t, err)

	next, err = q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "headache", next.SubjectText)

	ok, err := q.Complete(ctx, next.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	next, err = q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "sore knee", next.SubjectText)
}
