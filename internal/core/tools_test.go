package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"intake-chatbot/internal/db"
	"intake-chatbot/internal/todo"
	"intake-chatbot/pkg"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *db.Memory) {
	t.Helper()
	store := db.NewMemory()
	todos := todo.NewQueue(store)
	todos.Now = func() time.Time { return testToday }
	d := NewDispatcher(store, todos, zap.NewNop())
	d.Now = func() time.Time { return testToday }
	return d, store
}

func seedRecord(t *testing.T, store *db.Memory, id string, loc pkg.Location, createdAt time.Time) {
	t.Helper()
	err := store.CommitRecord(context.Background(), &pkg.Record{
		ID:        id,
		Metadata:  pkg.RecordMetadata{Location: locPtr(loc), Severity: intPtr(4)},
		CreatedAt: createdAt,
	})
	require.NoError(t, err)
}

func TestExecuteUnknownTool(t *testing.T) {
	d, _ := newTestDispatcher(t)
	out := d.Execute(context.Background(), "summon_physician", "{}")
	assert.Equal(t, `Unknown tool "summon_physician"`, out)
}

func TestGetHistoryRecent(t *testing.T) {
	d, store := newTestDispatcher(t)
	seedRecord(t, store, "r1", pkg.LocationChest, testToday.AddDate(0, 0, -2))
	seedRecord(t, store, "r2", pkg.LocationLeg, testToday.AddDate(0, 0, -40))

	out := d.Execute(context.Background(), "get_history", `{"query_type":"recent"}`)
	// Default lookback is 30 days, so only the chest record qualifies.
	assert.Contains(t, out, "Found 1 entry")
	assert.Contains(t, out, "chest")
	assert.NotContains(t, out, "leg")
}

func TestGetHistoryClampsLookbackAndLimit(t *testing.T) {
	d, store := newTestDispatcher(t)
	seedRecord(t, store, "r1", pkg.LocationLeg, testToday.AddDate(0, 0, -400))
	for i := 0; i < 60; i++ {
		seedRecord(t, store, fmt.Sprintf("rec-%d", i), pkg.LocationArm, testToday.AddDate(0, 0, -1))
	}

	// days_back 10000 clamps to 365: the 400-day-old record stays excluded.
	out := d.Execute(context.Background(), "get_history",
		`{"query_type":"recent","days_back":10000,"limit":100}`)
	assert.NotContains(t, out, "leg")
	// limit 100 clamps to 50.
	assert.Contains(t, out, "Found 50 entries")
}

func TestGetHistoryByLocationRejectsUnknown(t *testing.T) {
	d, _ := newTestDispatcher(t)
	out := d.Execute(context.Background(), "get_history",
		`{"query_type":"by_location","location":"elbow"}`)
	assert.Contains(t, out, "not a known location")
}

func TestGetHistoryByIssueIgnoresLookback(t *testing.T) {
	d, store := newTestDispatcher(t)
	issueID := "iss-1"
	err := store.CommitRecord(context.Background(), &pkg.Record{
		ID:        "old",
		Metadata:  pkg.RecordMetadata{Location: locPtr(pkg.LocationBack)},
		IssueID:   &issueID,
		CreatedAt: testToday.AddDate(-1, 0, 0),
	})
	require.NoError(t, err)

	out := d.Execute(context.Background(), "get_history",
		`{"query_type":"by_issue","issue_id":"iss-1"}`)
	assert.Contains(t, out, "Found 1 entry")
}

func TestGetHistoryUnknownQueryType(t *testing.T) {
	d, _ := newTestDispatcher(t)
	out := d.Execute(context.Background(), "get_history", `{"query_type":"psychic"}`)
	assert.Contains(t, out, `unknown query_type "psychic"`)
}

func TestGetHistoryEmptyResult(t *testing.T) {
	d, _ := newTestDispatcher(t)
	out := d.Execute(context.Background(), "get_history", `{"query_type":"recent"}`)
	assert.Equal(t, "No matching entries found.", out)
}

func TestManageTodosAddListComplete(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	out := d.Execute(ctx, "manage_todos", `{"operation":"add","subjects":["stomach ache","  Stomach Ache "]}`)
	assert.Contains(t, out, "Queued 1 subject(s)")

	out = d.Execute(ctx, "manage_todos", `{"operation":"list"}`)
	assert.Contains(t, out, "stomach ache")

	items, err := d.Todos.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	out = d.Execute(ctx, "manage_todos", `{"operation":"complete","todo_id":"`+items[0].ID+`"}`)
	assert.Contains(t, out, "Removed subject")

	out = d.Execute(ctx, "manage_todos", `{"operation":"list"}`)
	assert.Equal(t, "The todo queue is empty.", out)
}

func TestManageTodosUnknownID(t *testing.T) {
	d, _ := newTestDispatcher(t)
	out := d.Execute(context.Background(), "manage_todos",
		`{"operation":"complete","todo_id":"nope"}`)
	assert.Contains(t, out, `No queued subject has id "nope"`)
}

func TestManageTodosBadArguments(t *testing.T) {
	d, _ := newTestDispatcher(t)
	assert.Contains(t, d.Execute(context.Background(), "manage_todos", "not json"),
		"arguments were not valid JSON")
	assert.Contains(t, d.Execute(context.Background(), "manage_todos", `{"operation":"add"}`),
		"add requires at least one subject")
	assert.Contains(t, d.Execute(context.Background(), "manage_todos", `{"operation":"shuffle"}`),
		`unknown operation "shuffle"`)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 10, clamp(0, 1, 50, 10))
	assert.Equal(t, 1, clamp(-3, 1, 50, 10))
	assert.Equal(t, 50, clamp(99, 1, 50, 10))
	assert.Equal(t, 25, clamp(25, 1, 50, 10))
}
