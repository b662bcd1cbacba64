package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"intake-chatbot/internal/core"
	"intake-chatbot/internal/db"
	"intake-chatbot/internal/draft"
	"intake-chatbot/internal/llm"
	"intake-chatbot/internal/todo"
	"intake-chatbot/pkg"
)

// scriptedGenerator returns canned bodies in order.
type scriptedGenerator struct {
	bodies []string
	calls  int
}

func (g *scriptedGenerator) Generate(context.Context, llm.Request) (llm.Response, error) {
	body := g.bodies[g.calls%len(g.bodies)]
	g.calls++
	return llm.Response{Kind: llm.KindText, Body: body}, nil
}

func newTestServer(t *testing.T, gen llm.Generator) (*Server, *db.Memory) {
	t.Helper()
	store := db.NewMemory()
	todos := todo.NewQueue(store)
	drafts := draft.NewStore(store)
	log := zap.NewNop()
	linker := core.NewLinker(0)
	orch := core.NewOrchestrator(gen, core.NewDispatcher(store, todos, log), linker, core.Limits{}, log)
	orch.Sleep = func(context.Context, time.Duration) error { return nil }
	session := core.NewSession(orch, store, drafts, todos, linker, log)
	return NewServer(session, store, todos, nil, log), store
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestMessageEndpoint(t *testing.T) {
	gen := &scriptedGenerator{bodies: []string{
		`{"metadata":{"location":"arm","onset":null,"severity":null,"description":"ache"},` +
			`"additionalInsights":{"provocation":null,"quality":null,"radiation":null,"timing":null},` +
			`"issueSelection":null,"suggestedIssue":null,"aiMessage":"When did it start?","conversationComplete":false}`,
	}}
	srv, _ := newTestServer(t, gen)

	rec := do(t, srv, http.MethodPost, "/api/conversation/messages", `{"content":"my arm aches"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var reply core.TurnReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "When did it start?", reply.AssistantReply)
	assert.False(t, reply.Complete)
}

func TestMessageEndpointRejectsEmptyContent(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedGenerator{bodies: []string{"{}"}})
	rec := do(t, srv, http.MethodPost, "/api/conversation/messages", `{"content":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessageEndpointMapsTurnErrors(t *testing.T) {
	// Every generator reply is garbage that cannot even be salvaged as a
	// record, but best-effort acceptance means the turn still succeeds; use
	// an unresolvable issue selection to force a commit-time turn error.
	gen := &scriptedGenerator{bodies: []string{
		`{"metadata":{"location":"arm","onset":"2020-01-01","severity":3,"description":""},` +
			`"additionalInsights":{"provocation":"p","quality":"q","radiation":"r","timing":"t"},` +
			`"issueSelection":{"type":"existing","existingIssueRef":"no such issue"},` +
			`"suggestedIssue":null,"aiMessage":"done","conversationComplete":true}`,
	}}
	srv, _ := newTestServer(t, gen)

	rec := do(t, srv, http.MethodPost, "/api/conversation/messages", `{"content":"same as before"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "unresolved-entity-reference", payload["kind"])
}

func TestIssueLifecycleEndpoints(t *testing.T) {
	srv, store := newTestServer(t, &scriptedGenerator{bodies: []string{"{}"}})
	ctx := context.Background()

	rec := do(t, srv, http.MethodPost, "/api/issues", `{"name":"Migraines","start_date":"2025-01-15"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var issue pkg.Issue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issue))
	assert.Equal(t, pkg.IssueActive, issue.Status)

	rec = do(t, srv, http.MethodGet, "/api/issues?status=active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var issues []pkg.Issue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issues))
	require.Len(t, issues, 1)

	// Resolving before the start date is rejected.
	rec = do(t, srv, http.MethodPost, "/api/issues/"+issue.ID+"/resolve", `{"end_date":"2024-12-31"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/issues/"+issue.ID+"/resolve", `{"end_date":"2025-11-30"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resolved pkg.Issue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	assert.Equal(t, pkg.IssueResolved, resolved.Status)

	rec = do(t, srv, http.MethodDelete, "/api/issues/"+issue.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, err := store.GetIssue(ctx, issue.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)

	rec = do(t, srv, http.MethodDelete, "/api/issues/"+issue.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIssueValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedGenerator{bodies: []string{"{}"}})

	rec := do(t, srv, http.MethodPost, "/api/issues", `{"name":"","start_date":"2025-01-15"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/issues", `{"name":"X","start_date":"January"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/issues?status=sideways", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTodoEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedGenerator{bodies: []string{"{}"}})
	ctx := context.Background()

	added, err := srv.Todos.Add(ctx, []string{"stomach ache"})
	require.NoError(t, err)
	require.Len(t, added, 1)

	rec := do(t, srv, http.MethodGet, "/api/todos", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []pkg.TodoItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)

	rec = do(t, srv, http.MethodDelete, "/api/todos/"+items[0].ID+"?declined=true", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/api/todos/"+items[0].ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordsEndpoint(t *testing.T) {
	srv, store := newTestServer(t, &scriptedGenerator{bodies: []string{"{}"}})
	loc := pkg.LocationChest
	require.NoError(t, store.CommitRecord(context.Background(), &pkg.Record{
		ID:        "r1",
		Metadata:  pkg.RecordMetadata{Location: &loc},
		CreatedAt: time.Now(),
	}))

	rec := do(t, srv, http.MethodGet, "/api/records", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []pkg.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "r1", records[0].ID)
}

func TestStreamUnavailableWithoutNotifier(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedGenerator{bodies: []string{"{}"}})
	rec := do(t, srv, http.MethodGet, "/api/records/stream", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestUnknownRouteIs404(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedGenerator{bodies: []string{"{}"}})
	rec := do(t, srv, http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
