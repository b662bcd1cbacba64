package db

import (
	"context"
	"sort"
	"sync"

	"intake-chatbot/pkg"
)

// Memory is an in-process Store used by tests and by hosts that want no
// durability at all. Snapshots returned to callers are deep-copied through
// value semantics, so callers can never mutate stored state in place.
type Memory struct {
	mu      sync.Mutex
	records []pkg.Record
	issues  []pkg.Issue
	todos   []pkg.TodoItem
	draft   *pkg.DraftSnapshot
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) CommitRecord(_ context.Context, rec *pkg.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *Memory) GetRecord(_ context.Context, id string) (*pkg.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.ID == id {
			out := rec
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) QueryRecords(_ context.Context, q RecordQuery) ([]pkg.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []pkg.Record
	for _, rec := range m.records {
		if q.Location != nil && (rec.Metadata.Location == nil || *rec.Metadata.Location != *q.Location) {
			continue
		}
		if q.IssueID != nil && (rec.IssueID == nil || *rec.IssueID != *q.IssueID) {
			continue
		}
		if q.Since != nil && rec.CreatedAt.Before(*q.Since) {
			continue
		}
		if q.Until != nil && rec.CreatedAt.After(*q.Until) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) PutIssue(_ context.Context, issue *pkg.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.issues {
		if m.issues[i].ID == issue.ID {
			m.issues[i] = *issue
			return nil
		}
	}
	m.issues = append(m.issues, *issue)
	return nil
}

func (m *Memory) GetIssue(_ context.Context, id string) (*pkg.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, issue := range m.issues {
		if issue.ID == id {
			out := issue
			out.MemberRecordIDs = m.memberIDs(id)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListIssues(_ context.Context, status *pkg.IssueStatus) ([]pkg.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []pkg.Issue
	for _, issue := range m.issues {
		if status != nil && issue.Status != *status {
			continue
		}
		issue.MemberRecordIDs = m.memberIDs(issue.ID)
		out = append(out, issue)
	}
	return out, nil
}

func (m *Memory) DeleteIssue(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.issues {
		if m.issues[i].ID != id {
			continue
		}
		m.issues = append(m.issues[:i], m.issues[i+1:]...)
		// Unlink, never delete, the member records.
		for j := range m.records {
			if m.records[j].IssueID != nil && *m.records[j].IssueID == id {
				m.records[j].IssueID = nil
			}
		}
		return nil
	}
	return ErrNotFound
}

func (m *Memory) ListTodos(_ context.Context) ([]pkg.TodoItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pkg.TodoItem, len(m.todos))
	copy(out, m.todos)
	return out, nil
}

func (m *Memory) PutTodo(_ context.Context, item pkg.TodoItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.todos = append(m.todos, item)
	return nil
}

func (m *Memory) DeleteTodo(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.todos {
		if m.todos[i].ID == id {
			m.todos = append(m.todos[:i], m.todos[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) GetDraft(_ context.Context) (*pkg.DraftSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil {
		return nil, nil
	}
	out := *m.draft
	return &out, nil
}

func (m *Memory) PutDraft(_ context.Context, snap *pkg.DraftSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *snap
	m.draft = &copied
	return nil
}

func (m *Memory) ClearDraft(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft = nil
	return nil
}

func (m *Memory) memberIDs(issueID string) []string {
	var ids []string
	for _, rec := range m.records {
		if rec.IssueID != nil && *rec.IssueID == issueID {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}
