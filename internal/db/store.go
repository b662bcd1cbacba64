package db

import (
	"context"
	"errors"
	"time"

	"intake-chatbot/pkg"
)

// ErrNotFound is returned when a record or issue id resolves to nothing.
var ErrNotFound = errors.New("not found")

// RecordQuery filters committed records. Nil fields are unconstrained.
// Limit <= 0 means no explicit limit; results are newest first.
type RecordQuery struct {
	Location *pkg.Location
	IssueID  *string
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

// Store is the durable persistence surface: committed records, issues, the
// todo queue and the single-slot draft snapshot. Implementations: Postgres
// (production), Bolt (single-binary local mode) and Memory (tests).
//
// Issue.MemberRecordIDs is always derived from committed records, so issue
// rows never go stale when records are committed or unlinked.
type Store interface {
	// CommitRecord inserts a completed record and, when rec.IssueID is
	// set, makes it a member of that issue in the same transaction.
	CommitRecord(ctx context.Context, rec *pkg.Record) error
	GetRecord(ctx context.Context, id string) (*pkg.Record, error)
	QueryRecords(ctx context.Context, q RecordQuery) ([]pkg.Record, error)

	PutIssue(ctx context.Context, issue *pkg.Issue) error
	GetIssue(ctx context.Context, id string) (*pkg.Issue, error)
	ListIssues(ctx context.Context, status *pkg.IssueStatus) ([]pkg.Issue, error)
	// DeleteIssue removes the issue and unlinks (never deletes) its
	// member records.
	DeleteIssue(ctx context.Context, id string) error

	ListTodos(ctx context.Context) ([]pkg.TodoItem, error)
	PutTodo(ctx context.Context, item pkg.TodoItem) error
	// DeleteTodo reports whether the id existed.
	DeleteTodo(ctx context.Context, id string) (bool, error)

	GetDraft(ctx context.Context) (*pkg.DraftSnapshot, error)
	PutDraft(ctx context.Context, snap *pkg.DraftSnapshot) error
	ClearDraft(ctx context.Context) error
}
