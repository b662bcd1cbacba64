package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"intake-chatbot/pkg"
)

// Postgres implements Store over a *sql.DB opened with the pq driver.
// The caller is responsible for the connection lifecycle and for running
// Migrate before first use.
type Postgres struct {
	DB *sql.DB
}

// NewPostgres constructs a Postgres store from an existing sql.DB.
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{DB: db} }

// CommitRecord inserts the record. Issue membership is a foreign key on the
// record row, so the insert and the membership land in one statement.
func (p *Postgres) CommitRecord(ctx context.Context, rec *pkg.Record) error {
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO records (id, issue_id, location, onset, severity, description,
                              provocation, quality, radiation, timing, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.IssueID,
		(*string)(rec.Metadata.Location), rec.Metadata.Onset, rec.Metadata.Severity,
		rec.Metadata.Description,
		rec.Insights.Provocation, rec.Insights.Quality, rec.Insights.Radiation,
		rec.Insights.Timing, rec.CreatedAt,
	)
	return err
}

// GetRecord loads one committed record by id.
func (p *Postgres) GetRecord(ctx context.Context, id string) (*pkg.Record, error) {
	row := p.DB.QueryRowContext(ctx,
		`SELECT id, issue_id, location, onset, severity, description,
                provocation, quality, radiation, timing, created_at
         FROM records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// QueryRecords returns committed records matching q, newest first.
func (p *Postgres) QueryRecords(ctx context.Context, q RecordQuery) ([]pkg.Record, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.Location != nil {
		add("location = $%d", string(*q.Location))
	}
	if q.IssueID != nil {
		add("issue_id = $%d", *q.IssueID)
	}
	if q.Since != nil {
		add("created_at >= $%d", *q.Since)
	}
	if q.Until != nil {
		add("created_at <= $%d", *q.Until)
	}
	query := `SELECT id, issue_id, location, onset, severity, description,
                     provocation, quality, radiation, timing, created_at
              FROM records`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pkg.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// PutIssue inserts or updates an issue.
func (p *Postgres) PutIssue(ctx context.Context, issue *pkg.Issue) error {
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO issues (id, name, status, start_date, end_date, created_at)
         VALUES ($1, $2, $3, $4, $5, $6)
         ON CONFLICT (id) DO UPDATE
         SET name = EXCLUDED.name, status = EXCLUDED.status,
             start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date`,
		issue.ID, issue.Name, string(issue.Status), issue.StartDate, issue.EndDate,
		issue.CreatedAt,
	)
	return err
}

// GetIssue loads one issue with its member record ids.
func (p *Postgres) GetIssue(ctx context.Context, id string) (*pkg.Issue, error) {
	var issue pkg.Issue
	var status string
	err := p.DB.QueryRowContext(ctx,
		`SELECT id, name, status, start_date, end_date, created_at
         FROM issues WHERE id = $1`, id).
		Scan(&issue.ID, &issue.Name, &status, &issue.StartDate, &issue.EndDate, &issue.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	issue.Status = pkg.IssueStatus(status)
	issue.MemberRecordIDs, err = p.memberIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

// ListIssues returns issues, optionally filtered by status, oldest first.
func (p *Postgres) ListIssues(ctx context.Context, status *pkg.IssueStatus) ([]pkg.Issue, error) {
	query := `SELECT id, name, status, start_date, end_date, created_at FROM issues`
	var args []interface{}
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at ASC`
	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pkg.Issue
	for rows.Next() {
		var issue pkg.Issue
		var st string
		if err := rows.Scan(&issue.ID, &issue.Name, &st, &issue.StartDate,
			&issue.EndDate, &issue.CreatedAt); err != nil {
			return nil, err
		}
		issue.Status = pkg.IssueStatus(st)
		out = append(out, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		var err error
		out[i].MemberRecordIDs, err = p.memberIDs(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DeleteIssue removes the issue row. Member records are unlinked by the
// ON DELETE SET NULL foreign key, never deleted.
func (p *Postgres) DeleteIssue(ctx context.Context, id string) error {
	res, err := p.DB.ExecContext(ctx, `DELETE FROM issues WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTodos returns pending todo items in insertion order.
func (p *Postgres) ListTodos(ctx context.Context) ([]pkg.TodoItem, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT id, subject_text, created_at FROM todos ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pkg.TodoItem
	for rows.Next() {
		var item pkg.TodoItem
		if err := rows.Scan(&item.ID, &item.SubjectText, &item.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// PutTodo stores a new todo item.
func (p *Postgres) PutTodo(ctx context.Context, item pkg.TodoItem) error {
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO todos (id, subject_text, created_at) VALUES ($1, $2, $3)`,
		item.ID, item.SubjectText, item.CreatedAt)
	return err
}

// DeleteTodo removes a todo item, reporting whether it existed.
func (p *Postgres) DeleteTodo(ctx context.Context, id string) (bool, error) {
	res, err := p.DB.ExecContext(ctx, `DELETE FROM todos WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetDraft loads the single-slot draft snapshot, or nil when none is saved.
func (p *Postgres) GetDraft(ctx context.Context) (*pkg.DraftSnapshot, error) {
	var payload []byte
	err := p.DB.QueryRowContext(ctx, `SELECT payload FROM draft WHERE slot = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap pkg.DraftSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// PutDraft overwrites the draft slot with the given snapshot.
func (p *Postgres) PutDraft(ctx context.Context, snap *pkg.DraftSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = p.DB.ExecContext(ctx,
		`INSERT INTO draft (slot, payload, saved_at) VALUES (1, $1, $2)
         ON CONFLICT (slot) DO UPDATE
         SET payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at`,
		payload, snap.SavedAt)
	return err
}

// ClearDraft empties the draft slot. Clearing an empty slot is not an error.
func (p *Postgres) ClearDraft(ctx context.Context) error {
	_, err := p.DB.ExecContext(ctx, `DELETE FROM draft WHERE slot = 1`)
	return err
}

func (p *Postgres) memberIDs(ctx context.Context, issueID string) ([]string, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT id FROM records WHERE issue_id = $1 ORDER BY created_at ASC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*pkg.Record, error) {
	var (
		rec      pkg.Record
		location *string
		created  time.Time
	)
	err := row.Scan(&rec.ID, &rec.IssueID, &location, &rec.Metadata.Onset,
		&rec.Metadata.Severity, &rec.Metadata.Description,
		&rec.Insights.Provocation, &rec.Insights.Quality,
		&rec.Insights.Radiation, &rec.Insights.Timing, &created)
	if err != nil {
		return nil, err
	}
	if location != nil {
		loc := pkg.Location(*location)
		rec.Metadata.Location = &loc
	}
	rec.CreatedAt = created
	return &rec, nil
}
