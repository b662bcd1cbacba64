package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"intake-chatbot/internal/db"
	"intake-chatbot/internal/llm"
	"intake-chatbot/internal/todo"
	"intake-chatbot/pkg"
)

// Bounds on the history tool. Out-of-range requests are clamped, not
// rejected, so a sloppy generator still gets a useful answer.
const (
	minLookbackDays = 1
	maxLookbackDays = 365
	minHistoryLimit = 1
	maxHistoryLimit = 50

	defaultLookbackDays = 30
	defaultHistoryLimit = 10
)

// Dispatcher executes generator-requested side operations. Execute never
// fails: every problem is encoded as a descriptive string returned to the
// generator so it can self-correct conversationally.
type Dispatcher struct {
	Store db.Store
	Todos *todo.Queue
	Log   *zap.Logger
	Now   func() time.Time
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store db.Store, todos *todo.Queue, log *zap.Logger) *Dispatcher {
	return &Dispatcher{Store: store, Todos: todos, Log: log, Now: time.Now}
}

// ToolDefs returns the side operations exposed to the generator.
func ToolDefs() []llm.ToolDef {
	return []llm.ToolDef{
		{
			Name:        "get_history",
			Description: "Look up the user's previously recorded symptom entries.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query_type": map[string]interface{}{
						"type": "string",
						"enum": []string{"recent", "by_location", "by_issue", "by_date_range"},
					},
					"location":   map[string]interface{}{"type": "string"},
					"issue_id":   map[string]interface{}{"type": "string"},
					"days_back":  map[string]interface{}{"type": "integer"},
					"limit":      map[string]interface{}{"type": "integer"},
					"start_date": map[string]interface{}{"type": "string"},
					"end_date":   map[string]interface{}{"type": "string"},
				},
				"required": []string{"query_type"},
			},
		},
		{
			Name:        "manage_todos",
			Description: "Queue, list or dismiss secondary subjects the user mentioned.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"operation": map[string]interface{}{
						"type": "string",
						"enum": []string{"add", "list", "complete", "remove"},
					},
					"subjects": map[string]interface{}{
						"type":  "array",
						"items": map[string]interface{}{"type": "string"},
					},
					"todo_id": map[string]interface{}{"type": "string"},
				},
				"required": []string{"operation"},
			},
		},
	}
}

// Execute runs one tool call and returns its textual result.
func (d *Dispatcher) Execute(ctx context.Context, name, args string) string {
	switch name {
	case "get_history":
		return d.getHistory(ctx, args)
	case "manage_todos":
		return d.manageTodos(ctx, args)
	default:
		return fmt.Sprintf("Unknown tool %q", name)
	}
}

type historyArgs struct {
	QueryType string `json:"query_type"`
	Location  string `json:"location"`
	IssueID   string `json:"issue_id"`
	DaysBack  int    `json:"days_back"`
	Limit     int    `json:"limit"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (d *Dispatcher) getHistory(ctx context.Context, rawArgs string) string {
	var args historyArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return fmt.Sprintf("get_history failed: arguments were not valid JSON (%v)", err)
	}

	q := db.RecordQuery{Limit: clamp(args.Limit, minHistoryLimit, maxHistoryLimit, defaultHistoryLimit)}
	days := clamp(args.DaysBack, minLookbackDays, maxLookbackDays, defaultLookbackDays)
	since := d.now().AddDate(0, 0, -days)
	q.Since = &since

	switch args.QueryType {
	case "recent":
	case "by_location":
		loc := pkg.Location(strings.TrimSpace(args.Location))
		if !pkg.ValidLocation(loc) {
			return fmt.Sprintf("get_history failed: %q is not a known location", args.Location)
		}
		q.Location = &loc
	case "by_issue":
		id := strings.TrimSpace(args.IssueID)
		if id == "" {
			return "get_history failed: by_issue requires issue_id"
		}
		q.IssueID = &id
		q.Since = nil // issue membership is the filter, not recency
	case "by_date_range":
		if args.StartDate != "" {
			t, err := time.Parse(onsetLayout, args.StartDate)
			if err != nil {
				return fmt.Sprintf("get_history failed: start_date %q is not YYYY-MM-DD", args.StartDate)
			}
			q.Since = &t
		}
		if args.EndDate != "" {
			t, err := time.Parse(onsetLayout, args.EndDate)
			if err != nil {
				return fmt.Sprintf("get_history failed: end_date %q is not YYYY-MM-DD", args.EndDate)
			}
			end := t.AddDate(0, 0, 1) // inclusive end day
			q.Until = &end
		}
	default:
		return fmt.Sprintf("get_history failed: unknown query_type %q", args.QueryType)
	}

	records, err := d.Store.QueryRecords(ctx, q)
	if err != nil {
		d.Log.Warn("history query failed", zap.Error(err))
		return fmt.Sprintf("get_history failed: %v", err)
	}
	if len(records) == 0 {
		return "No matching entries found."
	}
	return digestRecords(records)
}

type todoArgs struct {
	Operation string   `json:"operation"`
	Subjects  []string `json:"subjects"`
	TodoID    string   `json:"todo_id"`
}

func (d *Dispatcher) manageTodos(ctx context.Context, rawArgs string) string {
	var args todoArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return fmt.Sprintf("manage_todos failed: arguments were not valid JSON (%v)", err)
	}

	switch args.Operation {
	case "add":
		if len(args.Subjects) == 0 {
			return "manage_todos failed: add requires at least one subject"
		}
		added, err := d.Todos.Add(ctx, args.Subjects)
		if err != nil {
			d.Log.Warn("todo add failed", zap.Error(err))
			return fmt.Sprintf("manage_todos failed: %v", err)
		}
		if len(added) == 0 {
			return "All of those subjects are already queued."
		}
		names := make([]string, len(added))
		for i, item := range added {
			names[i] = item.SubjectText
		}
		return fmt.Sprintf("Queued %d subject(s) for later: %s.", len(added), strings.Join(names, "; "))
	case "list":
		items, err := d.Todos.List(ctx)
		if err != nil {
			d.Log.Warn("todo list failed", zap.Error(err))
			return fmt.Sprintf("manage_todos failed: %v", err)
		}
		if len(items) == 0 {
			return "The todo queue is empty."
		}
		var sb strings.Builder
		sb.WriteString("Pending subjects:\n")
		for _, item := range items {
			fmt.Fprintf(&sb, "- %s (id %s)\n", item.SubjectText, item.ID)
		}
		return strings.TrimRight(sb.String(), "\n")
	case "complete", "remove":
		if strings.TrimSpace(args.TodoID) == "" {
			return fmt.Sprintf("manage_todos failed: %s requires todo_id", args.Operation)
		}
		var (
			ok  bool
			err error
		)
		if args.Operation == "complete" {
			ok, err = d.Todos.Complete(ctx, args.TodoID)
		} else {
			ok, err = d.Todos.Remove(ctx, args.TodoID)
		}
		if err != nil {
			d.Log.Warn("todo mutation failed", zap.Error(err))
			return fmt.Sprintf("manage_todos failed: %v", err)
		}
		if !ok {
			return fmt.Sprintf("No queued subject has id %q.", args.TodoID)
		}
		return fmt.Sprintf("Removed subject %s from the queue.", args.TodoID)
	default:
		return fmt.Sprintf("manage_todos failed: unknown operation %q", args.Operation)
	}
}

// digestRecords renders committed records as a compact human-readable
// listing for the generator, newest first.
func digestRecords(records []pkg.Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d entr%s:\n", len(records), plural(len(records), "y", "ies"))
	for _, rec := range records {
		fmt.Fprintf(&sb, "- %s:", rec.CreatedAt.Format(onsetLayout))
		if rec.Metadata.Location != nil {
			fmt.Fprintf(&sb, " %s", *rec.Metadata.Location)
		}
		if rec.Metadata.Severity != nil {
			fmt.Fprintf(&sb, " severity %d/10", *rec.Metadata.Severity)
		}
		if rec.Metadata.Onset != nil {
			fmt.Fprintf(&sb, " since %s", *rec.Metadata.Onset)
		}
		if rec.Metadata.Description != "" {
			fmt.Fprintf(&sb, " - %s", rec.Metadata.Description)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func clamp(v, min, max, def int) int {
	if v == 0 {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
