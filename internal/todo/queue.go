// Package todo manages the queue of secondary subjects awaiting their own
// conversation. Items are durable through the store and are never mutated
// in place: the lifecycle is add -> (list) -> complete|remove.
package todo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"intake-chatbot/internal/db"
	"intake-chatbot/pkg"
)

// Queue is the todo queue manager. Now is injectable for tests.
type Queue struct {
	Store db.Store
	Now   func() time.Time
}

// NewQueue constructs a Queue over the given store.
func NewQueue(store db.Store) *Queue {
	return &Queue{Store: store, Now: time.Now}
}

// Add queues the given subjects and returns only the items actually added.
// Dedup is case-insensitive on trimmed text, against both existing pending
// items and earlier entries of the same call. Blank subjects are ignored.
func (q *Queue) Add(ctx context.Context, subjects []string) ([]pkg.TodoItem, error) {
	existing, err := q.Store.ListTodos(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(existing))
	for _, item := range existing {
		seen[normalize(item.SubjectText)] = true
	}
	var added []pkg.TodoItem
	for _, subject := range subjects {
		trimmed := strings.TrimSpace(subject)
		key := normalize(trimmed)
		if key == "" || seen[key] {
			continue
		}
		item := pkg.TodoItem{
			ID:          uuid.NewString(),
			SubjectText: trimmed,
			CreatedAt:   q.now(),
		}
		if err := q.Store.PutTodo(ctx, item); err != nil {
			return added, err
		}
		seen[key] = true
		added = append(added, item)
	}
	return added, nil
}

// List returns pending items in insertion order.
func (q *Queue) List(ctx context.Context) ([]pkg.TodoItem, error) {
	return q.Store.ListTodos(ctx)
}

// Complete removes the item whose conversation finished. Returns false when
// the id is unknown, leaving the queue unchanged.
func (q *Queue) Complete(ctx context.Context, id string) (bool, error) {
	return q.Store.DeleteTodo(ctx, id)
}

// Remove drops an item the user declined to discuss. Returns false when the
// id is unknown.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	return q.Store.DeleteTodo(ctx, id)
}

// Next returns the oldest pending item, or nil when the queue is empty.
func (q *Queue) Next(ctx context.Context) (*pkg.TodoItem, error) {
	items, err := q.Store.ListTodos(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	item := items[0]
	return &item, nil
}

func (q *Queue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
