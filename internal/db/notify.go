package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// Notifier wraps the Postgres LISTEN/NOTIFY mechanism. A notification is
// sent whenever a record is committed so dashboards can refresh without
// polling. Hosts running on the Bolt or Memory stores get no notifier.
type Notifier struct {
	DB      *sql.DB
	ConnStr string
	Channel string
}

// NewNotifier constructs a Notifier. connStr must be the same DSN used to
// open db; the listener needs its own dedicated connection.
func NewNotifier(db *sql.DB, connStr, channel string) *Notifier {
	return &Notifier{DB: db, ConnStr: connStr, Channel: channel}
}

// Notify publishes the committed record id on the channel.
func (n *Notifier) Notify(ctx context.Context, recordID string) error {
	_, err := n.DB.ExecContext(ctx, `SELECT pg_notify($1, $2)`, n.Channel, recordID)
	return err
}

// Listen yields record ids as they are committed. The returned channel is
// closed when ctx is cancelled or the listener fails terminally.
func (n *Notifier) Listen(ctx context.Context) (<-chan string, error) {
	listener := pq.NewListener(n.ConnStr, 10*time.Second, time.Minute, nil)
	if err := listener.Listen(n.Channel); err != nil {
		_ = listener.Close()
		return nil, err
	}
	ch := make(chan string)
	go func() {
		defer func() {
			_ = listener.Close()
			close(ch)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-listener.Notify:
				if !ok {
					return
				}
				if ev == nil {
					// Reconnect event; nothing to deliver.
					continue
				}
				select {
				case ch <- ev.Extra:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
