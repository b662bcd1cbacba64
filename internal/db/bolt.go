package db

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"intake-chatbot/pkg"
)

// Bucket names for the Bolt store. Keys are entity ids; values are JSON.
var (
	bucketRecords = []byte("records")
	bucketIssues  = []byte("issues")
	bucketTodos   = []byte("todos")
	bucketDraft   = []byte("draft")

	draftKey = []byte("current")
)

// Bolt implements Store on a single bbolt file, for single-binary local
// runs where Postgres is not available.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the Bolt store at path and ensures
// all buckets exist.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketIssues, bucketTodos, bucketDraft} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

// Close releases the underlying file handle.
func (b *Bolt) Close() error { return b.db.Close() }

func (b *Bolt) CommitRecord(_ context.Context, rec *pkg.Record) error {
	return b.putJSON(bucketRecords, rec.ID, rec)
}

func (b *Bolt) GetRecord(_ context.Context, id string) (*pkg.Record, error) {
	var rec pkg.Record
	ok, err := b.getJSON(bucketRecords, id, &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (b *Bolt) QueryRecords(_ context.Context, q RecordQuery) ([]pkg.Record, error) {
	var out []pkg.Record
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(_, v []byte) error {
			var rec pkg.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				// Skip malformed entries instead of failing the whole query.
				return nil
			}
			if q.Location != nil && (rec.Metadata.Location == nil || *rec.Metadata.Location != *q.Location) {
				return nil
			}
			if q.IssueID != nil && (rec.IssueID == nil || *rec.IssueID != *q.IssueID) {
				return nil
			}
			if q.Since != nil && rec.CreatedAt.Before(*q.Since) {
				return nil
			}
			if q.Until != nil && rec.CreatedAt.After(*q.Until) {
				return nil
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (b *Bolt) PutIssue(_ context.Context, issue *pkg.Issue) error {
	return b.putJSON(bucketIssues, issue.ID, issue)
}

func (b *Bolt) GetIssue(ctx context.Context, id string) (*pkg.Issue, error) {
	var issue pkg.Issue
	ok, err := b.getJSON(bucketIssues, id, &issue)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	issue.MemberRecordIDs, err = b.memberIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

func (b *Bolt) ListIssues(ctx context.Context, status *pkg.IssueStatus) ([]pkg.Issue, error) {
	var out []pkg.Issue
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIssues).ForEach(func(_, v []byte) error {
			var issue pkg.Issue
			if err := json.Unmarshal(v, &issue); err != nil {
				return nil
			}
			if status != nil && issue.Status != *status {
				return nil
			}
			out = append(out, issue)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	for i := range out {
		out[i].MemberRecordIDs, err = b.memberIDs(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (b *Bolt) DeleteIssue(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		issues := tx.Bucket(bucketIssues)
		if issues.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		if err := issues.Delete([]byte(id)); err != nil {
			return err
		}
		// Unlink member records in the same transaction.
		records := tx.Bucket(bucketRecords)
		return records.ForEach(func(k, v []byte) error {
			var rec pkg.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			if rec.IssueID == nil || *rec.IssueID != id {
				return nil
			}
			rec.IssueID = nil
			enc, err := json.Marshal(&rec)
			if err != nil {
				return err
			}
			return records.Put(k, enc)
		})
	})
}

func (b *Bolt) ListTodos(_ context.Context) ([]pkg.TodoItem, error) {
	var out []pkg.TodoItem
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTodos).ForEach(func(_, v []byte) error {
			var item pkg.TodoItem
			if err := json.Unmarshal(v, &item); err != nil {
				return nil
			}
			out = append(out, item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *Bolt) PutTodo(_ context.Context, item pkg.TodoItem) error {
	return b.putJSON(bucketTodos, item.ID, item)
}

func (b *Bolt) DeleteTodo(_ context.Context, id string) (bool, error) {
	existed := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketTodos)
		if bkt.Get([]byte(id)) == nil {
			return nil
		}
		existed = true
		return bkt.Delete([]byte(id))
	})
	return existed, err
}

func (b *Bolt) GetDraft(_ context.Context) (*pkg.DraftSnapshot, error) {
	var snap pkg.DraftSnapshot
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketDraft).Get(draftKey)
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &snap)
	})
	if err != nil || !found {
		return nil, err
	}
	return &snap, nil
}

func (b *Bolt) PutDraft(_ context.Context, snap *pkg.DraftSnapshot) error {
	enc, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDraft).Put(draftKey, enc)
	})
}

func (b *Bolt) ClearDraft(_ context.Context) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDraft).Delete(draftKey)
	})
}

func (b *Bolt) memberIDs(ctx context.Context, issueID string) ([]string, error) {
	recs, err := b.QueryRecords(ctx, RecordQuery{IssueID: &issueID})
	if err != nil {
		return nil, err
	}
	// QueryRecords is newest first; membership lists read oldest first.
	ids := make([]string, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		ids = append(ids, recs[i].ID)
	}
	return ids, nil
}

func (b *Bolt) putJSON(bucket []byte, key string, v interface{}) error {
	enc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), enc)
	})
}

func (b *Bolt) getJSON(bucket []byte, key string, v interface{}) (bool, error) {
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, v)
	})
	return found, err
}
