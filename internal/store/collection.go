package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/JhanGutierrez/ventry/internal/model"
)

// Index derives a secondary index key from a record.
// Records whose key is empty are left out of the index.
type Index[T any] struct {
	Name string
	Key  func(T) string
}

// Schema describes one collection: its name, primary key and indexes.
type Schema[T any] struct {
	Name    string
	Key     func(T) string
	Indexes []Index[T]
}

// Collection is a typed view over one named collection.
// It holds no connection; every operation runs on the Handle it is given.
type Collection[T any] struct {
	schema Schema[T]
}

// NewCollection binds a schema to a typed collection.
func NewCollection[T any](schema Schema[T]) Collection[T] {
	return Collection[T]{schema: schema}
}

// Name returns the collection name.
func (c Collection[T]) Name() string {
	return c.schema.Name
}

// Key returns the primary key of v.
func (c Collection[T]) Key(v T) string {
	return c.schema.Key(v)
}

// CompositeKey joins parts into one index key. The separator cannot appear in
// UUIDs, so distinct part lists never collide.
func CompositeKey(parts ...string) string {
	return strings.Join(parts, "\x1f")
}

type objectRow struct {
	Seq  int64  `db:"seq"`
	Key  string `db:"key"`
	Body string `db:"body"`
}

// Get returns the record stored under key. The boolean is false when no such
// record exists.
func (c Collection[T]) Get(ctx context.Context, h Handle, key string) (T, bool, error) {
	var (
		out   T
		found bool
	)
	err := h.run(ctx, c.op("get"), func(q sqlx.ExtContext) error {
		var row objectRow
		err := sqlx.GetContext(ctx, q, &row, `
			SELECT seq, key, body FROM objects
			WHERE collection = ? AND key = ?
		`, c.schema.Name, key)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		out, err = c.decode(row)
		return err
	})
	return out, found, err
}

// GetAll returns every record in insertion order.
func (c Collection[T]) GetAll(ctx context.Context, h Handle) ([]T, error) {
	var out []T
	err := h.run(ctx, c.op("get all"), func(q sqlx.ExtContext) error {
		var rows []objectRow
		if err := sqlx.SelectContext(ctx, q, &rows, `
			SELECT seq, key, body FROM objects
			WHERE collection = ?
			ORDER BY seq ASC
		`, c.schema.Name); err != nil {
			return err
		}
		var err error
		out, err = c.decodeAll(rows)
		return err
	})
	return out, err
}

// GetByIndex returns every record whose index key equals key, in insertion
// order.
func (c Collection[T]) GetByIndex(ctx context.Context, h Handle, index, key string) ([]T, error) {
	if _, ok := c.index(index); !ok {
		return nil, fmt.Errorf("collection %s has no index %q", c.schema.Name, index)
	}

	var out []T
	err := h.run(ctx, c.op("get by "+index), func(q sqlx.ExtContext) error {
		var rows []objectRow
		if err := sqlx.SelectContext(ctx, q, &rows, `
			SELECT o.seq, o.key, o.body
			FROM object_indexes i
			JOIN objects o ON o.collection = i.collection AND o.key = i.object_key
			WHERE i.collection = ? AND i.index_name = ? AND i.index_key = ?
			ORDER BY o.seq ASC
		`, c.schema.Name, index, key); err != nil {
			return err
		}
		var err error
		out, err = c.decodeAll(rows)
		return err
	})
	return out, err
}

// GetFirstByIndex returns the oldest record whose index key equals key.
func (c Collection[T]) GetFirstByIndex(ctx context.Context, h Handle, index, key string) (T, bool, error) {
	var zero T
	all, err := c.GetByIndex(ctx, h, index, key)
	if err != nil || len(all) == 0 {
		return zero, false, err
	}
	return all[0], true, nil
}

// Put inserts or replaces v. A replaced record keeps its insertion position.
func (c Collection[T]) Put(ctx context.Context, h Handle, v T) error {
	return h.run(ctx, c.op("put"), func(q sqlx.ExtContext) error {
		return c.write(ctx, q, v, true)
	})
}

// Add inserts v and fails with a DUPLICATE_KEY storage error if its key is
// already present.
func (c Collection[T]) Add(ctx context.Context, h Handle, v T) error {
	return h.run(ctx, c.op("add"), func(q sqlx.ExtContext) error {
		return c.write(ctx, q, v, false)
	})
}

// Delete removes the record stored under key. Deleting a missing key is not
// an error.
func (c Collection[T]) Delete(ctx context.Context, h Handle, key string) error {
	return h.run(ctx, c.op("delete"), func(q sqlx.ExtContext) error {
		return c.delete(ctx, q, key)
	})
}

// ClearAndReplaceAll removes every record of the collection and inserts
// records in their place. Readers see either the old or the new contents.
func (c Collection[T]) ClearAndReplaceAll(ctx context.Context, h Handle, records []T) error {
	return h.run(ctx, c.op("clear and replace"), func(q sqlx.ExtContext) error {
		if _, err := q.ExecContext(ctx,
			`DELETE FROM object_indexes WHERE collection = ?`, c.schema.Name); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx,
			`DELETE FROM objects WHERE collection = ?`, c.schema.Name); err != nil {
			return err
		}
		for _, v := range records {
			if err := c.write(ctx, q, v, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of records in the collection.
func (c Collection[T]) Count(ctx context.Context, h Handle) (int, error) {
	var n int
	err := h.run(ctx, c.op("count"), func(q sqlx.ExtContext) error {
		return sqlx.GetContext(ctx, q, &n,
			`SELECT COUNT(*) FROM objects WHERE collection = ?`, c.schema.Name)
	})
	return n, err
}

func (c Collection[T]) write(ctx context.Context, q sqlx.ExtContext, v T, upsert bool) error {
	key := c.schema.Key(v)
	if key == "" {
		return model.NewStorageError(c.op("write"), model.CodeIO,
			fmt.Errorf("record has an empty key"))
	}

	body, err := json.Marshal(v)
	if err != nil {
		return model.NewStorageError(c.op("encode"), model.CodeIO, err)
	}

	if upsert {
		_, err = q.ExecContext(ctx, `
			INSERT INTO objects (collection, key, body) VALUES (?, ?, ?)
			ON CONFLICT (collection, key) DO UPDATE SET body = excluded.body
		`, c.schema.Name, key, string(body))
	} else {
		_, err = q.ExecContext(ctx, `
			INSERT INTO objects (collection, key, body) VALUES (?, ?, ?)
		`, c.schema.Name, key, string(body))
	}
	if err != nil {
		return classify(c.op("write "+key), err)
	}

	if _, err := q.ExecContext(ctx, `
		DELETE FROM object_indexes WHERE collection = ? AND object_key = ?
	`, c.schema.Name, key); err != nil {
		return err
	}

	for _, idx := range c.schema.Indexes {
		ik := idx.Key(v)
		if ik == "" {
			continue
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO object_indexes (collection, index_name, index_key, object_key)
			VALUES (?, ?, ?, ?)
		`, c.schema.Name, idx.Name, ik, key); err != nil {
			return err
		}
	}
	return nil
}

func (c Collection[T]) delete(ctx context.Context, q sqlx.ExtContext, key string) error {
	if _, err := q.ExecContext(ctx, `
		DELETE FROM object_indexes WHERE collection = ? AND object_key = ?
	`, c.schema.Name, key); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `
		DELETE FROM objects WHERE collection = ? AND key = ?
	`, c.schema.Name, key)
	return err
}

func (c Collection[T]) index(name string) (Index[T], bool) {
	for _, idx := range c.schema.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return Index[T]{}, false
}

func (c Collection[T]) decode(row objectRow) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(row.Body), &v); err != nil {
		return v, model.NewStorageError(c.op("decode "+row.Key), model.CodeCorrupted, err)
	}
	return v, nil
}

func (c Collection[T]) decodeAll(rows []objectRow) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		v, err := c.decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c Collection[T]) op(verb string) string {
	return verb + " " + c.schema.Name
}
