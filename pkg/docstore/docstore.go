// Package docstore stores schemaless documents addressed by nested collection
// paths such as "users/{id}/watchSessions/{tutorialId}".
//
// Every write is announced on a ChangeFeed keyed by the document's parent
// collection, which is what Subscribe uses to push fresh query snapshots.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Get when no document exists at the path.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidPath is returned for paths that don't name a document (or collection).
	ErrInvalidPath = errors.New("invalid document path")
)

// TimeLayout is the fixed-width UTC layout timestamps are stored with, so that
// ordering by a timestamp field is a plain string comparison.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Document is one stored document.
type Document struct {
	Path      string
	ID        string
	Data      Fields
	UpdatedAt time.Time
}

// Filter is an equality condition on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents of one collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Where returns a copy of q with an extra equality filter.
func (q Query) Where(field string, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Value: value})
	return q
}

// Order returns a copy of q ordered by field.
func (q Query) Order(field string, descending bool) Query {
	q.OrderBy = field
	q.Descending = descending
	return q
}

// Snapshot is one result set pushed by Subscribe.
type Snapshot struct {
	Docs []Document
	Err  error
}

// Store is the document store used by the repositories.
type Store interface {
	Get(ctx context.Context, path string) (*Document, error)
	// Set replaces the document at path.
	Set(ctx context.Context, path string, fields Fields) error
	// SetMerge creates the document or overwrites only the given fields.
	SetMerge(ctx context.Context, path string, fields Fields) error
	// Add creates a document with a generated id in collection and returns the id.
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	// Increment atomically adds delta to an integer field (missing counts as 0),
	// merges the extra fields in the same write, and returns the new value.
	Increment(ctx context.Context, path, field string, delta int64, merge Fields) (int64, error)
	Delete(ctx context.Context, path string) error
	Query(ctx context.Context, q Query) ([]Document, error)
	// Subscribe emits a snapshot of q immediately and again after every write to
	// q.Collection until cancel is called or ctx is done.
	Subscribe(ctx context.Context, q Query) (<-chan Snapshot, func(), error)
}

// ChangeFeed announces writes to collections.
type ChangeFeed interface {
	Publish(ctx context.Context, collection string) error
	Listen(ctx context.Context, collection string) (<-chan struct{}, func(), error)
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// SplitPath returns the parent collection path and id of a document path.
func SplitPath(path string) (collection, id string, err error) {
	segs := strings.Split(path, "/")
	if len(segs) < 2 || len(segs)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, s := range segs {
		if s == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1], nil
}

func validCollection(collection string) error {
	segs := strings.Split(collection, "/")
	if len(segs)%2 != 1 {
		return fmt.Errorf("%w: %q is not a collection", ErrInvalidPath, collection)
	}
	for _, s := range segs {
		if s == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, collection)
		}
	}
	return nil
}

// subscribe runs q once and again on every change of q.Collection.
func subscribe(ctx context.Context, feed ChangeFeed, q Query, run func(context.Context, Query) ([]Document, error)) (<-chan Snapshot, func(), error) {
	if err := validCollection(q.Collection); err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	changes, stop, err := feed.Listen(ctx, q.Collection)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("listen %s: %w", q.Collection, err)
	}
	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		defer stop()
		emit := func() bool {
			docs, err := run(ctx, q)
			if ctx.Err() != nil {
				return false
			}
			select {
			case out <- Snapshot{Docs: docs, Err: err}:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok || !emit() {
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
