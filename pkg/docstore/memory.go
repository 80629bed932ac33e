package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryStore is a Store kept in process memory. It is used by tests and by
// single-instance deployments started with STORE_DRIVER=memory.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]*Document
	feed   ChangeFeed
	logger *zap.Logger
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store. A nil feed uses a LocalFeed.
func NewMemoryStore(feed ChangeFeed) *MemoryStore {
	if feed == nil {
		feed = NewLocalFeed()
	}
	return &MemoryStore{docs: make(map[string]*Document), feed: feed, logger: zap.NewNop(), now: time.Now}
}

// WithLogger sets the logger change-feed failures are reported to.
func (s *MemoryStore) WithLogger(logger *zap.Logger) *MemoryStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Get returns a copy of the document at path.
func (s *MemoryStore) Get(_ context.Context, path string) (*Document, error) {
	if _, _, err := SplitPath(path); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	cp := copyDoc(d)
	return &cp, nil
}

// Set replaces the document at path.
func (s *MemoryStore) Set(ctx context.Context, path string, fields Fields) error {
	return s.write(ctx, path, func(d *Document) { d.Data = normalize(fields) })
}

// SetMerge overwrites only the given fields.
func (s *MemoryStore) SetMerge(ctx context.Context, path string, fields Fields) error {
	return s.write(ctx, path, func(d *Document) {
		for k, v := range normalize(fields) {
			d.Data[k] = v
		}
	})
}

// Add creates a document with a generated id.
func (s *MemoryStore) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	if err := validCollection(collection); err != nil {
		return "", err
	}
	id := uuid.New().String()
	if err := s.Set(ctx, Join(collection, id), fields); err != nil {
		return "", err
	}
	return id, nil
}

// Increment adds delta to field under the store lock.
func (s *MemoryStore) Increment(ctx context.Context, path, field string, delta int64, merge Fields) (int64, error) {
	var total int64
	err := s.write(ctx, path, func(d *Document) {
		for k, v := range normalize(merge) {
			d.Data[k] = v
		}
		total = d.Data.Int64(field) + delta
		d.Data[field] = total
	})
	return total, err
}

// Delete removes the document at path. Deleting a missing document is not an error.
func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	collection, _, err := SplitPath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.docs, path)
	s.mu.Unlock()
	s.publish(ctx, collection)
	return nil
}

// Query scans the collection and applies filters, ordering and limit.
func (s *MemoryStore) Query(_ context.Context, q Query) ([]Document, error) {
	if err := validCollection(q.Collection); err != nil {
		return nil, err
	}
	filters := make([]Filter, len(q.Filters))
	for i, f := range q.Filters {
		filters[i] = Filter{Field: f.Field, Value: normalizeValue(f.Value)}
	}

	s.mu.RLock()
	var out []Document
	for path, d := range s.docs {
		collection, _, _ := SplitPath(path)
		if collection != q.Collection || !matches(d.Data, filters) {
			continue
		}
		out = append(out, copyDoc(d))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if q.OrderBy == "" {
			return out[i].Path < out[j].Path
		}
		c := compareValues(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy])
		if q.Descending {
			return c > 0
		}
		return c < 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Subscribe pushes snapshots of q on every write to q.Collection.
func (s *MemoryStore) Subscribe(ctx context.Context, q Query) (<-chan Snapshot, func(), error) {
	return subscribe(ctx, s.feed, q, s.Query)
}

func (s *MemoryStore) write(ctx context.Context, path string, apply func(*Document)) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	d, ok := s.docs[path]
	if !ok {
		d = &Document{Path: path, ID: id, Data: Fields{}}
		s.docs[path] = d
	}
	apply(d)
	d.UpdatedAt = s.now().UTC()
	s.mu.Unlock()
	s.publish(ctx, collection)
	return nil
}

// publish never fails the write; subscribers only miss a refresh.
func (s *MemoryStore) publish(ctx context.Context, collection string) {
	if err := s.feed.Publish(ctx, collection); err != nil {
		s.logger.Warn("docstore change publish failed", zap.String("collection", collection), zap.Error(err))
	}
}

func copyDoc(d *Document) Document {
	data := make(Fields, len(d.Data))
	for k, v := range d.Data {
		data[k] = v
	}
	return Document{Path: d.Path, ID: d.ID, Data: data, UpdatedAt: d.UpdatedAt}
}

func matches(data Fields, filters []Filter) bool {
	for _, f := range filters {
		v, ok := data[f.Field]
		if !ok || compareValues(v, f.Value) != 0 {
			return false
		}
	}
	return true
}

// compareValues orders numbers numerically, strings lexically and bools false < true.
// Values of different kinds compare by kind.
func compareValues(a, b any) int {
	af, aNum := number(a)
	bf, bNum := number(b)
	switch {
	case aNum && bNum:
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	case aNum != bNum:
		if aNum {
			return -1
		}
		return 1
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		}
		return 0
	}
	ab, aBool := a.(bool)
	bb, bBool := b.(bool)
	if aBool && bBool {
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		}
		return 1
	}
	return kindRank(a) - kindRank(b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func kindRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case string:
		return 3
	}
	return 4
}
