package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path       string
		collection string
		id         string
		wantErr    bool
	}{
		{"users/u1", "users", "u1", false},
		{"users/u1/watchSessions/t1", "users/u1/watchSessions", "t1", false},
		{"users", "", "", true},
		{"users/u1/watchSessions", "", "", true},
		{"users//watchSessions/t1", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			c, id, err := SplitPath(tt.path)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPath) {
					t.Fatalf("err = %v, want ErrInvalidPath", err)
				}
				return
			}
			if err != nil || c != tt.collection || id != tt.id {
				t.Fatalf("SplitPath = %q, %q, %v", c, id, err)
			}
		})
	}
}

func TestMemoryStoreSetMergeAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, err := s.Get(ctx, "users/u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
	if err := s.Set(ctx, "users/u1", Fields{"name": "Ada", "age": 36, "joined": at}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMerge(ctx, "users/u1", Fields{"age": 37}); err != nil {
		t.Fatal(err)
	}
	d, err := s.Get(ctx, "users/u1")
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != "u1" || d.Data.String("name") != "Ada" || d.Data.Int64("age") != 37 || !d.Data.Time("joined").Equal(at) {
		t.Fatalf("doc = %+v", d)
	}

	// Returned documents are copies.
	d.Data["name"] = "changed"
	again, _ := s.Get(ctx, "users/u1")
	if again.Data.String("name") != "Ada" {
		t.Fatal("mutating a returned document changed the store")
	}
}

func TestMemoryStoreIncrementIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	const path = "users/u1/watchSessions/t1"
	if err := s.Set(ctx, path, Fields{"userId": "u1", "total": 5}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Increment(ctx, path, "total", 1, Fields{"tutorialId": "t1"}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	d, err := s.Get(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if got := d.Data.Int64("total"); got != 55 {
		t.Fatalf("total = %d, want 55", got)
	}
	if d.Data.String("userId") != "u1" || d.Data.String("tutorialId") != "t1" {
		t.Fatalf("fields lost: %+v", d.Data)
	}

	n, err := s.Increment(ctx, "users/u2/watchSessions/t1", "total", 1, nil)
	if err != nil || n != 1 {
		t.Fatalf("increment of missing doc = %d, %v; want 1", n, err)
	}
}

func TestMemoryStoreQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, role := range []string{"student", "instructor", "student", "student"} {
		err := s.Set(ctx, Join("users", string(rune('a'+i))), Fields{
			"role":      role,
			"createdAt": base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Set(ctx, "users/a/watchSessions/t1", Fields{"role": "student"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"all by path", Query{Collection: "users"}, []string{"a", "b", "c", "d"}},
		{"filtered", Query{Collection: "users"}.Where("role", "student"), []string{"a", "c", "d"}},
		{"newest first", Query{Collection: "users", Limit: 2}.Order("createdAt", true), []string{"d", "c"}},
		{"subcollection", Query{Collection: "users/a/watchSessions"}, []string{"t1"}},
		{"no match", Query{Collection: "users"}.Where("role", "admin"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.Query(ctx, tt.q)
			if err != nil {
				t.Fatal(err)
			}
			var ids []string
			for _, d := range docs {
				ids = append(ids, d.ID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Fatalf("ids = %v, want %v", ids, tt.want)
				}
			}
		})
	}

	if _, err := s.Query(ctx, Query{Collection: "users/a"}); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("query on a document path = %v, want ErrInvalidPath", err)
	}
}

func TestMemoryStoreSubscribe(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	snaps, cancel, err := s.Subscribe(ctx, Query{Collection: "users/u1/notifications"}.Where("read", false))
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	next := func() Snapshot {
		t.Helper()
		select {
		case snap := <-snaps:
			if snap.Err != nil {
				t.Fatal(snap.Err)
			}
			return snap
		case <-time.After(2 * time.Second):
			t.Fatal("no snapshot")
		}
		return Snapshot{}
	}

	if snap := next(); len(snap.Docs) != 0 {
		t.Fatalf("initial snapshot has %d docs", len(snap.Docs))
	}
	id, err := s.Add(ctx, "users/u1/notifications", Fields{"read": false, "title": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if snap := next(); len(snap.Docs) != 1 || snap.Docs[0].ID != id {
		t.Fatalf("snapshot after add = %+v", snap.Docs)
	}
	if err := s.SetMerge(ctx, Join("users/u1/notifications", id), Fields{"read": true}); err != nil {
		t.Fatal(err)
	}
	if snap := next(); len(snap.Docs) != 0 {
		t.Fatalf("read notification still in unread snapshot: %+v", snap.Docs)
	}

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-snaps:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("snapshot channel not closed after cancel")
		}
	}
}

// downFeed fails every publish, like a Redis pub/sub outage.
type downFeed struct{ *LocalFeed }

func (*downFeed) Publish(context.Context, string) error {
	return errors.New("redis: connection refused")
}

func TestMemoryStoreWritesSurviveFeedOutage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(&downFeed{NewLocalFeed()}).WithLogger(zaptest.NewLogger(t))
	const path = "users/u1/watchSessions/t1"

	n, err := s.Increment(ctx, path, "total", 1, Fields{"userId": "u1"})
	if err != nil || n != 1 {
		t.Fatalf("Increment = %d, %v; want 1, nil", n, err)
	}
	if err := s.SetMerge(ctx, path, Fields{"tutorialId": "t1"}); err != nil {
		t.Fatalf("SetMerge: %v", err)
	}
	if _, err := s.Add(ctx, "tutorials/t1/viewLogs", Fields{"minuteMarker": 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Delete(ctx, path); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, path); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v", err)
	}
}
