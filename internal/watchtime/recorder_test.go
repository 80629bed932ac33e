package watchtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/pkg/docstore"
)

var student = models.Identity{ID: "stu-1", Email: "stu@example.com", DisplayName: "Stu", Role: models.RoleStudent}

func newTestRecorder(t *testing.T, store docstore.Store, sink SummarySink) *Recorder {
	t.Helper()
	return NewRecorder(store, sink, zaptest.NewLogger(t))
}

func totalMinutes(t *testing.T, store docstore.Store, userID, tutorialID string) int64 {
	t.Helper()
	d, err := store.Get(context.Background(), models.WatchSessionPath(userID, tutorialID))
	if errors.Is(err, docstore.ErrNotFound) {
		return 0
	}
	if err != nil {
		t.Fatalf("get watch session: %v", err)
	}
	return models.WatchSessionFromDocument(d).TotalMinutesWatched
}

func viewLogs(t *testing.T, store docstore.Store, tutorialID string) []models.ViewLogEntry {
	t.Helper()
	docs, err := store.Query(context.Background(), docstore.Query{Collection: models.ViewLogsPath(tutorialID)}.Order("minuteMarker", false))
	if err != nil {
		t.Fatalf("query view logs: %v", err)
	}
	out := make([]models.ViewLogEntry, len(docs))
	for i := range docs {
		out[i] = models.ViewLogFromDocument(&docs[i])
	}
	return out
}

func TestTickSequentialAddsExactlyN(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore(nil)
	rec := newTestRecorder(t, store, nil)

	for _, n := range []int{1, 4, 10} {
		before := totalMinutes(t, store, student.ID, "tut-1")
		for i := 0; i < n; i++ {
			if _, err := rec.Tick(ctx, student, "tut-1"); err != nil {
				t.Fatalf("tick: %v", err)
			}
		}
		if got := totalMinutes(t, store, student.ID, "tut-1"); got != before+int64(n) {
			t.Errorf("after %d ticks total = %d, want %d", n, got, before+int64(n))
		}
	}

	logs := viewLogs(t, store, "tut-1")
	if len(logs) != 15 {
		t.Fatalf("view logs = %d, want 15", len(logs))
	}
	for i, l := range logs {
		if l.MinuteMarker != int64(i+1) {
			t.Errorf("log %d minuteMarker = %d, want %d", i, l.MinuteMarker, i+1)
		}
		if l.UserID != student.ID || l.UserEmail != student.Email {
			t.Errorf("log %d user = %q/%q", i, l.UserID, l.UserEmail)
		}
	}
}

func TestTickWritesSessionFields(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore(nil)
	rec := newTestRecorder(t, store, nil)
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return fixed }

	path := models.WatchSessionPath(student.ID, "tut-1")
	if err := store.Set(ctx, path, docstore.Fields{"note": "keep me"}); err != nil {
		t.Fatal(err)
	}
	res, err := rec.Tick(ctx, student, "tut-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalMinutesWatched != 1 || !res.At.Equal(fixed) {
		t.Errorf("result = %+v", res)
	}

	d, err := store.Get(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if d.Data.String("note") != "keep me" {
		t.Error("tick dropped an unrelated field")
	}
	s := models.WatchSessionFromDocument(d)
	if s.UserID != student.ID || s.TutorialID != "tut-1" || !s.LastUpdated.Equal(fixed) {
		t.Errorf("session = %+v", s)
	}
}

// Two tabs of the same student: one ticks 5 times while the other ticks twice.
func TestTickConcurrentTabsTotalSeven(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore(nil)
	rec := newTestRecorder(t, store, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 7)
	for _, ticks := range []int{5, 2} {
		wg.Add(1)
		go func(ticks int) {
			defer wg.Done()
			for i := 0; i < ticks; i++ {
				if _, err := rec.Tick(ctx, student, "tut-1"); err != nil {
					errs <- err
				}
			}
		}(ticks)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("tick: %v", err)
	}
	if got := totalMinutes(t, store, student.ID, "tut-1"); got != 7 {
		t.Errorf("total = %d, want 7", got)
	}
}

// barrierStore makes every Get wait until `parties` Gets are in flight, so
// concurrent readers all observe the same base value.
type barrierStore struct {
	docstore.Store
	arrived sync.WaitGroup
}

func newBarrierStore(parties int) *barrierStore {
	b := &barrierStore{Store: docstore.NewMemoryStore(nil)}
	b.arrived.Add(parties)
	return b
}

func (b *barrierStore) Get(ctx context.Context, path string) (*docstore.Document, error) {
	d, err := b.Store.Get(ctx, path)
	b.arrived.Done()
	b.arrived.Wait()
	return d, err
}

// readThenWriteTick is the hazard Recorder.Tick avoids: the read and the
// write are separate operations.
func readThenWriteTick(ctx context.Context, store docstore.Store, userID, tutorialID string) error {
	path := models.WatchSessionPath(userID, tutorialID)
	var existing int64
	d, err := store.Get(ctx, path)
	switch {
	case err == nil:
		existing = d.Data.Int64(models.FieldTotalMinutesWatched)
	case !errors.Is(err, docstore.ErrNotFound):
		return err
	}
	return store.SetMerge(ctx, path, docstore.Fields{
		models.FieldTotalMinutesWatched: existing + 1,
		models.FieldLastUpdated:         time.Now(),
	})
}

func TestReadThenWriteLosesConcurrentUpdate(t *testing.T) {
	ctx := context.Background()
	store := newBarrierStore(2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := readThenWriteTick(ctx, store, student.ID, "tut-1"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if got := totalMinutes(t, store.Store, student.ID, "tut-1"); got != 1 {
		t.Fatalf("read-then-write total = %d; the barrier should force a lost update (1)", got)
	}

	// The same two concurrent ticks through the recorder don't lose anything.
	rec := newTestRecorder(t, store, nil)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := rec.Tick(ctx, student, "tut-1"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if got := totalMinutes(t, store.Store, student.ID, "tut-1"); got != 3 {
		t.Errorf("recorder total = %d, want 3", got)
	}
}

func TestViewLogReplayDoesNotChangeTotal(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore(nil)
	rec := newTestRecorder(t, store, nil)
	for i := 0; i < 3; i++ {
		if _, err := rec.Tick(ctx, student, "tut-1"); err != nil {
			t.Fatal(err)
		}
	}

	logs := viewLogs(t, store, "tut-1")
	for i := 0; i < 2; i++ {
		if _, err := store.Add(ctx, models.ViewLogsPath("tut-1"), logs[len(logs)-1].Fields()); err != nil {
			t.Fatal(err)
		}
	}
	if got := totalMinutes(t, store, student.ID, "tut-1"); got != 3 {
		t.Errorf("total after replaying view logs = %d, want 3", got)
	}
}

func TestTickRejectsMissingIdentityOrTutorial(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore(nil)
	rec := newTestRecorder(t, store, nil)

	expired := student
	expired.ExpiresAt = time.Now().Add(-time.Minute)

	tests := []struct {
		name       string
		id         models.Identity
		tutorialID string
		wantErr    error
	}{
		{"no identity", models.Identity{}, "tut-1", ErrUnauthenticated},
		{"expired identity", expired, "tut-1", ErrUnauthenticated},
		{"no tutorial", student, "", ErrTutorialRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := rec.Tick(ctx, tt.id, tt.tutorialID); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if got := totalMinutes(t, store, student.ID, "tut-1"); got != 0 {
		t.Errorf("rejected ticks wrote total %d", got)
	}
}

type faultyStore struct {
	docstore.Store
	failIncrement bool
	failAdd       bool
}

var errUnavailable = errors.New("store unavailable")

func (f *faultyStore) Increment(ctx context.Context, path, field string, delta int64, merge docstore.Fields) (int64, error) {
	if f.failIncrement {
		return 0, errUnavailable
	}
	return f.Store.Increment(ctx, path, field, delta, merge)
}

func (f *faultyStore) Add(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	if f.failAdd {
		return "", errUnavailable
	}
	return f.Store.Add(ctx, collection, fields)
}

func TestTickFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("increment failure is returned", func(t *testing.T) {
		store := &faultyStore{Store: docstore.NewMemoryStore(nil), failIncrement: true}
		rec := newTestRecorder(t, store, nil)
		if _, err := rec.Tick(ctx, student, "tut-1"); !errors.Is(err, errUnavailable) {
			t.Fatalf("err = %v, want errUnavailable", err)
		}
		if logs := viewLogs(t, store, "tut-1"); len(logs) != 0 {
			t.Errorf("failed tick appended %d view logs", len(logs))
		}
	})

	t.Run("view log failure keeps the minute", func(t *testing.T) {
		store := &faultyStore{Store: docstore.NewMemoryStore(nil), failAdd: true}
		rec := newTestRecorder(t, store, nil)
		res, err := rec.Tick(ctx, student, "tut-1")
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
		if res.TotalMinutesWatched != 1 || totalMinutes(t, store, student.ID, "tut-1") != 1 {
			t.Errorf("total = %d, want 1", res.TotalMinutesWatched)
		}
	})
}

type recordingSink struct {
	mu    sync.Mutex
	ticks []TickResult
	err   error
}

func (s *recordingSink) RecordTick(_ context.Context, res TickResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, res)
	return s.err
}

func TestTickFeedsSummarySink(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{err: errors.New("redis down")}
	rec := newTestRecorder(t, docstore.NewMemoryStore(nil), sink)

	for i := 0; i < 2; i++ {
		if _, err := rec.Tick(ctx, student, "tut-1"); err != nil {
			t.Fatalf("sink failure leaked into tick: %v", err)
		}
	}
	if len(sink.ticks) != 2 || sink.ticks[1].TotalMinutesWatched != 2 {
		t.Errorf("sink ticks = %+v", sink.ticks)
	}
}

func TestSessionReadsZeroForUnwatchedPair(t *testing.T) {
	rec := newTestRecorder(t, docstore.NewMemoryStore(nil), nil)
	s, err := rec.Session(context.Background(), "stu-9", "tut-9")
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalMinutesWatched != 0 || s.UserID != "stu-9" || s.TutorialID != "tut-9" {
		t.Errorf("session = %+v", s)
	}
}

// unreachableFeed fails every change announcement.
type unreachableFeed struct{ *docstore.LocalFeed }

func (unreachableFeed) Publish(context.Context, string) error {
	return errors.New("redis: connection refused")
}

func TestTickSucceedsWhenChangeFeedIsDown(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore(unreachableFeed{docstore.NewLocalFeed()}).WithLogger(zaptest.NewLogger(t))
	rec := newTestRecorder(t, store, nil)

	for i := 1; i <= 2; i++ {
		res, err := rec.Tick(ctx, student, "tut-1")
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if res.TotalMinutesWatched != int64(i) {
			t.Fatalf("tick %d total = %d", i, res.TotalMinutesWatched)
		}
	}
	logs := viewLogs(t, store, "tut-1")
	if len(logs) != 2 {
		t.Fatalf("view logs = %d, want one per credited minute", len(logs))
	}
}
