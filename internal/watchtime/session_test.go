package watchtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/internal/tutorials"
)

// fakeTicker counts ticks; fail decides per call number (1-based) whether to fail.
type fakeTicker struct {
	mu    sync.Mutex
	calls int
	total int64
	fail  func(call int) bool
	// block, when set, is received from inside Tick before it returns.
	block   chan struct{}
	entered chan struct{}
	ctxErrs []error
}

func (f *fakeTicker) Tick(ctx context.Context, id models.Identity, tutorialID string) (*TickResult, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.fail != nil && f.fail(f.calls) {
		return nil, errors.New("store unavailable")
	}
	f.total++
	return &TickResult{UserID: id.ID, TutorialID: tutorialID, TotalMinutesWatched: f.total}, nil
}

func (f *fakeTicker) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestSession(t *testing.T, tk Ticker, id models.Identity, events chan Event) *Session {
	t.Helper()
	s, err := NewSession(tk, SessionConfig{
		Identity:   id,
		TutorialID: "tut-1",
		Interval:   5 * time.Millisecond,
		OnEvent: func(ev Event) {
			select {
			case events <- ev:
			default:
			}
		},
		Logger: zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
	}
	return Event{}
}

func TestNewSessionRequiresIdentityAndTutorial(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SessionConfig
		wantErr error
	}{
		{"no tutorial", SessionConfig{Identity: student}, ErrTutorialRequired},
		{"no identity", SessionConfig{TutorialID: "tut-1"}, ErrUnauthenticated},
		{"expired identity", SessionConfig{
			Identity:   models.Identity{ID: "stu-1", ExpiresAt: time.Now().Add(-time.Second)},
			TutorialID: "tut-1",
		}, ErrUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSession(&fakeTicker{}, tt.cfg); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSessionNoTickAfterStop(t *testing.T) {
	tk := &fakeTicker{}
	events := make(chan Event, 64)
	s := newTestSession(t, tk, student, events)
	s.Start()

	for i := 1; i <= 3; i++ {
		ev := waitEvent(t, events)
		if ev.Type != EventTicked || ev.MinutesThisView != int64(i) {
			t.Fatalf("event %d = %+v", i, ev)
		}
	}
	s.Stop()
	calls := tk.Calls()

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	time.Sleep(30 * time.Millisecond)
	if got := tk.Calls(); got != calls {
		t.Errorf("ticks after Stop: %d -> %d", calls, got)
	}
	if s.MinutesThisView() != int64(calls) {
		t.Errorf("MinutesThisView = %d, want %d", s.MinutesThisView(), calls)
	}
	s.Stop()
}

func TestSessionFailedTickDoesNotAdvanceDisplay(t *testing.T) {
	tk := &fakeTicker{fail: func(call int) bool { return call == 2 }}
	events := make(chan Event, 64)
	s := newTestSession(t, tk, student, events)
	s.Start()
	defer s.Stop()

	want := []struct {
		typ     EventType
		minutes int64
	}{
		{EventTicked, 1},
		{EventTickFailed, 1},
		{EventTicked, 2},
	}
	for i, w := range want {
		ev := waitEvent(t, events)
		if ev.Type != w.typ || ev.MinutesThisView != w.minutes {
			t.Fatalf("event %d = %+v, want %s/%d", i, ev, w.typ, w.minutes)
		}
		if w.typ == EventTickFailed && ev.Err == nil {
			t.Errorf("event %d has no error", i)
		}
	}
}

func TestSessionStopsWhenIdentityExpires(t *testing.T) {
	tk := &fakeTicker{}
	events := make(chan Event, 64)
	id := student
	id.ExpiresAt = time.Now().Add(40 * time.Millisecond)
	s := newTestSession(t, tk, id, events)
	s.Start()

	for {
		ev := waitEvent(t, events)
		if ev.Type == EventExpired {
			if !errors.Is(ev.Err, ErrSessionExpired) {
				t.Errorf("expired event err = %v", ev.Err)
			}
			break
		}
	}
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session still running after expiry")
	}
	calls := tk.Calls()
	time.Sleep(20 * time.Millisecond)
	if tk.Calls() != calls {
		t.Error("ticked after expiry")
	}
	s.Stop()
}

func TestSessionRefreshExtendsIdentity(t *testing.T) {
	events := make(chan Event, 64)
	id := student
	id.ExpiresAt = time.Now().Add(time.Hour)
	s := newTestSession(t, &fakeTicker{}, id, events)

	other := models.Identity{ID: "stu-2"}
	if err := s.Refresh(other); err == nil {
		t.Error("Refresh accepted another user's identity")
	}
	id.ExpiresAt = time.Now().Add(2 * time.Hour)
	if err := s.Refresh(id); err != nil {
		t.Errorf("Refresh: %v", err)
	}
}

func TestSessionStopLetsInFlightTickFinish(t *testing.T) {
	tk := &fakeTicker{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	events := make(chan Event, 64)
	s := newTestSession(t, tk, student, events)
	s.Start()

	select {
	case <-tk.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("tick never started")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a tick was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(tk.block)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the tick finished")
	}

	tk.mu.Lock()
	defer tk.mu.Unlock()
	if tk.calls != 1 {
		t.Fatalf("calls = %d, want 1", tk.calls)
	}
	if tk.ctxErrs[0] != nil {
		t.Errorf("in-flight tick saw canceled context: %v", tk.ctxErrs[0])
	}
}

// deletableTutorial answers Get until deleted is set.
type deletableTutorial struct {
	mu      sync.Mutex
	deleted bool
	err     error
}

func (d *deletableTutorial) Get(_ context.Context, id string) (*models.Tutorial, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if d.deleted {
		return nil, tutorials.ErrNotFound
	}
	return &models.Tutorial{ID: id}, nil
}

func (d *deletableTutorial) set(deleted bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted, d.err = deleted, err
}

func TestSessionEndsWhenTutorialDeleted(t *testing.T) {
	tk := &fakeTicker{}
	lookup := &deletableTutorial{}
	events := make(chan Event, 16)
	s, err := NewSession(tk, SessionConfig{
		Identity:   student,
		TutorialID: "tut-1",
		Interval:   5 * time.Millisecond,
		Tutorials:  lookup,
		OnEvent:    func(ev Event) { events <- ev },
		Logger:     zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	if ev := waitEvent(t, events); ev.Type != EventTicked {
		t.Fatalf("first event = %s, want ticked", ev.Type)
	}

	// A failing lookup doesn't end the view.
	lookup.set(false, errors.New("store unavailable"))
	if ev := waitEvent(t, events); ev.Type != EventTicked {
		t.Fatalf("event with failing lookup = %s, want ticked", ev.Type)
	}

	lookup.set(true, nil)
	for {
		ev := waitEvent(t, events)
		if ev.Type == EventTicked {
			continue
		}
		if ev.Type != EventTutorialGone || !errors.Is(ev.Err, ErrTutorialGone) {
			t.Fatalf("event = %+v, want tutorial_gone", ev)
		}
		break
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session still running after tutorial deletion")
	}
	calls := tk.Calls()
	time.Sleep(20 * time.Millisecond)
	if tk.Calls() != calls {
		t.Fatal("ticks credited after the tutorial was deleted")
	}
}
