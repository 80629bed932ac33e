package watchtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/internal/tutorials"
)

const (
	// DefaultInterval is the nominal tick cadence.
	DefaultInterval = time.Minute
	// DefaultTickTimeout bounds the writes of one tick.
	DefaultTickTimeout = 10 * time.Second
)

var (
	// ErrSessionExpired is reported when the identity expired before a tick.
	ErrSessionExpired = errors.New("watch session identity expired")
	// ErrTutorialGone is reported when the watched tutorial was deleted mid-view.
	ErrTutorialGone = errors.New("watched tutorial was deleted")
)

// EventType identifies what happened on a session tick.
type EventType string

const (
	EventTicked       EventType = "ticked"
	EventTickFailed   EventType = "tick_failed"
	EventExpired      EventType = "expired"
	EventTutorialGone EventType = "tutorial_gone"
)

// Event is reported to the session owner after every tick attempt.
type Event struct {
	Type EventType
	// MinutesThisView counts the ticks credited by this session; it only
	// advances when the store accepted the tick.
	MinutesThisView int64
	// TotalMinutesWatched is the stored total after the last credited tick.
	TotalMinutesWatched int64
	Err                 error
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Identity    models.Identity
	TutorialID  string
	Interval    time.Duration
	TickTimeout time.Duration
	// Tutorials, when set, is checked before every tick; the session ends
	// once the tutorial is gone.
	Tutorials TutorialLookup
	// OnEvent is called from the session goroutine; it must not call Stop.
	OnEvent func(Event)
	Logger  *zap.Logger
}

// Session ticks a Ticker for one open watch view. It is created only once the
// identity and tutorial are resolved, and must be stopped on every exit path.
type Session struct {
	ID          string
	tutorialID  string
	ticker      Ticker
	tutorials   TutorialLookup
	interval    time.Duration
	tickTimeout time.Duration
	onEvent     func(Event)
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	identity models.Identity
	minutes  int64
	total    int64
	cancel   context.CancelFunc
	started  bool
	done     chan struct{}
}

// NewSession validates cfg and returns a stopped session.
func NewSession(t Ticker, cfg SessionConfig) (*Session, error) {
	if cfg.TutorialID == "" {
		return nil, ErrTutorialRequired
	}
	if !cfg.Identity.Valid(time.Now()) {
		return nil, ErrUnauthenticated
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = DefaultTickTimeout
	}
	if cfg.OnEvent == nil {
		cfg.OnEvent = func(Event) {}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Session{
		ID:          uuid.New().String(),
		tutorialID:  cfg.TutorialID,
		ticker:      t,
		tutorials:   cfg.Tutorials,
		interval:    cfg.Interval,
		tickTimeout: cfg.TickTimeout,
		onEvent:     cfg.OnEvent,
		logger:      cfg.Logger,
		now:         time.Now,
		identity:    cfg.Identity,
		done:        make(chan struct{}),
	}, nil
}

// Start begins ticking. The first tick fires one interval after Start.
// A session can be started once.
func (s *Session) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	activeSessions.Inc()
	go s.run(ctx)
	s.logger.Info("watch session started",
		zap.String("session_id", s.ID),
		zap.String("user_id", s.UserID()),
		zap.String("tutorial_id", s.tutorialID),
		zap.Duration("interval", s.interval),
	)
}

// Stop cancels the timer and waits for the loop to exit. A tick already in
// flight completes first. No tick fires after Stop returns.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.cancel = nil
	s.mu.Unlock()
	if !started {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-s.done
}

// Done is closed when the loop has exited (stopped or expired).
func (s *Session) Done() <-chan struct{} { return s.done }

// Refresh replaces the identity, e.g. after the client renewed its token.
// The user can't change.
func (s *Session) Refresh(id models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id.ID != s.identity.ID {
		return fmt.Errorf("refresh session %s: identity belongs to another user", s.ID)
	}
	s.identity = id
	return nil
}

// UserID returns the user the session credits.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity.ID
}

// TutorialID returns the tutorial being watched.
func (s *Session) TutorialID() string { return s.tutorialID }

// MinutesThisView returns the minutes credited by this session so far.
func (s *Session) MinutesThisView() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minutes
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer activeSessions.Dec()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("watch session stopped", zap.String("session_id", s.ID), zap.Int64("minutes", s.MinutesThisView()))
			return
		case <-ticker.C:
			// Stop may race with a ready ticker.
			if ctx.Err() != nil {
				continue
			}
			if !s.tick(ctx) {
				return
			}
		}
	}
}

// tick reports false when the session must end.
func (s *Session) tick(ctx context.Context) bool {
	s.mu.Lock()
	id := s.identity
	s.mu.Unlock()

	if !id.Valid(s.now()) {
		s.expire()
		return false
	}

	tickCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.tickTimeout)
	defer cancel()
	if s.tutorialGone(tickCtx) {
		s.end(EventTutorialGone, ErrTutorialGone)
		return false
	}
	res, err := s.ticker.Tick(tickCtx, id, s.tutorialID)
	if errors.Is(err, ErrUnauthenticated) {
		s.expire()
		return false
	}

	s.mu.Lock()
	if err == nil {
		s.minutes += MinutesPerTick
		s.total = res.TotalMinutesWatched
	}
	ev := Event{MinutesThisView: s.minutes, TotalMinutesWatched: s.total}
	s.mu.Unlock()

	if err != nil {
		ev.Type = EventTickFailed
		ev.Err = err
	} else {
		ev.Type = EventTicked
	}
	s.onEvent(ev)
	return true
}

// tutorialGone reports a confirmed deletion only; lookup failures let the tick proceed.
func (s *Session) tutorialGone(ctx context.Context) bool {
	if s.tutorials == nil {
		return false
	}
	_, err := s.tutorials.Get(ctx, s.tutorialID)
	if err == nil {
		return false
	}
	if errors.Is(err, tutorials.ErrNotFound) {
		return true
	}
	s.logger.Warn("tutorial lookup before tick failed", zap.String("session_id", s.ID), zap.Error(err))
	return false
}

func (s *Session) expire() {
	s.end(EventExpired, ErrSessionExpired)
}

func (s *Session) end(t EventType, cause error) {
	s.logger.Info("watch session ended", zap.String("session_id", s.ID), zap.String("reason", string(t)))
	s.mu.Lock()
	ev := Event{Type: t, MinutesThisView: s.minutes, TotalMinutesWatched: s.total, Err: cause}
	s.mu.Unlock()
	s.onEvent(ev)
}
