// Package watchtime credits watch minutes to (student, tutorial) pairs.
//
// A Session ticks once per interval while a watch view is open; each tick
// atomically adds one minute to users/{uid}/watchSessions/{tid} and appends an
// entry to tutorials/{tid}/viewLogs.
package watchtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/pkg/docstore"
)

// MinutesPerTick is credited on every tick, whatever the wall time since the last one.
const MinutesPerTick = 1

var (
	// ErrUnauthenticated is returned when a tick has no valid identity.
	ErrUnauthenticated = errors.New("no authenticated identity")
	// ErrTutorialRequired is returned when a tick names no tutorial.
	ErrTutorialRequired = errors.New("tutorial id required")
)

// TickResult describes one credited minute.
type TickResult struct {
	UserID              string    `json:"userId"`
	TutorialID          string    `json:"tutorialId"`
	TotalMinutesWatched int64     `json:"totalMinutesWatched"`
	At                  time.Time `json:"at"`
}

// SummarySink receives every credited tick, e.g. to maintain materialized
// per-tutorial counters.
type SummarySink interface {
	RecordTick(ctx context.Context, res TickResult) error
}

// Ticker credits one tick. *Recorder implements it.
type Ticker interface {
	Tick(ctx context.Context, id models.Identity, tutorialID string) (*TickResult, error)
}

// Recorder owns the watch session counters.
type Recorder struct {
	store  docstore.Store
	sink   SummarySink
	logger *zap.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder. sink may be nil.
func NewRecorder(store docstore.Store, sink SummarySink, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, sink: sink, logger: logger, now: time.Now}
}

// Tick credits MinutesPerTick to the pair with a single atomic increment, then
// appends a view log entry whose minuteMarker is the new total. Failing to
// append the log doesn't fail the tick: the minute is already counted.
func (r *Recorder) Tick(ctx context.Context, id models.Identity, tutorialID string) (*TickResult, error) {
	timer := prometheus.NewTimer(tickDuration)
	defer timer.ObserveDuration()

	now := r.now().UTC()
	if !id.Valid(now) {
		ticksTotal.WithLabelValues("unauthenticated").Inc()
		return nil, ErrUnauthenticated
	}
	if tutorialID == "" {
		return nil, ErrTutorialRequired
	}

	total, err := r.store.Increment(ctx, models.WatchSessionPath(id.ID, tutorialID), models.FieldTotalMinutesWatched, MinutesPerTick, docstore.Fields{
		models.FieldUserID:      id.ID,
		models.FieldTutorialID:  tutorialID,
		models.FieldLastUpdated: now,
	})
	if err != nil {
		ticksTotal.WithLabelValues("failed").Inc()
		r.logger.Warn("watch tick failed",
			zap.String("user_id", id.ID),
			zap.String("tutorial_id", tutorialID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("increment watch session: %w", err)
	}
	ticksTotal.WithLabelValues("ok").Inc()

	entry := models.ViewLogEntry{
		UserID:       id.ID,
		UserEmail:    id.Email,
		Timestamp:    now,
		MinuteMarker: total,
	}
	if _, err := r.store.Add(ctx, models.ViewLogsPath(tutorialID), entry.Fields()); err != nil {
		viewLogFailures.Inc()
		r.logger.Warn("view log append failed",
			zap.String("user_id", id.ID),
			zap.String("tutorial_id", tutorialID),
			zap.Int64("minute_marker", total),
			zap.Error(err),
		)
	}

	res := TickResult{UserID: id.ID, TutorialID: tutorialID, TotalMinutesWatched: total, At: now}
	if r.sink != nil {
		if err := r.sink.RecordTick(ctx, res); err != nil {
			r.logger.Warn("engagement summary update failed", zap.String("tutorial_id", tutorialID), zap.Error(err))
		}
	}
	r.logger.Debug("watch tick",
		zap.String("user_id", id.ID),
		zap.String("tutorial_id", tutorialID),
		zap.Int64("total_minutes", total),
	)
	return &res, nil
}

// Session returns the pair's watch session; a pair that never ticked reads as zero minutes.
func (r *Recorder) Session(ctx context.Context, userID, tutorialID string) (models.WatchSession, error) {
	d, err := r.store.Get(ctx, models.WatchSessionPath(userID, tutorialID))
	if errors.Is(err, docstore.ErrNotFound) {
		return models.WatchSession{UserID: userID, TutorialID: tutorialID}, nil
	}
	if err != nil {
		return models.WatchSession{}, fmt.Errorf("get watch session: %w", err)
	}
	return models.WatchSessionFromDocument(d), nil
}
