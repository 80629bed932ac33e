package engagement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/internal/tutorials"
	"github.com/learnlens/backend/pkg/docstore"
)

// DefaultConcurrency bounds the per-user reads of one scan.
const DefaultConcurrency = 8

// ScanAggregator computes engagement by reading the watch sessions of every
// user. A user whose sessions can't be read is logged and skipped.
type ScanAggregator struct {
	store       docstore.Store
	tutorials   TutorialSource
	users       UserSource
	concurrency int
	logger      *zap.Logger
}

// NewScanAggregator creates a scan aggregator. concurrency <= 0 uses DefaultConcurrency.
func NewScanAggregator(store docstore.Store, tutorials TutorialSource, users UserSource, concurrency int, logger *zap.Logger) *ScanAggregator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanAggregator{store: store, tutorials: tutorials, users: users, concurrency: concurrency, logger: logger}
}

// ByTutorial queries every user's watchSessions for tutorialID.
func (a *ScanAggregator) ByTutorial(ctx context.Context, tutorialID string) (*models.TutorialEngagement, error) {
	defer prometheus.NewTimer(aggregateDuration.WithLabelValues("scan", "by_tutorial")).ObserveDuration()

	t, err := resolveTutorial(ctx, a.tutorials, tutorialID)
	if err != nil {
		return nil, err
	}
	sessions, err := a.scan(ctx, func(uid string) docstore.Query {
		return docstore.Query{Collection: models.WatchSessionsPath(uid)}.Where(models.FieldTutorialID, t.ID)
	})
	if err != nil {
		return nil, err
	}

	e := &models.TutorialEngagement{TutorialID: t.ID, TutorialTitle: t.Title, Students: []models.StudentWatchData{}}
	for _, s := range sessions {
		e.Students = append(e.Students, models.StudentWatchData{
			UserID:              s.UserID,
			TotalMinutesWatched: s.TotalMinutesWatched,
			LastUpdated:         s.LastUpdated,
		})
	}
	sortStudents(e.Students)
	return e, nil
}

// AllTutorials scans every session once and groups it by tutorial. Sessions
// of deleted tutorials are ignored.
func (a *ScanAggregator) AllTutorials(ctx context.Context) ([]models.TutorialSummary, error) {
	defer prometheus.NewTimer(aggregateDuration.WithLabelValues("scan", "all_tutorials")).ObserveDuration()

	list, err := a.tutorials.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list tutorials: %w", err)
	}
	sessions, err := a.Sessions(ctx)
	if err != nil {
		return nil, err
	}

	minutes := make(map[string][]int64, len(list))
	for _, s := range sessions {
		minutes[s.TutorialID] = append(minutes[s.TutorialID], s.TotalMinutesWatched)
	}
	out := make([]models.TutorialSummary, 0, len(list))
	for _, t := range list {
		out = append(out, Summarize(t, minutes[t.ID]))
	}
	sortSummaries(out)
	return out, nil
}

// ByStudent reads one user's sessions and joins the tutorial titles.
func (a *ScanAggregator) ByStudent(ctx context.Context, userID string) (*models.StudentEngagement, error) {
	defer prometheus.NewTimer(aggregateDuration.WithLabelValues("scan", "by_student")).ObserveDuration()

	docs, err := a.store.Query(ctx, docstore.Query{Collection: models.WatchSessionsPath(userID)})
	if err != nil {
		return nil, fmt.Errorf("query watch sessions of %s: %w", userID, err)
	}
	titles, err := a.titles(ctx)
	if err != nil {
		return nil, err
	}

	e := &models.StudentEngagement{UserID: userID, Tutorials: []models.TutorialWatchData{}}
	for i := range docs {
		s := models.WatchSessionFromDocument(&docs[i])
		title, ok := titles[s.TutorialID]
		if !ok {
			continue
		}
		e.TotalMinutesWatched += s.TotalMinutesWatched
		e.Tutorials = append(e.Tutorials, models.TutorialWatchData{
			TutorialID:          s.TutorialID,
			TutorialTitle:       title,
			TotalMinutesWatched: s.TotalMinutesWatched,
			LastUpdated:         s.LastUpdated,
		})
	}
	sortStudentTutorials(e.Tutorials)
	return e, nil
}

// Sessions returns every readable watch session of every user.
func (a *ScanAggregator) Sessions(ctx context.Context) ([]models.WatchSession, error) {
	return a.scan(ctx, func(uid string) docstore.Query {
		return docstore.Query{Collection: models.WatchSessionsPath(uid)}
	})
}

// scan runs query(uid) for every user with bounded concurrency. Results keep
// the user enumeration order.
func (a *ScanAggregator) scan(ctx context.Context, query func(uid string) docstore.Query) ([]models.WatchSession, error) {
	ids, err := a.users.ListIDs(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	results := make([][]models.WatchSession, len(ids))
	var (
		mu      sync.Mutex
		skipped int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, uid := range ids {
		i, uid := i, uid
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			docs, err := a.store.Query(gctx, query(uid))
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				scanFailures.Inc()
				a.logger.Warn("skipping user in engagement scan", zap.String("user_id", uid), zap.Error(err))
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			sessions := make([]models.WatchSession, 0, len(docs))
			for j := range docs {
				s := models.WatchSessionFromDocument(&docs[j])
				if s.UserID == "" {
					s.UserID = uid
				}
				sessions = append(sessions, s)
			}
			results[i] = sessions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("engagement scan: %w", err)
	}

	var out []models.WatchSession
	for _, r := range results {
		out = append(out, r...)
	}
	if skipped > 0 {
		a.logger.Info("engagement scan finished with skipped users", zap.Int("users", len(ids)), zap.Int("skipped", skipped))
	}
	return out, nil
}

func resolveTutorial(ctx context.Context, src TutorialSource, id string) (*models.Tutorial, error) {
	t, err := src.Get(ctx, id)
	if errors.Is(err, tutorials.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tutorial: %w", err)
	}
	return t, nil
}

func (a *ScanAggregator) titles(ctx context.Context) (map[string]string, error) {
	list, err := a.tutorials.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list tutorials: %w", err)
	}
	m := make(map[string]string, len(list))
	for _, t := range list {
		m[t.ID] = t.Title
	}
	return m, nil
}
