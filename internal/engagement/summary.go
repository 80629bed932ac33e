package engagement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/internal/watchtime"
	"github.com/learnlens/backend/pkg/docstore"
	"github.com/learnlens/backend/pkg/redis"
)

// SummaryAggregator reads engagement from Redis sorted sets that the recorder
// updates on every tick:
//
//	engagement:tutorial:{tid}  member userId, score total minutes
//	engagement:student:{uid}   member tutorialId, score total minutes
//	engagement:updated:{tid}   hash userId -> lastUpdated
//
// Scores are written with ZADD GT and are the absolute totals returned by the
// atomic increment, so replays and reordered ticks never lower or double them.
type SummaryAggregator struct {
	client    *redis.Client
	tutorials TutorialSource
	logger    *zap.Logger
}

var _ watchtime.SummarySink = (*SummaryAggregator)(nil)

// NewSummaryAggregator creates a Redis-backed aggregator.
func NewSummaryAggregator(client *redis.Client, tutorials TutorialSource, logger *zap.Logger) *SummaryAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryAggregator{client: client, tutorials: tutorials, logger: logger}
}

func (a *SummaryAggregator) tutorialKey(tid string) string {
	return a.client.Key("engagement:tutorial:" + tid)
}

func (a *SummaryAggregator) studentKey(uid string) string {
	return a.client.Key("engagement:student:" + uid)
}

func (a *SummaryAggregator) updatedKey(tid string) string {
	return a.client.Key("engagement:updated:" + tid)
}

// RecordTick stores the pair's new total in one MULTI transaction.
func (a *SummaryAggregator) RecordTick(ctx context.Context, res watchtime.TickResult) error {
	return a.record(ctx, models.WatchSession{
		UserID:              res.UserID,
		TutorialID:          res.TutorialID,
		TotalMinutesWatched: res.TotalMinutesWatched,
		LastUpdated:         res.At,
	})
}

func (a *SummaryAggregator) record(ctx context.Context, s models.WatchSession) error {
	score := float64(s.TotalMinutesWatched)
	_, err := a.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.ZAddGT(ctx, a.tutorialKey(s.TutorialID), goredis.Z{Score: score, Member: s.UserID})
		p.ZAddGT(ctx, a.studentKey(s.UserID), goredis.Z{Score: score, Member: s.TutorialID})
		p.HSet(ctx, a.updatedKey(s.TutorialID), s.UserID, s.LastUpdated.UTC().Format(docstore.TimeLayout))
		return nil
	})
	if err != nil {
		return fmt.Errorf("record engagement summary: %w", err)
	}
	return nil
}

// ByTutorial reads the tutorial's sorted set, highest score first.
func (a *SummaryAggregator) ByTutorial(ctx context.Context, tutorialID string) (*models.TutorialEngagement, error) {
	defer prometheus.NewTimer(aggregateDuration.WithLabelValues("summary", "by_tutorial")).ObserveDuration()

	t, err := resolveTutorial(ctx, a.tutorials, tutorialID)
	if err != nil {
		return nil, err
	}
	var (
		scores  *goredis.ZSliceCmd
		updated *goredis.MapStringStringCmd
	)
	_, err = a.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		scores = p.ZRevRangeWithScores(ctx, a.tutorialKey(t.ID), 0, -1)
		updated = p.HGetAll(ctx, a.updatedKey(t.ID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read tutorial summary: %w", err)
	}
	return engagementFromScores(*t, scores.Val(), updated.Val()), nil
}

// AllTutorials sums every tutorial's sorted set.
func (a *SummaryAggregator) AllTutorials(ctx context.Context) ([]models.TutorialSummary, error) {
	defer prometheus.NewTimer(aggregateDuration.WithLabelValues("summary", "all_tutorials")).ObserveDuration()

	list, err := a.tutorials.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list tutorials: %w", err)
	}
	cmds := make([]*goredis.ZSliceCmd, len(list))
	if len(list) > 0 {
		_, err = a.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
			for i, t := range list {
				cmds[i] = p.ZRangeWithScores(ctx, a.tutorialKey(t.ID), 0, -1)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("read tutorial summaries: %w", err)
		}
	}

	out := make([]models.TutorialSummary, 0, len(list))
	for i, t := range list {
		out = append(out, Summarize(t, scoreMinutes(cmds[i].Val())))
	}
	sortSummaries(out)
	return out, nil
}

// ByStudent reads the student's sorted set and joins titles and timestamps.
func (a *SummaryAggregator) ByStudent(ctx context.Context, userID string) (*models.StudentEngagement, error) {
	defer prometheus.NewTimer(aggregateDuration.WithLabelValues("summary", "by_student")).ObserveDuration()

	scores, err := a.client.ZRevRangeWithScores(ctx, a.studentKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read student summary: %w", err)
	}
	list, err := a.tutorials.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list tutorials: %w", err)
	}
	titles := make(map[string]string, len(list))
	for _, t := range list {
		titles[t.ID] = t.Title
	}

	updated := make([]*goredis.StringCmd, len(scores))
	if len(scores) > 0 {
		_, err = a.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
			for i, z := range scores {
				updated[i] = p.HGet(ctx, a.updatedKey(memberString(z.Member)), userID)
			}
			return nil
		})
		if err != nil && !errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("read student timestamps: %w", err)
		}
	}

	e := &models.StudentEngagement{UserID: userID, Tutorials: []models.TutorialWatchData{}}
	for i, z := range scores {
		tid := memberString(z.Member)
		title, ok := titles[tid]
		if !ok {
			continue
		}
		minutes := int64(z.Score)
		e.TotalMinutesWatched += minutes
		e.Tutorials = append(e.Tutorials, models.TutorialWatchData{
			TutorialID:          tid,
			TutorialTitle:       title,
			TotalMinutesWatched: minutes,
			LastUpdated:         parseUpdated(updated[i].Val()),
		})
	}
	sortStudentTutorials(e.Tutorials)
	return e, nil
}

// Rebuild replays stored sessions into the summary. ZADD GT makes this safe to
// run while ticks keep arriving. An empty tutorialID replays every session.
func (a *SummaryAggregator) Rebuild(ctx context.Context, sessions []models.WatchSession, tutorialID string) (int, error) {
	n := 0
	for _, s := range sessions {
		if tutorialID != "" && s.TutorialID != tutorialID {
			continue
		}
		if err := a.record(ctx, s); err != nil {
			return n, err
		}
		n++
	}
	a.logger.Info("engagement summary rebuilt", zap.String("tutorial_id", tutorialID), zap.Int("sessions", n))
	return n, nil
}

func engagementFromScores(t models.Tutorial, scores []goredis.Z, updated map[string]string) *models.TutorialEngagement {
	e := &models.TutorialEngagement{TutorialID: t.ID, TutorialTitle: t.Title, Students: make([]models.StudentWatchData, 0, len(scores))}
	for _, z := range scores {
		uid := memberString(z.Member)
		e.Students = append(e.Students, models.StudentWatchData{
			UserID:              uid,
			TotalMinutesWatched: int64(z.Score),
			LastUpdated:         parseUpdated(updated[uid]),
		})
	}
	sortStudents(e.Students)
	return e
}

func scoreMinutes(scores []goredis.Z) []int64 {
	out := make([]int64, len(scores))
	for i, z := range scores {
		out[i] = int64(z.Score)
	}
	return out
}

func memberString(m any) string {
	switch v := m.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return fmt.Sprint(m)
}

func parseUpdated(s string) time.Time {
	if t, err := time.Parse(docstore.TimeLayout, s); err == nil {
		return t
	}
	return time.Time{}
}
