// Package engagement turns watch sessions into instructor-facing analytics:
// per-tutorial student rankings, per-tutorial totals and per-student views.
//
// Two Aggregator implementations exist. ScanAggregator reads every user's
// watch sessions on each call, which costs O(users × sessions) with no
// caching. SummaryAggregator reads Redis sorted sets kept current by the
// recorder on every tick.
package engagement

import (
	"context"
	"errors"
	"sort"

	"github.com/learnlens/backend/internal/models"
)

// ErrNotFound is returned when the tutorial to aggregate doesn't exist.
var ErrNotFound = errors.New("tutorial not found")

// Aggregator computes engagement read models on demand.
type Aggregator interface {
	// ByTutorial lists the students of a tutorial, most minutes first.
	ByTutorial(ctx context.Context, tutorialID string) (*models.TutorialEngagement, error)
	// AllTutorials summarizes every tutorial, most total minutes first.
	// Tutorials nobody watched are included with zero totals.
	AllTutorials(ctx context.Context) ([]models.TutorialSummary, error)
	// ByStudent lists the tutorials a student watched, most minutes first.
	ByStudent(ctx context.Context, userID string) (*models.StudentEngagement, error)
}

// TutorialSource resolves tutorials. *tutorials.Repository implements it.
type TutorialSource interface {
	Get(ctx context.Context, id string) (*models.Tutorial, error)
	List(ctx context.Context, ownerID string) ([]models.Tutorial, error)
}

// UserSource enumerates users. *auth.Repository implements it.
type UserSource interface {
	ListIDs(ctx context.Context, role models.Role) ([]string, error)
}

// Summarize computes the totals of a tutorial from its students' minutes.
// The average is rounded half up and is 0 when nobody watched.
func Summarize(t models.Tutorial, minutes []int64) models.TutorialSummary {
	s := models.TutorialSummary{
		TutorialID:    t.ID,
		TutorialTitle: t.Title,
		OwnerID:       t.OwnerID,
		TotalViewers:  len(minutes),
	}
	for _, m := range minutes {
		s.TotalViewMinutes += m
	}
	s.AverageWatchTime = roundedAverage(s.TotalViewMinutes, int64(s.TotalViewers))
	return s
}

// SummaryOf summarizes a computed tutorial engagement.
func SummaryOf(t models.Tutorial, e *models.TutorialEngagement) models.TutorialSummary {
	minutes := make([]int64, len(e.Students))
	for i, s := range e.Students {
		minutes[i] = s.TotalMinutesWatched
	}
	return Summarize(t, minutes)
}

func roundedAverage(sum, count int64) int64 {
	if count <= 0 {
		return 0
	}
	return (2*sum + count) / (2 * count)
}

func sortStudents(students []models.StudentWatchData) {
	sort.SliceStable(students, func(i, j int) bool {
		return students[i].TotalMinutesWatched > students[j].TotalMinutesWatched
	})
}

func sortSummaries(summaries []models.TutorialSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].TotalViewMinutes > summaries[j].TotalViewMinutes
	})
}

func sortStudentTutorials(list []models.TutorialWatchData) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].TotalMinutesWatched > list[j].TotalMinutesWatched
	})
}
