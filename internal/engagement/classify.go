package engagement

import (
	"github.com/learnlens/backend/internal/models"
)

// Level is a student's engagement relative to the tutorial average.
type Level string

const (
	LevelVeryEngaged Level = "très engagé" // ≥ 150 % of the average
	LevelEngaged     Level = "engagé"      // ≥ 100 %
	LevelModerate    Level = "modéré"      // ≥ 50 %
	LevelLow         Level = "faible"      // < 50 %
)

// Classify buckets minutes against average. Comparisons are done on integers
// so exact boundaries land in the upper bucket. With no average, any watched
// minute counts as very engaged.
func Classify(minutes, average int64) Level {
	if average <= 0 {
		if minutes > 0 {
			return LevelVeryEngaged
		}
		return LevelLow
	}
	p := minutes * 100
	switch {
	case p >= 150*average:
		return LevelVeryEngaged
	case p >= 100*average:
		return LevelEngaged
	case p >= 50*average:
		return LevelModerate
	}
	return LevelLow
}

// PercentOfAverage returns minutes as a rounded percentage of average, 0 without an average.
func PercentOfAverage(minutes, average int64) int64 {
	if average <= 0 {
		return 0
	}
	return (200*minutes + average) / (2 * average)
}

// ClassifiedStudent is one row of a tutorial report.
type ClassifiedStudent struct {
	models.StudentWatchData
	PercentOfAverage int64 `json:"percentOfAverage"`
	Level            Level `json:"level"`
}

// TutorialReport is what the owner of a tutorial sees.
type TutorialReport struct {
	Summary  models.TutorialSummary `json:"summary"`
	Students []ClassifiedStudent    `json:"students"`
}

// Report classifies every student of e. It is recomputed on each request.
func Report(t models.Tutorial, e *models.TutorialEngagement) TutorialReport {
	summary := SummaryOf(t, e)
	students := make([]ClassifiedStudent, len(e.Students))
	for i, s := range e.Students {
		students[i] = ClassifiedStudent{
			StudentWatchData: s,
			PercentOfAverage: PercentOfAverage(s.TotalMinutesWatched, summary.AverageWatchTime),
			Level:            Classify(s.TotalMinutesWatched, summary.AverageWatchTime),
		}
	}
	return TutorialReport{Summary: summary, Students: students}
}
