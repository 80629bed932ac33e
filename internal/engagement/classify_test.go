package engagement

import (
	"testing"

	"github.com/learnlens/backend/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		minutes int64
		average int64
		want    Level
	}{
		{"well above", 60, 30, LevelVeryEngaged},
		{"exactly 150%", 45, 30, LevelVeryEngaged},
		{"just under 150%", 44, 30, LevelEngaged},
		{"exactly 100%", 30, 30, LevelEngaged},
		{"just under 100%", 29, 30, LevelModerate},
		{"exactly 50%", 15, 30, LevelModerate},
		{"just under 50%", 14, 30, LevelLow},
		{"nothing watched", 0, 30, LevelLow},
		{"no average, watched", 3, 0, LevelVeryEngaged},
		{"no average, nothing watched", 0, 0, LevelLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.minutes, tt.average); got != tt.want {
				t.Errorf("Classify(%d, %d) = %q, want %q", tt.minutes, tt.average, got, tt.want)
			}
		})
	}
}

func TestPercentOfAverage(t *testing.T) {
	tests := []struct {
		minutes, average, want int64
	}{
		{15, 30, 50},
		{30, 30, 100},
		{50, 30, 167},
		{10, 30, 33},
		{5, 0, 0},
	}
	for _, tt := range tests {
		if got := PercentOfAverage(tt.minutes, tt.average); got != tt.want {
			t.Errorf("PercentOfAverage(%d, %d) = %d, want %d", tt.minutes, tt.average, got, tt.want)
		}
	}
}

func TestSummarizeRoundsAverage(t *testing.T) {
	tests := []struct {
		minutes []int64
		want    int64
	}{
		{nil, 0},
		{[]int64{30, 10, 50}, 30},
		{[]int64{10, 11}, 11},
		{[]int64{1, 1, 2}, 1},
	}
	for _, tt := range tests {
		if got := Summarize(models.Tutorial{}, tt.minutes).AverageWatchTime; got != tt.want {
			t.Errorf("average of %v = %d, want %d", tt.minutes, got, tt.want)
		}
	}
}

func TestReport(t *testing.T) {
	e := &models.TutorialEngagement{
		TutorialID: "t",
		Students: []models.StudentWatchData{
			{UserID: "C", TotalMinutesWatched: 50},
			{UserID: "A", TotalMinutesWatched: 30},
			{UserID: "B", TotalMinutesWatched: 10},
		},
	}
	r := Report(models.Tutorial{ID: "t", Title: "T"}, e)
	if r.Summary.AverageWatchTime != 30 {
		t.Fatalf("average = %d", r.Summary.AverageWatchTime)
	}
	want := []Level{LevelVeryEngaged, LevelEngaged, LevelLow}
	for i, s := range r.Students {
		if s.Level != want[i] {
			t.Errorf("%s level = %q, want %q", s.UserID, s.Level, want[i])
		}
	}
}
