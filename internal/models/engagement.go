package models

import "time"

// StudentWatchData is one student's minutes on a tutorial.
type StudentWatchData struct {
	UserID              string    `json:"userId"`
	TotalMinutesWatched int64     `json:"totalMinutesWatched"`
	LastUpdated         time.Time `json:"lastUpdated"`
}

// TutorialEngagement lists the students of a tutorial, most minutes first.
// It is computed on request and never stored.
type TutorialEngagement struct {
	TutorialID    string             `json:"tutorialId"`
	TutorialTitle string             `json:"tutorialTitle"`
	Students      []StudentWatchData `json:"students"`
}

// TutorialSummary holds the totals of one tutorial.
type TutorialSummary struct {
	TutorialID       string `json:"tutorialId"`
	TutorialTitle    string `json:"tutorialTitle"`
	OwnerID          string `json:"ownerId"`
	TotalViewers     int    `json:"totalViewers"`
	TotalViewMinutes int64  `json:"totalViewMinutes"`
	AverageWatchTime int64  `json:"averageWatchTime"`
}

// TutorialWatchData is one tutorial in a student's engagement.
type TutorialWatchData struct {
	TutorialID          string    `json:"tutorialId"`
	TutorialTitle       string    `json:"tutorialTitle"`
	TotalMinutesWatched int64     `json:"totalMinutesWatched"`
	LastUpdated         time.Time `json:"lastUpdated"`
}

// StudentEngagement lists the tutorials a student watched, most minutes first.
type StudentEngagement struct {
	UserID              string              `json:"userId"`
	TotalMinutesWatched int64               `json:"totalMinutesWatched"`
	Tutorials           []TutorialWatchData `json:"tutorials"`
}
