package models

import (
	"time"

	"github.com/learnlens/backend/pkg/docstore"
)

// Persisted field names of a watch session.
const (
	FieldTotalMinutesWatched = "totalMinutesWatched"
	FieldLastUpdated         = "lastUpdated"
	FieldUserID              = "userId"
	FieldTutorialID          = "tutorialId"
)

// WatchSession is the running total of minutes a student watched a tutorial.
// TotalMinutesWatched never decreases.
type WatchSession struct {
	UserID              string    `json:"userId"`
	TutorialID          string    `json:"tutorialId"`
	TotalMinutesWatched int64     `json:"totalMinutesWatched"`
	LastUpdated         time.Time `json:"lastUpdated"`
}

// WatchSessionFromDocument decodes users/{userId}/watchSessions/{tutorialId}.
// Ids missing from the data are taken from the path; negative totals read as 0.
func WatchSessionFromDocument(d *docstore.Document) WatchSession {
	s := WatchSession{
		UserID:              d.Data.String(FieldUserID),
		TutorialID:          d.Data.String(FieldTutorialID),
		TotalMinutesWatched: d.Data.Int64(FieldTotalMinutesWatched),
		LastUpdated:         d.Data.Time(FieldLastUpdated),
	}
	if s.TutorialID == "" {
		s.TutorialID = d.ID
	}
	if s.UserID == "" {
		// users/{userId}/watchSessions/{tutorialId}
		if parent, _, err := docstore.SplitPath(d.Path); err == nil {
			if users, userID, err := docstore.SplitPath(parent); err == nil && users == CollectionUsers {
				s.UserID = userID
			}
		}
	}
	if s.TotalMinutesWatched < 0 {
		s.TotalMinutesWatched = 0
	}
	return s
}

// ViewLogEntry is an append-only record of one credited tick.
type ViewLogEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	UserEmail    string    `json:"userEmail"`
	Timestamp    time.Time `json:"timestamp"`
	MinuteMarker int64     `json:"minuteMarker"`
}

// ViewLogFromDocument decodes tutorials/{tutorialId}/viewLogs/{id}.
func ViewLogFromDocument(d *docstore.Document) ViewLogEntry {
	return ViewLogEntry{
		ID:           d.ID,
		UserID:       d.Data.String("userId"),
		UserEmail:    d.Data.String("userEmail"),
		Timestamp:    d.Data.Time("timestamp"),
		MinuteMarker: d.Data.Int64("minuteMarker"),
	}
}

// Fields encodes e for storage.
func (e ViewLogEntry) Fields() docstore.Fields {
	return docstore.Fields{
		"userId":       e.UserID,
		"userEmail":    e.UserEmail,
		"timestamp":    e.Timestamp,
		"minuteMarker": e.MinuteMarker,
	}
}
