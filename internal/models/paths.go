package models

import "github.com/learnlens/backend/pkg/docstore"

// Collection names of the persisted layout.
const (
	CollectionTutorials        = "tutorials"
	CollectionUsers            = "users"
	CollectionExports          = "exports"
	SubcollectionWatchSessions = "watchSessions"
	SubcollectionViewLogs      = "viewLogs"
	SubcollectionNotifications = "notifications"
)

// TutorialPath is tutorials/{id}.
func TutorialPath(id string) string { return docstore.Join(CollectionTutorials, id) }

// UserPath is users/{id}.
func UserPath(id string) string { return docstore.Join(CollectionUsers, id) }

// WatchSessionsPath is the users/{userId}/watchSessions collection.
func WatchSessionsPath(userID string) string {
	return docstore.Join(CollectionUsers, userID, SubcollectionWatchSessions)
}

// WatchSessionPath is users/{userId}/watchSessions/{tutorialId}: one document per pair.
func WatchSessionPath(userID, tutorialID string) string {
	return docstore.Join(WatchSessionsPath(userID), tutorialID)
}

// ViewLogsPath is the tutorials/{tutorialId}/viewLogs collection.
func ViewLogsPath(tutorialID string) string {
	return docstore.Join(CollectionTutorials, tutorialID, SubcollectionViewLogs)
}

// NotificationsPath is the users/{userId}/notifications collection.
func NotificationsPath(userID string) string {
	return docstore.Join(CollectionUsers, userID, SubcollectionNotifications)
}

// ExportPath is exports/{id}.
func ExportPath(id string) string { return docstore.Join(CollectionExports, id) }
