package models

import (
	"time"

	"github.com/learnlens/backend/pkg/docstore"
)

// Notification is a users/{userId}/notifications/{id} document.
type Notification struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	TutorialID string    `json:"tutorialId,omitempty"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NotificationFromDocument decodes a notification document.
func NotificationFromDocument(d *docstore.Document) Notification {
	return Notification{
		ID:         d.ID,
		Title:      d.Data.String("title"),
		Message:    d.Data.String("message"),
		TutorialID: d.Data.String("tutorialId"),
		Read:       d.Data.Bool("read"),
		CreatedAt:  d.Data.Time("createdAt"),
	}
}

// Fields encodes n for storage.
func (n Notification) Fields() docstore.Fields {
	return docstore.Fields{
		"title":      n.Title,
		"message":    n.Message,
		"tutorialId": n.TutorialID,
		"read":       n.Read,
		"createdAt":  n.CreatedAt,
	}
}

// ExportStatus is the state of an engagement export.
type ExportStatus string

const (
	ExportPending   ExportStatus = "pending"
	ExportCompleted ExportStatus = "completed"
	ExportFailed    ExportStatus = "failed"
)

// Export is an exports/{id} document tracking a CSV export job.
type Export struct {
	ID          string       `json:"id"`
	RequestedBy string       `json:"requestedBy"`
	Status      ExportStatus `json:"status"`
	S3Key       string       `json:"s3Key,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// ExportFromDocument decodes an export document.
func ExportFromDocument(d *docstore.Document) Export {
	e := Export{
		ID:          d.ID,
		RequestedBy: d.Data.String("requestedBy"),
		Status:      ExportStatus(d.Data.String("status")),
		S3Key:       d.Data.String("s3Key"),
		Error:       d.Data.String("error"),
		CreatedAt:   d.Data.Time("createdAt"),
	}
	if e.Status == "" {
		e.Status = ExportPending
	}
	if t := d.Data.Time("completedAt"); !t.IsZero() {
		e.CompletedAt = &t
	}
	return e
}
