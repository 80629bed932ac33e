package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/pkg/docstore"
)

// ErrNotFound is returned for an unknown notification.
var ErrNotFound = errors.New("notification not found")

// Repository handles users/{id}/notifications documents.
type Repository struct {
	store docstore.Store
	now   func() time.Time
}

// NewRepository creates a notification repository.
func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store, now: time.Now}
}

// Add stores an unread notification for userID.
func (r *Repository) Add(ctx context.Context, userID string, n models.Notification) (string, error) {
	n.Read = false
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now().UTC()
	}
	id, err := r.store.Add(ctx, models.NotificationsPath(userID), n.Fields())
	if err != nil {
		return "", fmt.Errorf("add notification: %w", err)
	}
	return id, nil
}

// List returns the user's notifications, newest first. limit <= 0 returns all.
func (r *Repository) List(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	q := docstore.Query{Collection: models.NotificationsPath(userID), Limit: limit}.Order("createdAt", true)
	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return decode(docs), nil
}

// MarkRead flags one notification as read.
func (r *Repository) MarkRead(ctx context.Context, userID, id string) error {
	path := docstore.Join(models.NotificationsPath(userID), id)
	if _, err := r.store.Get(ctx, path); err != nil {
		if errors.Is(err, docstore.ErrNotFound) || errors.Is(err, docstore.ErrInvalidPath) {
			return ErrNotFound
		}
		return fmt.Errorf("get notification: %w", err)
	}
	if err := r.store.SetMerge(ctx, path, docstore.Fields{"read": true}); err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

// SubscribeUnread streams snapshots of the user's unread notifications, newest first.
func (r *Repository) SubscribeUnread(ctx context.Context, userID string) (<-chan docstore.Snapshot, func(), error) {
	q := docstore.Query{Collection: models.NotificationsPath(userID)}.Where("read", false).Order("createdAt", true)
	return r.store.Subscribe(ctx, q)
}

func decode(docs []docstore.Document) []models.Notification {
	out := make([]models.Notification, len(docs))
	for i := range docs {
		out[i] = models.NotificationFromDocument(&docs[i])
	}
	return out
}
