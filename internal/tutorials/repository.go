package tutorials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/pkg/docstore"
)

// ErrNotFound is returned when a tutorial doesn't exist.
var ErrNotFound = errors.New("tutorial not found")

// Repository handles tutorials/{id} documents.
type Repository struct {
	store docstore.Store
}

// NewRepository creates a tutorial repository.
func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// Create stores t under a generated id.
func (r *Repository) Create(ctx context.Context, t *models.Tutorial) error {
	t.ID = uuid.New().String()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if err := r.store.Set(ctx, models.TutorialPath(t.ID), t.Fields()); err != nil {
		return fmt.Errorf("create tutorial: %w", err)
	}
	return nil
}

// Get returns the tutorial with id.
func (r *Repository) Get(ctx context.Context, id string) (*models.Tutorial, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	d, err := r.store.Get(ctx, models.TutorialPath(id))
	if errors.Is(err, docstore.ErrNotFound) || errors.Is(err, docstore.ErrInvalidPath) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tutorial: %w", err)
	}
	t := models.TutorialFromDocument(d)
	return &t, nil
}

// List returns tutorials newest first, optionally only those of ownerID.
func (r *Repository) List(ctx context.Context, ownerID string) ([]models.Tutorial, error) {
	q := docstore.Query{Collection: models.CollectionTutorials}.Order("createdAt", true)
	if ownerID != "" {
		q = q.Where("ownerId", ownerID)
	}
	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list tutorials: %w", err)
	}
	list := make([]models.Tutorial, 0, len(docs))
	for i := range docs {
		list = append(list, models.TutorialFromDocument(&docs[i]))
	}
	return list, nil
}

// Delete removes the tutorial document. Watch sessions and view logs that
// reference it are left in place.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, models.TutorialPath(id)); err != nil {
		return fmt.Errorf("delete tutorial: %w", err)
	}
	return nil
}
