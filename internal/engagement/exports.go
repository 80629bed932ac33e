package engagement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/pkg/docstore"
)

// ErrExportNotFound is returned for an unknown export id.
var ErrExportNotFound = errors.New("export not found")

// ExportRepository handles exports/{id} documents.
type ExportRepository struct {
	store docstore.Store
	now   func() time.Time
}

// NewExportRepository creates an export repository.
func NewExportRepository(store docstore.Store) *ExportRepository {
	return &ExportRepository{store: store, now: time.Now}
}

// Create stores a pending export requested by userID.
func (r *ExportRepository) Create(ctx context.Context, userID string) (*models.Export, error) {
	e := &models.Export{
		ID:          uuid.New().String(),
		RequestedBy: userID,
		Status:      models.ExportPending,
		CreatedAt:   r.now().UTC(),
	}
	err := r.store.Set(ctx, models.ExportPath(e.ID), docstore.Fields{
		"requestedBy": e.RequestedBy,
		"status":      string(e.Status),
		"createdAt":   e.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create export: %w", err)
	}
	return e, nil
}

// Get returns the export with id.
func (r *ExportRepository) Get(ctx context.Context, id string) (*models.Export, error) {
	d, err := r.store.Get(ctx, models.ExportPath(id))
	if errors.Is(err, docstore.ErrNotFound) || errors.Is(err, docstore.ErrInvalidPath) {
		return nil, ErrExportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get export: %w", err)
	}
	e := models.ExportFromDocument(d)
	return &e, nil
}

// Complete marks the export as uploaded to s3Key.
func (r *ExportRepository) Complete(ctx context.Context, id, s3Key string) error {
	return r.finish(ctx, id, docstore.Fields{"status": string(models.ExportCompleted), "s3Key": s3Key, "error": ""})
}

// Fail marks the export as failed with a user-safe reason.
func (r *ExportRepository) Fail(ctx context.Context, id, reason string) error {
	return r.finish(ctx, id, docstore.Fields{"status": string(models.ExportFailed), "error": reason})
}

func (r *ExportRepository) finish(ctx context.Context, id string, fields docstore.Fields) error {
	fields["completedAt"] = r.now().UTC()
	if err := r.store.SetMerge(ctx, models.ExportPath(id), fields); err != nil {
		return fmt.Errorf("update export %s: %w", id, err)
	}
	return nil
}
