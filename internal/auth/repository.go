package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/pkg/docstore"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

// Repository handles users/{id} documents.
type Repository struct {
	store docstore.Store
}

// NewRepository creates an auth repository.
func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// Create stores a new user with a generated id.
func (r *Repository) Create(ctx context.Context, u *models.User) error {
	u.Email = normalizeEmail(u.Email)
	if _, err := r.GetByEmail(ctx, u.Email); err == nil {
		return ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return err
	}
	u.ID = uuid.New().String()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if err := r.store.Set(ctx, models.UserPath(u.ID), u.Fields()); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.User, error) {
	d, err := r.store.Get(ctx, models.UserPath(id))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u := models.UserFromDocument(d)
	return &u, nil
}

// GetByEmail returns a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	docs, err := r.store.Query(ctx, docstore.Query{Collection: models.CollectionUsers, Limit: 1}.
		Where("email", normalizeEmail(email)))
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrUserNotFound
	}
	u := models.UserFromDocument(&docs[0])
	return &u, nil
}

// ListIDs returns the ids of all users, optionally restricted to a role.
func (r *Repository) ListIDs(ctx context.Context, role models.Role) ([]string, error) {
	q := docstore.Query{Collection: models.CollectionUsers}
	if role != "" {
		q = q.Where("role", string(role))
	}
	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
