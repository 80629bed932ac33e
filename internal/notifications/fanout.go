package notifications

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/models"
)

// Recipients lists the users to notify. *auth.Repository implements it.
type Recipients interface {
	ListIDs(ctx context.Context, role models.Role) ([]string, error)
}

// Notifier fans a notification out to every student.
type Notifier struct {
	repo   *Repository
	users  Recipients
	logger *zap.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(repo *Repository, users Recipients, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{repo: repo, users: users, logger: logger}
}

// TutorialPublished notifies every student of a new tutorial. Per-user
// failures are logged; the call fails only if no student could be notified.
func (n *Notifier) TutorialPublished(ctx context.Context, tutorialID, title, ownerName string) (int, error) {
	ids, err := n.users.ListIDs(ctx, models.RoleStudent)
	if err != nil {
		return 0, fmt.Errorf("list students: %w", err)
	}
	msg := fmt.Sprintf("%s a publié un nouveau tutoriel : %s", ownerName, title)
	if ownerName == "" {
		msg = "Nouveau tutoriel : " + title
	}

	sent := 0
	var lastErr error
	for _, uid := range ids {
		_, err := n.repo.Add(ctx, uid, models.Notification{
			Title:      "Nouveau tutoriel",
			Message:    msg,
			TutorialID: tutorialID,
		})
		if err != nil {
			lastErr = err
			n.logger.Warn("notify student", zap.String("user_id", uid), zap.String("tutorial_id", tutorialID), zap.Error(err))
			continue
		}
		sent++
	}
	if sent == 0 && lastErr != nil {
		return 0, lastErr
	}
	n.logger.Info("tutorial notification sent", zap.String("tutorial_id", tutorialID), zap.Int("recipients", sent))
	return sent, nil
}
