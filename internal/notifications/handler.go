package notifications

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/middleware"
	"github.com/learnlens/backend/pkg/docstore"
	"github.com/learnlens/backend/pkg/response"
)

// Handler handles notification endpoints of the current user.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a notification handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// List handles GET /notifications?limit=N.
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	id, _ := middleware.CurrentIdentity(c)
	list, err := h.repo.List(c.Request.Context(), id.ID, limit)
	if err != nil {
		h.logger.Error("list notifications", zap.String("user_id", id.ID), zap.Error(err))
		response.LoadFailed(c)
		return
	}
	response.OK(c, list)
}

// MarkRead handles PATCH /notifications/:id/read.
func (h *Handler) MarkRead(c *gin.Context) {
	id, _ := middleware.CurrentIdentity(c)
	if err := h.repo.MarkRead(c.Request.Context(), id.ID, c.Param("id")); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "notification")
			return
		}
		h.logger.Error("mark notification read", zap.String("user_id", id.ID), zap.Error(err))
		response.SaveFailed(c)
		return
	}
	response.NoContent(c)
}

// Stream handles GET /notifications/stream: server-sent "unread" events
// carrying every unread notification whenever the set changes.
func (h *Handler) Stream(c *gin.Context) {
	id, _ := middleware.CurrentIdentity(c)
	snaps, cancel, err := h.repo.SubscribeUnread(c.Request.Context(), id.ID)
	if err != nil {
		h.logger.Error("subscribe notifications", zap.String("user_id", id.ID), zap.Error(err))
		response.LoadFailed(c)
		return
	}
	defer cancel()
	response.StreamSnapshots(c, "unread", snaps, func(docs []docstore.Document) any {
		return decode(docs)
	})
}
