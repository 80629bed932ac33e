package tutorials

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/middleware"
	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/pkg/queue"
	"github.com/learnlens/backend/pkg/response"
)

// CreateRequest is the body for POST /tutorials.
type CreateRequest struct {
	Title                string `json:"title" binding:"required"`
	Description          string `json:"description"`
	TechnicalDescription string `json:"technicalDescription"`
	VideoURL             string `json:"videoUrl" binding:"required"`
}

// Publisher announces new tutorials to students. *queue.Queue implements it.
type Publisher interface {
	EnqueueTutorialPublished(ctx context.Context, p queue.TutorialPublishedPayload) error
}

// Handler handles tutorial HTTP endpoints.
type Handler struct {
	repo      *Repository
	publisher Publisher
	logger    *zap.Logger
}

// NewHandler creates a tutorial handler. publisher may be nil.
func NewHandler(repo *Repository, publisher Publisher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, publisher: publisher, logger: logger}
}

// Create handles POST /tutorials (instructor only).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	videoID, err := ExtractYouTubeID(req.VideoURL)
	if err != nil {
		response.BadRequest(c, ErrInvalidVideoURL.Error())
		return
	}

	id, _ := middleware.CurrentIdentity(c)
	t := &models.Tutorial{
		Title:                req.Title,
		Description:          req.Description,
		TechnicalDescription: req.TechnicalDescription,
		VideoURL:             CanonicalVideoURL(videoID),
		OwnerID:              id.ID,
		OwnerName:            id.DisplayName,
	}
	if err := h.repo.Create(c.Request.Context(), t); err != nil {
		h.logger.Error("create tutorial", zap.String("owner_id", id.ID), zap.Error(err))
		response.SaveFailed(c)
		return
	}

	if h.publisher != nil {
		err := h.publisher.EnqueueTutorialPublished(c.Request.Context(), queue.TutorialPublishedPayload{
			TutorialID: t.ID,
			Title:      t.Title,
			OwnerName:  t.OwnerName,
		})
		if err != nil {
			h.logger.Warn("enqueue tutorial notification", zap.String("tutorial_id", t.ID), zap.Error(err))
		}
	}
	response.Created(c, t)
}

// Get handles GET /tutorials/:id.
func (h *Handler) Get(c *gin.Context) {
	t, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.notFoundOrFail(c, err)
		return
	}
	response.OK(c, t)
}

// List handles GET /tutorials. ?mine=1 returns only the caller's tutorials.
func (h *Handler) List(c *gin.Context) {
	owner := ""
	if c.Query("mine") == "1" {
		id, _ := middleware.CurrentIdentity(c)
		owner = id.ID
	}
	list, err := h.repo.List(c.Request.Context(), owner)
	if err != nil {
		h.logger.Error("list tutorials", zap.Error(err))
		response.LoadFailed(c)
		return
	}
	response.OK(c, list)
}

// Delete handles DELETE /tutorials/:id (owner only).
func (h *Handler) Delete(c *gin.Context) {
	t, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.notFoundOrFail(c, err)
		return
	}
	id, _ := middleware.CurrentIdentity(c)
	if t.OwnerID != id.ID {
		response.Forbidden(c, "only the owner can delete this tutorial")
		return
	}
	if err := h.repo.Delete(c.Request.Context(), t.ID); err != nil {
		h.logger.Error("delete tutorial", zap.String("tutorial_id", t.ID), zap.Error(err))
		response.SaveFailed(c)
		return
	}
	response.NoContent(c)
}

func (h *Handler) notFoundOrFail(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "tutorial")
		return
	}
	h.logger.Error("get tutorial", zap.String("tutorial_id", c.Param("id")), zap.Error(err))
	response.LoadFailed(c)
}
