package watchtime

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/middleware"
	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/internal/tutorials"
	"github.com/learnlens/backend/pkg/response"
)

// TutorialLookup resolves a tutorial before any minute is credited to it.
type TutorialLookup interface {
	Get(ctx context.Context, id string) (*models.Tutorial, error)
}

// Handler exposes the recorder over HTTP for clients that drive their own timer.
type Handler struct {
	recorder  *Recorder
	tutorials TutorialLookup
	logger    *zap.Logger
}

// NewHandler creates a watch-time handler.
func NewHandler(recorder *Recorder, tutorials TutorialLookup, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{recorder: recorder, tutorials: tutorials, logger: logger}
}

// Tick handles POST /tutorials/:id/watch/tick: credits one minute to the caller.
func (h *Handler) Tick(c *gin.Context) {
	ctx := c.Request.Context()
	t, ok := h.resolve(c)
	if !ok {
		return
	}
	id, _ := middleware.CurrentIdentity(c)
	res, err := h.recorder.Tick(ctx, id, t.ID)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			response.Unauthorized(c, "session expired")
			return
		}
		response.SaveFailed(c)
		return
	}
	response.OK(c, res)
}

// Session handles GET /tutorials/:id/watch: the caller's own watch session.
func (h *Handler) Session(c *gin.Context) {
	t, ok := h.resolve(c)
	if !ok {
		return
	}
	id, _ := middleware.CurrentIdentity(c)
	s, err := h.recorder.Session(c.Request.Context(), id.ID, t.ID)
	if err != nil {
		h.logger.Error("get watch session", zap.String("user_id", id.ID), zap.String("tutorial_id", t.ID), zap.Error(err))
		response.LoadFailed(c)
		return
	}
	response.OK(c, s)
}

func (h *Handler) resolve(c *gin.Context) (*models.Tutorial, bool) {
	t, err := h.tutorials.Get(c.Request.Context(), c.Param("id"))
	if err == nil {
		return t, true
	}
	if errors.Is(err, tutorials.ErrNotFound) {
		response.NotFound(c, "tutorial")
	} else {
		h.logger.Error("resolve tutorial", zap.String("tutorial_id", c.Param("id")), zap.Error(err))
		response.LoadFailed(c)
	}
	return nil, false
}
