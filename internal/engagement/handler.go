package engagement

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/middleware"
	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/pkg/docstore"
	"github.com/learnlens/backend/pkg/queue"
	"github.com/learnlens/backend/pkg/response"
)

// ActivityLimit is the number of latest view logs in an activity snapshot.
const ActivityLimit = 20

// ExportQueue hands exports to the worker. *queue.Queue implements it.
type ExportQueue interface {
	EnqueueEngagementExport(ctx context.Context, p queue.EngagementExportPayload) error
}

// Presigner returns download URLs of finished exports. *storage.S3 implements it.
type Presigner interface {
	PresignExport(ctx context.Context, key string) (string, error)
}

// Handler serves engagement analytics.
type Handler struct {
	agg       Aggregator
	tutorials TutorialSource
	store     docstore.Store
	exports   *ExportRepository
	queue     ExportQueue
	presigner Presigner
	logger    *zap.Logger
}

// HandlerConfig groups the handler's collaborators. Queue and Presigner may be
// nil, in which case exports answer 503.
type HandlerConfig struct {
	Aggregator Aggregator
	Tutorials  TutorialSource
	Store      docstore.Store
	Exports    *ExportRepository
	Queue      ExportQueue
	Presigner  Presigner
	Logger     *zap.Logger
}

// NewHandler creates an engagement handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Handler{
		agg:       cfg.Aggregator,
		tutorials: cfg.Tutorials,
		store:     cfg.Store,
		exports:   cfg.Exports,
		queue:     cfg.Queue,
		presigner: cfg.Presigner,
		logger:    cfg.Logger,
	}
}

// Tutorial handles GET /tutorials/:id/engagement (owner only): ranked students
// with their classification and the tutorial totals.
func (h *Handler) Tutorial(c *gin.Context) {
	t, ok := h.ownedTutorial(c)
	if !ok {
		return
	}
	e, err := h.agg.ByTutorial(c.Request.Context(), t.ID)
	if err != nil {
		h.aggregateFailed(c, "by tutorial", err)
		return
	}
	response.OK(c, Report(*t, e))
}

// Activity handles GET /tutorials/:id/activity (owner only): a server-sent
// event stream of the latest view logs, newest first.
func (h *Handler) Activity(c *gin.Context) {
	t, ok := h.ownedTutorial(c)
	if !ok {
		return
	}
	q := docstore.Query{Collection: models.ViewLogsPath(t.ID), Limit: ActivityLimit}.Order("timestamp", true)
	snaps, cancel, err := h.store.Subscribe(c.Request.Context(), q)
	if err != nil {
		h.logger.Error("subscribe view logs", zap.String("tutorial_id", t.ID), zap.Error(err))
		response.LoadFailed(c)
		return
	}
	defer cancel()
	response.StreamSnapshots(c, "activity", snaps, func(docs []docstore.Document) any {
		logs := make([]models.ViewLogEntry, len(docs))
		for i := range docs {
			logs[i] = models.ViewLogFromDocument(&docs[i])
		}
		return logs
	})
}

// Tutorials handles GET /engagement/tutorials: summaries of the caller's tutorials.
func (h *Handler) Tutorials(c *gin.Context) {
	all, err := h.agg.AllTutorials(c.Request.Context())
	if err != nil {
		h.aggregateFailed(c, "all tutorials", err)
		return
	}
	id, _ := middleware.CurrentIdentity(c)
	own := make([]models.TutorialSummary, 0, len(all))
	for _, s := range all {
		if s.OwnerID == id.ID {
			own = append(own, s)
		}
	}
	response.OK(c, own)
}

// Student handles GET /engagement/students/:id (the student or an instructor).
func (h *Handler) Student(c *gin.Context) {
	userID := c.Param("id")
	id, _ := middleware.CurrentIdentity(c)
	if id.ID != userID && id.Role != models.RoleInstructor {
		response.Forbidden(c, "cannot view another student's engagement")
		return
	}
	e, err := h.agg.ByStudent(c.Request.Context(), userID)
	if err != nil {
		h.aggregateFailed(c, "by student", err)
		return
	}
	response.OK(c, e)
}

// CreateExport handles POST /engagement/exports (instructor): queues a CSV
// export of the caller's tutorials.
func (h *Handler) CreateExport(c *gin.Context) {
	if h.queue == nil || h.exports == nil {
		response.ServiceUnavailable(c, "exports are not configured")
		return
	}
	id, _ := middleware.CurrentIdentity(c)
	e, err := h.exports.Create(c.Request.Context(), id.ID)
	if err != nil {
		h.logger.Error("create export", zap.String("user_id", id.ID), zap.Error(err))
		response.SaveFailed(c)
		return
	}
	if err := h.queue.EnqueueEngagementExport(c.Request.Context(), queue.EngagementExportPayload{ExportID: e.ID, RequestedBy: id.ID}); err != nil {
		h.logger.Error("enqueue export", zap.String("export_id", e.ID), zap.Error(err))
		if ferr := h.exports.Fail(c.Request.Context(), e.ID, "could not queue export"); ferr != nil {
			h.logger.Warn("mark export failed", zap.String("export_id", e.ID), zap.Error(ferr))
		}
		response.SaveFailed(c)
		return
	}
	response.Accepted(c, e)
}

// ExportResponse is an export with its download link once completed.
type ExportResponse struct {
	models.Export
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// GetExport handles GET /engagement/exports/:id (requester only).
func (h *Handler) GetExport(c *gin.Context) {
	if h.exports == nil {
		response.ServiceUnavailable(c, "exports are not configured")
		return
	}
	e, err := h.exports.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrExportNotFound) {
			response.NotFound(c, "export")
			return
		}
		h.logger.Error("get export", zap.String("export_id", c.Param("id")), zap.Error(err))
		response.LoadFailed(c)
		return
	}
	id, _ := middleware.CurrentIdentity(c)
	if e.RequestedBy != id.ID {
		response.NotFound(c, "export")
		return
	}
	out := ExportResponse{Export: *e}
	if e.Status == models.ExportCompleted && e.S3Key != "" && h.presigner != nil {
		url, err := h.presigner.PresignExport(c.Request.Context(), e.S3Key)
		if err != nil {
			h.logger.Error("presign export", zap.String("export_id", e.ID), zap.Error(err))
			response.LoadFailed(c)
			return
		}
		out.DownloadURL = url
	}
	response.OK(c, out)
}

func (h *Handler) ownedTutorial(c *gin.Context) (*models.Tutorial, bool) {
	t, err := resolveTutorial(c.Request.Context(), h.tutorials, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "tutorial")
		} else {
			h.logger.Error("resolve tutorial", zap.String("tutorial_id", c.Param("id")), zap.Error(err))
			response.LoadFailed(c)
		}
		return nil, false
	}
	id, _ := middleware.CurrentIdentity(c)
	if t.OwnerID != id.ID {
		response.Forbidden(c, "only the owner can view this tutorial's engagement")
		return nil, false
	}
	return t, true
}

func (h *Handler) aggregateFailed(c *gin.Context, op string, err error) {
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "tutorial")
		return
	}
	h.logger.Error("engagement aggregation failed", zap.String("op", op), zap.Error(err))
	response.LoadFailed(c)
}
