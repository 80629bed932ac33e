package engagement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/learnlens/backend/internal/middleware"
	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/pkg/queue"
)

type fakeExportQueue struct {
	jobs []queue.EngagementExportPayload
}

func (q *fakeExportQueue) EnqueueEngagementExport(_ context.Context, p queue.EngagementExportPayload) error {
	q.jobs = append(q.jobs, p)
	return nil
}

type fakePresigner struct{}

func (fakePresigner) PresignExport(_ context.Context, key string) (string, error) {
	return "https://exports.example.com/" + key + "?sig=1", nil
}

func newTestHandler(t *testing.T, f *fixture, q ExportQueue) *Handler {
	return NewHandler(HandlerConfig{
		Aggregator: f.aggregator(t, "A", "B", "C"),
		Tutorials:  f.tutorials,
		Store:      f.store,
		Exports:    NewExportRepository(f.store),
		Queue:      q,
		Presigner:  fakePresigner{},
		Logger:     zaptest.NewLogger(t),
	})
}

func serveAs(h http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func routerAs(h *Handler, id models.Identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(middleware.ContextIdentity, id) })
	r.GET("/tutorials/:id/engagement", h.Tutorial)
	r.GET("/engagement/tutorials", h.Tutorials)
	r.GET("/engagement/students/:id", h.Student)
	r.POST("/engagement/exports", h.CreateExport)
	r.GET("/engagement/exports/:id", h.GetExport)
	return r
}

func TestTutorialEngagementOwnerOnly(t *testing.T) {
	f := newFixture()
	tut := f.tutorial(t, "Goroutines", "inst-1")
	f.watched(t, "A", tut.ID, 30)
	f.watched(t, "B", tut.ID, 10)
	f.watched(t, "C", tut.ID, 50)
	h := newTestHandler(t, f, nil)

	owner := routerAs(h, models.Identity{ID: "inst-1", Role: models.RoleInstructor})
	w := serveAs(owner, http.MethodGet, "/tutorials/"+tut.ID+"/engagement")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Data TutorialReport `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.Summary.TotalViewers != 3 || resp.Data.Summary.AverageWatchTime != 30 {
		t.Errorf("summary = %+v", resp.Data.Summary)
	}
	if len(resp.Data.Students) != 3 || resp.Data.Students[0].UserID != "C" || resp.Data.Students[0].Level != LevelVeryEngaged {
		t.Errorf("students = %+v", resp.Data.Students)
	}

	stranger := routerAs(h, models.Identity{ID: "inst-2", Role: models.RoleInstructor})
	if w := serveAs(stranger, http.MethodGet, "/tutorials/"+tut.ID+"/engagement"); w.Code != http.StatusForbidden {
		t.Errorf("non-owner status = %d, want 403", w.Code)
	}
	if w := serveAs(owner, http.MethodGet, "/tutorials/missing/engagement"); w.Code != http.StatusNotFound {
		t.Errorf("missing tutorial status = %d, want 404", w.Code)
	}
}

func TestTutorialsListsOwnOnly(t *testing.T) {
	f := newFixture()
	mine := f.tutorial(t, "Mine", "inst-1")
	f.tutorial(t, "Theirs", "inst-2")
	h := newTestHandler(t, f, nil)

	w := serveAs(routerAs(h, models.Identity{ID: "inst-1", Role: models.RoleInstructor}), http.MethodGet, "/engagement/tutorials")
	var resp struct {
		Data []models.TutorialSummary `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 1 || resp.Data[0].TutorialID != mine.ID {
		t.Errorf("summaries = %+v", resp.Data)
	}
}

func TestStudentEngagementAccess(t *testing.T) {
	f := newFixture()
	h := newTestHandler(t, f, nil)

	tests := []struct {
		name string
		as   models.Identity
		want int
	}{
		{"self", models.Identity{ID: "A", Role: models.RoleStudent}, http.StatusOK},
		{"instructor", models.Identity{ID: "inst-1", Role: models.RoleInstructor}, http.StatusOK},
		{"other student", models.Identity{ID: "B", Role: models.RoleStudent}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := serveAs(routerAs(h, tt.as), http.MethodGet, "/engagement/students/A"); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestExports(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	q := &fakeExportQueue{}
	h := newTestHandler(t, f, q)
	inst := routerAs(h, models.Identity{ID: "inst-1", Role: models.RoleInstructor})

	w := serveAs(inst, http.MethodPost, "/engagement/exports")
	if w.Code != http.StatusAccepted {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	if len(q.jobs) != 1 || q.jobs[0].RequestedBy != "inst-1" {
		t.Fatalf("jobs = %+v", q.jobs)
	}
	exportID := q.jobs[0].ExportID

	if w := serveAs(routerAs(h, models.Identity{ID: "inst-2"}), http.MethodGet, "/engagement/exports/"+exportID); w.Code != http.StatusNotFound {
		t.Errorf("other user's export status = %d, want 404", w.Code)
	}

	if err := h.exports.Complete(ctx, exportID, "engagement-exports/x.csv"); err != nil {
		t.Fatal(err)
	}
	w = serveAs(inst, http.MethodGet, "/engagement/exports/"+exportID)
	var resp struct {
		Data ExportResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.Status != models.ExportCompleted || resp.Data.DownloadURL == "" || resp.Data.CompletedAt == nil {
		t.Errorf("export = %+v", resp.Data)
	}
}

func TestExportsUnconfigured(t *testing.T) {
	f := newFixture()
	h := NewHandler(HandlerConfig{Aggregator: f.aggregator(t), Tutorials: f.tutorials, Store: f.store})
	w := serveAs(routerAs(h, models.Identity{ID: "inst-1"}), http.MethodPost, "/engagement/exports")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}
