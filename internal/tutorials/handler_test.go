package tutorials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/learnlens/backend/internal/middleware"
	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/pkg/docstore"
	"github.com/learnlens/backend/pkg/queue"
)

type recordingPublisher struct {
	published []queue.TutorialPublishedPayload
}

func (p *recordingPublisher) EnqueueTutorialPublished(_ context.Context, pl queue.TutorialPublishedPayload) error {
	p.published = append(p.published, pl)
	return nil
}

func newTestRouter(t *testing.T, repo *Repository, as models.Identity) (*gin.Engine, *recordingPublisher) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	pub := &recordingPublisher{}
	h := NewHandler(repo, pub, zaptest.NewLogger(t))

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextIdentity, as)
		c.Next()
	})
	r.POST("/tutorials", h.Create)
	r.GET("/tutorials", h.List)
	r.GET("/tutorials/:id", h.Get)
	r.DELETE("/tutorials/:id", h.Delete)
	return r, pub
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateTutorial(t *testing.T) {
	owner := models.Identity{ID: "inst-1", DisplayName: "Ada", Role: models.RoleInstructor}

	tests := []struct {
		name       string
		body       CreateRequest
		wantStatus int
	}{
		{"valid", CreateRequest{Title: "Go basics", VideoURL: "https://youtu.be/dQw4w9WgXcQ"}, http.StatusCreated},
		{"invalid url", CreateRequest{Title: "Go basics", VideoURL: "https://example.com/v.mp4"}, http.StatusBadRequest},
		{"missing title", CreateRequest{VideoURL: "https://youtu.be/dQw4w9WgXcQ"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewRepository(docstore.NewMemoryStore(nil))
			r, pub := newTestRouter(t, repo, owner)
			w := do(r, http.MethodPost, "/tutorials", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusCreated {
				if len(pub.published) != 0 {
					t.Errorf("published %d notifications for a rejected tutorial", len(pub.published))
				}
				return
			}

			var resp struct {
				Data models.Tutorial `json:"data"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			got, err := repo.Get(context.Background(), resp.Data.ID)
			if err != nil {
				t.Fatalf("stored tutorial: %v", err)
			}
			if got.OwnerID != "inst-1" || got.OwnerName != "Ada" {
				t.Errorf("owner = %q/%q", got.OwnerID, got.OwnerName)
			}
			if got.VideoURL != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
				t.Errorf("videoUrl = %q", got.VideoURL)
			}
			if len(pub.published) != 1 || pub.published[0].TutorialID != got.ID {
				t.Errorf("published = %+v", pub.published)
			}
		})
	}
}

func TestDeleteTutorialOwnerOnly(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(docstore.NewMemoryStore(nil))
	r, _ := newTestRouter(t, repo, models.Identity{ID: "inst-2", Role: models.RoleInstructor})

	tut := &models.Tutorial{Title: "T", OwnerID: "inst-1"}
	if err := repo.Create(ctx, tut); err != nil {
		t.Fatal(err)
	}

	if w := do(r, http.MethodDelete, "/tutorials/"+tut.ID, nil); w.Code != http.StatusForbidden {
		t.Fatalf("non-owner delete status = %d, want 403", w.Code)
	}
	if w := do(r, http.MethodDelete, "/tutorials/missing", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing delete status = %d, want 404", w.Code)
	}

	r, _ = newTestRouter(t, repo, models.Identity{ID: "inst-1", Role: models.RoleInstructor})
	if w := do(r, http.MethodDelete, "/tutorials/"+tut.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("owner delete status = %d, want 204", w.Code)
	}
	if _, err := repo.Get(ctx, tut.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete err = %v, want ErrNotFound", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(docstore.NewMemoryStore(nil))
	for i, title := range []string{"old", "mid", "new"} {
		tut := &models.Tutorial{Title: title, OwnerID: "o", CreatedAt: time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC)}
		if err := repo.Create(ctx, tut); err != nil {
			t.Fatal(err)
		}
	}
	list, err := repo.List(ctx, "o")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].Title != "new" || list[2].Title != "old" {
		t.Errorf("order = %v", titles(list))
	}
	if others, _ := repo.List(ctx, "nobody"); len(others) != 0 {
		t.Errorf("List(nobody) = %d tutorials", len(others))
	}
}

func titles(list []models.Tutorial) []string {
	out := make([]string, len(list))
	for i, t := range list {
		out[i] = t.Title
	}
	return out
}
