package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/sceneforge-backend/internal/jobs"
	"github.com/yungbote/sceneforge-backend/internal/logger"
	"github.com/yungbote/sceneforge-backend/internal/repos"
	"github.com/yungbote/sceneforge-backend/internal/types"
)

type memGenerationRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.SceneGeneration
}

func newMemGenerationRepo() *memGenerationRepo {
	return &memGenerationRepo{rows: make(map[uuid.UUID]*types.SceneGeneration)}
}

func (r *memGenerationRepo) Create(_ context.Context, _ *gorm.DB, g *types.SceneGeneration) (*types.SceneGeneration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	cp := *g
	r.rows[g.ID] = &cp
	return g, nil
}

func (r *memGenerationRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.SceneGeneration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.rows[id]
	if !ok {
		return nil, repos.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (r *memGenerationRepo) GetByIDWithScenes(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SceneGeneration, error) {
	return r.GetByID(ctx, tx, id)
}

func (r *memGenerationRepo) List(_ context.Context, _ *gorm.DB, status, phase string, limit int) ([]*types.SceneGeneration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.SceneGeneration
	for _, g := range r.rows {
		if status != "" && string(g.Status) != status {
			continue
		}
		if phase != "" && string(g.Phase) != phase {
			continue
		}
		cp := *g
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memGenerationRepo) UpdateFields(_ context.Context, _ *gorm.DB, id uuid.UUID, updates map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return repos.ErrNotFound
	}
	return nil
}

func (r *memGenerationRepo) Cancel(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.SceneGeneration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.rows[id]
	if !ok {
		return nil, repos.ErrNotFound
	}
	if !g.Status.Terminal() {
		g.Status = types.GenerationStatusCancelled
	}
	cp := *g
	return &cp, nil
}

func (r *memGenerationRepo) ReplaceScenario(_ context.Context, _ *gorm.DB, id uuid.UUID, scenario datatypes.JSON) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.rows[id]
	if !ok {
		return repos.ErrNotFound
	}
	if g.Status != types.GenerationStatusWaitingForReview {
		return repos.ErrInvalidState
	}
	g.Scenario = scenario
	return nil
}

type memSceneRepo struct {
	mu   sync.Mutex
	rows []*types.Scene
}

func (r *memSceneRepo) CreateBatch(_ context.Context, _ *gorm.DB, scenes []*types.Scene) ([]*types.Scene, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, scenes...)
	return scenes, nil
}

func (r *memSceneRepo) ListByGeneration(_ context.Context, _ *gorm.DB, generationID uuid.UUID) ([]*types.Scene, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Scene
	for _, s := range r.rows {
		if s.GenerationID == generationID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memSceneRepo) ListCompleted(ctx context.Context, tx *gorm.DB, generationID uuid.UUID) ([]*types.Scene, error) {
	return r.ListByGeneration(ctx, tx, generationID)
}

func (r *memSceneRepo) GetBySceneID(_ context.Context, _ *gorm.DB, generationID uuid.UUID, sceneID string) (*types.Scene, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.rows {
		if s.GenerationID == generationID && s.SceneID == sceneID {
			return s, nil
		}
	}
	return nil, repos.ErrNotFound
}

func (r *memSceneRepo) UpdateFields(context.Context, *gorm.DB, uuid.UUID, map[string]any) error {
	return nil
}

func (r *memSceneRepo) ResetForRegenerate(context.Context, *gorm.DB, uuid.UUID) error {
	return nil
}

type memQueue struct {
	mu      sync.Mutex
	jobs    []*jobs.Job
	removed []uuid.UUID
}

func (q *memQueue) Submit(_ context.Context, job *jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *memQueue) RemoveForGeneration(_ context.Context, generationID uuid.UUID) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removed = append(q.removed, generationID)
	return 0, nil
}

func (q *memQueue) Ping(context.Context) error { return nil }

func (q *memQueue) lastJob() *jobs.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil
	}
	return q.jobs[len(q.jobs)-1]
}

type handlerFixture struct {
	router      *gin.Engine
	generations *memGenerationRepo
	scenes      *memSceneRepo
	queue       *memQueue
}

func newFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	f := &handlerFixture{
		generations: newMemGenerationRepo(),
		scenes:      &memSceneRepo{},
		queue:       &memQueue{},
	}
	h := NewSceneGenHandler(f.generations, f.scenes, f.queue, log)

	r := gin.New()
	api := r.Group("/api/v1/scenes")
	api.POST("/generate", h.Generate)
	api.GET("", h.List)
	api.GET("/:id", h.Get)
	api.GET("/:id/scenario", h.GetScenario)
	api.PUT("/:id/scenario", h.PutScenario)
	api.DELETE("/:id", h.Cancel)
	api.POST("/:id/continue", h.Continue)
	api.POST("/:id/scenes/:sceneId/regenerate", h.RegenerateScene)
	f.router = r
	return f
}

func (f *handlerFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *handlerFixture) seed(status types.GenerationStatus) uuid.UUID {
	g := &types.SceneGeneration{
		ID:     uuid.New(),
		Prompt: "seeded",
		Status: status,
	}
	_, _ = f.generations.Create(context.Background(), nil, g)
	return g.ID
}

func TestGenerateCreatesAndQueues(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/api/v1/scenes/generate", map[string]any{
		"prompt": "make a teaser",
		"videos": []map[string]string{{"id": "vid-1", "url": "https://example.com/v.mp4"}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Progress int    `json:"progress"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ID == "" || body.Status == "" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	job := f.queue.lastJob()
	if job == nil || job.Kind != jobs.JobKindGenerate {
		t.Fatalf("generate job not queued: %+v", job)
	}
}

func TestGenerateRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/api/v1/scenes/generate", map[string]any{
		"videos": []map[string]string{{"id": ""}},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d", w.Code)
	}
	var envelope ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Code != "validation_failed" || len(envelope.Error.Details) == 0 {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	if f.queue.lastJob() != nil {
		t.Fatal("job queued for invalid request")
	}
}

func TestGetUnknownGeneration(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/v1/scenes/"+uuid.NewString(), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d", w.Code)
	}
}

func TestGetRejectsMalformedID(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/v1/scenes/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d", w.Code)
	}
}

func TestPutScenarioOutsideReviewRejected(t *testing.T) {
	f := newFixture(t)
	id := f.seed(types.GenerationStatusProcessing)
	w := f.do(http.MethodPut, "/api/v1/scenes/"+id.String()+"/scenario", map[string]any{
		"timeline": []map[string]any{
			{"id": "scene-1", "kind": "banner", "durationSeconds": 3, "detailedRequest": map[string]any{}},
		},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
}

func TestPutScenarioRejectsInvalidTimeline(t *testing.T) {
	f := newFixture(t)
	id := f.seed(types.GenerationStatusWaitingForReview)
	w := f.do(http.MethodPut, "/api/v1/scenes/"+id.String()+"/scenario", map[string]any{
		"timeline": []map[string]any{},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d", w.Code)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	id := f.seed(types.GenerationStatusProcessing)

	for i := 0; i < 2; i++ {
		w := f.do(http.MethodDelete, "/api/v1/scenes/"+id.String(), nil)
		if w.Code != http.StatusOK {
			t.Fatalf("cancel %d: status %d", i, w.Code)
		}
	}
	if len(f.queue.removed) != 2 {
		t.Fatalf("queue cleanup calls: %d", len(f.queue.removed))
	}
}

func TestCancelLeavesCompletedGenerationAlone(t *testing.T) {
	f := newFixture(t)
	id := f.seed(types.GenerationStatusCompleted)

	w := f.do(http.MethodDelete, "/api/v1/scenes/"+id.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var body struct {
		Status types.GenerationStatus `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != types.GenerationStatusCompleted {
		t.Fatalf("completed generation rewritten to %q", body.Status)
	}
}

func TestContinueOnlyFromReviewStates(t *testing.T) {
	f := newFixture(t)

	id := f.seed(types.GenerationStatusProcessing)
	w := f.do(http.MethodPost, "/api/v1/scenes/"+id.String()+"/continue", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d", w.Code)
	}

	id = f.seed(types.GenerationStatusWaitingForReview)
	w = f.do(http.MethodPost, "/api/v1/scenes/"+id.String()+"/continue", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	job := f.queue.lastJob()
	if job == nil || job.Kind != jobs.JobKindContinue {
		t.Fatalf("continue job not queued: %+v", job)
	}
}

func TestRegenerateQueuesSceneJob(t *testing.T) {
	f := newFixture(t)
	id := f.seed(types.GenerationStatusWaitingForSceneReview)
	_, _ = f.scenes.CreateBatch(context.Background(), nil, []*types.Scene{
		{ID: uuid.New(), GenerationID: id, SceneID: "scene-1", Kind: types.SceneKindBanner},
	})

	w := f.do(http.MethodPost, "/api/v1/scenes/"+id.String()+"/scenes/scene-1/regenerate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	job := f.queue.lastJob()
	if job == nil || job.Kind != jobs.JobKindRegenerateScene || job.SceneID != "scene-1" {
		t.Fatalf("regenerate job not queued: %+v", job)
	}

	// Unknown scene id is a 404.
	w = f.do(http.MethodPost, "/api/v1/scenes/"+id.String()+"/scenes/ghost/regenerate", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d", w.Code)
	}
}
