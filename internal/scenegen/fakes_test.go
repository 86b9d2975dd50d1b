package scenegen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/sceneforge-backend/internal/scenegen/pipeline"
	"github.com/yungbote/sceneforge-backend/internal/services"
	"github.com/yungbote/sceneforge-backend/internal/types"
)

// In-memory repo fakes. UpdateFields mirrors the column-name contract the
// orchestrator writes with.

type fakeGenerationRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.SceneGeneration

	// afterUpdate runs under the lock after each UpdateFields; tests use it
	// to inject mid-run state changes like cancellation.
	afterUpdate func(g *types.SceneGeneration, updates map[string]any)
}

func newFakeGenerationRepo() *fakeGenerationRepo {
	return &fakeGenerationRepo{rows: make(map[uuid.UUID]*types.SceneGeneration)}
}

func (r *fakeGenerationRepo) Create(_ context.Context, _ *gorm.DB, g *types.SceneGeneration) (*types.SceneGeneration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	cp := *g
	r.rows[g.ID] = &cp
	return g, nil
}

func (r *fakeGenerationRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.SceneGeneration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (r *fakeGenerationRepo) GetByIDWithScenes(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SceneGeneration, error) {
	return r.GetByID(ctx, tx, id)
}

func (r *fakeGenerationRepo) List(_ context.Context, _ *gorm.DB, status, phase string, limit int) ([]*types.SceneGeneration, error) {
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
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeGenerationRepo) UpdateFields(_ context.Context, _ *gorm.DB, id uuid.UUID, updates map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.rows[id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range updates {
		switch k {
		case "status":
			g.Status = v.(types.GenerationStatus)
		case "phase":
			g.Phase = v.(types.GenerationPhase)
		case "progress":
			g.Progress = v.(int)
		case "enriched_context":
			g.EnrichedContext = v.(datatypes.JSON)
		case "scenario":
			g.Scenario = v.(datatypes.JSON)
		case "scene_projects":
			g.SceneProjects = v.(datatypes.JSON)
		case "result_path":
			g.ResultPath = v.(string)
		case "result_url":
			g.ResultURL = v.(string)
		case "error":
			g.Error = v.(string)
		case "completed_at":
			g.CompletedAt = v.(*time.Time)
		case "updated_at":
		}
	}
	if r.afterUpdate != nil {
		r.afterUpdate(g, updates)
	}
	return nil
}

func (r *fakeGenerationRepo) Cancel(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SceneGeneration, error) {
	g, err := r.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !g.Status.Terminal() {
		if err := r.UpdateFields(ctx, tx, id, map[string]any{"status": types.GenerationStatusCancelled}); err != nil {
			return nil, err
		}
	}
	return r.GetByID(ctx, tx, id)
}

func (r *fakeGenerationRepo) ReplaceScenario(ctx context.Context, tx *gorm.DB, id uuid.UUID, scenario datatypes.JSON) error {
	g, err := r.GetByID(ctx, tx, id)
	if err != nil {
		return err
	}
	if g.Status != types.GenerationStatusWaitingForReview {
		return ErrInvalidState
	}
	return r.UpdateFields(ctx, tx, id, map[string]any{"scenario": scenario})
}

type fakeSceneRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.Scene
}

func newFakeSceneRepo() *fakeSceneRepo {
	return &fakeSceneRepo{rows: make(map[uuid.UUID]*types.Scene)}
}

func (r *fakeSceneRepo) CreateBatch(_ context.Context, _ *gorm.DB, scenes []*types.Scene) ([]*types.Scene, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range scenes {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		cp := *s
		r.rows[s.ID] = &cp
	}
	return scenes, nil
}

func (r *fakeSceneRepo) list(generationID uuid.UUID, filter func(*types.Scene) bool) []*types.Scene {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Scene
	for _, s := range r.rows {
		if s.GenerationID != generationID {
			continue
		}
		if filter != nil && !filter(s) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out
}

func (r *fakeSceneRepo) ListByGeneration(_ context.Context, _ *gorm.DB, generationID uuid.UUID) ([]*types.Scene, error) {
	return r.list(generationID, nil), nil
}

func (r *fakeSceneRepo) ListCompleted(_ context.Context, _ *gorm.DB, generationID uuid.UUID) ([]*types.Scene, error) {
	return r.list(generationID, func(s *types.Scene) bool {
		return s.Status == types.SceneStatusCompleted && s.RenderedAssetPath != ""
	}), nil
}

func (r *fakeSceneRepo) GetBySceneID(_ context.Context, _ *gorm.DB, generationID uuid.UUID, sceneID string) (*types.Scene, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.rows {
		if s.GenerationID == generationID && s.SceneID == sceneID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeSceneRepo) UpdateFields(_ context.Context, _ *gorm.DB, id uuid.UUID, updates map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range updates {
		switch k {
		case "status":
			s.Status = v.(types.SceneStatus)
		case "progress":
			s.Progress = v.(int)
		case "rendered_asset_path":
			s.RenderedAssetPath = v.(string)
		case "rendered_asset_url":
			s.RenderedAssetURL = v.(string)
		case "error":
			s.Error = v.(string)
		case "scene_project":
			s.SceneProject = v.(datatypes.JSON)
		case "updated_at":
		}
	}
	return nil
}

func (r *fakeSceneRepo) ResetForRegenerate(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.UpdateFields(ctx, tx, id, map[string]any{
		"status":   types.SceneStatusPending,
		"progress": 0,
		"error":    "",
	})
}

// Service fakes.

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte)}
}

func (b *fakeBucket) UploadFile(_ context.Context, key string, file io.Reader) error {
	raw, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = raw
	return nil
}

func (b *fakeBucket) DownloadFile(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return raw, nil
}

func (b *fakeBucket) DeleteFile(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *fakeBucket) GetPublicURL(key string) string {
	return "https://cdn.test/" + key
}

type fakeMedia struct {
	workRoot string
}

func (m *fakeMedia) AssertReady(context.Context) error { return nil }

func (m *fakeMedia) ProbeVideo(context.Context, string) (*services.VideoProbe, error) {
	return &services.VideoProbe{DurationSeconds: 4, FPS: 30, Width: 1920, Height: 1080}, nil
}

func (m *fakeMedia) ExtractAudio(_ context.Context, _ string, outPath string, _ services.AudioExtractOptions) (string, error) {
	return outPath, os.WriteFile(outPath, []byte("audio"), 0o644)
}

func (m *fakeMedia) TrimAndFit(_ context.Context, _ string, outPath string, _, _ float64, _, _, _ int) error {
	return os.WriteFile(outPath, []byte("trimmed"), 0o644)
}

func (m *fakeMedia) EncodeFrameSequence(_ context.Context, _ string, _ int, outPath string) error {
	return os.WriteFile(outPath, []byte("encoded"), 0o644)
}

func (m *fakeMedia) OverlayImage(_ context.Context, _ string, _ string, outPath string) error {
	return os.WriteFile(outPath, []byte("overlaid"), 0o644)
}

func (m *fakeMedia) OverlayVideo(_ context.Context, _, _, outPath string, _, _ int, _, _ string) error {
	return os.WriteFile(outPath, []byte("pip"), 0o644)
}

func (m *fakeMedia) BlankClip(_ context.Context, outPath string, _ float64, _, _, _ int) error {
	return os.WriteFile(outPath, []byte("blank"), 0o644)
}

func (m *fakeMedia) Concat(_ context.Context, _ string, outPath string) error {
	return os.WriteFile(outPath, []byte("final"), 0o644)
}

func (m *fakeMedia) WriteTempFile(_ context.Context, data []byte, suffix string) (string, func(), error) {
	f, err := os.CreateTemp(m.workRoot, "tmp-*"+suffix)
	if err != nil {
		return "", func() {}, err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", func() {}, err
	}
	return f.Name(), func() { _ = os.Remove(f.Name()) }, nil
}

func (m *fakeMedia) MakeWorkDir(prefix string) (string, func(), error) {
	dir, err := os.MkdirTemp(m.workRoot, prefix+"-")
	if err != nil {
		return "", func() {}, err
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

type fakeOpenAI struct {
	scenarioJSON string
	textErr      error
}

func (c *fakeOpenAI) GenerateText(context.Context, string, string) (string, error) {
	if c.textErr != nil {
		return "", c.textErr
	}
	return c.scenarioJSON, nil
}

func (c *fakeOpenAI) DescribeImage(context.Context, string, string) (string, error) {
	return "a test image", nil
}

func (c *fakeOpenAI) DescribeImageBytes(context.Context, []byte, string, string) (string, error) {
	return "a test image", nil
}

func (c *fakeOpenAI) GenerateImage(context.Context, string, string) ([]byte, error) {
	return nil, fmt.Errorf("image generation not available in tests")
}

type fakeDownloader struct{}

func (d *fakeDownloader) Fetch(_ context.Context, url string) ([]byte, error) {
	return []byte("fetched:" + url), nil
}

func (d *fakeDownloader) FetchToFile(_ context.Context, url string, outPath string) error {
	return os.WriteFile(outPath, []byte("fetched:"+url), 0o644)
}

// fakePipeline handles every kind and uploads a marker asset.
type fakePipeline struct {
	renderErr error

	mu       sync.Mutex
	rendered []string
}

func (p *fakePipeline) CanHandle(types.SceneKind) bool { return true }

func (p *fakePipeline) Render(ctx context.Context, project *types.SceneProject, rc *pipeline.RenderContext) (*pipeline.RenderedScene, error) {
	if p.renderErr != nil {
		return nil, p.renderErr
	}
	p.mu.Lock()
	p.rendered = append(p.rendered, project.SceneID)
	p.mu.Unlock()

	key := pipeline.SceneAssetKey(project.SceneID)
	if err := rc.Bucket.UploadFile(ctx, key, bytes.NewReader([]byte("clip"))); err != nil {
		return nil, err
	}
	return &pipeline.RenderedScene{
		AssetPath:       key,
		AssetURL:        rc.Bucket.GetPublicURL(key),
		DurationSeconds: project.ScenarioItem.DurationSeconds,
	}, nil
}

// eventRecorder captures hub traffic.
type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (e *eventRecorder) record(kind string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, kind)
}

func (e *eventRecorder) has(kind string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev == kind {
			return true
		}
	}
	return false
}

func (e *eventRecorder) PublishProgress(uuid.UUID, types.GenerationPhase, int) { e.record("progress") }
func (e *eventRecorder) PublishPhaseChange(uuid.UUID, types.GenerationPhase, int) {
	e.record("phase-change")
}
func (e *eventRecorder) PublishSceneComplete(uuid.UUID, string, string) { e.record("scene-complete") }
func (e *eventRecorder) PublishGenerationComplete(uuid.UUID, string) {
	e.record("generation-complete")
}
func (e *eventRecorder) PublishError(uuid.UUID, string) { e.record("error") }
