package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/yungbote/sceneforge-backend/internal/logger"
	"github.com/yungbote/sceneforge-backend/internal/services"
	"github.com/yungbote/sceneforge-backend/internal/types"
)

// RenderContext is the capability bundle a pipeline renders with. TempDir
// is per-generation (or per-regeneration) and removed by the caller when
// the phase exits; pipelines may freely litter inside it.
type RenderContext struct {
	Bucket     services.BucketService
	Media      services.MediaToolsService
	OpenAI     services.OpenAIClient
	Downloader services.AssetDownloader
	TempDir    string
	Log        *logger.Logger
	Progress   func(pct int)
}

func (rc *RenderContext) progress(pct int) {
	if rc.Progress != nil {
		rc.Progress(pct)
	}
}

// RenderedScene is a pipeline's output: the uploaded asset plus whatever
// the pipeline learned while rendering.
type RenderedScene struct {
	AssetPath       string
	AssetURL        string
	DurationSeconds float64
	DebugFrameURLs  []string
}

// Pipeline renders one scene kind. New kinds are added by registration
// only; nothing in the orchestrator switches on kind.
type Pipeline interface {
	CanHandle(kind types.SceneKind) bool
	Render(ctx context.Context, project *types.SceneProject, rc *RenderContext) (*RenderedScene, error)
}

// ErrNoPipeline is returned by the registry when no registered pipeline
// handles the requested kind.
var ErrNoPipeline = fmt.Errorf("no pipeline registered for scene kind")

type Registry struct {
	mu        sync.RWMutex
	pipelines []Pipeline
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(p Pipeline) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines = append(r.pipelines, p)
}

// Select returns the first registered pipeline that handles the kind.
func (r *Registry) Select(kind types.SceneKind) (Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pipelines {
		if p.CanHandle(kind) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoPipeline, kind)
}

func (r *Registry) Render(ctx context.Context, project *types.SceneProject, rc *RenderContext) (*RenderedScene, error) {
	p, err := r.Select(project.Kind)
	if err != nil {
		return nil, err
	}
	return p.Render(ctx, project, rc)
}

// SceneAssetKey is the idempotent object-store key for a rendered scene.
func SceneAssetKey(sceneID string) string {
	return fmt.Sprintf("scene-generation/scenes/%s/rendered.mp4", sceneID)
}

// DebugFrameKey addresses one sampled banner frame.
func DebugFrameKey(sceneID string, frameIndex int) string {
	return fmt.Sprintf("scene-generation/debug-frames/%s/frame-%06d.png", sceneID, frameIndex)
}

// DebugFramesBasePath is what the debug-frames endpoint reports.
func DebugFramesBasePath(sceneID string) string {
	return fmt.Sprintf("scene-generation/debug-frames/%s/", sceneID)
}

// fetchToFile materialises an input asset locally, preferring the direct
// URL and falling back to the object-store path.
func fetchToFile(ctx context.Context, rc *RenderContext, url, storagePath, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", dest, err)
	}
	if url != "" {
		if err := rc.Downloader.FetchToFile(ctx, url, dest); err == nil {
			return nil
		} else if storagePath == "" {
			return err
		} else if rc.Log != nil {
			rc.Log.Warn("url fetch failed, falling back to storage path", "url", url, "path", storagePath, "error", err)
		}
	}
	if storagePath == "" {
		return fmt.Errorf("asset has neither url nor storage path")
	}
	raw, err := rc.Bucket.DownloadFile(ctx, storagePath)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, raw, 0o644)
}

// uploadRendered pushes the finished clip and resolves its public URL.
func uploadRendered(ctx context.Context, rc *RenderContext, sceneID, localPath string) (string, string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", "", fmt.Errorf("open rendered clip: %w", err)
	}
	defer f.Close()
	key := SceneAssetKey(sceneID)
	if err := rc.Bucket.UploadFile(ctx, key, f); err != nil {
		return "", "", fmt.Errorf("upload rendered clip: %w", err)
	}
	return key, rc.Bucket.GetPublicURL(key), nil
}
