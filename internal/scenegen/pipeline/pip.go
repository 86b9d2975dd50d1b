package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/sceneforge-backend/internal/types"
)

// PipPipeline renders picture-in-picture: the primary clip full-frame with
// the secondary clip pinned to a corner. Without a secondary source the
// base clip ships as-is.
type PipPipeline struct {
	base *VideoPipeline
}

func NewPipPipeline(base *VideoPipeline) *PipPipeline {
	return &PipPipeline{base: base}
}

func (p *PipPipeline) CanHandle(kind types.SceneKind) bool {
	return kind == types.SceneKindPIP
}

var pipSizes = map[string][2]int{
	"small":  {320, 180},
	"medium": {480, 270},
	"large":  {640, 360},
}

func (p *PipPipeline) Render(ctx context.Context, project *types.SceneProject, rc *RenderContext) (*RenderedScene, error) {
	basePath, err := p.base.RenderBase(ctx, project, rc)
	if err != nil {
		return nil, err
	}

	outPath := basePath
	if sec := project.Inputs.SecondaryVideo; sec != nil {
		srcPath := filepath.Join(rc.TempDir, fmt.Sprintf("pip-src-%s.mp4", uuid.NewString()[:8]))
		if err := fetchToFile(ctx, rc, sec.URL, sec.Path, srcPath); err != nil {
			return nil, fmt.Errorf("fetch secondary video %s: %w", sec.ID, err)
		}

		size, ok := pipSizes[strings.ToLower(project.Extra.Size)]
		if !ok {
			size = pipSizes["small"]
		}
		pipW, pipH := size[0], size[1]

		trimmedPath := filepath.Join(rc.TempDir, fmt.Sprintf("pip-trim-%s.mp4", project.SceneID))
		rctx := project.RenderContext
		if err := rc.Media.TrimAndFit(ctx, srcPath, trimmedPath, sec.FromSeconds, sec.ToSeconds, pipW, pipH, rctx.FPS); err != nil {
			return nil, fmt.Errorf("trim secondary video %s: %w", sec.ID, err)
		}
		rc.progress(75)

		xExpr, yExpr := pipPosition(project.Extra.Position)
		outPath = filepath.Join(rc.TempDir, fmt.Sprintf("pip-%s.mp4", project.SceneID))
		if err := rc.Media.OverlayVideo(ctx, basePath, trimmedPath, outPath, pipW, pipH, xExpr, yExpr); err != nil {
			return nil, err
		}
		rc.progress(85)
	} else if rc.Log != nil {
		rc.Log.Warn("pip scene has no secondary source, shipping base clip", "scene", project.SceneID)
	}

	assetPath, assetURL, err := uploadRendered(ctx, rc, project.SceneID, outPath)
	if err != nil {
		return nil, err
	}
	probe, err := rc.Media.ProbeVideo(ctx, outPath)
	if err != nil {
		return nil, fmt.Errorf("probe rendered clip: %w", err)
	}
	rc.progress(100)

	return &RenderedScene{
		AssetPath:       assetPath,
		AssetURL:        assetURL,
		DurationSeconds: probe.DurationSeconds,
	}, nil
}

// pipPosition maps a corner name to ffmpeg overlay expressions with a
// 10px inset.
func pipPosition(position string) (string, string) {
	switch strings.ToLower(strings.TrimSpace(position)) {
	case "top-left":
		return "10", "10"
	case "bottom-left":
		return "10", "main_h-overlay_h-10"
	case "bottom-right":
		return "main_w-overlay_w-10", "main_h-overlay_h-10"
	default: // top-right
		return "main_w-overlay_w-10", "10"
	}
}
