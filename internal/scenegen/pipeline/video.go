package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/yungbote/sceneforge-backend/internal/types"
)

// VideoPipeline trims a window out of a user-supplied clip and fits it to
// the render geometry. Overlay and pip build on its base render.
type VideoPipeline struct{}

func NewVideoPipeline() *VideoPipeline { return &VideoPipeline{} }

func (p *VideoPipeline) CanHandle(kind types.SceneKind) bool {
	return kind == types.SceneKindVideo
}

func (p *VideoPipeline) Render(ctx context.Context, project *types.SceneProject, rc *RenderContext) (*RenderedScene, error) {
	localPath, err := p.RenderBase(ctx, project, rc)
	if err != nil {
		return nil, err
	}
	rc.progress(80)

	assetPath, assetURL, err := uploadRendered(ctx, rc, project.SceneID, localPath)
	if err != nil {
		return nil, err
	}

	// Ground-truth duration comes from the finished file, not the trim
	// window; trims near the end of a source can come up short.
	probe, err := rc.Media.ProbeVideo(ctx, localPath)
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

// RenderBase downloads, trims and fits the source clip, returning the
// local path of the result inside the temp dir.
func (p *VideoPipeline) RenderBase(ctx context.Context, project *types.SceneProject, rc *RenderContext) (string, error) {
	in := project.Inputs.Video
	if in == nil {
		return "", fmt.Errorf("scene %s: video input required", project.SceneID)
	}

	srcPath := filepath.Join(rc.TempDir, fmt.Sprintf("src-%s%s", uuid.NewString()[:8], ".mp4"))
	if err := fetchToFile(ctx, rc, in.URL, in.Path, srcPath); err != nil {
		return "", fmt.Errorf("fetch source video %s: %w", in.ID, err)
	}
	rc.progress(30)

	outPath := filepath.Join(rc.TempDir, fmt.Sprintf("base-%s.mp4", project.SceneID))
	rctx := project.RenderContext
	if err := rc.Media.TrimAndFit(ctx, srcPath, outPath, in.FromSeconds, in.ToSeconds, rctx.Width, rctx.Height, rctx.FPS); err != nil {
		return "", fmt.Errorf("trim source video %s: %w", in.ID, err)
	}
	rc.progress(60)
	return outPath, nil
}
