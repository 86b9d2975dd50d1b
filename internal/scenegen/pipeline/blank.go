package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/yungbote/sceneforge-backend/internal/types"
)

// BlankPipeline renders transition and blank scenes as plain black clips
// so the final concat keeps the scenario's pacing.
type BlankPipeline struct{}

func NewBlankPipeline() *BlankPipeline { return &BlankPipeline{} }

func (p *BlankPipeline) CanHandle(kind types.SceneKind) bool {
	return kind == types.SceneKindTransition || kind == types.SceneKindBlank
}

func (p *BlankPipeline) Render(ctx context.Context, project *types.SceneProject, rc *RenderContext) (*RenderedScene, error) {
	duration := project.ScenarioItem.DurationSeconds
	if duration <= 0 {
		duration = 1
	}

	rctx := project.RenderContext
	outPath := filepath.Join(rc.TempDir, fmt.Sprintf("blank-%s.mp4", project.SceneID))
	if err := rc.Media.BlankClip(ctx, outPath, duration, rctx.Width, rctx.Height, rctx.FPS); err != nil {
		return nil, err
	}
	rc.progress(80)

	assetPath, assetURL, err := uploadRendered(ctx, rc, project.SceneID, outPath)
	if err != nil {
		return nil, err
	}
	rc.progress(100)

	return &RenderedScene{
		AssetPath:       assetPath,
		AssetURL:        assetURL,
		DurationSeconds: duration,
	}, nil
}
