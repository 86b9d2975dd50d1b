package scenegen

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/sceneforge-backend/internal/scenegen/pipeline"
	"github.com/yungbote/sceneforge-backend/internal/types"
)

// runPhase3 renders every pending scene, at most SceneConcurrency at a
// time. One scene failing marks that scene failed and keeps going;
// phase 4 decides whether anything survived.
func (o *orchestrator) runPhase3(ctx context.Context, generationID uuid.UUID) error {
	scenes, err := o.deps.Scenes.ListByGeneration(ctx, nil, generationID)
	if err != nil {
		return err
	}
	pending := make([]*types.Scene, 0, len(scenes))
	for _, s := range scenes {
		if s.Status != types.SceneStatusCompleted {
			pending = append(pending, s)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	workDir, cleanup, err := o.deps.Media.MakeWorkDir("gen-" + generationID.String()[:8])
	if err != nil {
		return err
	}
	defer cleanup()

	total := len(scenes)
	var done atomic.Int64
	done.Store(int64(total - len(pending)))

	var g errgroup.Group
	g.SetLimit(o.deps.SceneConcurrency)
	for _, scene := range pending {
		scene := scene
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if stop, err := o.stopIfCancelled(ctx, generationID); err != nil {
				return err
			} else if stop {
				return context.Canceled
			}

			defer func() {
				if r := recover(); r != nil {
					o.log.Error("scene render panicked", "scene", scene.SceneID, "panic", r)
					o.markSceneFailed(ctx, scene, fmt.Errorf("render panicked: %v", r))
				}
				n := done.Add(1)
				o.reportPhaseProgress(ctx, generationID, types.GenerationPhase3, int(n)*100/total)
			}()

			project, err := types.SceneProjectFromJSON(scene.SceneProject)
			if err != nil {
				o.markSceneFailed(ctx, scene, err)
				return nil
			}
			if err := o.renderScene(ctx, generationID, scene, project, workDir); err != nil {
				o.markSceneFailed(ctx, scene, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// renderScene runs one scene through its pipeline and records the result.
// Shared by phase 3 and the regenerate path.
func (o *orchestrator) renderScene(ctx context.Context, generationID uuid.UUID, scene *types.Scene, project *types.SceneProject, workDir string) error {
	if err := o.deps.Scenes.UpdateFields(ctx, nil, scene.ID, map[string]any{
		"status":   types.SceneStatusProcessing,
		"progress": 0,
		"error":    "",
	}); err != nil {
		return err
	}

	rc := &pipeline.RenderContext{
		Bucket:     o.deps.Bucket,
		Media:      o.deps.Media,
		OpenAI:     o.deps.OpenAI,
		Downloader: o.deps.Downloader,
		TempDir:    workDir,
		Log:        o.log,
		Progress: func(pct int) {
			if err := o.deps.Scenes.UpdateFields(ctx, nil, scene.ID, map[string]any{
				"progress": pct,
			}); err != nil {
				o.log.Warn("scene progress write failed", "scene", scene.SceneID, "error", err)
			}
		},
	}

	rendered, err := o.deps.Pipelines.Render(ctx, project, rc)
	if err != nil {
		return err
	}

	updates := map[string]any{
		"status":              types.SceneStatusCompleted,
		"progress":            100,
		"rendered_asset_path": rendered.AssetPath,
		"rendered_asset_url":  rendered.AssetURL,
	}
	if len(rendered.DebugFrameURLs) > 0 {
		project.DebugFrameURLs = rendered.DebugFrameURLs
		if raw, err := project.ToJSON(); err == nil {
			updates["scene_project"] = raw
		}
	}
	if err := o.deps.Scenes.UpdateFields(ctx, nil, scene.ID, updates); err != nil {
		return err
	}

	o.deps.Events.PublishSceneComplete(generationID, scene.SceneID, rendered.AssetURL)
	o.log.Info("scene rendered", "generation", generationID, "scene", scene.SceneID, "kind", scene.Kind)
	return nil
}

func (o *orchestrator) markSceneFailed(ctx context.Context, scene *types.Scene, cause error) {
	o.log.Error("scene render failed", "scene", scene.SceneID, "error", cause)
	if err := o.deps.Scenes.UpdateFields(ctx, nil, scene.ID, map[string]any{
		"status": types.SceneStatusFailed,
		"error":  cause.Error(),
	}); err != nil {
		o.log.Error("scene failure write failed", "scene", scene.SceneID, "error", err)
	}
}
