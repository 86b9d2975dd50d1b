package scenegen

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"gorm.io/datatypes"

	"github.com/yungbote/sceneforge-backend/internal/types"
)

const (
	renderWidth = 1920
	renderFPS   = 30
)

// runPhase2 turns the (possibly edited) scenario into one fully-resolved
// scene project per timeline item, snapshots them on the generation row,
// and creates the scene rows phase 3 will work through.
func (o *orchestrator) runPhase2(ctx context.Context, g *types.SceneGeneration) error {
	scenario, err := types.ScenarioFromJSON(g.Scenario)
	if err != nil {
		return err
	}
	if err := scenario.ValidateForRendering(); err != nil {
		return fmt.Errorf("%w: %v", ErrScenarioInvalid, err)
	}
	req, err := types.GenerationRequestFromJSON(g.Request)
	if err != nil {
		return err
	}

	rctx := buildRenderContext(g.AspectRatio)

	projects := make([]*types.SceneProject, 0, len(scenario.Timeline))
	for _, item := range scenario.Timeline {
		p, err := buildSceneProject(item, rctx, req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrScenarioInvalid, err)
		}
		projects = append(projects, p)
	}

	scenes := make([]*types.Scene, 0, len(projects))
	for i, p := range projects {
		raw, err := p.ToJSON()
		if err != nil {
			return err
		}
		scenes = append(scenes, &types.Scene{
			GenerationID: g.ID,
			SceneID:      p.SceneID,
			Kind:         p.Kind,
			OrderIndex:   i,
			Status:       types.SceneStatusPending,
			SceneProject: raw,
		})
	}

	projectsJSON, err := json.Marshal(projects)
	if err != nil {
		return fmt.Errorf("encode scene projects: %w", err)
	}

	if _, err := o.deps.Scenes.CreateBatch(ctx, nil, scenes); err != nil {
		return err
	}
	return o.deps.Generations.UpdateFields(ctx, nil, g.ID, map[string]any{
		"scene_projects": datatypes.JSON(projectsJSON),
	})
}

// buildRenderContext derives the shared frame geometry: fixed 1920 width,
// height from the aspect ratio forced even, 30 fps.
func buildRenderContext(aspectRatio float64) types.RenderContext {
	if aspectRatio <= 0 {
		aspectRatio = types.DefaultAspectRatio
	}
	height := int(math.Round(renderWidth / aspectRatio))
	if height%2 != 0 {
		height--
	}
	if height < 2 {
		height = 2
	}
	return types.RenderContext{
		AspectRatio: aspectRatio,
		Width:       renderWidth,
		Height:      height,
		FPS:         renderFPS,
	}
}

func buildSceneProject(item types.TimelineItem, rctx types.RenderContext, req *types.GenerationRequest) (*types.SceneProject, error) {
	dr := item.DetailedRequest
	if dr == nil {
		dr = &types.DetailedRequest{}
	}

	p := &types.SceneProject{
		SceneID:       item.ID,
		Kind:          item.Kind,
		ScenarioItem:  item,
		RenderContext: rctx,
		Extra: types.SceneExtra{
			LayoutHint:     dr.LayoutHint,
			TextContent:    dr.TextContent,
			AnimationHints: dr.AnimationHints,
			VisualStyle:    dr.VisualStyle,
			AudioStrategy:  dr.AudioStrategy,
			ImageHints:     dr.ImageHints,
		},
	}

	if item.Kind.RequiresSourceVideo() {
		src := findVideo(req.Videos, item.SourceVideoID)
		if src == nil {
			return nil, fmt.Errorf("scene %s references unknown video %q", item.ID, item.SourceVideoID)
		}
		p.Inputs.Video = &types.VideoInput{
			ID:          src.ID,
			FromSeconds: *item.FromSeconds,
			ToSeconds:   *item.ToSeconds,
			URL:         src.URL,
			Path:        src.Path,
		}
	}

	switch item.Kind {
	case types.SceneKindBanner:
		p.Extra.LayoutPreset = "center"
		p.Inputs.Images = matchImages(req.Images, dr.ImageHints)
	case types.SceneKindOverlay:
		if p.Extra.LayoutHint == "" {
			p.Extra.LayoutHint = "side_panel_right"
		}
		if p.Extra.AudioStrategy == "" {
			p.Extra.AudioStrategy = "keep"
		}
	case types.SceneKindPIP:
		p.Extra.Position = "top-right"
		p.Extra.Size = "small"
		if sec := secondaryVideo(req.Videos, item.SourceVideoID); sec != nil {
			p.Inputs.SecondaryVideo = &types.VideoInput{
				ID:          sec.ID,
				FromSeconds: *item.FromSeconds,
				ToSeconds:   *item.ToSeconds,
				URL:         sec.URL,
				Path:        sec.Path,
			}
		}
	}

	return p, nil
}

func findVideo(videos []types.MediaRef, id string) *types.MediaRef {
	for i := range videos {
		if videos[i].ID == id {
			return &videos[i]
		}
	}
	return nil
}

// secondaryVideo picks the pip inset: the first request video that is not
// the base. A single-video request renders pip as the base clip alone.
func secondaryVideo(videos []types.MediaRef, baseID string) *types.MediaRef {
	for i := range videos {
		if videos[i].ID != baseID {
			return &videos[i]
		}
	}
	return nil
}

// maxUnhintedImages caps the fallback when a scene carries no image
// hints, so image-heavy requests don't bloat every scene project.
const maxUnhintedImages = 3

// matchImages resolves imageHints against request image ids by
// case-insensitive substring. Without hints the first few request images
// are offered; the banner pipeline uses the first loadable one.
func matchImages(images []types.MediaRef, hints []string) []types.ImageInput {
	toInput := func(m types.MediaRef) types.ImageInput {
		return types.ImageInput{ID: m.ID, URL: m.URL, Path: m.Path}
	}

	if len(hints) == 0 {
		n := len(images)
		if n > maxUnhintedImages {
			n = maxUnhintedImages
		}
		out := make([]types.ImageInput, 0, n)
		for _, m := range images[:n] {
			out = append(out, toInput(m))
		}
		return out
	}

	var out []types.ImageInput
	for _, m := range images {
		id := strings.ToLower(m.ID)
		for _, h := range hints {
			h = strings.ToLower(strings.TrimSpace(h))
			if h == "" {
				continue
			}
			if strings.Contains(id, h) || strings.Contains(h, id) {
				out = append(out, toInput(m))
				break
			}
		}
	}
	return out
}
