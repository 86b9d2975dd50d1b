package scenegen

import (
	"fmt"
	"testing"

	"github.com/yungbote/sceneforge-backend/internal/types"
)

func TestBuildRenderContext(t *testing.T) {
	rctx := buildRenderContext(16.0 / 9.0)
	if rctx.Width != 1920 || rctx.Height != 1080 || rctx.FPS != 30 {
		t.Fatalf("unexpected geometry: %+v", rctx)
	}

	// Heights are forced even.
	rctx = buildRenderContext(5.83)
	if rctx.Height%2 != 0 {
		t.Fatalf("odd height: %d", rctx.Height)
	}
	if rctx.Height != 328 {
		t.Fatalf("expected 328 for 5.83, got %d", rctx.Height)
	}

	// Zero falls back to the default ratio.
	rctx = buildRenderContext(0)
	if rctx.AspectRatio != types.DefaultAspectRatio {
		t.Fatalf("default not applied: %v", rctx.AspectRatio)
	}
}

func TestBuildSceneProjectVideo(t *testing.T) {
	from, to := 1.0, 5.0
	item := types.TimelineItem{
		ID:            "scene-1",
		Kind:          types.SceneKindVideo,
		SourceVideoID: "vid-1",
		FromSeconds:   &from,
		ToSeconds:     &to,
		DetailedRequest: &types.DetailedRequest{
			Description: "opening clip",
		},
	}
	req := &types.GenerationRequest{
		Videos: []types.MediaRef{{ID: "vid-1", URL: "https://example.com/v.mp4", Path: "uploads/v.mp4"}},
	}

	p, err := buildSceneProject(item, buildRenderContext(1), req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Inputs.Video == nil {
		t.Fatal("video input not resolved")
	}
	if p.Inputs.Video.URL != "https://example.com/v.mp4" || p.Inputs.Video.Path != "uploads/v.mp4" {
		t.Fatalf("source not carried: %+v", p.Inputs.Video)
	}
	if p.Inputs.Video.FromSeconds != 1.0 || p.Inputs.Video.ToSeconds != 5.0 {
		t.Fatalf("trim window not carried: %+v", p.Inputs.Video)
	}
}

func TestBuildSceneProjectUnknownVideo(t *testing.T) {
	from, to := 0.0, 2.0
	item := types.TimelineItem{
		ID:              "scene-1",
		Kind:            types.SceneKindVideo,
		SourceVideoID:   "ghost",
		FromSeconds:     &from,
		ToSeconds:       &to,
		DetailedRequest: &types.DetailedRequest{},
	}
	if _, err := buildSceneProject(item, buildRenderContext(1), &types.GenerationRequest{}); err == nil {
		t.Fatal("unknown source video accepted")
	}
}

func TestBuildSceneProjectBannerDefaults(t *testing.T) {
	item := types.TimelineItem{
		ID:              "scene-1",
		Kind:            types.SceneKindBanner,
		DurationSeconds: 3,
		DetailedRequest: &types.DetailedRequest{
			TextContent: "Hello",
			ImageHints:  []string{"img-1"},
		},
	}
	req := &types.GenerationRequest{
		Images: []types.MediaRef{
			{ID: "img-1", URL: "https://example.com/1.png"},
			{ID: "img-2", URL: "https://example.com/2.png"},
		},
	}
	p, err := buildSceneProject(item, buildRenderContext(1), req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Extra.LayoutPreset != "center" {
		t.Fatalf("layout preset not defaulted: %q", p.Extra.LayoutPreset)
	}
	if len(p.Inputs.Images) != 1 || p.Inputs.Images[0].ID != "img-1" {
		t.Fatalf("image hint match failed: %+v", p.Inputs.Images)
	}
}

func TestBuildSceneProjectOverlayDefaults(t *testing.T) {
	from, to := 0.0, 2.0
	item := types.TimelineItem{
		ID:              "scene-1",
		Kind:            types.SceneKindOverlay,
		SourceVideoID:   "vid-1",
		FromSeconds:     &from,
		ToSeconds:       &to,
		DetailedRequest: &types.DetailedRequest{},
	}
	req := &types.GenerationRequest{Videos: []types.MediaRef{{ID: "vid-1", URL: "u"}}}
	p, err := buildSceneProject(item, buildRenderContext(1), req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Extra.LayoutHint != "side_panel_right" || p.Extra.AudioStrategy != "keep" {
		t.Fatalf("overlay defaults not applied: %+v", p.Extra)
	}
}

func TestBuildSceneProjectPipSecondary(t *testing.T) {
	from, to := 0.0, 2.0
	item := types.TimelineItem{
		ID:              "scene-1",
		Kind:            types.SceneKindPIP,
		SourceVideoID:   "vid-1",
		FromSeconds:     &from,
		ToSeconds:       &to,
		DetailedRequest: &types.DetailedRequest{},
	}
	req := &types.GenerationRequest{Videos: []types.MediaRef{
		{ID: "vid-1", URL: "u1"},
		{ID: "vid-2", URL: "u2"},
	}}
	p, err := buildSceneProject(item, buildRenderContext(1), req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Extra.Position != "top-right" || p.Extra.Size != "small" {
		t.Fatalf("pip defaults not applied: %+v", p.Extra)
	}
	if p.Inputs.SecondaryVideo == nil || p.Inputs.SecondaryVideo.ID != "vid-2" {
		t.Fatalf("secondary not picked: %+v", p.Inputs.SecondaryVideo)
	}

	// With a single video there is no secondary.
	req.Videos = req.Videos[:1]
	p, err = buildSceneProject(item, buildRenderContext(1), req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Inputs.SecondaryVideo != nil {
		t.Fatalf("unexpected secondary: %+v", p.Inputs.SecondaryVideo)
	}
}

func TestMatchImagesWithoutHints(t *testing.T) {
	images := []types.MediaRef{{ID: "a"}, {ID: "b"}}
	out := matchImages(images, nil)
	if len(out) != 2 {
		t.Fatalf("expected all images, got %d", len(out))
	}
}

func TestMatchImagesWithoutHintsIsCapped(t *testing.T) {
	var images []types.MediaRef
	for i := 0; i < maxUnhintedImages+5; i++ {
		images = append(images, types.MediaRef{ID: fmt.Sprintf("img-%d", i)})
	}
	out := matchImages(images, nil)
	if len(out) != maxUnhintedImages {
		t.Fatalf("expected %d images, got %d", maxUnhintedImages, len(out))
	}
	if out[0].ID != "img-0" {
		t.Fatalf("cap must keep request order, got %q first", out[0].ID)
	}
}
