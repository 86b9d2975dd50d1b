package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"unicode/utf8"

	"github.com/yungbote/sceneforge-backend/internal/types"
)

type stubPipeline struct {
	kind types.SceneKind
}

func (p *stubPipeline) CanHandle(kind types.SceneKind) bool { return kind == p.kind }

func (p *stubPipeline) Render(context.Context, *types.SceneProject, *RenderContext) (*RenderedScene, error) {
	return &RenderedScene{AssetPath: "stub"}, nil
}

func TestRegistrySelect(t *testing.T) {
	r := NewRegistry()
	video := &stubPipeline{kind: types.SceneKindVideo}
	banner := &stubPipeline{kind: types.SceneKindBanner}
	r.Register(video)
	r.Register(banner)

	p, err := r.Select(types.SceneKindBanner)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if p != banner {
		t.Fatal("wrong pipeline selected")
	}
}

func TestRegistrySelectUnknownKind(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubPipeline{kind: types.SceneKindVideo})

	_, err := r.Select(types.SceneKindPIP)
	if !errors.Is(err, ErrNoPipeline) {
		t.Fatalf("expected ErrNoPipeline, got %v", err)
	}
}

func TestRegistryFirstMatchWins(t *testing.T) {
	r := NewRegistry()
	first := &stubPipeline{kind: types.SceneKindVideo}
	second := &stubPipeline{kind: types.SceneKindVideo}
	r.Register(first)
	r.Register(second)

	p, err := r.Select(types.SceneKindVideo)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if p != first {
		t.Fatal("registration order not honored")
	}
}

func TestAssetKeys(t *testing.T) {
	if got := SceneAssetKey("scene-1"); got != "scene-generation/scenes/scene-1/rendered.mp4" {
		t.Fatalf("scene key %q", got)
	}
	if got := DebugFrameKey("scene-1", 7); got != "scene-generation/debug-frames/scene-1/frame-000007.png" {
		t.Fatalf("debug frame key %q", got)
	}
	if got := DebugFramesBasePath("scene-1"); got != "scene-generation/debug-frames/scene-1/" {
		t.Fatalf("debug base path %q", got)
	}
}

func TestPipPosition(t *testing.T) {
	cases := map[string][2]string{
		"top-left":     {"10", "10"},
		"top-right":    {"main_w-overlay_w-10", "10"},
		"bottom-left":  {"10", "main_h-overlay_h-10"},
		"bottom-right": {"main_w-overlay_w-10", "main_h-overlay_h-10"},
		"":             {"main_w-overlay_w-10", "10"},
	}
	for pos, want := range cases {
		x, y := pipPosition(pos)
		if x != want[0] || y != want[1] {
			t.Fatalf("%q: got %s:%s want %s:%s", pos, x, y, want[0], want[1])
		}
	}
}

func TestClosestPresetSize(t *testing.T) {
	cases := map[float64]string{
		1.0:         "1024x1024",
		16.0 / 9.0:  "1792x1024",
		9.0 / 16.0:  "1024x1792",
		5.83:        "1792x1024",
		4.0 / 3.0:   "1344x1024",
		3.0 / 4.0:   "1024x1344",
	}
	for aspect, want := range cases {
		if got := closestPresetSize(aspect); got != want {
			t.Fatalf("aspect %v: got %q want %q", aspect, got, want)
		}
	}
}

func TestTypewriterTextSlicesByRune(t *testing.T) {
	title := "héllo wörld — 日本語"
	runes := []rune(title)

	for _, progress := range []float64{0, 0.1, 0.33, 0.5, 0.77, 1} {
		got := typewriterText(title, progress)
		if !utf8.ValidString(got) {
			t.Fatalf("progress %v produced invalid UTF-8: %q", progress, got)
		}
		want := string(runes[:int(math.Floor(float64(len(runes))*progress))])
		if got != want {
			t.Fatalf("progress %v: got %q want %q", progress, got, want)
		}
	}

	if got := typewriterText(title, 1.5); got != title {
		t.Fatalf("overshoot not clamped: %q", got)
	}
	if got := typewriterText(title, -0.5); got != "" {
		t.Fatalf("undershoot not clamped: %q", got)
	}
}
