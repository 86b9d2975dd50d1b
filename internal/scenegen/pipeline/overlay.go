package pipeline

import (
	"context"
	"fmt"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"

	"github.com/yungbote/sceneforge-backend/internal/types"
)

// OverlayPipeline composites a static panel over a trimmed clip: a side
// panel with wrapped text, or a centred dim-and-title treatment when the
// layout hint asks for neither.
type OverlayPipeline struct {
	base   *VideoPipeline
	banner *BannerPipeline
}

func NewOverlayPipeline(base *VideoPipeline, banner *BannerPipeline) *OverlayPipeline {
	return &OverlayPipeline{base: base, banner: banner}
}

func (p *OverlayPipeline) CanHandle(kind types.SceneKind) bool {
	return kind == types.SceneKindOverlay
}

func (p *OverlayPipeline) Render(ctx context.Context, project *types.SceneProject, rc *RenderContext) (*RenderedScene, error) {
	basePath, err := p.base.RenderBase(ctx, project, rc)
	if err != nil {
		return nil, err
	}

	panelPath := filepath.Join(rc.TempDir, fmt.Sprintf("panel-%s.png", project.SceneID))
	if err := p.renderPanel(project, panelPath); err != nil {
		return nil, fmt.Errorf("render overlay panel: %w", err)
	}
	rc.progress(70)

	outPath := filepath.Join(rc.TempDir, fmt.Sprintf("overlay-%s.mp4", project.SceneID))
	if err := rc.Media.OverlayImage(ctx, basePath, panelPath, outPath); err != nil {
		return nil, err
	}
	rc.progress(85)

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

// renderPanel draws the full-frame PNG that ffmpeg composites at 0:0. The
// panel is transparent outside the treated region.
func (p *OverlayPipeline) renderPanel(project *types.SceneProject, outPath string) error {
	rctx := project.RenderContext
	w, h := rctx.Width, rctx.Height
	dc := gg.NewContext(w, h)
	dc.SetColor(color.NRGBA{})
	dc.Clear()

	text := bannerText(project)
	face := p.banner.face(float64(minInt(w/15, 72)))
	dc.SetFontFace(face)

	hint := strings.ToLower(strings.TrimSpace(project.Extra.LayoutHint))
	switch {
	case strings.Contains(hint, "side_panel_right"), strings.Contains(hint, "side panel"):
		panelW := float64(w) * 0.3
		panelX := float64(w) - panelW
		dc.SetRGBA(0, 0, 0, 0.7)
		dc.DrawRectangle(panelX, 0, panelW, float64(h))
		dc.Fill()

		if text != "" {
			dc.SetRGBA(1, 1, 1, 1)
			lines := dc.WordWrap(text, panelW*0.85)
			lineHeight := dc.FontHeight() * 1.4
			startY := (float64(h)-lineHeight*float64(len(lines)))/2 + dc.FontHeight()
			for i, line := range lines {
				dc.DrawStringAnchored(line, panelX+panelW/2, startY+float64(i)*lineHeight, 0.5, 0)
			}
		}
	default:
		dc.SetRGBA(0, 0, 0, 0.4)
		dc.DrawRectangle(0, 0, float64(w), float64(h))
		dc.Fill()

		if text != "" {
			lines := dc.WordWrap(text, float64(w)*0.8)
			if len(lines) > 3 {
				lines = lines[:3]
			}
			lineHeight := dc.FontHeight() * 1.4
			startY := (float64(h)-lineHeight*float64(len(lines)))/2 + dc.FontHeight()
			for i, line := range lines {
				y := startY + float64(i)*lineHeight
				dc.SetRGBA(0, 0, 0, 0.5)
				dc.DrawStringAnchored(line, float64(w)/2+2, y+2, 0.5, 0)
				dc.SetRGBA(1, 1, 1, 1)
				dc.DrawStringAnchored(line, float64(w)/2, y, 0.5, 0)
			}
		}
	}

	return dc.SavePNG(outPath)
}
