package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"github.com/yungbote/sceneforge-backend/internal/types"
)

// BannerPipeline renders a text card: per-frame canvas drawing encoded to
// an mp4, with a foreground image sourced from the request or generated on
// demand. Three sampled frames are uploaded as debug frames.
type BannerPipeline struct {
	fontOnce sync.Once
	fontData *truetype.Font
}

func NewBannerPipeline() *BannerPipeline { return &BannerPipeline{} }

func (p *BannerPipeline) CanHandle(kind types.SceneKind) bool {
	return kind == types.SceneKindBanner
}

func (p *BannerPipeline) Render(ctx context.Context, project *types.SceneProject, rc *RenderContext) (*RenderedScene, error) {
	rctx := project.RenderContext
	duration := project.ScenarioItem.DurationSeconds
	if duration <= 0 {
		return nil, fmt.Errorf("scene %s: banner requires positive duration", project.SceneID)
	}
	frames := int(math.Ceil(duration * float64(rctx.FPS)))
	if frames < 1 {
		frames = 1
	}

	fg := p.loadForeground(ctx, project, rc)
	text := bannerText(project)
	styleDark := backgroundIsDark(project.Extra.VisualStyle)

	frameDir := filepath.Join(rc.TempDir, "frames-"+project.SceneID)
	if err := os.MkdirAll(frameDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir frame dir: %w", err)
	}

	face := p.face(float64(minInt(rctx.Width/15, 72)))

	for i := 0; i < frames; i++ {
		progress := 0.0
		if frames > 1 {
			progress = float64(i) / float64(frames-1)
		}
		dc := gg.NewContext(rctx.Width, rctx.Height)
		p.drawBackground(dc, project.Extra.VisualStyle, rctx.Width, rctx.Height)
		if fg != nil {
			drawForeground(dc, fg, rctx.Width, rctx.Height, math.Min(1, 2*progress))
		}
		if text != "" {
			drawBannerText(dc, face, text, rctx.Width, rctx.Height, styleDark, project.Extra.AnimationHints, progress, duration)
		}
		framePath := filepath.Join(frameDir, fmt.Sprintf("frame_%06d.png", i))
		if err := dc.SavePNG(framePath); err != nil {
			return nil, fmt.Errorf("save frame %d: %w", i, err)
		}
	}
	rc.progress(50)

	debugURLs := p.uploadDebugFrames(ctx, project.SceneID, frameDir, frames, rc)

	outPath := filepath.Join(rc.TempDir, fmt.Sprintf("banner-%s.mp4", project.SceneID))
	pattern := filepath.Join(frameDir, "frame_%06d.png")
	if err := rc.Media.EncodeFrameSequence(ctx, pattern, rctx.FPS, outPath); err != nil {
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
		DebugFrameURLs:  debugURLs,
	}, nil
}

func (p *BannerPipeline) drawBackground(dc *gg.Context, visualStyle []string, w, h int) {
	fw, fh := float64(w), float64(h)
	switch {
	case containsFold(visualStyle, "blue"):
		grad := gg.NewLinearGradient(0, 0, fw, fh)
		grad.AddColorStop(0, color.NRGBA{R: 0x1e, G: 0x3a, B: 0x8a, A: 0xff})
		grad.AddColorStop(1, color.NRGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0xff})
		dc.SetFillStyle(grad)
	case containsFold(visualStyle, "minimal"):
		dc.SetColor(color.White)
	default:
		grad := gg.NewLinearGradient(0, 0, fw, fh)
		grad.AddColorStop(0, color.NRGBA{R: 0xe5, G: 0xe7, B: 0xeb, A: 0xff})
		grad.AddColorStop(1, color.NRGBA{R: 0xd1, G: 0xd5, B: 0xdb, A: 0xff})
		dc.SetFillStyle(grad)
	}
	dc.DrawRectangle(0, 0, fw, fh)
	dc.Fill()
}

// loadForeground prefers a request-supplied image; generation is a
// fallback and only when the hints actually ask for imagery.
func (p *BannerPipeline) loadForeground(ctx context.Context, project *types.SceneProject, rc *RenderContext) image.Image {
	for _, in := range project.Inputs.Images {
		var raw []byte
		var err error
		if in.Path != "" {
			raw, err = rc.Bucket.DownloadFile(ctx, in.Path)
		} else if in.URL != "" {
			raw, err = rc.Downloader.Fetch(ctx, in.URL)
		} else {
			continue
		}
		if err != nil {
			if rc.Log != nil {
				rc.Log.Warn("banner foreground not loadable, trying next", "image", in.ID, "error", err)
			}
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			continue
		}
		return img
	}

	if !hintsWantImage(project.Extra.ImageHints) {
		return nil
	}
	prompt := strings.Join(project.Extra.ImageHints, ", ")
	if prompt == "" && project.ScenarioItem.DetailedRequest != nil {
		prompt = project.ScenarioItem.DetailedRequest.Description
	}
	size := closestPresetSize(project.RenderContext.AspectRatio)
	raw, err := rc.OpenAI.GenerateImage(ctx, prompt, size)
	if err != nil {
		if rc.Log != nil {
			rc.Log.Warn("banner image generation failed, rendering without foreground", "scene", project.SceneID, "error", err)
		}
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	return img
}

func hintsWantImage(hints []string) bool {
	for _, h := range hints {
		l := strings.ToLower(h)
		if strings.Contains(l, "image") || strings.Contains(l, "photo") ||
			strings.Contains(l, "picture") || strings.Contains(l, "illustration") {
			return true
		}
	}
	return false
}

// closestPresetSize snaps the render aspect to the nearest generation
// preset in {1:1, 16:9, 9:16, 4:3, 3:4}.
func closestPresetSize(aspect float64) string {
	presets := []struct {
		ratio float64
		size  string
	}{
		{1.0, "1024x1024"},
		{16.0 / 9.0, "1792x1024"},
		{9.0 / 16.0, "1024x1792"},
		{4.0 / 3.0, "1344x1024"},
		{3.0 / 4.0, "1024x1344"},
	}
	best := presets[0]
	bestDiff := math.Abs(aspect - best.ratio)
	for _, p := range presets[1:] {
		if d := math.Abs(aspect - p.ratio); d < bestDiff {
			best, bestDiff = p, d
		}
	}
	return best.size
}

func drawForeground(dc *gg.Context, img image.Image, w, h int, opacity float64) {
	if opacity <= 0 {
		return
	}
	bounds := img.Bounds()
	maxW := float64(w) * 0.6
	maxH := float64(h) * 0.6
	scale := math.Min(maxW/float64(bounds.Dx()), maxH/float64(bounds.Dy()))
	if scale > 1 {
		scale = 1
	}
	dw := int(float64(bounds.Dx()) * scale)
	dh := int(float64(bounds.Dy()) * scale)
	if dw < 1 || dh < 1 {
		return
	}

	scaled := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)
	if opacity < 1 {
		applyAlpha(scaled, opacity)
	}

	x := (w - dw) / 2
	y := (h - dh) / 2

	// Drop shadow behind the image.
	dc.SetRGBA(0, 0, 0, 0.35*opacity)
	dc.DrawRectangle(float64(x+8), float64(y+8), float64(dw), float64(dh))
	dc.Fill()

	dc.DrawImage(scaled, x, y)
}

func applyAlpha(img *image.RGBA, opacity float64) {
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i+0] = uint8(float64(pix[i+0]) * opacity)
		pix[i+1] = uint8(float64(pix[i+1]) * opacity)
		pix[i+2] = uint8(float64(pix[i+2]) * opacity)
		pix[i+3] = uint8(float64(pix[i+3]) * opacity)
	}
}

func bannerText(project *types.SceneProject) string {
	if t := strings.TrimSpace(project.Extra.TextContent); t != "" {
		return t
	}
	if dr := project.ScenarioItem.DetailedRequest; dr != nil {
		if t := strings.TrimSpace(dr.TextContent); t != "" {
			return t
		}
		return strings.TrimSpace(dr.Description)
	}
	return ""
}

func backgroundIsDark(visualStyle []string) bool {
	return containsFold(visualStyle, "blue")
}

// typewriterText returns the leading portion of text revealed at
// progress, sliced by rune so multi-byte titles never render a torn
// glyph mid-animation.
func typewriterText(text string, progress float64) string {
	runes := []rune(text)
	visible := int(math.Floor(float64(len(runes)) * progress))
	if visible < 0 {
		visible = 0
	}
	if visible > len(runes) {
		visible = len(runes)
	}
	return string(runes[:visible])
}

func drawBannerText(dc *gg.Context, face font.Face, text string, w, h int, darkBG bool, animationHints []string, progress, duration float64) {
	dc.SetFontFace(face)

	alpha := 1.0
	switch {
	case containsFold(animationHints, "typewriter"):
		text = typewriterText(text, progress)
	case containsFold(animationHints, "fade-in"):
		// Linear ramp from 0.1 to 1 over the first half of the clip.
		if progress < 0.5 {
			alpha = 0.1 + (progress/0.5)*0.9
		}
	}
	if text == "" || alpha <= 0 {
		return
	}

	wrapWidth := float64(w) * 0.8
	lines := dc.WordWrap(text, wrapWidth)
	if len(lines) > 3 {
		lines = lines[:3]
	}

	lineHeight := dc.FontHeight() * 1.4
	totalHeight := lineHeight * float64(len(lines))
	startY := (float64(h)-totalHeight)/2 + dc.FontHeight()

	for i, line := range lines {
		y := startY + float64(i)*lineHeight
		x := float64(w) / 2

		// Text drop shadow.
		dc.SetRGBA(0, 0, 0, 0.5*alpha)
		dc.DrawStringAnchored(line, x+2, y+2, 0.5, 0)

		if darkBG {
			dc.SetRGBA(1, 1, 1, alpha)
		} else {
			dc.SetRGBA(0, 0, 0, alpha)
		}
		dc.DrawStringAnchored(line, x, y, 0.5, 0)
	}
}

func (p *BannerPipeline) uploadDebugFrames(ctx context.Context, sceneID, frameDir string, frames int, rc *RenderContext) []string {
	indices := []int{0}
	if frames > 2 {
		indices = append(indices, frames/2)
	}
	if frames > 1 {
		indices = append(indices, frames-1)
	}

	var urls []string
	for _, idx := range indices {
		framePath := filepath.Join(frameDir, fmt.Sprintf("frame_%06d.png", idx))
		raw, err := os.ReadFile(framePath)
		if err != nil {
			continue
		}
		key := DebugFrameKey(sceneID, idx)
		if err := rc.Bucket.UploadFile(ctx, key, bytes.NewReader(raw)); err != nil {
			if rc.Log != nil {
				rc.Log.Warn("debug frame upload failed", "scene", sceneID, "frame", idx, "error", err)
			}
			continue
		}
		urls = append(urls, rc.Bucket.GetPublicURL(key))
	}
	return urls
}

// face loads the banner font once. SCENE_FONT_PATH wins; common bold
// system fonts are probed next; the bitmap fallback keeps rendering alive
// on bare containers.
func (p *BannerPipeline) face(points float64) font.Face {
	p.fontOnce.Do(func() {
		candidates := []string{
			os.Getenv("SCENE_FONT_PATH"),
			"/usr/share/fonts/truetype/msttcorefonts/Arial_Bold.ttf",
			"/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf",
			"/usr/share/fonts/truetype/liberation/LiberationSans-Bold.ttf",
		}
		for _, path := range candidates {
			if path == "" {
				continue
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			f, err := truetype.Parse(raw)
			if err != nil {
				continue
			}
			p.fontData = f
			return
		}
	})
	if p.fontData == nil {
		return basicfont.Face7x13
	}
	return truetype.NewFace(p.fontData, &truetype.Options{Size: points})
}

func containsFold(list []string, needle string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), needle) || strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
