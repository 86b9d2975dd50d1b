package scenegen

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/yungbote/sceneforge-backend/internal/services"
	"github.com/yungbote/sceneforge-backend/internal/types"
)

// imageCaptionPending is stored when captioning an image fails; phase 1
// still sees the image listed so the scenario can reference it.
const imageCaptionPending = "Image description will be generated"

// runPhase0 builds the enriched context: per-video metadata and
// transcripts, per-image captions, and style notes from reference assets.
// Individual asset failures degrade that asset's entry, never the phase.
func (o *orchestrator) runPhase0(ctx context.Context, g *types.SceneGeneration, req *types.GenerationRequest) (*types.EnrichedContext, error) {
	ec := types.NewEnrichedContext(req.Prompt)

	workDir, cleanup, err := o.deps.Media.MakeWorkDir("phase0-" + g.ID.String()[:8])
	if err != nil {
		return nil, err
	}
	defer cleanup()
	o.reportPhaseProgress(ctx, g.ID, types.GenerationPhase0, 10)

	for _, video := range req.Videos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		meta, transcript := o.understandVideo(ctx, workDir, video)
		ec.VideoMetadata[video.ID] = meta
		if transcript != "" {
			ec.VideoTranscripts[video.ID] = transcript
		}
	}
	o.reportPhaseProgress(ctx, g.ID, types.GenerationPhase0, 50)

	for _, img := range req.Images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ec.ImageCaptions[img.ID] = o.captionImage(ctx, img)
	}
	o.reportPhaseProgress(ctx, g.ID, types.GenerationPhase0, 80)

	if len(req.References) > 0 {
		ec.ReferenceNotes = o.analyzeReferences(ctx, req.References)
	}
	o.reportPhaseProgress(ctx, g.ID, types.GenerationPhase0, 100)

	return ec, nil
}

// understandVideo probes one input and transcribes its audio track. A
// probe failure yields the 1080p30 defaults with no transcript.
func (o *orchestrator) understandVideo(ctx context.Context, workDir string, video types.MediaRef) (types.VideoMetadata, string) {
	localPath := filepath.Join(workDir, "video-"+sanitizeID(video.ID)+".mp4")
	if err := o.fetchAsset(ctx, video.URL, video.Path, localPath); err != nil {
		o.log.Warn("video fetch failed, using default metadata", "video", video.ID, "error", err)
		return types.DefaultVideoMetadata(), ""
	}

	probe, err := o.deps.Media.ProbeVideo(ctx, localPath)
	if err != nil {
		o.log.Warn("video probe failed, using default metadata", "video", video.ID, "error", err)
		return types.DefaultVideoMetadata(), ""
	}
	meta := types.VideoMetadata{
		Duration: probe.DurationSeconds,
		FPS:      probe.FPS,
		Width:    probe.Width,
		Height:   probe.Height,
	}

	if o.deps.Speech == nil {
		return meta, ""
	}
	audioPath := filepath.Join(workDir, "audio-"+sanitizeID(video.ID)+".wav")
	if _, err := o.deps.Media.ExtractAudio(ctx, localPath, audioPath, services.AudioExtractOptions{
		SampleRateHz: 16000,
		Channels:     1,
		Format:       "wav",
	}); err != nil {
		o.log.Warn("audio extract failed, skipping transcript", "video", video.ID, "error", err)
		return meta, ""
	}
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		o.log.Warn("audio read failed, skipping transcript", "video", video.ID, "error", err)
		return meta, ""
	}
	transcript, err := o.deps.Speech.TranscribeAudioBytes(ctx, audio, 16000)
	if err != nil {
		o.log.Warn("transcription failed, skipping transcript", "video", video.ID, "error", err)
		return meta, ""
	}
	return meta, transcript
}

func (o *orchestrator) captionImage(ctx context.Context, img types.MediaRef) string {
	const prompt = "Describe this image in one or two sentences for a video editor deciding where to use it."

	var caption string
	var err error
	if img.URL != "" {
		caption, err = o.deps.OpenAI.DescribeImage(ctx, img.URL, prompt)
	} else {
		var raw []byte
		raw, err = o.deps.Bucket.DownloadFile(ctx, img.Path)
		if err == nil {
			caption, err = o.deps.OpenAI.DescribeImageBytes(ctx, raw, http.DetectContentType(raw), prompt)
		}
	}
	if err != nil {
		o.log.Warn("image caption failed, storing placeholder", "image", img.ID, "error", err)
		return imageCaptionPending
	}
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return imageCaptionPending
	}
	return caption
}

// analyzeReferences folds vision notes for every reference asset into one
// string. Without a vision client the notes stay empty.
func (o *orchestrator) analyzeReferences(ctx context.Context, refs []string) string {
	if o.deps.Vision == nil {
		o.log.Info("vision provider not configured, skipping reference analysis")
		return ""
	}
	var notes []string
	for _, ref := range refs {
		raw, err := o.deps.Downloader.Fetch(ctx, ref)
		if err != nil {
			o.log.Warn("reference fetch failed, skipping", "reference", ref, "error", err)
			continue
		}
		note, err := o.deps.Vision.AnalyzeReference(ctx, raw)
		if err != nil {
			o.log.Warn("reference analysis failed, skipping", "reference", ref, "error", err)
			continue
		}
		notes = append(notes, note)
	}
	return strings.Join(notes, "; ")
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}

func writeFile(dest string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", dest, err)
	}
	return os.WriteFile(dest, data, 0o644)
}
