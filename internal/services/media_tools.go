package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/sceneforge-backend/internal/logger"
)

// MediaToolsService is the glue around the ffmpeg/ffprobe binaries.
//
// REQUIRED BINARIES in worker runtime:
// - ffmpeg for trimming, scaling, overlays, frame-sequence encoding, concat
// - ffprobe for stream metadata
//
// All renders share the same output contract: mp4, h.264 yuv420p video,
// aac audio when present, even dimensions, moov atom at file start.
// This service is synchronous and should be called from worker jobs, not
// request handlers.
type MediaToolsService interface {
	AssertReady(ctx context.Context) error

	ProbeVideo(ctx context.Context, videoPath string) (*VideoProbe, error)
	ExtractAudio(ctx context.Context, videoPath string, outPath string, opts AudioExtractOptions) (string, error)

	// TrimAndFit cuts [fromSeconds, toSeconds) out of the input and fits it
	// to width x height: scaled preserving aspect, letterbox-padded, centred.
	TrimAndFit(ctx context.Context, videoPath string, outPath string, fromSeconds, toSeconds float64, width, height, fps int) error

	// EncodeFrameSequence turns a printf-style PNG pattern into an mp4. A
	// pre-filter forces both dimensions to trunc(x/2)*2.
	EncodeFrameSequence(ctx context.Context, framePattern string, fps int, outPath string) error

	// OverlayImage composites a same-sized PNG over the full clip.
	OverlayImage(ctx context.Context, videoPath string, overlayPNGPath string, outPath string) error

	// OverlayVideo scales the secondary clip to pipWidth x pipHeight and
	// pins it at the given overlay position expressions (ffmpeg x:y).
	OverlayVideo(ctx context.Context, basePath string, pipPath string, outPath string, pipWidth, pipHeight int, xExpr, yExpr string) error

	// BlankClip renders a black clip, used for transition and blank scenes.
	BlankClip(ctx context.Context, outPath string, durationSeconds float64, width, height, fps int) error

	Concat(ctx context.Context, listFilePath string, outPath string) error

	WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error)
	MakeWorkDir(prefix string) (string, func(), error)
}

type AudioExtractOptions struct {
	SampleRateHz int    // e.g. 16000
	Channels     int    // 1
	Format       string // "wav" or "flac"
}

type VideoProbe struct {
	DurationSeconds float64
	FPS             float64
	Width           int
	Height          int
}

type mediaToolsService struct {
	log *logger.Logger

	ffmpegPath  string
	ffprobePath string

	workRoot string

	defaultTimeout time.Duration
}

func NewMediaToolsService(log *logger.Logger) MediaToolsService {
	slog := log.With("service", "MediaToolsService")
	workRoot := os.Getenv("MEDIA_WORK_ROOT")
	if workRoot == "" {
		workRoot = "/tmp/sceneforge-media"
	}
	return &mediaToolsService{
		log:            slog,
		ffmpegPath:     "ffmpeg",
		ffprobePath:    "ffprobe",
		workRoot:       workRoot,
		defaultTimeout: 10 * time.Minute,
	}
}

func (m *mediaToolsService) AssertReady(ctx context.Context) error {
	for _, bin := range []string{m.ffmpegPath, m.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return fmt.Errorf("create workRoot: %w", err)
	}
	return nil
}

func (m *mediaToolsService) WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error) {
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("mkdir workRoot: %w", err)
	}
	h := sha256.Sum256(data)
	base := hex.EncodeToString(h[:])[:16]
	if suffix != "" && !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	path := filepath.Join(m.workRoot, fmt.Sprintf("%s%s", base, suffix))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", func() {}, fmt.Errorf("write temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(path) }
	return path, cleanup, nil
}

func (m *mediaToolsService) MakeWorkDir(prefix string) (string, func(), error) {
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("mkdir workRoot: %w", err)
	}
	dir, err := os.MkdirTemp(m.workRoot, prefix+"-")
	if err != nil {
		return "", func() {}, fmt.Errorf("mkdir temp work dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	return dir, cleanup, nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (m *mediaToolsService) ProbeVideo(ctx context.Context, videoPath string) (*VideoProbe, error) {
	if videoPath == "" {
		return nil, fmt.Errorf("videoPath required")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", videoPath, err)
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return nil, fmt.Errorf("ffprobe output parse: %w", err)
	}

	result := &VideoProbe{}
	if probed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probed.Format.Duration, 64); err == nil {
			result.DurationSeconds = d
		}
	}
	for _, s := range probed.Streams {
		if s.CodecType != "video" {
			continue
		}
		result.Width = s.Width
		result.Height = s.Height
		result.FPS = parseFrameRate(s.AvgFrameRate)
		if result.FPS == 0 {
			result.FPS = parseFrameRate(s.RFrameRate)
		}
		break
	}
	if result.Width == 0 || result.Height == 0 {
		return nil, fmt.Errorf("no video stream found in %s", videoPath)
	}
	return result, nil
}

func parseFrameRate(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0/0" {
		return 0
	}
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) == 1 {
		f, _ := strconv.ParseFloat(parts[0], 64)
		return f
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

func (m *mediaToolsService) ExtractAudio(ctx context.Context, videoPath string, outPath string, opts AudioExtractOptions) (string, error) {
	if videoPath == "" {
		return "", fmt.Errorf("videoPath required")
	}
	if outPath == "" {
		return "", fmt.Errorf("outPath required")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("mkdir outPath dir: %w", err)
	}

	sr := opts.SampleRateHz
	if sr <= 0 {
		sr = 16000
	}
	ch := opts.Channels
	if ch <= 0 {
		ch = 1
	}
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "wav"
	}
	if format != "wav" && format != "flac" {
		return "", fmt.Errorf("unsupported audio format: %s", format)
	}

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-i", videoPath,
		"-vn",
		"-ac", strconv.Itoa(ch),
		"-ar", strconv.Itoa(sr),
		"-f", format,
		outPath,
	}
	if err := m.runFFmpeg(ctx, args, outPath); err != nil {
		return "", fmt.Errorf("ffmpeg extract audio: %w", err)
	}
	return outPath, nil
}

func (m *mediaToolsService) TrimAndFit(ctx context.Context, videoPath string, outPath string, fromSeconds, toSeconds float64, width, height, fps int) error {
	if videoPath == "" || outPath == "" {
		return fmt.Errorf("videoPath and outPath required")
	}
	if toSeconds <= fromSeconds || fromSeconds < 0 {
		return fmt.Errorf("invalid trim window [%v, %v)", fromSeconds, toSeconds)
	}
	width, height = evenDims(width, height)

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	// Scale to fit inside the target box preserving aspect, then pad to the
	// exact box with centred letterboxing.
	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%d",
		width, height, width, height, fps,
	)
	args := []string{
		"-y",
		"-ss", formatSeconds(fromSeconds),
		"-to", formatSeconds(toSeconds),
		"-i", videoPath,
		"-vf", vf,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-movflags", "+faststart",
		outPath,
	}
	if err := m.runFFmpeg(ctx, args, outPath); err != nil {
		return fmt.Errorf("ffmpeg trim+fit: %w", err)
	}
	return nil
}

func (m *mediaToolsService) EncodeFrameSequence(ctx context.Context, framePattern string, fps int, outPath string) error {
	if framePattern == "" || outPath == "" {
		return fmt.Errorf("framePattern and outPath required")
	}
	if fps <= 0 {
		fps = 30
	}

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-framerate", strconv.Itoa(fps),
		"-i", framePattern,
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outPath,
	}
	if err := m.runFFmpeg(ctx, args, outPath); err != nil {
		return fmt.Errorf("ffmpeg frame sequence encode: %w", err)
	}
	return nil
}

func (m *mediaToolsService) OverlayImage(ctx context.Context, videoPath string, overlayPNGPath string, outPath string) error {
	if videoPath == "" || overlayPNGPath == "" || outPath == "" {
		return fmt.Errorf("videoPath, overlayPNGPath and outPath required")
	}

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-i", videoPath,
		"-i", overlayPNGPath,
		"-filter_complex", "[0:v][1:v]overlay=0:0",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "copy",
		"-movflags", "+faststart",
		outPath,
	}
	if err := m.runFFmpeg(ctx, args, outPath); err != nil {
		return fmt.Errorf("ffmpeg image overlay: %w", err)
	}
	return nil
}

func (m *mediaToolsService) OverlayVideo(ctx context.Context, basePath string, pipPath string, outPath string, pipWidth, pipHeight int, xExpr, yExpr string) error {
	if basePath == "" || pipPath == "" || outPath == "" {
		return fmt.Errorf("basePath, pipPath and outPath required")
	}
	pipWidth, pipHeight = evenDims(pipWidth, pipHeight)

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	filter := fmt.Sprintf(
		"[1:v]scale=%d:%d[pip];[0:v][pip]overlay=%s:%s:shortest=1",
		pipWidth, pipHeight, xExpr, yExpr,
	)
	args := []string{
		"-y",
		"-i", basePath,
		"-i", pipPath,
		"-filter_complex", filter,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-movflags", "+faststart",
		outPath,
	}
	if err := m.runFFmpeg(ctx, args, outPath); err != nil {
		return fmt.Errorf("ffmpeg pip overlay: %w", err)
	}
	return nil
}

func (m *mediaToolsService) BlankClip(ctx context.Context, outPath string, durationSeconds float64, width, height, fps int) error {
	if outPath == "" {
		return fmt.Errorf("outPath required")
	}
	if durationSeconds <= 0 {
		durationSeconds = 1
	}
	width, height = evenDims(width, height)

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=black:s=%dx%d:r=%d:d=%s", width, height, fps, formatSeconds(durationSeconds)),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outPath,
	}
	if err := m.runFFmpeg(ctx, args, outPath); err != nil {
		return fmt.Errorf("ffmpeg blank clip: %w", err)
	}
	return nil
}

func (m *mediaToolsService) Concat(ctx context.Context, listFilePath string, outPath string) error {
	if listFilePath == "" || outPath == "" {
		return fmt.Errorf("listFilePath and outPath required")
	}

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFilePath,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outPath,
	}
	if err := m.runFFmpeg(ctx, args, outPath); err != nil {
		return fmt.Errorf("ffmpeg concat: %w", err)
	}
	return nil
}

// runFFmpeg executes ffmpeg and applies the shared MediaError contract:
// non-zero exit, or a missing/empty output file, is a failure.
func (m *mediaToolsService) runFFmpeg(ctx context.Context, args []string, outPath string) error {
	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w; out=%s", err, tail(string(out), 2000))
	}
	info, statErr := os.Stat(outPath)
	if statErr != nil {
		return fmt.Errorf("output missing at %s", outPath)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output empty at %s", outPath)
	}
	return nil
}

func evenDims(w, h int) (int, int) {
	if w%2 != 0 {
		w--
	}
	if h%2 != 0 {
		h--
	}
	return w, h
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
