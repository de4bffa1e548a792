package services

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/inkframe/inkframe/internal/apperr"
	"github.com/inkframe/inkframe/internal/models"
)

// ---------------------------------------------------------------------------
// Compositor
//
// Builds and runs the two FFmpeg filter graphs the pipeline needs: one
// still-image-plus-audio clip per sentence (scale+crop cover, zoompan,
// drawtext overlays), and a final stream-copy concat across a chapter's
// clips.
// ---------------------------------------------------------------------------

// Compositor shells out to ffmpeg/ffprobe. It keeps no state beyond a
// scratch directory for concat manifest files.
type Compositor struct {
	tempDir string
}

func NewCompositor(tempDir string) (*Compositor, error) {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create compositor temp dir: %w", err)
	}
	return &Compositor{tempDir: tempDir}, nil
}

// ClipInputs is everything RenderSentenceClip needs for one sentence.
type ClipInputs struct {
	ImagePath    string
	AudioPath    string
	OutputPath   string
	AudioSeconds float64
	Overlays     []OverlayCommand
	Settings     models.GenerationSettings
}

// RenderSentenceClip produces one sentence's MP4: the still image is scaled
// and cropped to cover the target resolution, a zoompan filter drives a slow
// zoom across the audio's duration into a labeled [bg] stream, each overlay
// command is chained onto [bg] as a drawtext filter into the final [v0]
// output, and the narration audio is muxed in with -shortest. Any non-zero
// FFmpeg exit is reported as a sentence-level failure carrying stderr.
func (c *Compositor) RenderSentenceClip(ctx context.Context, in ClipInputs) error {
	width, height, err := parseResolution(in.Settings.Resolution)
	if err != nil {
		return apperr.ValidationErr("invalid resolution %q: %v", in.Settings.Resolution, err)
	}

	fps := in.Settings.FPS
	if fps <= 0 {
		fps = 25
	}

	filterComplex := buildSentenceFilterComplex(width, height, fps, in.Settings.ZoomSpeed, in.AudioSeconds, in.Overlays)

	args := []string{
		"-loop", "1",
		"-framerate", strconv.Itoa(fps),
		"-i", in.ImagePath,
		"-i", in.AudioPath,
		"-filter_complex", filterComplex,
		"-map", "[v0]",
		"-map", "1:a",
		"-c:v", in.Settings.VideoCodec,
		"-preset", "veryfast",
		"-c:a", in.Settings.AudioCodec,
		"-b:a", in.Settings.AudioBitrate,
		"-pix_fmt", "yuv420p",
		"-shortest",
		"-y",
		in.OutputPath,
	}

	return runFFmpeg(ctx, args)
}

// MotionClipInputs is RenderSentenceClipFromVideo's equivalent of
// ClipInputs, for the case where an AI motion provider has already turned
// the sentence's image into a short video clip and there is no zoompan
// step left to do.
type MotionClipInputs struct {
	VideoPath    string
	AudioPath    string
	OutputPath   string
	AudioSeconds float64
	Overlays     []OverlayCommand
	Settings     models.GenerationSettings
}

// RenderSentenceClipFromVideo composites a motion-provider video with the
// sentence's narration audio and subtitle overlays: scale+crop cover to the
// target resolution (no zoompan — the provider already supplied motion),
// chained drawtext overlays, then -shortest against the audio.
func (c *Compositor) RenderSentenceClipFromVideo(ctx context.Context, in MotionClipInputs) error {
	width, height, err := parseResolution(in.Settings.Resolution)
	if err != nil {
		return apperr.ValidationErr("invalid resolution %q: %v", in.Settings.Resolution, err)
	}

	fps := in.Settings.FPS
	if fps <= 0 {
		fps = 25
	}

	var vf strings.Builder
	fmt.Fprintf(&vf, "scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d", width, height, width, height)
	for _, ov := range in.Overlays {
		fmt.Fprintf(&vf, ",%s", buildDrawtext(ov))
	}

	args := []string{
		"-i", in.VideoPath,
		"-i", in.AudioPath,
		"-vf", vf.String(),
		"-c:v", in.Settings.VideoCodec,
		"-c:a", in.Settings.AudioCodec,
		"-b:a", in.Settings.AudioBitrate,
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(fps),
		"-shortest",
		"-y",
		in.OutputPath,
	}

	return runFFmpeg(ctx, args)
}

// buildSentenceFilterComplex builds the -filter_complex graph: [0:v] is
// scaled and cropped to cover the target resolution, then zoompan over
// fps*audioSeconds frames with a per-frame zoom increment of zoomSpeed into
// [bg], then every overlay command is chained onto [bg] as a drawtext
// filter producing the final [v0] label RenderSentenceClip maps.
func buildSentenceFilterComplex(width, height, fps int, zoomSpeed, audioSeconds float64, overlays []OverlayCommand) string {
	totalFrames := int(float64(fps) * audioSeconds)
	if totalFrames < fps {
		totalFrames = fps
	}

	var b strings.Builder

	fmt.Fprintf(&b, "[0:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,", width, height, width, height)
	fmt.Fprintf(&b, "zoompan=z='zoom+%g':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=%d:s=%dx%d:fps=%d[bg]",
		zoomSpeed, totalFrames, width, height, fps)

	if len(overlays) == 0 {
		b.WriteString(";[bg]null[v0]")
		return b.String()
	}

	b.WriteString(";[bg]")
	for i, ov := range overlays {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(buildDrawtext(ov))
	}
	b.WriteString("[v0]")

	return b.String()
}

func buildDrawtext(ov OverlayCommand) string {
	return fmt.Sprintf(
		"drawtext=text='%s':x=%s:y=%s:enable='between(t,%g,%g)':%s",
		escapeDrawtextText(ov.TextLine), ov.XExpr, ov.YExpr, ov.Start, ov.End, ov.BoxStyle,
	)
}

// escapeDrawtextText escapes the characters FFmpeg's drawtext filter syntax
// treats specially inside a quoted text value.
func escapeDrawtextText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "'", "’")
	s = strings.ReplaceAll(s, ":", "\\:")
	s = strings.ReplaceAll(s, "%", "\\%")
	return s
}

func parseResolution(res string) (int, int, error) {
	parts := strings.SplitN(res, "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected WIDTHxHEIGHT, got %q", res)
	}
	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad width: %w", err)
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad height: %w", err)
	}
	return width, height, nil
}

// ConcatenateClips writes a concat manifest listing clipPaths in order and
// stream-copies them into a single MP4. No re-encoding happens here: every
// clip was produced by RenderSentenceClip with the same codec and
// resolution, so stream copy is always valid.
func (c *Compositor) ConcatenateClips(ctx context.Context, clipPaths []string, outputPath string) error {
	if len(clipPaths) == 0 {
		return apperr.ValidationErr("no clips to concatenate")
	}

	listPath := filepath.Join(c.tempDir, fmt.Sprintf("concat-%d.txt", len(clipPaths)))
	f, err := os.Create(listPath)
	if err != nil {
		return fmt.Errorf("failed to create concat manifest: %w", err)
	}
	for _, path := range clipPaths {
		fmt.Fprintf(f, "file '%s'\n", escapeConcatManifestPath(path))
	}
	f.Close()
	defer os.Remove(listPath)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		outputPath,
	}

	return runFFmpeg(ctx, args)
}

func escapeConcatManifestPath(path string) string {
	return strings.ReplaceAll(path, "'", "'\\''")
}

// GetAudioDuration returns an audio file's duration in seconds via ffprobe.
func (c *Compositor) GetAudioDuration(ctx context.Context, audioPath string) (float64, error) {
	return ffprobeDuration(ctx, audioPath)
}

// GetVideoDuration returns a video file's duration in seconds via ffprobe.
func (c *Compositor) GetVideoDuration(ctx context.Context, videoPath string) (float64, error) {
	return ffprobeDuration(ctx, videoPath)
}

func ffprobeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, apperr.ExternalErr(err, "ffprobe failed for %s", path)
	}

	var seconds float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &seconds); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe duration %q: %w", string(output), err)
	}
	return seconds, nil
}

// CreateTempFile returns a path inside the compositor's scratch directory.
func (c *Compositor) CreateTempFile(filename string) string {
	return filepath.Join(c.tempDir, filename)
}

// Cleanup best-effort removes scratch files.
func (c *Compositor) Cleanup(paths ...string) {
	for _, path := range paths {
		os.Remove(path)
	}
}

func runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return apperr.ExternalErr(err, "ffmpeg failed: %s", stderr.String())
	}
	return nil
}
