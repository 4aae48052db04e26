package ffmpegcmd

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"loom/internal/services"
)

// Quality selects an encoding tier. Tiers trade encode time for output
// size and fidelity; draft exists for local iteration.
type Quality string

const (
	QualityDraft    Quality = "draft"
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
)

type qualitySettings struct {
	crf   int
	speed string
}

var qualityTable = map[Quality]qualitySettings{
	QualityDraft:    {crf: 28, speed: "ultrafast"},
	QualityStandard: {crf: 23, speed: "medium"},
	QualityHigh:     {crf: 18, speed: "slow"},
}

// ParseQuality validates a configured quality tier.
func ParseQuality(value string) (Quality, error) {
	quality := Quality(strings.ToLower(strings.TrimSpace(value)))
	if quality == "" {
		return QualityStandard, nil
	}
	if _, ok := qualityTable[quality]; !ok {
		return "", fmt.Errorf("unknown quality tier %q", value)
	}
	return quality, nil
}

// ComposeSpec describes one still-image video composition.
type ComposeSpec struct {
	ImagePath  string
	AudioPath  string
	OutputPath string
	// Width and Height bound the frame; the image is scaled to fit and
	// padded with black. Zero leaves the source dimensions untouched.
	Width  int
	Height int
	FPS    int
	Quality      Quality
	AudioBitrate string
	// DurationSeconds caps the output length. Zero relies on -shortest
	// alone.
	DurationSeconds float64
}

// ComposeArgs builds the ffmpeg argument list for a composition.
func ComposeArgs(spec ComposeSpec) ([]string, error) {
	if strings.TrimSpace(spec.ImagePath) == "" {
		return nil, errors.New("compose: image path required")
	}
	if strings.TrimSpace(spec.AudioPath) == "" {
		return nil, errors.New("compose: audio path required")
	}
	if strings.TrimSpace(spec.OutputPath) == "" {
		return nil, errors.New("compose: output path required")
	}
	quality := spec.Quality
	if quality == "" {
		quality = QualityStandard
	}
	settings, ok := qualityTable[quality]
	if !ok {
		return nil, fmt.Errorf("compose: unknown quality tier %q", quality)
	}
	bitrate := strings.TrimSpace(spec.AudioBitrate)
	if bitrate == "" {
		bitrate = "192k"
	}

	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-loop", "1",
		"-i", spec.ImagePath,
		"-i", spec.AudioPath,
		"-c:v", "libx264",
		"-tune", "stillimage",
		"-crf", strconv.Itoa(settings.crf),
		"-preset", settings.speed,
	}
	if spec.Width > 0 && spec.Height > 0 {
		args = append(args, "-vf", scalePadFilter(spec.Width, spec.Height))
	}
	if spec.FPS > 0 {
		args = append(args, "-r", strconv.Itoa(spec.FPS))
	}
	args = append(args, "-c:a", "aac", "-b:a", bitrate)
	if spec.DurationSeconds > 0 {
		args = append(args, "-t", strconv.FormatFloat(spec.DurationSeconds, 'f', -1, 64))
	}
	args = append(args, "-shortest", "-pix_fmt", "yuv420p", spec.OutputPath)
	return args, nil
}

// Compose renders a still image plus an audio track into a video file.
func Compose(ctx context.Context, binary string, spec ComposeSpec) error {
	args, err := ComposeArgs(spec)
	if err != nil {
		return err
	}
	return run(ctx, binary, "compose", args)
}

// ThumbnailSpec describes a single-frame extraction from a video.
type ThumbnailSpec struct {
	VideoPath  string
	OutputPath string
	AtSeconds  float64
	Width      int
	Height     int
}

// ThumbnailArgs builds the ffmpeg argument list for a thumbnail grab.
func ThumbnailArgs(spec ThumbnailSpec) ([]string, error) {
	if strings.TrimSpace(spec.VideoPath) == "" {
		return nil, errors.New("thumbnail: video path required")
	}
	if strings.TrimSpace(spec.OutputPath) == "" {
		return nil, errors.New("thumbnail: output path required")
	}
	at := spec.AtSeconds
	if at < 0 {
		at = 0
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", spec.VideoPath,
		"-ss", FormatTimestamp(at),
		"-vframes", "1",
	}
	if spec.Width > 0 && spec.Height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", spec.Width, spec.Height))
	}
	args = append(args, spec.OutputPath)
	return args, nil
}

// Thumbnail extracts a single frame from a rendered video.
func Thumbnail(ctx context.Context, binary string, spec ThumbnailSpec) error {
	args, err := ThumbnailArgs(spec)
	if err != nil {
		return err
	}
	return run(ctx, binary, "thumbnail", args)
}

// Version runs ffmpeg -version and returns the parsed version token.
func Version(ctx context.Context, binary string) (string, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	output, err := exec.CommandContext(ctx, binary, "-version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg version: %w", err)
	}
	firstLine, _, _ := strings.Cut(string(output), "\n")
	_, rest, found := strings.Cut(firstLine, "version")
	if !found {
		return "", fmt.Errorf("ffmpeg version: unrecognized banner %q", strings.TrimSpace(firstLine))
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", fmt.Errorf("ffmpeg version: unrecognized banner %q", strings.TrimSpace(firstLine))
	}
	return fields[0], nil
}

// FormatTimestamp renders seconds in the HH:MM:SS.mmm form ffmpeg
// accepts for seek offsets.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	whole := int(seconds)
	hours := whole / 3600
	minutes := (whole % 3600) / 60
	secs := whole % 60
	millis := int((seconds - float64(whole)) * 1000)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, secs, millis)
}

func scalePadFilter(width, height int) string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black",
		width, height, width, height)
}

func run(ctx context.Context, binary, op string, args []string) error {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return services.Wrap(services.ErrTimeout, "video", op, "ffmpeg timed out", err)
	case errors.Is(err, exec.ErrNotFound):
		return services.Wrap(services.ErrLocalIO, "video", op, fmt.Sprintf("ffmpeg binary %q not found", binary), err)
	default:
		detail := strings.TrimSpace(string(output))
		if detail == "" {
			detail = "ffmpeg failed"
		}
		return services.Wrap(nil, "video", op, detail, err)
	}
}
