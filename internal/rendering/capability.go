package rendering

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/media/ffprobe"
	"loom/internal/services"
	"loom/internal/services/ffmpegcmd"
	"loom/internal/stage"
)

const (
	defaultRenderTimeout = 15 * time.Minute
	defaultThumbnailAt   = 5.0
	thumbnailWidth       = 1280
	thumbnailHeight      = 720
)

// Capability composes the cover image and the generated audio into the
// final video artifact, with an optional thumbnail grab.
type Capability struct {
	cfg    *config.Config
	logger *slog.Logger

	compose   func(ctx context.Context, binary string, spec ffmpegcmd.ComposeSpec) error
	thumbnail func(ctx context.Context, binary string, spec ffmpegcmd.ThumbnailSpec) error
	version   func(ctx context.Context, binary string) (string, error)
	probe     func(ctx context.Context, binary, path string) (ffprobe.Report, error)
	now       func() time.Time
}

// New builds the video capability from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Capability {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Capability{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "rendering"),
		compose:   ffmpegcmd.Compose,
		thumbnail: ffmpegcmd.Thumbnail,
		version:   ffmpegcmd.Version,
		probe:     ffprobe.Inspect,
		now:       time.Now,
	}
}

// Execute renders video_dir/<id>.mp4 from the prior stages' artifacts.
func (c *Capability) Execute(ctx context.Context, entity *catalog.Entity) (stage.Outcome, error) {
	audioPath, err := c.resolveInput(entity, catalog.StageMusic, c.cfg.Paths.MusicDir)
	if err != nil {
		return stage.Outcome{}, err
	}
	imagePath, err := c.resolveInput(entity, catalog.StageImage, c.cfg.Paths.ImageDir)
	if err != nil {
		return stage.Outcome{}, err
	}

	width, height, err := parseResolution(c.cfg.Video.Resolution)
	if err != nil {
		return stage.Outcome{}, err
	}
	quality, err := ffmpegcmd.ParseQuality(c.cfg.Video.Quality)
	if err != nil {
		return stage.Outcome{}, err
	}

	dest := filepath.Join(c.cfg.Paths.VideoDir, entity.ID+".mp4")
	timeout := time.Duration(c.cfg.Video.RenderTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultRenderTimeout
	}
	renderCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.compose(renderCtx, c.cfg.FFmpegBinary(), ffmpegcmd.ComposeSpec{
		ImagePath:    imagePath,
		AudioPath:    audioPath,
		OutputPath:   dest,
		Width:        width,
		Height:       height,
		FPS:          c.cfg.Video.FPS,
		Quality:      quality,
		AudioBitrate: c.cfg.Video.AudioBitrate,
	}); err != nil {
		return stage.Outcome{}, err
	}

	report, err := c.probe(ctx, c.cfg.FFprobeBinary(), dest)
	if err != nil {
		// A render that fails verification must not satisfy a later
		// Locate.
		_ = os.Remove(dest)
		return stage.Outcome{}, services.Wrap(services.ErrLocalIO, "video", "probe",
			"rendered video failed verification", err)
	}
	duration := report.DurationSeconds()
	if !report.HasStream("video") || duration <= 0 {
		_ = os.Remove(dest)
		return stage.Outcome{}, services.Wrap(services.ErrLocalIO, "video", "probe",
			"rendered file carries no video stream", nil)
	}

	// Record what actually landed, not what was requested.
	resolution := c.cfg.Video.Resolution
	if w, h := report.Resolution(); w > 0 {
		resolution = fmt.Sprintf("%dx%d", w, h)
	}
	metadata := map[string]any{
		"resolution":       resolution,
		"duration_seconds": duration,
		"generated_at":     c.now().UTC().Format(time.RFC3339),
	}
	if c.cfg.Video.ThumbnailEnabled {
		// A failed thumbnail never fails the stage.
		if thumbPath, thumbErr := c.extractThumbnail(ctx, entity.ID, dest); thumbErr != nil {
			logging.WarnWithContext(ctx, c.logger, "thumbnail extraction failed",
				logging.Error(thumbErr))
		} else {
			metadata["thumbnail_path"] = thumbPath
		}
	}

	logging.InfoWithContext(ctx, c.logger, "video rendered",
		logging.String(logging.FieldArtifact, dest),
		logging.Float64("duration_seconds", duration))
	return stage.Outcome{ArtifactPath: dest, Metadata: metadata}, nil
}

// resolveInput returns a prior stage's artifact, preferring the
// recorded path and falling back to the conventional location.
func (c *Capability) resolveInput(entity *catalog.Entity, prereq catalog.Stage, dir string) (string, error) {
	if record, ok := entity.Stages[prereq]; ok && record != nil {
		if recorded := strings.TrimSpace(record.ArtifactPath); recorded != "" {
			if info, err := os.Stat(recorded); err == nil && info.Mode().IsRegular() {
				return recorded, nil
			}
		}
	}
	for _, ext := range catalog.ArtifactExtensions(prereq) {
		candidate := filepath.Join(dir, entity.ID+ext)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, nil
		}
	}
	return "", services.Wrap(services.ErrLocalIO, "video", "resolve",
		fmt.Sprintf("%s artifact missing for %s", prereq, entity.ID), nil)
}

func (c *Capability) extractThumbnail(ctx context.Context, entityID, videoPath string) (string, error) {
	at := c.cfg.Video.ThumbnailTime
	if at <= 0 {
		at = defaultThumbnailAt
	}
	dest := filepath.Join(c.cfg.Paths.ThumbnailDir, entityID+".jpg")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create thumbnail dir: %w", err)
	}
	if err := c.thumbnail(ctx, c.cfg.FFmpegBinary(), ffmpegcmd.ThumbnailSpec{
		VideoPath:  videoPath,
		OutputPath: dest,
		AtSeconds:  at,
		Width:      thumbnailWidth,
		Height:     thumbnailHeight,
	}); err != nil {
		return "", err
	}
	return dest, nil
}

// Locate reports a video artifact already present for the entity.
func (c *Capability) Locate(entity *catalog.Entity) (string, bool) {
	for _, ext := range catalog.ArtifactExtensions(catalog.StageVideo) {
		candidate := filepath.Join(c.cfg.Paths.VideoDir, entity.ID+ext)
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}

// HealthCheck confirms the ffmpeg binary responds.
func (c *Capability) HealthCheck(ctx context.Context) stage.Health {
	if _, err := c.version(ctx, c.cfg.FFmpegBinary()); err != nil {
		return stage.Unhealthy("ffmpeg", err.Error())
	}
	return stage.Healthy("ffmpeg")
}

func parseResolution(value string) (width, height int, err error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(value)), "x", 2)
	if len(parts) == 2 {
		width, werr := strconv.Atoi(parts[0])
		height, herr := strconv.Atoi(parts[1])
		if werr == nil && herr == nil && width > 0 && height > 0 {
			return width, height, nil
		}
	}
	return 0, 0, fmt.Errorf("resolution %q not in WxH form", value)
}
