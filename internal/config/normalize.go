package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeQuota(); err != nil {
		return err
	}
	c.normalizeSuno()
	c.normalizeImage()
	c.normalizeVideo()
	c.normalizePipeline()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.MusicDir, err = expandPath(c.Paths.MusicDir); err != nil {
		return fmt.Errorf("paths.music_dir: %w", err)
	}
	if c.Paths.ImageDir, err = expandPath(c.Paths.ImageDir); err != nil {
		return fmt.Errorf("paths.image_dir: %w", err)
	}
	if c.Paths.VideoDir, err = expandPath(c.Paths.VideoDir); err != nil {
		return fmt.Errorf("paths.video_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ThumbnailDir) == "" {
		c.Paths.ThumbnailDir = defaultThumbnailDir
	}
	if c.Paths.ThumbnailDir, err = expandPath(c.Paths.ThumbnailDir); err != nil {
		return fmt.Errorf("paths.thumbnail_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ReportDir) == "" {
		c.Paths.ReportDir = defaultReportDir
	}
	if c.Paths.ReportDir, err = expandPath(c.Paths.ReportDir); err != nil {
		return fmt.Errorf("paths.report_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeSuno() {
	c.Suno.BaseURL = strings.TrimRight(strings.TrimSpace(c.Suno.BaseURL), "/")
	c.Suno.APIKey = strings.TrimSpace(c.Suno.APIKey)
	c.Suno.Model = strings.TrimSpace(c.Suno.Model)
	if c.Suno.RequestTimeout <= 0 {
		c.Suno.RequestTimeout = defaultSunoRequestTimeout
	}
	if c.Suno.PollInterval <= 0 {
		c.Suno.PollInterval = defaultSunoPollInterval
	}
	if c.Suno.GenerationTimeout <= 0 {
		c.Suno.GenerationTimeout = defaultSunoGenerationTimeout
	}
}

func (c *Config) normalizeImage() {
	c.Image.Provider = strings.ToLower(strings.TrimSpace(c.Image.Provider))
	if c.Image.Provider == "" {
		c.Image.Provider = defaultImageProvider
	}
	c.Image.BaseURL = strings.TrimRight(strings.TrimSpace(c.Image.BaseURL), "/")
	c.Image.APIKey = strings.TrimSpace(c.Image.APIKey)
	c.Image.Format = strings.ToLower(strings.TrimSpace(c.Image.Format))
	if c.Image.Format == "" {
		c.Image.Format = defaultImageFormat
	}
	if strings.TrimSpace(c.Image.Size) == "" {
		c.Image.Size = defaultImageSize
	}
	if c.Image.RequestTimeout <= 0 {
		c.Image.RequestTimeout = defaultImageRequestTimeout
	}
}

func (c *Config) normalizeVideo() {
	c.Video.Quality = strings.ToLower(strings.TrimSpace(c.Video.Quality))
	if c.Video.Quality == "" {
		c.Video.Quality = defaultVideoQuality
	}
	if strings.TrimSpace(c.Video.Resolution) == "" {
		c.Video.Resolution = defaultVideoResolution
	}
	if c.Video.FPS <= 0 {
		c.Video.FPS = defaultVideoFPS
	}
	if strings.TrimSpace(c.Video.AudioBitrate) == "" {
		c.Video.AudioBitrate = defaultVideoAudioBitrate
	}
	if c.Video.ThumbnailTime < 0 {
		c.Video.ThumbnailTime = defaultVideoThumbnailTime
	}
	if c.Video.RenderTimeout <= 0 {
		c.Video.RenderTimeout = defaultVideoRenderTimeout
	}
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = defaultPipelineWorkers
	}
	if c.Pipeline.Limit < 0 {
		c.Pipeline.Limit = 0
	}
	c.Pipeline.MissingArtifacts = strings.ToLower(strings.TrimSpace(c.Pipeline.MissingArtifacts))
	if c.Pipeline.MissingArtifacts == "" {
		c.Pipeline.MissingArtifacts = defaultPipelineMissingArtifacts
	}
}

func (c *Config) normalizeQuota() error {
	if strings.TrimSpace(c.Quota.Path) != "" {
		expanded, err := expandPath(c.Quota.Path)
		if err != nil {
			return fmt.Errorf("quota.path: %w", err)
		}
		c.Quota.Path = expanded
	}
	if c.Quota.RequestsPerMinute < 0 {
		c.Quota.RequestsPerMinute = 0
	}
	if c.Quota.DailyLimit < 0 {
		c.Quota.DailyLimit = 0
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}
