package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateImage(); err != nil {
		return err
	}
	if err := c.validateVideo(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.MusicDir) == "" {
		return errors.New("paths.music_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateImage() error {
	switch c.Image.Provider {
	case "openai", "placeholder":
	default:
		return fmt.Errorf("image.provider must be one of openai, placeholder (got %q)", c.Image.Provider)
	}
	switch c.Image.Format {
	case "png", "jpeg", "jpg":
	default:
		return fmt.Errorf("image.format must be png or jpeg (got %q)", c.Image.Format)
	}
	if _, _, err := ParseResolution(c.Image.Size); err != nil {
		return fmt.Errorf("image.size: %w", err)
	}
	return nil
}

func (c *Config) validateVideo() error {
	switch c.Video.Quality {
	case "draft", "standard", "high":
	default:
		return fmt.Errorf("video.quality must be one of draft, standard, high (got %q)", c.Video.Quality)
	}
	if _, _, err := ParseResolution(c.Video.Resolution); err != nil {
		return fmt.Errorf("video.resolution: %w", err)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	switch c.Pipeline.MissingArtifacts {
	case "warn", "remove", "reset":
	default:
		return fmt.Errorf("pipeline.missing_artifacts must be one of warn, remove, reset (got %q)", c.Pipeline.MissingArtifacts)
	}
	return nil
}

func (c *Config) validateRetry() error {
	rules := map[string]RetryRule{
		"retry.network":        c.Retry.Network,
		"retry.timeout":        c.Retry.Timeout,
		"retry.rate_limit":     c.Retry.RateLimit,
		"retry.authentication": c.Retry.Auth,
		"retry.server_error":   c.Retry.Server,
		"retry.local_io":       c.Retry.LocalIO,
		"retry.unknown":        c.Retry.Unknown,
	}
	for name, rule := range rules {
		if rule.MaxAttempts < 0 {
			return fmt.Errorf("%s.max_attempts must not be negative", name)
		}
		for _, delay := range rule.DelaySeconds {
			if delay < 0 {
				return fmt.Errorf("%s.delay_seconds must not contain negative values", name)
			}
		}
		if rule.MaxAttempts > 0 && len(rule.DelaySeconds) == 0 {
			return fmt.Errorf("%s.delay_seconds must be set when max_attempts is positive", name)
		}
	}
	return nil
}

// ParseResolution splits a WxH string into its dimensions.
func ParseResolution(value string) (int, int, error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(value)), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected WIDTHxHEIGHT, got %q", value)
	}
	width, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid width in %q", value)
	}
	height, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid height in %q", value)
	}
	return width, height, nil
}
