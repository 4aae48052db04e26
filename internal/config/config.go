package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration for artifacts and state.
type Paths struct {
	MusicDir     string `toml:"music_dir"`
	ImageDir     string `toml:"image_dir"`
	VideoDir     string `toml:"video_dir"`
	ThumbnailDir string `toml:"thumbnail_dir"`
	StateDir     string `toml:"state_dir"`
	ReportDir    string `toml:"report_dir"`
	LogDir       string `toml:"log_dir"`
}

// Suno contains configuration for the music generation API.
type Suno struct {
	BaseURL           string `toml:"base_url"`
	APIKey            string `toml:"api_key"`
	Model             string `toml:"model"`
	RequestTimeout    int    `toml:"request_timeout"`
	PollInterval      int    `toml:"poll_interval"`
	GenerationTimeout int    `toml:"generation_timeout"`
}

// Image contains configuration for cover image generation.
type Image struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Size           string `toml:"size"`
	Format         string `toml:"format"`
	Style          string `toml:"style"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Video contains configuration for video composition.
type Video struct {
	Resolution       string  `toml:"resolution"`
	FPS              int     `toml:"fps"`
	Quality          string  `toml:"quality"`
	AudioBitrate     string  `toml:"audio_bitrate"`
	ThumbnailEnabled bool    `toml:"thumbnail_enabled"`
	ThumbnailTime    float64 `toml:"thumbnail_time"`
	RenderTimeout    int     `toml:"render_timeout"`
}

// Pipeline contains batch execution configuration.
type Pipeline struct {
	Workers          int    `toml:"workers"`
	Limit            int    `toml:"limit"`
	MissingArtifacts string `toml:"missing_artifacts"`
	ScanBeforeRun    bool   `toml:"scan_before_run"`
}

// RetryRule configures retry behaviour for one error kind. DelaySeconds is
// indexed by retry number; the last entry repeats when MaxAttempts exceeds
// the schedule length.
type RetryRule struct {
	MaxAttempts  int   `toml:"max_attempts"`
	DelaySeconds []int `toml:"delay_seconds"`
}

// Retry contains the per-kind retry table.
type Retry struct {
	Network   RetryRule `toml:"network"`
	Timeout   RetryRule `toml:"timeout"`
	RateLimit RetryRule `toml:"rate_limit"`
	Auth      RetryRule `toml:"authentication"`
	Server    RetryRule `toml:"server_error"`
	LocalIO   RetryRule `toml:"local_io"`
	Unknown   RetryRule `toml:"unknown"`
}

// Quota contains request budget configuration for the generation services.
type Quota struct {
	Enabled           bool   `toml:"enabled"`
	Path              string `toml:"path"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	DailyLimit        int    `toml:"daily_limit"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Runs           bool   `toml:"runs"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config encapsulates all configuration values for Loom.
//
// Configuration sections by subsystem:
//   - Paths: artifact, state, report, and log directories
//   - Suno: music generation API connection and polling cadence
//   - Image: cover image provider selection and parameters
//   - Video: composition resolution, quality tier, and thumbnails
//   - Pipeline: worker count, per-stage limits, reconciliation policy
//   - Retry: per-error-kind retry attempts and delay schedules
//   - Quota: request pacing and daily budgets for paid services
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Suno          Suno          `toml:"suno"`
	Image         Image         `toml:"image"`
	Video         Video         `toml:"video"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Retry         Retry         `toml:"retry"`
	Quota         Quota         `toml:"quota"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/loom/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. A missing file is
// not an error; defaults apply and the bool reports whether a file was
// actually read.
func Load(path string) (*Config, string, bool, error) {
	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	cfg := Default()
	if exists {
		raw, err := os.ReadFile(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

// resolveConfigPath picks the file Load reads. An explicit path wins
// even when absent; otherwise the user config is preferred over a
// loom.toml in the working directory.
func resolveConfigPath(path string) (string, bool, error) {
	if strings.TrimSpace(path) != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		switch _, statErr := os.Stat(expanded); {
		case statErr == nil:
			return expanded, true, nil
		case errors.Is(statErr, fs.ErrNotExist):
			return expanded, false, nil
		default:
			return "", false, fmt.Errorf("stat config: %w", statErr)
		}
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("loom.toml")
	if err != nil {
		return "", false, err
	}

	for _, candidate := range []string{defaultPath, projectPath} {
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return candidate, true, nil
		}
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the directories runs depend on.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.MusicDir,
		c.Paths.ImageDir,
		c.Paths.VideoDir,
		c.Paths.StateDir,
		c.Paths.ReportDir,
		c.Paths.LogDir,
	}
	if c.Video.ThumbnailEnabled {
		dirs = append(dirs, c.Paths.ThumbnailDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// EntityStorePath returns the path of the persisted entity collection.
func (c *Config) EntityStorePath() string {
	return filepath.Join(c.Paths.StateDir, "entities.json")
}

// FailureQueuePath returns the path of the persisted failure queue.
func (c *Config) FailureQueuePath() string {
	return filepath.Join(c.Paths.StateDir, "failed_tasks.json")
}

// CheckpointPath returns the path of the checkpoint record.
func (c *Config) CheckpointPath() string {
	return filepath.Join(c.Paths.StateDir, "checkpoint.json")
}

// StoreLockPath returns the cross-process lock file guarding state writes.
func (c *Config) StoreLockPath() string {
	return filepath.Join(c.Paths.StateDir, "state.lock")
}

// RunLockPath returns the lock file that keeps batch runs single-instance.
func (c *Config) RunLockPath() string {
	return filepath.Join(c.Paths.StateDir, "run.lock")
}

// QuotaPath returns the sqlite path backing the request ledger.
func (c *Config) QuotaPath() string {
	if strings.TrimSpace(c.Quota.Path) != "" {
		return c.Quota.Path
	}
	return filepath.Join(c.Paths.StateDir, "quota.db")
}

// FFmpegBinary returns the ffmpeg executable name used for composition.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// expandPath turns a user-supplied path into an absolute one. A bare
// "~" or a "~/" prefix resolves against the home directory; "~user"
// forms are left alone.
func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return "", nil
	}
	if rest, ok := strings.CutPrefix(pathValue, "~"); ok {
		if rest == "" || rest[0] == '/' || rest[0] == '\\' {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("resolve home directory: %w", err)
			}
			pathValue = filepath.Join(home, strings.TrimLeft(rest, `/\`))
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes the embedded sample configuration to path,
// creating parent directories as needed.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
