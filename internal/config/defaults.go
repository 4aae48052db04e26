package config

const (
	defaultMusicDir     = "~/.local/share/loom/music"
	defaultImageDir     = "~/.local/share/loom/images"
	defaultVideoDir     = "~/.local/share/loom/videos"
	defaultThumbnailDir = "~/.local/share/loom/thumbnails"
	defaultStateDir     = "~/.local/share/loom/state"
	defaultReportDir    = "~/.local/share/loom/reports"
	defaultLogDir       = "~/.local/share/loom/logs"

	defaultSunoBaseURL           = "https://api.sunoapi.org"
	defaultSunoModel             = "chirp-v4"
	defaultSunoRequestTimeout    = 30
	defaultSunoPollInterval      = 10
	defaultSunoGenerationTimeout = 600

	defaultImageProvider       = "placeholder"
	defaultImageBaseURL        = "https://api.openai.com/v1"
	defaultImageModel          = "gpt-image-1"
	defaultImageSize           = "1024x1024"
	defaultImageFormat         = "png"
	defaultImageStyle          = "album cover art"
	defaultImageRequestTimeout = 120

	defaultVideoResolution    = "1920x1080"
	defaultVideoFPS           = 30
	defaultVideoQuality       = "standard"
	defaultVideoAudioBitrate  = "192k"
	defaultVideoThumbnailTime = 1.0
	defaultVideoRenderTimeout = 900

	defaultPipelineWorkers          = 1
	defaultPipelineMissingArtifacts = "warn"

	defaultQuotaRequestsPerMinute = 10
	defaultQuotaDailyLimit        = 60

	defaultNotifyRequestTimeout = 10

	defaultLogLevel  = "info"
	defaultLogFormat = "auto"
)

// Default returns a Config populated with repository defaults. The retry
// table carries the shipped per-kind schedules; decoding a config file on
// top only overrides the kinds the operator names.
func Default() Config {
	return Config{
		Paths: Paths{
			MusicDir:     defaultMusicDir,
			ImageDir:     defaultImageDir,
			VideoDir:     defaultVideoDir,
			ThumbnailDir: defaultThumbnailDir,
			StateDir:     defaultStateDir,
			ReportDir:    defaultReportDir,
			LogDir:       defaultLogDir,
		},
		Suno: Suno{
			BaseURL:           defaultSunoBaseURL,
			Model:             defaultSunoModel,
			RequestTimeout:    defaultSunoRequestTimeout,
			PollInterval:      defaultSunoPollInterval,
			GenerationTimeout: defaultSunoGenerationTimeout,
		},
		Image: Image{
			Provider:       defaultImageProvider,
			BaseURL:        defaultImageBaseURL,
			Model:          defaultImageModel,
			Size:           defaultImageSize,
			Format:         defaultImageFormat,
			Style:          defaultImageStyle,
			RequestTimeout: defaultImageRequestTimeout,
		},
		Video: Video{
			Resolution:       defaultVideoResolution,
			FPS:              defaultVideoFPS,
			Quality:          defaultVideoQuality,
			AudioBitrate:     defaultVideoAudioBitrate,
			ThumbnailEnabled: true,
			ThumbnailTime:    defaultVideoThumbnailTime,
			RenderTimeout:    defaultVideoRenderTimeout,
		},
		Pipeline: Pipeline{
			Workers:          defaultPipelineWorkers,
			MissingArtifacts: defaultPipelineMissingArtifacts,
		},
		Retry: Retry{
			Network:   RetryRule{MaxAttempts: 3, DelaySeconds: []int{0, 2, 4}},
			Timeout:   RetryRule{MaxAttempts: 3, DelaySeconds: []int{5, 10, 20}},
			RateLimit: RetryRule{MaxAttempts: 5, DelaySeconds: []int{60}},
			Auth:      RetryRule{MaxAttempts: 0},
			Server:    RetryRule{MaxAttempts: 3, DelaySeconds: []int{10, 20, 40}},
			LocalIO:   RetryRule{MaxAttempts: 2, DelaySeconds: []int{1}},
			Unknown:   RetryRule{MaxAttempts: 0},
		},
		Quota: Quota{
			Enabled:           true,
			RequestsPerMinute: defaultQuotaRequestsPerMinute,
			DailyLimit:        defaultQuotaDailyLimit,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Runs:           true,
			Errors:         true,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
