package musicgen

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/media/ffprobe"
	"loom/internal/services"
	"loom/internal/services/suno"
	"loom/internal/stage"
)

// serviceName is the quota ledger account charged per submission.
const serviceName = "suno"

// Quota gates paid API submissions. A nil quota enforces no budget.
type Quota interface {
	Reserve(ctx context.Context, service string) error
}

// Capability produces the music artifact through the Suno API:
// submit, poll until the task settles, download, verify.
type Capability struct {
	cfg    *config.Config
	client *suno.Client
	quota  Quota
	logger *slog.Logger

	probe func(ctx context.Context, binary, path string) (ffprobe.Report, error)
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option adjusts capability construction.
type Option func(*Capability)

// WithQuota attaches a request budget consulted before each submission.
func WithQuota(quota Quota) Option {
	return func(c *Capability) { c.quota = quota }
}

// WithClient substitutes the Suno API client.
func WithClient(client *suno.Client) Option {
	return func(c *Capability) { c.client = client }
}

// New builds the music capability from configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Capability {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Capability{
		cfg:    cfg,
		client: suno.NewClient(cfg.Suno),
		logger: logging.NewComponentLogger(logger, "musicgen"),
		probe:  ffprobe.Inspect,
		now:    time.Now,
	}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute submits a generation request, waits for the task to finish,
// and streams the audio into the music directory.
func (c *Capability) Execute(ctx context.Context, entity *catalog.Entity) (stage.Outcome, error) {
	prompt := buildPrompt(entity)
	if c.quota != nil {
		if err := c.quota.Reserve(ctx, serviceName); err != nil {
			return stage.Outcome{}, err
		}
	}

	taskID, err := c.client.Submit(ctx, suno.GenerationRequest{
		Prompt:       prompt,
		Style:        strings.TrimSpace(entity.Style),
		Instrumental: true,
	})
	if err != nil {
		return stage.Outcome{}, err
	}
	logging.InfoWithContext(ctx, c.logger, "generation submitted",
		logging.String("task_id", taskID))

	task, err := c.await(ctx, taskID)
	if err != nil {
		return stage.Outcome{}, err
	}

	dest := filepath.Join(c.cfg.Paths.MusicDir, entity.ID+".mp3")
	if err := c.client.Fetch(ctx, task.AudioURL, dest); err != nil {
		return stage.Outcome{}, err
	}

	report, err := c.probe(ctx, c.cfg.FFprobeBinary(), dest)
	if err != nil {
		// A file that failed verification must not satisfy a later
		// Locate.
		_ = os.Remove(dest)
		return stage.Outcome{}, services.Wrap(services.ErrLocalIO, "music", "probe",
			"downloaded audio failed verification", err)
	}
	duration := report.DurationSeconds()
	if !report.HasStream("audio") || duration <= 0 {
		_ = os.Remove(dest)
		return stage.Outcome{}, services.Wrap(services.ErrLocalIO, "music", "probe",
			"downloaded file is not playable audio", nil)
	}
	logging.InfoWithContext(ctx, c.logger, "audio downloaded",
		logging.String(logging.FieldArtifact, dest),
		logging.Float64("duration_seconds", duration))

	return stage.Outcome{
		ArtifactPath: dest,
		Metadata: map[string]any{
			"suno_task_id":     task.ID,
			"prompt":           prompt,
			"duration_seconds": duration,
			"generated_at":     c.now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// await polls the task until it completes, fails, or the generation
// budget runs out. The budget exhausting classifies as a timeout so the
// retry table treats it like any other overrun.
func (c *Capability) await(ctx context.Context, taskID string) (suno.Task, error) {
	interval := time.Duration(c.cfg.Suno.PollInterval) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	budget := time.Duration(c.cfg.Suno.GenerationTimeout) * time.Second
	if budget <= 0 {
		budget = 10 * time.Minute
	}
	deadline := c.now().Add(budget)

	task := suno.Task{ID: taskID, Status: suno.StatePending}
	for {
		switch task.Status {
		case suno.StateCompleted:
			if strings.TrimSpace(task.AudioURL) == "" {
				return task, services.Wrap(nil, "music", "generate",
					"task completed without audio url", nil)
			}
			return task, nil
		case suno.StateFailed:
			detail := strings.TrimSpace(task.Error)
			if detail == "" {
				detail = "generation failed upstream"
			}
			return task, services.Wrap(nil, "music", "generate", detail, nil)
		}
		if !c.now().Before(deadline) {
			return task, services.Wrap(services.ErrTimeout, "music", "generate",
				fmt.Sprintf("no result within %s", budget), nil)
		}
		if err := c.sleep(ctx, interval); err != nil {
			return task, err
		}
		refreshed, err := c.client.Poll(ctx, taskID)
		if err != nil {
			return task, err
		}
		task = refreshed
	}
}

// Locate reports an audio artifact already present for the entity.
func (c *Capability) Locate(entity *catalog.Entity) (string, bool) {
	for _, ext := range catalog.ArtifactExtensions(catalog.StageMusic) {
		candidate := filepath.Join(c.cfg.Paths.MusicDir, entity.ID+ext)
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}

// HealthCheck verifies credentials and API reachability.
func (c *Capability) HealthCheck(ctx context.Context) stage.Health {
	if err := c.client.Ping(ctx); err != nil {
		return stage.Unhealthy(serviceName, err.Error())
	}
	return stage.Healthy(serviceName)
}

// buildPrompt falls back to a style-derived prompt when the entity
// carries none.
func buildPrompt(entity *catalog.Entity) string {
	if prompt := strings.TrimSpace(entity.Prompt); prompt != "" {
		return prompt
	}
	style := strings.TrimSpace(entity.Style)
	if style == "" {
		style = "ambient"
	}
	if title := strings.TrimSpace(entity.Title); title != "" {
		return fmt.Sprintf("%s, an instrumental %s track", title, style)
	}
	return fmt.Sprintf("An instrumental %s track", style)
}
