package artwork

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
	"loom/internal/fileutil"
	"loom/internal/logging"
	"loom/internal/services"
	"loom/internal/stage"
)

// Quota gates paid API calls. A nil quota enforces no budget.
type Quota interface {
	Reserve(ctx context.Context, service string) error
}

// Capability produces the cover image artifact through the configured
// provider. Provider choice happens here at construction; nothing
// downstream branches on it.
type Capability struct {
	cfg      *config.Config
	provider Provider
	quota    Quota
	logger   *slog.Logger
	now      func() time.Time
}

// Option adjusts capability construction.
type Option func(*Capability)

// WithQuota attaches a request budget consulted for metered providers.
func WithQuota(quota Quota) Option {
	return func(c *Capability) { c.quota = quota }
}

// WithProvider substitutes the image provider.
func WithProvider(provider Provider) Option {
	return func(c *Capability) { c.provider = provider }
}

// New builds the image capability, resolving the provider named in
// configuration unless one is injected.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Capability, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Capability{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "artwork"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.provider == nil {
		provider, err := providerFor(cfg)
		if err != nil {
			return nil, err
		}
		c.provider = provider
	}
	return c, nil
}

func providerFor(cfg *config.Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Image.Provider)) {
	case "", "placeholder":
		return NewPlaceholder(), nil
	case "openai":
		return NewOpenAI(cfg.Image), nil
	default:
		return nil, fmt.Errorf("unknown image provider %q", cfg.Image.Provider)
	}
}

// Execute builds the prompt, generates the image, and writes it into
// the image directory.
func (c *Capability) Execute(ctx context.Context, entity *catalog.Entity) (stage.Outcome, error) {
	prompt := BuildPrompt(c.cfg.Image.Style, entity.Style, musicPromptOf(entity))

	if c.quota != nil && c.provider.Metered() {
		if err := c.quota.Reserve(ctx, c.provider.Name()); err != nil {
			return stage.Outcome{}, err
		}
	}

	generated, err := c.provider.Generate(ctx, GenerateRequest{
		Prompt: prompt,
		Size:   c.cfg.Image.Size,
		Format: c.cfg.Image.Format,
	})
	if err != nil {
		return stage.Outcome{}, err
	}

	format := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(generated.Format)), ".")
	if format == "" {
		format = "png"
	}
	dest := filepath.Join(c.cfg.Paths.ImageDir, entity.ID+"."+format)
	if err := fileutil.WriteFileAtomic(dest, generated.Data, 0o644); err != nil {
		return stage.Outcome{}, services.Wrap(services.ErrLocalIO, "image", "save", "write image artifact", err)
	}
	logging.InfoWithContext(ctx, c.logger, "cover image generated",
		logging.String(logging.FieldArtifact, dest),
		logging.String("provider", c.provider.Name()))

	style := strings.TrimSpace(entity.Style)
	if style == "" {
		style = strings.TrimSpace(c.cfg.Image.Style)
	}
	return stage.Outcome{
		ArtifactPath: dest,
		Metadata: map[string]any{
			"prompt_used":  prompt,
			"style":        style,
			"resolution":   c.cfg.Image.Size,
			"format":       format,
			"generated_at": c.now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// Locate reports a cover artifact already present for the entity.
func (c *Capability) Locate(entity *catalog.Entity) (string, bool) {
	for _, ext := range catalog.ArtifactExtensions(catalog.StageImage) {
		candidate := filepath.Join(c.cfg.Paths.ImageDir, entity.ID+ext)
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}

// HealthCheck delegates to the provider.
func (c *Capability) HealthCheck(ctx context.Context) stage.Health {
	if err := c.provider.Ping(ctx); err != nil {
		return stage.Unhealthy(c.provider.Name(), err.Error())
	}
	return stage.Healthy(c.provider.Name())
}

// musicPromptOf prefers the prompt the music stage actually used over
// the entity's own field.
func musicPromptOf(entity *catalog.Entity) string {
	if record, ok := entity.Stages[catalog.StageMusic]; ok && record != nil && record.Metadata != nil {
		if prompt, ok := record.Metadata["prompt"].(string); ok && strings.TrimSpace(prompt) != "" {
			return prompt
		}
	}
	return entity.Prompt
}
