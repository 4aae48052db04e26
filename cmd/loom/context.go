package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"loom/internal/artwork"
	"loom/internal/catalog"
	"loom/internal/checkpoint"
	"loom/internal/config"
	"loom/internal/failqueue"
	"loom/internal/logging"
	"loom/internal/musicgen"
	"loom/internal/notifications"
	"loom/internal/pipeline"
	"loom/internal/quota"
	"loom/internal/rendering"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// runtime is the fully wired processing stack one command invocation
// uses: stores, capabilities with the shared quota ledger attached, and
// the orchestrator on top.
type runtime struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *catalog.Store
	failures    *failqueue.Queue
	checkpoints *checkpoint.Manager
	quota       *quota.Ledger
	notifier    notifications.Service
	orch        *pipeline.Orchestrator
}

func (c *commandContext) openRuntime() (*runtime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	store, err := catalog.NewStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	failures, err := failqueue.NewQueue(cfg, logger)
	if err != nil {
		return nil, err
	}
	checkpoints, err := checkpoint.NewManager(cfg, logger)
	if err != nil {
		return nil, err
	}
	ledger, err := quota.Open(cfg, logger)
	if err != nil {
		return nil, err
	}

	image, err := artwork.New(cfg, logger, artwork.WithQuota(ledger))
	if err != nil {
		_ = ledger.Close()
		return nil, err
	}
	notifier := notifications.NewService(cfg.Notifications)

	orch, err := pipeline.New(pipeline.Options{
		Config:      cfg,
		Store:       store,
		Failures:    failures,
		Checkpoints: checkpoints,
		Capabilities: pipeline.Capabilities{
			Music: musicgen.New(cfg, logger, musicgen.WithQuota(ledger)),
			Image: image,
			Video: rendering.New(cfg, logger),
		},
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		_ = ledger.Close()
		return nil, err
	}

	return &runtime{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		failures:    failures,
		checkpoints: checkpoints,
		quota:       ledger,
		notifier:    notifier,
		orch:        orch,
	}, nil
}

func (r *runtime) Close() {
	if r.quota != nil {
		if err := r.quota.Close(); err != nil {
			r.logger.Warn("failed to close quota ledger", logging.Error(err))
		}
	}
}

func (c *commandContext) withRuntime(fn func(*runtime) error) error {
	rt, err := c.openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

// signalContext derives a context cancelled by SIGINT or SIGTERM, so an
// operator's interrupt halts the batch between stage attempts.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
