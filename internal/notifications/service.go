package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"loom/internal/config"
)

const (
	userAgent = "loom/0.1.0"

	// ntfy error bodies are short; anything past this is noise.
	errBodyLimit = 2 << 10
)

// Service is the notification surface exposed to the pipeline.
type Service interface {
	NotifyRunStarted(ctx context.Context, count int) error
	NotifyRunCompleted(ctx context.Context, processed, failed int, duration time.Duration) error
	NotifyEntityFailed(ctx context.Context, name, stage, reason string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when a topic
// is configured, otherwise a noop implementation. Run and error events
// are gated independently by the config flags.
func NewService(cfg config.Notifications) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		runs:     cfg.Runs,
		errors:   cfg.Errors,
	}
}

// note carries one rendered notification. Tags are pre-joined into the
// comma form the ntfy header wants.
type note struct {
	title    string
	body     string
	tags     string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	runs     bool
	errors   bool
}

func (n *ntfyService) NotifyRunStarted(ctx context.Context, count int) error {
	if !n.runs {
		return nil
	}
	return n.publish(ctx, note{
		title: "Loom - Run Started",
		body:  fmt.Sprintf("Started pipeline run with %d entities", count),
		tags:  "loom,run,started",
	})
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, processed, failed int, duration time.Duration) error {
	if !n.runs {
		return nil
	}

	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	msg := note{tags: "loom,run,completed"}
	if failed == 0 {
		msg.title = "Loom - Run Complete"
		msg.body = fmt.Sprintf("Pipeline run complete: %d entities processed in %s", processed, duration)
	} else {
		msg.title = "Loom - Run Complete (with errors)"
		msg.body = fmt.Sprintf("Pipeline run complete: %d succeeded, %d failed in %s", processed, failed, duration)
	}
	return n.publish(ctx, msg)
}

func (n *ntfyService) NotifyEntityFailed(ctx context.Context, name, stage, reason string) error {
	if !n.errors {
		return nil
	}

	body := "❌ " + strings.TrimSpace(name) + " failed"
	if stage = strings.TrimSpace(stage); stage != "" {
		body += " at " + stage + " stage"
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unknown"
	}
	body += ": " + reason

	return n.publish(ctx, note{
		title:    "Loom - Stage Failed",
		body:     body,
		tags:     "loom,entity,failed",
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.publish(ctx, note{
		title:    "Loom - Test",
		body:     "🧪 Notification system test",
		tags:     "loom,test",
		priority: "low",
	})
}

func (n *ntfyService) publish(ctx context.Context, msg note) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("compose ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", msg.title)
	req.Header.Set("Tags", msg.tags)
	if msg.priority != "" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver ntfy notification: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		return fmt.Errorf("ntfy status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

type noopService struct{}

func (noopService) NotifyRunStarted(context.Context, int) error                       { return nil }
func (noopService) NotifyRunCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) NotifyEntityFailed(context.Context, string, string, string) error  { return nil }
func (noopService) TestNotification(context.Context) error                            { return nil }
