package suno

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"loom/internal/config"
	"loom/internal/services"
)

const (
	submitPath     = "/v1/generate"
	statusPath     = "/v1/status/"
	healthPath     = "/health"
	defaultTimeout = 30 * time.Second

	maxBodySnippet = 200
)

// TaskState is the lifecycle state a generation task reports.
type TaskState string

const (
	StatePending    TaskState = "pending"
	StateProcessing TaskState = "processing"
	StateCompleted  TaskState = "completed"
	StateFailed     TaskState = "failed"
)

// Terminal reports whether the task will not change state again.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Task is the polled view of a generation request.
type Task struct {
	ID       string    `json:"task_id"`
	Status   TaskState `json:"status"`
	Progress int       `json:"progress"`
	AudioURL string    `json:"audio_url"`
	Error    string    `json:"error"`
}

// GenerationRequest describes one track to generate.
type GenerationRequest struct {
	Prompt          string
	Style           string
	DurationSeconds int
	Instrumental    bool
}

// Client wraps a Suno-compatible music generation API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base (useful for tests/mocks).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		base = strings.TrimSpace(base)
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// NewClient constructs a music API client from configuration.
func NewClient(cfg config.Suno, opts ...Option) *Client {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      strings.TrimSpace(cfg.Model),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type submitPayload struct {
	Prompt           string `json:"prompt"`
	Model            string `json:"model,omitempty"`
	Style            string `json:"style,omitempty"`
	Duration         int    `json:"duration,omitempty"`
	Instrumental     bool   `json:"instrumental"`
	MakeInstrumental bool   `json:"make_instrumental"`
}

type submitResponse struct {
	TaskID string    `json:"task_id"`
	Status TaskState `json:"status"`
}

// Submit queues a generation request and returns the task id to poll.
func (c *Client) Submit(ctx context.Context, req GenerationRequest) (string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", errors.New("suno submit: prompt required")
	}
	if c.apiKey == "" {
		return "", services.Wrap(services.ErrAuth, "music", "submit", "api key required", nil)
	}

	payload := submitPayload{
		Prompt:           prompt,
		Model:            c.model,
		Style:            strings.TrimSpace(req.Style),
		Duration:         req.DurationSeconds,
		Instrumental:     req.Instrumental,
		MakeInstrumental: req.Instrumental,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("suno submit: encode request: %w", err)
	}

	endpoint, err := url.JoinPath(c.baseURL, submitPath)
	if err != nil {
		return "", fmt.Errorf("suno submit: build url: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("suno submit: request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", transportError("submit", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError("submit", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", statusError("submit", resp, body)
	}

	var decoded submitResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("suno submit: decode response: %w", err)
	}
	taskID := strings.TrimSpace(decoded.TaskID)
	if taskID == "" {
		return "", errors.New("suno submit: response carried no task id")
	}
	return taskID, nil
}

// Poll fetches the current state of a generation task.
func (c *Client) Poll(ctx context.Context, taskID string) (Task, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return Task{}, errors.New("suno poll: task id required")
	}

	endpoint, err := url.JoinPath(c.baseURL, statusPath, url.PathEscape(taskID))
	if err != nil {
		return Task{}, fmt.Errorf("suno poll: build url: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Task{}, fmt.Errorf("suno poll: request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Task{}, transportError("poll", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Task{}, transportError("poll", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return Task{}, statusError("poll", resp, body)
	}

	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return Task{}, fmt.Errorf("suno poll: decode response: %w", err)
	}
	if task.ID == "" {
		task.ID = taskID
	}
	return task, nil
}

// Fetch streams a finished track to dest. The temp file only replaces
// dest once the full body has been written and synced.
func (c *Client) Fetch(ctx context.Context, audioURL, dest string) error {
	audioURL = strings.TrimSpace(audioURL)
	if audioURL == "" {
		return errors.New("suno fetch: audio url required")
	}
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return errors.New("suno fetch: destination required")
	}

	// Audio URLs are presigned; no auth header.
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return fmt.Errorf("suno fetch: request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return transportError("fetch", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySnippet))
		return statusError("fetch", resp, body)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return services.Wrap(services.ErrLocalIO, "music", "fetch", "create destination directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".part-*")
	if err != nil {
		return services.Wrap(services.ErrLocalIO, "music", "fetch", "create temp file", err)
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return transportError("fetch", err)
	}
	if err := tmp.Sync(); err != nil {
		return services.Wrap(services.ErrLocalIO, "music", "fetch", "sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return services.Wrap(services.ErrLocalIO, "music", "fetch", "close temp file", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return services.Wrap(services.ErrLocalIO, "music", "fetch", "move audio into place", err)
	}
	return nil
}

// Ping checks that the API is reachable and credentials are present.
// Any HTTP response below 500 counts as reachable; the health route is
// allowed to be unimplemented.
func (c *Client) Ping(ctx context.Context) error {
	if c.apiKey == "" {
		return services.Wrap(services.ErrAuth, "music", "ping", "api key required", nil)
	}
	endpoint, err := url.JoinPath(c.baseURL, healthPath)
	if err != nil {
		return fmt.Errorf("suno ping: build url: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("suno ping: request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return transportError("ping", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySnippet))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrAuth, "music", "ping", fmt.Sprintf("http %d", resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusInternalServerError:
		return services.Wrap(services.ErrUpstream, "music", "ping", fmt.Sprintf("http %d", resp.StatusCode), nil)
	default:
		return nil
	}
}

// BaseURL reports the API base the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func statusError(op string, resp *http.Response, body []byte) error {
	detail := fmt.Sprintf("http %d", resp.StatusCode)
	if snippet := bodySnippet(body); snippet != "" {
		detail += ": " + snippet
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrAuth, "music", op, detail, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		var cause error
		if after := services.ParseRetryAfter(resp.Header.Get("Retry-After")); after > 0 {
			cause = &services.BackoffError{After: after}
		}
		return services.Wrap(services.ErrRateLimited, "music", op, detail, cause)
	case resp.StatusCode >= http.StatusInternalServerError:
		return services.Wrap(services.ErrUpstream, "music", op, detail, nil)
	default:
		return services.Wrap(nil, "music", op, detail, nil)
	}
}

func transportError(op string, err error) error {
	var urlErr *url.Error
	timedOut := errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &urlErr) && urlErr.Timeout())
	if timedOut {
		return services.Wrap(services.ErrTimeout, "music", op, "request timed out", err)
	}
	return services.Wrap(services.ErrNetwork, "music", op, "request failed", err)
}

func bodySnippet(body []byte) string {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > maxBodySnippet {
		snippet = snippet[:maxBodySnippet]
	}
	return snippet
}
