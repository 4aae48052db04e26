package artwork

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"loom/internal/config"
	"loom/internal/services"
)

const (
	openaiImagesPath     = "/images/generations"
	openaiMaxPromptLen   = 4000
	openaiDefaultTimeout = 60 * time.Second
	openaiMaxSnippet     = 200
)

// OpenAIProvider drives an OpenAI-compatible images API. Responses may
// carry the image inline as base64 or as a short-lived URL; both are
// handled.
type OpenAIProvider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// OpenAIOption adjusts provider construction.
type OpenAIOption func(*OpenAIProvider)

// WithHTTPClient substitutes the HTTP client.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// NewOpenAI builds the provider from the image configuration section.
func NewOpenAI(cfg config.Image, opts ...OpenAIOption) *OpenAIProvider {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = openaiDefaultTimeout
	}
	p := &OpenAIProvider{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      strings.TrimSpace(cfg.Model),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Metered() bool { return true }

// Ping verifies credentials are configured. The images endpoint has no
// cheap probe, so reachability is left to the first real call.
func (p *OpenAIProvider) Ping(context.Context) error {
	if p.apiKey == "" {
		return services.Wrap(services.ErrAuth, "image", "health", "api key required", nil)
	}
	if p.baseURL == "" {
		return errors.New("openai: base url required")
	}
	return nil
}

type openaiRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size,omitempty"`
}

type openaiResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

type openaiErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Generate requests one image and returns its bytes.
func (p *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (GeneratedImage, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return GeneratedImage{}, errors.New("openai generate: prompt required")
	}
	if p.apiKey == "" {
		return GeneratedImage{}, services.Wrap(services.ErrAuth, "image", "generate", "api key required", nil)
	}
	// The API rejects prompts over 4000 characters.
	if len(prompt) > openaiMaxPromptLen {
		prompt = prompt[:openaiMaxPromptLen]
	}

	payload, err := json.Marshal(openaiRequest{
		Model:  p.model,
		Prompt: prompt,
		N:      1,
		Size:   strings.TrimSpace(req.Size),
	})
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("openai generate: encode request: %w", err)
	}
	endpoint, err := url.JoinPath(p.baseURL, openaiImagesPath)
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("openai generate: build url: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("openai generate: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return GeneratedImage{}, p.transportError("generate", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return GeneratedImage{}, p.transportError("generate", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return GeneratedImage{}, p.statusError("generate", resp, body)
	}

	var decoded openaiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return GeneratedImage{}, services.Wrap(nil, "image", "generate", "malformed response body", err)
	}
	if len(decoded.Data) == 0 {
		return GeneratedImage{}, services.Wrap(nil, "image", "generate", "response carries no image", nil)
	}
	first := decoded.Data[0]
	if first.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(first.B64JSON)
		if err != nil {
			return GeneratedImage{}, services.Wrap(nil, "image", "generate", "invalid base64 image payload", err)
		}
		return GeneratedImage{Data: data, Format: req.Format}, nil
	}
	if first.URL != "" {
		return p.download(ctx, first.URL, req.Format)
	}
	return GeneratedImage{}, services.Wrap(nil, "image", "generate", "response carries neither data nor url", nil)
}

// download fetches a URL-form result. Result URLs are pre-signed, so no
// auth header is attached.
func (p *OpenAIProvider) download(ctx context.Context, imageURL, format string) (GeneratedImage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("openai download: build request: %w", err)
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return GeneratedImage{}, p.transportError("download", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, openaiMaxSnippet))
		return GeneratedImage{}, p.statusError("download", resp, body)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return GeneratedImage{}, p.transportError("download", err)
	}
	return GeneratedImage{Data: data, Format: format}, nil
}

func (p *OpenAIProvider) statusError(op string, resp *http.Response, body []byte) error {
	detail := fmt.Sprintf("http %d", resp.StatusCode)
	var envelope openaiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		detail = fmt.Sprintf("http %d: %s", resp.StatusCode, snippet(envelope.Error.Message))
	} else if s := snippet(string(body)); s != "" {
		detail = fmt.Sprintf("http %d: %s", resp.StatusCode, s)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrAuth, "image", op, detail, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		var cause error
		if after := services.ParseRetryAfter(resp.Header.Get("Retry-After")); after > 0 {
			cause = &services.BackoffError{After: after}
		}
		return services.Wrap(services.ErrRateLimited, "image", op, detail, cause)
	case resp.StatusCode >= http.StatusInternalServerError:
		return services.Wrap(services.ErrUpstream, "image", op, detail, nil)
	default:
		return services.Wrap(nil, "image", op, detail, nil)
	}
}

func (p *OpenAIProvider) transportError(op string, err error) error {
	var urlErr *url.Error
	timedOut := errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &urlErr) && urlErr.Timeout())
	if timedOut {
		return services.Wrap(services.ErrTimeout, "image", op, "request timed out", err)
	}
	return services.Wrap(services.ErrNetwork, "image", op, "request failed", err)
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > openaiMaxSnippet {
		text = text[:openaiMaxSnippet]
	}
	return text
}
