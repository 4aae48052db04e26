package artwork

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"loom/internal/config"
	"loom/internal/services"
)

func newOpenAI(baseURL string, opts ...OpenAIOption) *OpenAIProvider {
	return NewOpenAI(config.Image{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		Model:          "gpt-image-1",
		RequestTimeout: 5,
	}, opts...)
}

func TestOpenAIGenerateDecodesBase64(t *testing.T) {
	imageBytes := []byte("png-image-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/images/generations" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("request id header missing")
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["model"] != "gpt-image-1" || payload["n"] != float64(1) || payload["size"] != "512x512" {
			t.Errorf("payload = %v", payload)
		}
		fmt.Fprintf(w, `{"data":[{"b64_json":%q}]}`, base64.StdEncoding.EncodeToString(imageBytes))
	}))
	defer server.Close()

	img, err := newOpenAI(server.URL).Generate(context.Background(), GenerateRequest{
		Prompt: "a cover",
		Size:   "512x512",
		Format: "png",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(img.Data) != string(imageBytes) {
		t.Fatalf("data = %q", img.Data)
	}
	if img.Format != "png" {
		t.Fatalf("format = %q", img.Format)
	}
}

func TestOpenAIGenerateDownloadsURLResult(t *testing.T) {
	var imageURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/images/generations":
			fmt.Fprintf(w, `{"data":[{"url":%q}]}`, imageURL)
		case "/result.png":
			fmt.Fprint(w, "binary-image")
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	imageURL = server.URL + "/result.png"

	img, err := newOpenAI(server.URL).Generate(context.Background(), GenerateRequest{Prompt: "a cover"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(img.Data) != "binary-image" {
		t.Fatalf("data = %q", img.Data)
	}
}

func TestOpenAIGenerateClassifiesStatuses(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		retryAfter string
		wantKind   services.Kind
		wantDetail string
	}{
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"message":"invalid api key"}}`,
			wantKind: services.KindAuth,
		},
		{
			name:       "rate limited",
			status:     http.StatusTooManyRequests,
			body:       `{"error":{"message":"rate limit exceeded"}}`,
			retryAfter: "30",
			wantKind:   services.KindRateLimit,
		},
		{
			name:     "server error",
			status:   http.StatusBadGateway,
			body:     "upstream sad",
			wantKind: services.KindServer,
		},
		{
			name:       "content policy",
			status:     http.StatusBadRequest,
			body:       `{"error":{"message":"rejected by the safety system","code":"content_policy_violation"}}`,
			wantKind:   services.KindUnknown,
			wantDetail: "safety system",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.retryAfter != "" {
					w.Header().Set("Retry-After", tc.retryAfter)
				}
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer server.Close()

			_, err := newOpenAI(server.URL).Generate(context.Background(), GenerateRequest{Prompt: "a cover"})
			if err == nil {
				t.Fatal("expected error")
			}
			if kind := services.KindOf(err); kind != tc.wantKind {
				t.Fatalf("kind = %s, want %s", kind, tc.wantKind)
			}
			if tc.retryAfter != "" {
				after, ok := services.RetryAfter(err)
				if !ok || after != 30*time.Second {
					t.Fatalf("retry-after = %s, %v", after, ok)
				}
			}
			if tc.wantDetail != "" && !strings.Contains(err.Error(), tc.wantDetail) {
				t.Fatalf("error should carry API detail, got %v", err)
			}
		})
	}
}

func TestOpenAIGenerateRequiresKey(t *testing.T) {
	provider := NewOpenAI(config.Image{BaseURL: "http://unused.invalid"})
	_, err := provider.Generate(context.Background(), GenerateRequest{Prompt: "a cover"})
	if err == nil {
		t.Fatal("expected auth error")
	}
	if kind := services.KindOf(err); kind != services.KindAuth {
		t.Fatalf("kind = %s, want %s", kind, services.KindAuth)
	}
}

func TestOpenAIGenerateTruncatesLongPrompt(t *testing.T) {
	var seen int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		seen = len(payload.Prompt)
		fmt.Fprintf(w, `{"data":[{"b64_json":%q}]}`, base64.StdEncoding.EncodeToString([]byte("x")))
	}))
	defer server.Close()

	long := strings.Repeat("a", openaiMaxPromptLen+500)
	if _, err := newOpenAI(server.URL).Generate(context.Background(), GenerateRequest{Prompt: long}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if seen != openaiMaxPromptLen {
		t.Fatalf("prompt length sent = %d, want %d", seen, openaiMaxPromptLen)
	}
}

func TestOpenAIPing(t *testing.T) {
	if err := newOpenAI("http://unused.invalid").Ping(context.Background()); err != nil {
		t.Fatalf("Ping with key: %v", err)
	}
	err := NewOpenAI(config.Image{BaseURL: "http://unused.invalid"}).Ping(context.Background())
	if err == nil {
		t.Fatal("expected missing key error")
	}
	if kind := services.KindOf(err); kind != services.KindAuth {
		t.Fatalf("kind = %s, want %s", kind, services.KindAuth)
	}
}
