package artwork

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"loom/internal/catalog"
	"loom/internal/services"
	"loom/internal/testsupport"
)

type fakeProvider struct {
	name    string
	metered bool
	lastReq GenerateRequest
	img     GeneratedImage
	err     error
	pingErr error
}

func (p *fakeProvider) Name() string               { return p.name }
func (p *fakeProvider) Metered() bool              { return p.metered }
func (p *fakeProvider) Ping(context.Context) error { return p.pingErr }

func (p *fakeProvider) Generate(_ context.Context, req GenerateRequest) (GeneratedImage, error) {
	p.lastReq = req
	if p.err != nil {
		return GeneratedImage{}, p.err
	}
	return p.img, nil
}

type fakeQuota struct {
	calls []string
	err   error
}

func (q *fakeQuota) Reserve(_ context.Context, service string) error {
	q.calls = append(q.calls, service)
	return q.err
}

func coverEntity(id string) *catalog.Entity {
	entity := catalog.NewEntity(id, time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC))
	entity.Style = "lofi"
	entity.Prompt = "lofi beats for studying"
	return entity
}

func TestExecuteWritesArtifactAndMetadata(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	capability, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	outcome, err := capability.Execute(context.Background(), coverEntity("track-1"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	wantPath := filepath.Join(cfg.Paths.ImageDir, "track-1.png")
	if outcome.ArtifactPath != wantPath {
		t.Fatalf("artifact = %q, want %q", outcome.ArtifactPath, wantPath)
	}
	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if _, err := png.DecodeConfig(bytes.NewReader(data)); err != nil {
		t.Fatalf("artifact is not a PNG: %v", err)
	}

	prompt, _ := outcome.Metadata["prompt_used"].(string)
	if !strings.Contains(prompt, "cozy room") {
		t.Fatalf("prompt should carry lofi keywords, got %q", prompt)
	}
	if !strings.HasSuffix(prompt, "no text, no watermark.") {
		t.Fatalf("prompt should end with the quality suffix, got %q", prompt)
	}
	if got := outcome.Metadata["style"]; got != "lofi" {
		t.Fatalf("style = %v", got)
	}
	if got := outcome.Metadata["format"]; got != "png" {
		t.Fatalf("format = %v", got)
	}
	if got := outcome.Metadata["resolution"]; got != cfg.Image.Size {
		t.Fatalf("resolution = %v, want %v", got, cfg.Image.Size)
	}
	stamp, ok := outcome.Metadata["generated_at"].(string)
	if !ok {
		t.Fatalf("generated_at missing: %v", outcome.Metadata)
	}
	if _, err := time.Parse(time.RFC3339, stamp); err != nil {
		t.Fatalf("generated_at not RFC3339: %v", err)
	}
}

func TestExecuteReservesQuotaOnlyWhenMetered(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	quota := &fakeQuota{}
	free := &fakeProvider{name: "placeholder", img: GeneratedImage{Data: []byte("img"), Format: "png"}}
	capability, err := New(cfg, nil, WithProvider(free), WithQuota(quota))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := capability.Execute(context.Background(), coverEntity("track-1")); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(quota.calls) != 0 {
		t.Fatalf("free provider should not consume quota, calls = %v", quota.calls)
	}

	metered := &fakeProvider{name: "openai", metered: true, img: GeneratedImage{Data: []byte("img"), Format: "png"}}
	capability, err = New(cfg, nil, WithProvider(metered), WithQuota(quota))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := capability.Execute(context.Background(), coverEntity("track-2")); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(quota.calls) != 1 || quota.calls[0] != "openai" {
		t.Fatalf("quota calls = %v, want one openai reservation", quota.calls)
	}
}

func TestExecuteSurfacesProviderFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	failing := &fakeProvider{
		name: "openai",
		err:  services.Wrap(services.ErrRateLimited, "image", "generate", "http 429", nil),
	}
	capability, err := New(cfg, nil, WithProvider(failing))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = capability.Execute(context.Background(), coverEntity("track-1"))
	if err == nil {
		t.Fatal("expected provider failure")
	}
	if kind := services.KindOf(err); kind != services.KindRateLimit {
		t.Fatalf("kind = %s, want %s", kind, services.KindRateLimit)
	}
	entries, readErr := os.ReadDir(cfg.Paths.ImageDir)
	if readErr != nil {
		t.Fatalf("read image dir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("no artifact should exist after failure, found %d entries", len(entries))
	}
}

func TestExecutePrefersMusicStagePrompt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	provider := &fakeProvider{name: "placeholder", img: GeneratedImage{Data: []byte("img"), Format: "png"}}
	capability, err := New(cfg, nil, WithProvider(provider))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entity := coverEntity("track-1")
	entity.Style = ""
	entity.Prompt = "completely unrelated"
	entity.Stages[catalog.StageMusic].Metadata = map[string]any{"prompt": "late night jazz piano"}

	if _, err := capability.Execute(context.Background(), entity); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(provider.lastReq.Prompt, "smoky bar") {
		t.Fatalf("prompt should derive from the music stage prompt, got %q", provider.lastReq.Prompt)
	}
}

func TestLocateFindsExistingCover(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	capability, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entity := coverEntity("track-1")
	if path, ok := capability.Locate(entity); ok {
		t.Fatalf("empty image dir should locate nothing, got %q", path)
	}
	jpegPath := filepath.Join(cfg.Paths.ImageDir, "track-1.jpeg")
	if err := os.WriteFile(jpegPath, []byte("jpg"), 0o644); err != nil {
		t.Fatalf("write jpeg: %v", err)
	}
	path, ok := capability.Locate(entity)
	if !ok || path != jpegPath {
		t.Fatalf("Locate = %q, %v; want %q", path, ok, jpegPath)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Image.Provider = "dalle9"
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected unknown provider error")
	}
}

func TestHealthCheckReportsProviderState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	capability, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	health := capability.HealthCheck(context.Background())
	if !health.Ready || health.Name != "placeholder" {
		t.Fatalf("health = %+v", health)
	}

	broken := &fakeProvider{
		name:    "openai",
		metered: true,
		pingErr: services.Wrap(services.ErrAuth, "image", "health", "api key required", nil),
	}
	capability, err = New(cfg, nil, WithProvider(broken))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	health = capability.HealthCheck(context.Background())
	if health.Ready {
		t.Fatal("expected unhealthy provider")
	}
	if !strings.Contains(health.Detail, "api key") {
		t.Fatalf("detail = %q", health.Detail)
	}
}
