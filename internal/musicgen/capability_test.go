package musicgen

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/media/ffprobe"
	"loom/internal/services"
	"loom/internal/services/suno"
	"loom/internal/testsupport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeQuota struct {
	calls []string
	err   error
}

func (q *fakeQuota) Reserve(_ context.Context, service string) error {
	q.calls = append(q.calls, service)
	return q.err
}

func newTestCapability(t *testing.T, baseURL string, opts ...Option) (*Capability, *config.Config, *fakeClock) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Suno.BaseURL = baseURL
	cfg.Suno.APIKey = "test-key"
	cfg.Suno.PollInterval = 10
	cfg.Suno.GenerationTimeout = 30
	capability := New(cfg, logging.NewNop(), opts...)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	capability.now = clock.Now
	capability.sleep = func(_ context.Context, d time.Duration) error {
		clock.Advance(d)
		return nil
	}
	capability.probe = func(context.Context, string, string) (ffprobe.Report, error) {
		return ffprobe.Report{
			Streams: []ffprobe.Stream{{CodecType: "audio", CodecName: "mp3"}},
			Format:  ffprobe.Format{Duration: "185.5"},
		}, nil
	}
	return capability, cfg, clock
}

func testEntity(id string) *catalog.Entity {
	entity := catalog.NewEntity(id, time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC))
	entity.Prompt = "gentle rain over a harbor"
	entity.Style = "ambient"
	return entity
}

func TestExecuteGeneratesArtifact(t *testing.T) {
	var (
		submits  int
		polls    int
		audioURL string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/generate":
			submits++
			fmt.Fprint(w, `{"task_id":"task-7","status":"pending"}`)
		case r.URL.Path == "/v1/status/task-7":
			polls++
			if polls < 2 {
				fmt.Fprint(w, `{"task_id":"task-7","status":"processing"}`)
				return
			}
			fmt.Fprintf(w, `{"task_id":"task-7","status":"completed","audio_url":%q}`, audioURL)
		case r.URL.Path == "/audio/task-7.mp3":
			fmt.Fprint(w, "suno-audio-payload")
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	audioURL = server.URL + "/audio/task-7.mp3"

	quota := &fakeQuota{}
	capability, cfg, _ := newTestCapability(t, server.URL, WithQuota(quota))

	outcome, err := capability.Execute(context.Background(), testEntity("track-1"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	wantPath := filepath.Join(cfg.Paths.MusicDir, "track-1.mp3")
	if outcome.ArtifactPath != wantPath {
		t.Fatalf("artifact = %q, want %q", outcome.ArtifactPath, wantPath)
	}
	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "suno-audio-payload" {
		t.Fatalf("artifact content = %q", data)
	}
	if submits != 1 || polls != 2 {
		t.Fatalf("submits = %d polls = %d, want 1 and 2", submits, polls)
	}
	if len(quota.calls) != 1 || quota.calls[0] != "suno" {
		t.Fatalf("quota calls = %v, want one suno reservation", quota.calls)
	}
	if got := outcome.Metadata["suno_task_id"]; got != "task-7" {
		t.Fatalf("suno_task_id = %v", got)
	}
	if got := outcome.Metadata["prompt"]; got != "gentle rain over a harbor" {
		t.Fatalf("prompt = %v", got)
	}
	if got := outcome.Metadata["duration_seconds"]; got != 185.5 {
		t.Fatalf("duration_seconds = %v", got)
	}
	stamp, ok := outcome.Metadata["generated_at"].(string)
	if !ok {
		t.Fatalf("generated_at missing: %v", outcome.Metadata)
	}
	if _, err := time.Parse(time.RFC3339, stamp); err != nil {
		t.Fatalf("generated_at not RFC3339: %v", err)
	}
}

func TestExecuteHonorsGenerationBudget(t *testing.T) {
	var polls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/generate":
			fmt.Fprint(w, `{"task_id":"task-8","status":"pending"}`)
		case r.URL.Path == "/v1/status/task-8":
			polls++
			fmt.Fprint(w, `{"task_id":"task-8","status":"processing"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	capability, _, _ := newTestCapability(t, server.URL)

	_, err := capability.Execute(context.Background(), testEntity("track-1"))
	if err == nil {
		t.Fatal("expected budget exhaustion")
	}
	if kind := services.KindOf(err); kind != services.KindTimeout {
		t.Fatalf("kind = %s, want %s", kind, services.KindTimeout)
	}
	// 30s budget at a 10s interval allows exactly three polls.
	if polls != 3 {
		t.Fatalf("polls = %d, want 3", polls)
	}
}

func TestExecuteSurfacesUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/generate":
			fmt.Fprint(w, `{"task_id":"task-9","status":"pending"}`)
		case r.URL.Path == "/v1/status/task-9":
			fmt.Fprint(w, `{"task_id":"task-9","status":"failed","error":"content flagged"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	capability, cfg, _ := newTestCapability(t, server.URL)

	_, err := capability.Execute(context.Background(), testEntity("track-1"))
	if err == nil {
		t.Fatal("expected upstream failure")
	}
	if !strings.Contains(err.Error(), "content flagged") {
		t.Fatalf("error should carry upstream detail, got %v", err)
	}
	if kind := services.KindOf(err); kind != services.KindUnknown {
		t.Fatalf("kind = %s, want %s", kind, services.KindUnknown)
	}
	if _, statErr := os.Stat(filepath.Join(cfg.Paths.MusicDir, "track-1.mp3")); statErr == nil {
		t.Fatal("no artifact should exist after a failed generation")
	}
}

func TestExecuteStopsWhenQuotaDenied(t *testing.T) {
	var submits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		submits++
		http.NotFound(w, r)
	}))
	defer server.Close()

	quota := &fakeQuota{
		err: services.Wrap(services.ErrRateLimited, "music", "quota", "daily budget exhausted", nil),
	}
	capability, _, _ := newTestCapability(t, server.URL, WithQuota(quota))

	_, err := capability.Execute(context.Background(), testEntity("track-1"))
	if err == nil {
		t.Fatal("expected quota denial")
	}
	if kind := services.KindOf(err); kind != services.KindRateLimit {
		t.Fatalf("kind = %s, want %s", kind, services.KindRateLimit)
	}
	if submits != 0 {
		t.Fatalf("no API call should happen after denial, saw %d", submits)
	}
}

func TestExecuteRemovesArtifactFailingVerification(t *testing.T) {
	var audioURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/generate":
			fmt.Fprint(w, `{"task_id":"task-10","status":"pending"}`)
		case r.URL.Path == "/v1/status/task-10":
			fmt.Fprintf(w, `{"task_id":"task-10","status":"completed","audio_url":%q}`, audioURL)
		case r.URL.Path == "/audio/task-10.mp3":
			fmt.Fprint(w, "truncated")
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	audioURL = server.URL + "/audio/task-10.mp3"

	capability, cfg, _ := newTestCapability(t, server.URL)
	capability.probe = func(context.Context, string, string) (ffprobe.Report, error) {
		return ffprobe.Report{}, fmt.Errorf("no usable duration")
	}

	_, err := capability.Execute(context.Background(), testEntity("track-1"))
	if err == nil {
		t.Fatal("expected verification failure")
	}
	if kind := services.KindOf(err); kind != services.KindLocalIO {
		t.Fatalf("kind = %s, want %s", kind, services.KindLocalIO)
	}
	if _, statErr := os.Stat(filepath.Join(cfg.Paths.MusicDir, "track-1.mp3")); !os.IsNotExist(statErr) {
		t.Fatalf("unverified artifact should be removed, stat err = %v", statErr)
	}
}

func TestExecuteRejectsNonAudioDownload(t *testing.T) {
	var audioURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/generate":
			fmt.Fprint(w, `{"task_id":"task-11","status":"pending"}`)
		case r.URL.Path == "/v1/status/task-11":
			fmt.Fprintf(w, `{"task_id":"task-11","status":"completed","audio_url":%q}`, audioURL)
		case r.URL.Path == "/audio/task-11.mp3":
			fmt.Fprint(w, "<html>error page served as audio</html>")
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	audioURL = server.URL + "/audio/task-11.mp3"

	capability, cfg, _ := newTestCapability(t, server.URL)
	capability.probe = func(context.Context, string, string) (ffprobe.Report, error) {
		// Probe succeeds but finds no audio stream.
		return ffprobe.Report{Format: ffprobe.Format{FormatName: "html"}}, nil
	}

	_, err := capability.Execute(context.Background(), testEntity("track-1"))
	if err == nil {
		t.Fatal("expected rejection of non-audio payload")
	}
	if !strings.Contains(err.Error(), "not playable audio") {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(cfg.Paths.MusicDir, "track-1.mp3")); !os.IsNotExist(statErr) {
		t.Fatalf("rejected artifact should be removed, stat err = %v", statErr)
	}
}

func TestLocateFindsExistingAudio(t *testing.T) {
	capability, cfg, _ := newTestCapability(t, "http://unused.invalid")

	entity := testEntity("track-1")
	if path, ok := capability.Locate(entity); ok {
		t.Fatalf("empty music dir should locate nothing, got %q", path)
	}

	wavPath := filepath.Join(cfg.Paths.MusicDir, "track-1.wav")
	if err := os.WriteFile(wavPath, []byte("wav"), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	path, ok := capability.Locate(entity)
	if !ok || path != wavPath {
		t.Fatalf("Locate = %q, %v; want %q", path, ok, wavPath)
	}
}

func TestBuildPrompt(t *testing.T) {
	cases := []struct {
		name   string
		entity *catalog.Entity
		want   string
	}{
		{
			name:   "explicit prompt wins",
			entity: &catalog.Entity{Prompt: "typed prompt", Style: "jazz", Title: "Night"},
			want:   "typed prompt",
		},
		{
			name:   "title and style",
			entity: &catalog.Entity{Title: "Harbor Lights", Style: "lofi"},
			want:   "Harbor Lights, an instrumental lofi track",
		},
		{
			name:   "style only",
			entity: &catalog.Entity{Style: "jazz"},
			want:   "An instrumental jazz track",
		},
		{
			name:   "bare entity falls back to ambient",
			entity: &catalog.Entity{},
			want:   "An instrumental ambient track",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := buildPrompt(tc.entity); got != tc.want {
				t.Fatalf("buildPrompt = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestHealthCheckReportsMissingKey(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Suno.APIKey = ""
	capability := New(cfg, nil, WithClient(suno.NewClient(cfg.Suno)))

	health := capability.HealthCheck(context.Background())
	if health.Ready {
		t.Fatal("missing key should be unhealthy")
	}
	if !strings.Contains(health.Detail, "api key") {
		t.Fatalf("detail = %q", health.Detail)
	}
}

func TestHealthCheckReady(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	capability, _, _ := newTestCapability(t, server.URL)
	health := capability.HealthCheck(context.Background())
	if !health.Ready {
		t.Fatalf("expected healthy, got %+v", health)
	}
	if health.Name != "suno" {
		t.Fatalf("name = %q", health.Name)
	}
}
