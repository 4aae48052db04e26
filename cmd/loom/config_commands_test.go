package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigInitCreatesSampleFile(t *testing.T) {
	tmp := t.TempDir()
	target := filepath.Join(tmp, "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample config: %v", err)
	}
	requireContains(t, string(data), "[paths]")
	requireContains(t, string(data), "[retry.network]")

	_, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected init without --overwrite to fail, got %v", err)
	}

	out, _, err = runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, "")
	if err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
}

func TestConfigValidateUsesDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	out, _, err := runCLI(t, []string{"config", "validate"}, "")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "defaults were used")
	requireContains(t, out, "Configuration valid")
}

func TestConfigShowRedactsAPIKeys(t *testing.T) {
	env := setupCLITestEnv(t)

	content := `[paths]
music_dir = "` + filepath.Join(env.baseDir, "music") + `"
image_dir = "` + filepath.Join(env.baseDir, "images") + `"
video_dir = "` + filepath.Join(env.baseDir, "videos") + `"
thumbnail_dir = "` + filepath.Join(env.baseDir, "thumbnails") + `"
state_dir = "` + filepath.Join(env.baseDir, "state") + `"
report_dir = "` + filepath.Join(env.baseDir, "reports") + `"
log_dir = "` + filepath.Join(env.baseDir, "logs") + `"

[suno]
api_key = "super-secret"
`
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, _, err := runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "REDACTED")
	if strings.Contains(out, "super-secret") {
		t.Fatalf("config show leaked the API key: %q", out)
	}
}
