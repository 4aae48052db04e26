package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCLIScanRegistersDiscoveredTracks(t *testing.T) {
	env := setupCLITestEnv(t)

	audio := filepath.Join(env.cfg.Paths.MusicDir, "sunset_drive.mp3")
	if err := os.WriteFile(audio, []byte("ID3 fake audio"), 0o644); err != nil {
		t.Fatalf("write audio file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(env.cfg.Paths.MusicDir, "notes.txt"), []byte("not audio"), 0o644); err != nil {
		t.Fatalf("write text file: %v", err)
	}

	out, _, err := runCLI(t, []string{"scan"}, env.configPath)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	requireContains(t, out, "Registered sunset_drive")
	requireContains(t, out, "All recorded artifacts are present.")

	out, _, err = runCLI(t, []string{"scan"}, env.configPath)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	requireContains(t, out, "No new tracks registered.")

	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Entities")
}
