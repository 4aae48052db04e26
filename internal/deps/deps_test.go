package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "ffmpeg")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	results := CheckBinaries([]Requirement{
		{Name: "FFmpeg", Command: present, Description: "video composition"},
		{Name: "Missing", Command: "no-such-binary-on-any-path"},
		{Name: "Unset", Command: "   ", Optional: true},
	})
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}

	ffmpeg := results[0]
	if !ffmpeg.Available || ffmpeg.Resolved != present || ffmpeg.Detail != "" {
		t.Fatalf("resolved stub = %#v", ffmpeg)
	}

	missing := results[1]
	if missing.Available || missing.Detail == "" {
		t.Fatalf("missing binary = %#v", missing)
	}

	unset := results[2]
	if unset.Available || unset.Detail != "command not configured" || !unset.Optional {
		t.Fatalf("unset command = %#v", unset)
	}
}
