package main

import "testing"

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		id   string
		want string
	}{
		{"neon_skyline", "Neon Skyline"},
		{"sunset-drive-01", "Sunset Drive 01"},
		{"hello.world", "Hello World"},
		{"midnight  rain", "Midnight Rain"},
		{"___", "___"},
	}
	for _, tc := range cases {
		if got := deriveTitle(tc.id); got != tc.want {
			t.Errorf("deriveTitle(%q) = %q, want %q", tc.id, got, tc.want)
		}
	}
}
