package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
		{5 * 1024 * 1024 * 1024, "5.00 GB"},
	}
	for _, tc := range cases {
		if got := FormatBytes(tc.in); got != tc.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatSpeed(t *testing.T) {
	if got := FormatSpeed(2048, 2); got != "1.00 KB/s" {
		t.Errorf("FormatSpeed(2048, 2) = %q, want 1.00 KB/s", got)
	}
	if got := FormatSpeed(100, 0); got != "0 B/s" {
		t.Errorf("FormatSpeed with zero elapsed = %q, want 0 B/s", got)
	}
}

func TestClean(t *testing.T) {
	root := t.TempDir()
	tempDir := filepath.Join(root, TempDirName, "job-1")
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, "video.mp4"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := Clean(root); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, TempDirName)); !os.IsNotExist(err) {
		t.Errorf("temp dir still present after Clean: %v", err)
	}

	// A root with no temp dir is not an error.
	if err := Clean(t.TempDir()); err != nil {
		t.Errorf("Clean on empty root: %v", err)
	}
}
