package uploads

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSpoolWriteAndRemove(t *testing.T) {
	spool, err := NewSpool(filepath.Join(t.TempDir(), "temp-data"), nil)
	if err != nil {
		t.Fatalf("new spool: %v", err)
	}

	path, err := spool.Write([]byte("image-bytes"), ".jpg")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.HasSuffix(path, ".jpg") {
		t.Errorf("path = %q, want .jpg suffix", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Errorf("content = %q", data)
	}

	if err := spool.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file should be gone, stat err = %v", err)
	}
}

func TestSpoolCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "temp-data")
	if _, err := NewSpool(dir, nil); err != nil {
		t.Fatalf("new spool: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("spool dir missing: %v", err)
	}
}

func TestSpoolRemoveRejectsOutsidePaths(t *testing.T) {
	spool, err := NewSpool(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new spool: %v", err)
	}

	outside := filepath.Join(t.TempDir(), "victim.txt")
	if err := os.WriteFile(outside, []byte("keep"), 0o644); err != nil {
		t.Fatalf("write outside file: %v", err)
	}

	if err := spool.Remove(outside); err == nil {
		t.Fatal("expected removal outside spool dir to fail")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("outside file should survive: %v", err)
	}
}

func TestSweepOlderThan(t *testing.T) {
	spool, err := NewSpool(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new spool: %v", err)
	}

	stale, err := spool.Write([]byte("old"), ".jpg")
	if err != nil {
		t.Fatalf("write stale: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	fresh, err := spool.Write([]byte("new"), ".png")
	if err != nil {
		t.Fatalf("write fresh: %v", err)
	}

	// A foreign file in the directory is never touched.
	foreign := filepath.Join(spool.Dir(), "notes.txt")
	if err := os.WriteFile(foreign, []byte("keep"), 0o644); err != nil {
		t.Fatalf("write foreign: %v", err)
	}
	if err := os.Chtimes(foreign, old, old); err != nil {
		t.Fatalf("chtimes foreign: %v", err)
	}

	removed, err := spool.SweepOlderThan(10 * time.Minute)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale file should be gone")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh file should survive: %v", err)
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Errorf("foreign file should survive: %v", err)
	}
}

func TestExtForContentType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"image/jpeg", ".jpg"},
		{"image/png", ".png"},
		{"image/webp", ".webp"},
		{"image/gif", ".gif"},
		{"IMAGE/PNG", ".png"},
		{"application/octet-stream", ".jpg"},
		{"", ".jpg"},
	}
	for _, tt := range tests {
		if got := ExtForContentType(tt.in); got != tt.want {
			t.Errorf("ExtForContentType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSweeperLifecycle(t *testing.T) {
	spool, err := NewSpool(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new spool: %v", err)
	}

	sweeper := NewSweeper(spool, "@every 1h", time.Hour, nil)
	ctx := context.Background()

	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Second start is a no-op.
	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := sweeper.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := sweeper.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	spool, err := NewSpool(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new spool: %v", err)
	}

	sweeper := NewSweeper(spool, "not-a-schedule", time.Hour, nil)
	if err := sweeper.Start(context.Background()); err == nil {
		t.Fatal("expected bad schedule to fail")
	}
}
