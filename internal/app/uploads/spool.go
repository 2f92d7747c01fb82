// Package uploads manages the temporary image spool. Uploaded images are
// written to disk only for the duration of a classification; a background
// sweeper reclaims files orphaned by crashes.
package uploads

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yiwugan/sort-smart/pkg/logger"
)

const filePrefix = "upload-"

// Spool writes uploaded images to a directory with unique names.
type Spool struct {
	dir string
	log *logger.Logger
}

// NewSpool creates the spool directory if needed and returns the spool.
func NewSpool(dir string, log *logger.Logger) (*Spool, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("upload dir required")
	}
	if log == nil {
		log = logger.NewDefault("uploads")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Spool{dir: dir, log: log}, nil
}

// Dir returns the spool directory.
func (s *Spool) Dir() string { return s.dir }

// Write stores data in a uniquely named spool file and returns its path.
// ext must include the leading dot; empty defaults to ".jpg".
func (s *Spool) Write(data []byte, ext string) (string, error) {
	if ext == "" {
		ext = ".jpg"
	}

	f, err := os.CreateTemp(s.dir, filePrefix+"*"+ext)
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	path := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write spool file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close spool file: %w", err)
	}
	return path, nil
}

// Remove deletes a spooled file. Paths outside the spool directory are
// rejected so callers cannot be tricked into deleting arbitrary files.
func (s *Spool) Remove(path string) error {
	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return fmt.Errorf("resolve upload dir: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve spool path: %w", err)
	}
	if filepath.Dir(abs) != dir {
		return fmt.Errorf("path %s outside upload dir", path)
	}
	return os.Remove(abs)
}

// SweepOlderThan removes spool files whose modification time is older than
// maxAge and reports how many were deleted. Files not written by the spool
// are left alone.
func (s *Spool) SweepOlderThan(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read upload dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), filePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			s.log.WithError(err).WithField("file", entry.Name()).Warn("remove stale upload")
			continue
		}
		removed++
	}
	return removed, nil
}

// ExtForContentType maps an upload's content type to a spool file extension.
// Unknown types fall back to ".jpg", matching the dominant upload format.
func ExtForContentType(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
