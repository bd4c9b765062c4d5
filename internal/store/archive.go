package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RawArchive keeps timestamped and latest copies of fetched feed bodies.
type RawArchive struct {
	dir string
	now func() time.Time
}

// NewRawArchive creates an archive writing into dir.
func NewRawArchive(dir string) *RawArchive {
	return &RawArchive{
		dir: dir,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Archive writes body to <feed>_<timestamp>.txt and <feed>_latest.txt.
func (a *RawArchive) Archive(feed string, body []byte) error {
	if feed == "" || strings.ContainsAny(feed, `/\`) || strings.Contains(feed, "..") {
		return fmt.Errorf("invalid feed name %q", feed)
	}
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return fmt.Errorf("failed to create raw directory: %w", err)
	}

	stamped := filepath.Join(a.dir, fmt.Sprintf("%s_%s.txt", feed, a.now().Format(backupLayout)))
	if err := os.WriteFile(stamped, body, 0644); err != nil {
		return fmt.Errorf("failed to archive %s: %w", feed, err)
	}

	latest := filepath.Join(a.dir, feed+"_latest.txt")
	if err := writeFileAtomic(latest, body); err != nil {
		return fmt.Errorf("failed to archive %s: %w", feed, err)
	}
	return nil
}

// Latest returns the most recent body archived for feed.
func (a *RawArchive) Latest(feed string) ([]byte, error) {
	return os.ReadFile(filepath.Join(a.dir, feed+"_latest.txt"))
}
