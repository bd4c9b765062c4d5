package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/ioc"
)

// Backups returns the backup paths, newest first.
func (s *Store) Backups() ([]string, error) {
	entries, err := os.ReadDir(s.config.DataDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	// The timestamp layout sorts lexically.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(s.config.DataDir, n)
	}
	return paths, nil
}

// LatestBackup returns the newest backup path or ErrNoBackup.
func (s *Store) LatestBackup() (string, error) {
	paths, err := s.Backups()
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", ioc.ErrNoBackup
	}
	return paths[0], nil
}

// Restore replaces the current artifact with the backup at path and brings
// the mirror in line with it. The backup must parse as an artifact.
func (s *Store) Restore(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ioc.ErrNoBackup, path)
		}
		return fmt.Errorf("failed to read backup: %w", err)
	}

	art, err := readArtifactBytes(data)
	if err != nil {
		return fmt.Errorf("backup %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.ArtifactPath(), data); err != nil {
		return &ioc.PersistenceError{Path: s.ArtifactPath(), Err: err}
	}

	s.logger.Info("Restored artifact from backup", zap.String("backup", path))
	s.refreshMirror(ctx, art.Metadata.RunID, art.IOCs)
	return nil
}
