// Package store persists the canonical indicator set as a JSON artifact with
// timestamped backups, keeps a bounded run history and archives raw feed
// bodies.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/ioc"
)

// File layout under the data directory.
const (
	ArtifactFile = "processed_iocs.json"
	HistoryFile  = "processing_stats.json"
	RawDir       = "raw"

	backupPrefix = "processed_iocs_backup_"
	backupLayout = "20060102_150405"

	// DefaultHistoryLimit is the number of run summaries retained.
	DefaultHistoryLimit = 100
	// PipelineVersion is stamped into every artifact.
	PipelineVersion = "1.0"
)

// Config holds storage configuration.
type Config struct {
	DataDir      string `yaml:"data_dir" validate:"required"`
	HistoryLimit int    `yaml:"history_limit" validate:"gte=0"`
	ArchiveRaw   bool   `yaml:"archive_raw"`
	SQLitePath   string `yaml:"sqlite_path"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:      "data",
		HistoryLimit: DefaultHistoryLimit,
		ArchiveRaw:   true,
	}
}

// Metadata describes the run that produced an artifact.
type Metadata struct {
	LastUpdated           *time.Time     `json:"last_updated"`
	TotalIOCs             int            `json:"total_iocs"`
	IOCTypes              map[string]int `json:"ioc_types"`
	Sources               map[string]int `json:"sources"`
	ProcessingTimeSeconds float64        `json:"processing_time_seconds,omitempty"`
	IngestionStats        map[string]int `json:"ingestion_stats,omitempty"`
	ProcessingStart       *time.Time     `json:"processing_start,omitempty"`
	ProcessingEnd         *time.Time     `json:"processing_end,omitempty"`
	PipelineVersion       string         `json:"pipeline_version,omitempty"`
	RunID                 string         `json:"run_id,omitempty"`
}

// Artifact is the persisted document.
type Artifact struct {
	Metadata Metadata         `json:"metadata"`
	IOCs     []*ioc.Indicator `json:"iocs"`
}

// RunInfo carries the run attributes recorded in artifact metadata.
type RunInfo struct {
	RunID          string
	Start          time.Time
	End            time.Time
	IngestionStats map[string]int
}

// Store reads and writes the artifact, its backups and the run history.
type Store struct {
	config Config
	mirror *Mirror
	logger *zap.Logger
	mu     sync.RWMutex
	now    func() time.Time
}

// New creates a store rooted at cfg.DataDir, creating the directory layout.
// mirror may be nil.
func New(cfg Config, mirror *Mirror, logger *zap.Logger) (*Store, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Join(cfg.DataDir, RawDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &Store{
		config: cfg,
		mirror: mirror,
		logger: logger.Named("store"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// DataDir returns the root directory of the store.
func (s *Store) DataDir() string {
	return s.config.DataDir
}

// ArtifactPath returns the path of the current artifact.
func (s *Store) ArtifactPath() string {
	return filepath.Join(s.config.DataDir, ArtifactFile)
}

// RawArchive returns an archive writing under the store's raw directory.
func (s *Store) RawArchive() *RawArchive {
	return NewRawArchive(filepath.Join(s.config.DataDir, RawDir))
}

// Save writes the artifact and a timestamped backup. Only the artifact write
// can fail the save; backup and mirror failures are logged.
func (s *Store) Save(ctx context.Context, iocs []*ioc.Indicator, run RunInfo) (*Artifact, error) {
	if iocs == nil {
		iocs = []*ioc.Indicator{}
	}
	now := s.now()

	art := &Artifact{
		Metadata: Metadata{
			LastUpdated:     &now,
			TotalIOCs:       len(iocs),
			IOCTypes:        countBy(iocs, func(i *ioc.Indicator) string { return string(i.Kind) }),
			Sources:         countBy(iocs, func(i *ioc.Indicator) string { return i.Source }),
			IngestionStats:  run.IngestionStats,
			PipelineVersion: PipelineVersion,
			RunID:           run.RunID,
		},
		IOCs: iocs,
	}
	if !run.Start.IsZero() {
		start, end := run.Start.UTC(), run.End.UTC()
		art.Metadata.ProcessingStart = &start
		art.Metadata.ProcessingEnd = &end
		art.Metadata.ProcessingTimeSeconds = end.Sub(start).Seconds()
	}

	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return nil, &ioc.PersistenceError{Path: s.ArtifactPath(), Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.ArtifactPath(), data); err != nil {
		return nil, &ioc.PersistenceError{Path: s.ArtifactPath(), Err: err}
	}

	backup := filepath.Join(s.config.DataDir, backupPrefix+now.Format(backupLayout)+".json")
	if err := writeFileAtomic(backup, data); err != nil {
		s.logger.Warn("Failed to write artifact backup", zap.String("backup", backup), zap.Error(err))
		backup = ""
	}

	s.logger.Info("Saved processed IOCs",
		zap.Int("count", len(iocs)),
		zap.String("path", s.ArtifactPath()),
		zap.String("backup", backup),
	)

	s.refreshMirror(ctx, run.RunID, iocs)
	return art, nil
}

func (s *Store) refreshMirror(ctx context.Context, runID string, iocs []*ioc.Indicator) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Replace(ctx, runID, iocs); err != nil {
		s.logger.Warn("Failed to refresh SQLite mirror", zap.Error(err))
	}
}

// Load reads the current artifact. A missing artifact yields an empty one.
func (s *Store) Load() (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readArtifact(s.ArtifactPath())
}

// Query returns the indicators of the current artifact matching kind and
// source. Empty filters match everything.
func (s *Store) Query(kind, source string) ([]*ioc.Indicator, error) {
	art, err := s.Load()
	if err != nil {
		return nil, err
	}
	return Filter(art.IOCs, kind, source), nil
}

// Stats computes statistics over the current artifact.
func (s *Store) Stats() (Statistics, error) {
	art, err := s.Load()
	if err != nil {
		return Statistics{}, err
	}
	return ComputeStats(art.IOCs), nil
}

func readArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return emptyArtifact(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return readArtifactBytes(data)
}

func readArtifactBytes(data []byte) (*Artifact, error) {
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("failed to parse artifact: %w", err)
	}
	if art.IOCs == nil {
		art.IOCs = []*ioc.Indicator{}
	}
	return &art, nil
}

func emptyArtifact() *Artifact {
	return &Artifact{
		Metadata: Metadata{
			IOCTypes: map[string]int{},
			Sources:  map[string]int{},
		},
		IOCs: []*ioc.Indicator{},
	}
}

func countBy(iocs []*ioc.Indicator, key func(*ioc.Indicator) string) map[string]int {
	out := make(map[string]int)
	for _, i := range iocs {
		k := key(i)
		if k == "" {
			k = "unknown"
		}
		out[k]++
	}
	return out
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
