package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/ioc"
)

// StageCount is the number of records entering and leaving a stage.
type StageCount struct {
	In  int `json:"in"`
	Out int `json:"out"`
}

// RunStats is one entry of the run history.
type RunStats struct {
	RunID                 string                `json:"run_id,omitempty"`
	Success               bool                  `json:"success"`
	Error                 string                `json:"error,omitempty"`
	RawIOCs               int                   `json:"raw_iocs"`
	NormalizedIOCs        int                   `json:"normalized_iocs"`
	DeduplicatedIOCs      int                   `json:"deduplicated_iocs"`
	FinalIOCs             int                   `json:"final_iocs"`
	ProcessingTimeSeconds float64               `json:"processing_time_seconds"`
	IngestionStats        map[string]int        `json:"ingestion_stats"`
	Stages                map[string]StageCount `json:"stages,omitempty"`
	Timestamp             time.Time             `json:"timestamp"`
}

// HistoryPath returns the path of the run history file.
func (s *Store) HistoryPath() string {
	return filepath.Join(s.config.DataDir, HistoryFile)
}

// AppendHistory stamps stats with the current time and appends it to the
// history, keeping only the newest entries. A corrupt history file is
// replaced.
func (s *Store) AppendHistory(stats RunStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := readHistory(s.HistoryPath())
	if err != nil {
		s.logger.Warn("Discarding unreadable run history", zap.Error(err))
		entries = nil
	}

	stats.Timestamp = s.now()
	entries = append(entries, stats)
	if over := len(entries) - s.config.HistoryLimit; over > 0 {
		entries = entries[over:]
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run history: %w", err)
	}
	if err := writeFileAtomic(s.HistoryPath(), data); err != nil {
		return &ioc.PersistenceError{Path: s.HistoryPath(), Err: err}
	}
	return nil
}

// History returns the run history, oldest first. A missing file yields an
// empty history.
func (s *Store) History() ([]RunStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := readHistory(s.HistoryPath())
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []RunStats{}
	}
	return entries, nil
}

func readHistory(path string) ([]RunStats, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run history: %w", err)
	}

	var entries []RunStats
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse run history: %w", err)
	}
	return entries, nil
}
