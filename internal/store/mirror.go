package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/lvonguyen/feedforge/internal/ioc"
)

const mirrorSchema = `
CREATE TABLE IF NOT EXISTS iocs (
    id TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    sources TEXT NOT NULL,
    source_url TEXT,
    category TEXT,
    confidence REAL NOT NULL,
    duplicate_count INTEGER NOT NULL,
    first_seen TEXT,
    last_updated TEXT,
    metadata TEXT,
    enrichment TEXT,
    run_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_iocs_type_source ON iocs(type, source);
`

// Mirror keeps a queryable SQLite copy of the latest indicator set.
type Mirror struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenMirror opens or creates the SQLite database at path.
func OpenMirror(path string, logger *zap.Logger) (*Mirror, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create mirror directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite mirror: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(mirrorSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create mirror schema: %w", err)
	}

	return &Mirror{db: db, logger: logger.Named("mirror")}, nil
}

// Close closes the database.
func (m *Mirror) Close() error {
	return m.db.Close()
}

// Replace swaps the mirrored set for iocs in one transaction.
func (m *Mirror) Replace(ctx context.Context, runID string, iocs []*ioc.Indicator) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM iocs"); err != nil {
		return fmt.Errorf("failed to clear mirror: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO iocs
		(id, value, type, source, sources, source_url, category, confidence, duplicate_count,
		 first_seen, last_updated, metadata, enrichment, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, i := range iocs {
		sources, err := json.Marshal(i.Sources)
		if err != nil {
			return err
		}
		metadata, err := json.Marshal(i.Metadata)
		if err != nil {
			return err
		}
		enrichment, err := json.Marshal(i.Enrichment)
		if err != nil {
			return err
		}

		if _, err := stmt.ExecContext(ctx,
			i.ID, i.Value, string(i.Kind), i.Source, string(sources), i.SourceURL, i.Category,
			i.Confidence, i.DuplicateCount,
			i.FirstSeen.UTC().Format(time.RFC3339Nano), i.LastUpdated.UTC().Format(time.RFC3339Nano),
			string(metadata), string(enrichment), runID,
		); err != nil {
			return fmt.Errorf("failed to insert %s: %w", i.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mirror: %w", err)
	}

	m.logger.Debug("Mirrored indicators", zap.Int("count", len(iocs)), zap.String("run_id", runID))
	return nil
}

// Query returns mirrored indicators matching kind and source in insertion
// order. Empty filters match everything.
func (m *Mirror) Query(ctx context.Context, kind, source string) ([]*ioc.Indicator, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT
		id, value, type, source, sources, source_url, category, confidence, duplicate_count,
		first_seen, last_updated, metadata, enrichment
		FROM iocs
		WHERE (? = '' OR type = ?) AND (? = '' OR source = ?)
		ORDER BY rowid`, kind, kind, source, source)
	if err != nil {
		return nil, fmt.Errorf("failed to query mirror: %w", err)
	}
	defer rows.Close()

	out := []*ioc.Indicator{}
	for rows.Next() {
		var i ioc.Indicator
		var kindStr, sources, metadata, enrichment string
		var sourceURL, category, firstSeen, lastSeen sql.NullString
		if err := rows.Scan(&i.ID, &i.Value, &kindStr, &i.Source, &sources, &sourceURL, &category,
			&i.Confidence, &i.DuplicateCount, &firstSeen, &lastSeen, &metadata, &enrichment); err != nil {
			return nil, fmt.Errorf("failed to scan mirror row: %w", err)
		}
		i.Kind = ioc.Kind(kindStr)
		i.SourceURL = sourceURL.String
		i.Category = category.String
		i.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen.String)
		i.LastUpdated, _ = time.Parse(time.RFC3339Nano, lastSeen.String)
		if err := json.Unmarshal([]byte(sources), &i.Sources); err != nil {
			return nil, fmt.Errorf("failed to decode sources: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &i.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
		if err := json.Unmarshal([]byte(enrichment), &i.Enrichment); err != nil {
			return nil, fmt.Errorf("failed to decode enrichment: %w", err)
		}
		out = append(out, &i)
	}
	return out, rows.Err()
}

// Count returns the number of mirrored indicators.
func (m *Mirror) Count(ctx context.Context) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM iocs").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count mirror: %w", err)
	}
	return n, nil
}
