package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lvonguyen/feedforge/internal/ioc"
)

func TestMirror_ReplaceAndQuery(t *testing.T) {
	m, err := OpenMirror(filepath.Join(t.TempDir(), "db", "iocs.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	iocs := sample()
	iocs[0].Enrichment = map[string]any{"classification": "public", "source": "basic_analysis"}
	iocs[0].Sources = []string{ioc.SourceBlocklist, ioc.SourceSpamhaus}

	require.NoError(t, m.Replace(ctx, "run-1", iocs))

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	all, err := m.Query(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, iocs[0].ID, all[0].ID)
	assert.Equal(t, []string{ioc.SourceBlocklist, ioc.SourceSpamhaus}, all[0].Sources)
	assert.Equal(t, "public", all[0].Enrichment["classification"])
	assert.True(t, iocs[0].FirstSeen.Equal(all[0].FirstSeen))

	urls, err := m.Query(ctx, "url", ioc.SourceDigitalSide)
	require.NoError(t, err)
	assert.Len(t, urls, 2)

	require.NoError(t, m.Replace(ctx, "run-2", iocs[:1]))
	n, err = m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestSave_RefreshesMirror verifies Save keeps the mirror in step with the
// artifact.
func TestSave_RefreshesMirror(t *testing.T) {
	dir := t.TempDir()
	m, err := OpenMirror(filepath.Join(dir, "iocs.db"), nil)
	require.NoError(t, err)
	defer m.Close()

	s, err := New(Config{DataDir: dir}, m, nil)
	require.NoError(t, err)

	_, err = s.Save(context.Background(), sample(), RunInfo{RunID: "r"})
	require.NoError(t, err)

	n, err := m.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

// TestRestore_RefreshesMirror verifies restoring a backup also replaces the
// mirrored set.
func TestRestore_RefreshesMirror(t *testing.T) {
	dir := t.TempDir()
	m, err := OpenMirror(filepath.Join(dir, "iocs.db"), nil)
	require.NoError(t, err)
	defer m.Close()

	s, err := New(Config{DataDir: dir}, m, nil)
	require.NoError(t, err)
	ctx := context.Background()

	fixedClock(s, time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	_, err = s.Save(ctx, sample()[:1], RunInfo{RunID: "old"})
	require.NoError(t, err)
	fixedClock(s, time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC))
	_, err = s.Save(ctx, sample(), RunInfo{RunID: "new"})
	require.NoError(t, err)

	n, err := m.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	backups, err := s.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	require.NoError(t, s.Restore(ctx, backups[1]))

	n, err = m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := m.Query(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, sample()[0].ID, all[0].ID)
}
