package normalization

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lvonguyen/feedforge/internal/ioc"
)

var runStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// TestNormalize_BlocklistIP verifies the canonical record for a plain
// blocklist address.
func TestNormalize_BlocklistIP(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{}, nil)

	raw := &ioc.RawIndicator{
		Value:      "203.0.113.5",
		Kind:       ioc.KindIP,
		Source:     ioc.SourceBlocklist,
		SourceURL:  "http://www.blocklist.de/lists/apache.txt",
		Category:   "brute_force",
		RawLine:    "203.0.113.5",
		LineNumber: 4,
	}

	ind, err := n.Normalize(raw, runStart)
	require.NoError(t, err)

	assert.Equal(t, ioc.ID("203.0.113.5", ioc.KindIP, ioc.SourceBlocklist), ind.ID)
	assert.Equal(t, ioc.KindIP, ind.Kind)
	assert.InDelta(t, 0.8, ind.Confidence, 1e-9)
	assert.Equal(t, []string{ioc.SourceBlocklist}, ind.Sources)
	assert.Equal(t, 1, ind.DuplicateCount)
	assert.Equal(t, runStart, ind.FirstSeen)
	assert.Equal(t, ind.FirstSeen, ind.LastUpdated)
	assert.Equal(t, map[string]any{"raw_data": "203.0.113.5", "line_number": 4}, ind.Metadata)
}

// TestNormalize_SourceMetadata verifies source-aware metadata extraction and
// that unknown values are omitted rather than stored empty.
func TestNormalize_SourceMetadata(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{}, nil)

	spamhaus, err := n.Normalize(&ioc.RawIndicator{
		Value:  "198.51.100.0/24",
		Kind:   ioc.KindIP,
		Source: ioc.SourceSpamhaus,
		Fields: map[string]string{ioc.FieldSBLReference: "SBL123456"},
	}, runStart)
	require.NoError(t, err)
	assert.Equal(t, "SBL123456", spamhaus.Metadata[ioc.FieldSBLReference])
	assert.InDelta(t, 0.95, spamhaus.Confidence, 1e-9)

	bare, err := n.Normalize(&ioc.RawIndicator{
		Value:  "198.51.100.0/24",
		Kind:   ioc.KindIP,
		Source: ioc.SourceSpamhaus,
	}, runStart)
	require.NoError(t, err)
	assert.NotContains(t, bare.Metadata, ioc.FieldSBLReference)

	url, err := n.Normalize(&ioc.RawIndicator{
		Value:  "https://bad.example/drop/a.zip",
		Kind:   ioc.KindURL,
		Source: ioc.SourceDigitalSide,
		Fields: map[string]string{
			ioc.FieldDomain: "bad.example",
			ioc.FieldPath:   "/drop/a.zip",
			ioc.FieldScheme: "https",
		},
	}, runStart)
	require.NoError(t, err)
	assert.Equal(t, "bad.example", url.Metadata[ioc.FieldDomain])
	assert.Equal(t, "/drop/a.zip", url.Metadata[ioc.FieldPath])
	assert.Equal(t, "https", url.Metadata[ioc.FieldScheme])
	assert.InDelta(t, 0.8, url.Confidence, 1e-9)
}

func TestNormalize_Invalid(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{}, nil)

	tests := []struct {
		name string
		raw  ioc.RawIndicator
		want error
	}{
		{"empty value", ioc.RawIndicator{Kind: ioc.KindIP, Source: ioc.SourceBlocklist}, ioc.ErrMissingValue},
		{"empty source", ioc.RawIndicator{Value: "203.0.113.5", Kind: ioc.KindIP}, ioc.ErrMissingSource},
		{"bad kind", ioc.RawIndicator{Value: "abc", Kind: "hash", Source: ioc.SourceBlocklist}, ioc.ErrUnknownKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(&tt.raw, runStart)
			require.Error(t, err)

			var ne *ioc.NormalizationError
			assert.True(t, errors.As(err, &ne))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// TestNormalizeAll_DropsBadRecords verifies a bad record is logged and
// dropped without affecting the rest of the batch.
func TestNormalizeAll_DropsBadRecords(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	n := NewNormalizer(NormalizerConfig{}, zap.New(core))

	raws := []*ioc.RawIndicator{
		{Value: "203.0.113.5", Kind: ioc.KindIP, Source: ioc.SourceBlocklist},
		{Value: "", Kind: ioc.KindIP, Source: ioc.SourceBlocklist, LineNumber: 2},
		{Value: "http://x.example/a.exe", Kind: ioc.KindURL, Source: ioc.SourceDigitalSide},
	}

	out, dropped := n.NormalizeAll(raws, runStart)

	assert.Len(t, out, 2)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, logs.FilterMessage("Dropping raw indicator").Len())
}

func TestNormalize_SourceConfidenceOverride(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{
		SourceConfidence: map[string]float64{ioc.SourceBlocklist: 0.6},
	}, nil)

	ind, err := n.Normalize(&ioc.RawIndicator{Value: "10.0.0.0/8", Kind: ioc.KindIP, Source: ioc.SourceBlocklist}, runStart)
	require.NoError(t, err)
	assert.InDelta(t, 0.65, ind.Confidence, 1e-9)
}
