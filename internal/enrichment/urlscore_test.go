package enrichment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestScoreURL_Scenario verifies the exe/abuse-TLD/keyword example.
func TestScoreURL_Scenario(t *testing.T) {
	const u = "http://malware-update-crack.tk/file.exe"

	a := AnalyzeURL(u)

	assert.GreaterOrEqual(t, a.Score, 0.7-1e-9)
	assert.Contains(t, a.Indicators, "suspicious_extension:.exe")
	assert.Contains(t, a.Indicators, "pattern:suspicious_tld")
	assert.Contains(t, a.Indicators, "pattern:suspicious_keywords")
	assert.True(t, ShouldKeep(u, a.Score))
}

func TestScoreURL_Signals(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want float64
		tag  string
	}{
		{"benign", "https://example.org/index.html", 0, ""},
		{"ip host", "http://203.0.113.5/", 0.6, "ip_domain"},
		{"suspicious port", "http://example.org:8443/", 0.1, "suspicious_port:8443"},
		{"admin path", "https://example.org/wp-admin/login", 0.1, "suspicious_path"},
		{"shortener", "https://bit.ly/3abc", 0.2, "pattern:url_shortener"},
		{"long numeric host", "http://a1b2c3d4e5f6g7h8i9j0k1l2m3n4o5.example/", 0.2, "long_domain"},
		{"malformed", "http://bad host/%zz", 0.3, "malformed_url"},
		{"long url", "https://example.org/" + strings.Repeat("a", 200), 0.1, "long_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AnalyzeURL(tt.url)
			assert.InDelta(t, tt.want, a.Score, 1e-9)
			if tt.tag != "" {
				assert.Contains(t, a.Indicators, tt.tag)
			} else {
				assert.Empty(t, a.Indicators)
			}
		})
	}
}

// TestScoreURL_ComExtension verifies ".com" counts as a suspicious extension
// even when it is the TLD, so a keyword on a .com host crosses retention.
func TestScoreURL_ComExtension(t *testing.T) {
	const u = "http://example.com/download/tool"

	a := AnalyzeURL(u)

	assert.InDelta(t, 0.5, a.Score, 1e-9)
	assert.Equal(t, []string{"suspicious_extension:.com", "pattern:suspicious_keywords"}, a.Indicators)
	assert.True(t, ShouldKeep(u, a.Score))
	assert.Len(t, suspiciousExtensions, 21)
}

// TestScoreURL_PortOutOfRange verifies an unusable port is scored as a
// malformed URL and stops the remaining host checks.
func TestScoreURL_PortOutOfRange(t *testing.T) {
	a := AnalyzeURL("http://files.example.org:99999/upload/x")
	assert.InDelta(t, 0.3, a.Score, 1e-9)
	assert.Equal(t, []string{"malformed_url"}, a.Indicators)

	a = AnalyzeURL("http://a.com:99999/x")
	assert.InDelta(t, 0.6, a.Score, 1e-9)
	assert.Contains(t, a.Indicators, "malformed_url")

	a = AnalyzeURL("http://files.example.org:65535/x")
	assert.InDelta(t, 0, a.Score, 1e-9)
}

// TestScoreURL_ExtensionCountedOnce verifies several extensions add 0.3 once
// but are all tagged.
func TestScoreURL_ExtensionCountedOnce(t *testing.T) {
	a := AnalyzeURL("https://example.org/a.zip/b.rar")

	assert.InDelta(t, 0.3, a.Score, 1e-9)
	assert.Contains(t, a.Indicators, "suspicious_extension:.zip")
	assert.Contains(t, a.Indicators, "suspicious_extension:.rar")
}

// TestScoreURL_Bounds verifies the score stays in [0,1] and that ".exe"
// always contributes at least 0.3.
func TestScoreURL_Bounds(t *testing.T) {
	inputs := []string{
		"",
		"not a url",
		"http://203.0.113.5:8080/admin/download/update/free/click.exe?ip=198.51.100.2&x=" + strings.Repeat("z", 250),
		"http://x.exe.example.org/",
		"ftp://files.example.org/setup.EXE",
		"http://[::1",
	}

	for _, in := range inputs {
		s := ScoreURL(in)
		assert.GreaterOrEqual(t, s, 0.0, in)
		assert.LessOrEqual(t, s, 1.0, in)
		if strings.Contains(strings.ToLower(in), ".exe") {
			assert.GreaterOrEqual(t, s, 0.3, in)
		}
	}
}

func TestShouldKeep(t *testing.T) {
	assert.True(t, ShouldKeep("https://example.org/tool.zip", 0))
	assert.True(t, ShouldKeep("https://example.org/x", 0.41))
	assert.True(t, ShouldKeep("https://example.org/?next=203.0.113.9", 0.2))
	assert.False(t, ShouldKeep("https://example.org/x", 0.4))
}

func TestSuspiciousIndicators_EmptyNotNil(t *testing.T) {
	tags := SuspiciousIndicators("https://example.org/")
	assert.NotNil(t, tags)
	assert.Empty(t, tags)
}
