package enrichment

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Signal weights.
const (
	extensionWeight = 0.3
	patternWeight   = 0.2
	longHostWeight  = 0.2
	ipHostWeight    = 0.4
	portWeight      = 0.1
	longURLWeight   = 0.1
	pathWeight      = 0.1
	malformedWeight = 0.3

	// SuspiciousThreshold is the score above which a URL is flagged.
	SuspiciousThreshold = 0.5
	// RetentionThreshold is the score above which a URL is always kept.
	RetentionThreshold = 0.4

	longHostLength = 30
	longURLLength  = 200
	maxPort        = 65535
)

// suspiciousExtensions are matched anywhere in the lowercased URL, so ".com"
// also fires on the TLD.
var suspiciousExtensions = []string{
	".exe", ".bat", ".cmd", ".com", ".pif", ".scr", ".vbs", ".js",
	".jar", ".zip", ".rar", ".7z", ".tar", ".gz", ".bz2",
	".msi", ".deb", ".rpm", ".dmg", ".pkg", ".app",
}

// highPriorityExtensions always retain a URL.
var highPriorityExtensions = []string{".exe", ".zip", ".bat", ".scr"}

var suspiciousPorts = map[string]bool{"8080": true, "8443": true, "9999": true}

var suspiciousPaths = []string{"/admin", "/wp-admin", "/upload"}

type urlPattern struct {
	name string
	re   *regexp.Regexp
}

var (
	embeddedIPPattern = regexp.MustCompile(`[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}`)
	ipHostPattern     = regexp.MustCompile(`^[0-9.]+$`)

	urlPatterns = []urlPattern{
		{"ip_address", embeddedIPPattern},
		{"suspicious_tld", regexp.MustCompile(`\.(?:tk|ml|ga|cf)(?:[:/?#]|$)`)},
		{"url_shortener", regexp.MustCompile(`(?:^|[/.@])(?:bit\.ly|tinyurl\.com|t\.co|goo\.gl)(?:[:/?#]|$)`)},
		{"suspicious_keywords", regexp.MustCompile(`download|install|update|urgent|click|free`)},
	}
)

// URLAnalysis is the result of scoring a URL.
type URLAnalysis struct {
	Score      float64
	Indicators []string
}

// AnalyzeURL scores a URL from independent signals and lists the indicator
// tags that fired. The score is bounded to [0,1].
func AnalyzeURL(raw string) URLAnalysis {
	var a URLAnalysis
	lower := strings.ToLower(raw)

	extMatched := false
	for _, ext := range suspiciousExtensions {
		if strings.Contains(lower, ext) {
			if !extMatched {
				a.Score += extensionWeight
				extMatched = true
			}
			a.Indicators = append(a.Indicators, "suspicious_extension:"+ext)
		}
	}

	for _, p := range urlPatterns {
		if p.re.MatchString(lower) {
			a.Score += patternWeight
			a.Indicators = append(a.Indicators, "pattern:"+p.name)
		}
	}

	if u, err := url.Parse(raw); err != nil {
		a.markMalformed()
	} else {
		a.scoreParsed(raw, u)
	}

	if a.Score > 1 {
		a.Score = 1
	}
	if a.Indicators == nil {
		a.Indicators = []string{}
	}
	return a
}

// scoreParsed adds the host, port, length and path signals. A port outside
// 0-65535 marks the URL malformed and skips the remaining checks.
func (a *URLAnalysis) scoreParsed(raw string, u *url.URL) {
	host := strings.ToLower(u.Hostname())

	if len(host) > longHostLength && strings.IndexFunc(host, unicode.IsDigit) >= 0 {
		a.Score += longHostWeight
		a.Indicators = append(a.Indicators, "long_domain")
	}
	if host != "" && ipHostPattern.MatchString(host) {
		a.Score += ipHostWeight
		a.Indicators = append(a.Indicators, "ip_domain")
	}

	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n > maxPort {
			a.markMalformed()
			return
		}
		if suspiciousPorts[port] {
			a.Score += portWeight
			a.Indicators = append(a.Indicators, fmt.Sprintf("suspicious_port:%s", port))
		}
	}

	if len(raw) > longURLLength {
		a.Score += longURLWeight
		a.Indicators = append(a.Indicators, "long_url")
	}
	path := strings.ToLower(u.Path)
	for _, p := range suspiciousPaths {
		if strings.Contains(path, p) {
			a.Score += pathWeight
			a.Indicators = append(a.Indicators, "suspicious_path")
			break
		}
	}
}

func (a *URLAnalysis) markMalformed() {
	a.Score += malformedWeight
	a.Indicators = append(a.Indicators, "malformed_url")
}

// ScoreURL returns the suspicion score of a URL.
func ScoreURL(raw string) float64 {
	return AnalyzeURL(raw).Score
}

// SuspiciousIndicators returns the tags of the signals that fired for a URL.
func SuspiciousIndicators(raw string) []string {
	return AnalyzeURL(raw).Indicators
}

// ShouldKeep decides whether a URL survives filtering.
func ShouldKeep(raw string, score float64) bool {
	lower := strings.ToLower(raw)
	for _, ext := range highPriorityExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	if score > RetentionThreshold {
		return true
	}
	return embeddedIPPattern.MatchString(lower)
}
