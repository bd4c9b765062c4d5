package enrichment

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/lvonguyen/feedforge/internal/ioc"
)

// KeywordCategory is a weighted group of whole-word keywords.
type KeywordCategory struct {
	Name     string
	Keywords []string
	Weight   float64
}

// DefaultMaliciousCategories carry positive weights.
var DefaultMaliciousCategories = []KeywordCategory{
	{"high_risk", []string{"malware", "virus", "trojan", "ransomware", "backdoor", "keylogger", "spyware"}, 0.8},
	{"suspicious_actions", []string{"download", "install", "update", "crack", "keygen", "activator", "loader"}, 0.6},
	{"social_engineering", []string{"urgent", "immediate", "click", "verify", "confirm", "expire", "suspend"}, 0.5},
	{"file_types", []string{"exe", "zip", "rar", "bat", "scr", "jar", "msi"}, 0.4},
	{"suspicious_domains", []string{"temp", "test", "admin", "root", "user", "guest", "anonymous"}, 0.3},
}

// DefaultBenignCategories carry negative weights.
var DefaultBenignCategories = []KeywordCategory{
	{"legitimate_sites", []string{"github", "microsoft", "google", "amazon", "apple", "facebook"}, -0.5},
	{"documentation", []string{"docs", "help", "support", "manual", "guide", "tutorial"}, -0.2},
}

// maxCountedMatches caps how many occurrences of one keyword count.
const maxCountedMatches = 3

var specialChars = []string{"-", "_", "/", "?", "=", "&", "%", "@"}

// Classification is the keyword classifier verdict for a URL.
type Classification struct {
	IsSuspicious   bool     `json:"is_suspicious"`
	Probability    float64  `json:"probability"`
	MaliciousScore float64  `json:"malicious_score"`
	BenignScore    float64  `json:"benign_score"`
	Features       Features `json:"features"`
	Label          string   `json:"classification"`
}

// Features are the URL properties the verdict was derived from.
type Features struct {
	Length                int            `json:"length"`
	SuspiciousKeywords    []string       `json:"suspicious_keywords"`
	BenignKeywords        []string       `json:"benign_keywords"`
	SpecialChars          map[string]int `json:"special_chars"`
	DomainCharacteristics DomainFeatures `json:"domain_characteristics"`
}

// DomainFeatures describe the URL host.
type DomainFeatures struct {
	Length       int    `json:"length"`
	HasSubdomain bool   `json:"has_subdomain"`
	HasPort      bool   `json:"has_port"`
	IsIP         bool   `json:"is_ip"`
	TLD          string `json:"tld,omitempty"`
	Error        string `json:"error,omitempty"`
}

type weightedPattern struct {
	re     *regexp.Regexp
	weight float64
}

// Classifier scores URLs against weighted keyword dictionaries.
type Classifier struct {
	malicious []weightedPattern
	benign    []weightedPattern
}

// NewClassifier compiles the given categories. Nil slices select the
// defaults.
func NewClassifier(malicious, benign []KeywordCategory) *Classifier {
	if malicious == nil {
		malicious = DefaultMaliciousCategories
	}
	if benign == nil {
		benign = DefaultBenignCategories
	}
	return &Classifier{
		malicious: compileCategories(malicious),
		benign:    compileCategories(benign),
	}
}

func compileCategories(cats []KeywordCategory) []weightedPattern {
	var out []weightedPattern
	for _, c := range cats {
		for _, kw := range c.Keywords {
			out = append(out, weightedPattern{
				re:     regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`),
				weight: c.Weight,
			})
		}
	}
	return out
}

// Classify returns the verdict for a URL.
func (c *Classifier) Classify(raw string) Classification {
	mal, malMatches := score(raw, c.malicious)
	ben, benMatches := score(raw, c.benign)

	probability := ioc.Clamp((mal + ben + 1) / 2)
	suspicious := probability > SuspiciousThreshold

	label := "benign"
	if suspicious {
		label = "suspicious"
	}

	return Classification{
		IsSuspicious:   suspicious,
		Probability:    probability,
		MaliciousScore: mal,
		BenignScore:    ben,
		Label:          label,
		Features: Features{
			Length:                len(raw),
			SuspiciousKeywords:    malMatches,
			BenignKeywords:        benMatches,
			SpecialChars:          countSpecialChars(raw),
			DomainCharacteristics: domainFeatures(raw),
		},
	}
}

func score(raw string, patterns []weightedPattern) (float64, []string) {
	total := 0.0
	matched := []string{}
	for _, p := range patterns {
		found := p.re.FindAllString(raw, -1)
		if len(found) == 0 {
			continue
		}
		total += p.weight * float64(min(len(found), maxCountedMatches)) / maxCountedMatches
		matched = append(matched, found...)
	}
	return total, matched
}

func countSpecialChars(raw string) map[string]int {
	counts := make(map[string]int, len(specialChars))
	for _, ch := range specialChars {
		counts[ch] = strings.Count(raw, ch)
	}
	return counts
}

func domainFeatures(raw string) DomainFeatures {
	u, err := url.Parse(raw)
	if err != nil {
		return DomainFeatures{Error: "failed to parse domain"}
	}

	host := strings.ToLower(u.Hostname())
	f := DomainFeatures{
		Length:       len(host),
		HasSubdomain: strings.Count(host, ".") > 1,
		HasPort:      u.Port() != "",
		IsIP:         host != "" && ipHostPattern.MatchString(host),
	}
	if i := strings.LastIndexByte(host, '.'); i >= 0 {
		f.TLD = host[i+1:]
	}
	return f
}
