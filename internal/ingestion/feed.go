// Package ingestion fetches the public threat feeds and parses their
// line-oriented bodies into raw indicators.
package ingestion

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lvonguyen/feedforge/internal/ioc"
)

// Built-in feed locations.
const (
	BlocklistURL   = "http://www.blocklist.de/lists/apache.txt"
	SpamhausURL    = "http://www.spamhaus.org/drop/drop.txt"
	DigitalSideURL = "https://osint.digitalside.it/Threat-Intel/lists/latesturls.txt"
)

// Line format names.
const (
	FormatIPList   = "ip_list"
	FormatDropList = "drop_list"
	FormatURLList  = "url_list"
)

// FeedConfig holds configuration for a single feed.
type FeedConfig struct {
	Name       string        `yaml:"name" validate:"required"`
	URL        string        `yaml:"url" validate:"required,url"`
	Format     string        `yaml:"format" validate:"omitempty,oneof=ip_list drop_list url_list"`
	Category   string        `yaml:"category"`
	Enabled    bool          `yaml:"enabled"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count" validate:"gte=0,lte=5"`
}

// DefaultFeeds returns the three public feeds in their fixed join order.
func DefaultFeeds() []FeedConfig {
	return []FeedConfig{
		{
			Name:     ioc.SourceBlocklist,
			URL:      BlocklistURL,
			Format:   FormatIPList,
			Category: "brute_force",
			Enabled:  true,
			Timeout:  30 * time.Second,
		},
		{
			Name:     ioc.SourceSpamhaus,
			URL:      SpamhausURL,
			Format:   FormatDropList,
			Category: "botnet_range",
			Enabled:  true,
			Timeout:  30 * time.Second,
		},
		{
			Name:     ioc.SourceDigitalSide,
			URL:      DigitalSideURL,
			Format:   FormatURLList,
			Category: "malware",
			Enabled:  true,
			Timeout:  30 * time.Second,
		},
	}
}

// formatFor returns the configured format or the one implied by the feed
// name.
func formatFor(cfg FeedConfig) string {
	if cfg.Format != "" {
		return cfg.Format
	}
	switch cfg.Name {
	case ioc.SourceSpamhaus:
		return FormatDropList
	case ioc.SourceDigitalSide:
		return FormatURLList
	default:
		return FormatIPList
	}
}

// lineFormat describes how one feed format marks comments and turns a line
// into an indicator value.
type lineFormat struct {
	comment string
	kind    ioc.Kind
	parse   func(line string) (value string, fields map[string]string, ok bool)
}

var lineFormats = map[string]lineFormat{
	FormatIPList: {
		comment: "#",
		kind:    ioc.KindIP,
		parse: func(line string) (string, map[string]string, bool) {
			return line, nil, IsValidIPv4(line)
		},
	},
	FormatDropList: {
		comment: ";",
		kind:    ioc.KindIP,
		parse: func(line string) (string, map[string]string, bool) {
			cidr, ref, _ := strings.Cut(line, ";")
			cidr = strings.TrimSpace(cidr)
			if !IsValidCIDR(cidr) {
				return cidr, nil, false
			}
			var fields map[string]string
			if ref = strings.TrimSpace(ref); ref != "" {
				fields = map[string]string{ioc.FieldSBLReference: ref}
			}
			return cidr, fields, true
		},
	},
	FormatURLList: {
		comment: "#",
		kind:    ioc.KindURL,
		parse: func(line string) (string, map[string]string, bool) {
			u, err := url.Parse(line)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return line, nil, false
			}
			return line, map[string]string{
				ioc.FieldDomain: u.Host,
				ioc.FieldPath:   u.Path,
				ioc.FieldScheme: u.Scheme,
			}, true
		},
	},
}

// ParseResult is the outcome of parsing one feed body.
type ParseResult struct {
	Indicators []*ioc.RawIndicator
	Invalid    []InvalidLine
}

// InvalidLine is a non-comment line that failed validation.
type InvalidLine struct {
	Line  int
	Value string
}

// Parse converts a feed body into raw indicators. Line numbers are 1-based
// over the trimmed body and count comment and blank lines.
func Parse(cfg FeedConfig, body string) ParseResult {
	format, ok := lineFormats[formatFor(cfg)]
	if !ok {
		format = lineFormats[FormatIPList]
	}

	var res ParseResult
	for i, line := range strings.Split(strings.TrimSpace(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, format.comment) {
			continue
		}

		value, fields, valid := format.parse(line)
		if !valid {
			res.Invalid = append(res.Invalid, InvalidLine{Line: i + 1, Value: value})
			continue
		}

		res.Indicators = append(res.Indicators, &ioc.RawIndicator{
			Value:      value,
			Kind:       format.kind,
			Source:     cfg.Name,
			SourceURL:  cfg.URL,
			Category:   cfg.Category,
			RawLine:    line,
			LineNumber: i + 1,
			Fields:     fields,
		})
	}
	return res
}

var (
	ipv4Pattern = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
	cidrPattern = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}/\d{1,2}$`)
)

// IsValidIPv4 reports whether s is a dotted quad with every octet in 0-255.
func IsValidIPv4(s string) bool {
	if !ipv4Pattern.MatchString(s) {
		return false
	}
	return octetsInRange(s)
}

// IsValidCIDR reports whether s is a dotted quad with a prefix in 0-32.
func IsValidCIDR(s string) bool {
	if !cidrPattern.MatchString(s) {
		return false
	}
	addr, prefix, _ := strings.Cut(s, "/")
	if !octetsInRange(addr) {
		return false
	}
	n, err := strconv.Atoi(prefix)
	return err == nil && n >= 0 && n <= 32
}

// IsValidURL reports whether s parses with both a scheme and a host.
func IsValidURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func octetsInRange(addr string) bool {
	for _, octet := range strings.Split(addr, ".") {
		n, err := strconv.Atoi(octet)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}
