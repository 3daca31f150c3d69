package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Declared column widths. Values longer than these are cut after trimming.
const (
	WidthNoticeID     = 255
	WidthTitle        = 1000
	WidthSolicitation = 255
	WidthAgencyField  = 255
	WidthCode         = 10
	WidthState        = 50
	WidthLink         = 1000
	WidthDescription  = 10000
	WidthAwardField   = 255

	WidthUEI     = 32
	WidthCAGE    = 20
	WidthName    = 255
	WidthAddress = 255
	WidthCity    = 100
	WidthZip     = 20
	WidthCountry = 3
	WidthURL     = 255
	WidthEmail   = 255
	WidthPhone   = 100
	WidthNotes   = 1000
)

// Trunc trims s and cuts it to at most n runes. An empty result means the
// value is absent.
func Trunc(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" || n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}

// Field looks up a value by dotted path in a decoded JSON object and renders
// scalars as strings. Missing paths and non-scalar values yield "".
func Field(raw map[string]any, path string) string {
	var cur any = raw
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = m[part]
		if !ok {
			return ""
		}
	}
	switch v := cur.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case interface{ String() string }:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}

// FirstNonEmpty tries paths in order and returns the first non-empty value.
func FirstNonEmpty(raw map[string]any, paths ...string) string {
	for _, p := range paths {
		if v := Field(raw, p); v != "" {
			return v
		}
	}
	return ""
}

// Objects returns the objects held in a JSON array at path.
func Objects(raw map[string]any, path string) []map[string]any {
	var cur any = raw
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	arr, ok := cur.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// ParseCompactDate parses a YYYYMMDD value. Anything else is absent.
func ParseCompactDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if len(s) != 8 {
		return nil
	}
	t, err := time.Parse("20060102", s)
	if err != nil {
		return nil
	}
	return &t
}

// ParseISODate parses a YYYY-MM-DD date, optionally followed by a time part.
// The time part is discarded; only the calendar date is kept.
func ParseISODate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if len(s) < 10 {
		return nil
	}
	if len(s) > 10 && s[10] != 'T' && s[10] != ' ' {
		return nil
	}
	t, err := time.Parse("2006-01-02", s[:10])
	if err != nil {
		return nil
	}
	return &t
}

// ParseUSDate parses an MM/DD/YYYY date.
func ParseUSDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if i := strings.IndexByte(s, ' '); i > 0 {
		s = s[:i]
	}
	t, err := time.Parse("1/2/2006", s)
	if err != nil {
		return nil
	}
	return &t
}

// ParseDate accepts the ISO and US forms used by the listing API and CSV exports.
func ParseDate(s string) *time.Time {
	if t := ParseISODate(s); t != nil {
		return t
	}
	return ParseUSDate(s)
}

var currencyRe = regexp.MustCompile(`[^0-9.\-]`)

// ParseCurrency strips symbols and separators from a money string.
func ParseCurrency(s string) *float64 {
	cleaned := currencyRe.ReplaceAllString(s, "")
	if cleaned == "" {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

// ParseYes interprets yes/no style flags. Empty input yields def.
func ParseYes(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def
	case "yes", "y", "true", "1", "active":
		return true
	default:
		return false
	}
}
