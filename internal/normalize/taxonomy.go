package normalize

import (
	"regexp"
	"strings"

	"github.com/sells-group/capture-cli/internal/model"
)

// Canonical set-aside codes.
const (
	SetAside8A      = "8A"
	SetAsideEDWOSB  = "EDWOSB"
	SetAsideWOSB    = "WOSB"
	SetAsideSDVOSBC = "SDVOSBC"
	SetAsideVSA     = "VSA"
	SetAsideHZC     = "HZC"
	SetAsideSBP     = "SBP"
	SetAsideSBA     = "SBA"
)

// SetAsideCodes lists every canonical set-aside code, including the sentinel.
var SetAsideCodes = []string{
	SetAside8A, SetAsideEDWOSB, SetAsideWOSB, SetAsideSDVOSBC, SetAsideVSA,
	SetAsideHZC, SetAsideSBP, SetAsideSBA, model.SetAsideNone,
}

// Canonical notice types.
const (
	NoticeCombined        = "Combined Synopsis/Solicitation"
	NoticePresolicitation = "Presolicitation"
	NoticeSolicitation    = "Solicitation"
	NoticeSourcesSought   = "Sources Sought"
	NoticeAward           = "Award Notice"
	NoticeSpecial         = "Special Notice"
)

// NoticeTypes lists every canonical notice type.
var NoticeTypes = []string{
	NoticeCombined, NoticePresolicitation, NoticeSolicitation,
	NoticeSourcesSought, NoticeAward, NoticeSpecial,
}

type substringRule struct {
	patterns []string
	result   string
}

// Checked in order. 8(a) is first so any text naming it maps to 8A;
// EDWOSB precedes WOSB and SDVOSB precedes the veteran rule because the
// longer names contain the shorter ones.
var setAsideRules = []substringRule{
	{[]string{"8A", "8(A)"}, SetAside8A},
	{[]string{"EDWOSB", "ECONOMICALLY DISADVANTAGED WOMEN"}, SetAsideEDWOSB},
	{[]string{"WOSB", "WOMEN OWNED", "WOMAN OWNED"}, SetAsideWOSB},
	{[]string{"SDVOSB", "SERVICE DISABLED VETERAN"}, SetAsideSDVOSBC},
	{[]string{"VSA", "VSS", "VOSB", "VETERAN OWNED"}, SetAsideVSA},
	{[]string{"HZC", "HZS", "HUBZONE", "HUB ZONE"}, SetAsideHZC},
	{[]string{"SBP", "PARTIAL SMALL BUSINESS"}, SetAsideSBP},
	{[]string{"SBA", "TOTAL SMALL BUSINESS", "SMALL BUSINESS"}, SetAsideSBA},
}

var noticeRules = []substringRule{
	{[]string{"PRESOLICITATION", "PRE SOLICITATION"}, NoticePresolicitation},
	{[]string{"SOURCES SOUGHT"}, NoticeSourcesSought},
	{[]string{"SOLICITATION"}, NoticeSolicitation},
	{[]string{"AWARD"}, NoticeAward},
	{[]string{"SPECIAL NOTICE"}, NoticeSpecial},
}

var nonAlnumRe = regexp.MustCompile(`[^A-Z0-9()]+`)

// words upper-cases s and collapses every run of punctuation and spacing to
// one space, so "Service-Disabled  Veteran" reads "SERVICE DISABLED VETERAN".
func words(s string) string {
	return strings.TrimSpace(nonAlnumRe.ReplaceAllString(strings.ToUpper(s), " "))
}

func matchRules(text string, rules []substringRule) (string, bool) {
	upper := strings.ToUpper(text)
	spaced := words(text)
	for _, r := range rules {
		for _, p := range r.patterns {
			if strings.Contains(upper, p) || strings.Contains(spaced, p) {
				return r.result, true
			}
		}
	}
	return "", false
}

// SetAsideCode maps set-aside free text or codes to a canonical code. Input
// that names no known program maps to NONE, never to an empty value.
func SetAsideCode(text string) string {
	if code, ok := matchRules(text, setAsideRules); ok {
		return code
	}
	return model.SetAsideNone
}

// NoticeType maps notice-type free text to a canonical notice type. The
// combined synopsis rule is checked first; unmatched text falls back to
// Solicitation.
func NoticeType(text string) string {
	spaced := words(text)
	if strings.Contains(spaced, "COMBINED") && strings.Contains(spaced, "SOLICITATION") {
		return NoticeCombined
	}
	if t, ok := matchRules(text, noticeRules); ok {
		return t
	}
	return NoticeSolicitation
}

// CleanTaxonomy splits a "~" separated code list, strips the trailing Y/N
// status flag from each code and returns the sorted distinct set.
func CleanTaxonomy(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var codes []string
	for _, item := range strings.Split(s, "~") {
		item = strings.ToUpper(strings.TrimSpace(item))
		if n := len(item); n > 1 && (item[n-1] == 'Y' || item[n-1] == 'N') {
			item = item[:n-1]
		}
		if item != "" {
			codes = append(codes, item)
		}
	}
	return model.UnionCodes(codes)
}

// SBA business type codes that correspond to a set-aside program.
var sbaCodes = map[string]string{
	"A6": SetAside8A,
	"8W": SetAside8A,
	"JT": SetAside8A,
	"A2": SetAsideWOSB,
	"8E": SetAsideEDWOSB,
	"QF": SetAsideSDVOSBC,
	"A5": SetAsideVSA,
	"XX": SetAsideHZC,
	"HQ": SetAsideHZC,
}

// Certifications canonicalizes certification codes or labels. Registry
// codes map through the SBA table, program names through SetAsideCode, and
// anything else is kept upper-cased.
func Certifications(items []string) []string {
	var out []string
	for _, item := range items {
		item = strings.ToUpper(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		// Extract rows carry an expiry date after the code, e.g. "A620291231".
		if len(item) > 2 && isDigits(item[2:]) {
			item = item[:2]
		}
		if code, ok := sbaCodes[item]; ok {
			out = append(out, code)
			continue
		}
		if code := SetAsideCode(item); code != model.SetAsideNone {
			out = append(out, code)
			continue
		}
		out = append(out, item)
	}
	return model.UnionCodes(out)
}

// SplitCertifications splits a "~" separated certification field.
func SplitCertifications(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return Certifications(strings.Split(s, "~"))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var legalSuffixes = []string{
	" LLC", " L L C", " INC", " INCORPORATED", " CORP", " CORPORATION",
	" LTD", " LIMITED", " LP", " LLP", " PC", " PLLC", " CO", " COMPANY",
}

var nameNoiseRe = regexp.MustCompile(`[^A-Z0-9 ]+`)

// NameTokens upper-cases a company name, drops punctuation and a trailing
// legal suffix, and returns its words.
func NameTokens(name string) []string {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "&", " AND ")
	n = nameNoiseRe.ReplaceAllString(n, " ")
	n = strings.Join(strings.Fields(n), " ")
	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(n, suffix) {
			n = strings.TrimSuffix(n, suffix)
			break
		}
	}
	return strings.Fields(n)
}

// ContainsPhrase reports whether needle occurs as a contiguous word run in hay.
func ContainsPhrase(hay, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(hay) {
		return false
	}
	for i := 0; i+len(needle) <= len(hay); i++ {
		match := true
		for j := range needle {
			if hay[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
