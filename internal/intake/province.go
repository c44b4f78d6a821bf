package intake

import (
	"strings"
	"unicode"
)

// provinceNames maps full province and territory names to their codes,
// longest names first so detection is deterministic.
var provinceNames = []struct {
	name string
	code string
}{
	{"newfoundland and labrador", "NL"},
	{"northwest territories", "NT"},
	{"prince edward island", "PE"},
	{"british columbia", "BC"},
	{"new brunswick", "NB"},
	{"newfoundland", "NL"},
	{"saskatchewan", "SK"},
	{"nova scotia", "NS"},
	{"alberta", "AB"},
	{"manitoba", "MB"},
	{"nunavut", "NU"},
	{"ontario", "ON"},
	{"quebec", "QC"},
	{"yukon", "YT"},
}

var provinceCodes = map[string]struct{}{
	"AB": {}, "BC": {}, "MB": {}, "NB": {}, "NL": {}, "NS": {},
	"NT": {}, "NU": {}, "ON": {}, "PE": {}, "QC": {}, "SK": {}, "YT": {},
}

// DetectProvince extracts a Canadian province code from a free-text address.
// Full names are checked before two-letter codes so "Ontario" does not lose
// to a street token. Returns "" when nothing recognizable is found.
func DetectProvince(address string) string {
	lowered := strings.ToLower(address)
	lowered = strings.ReplaceAll(lowered, "é", "e")

	for _, p := range provinceNames {
		if containsWordSequence(lowered, p.name) {
			return p.code
		}
	}

	for _, token := range splitAddressTokens(address) {
		upper := strings.ToUpper(token)
		if _, ok := provinceCodes[upper]; ok && len(token) == 2 {
			return upper
		}
	}
	return ""
}

// containsWordSequence reports whether text contains phrase on word
// boundaries.
func containsWordSequence(text, phrase string) bool {
	idx := strings.Index(text, phrase)
	for idx >= 0 {
		beforeOK := idx == 0 || !isWordRune(rune(text[idx-1]))
		end := idx + len(phrase)
		afterOK := end >= len(text) || !isWordRune(rune(text[end]))
		if beforeOK && afterOK {
			return true
		}
		next := strings.Index(text[idx+1:], phrase)
		if next < 0 {
			return false
		}
		idx = idx + 1 + next
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func splitAddressTokens(address string) []string {
	return strings.FieldsFunc(address, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
