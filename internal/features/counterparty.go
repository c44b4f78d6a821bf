package features

import (
	"strings"
	"unicode"
)

// boilerplateTokens are stripped from counterparty keys: payment-rail noise
// that varies between renderings of the same payee.
var boilerplateTokens = map[string]struct{}{
	"preauthorized": {},
	"preauth":       {},
	"pre":           {},
	"authorized":    {},
	"pad":           {},
	"payment":       {},
	"pmt":           {},
	"pymt":          {},
	"debit":         {},
	"credit":        {},
	"deposit":       {},
	"withdrawal":    {},
	"transfer":      {},
	"etrnsfr":       {},
	"etransfer":     {},
	"e":             {},
	"tfr":           {},
	"interac":       {},
	"autodeposit":   {},
	"pos":           {},
	"purchase":      {},
	"fee":           {},
	"to":            {},
	"from":          {},
	"the":           {},
}

// NormalizeCounterparty collapses superficially different renderings of the
// same payee to one identity: lower-cased, punctuation dropped, boilerplate
// tokens removed, and long numeric runs (reference numbers) stripped. Falls
// back to the lower-cased raw text when nothing survives, so a counterparty
// is never silently merged into the empty key.
func NormalizeCounterparty(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	if lowered == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range lowered {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	var kept []string
	for _, token := range strings.Fields(b.String()) {
		if _, noise := boilerplateTokens[token]; noise {
			continue
		}
		if isNumericRun(token) {
			continue
		}
		kept = append(kept, token)
	}

	normalized := strings.Join(kept, " ")
	if normalized == "" {
		return lowered
	}
	return normalized
}

// isNumericRun reports whether token is a digit run long enough to be a
// reference or account number rather than part of a name.
func isNumericRun(token string) bool {
	if len(token) < 4 {
		return false
	}
	for _, r := range token {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
