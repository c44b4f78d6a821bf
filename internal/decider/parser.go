package decider

import (
	"encoding/json"
	"strings"

	"github.com/xcash-fin/loanflow/internal/model"
)

// rawJudgment is the shape we ask the model for. approved_amount arrives as
// a number, a quoted number, a dollar string, or null depending on the
// model's mood, so it is parsed leniently.
type rawJudgment struct {
	Decision       string          `json:"decision"`
	ApprovedAmount json.RawMessage `json:"approved_amount"`
	Rationale      string          `json:"rationale"`
}

// ParseJudgment extracts a judgment from raw model output. ok is false when
// no usable JSON object can be recovered or the decision category is
// unrecognized; callers coerce that case to an explicit Error judgment.
func ParseJudgment(raw string) (model.Judgment, bool) {
	candidate := extractJSONObject(stripCodeFences(raw))
	if candidate == "" {
		return model.Judgment{}, false
	}

	var parsed rawJudgment
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		return model.Judgment{}, false
	}

	decision, ok := normalizeDecision(parsed.Decision)
	if !ok {
		return model.Judgment{}, false
	}

	judgment := model.Judgment{
		Decision:  decision,
		Rationale: strings.TrimSpace(parsed.Rationale),
	}

	if amount, ok := parseAmountField(parsed.ApprovedAmount); ok {
		judgment.ApprovedAmount = &amount
	}
	return judgment, true
}

// stripCodeFences removes a surrounding markdown code fence, with or without
// a language tag.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		first := strings.TrimSpace(s[:idx])
		if first == "" || strings.EqualFold(first, "json") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractJSONObject returns the first balanced top-level JSON object in s,
// tracking string literals so braces inside values do not confuse the scan.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// normalizeDecision maps model output to a known decision category,
// tolerating case and surrounding whitespace.
func normalizeDecision(raw string) (model.Decision, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, d := range []model.Decision{
		model.DecisionApproved,
		model.DecisionApprovedLower,
		model.DecisionDeclined,
		model.DecisionError,
	} {
		if strings.EqualFold(trimmed, string(d)) {
			return d, true
		}
	}
	return "", false
}

// parseAmountField coerces the approved_amount field to a float. Accepts a
// bare number, a quoted number, or a dollar string like "$1,500".
func parseAmountField(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}

	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, true
	}

	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, false
	}
	amount := model.ParseAmount(str)
	if amount == 0 && strings.TrimSpace(str) != "0" {
		return 0, false
	}
	return amount, true
}
