package decider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xcash-fin/loanflow/internal/model"
)

// maxNarrativeBytes caps the account narrative included in the prompt so a
// pathological report cannot blow the model's context window.
const maxNarrativeBytes = 12000

const systemPrompt = `You are an underwriting assistant for a short-term consumer lender. ` +
	`You MUST respond with ONLY a valid JSON object. Do not include any explanatory text, ` +
	`markdown formatting, or commentary before or after the JSON. Start your response ` +
	`directly with { and end with }.`

// buildPrompt assembles the underwriting prompt: the requested amount, the
// precomputed signal vector, and a truncated account narrative.
func buildPrompt(features model.FeatureVector, narrative string, loanAmount float64) string {
	signals, err := json.MarshalIndent(features, "", "  ")
	if err != nil {
		// FeatureVector contains only plain values; this cannot fail.
		signals = []byte("{}")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Requested loan amount: $%.2f\n\n", loanAmount)
	b.WriteString("Precomputed signals over the analysis window:\n")
	b.Write(signals)
	b.WriteString("\n\nAccount narrative:\n")
	b.WriteString(truncateNarrative(narrative))
	b.WriteString("\n\nDecide whether to lend. Respond with a JSON object of the form:\n")
	b.WriteString(`{"decision": "Approved" | "Approved for Lower Amount" | "Declined", ` +
		`"approved_amount": <number or null>, "rationale": "<one or two sentences>"}` + "\n")
	b.WriteString("Rules:\n")
	b.WriteString("- \"Approved\" means the full requested amount; set approved_amount to it.\n")
	b.WriteString("- \"Approved for Lower Amount\" requires approved_amount below the request.\n")
	b.WriteString("- \"Declined\" means approved_amount must be null.\n")
	b.WriteString("- Weigh income stability, existing short-term loan load, NSF activity, and cashflow.\n")
	return b.String()
}

// truncateNarrative caps the narrative at maxNarrativeBytes on a line
// boundary where possible.
func truncateNarrative(narrative string) string {
	if len(narrative) <= maxNarrativeBytes {
		return narrative
	}
	cut := narrative[:maxNarrativeBytes]
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "\n[narrative truncated]"
}
