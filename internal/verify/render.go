package verify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xcash-fin/loanflow/internal/model"
)

// maxRenderedTransactions caps the narrative's transaction listing.
const maxRenderedTransactions = 50

// RenderText produces a plain-text narrative of the report for the decision
// prompt. Output is deterministic: map-backed sections are emitted in sorted
// key order, so the same report always renders to the same bytes.
func RenderText(report model.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Financial report for %s %s\n", report.Applicant.FirstName, report.Applicant.LastName)
	if report.CreatedAt != "" {
		fmt.Fprintf(&b, "Created: %s\n", report.CreatedAt)
	}

	if len(report.Summary) > 0 {
		b.WriteString("\nSummary:\n")
		writeAmountMap(&b, report.Summary)
	}

	for i, acc := range report.Accounts {
		fmt.Fprintf(&b, "\nAccount %d: %s %s", i+1, acc.Institution, acc.Type)
		if acc.Number != "" {
			fmt.Fprintf(&b, " (%s-%s)", acc.Transit, acc.Number)
		}
		fmt.Fprintf(&b, "\n  Current balance: %.2f\n", acc.CurrentBalance.Float())

		for _, ps := range acc.PaySchedule {
			fmt.Fprintf(&b, "  Income stream: %s %s, monthly %.2f",
				ps.Frequency, ps.IncomeType, ps.MonthlyIncome.Float())
			if ps.Details != "" {
				fmt.Fprintf(&b, " (%s)", ps.Details)
			}
			b.WriteString("\n")
		}

		if len(acc.Statistics) > 0 {
			b.WriteString("  Statistics:\n")
			writeIndentedAmountMap(&b, acc.Statistics)
		}

		if len(acc.FlagsSummary) > 0 {
			b.WriteString("  Flags:\n")
			keys := make([]string, 0, len(acc.FlagsSummary))
			for k := range acc.FlagsSummary {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, "    %s: %d\n", k, acc.FlagsSummary[k])
			}
		}
	}

	txs := report.AllTransactions()
	if len(txs) > 0 {
		fmt.Fprintf(&b, "\nTransactions (%d total", len(txs))
		if len(txs) > maxRenderedTransactions {
			fmt.Fprintf(&b, ", first %d shown", maxRenderedTransactions)
			txs = txs[:maxRenderedTransactions]
		}
		b.WriteString("):\n")
		for _, tx := range txs {
			fmt.Fprintf(&b, "  %s  %s", tx.Date, tx.Text())
			if tx.Credit > 0 {
				fmt.Fprintf(&b, "  +%.2f", tx.Credit.Float())
			}
			if tx.Debit > 0 {
				fmt.Fprintf(&b, "  -%.2f", tx.Debit.Float())
			}
			if tx.Credit == 0 && tx.Debit == 0 && tx.Amount != 0 {
				fmt.Fprintf(&b, "  %.2f", tx.Amount.Float())
			}
			if tx.Category != "" {
				fmt.Fprintf(&b, "  [%s]", tx.Category)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

func writeAmountMap(b *strings.Builder, m map[string]model.Amount) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "  %s: %.2f\n", k, m[k].Float())
	}
}

func writeIndentedAmountMap(b *strings.Builder, m map[string]model.Amount) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "    %s: %.2f\n", k, m[k].Float())
	}
}
