// Package features derives the deterministic risk-signal vector from a raw
// financial report.
//
// Extraction is a pure function of the report and the window: it never
// reaches the network, never consults a model, and always yields identical
// output for identical input. Malformed pieces of the report degrade to
// zeros, never to failure.
package features

import (
	"fmt"
	"strings"
	"time"

	"github.com/xcash-fin/loanflow/internal/model"
)

// DefaultWindowDays is the window used when none is configured.
const DefaultWindowDays = 30

// govIncomeShare is the threshold above which government benefits are
// considered the primary income source.
const govIncomeShare = 0.7

// Extract computes the feature vector for the window ending at the report's
// completion timestamp, or now when the report does not carry one.
func Extract(report model.Report, windowDays int) model.FeatureVector {
	end := report.CompletedAt()
	if end.IsZero() {
		end = time.Now()
	}
	return ExtractAt(report, windowDays, end)
}

// ExtractAt computes the feature vector for the window [end-windowDays, end].
// Exposed separately so callers and tests can pin the window end explicitly.
func ExtractAt(report model.Report, windowDays int, end time.Time) model.FeatureVector {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	end = truncateToDay(end)
	start := end.AddDate(0, 0, -windowDays)

	vec := model.FeatureVector{
		WindowDays:    windowDays,
		AccountsCount: len(report.Accounts),
	}

	cashflowSeeded, nsfSeeded := seedFromStatistics(&vec, report, windowDays)

	lenders := make(map[string]struct{})
	lendersWithDebit := make(map[string]struct{})
	gamblingDays := make(map[string]struct{})
	var lastTrusteePayment time.Time
	var txCredits, txDebits float64

	for _, tx := range report.AllTransactions() {
		day, ok := parseDay(tx.Date)
		if !ok {
			// Unparseable date; drop the transaction, not the extraction.
			continue
		}
		if day.Before(start) || day.After(end) {
			continue
		}

		credit, debit := resolveDirection(tx)
		text := strings.ToUpper(tx.Text())
		txCredits += credit
		txDebits += debit

		if isPayroll(tx) {
			vec.Income.PayrollCount++
			vec.Income.PayrollTotal += credit
		}

		if credit > 0 && isGovBenefit(tx, text) {
			vec.Income.GovCount++
			vec.Income.GovTotal += credit
		}

		if isETransfer(tx, text) {
			if credit > 0 {
				vec.ETransfers.ReceivedCount++
				vec.ETransfers.ReceivedTotal += credit
			}
			if debit > 0 {
				vec.ETransfers.SentCount++
				vec.ETransfers.SentTotal += debit
			}
		}

		if isPaydayLoan(tx, text) {
			key := NormalizeCounterparty(tx.Text())
			if credit > 0 {
				vec.PaydayLoans.NewLoanCount++
				vec.PaydayLoans.NewLoanTotal += credit
				lenders[key] = struct{}{}
			}
			if debit > 0 {
				vec.PaydayLoans.DeductionCount++
				vec.PaydayLoans.DeductionTotal += debit
				lenders[key] = struct{}{}
				lendersWithDebit[key] = struct{}{}
			}
		}

		if isGambling(tx, text) {
			vec.Gambling.TxnCount++
			vec.Gambling.Total += debit
			if debit > vec.Gambling.MaxSingle {
				vec.Gambling.MaxSingle = debit
			}
			gamblingDays[day.Format("2006-01-02")] = struct{}{}
		}

		if isTrustee(tx, text) {
			vec.Trustee.Active = true
			if debit > 0 {
				vec.Trustee.PaymentCount++
				vec.Trustee.PaymentTotal += debit
				if day.After(lastTrusteePayment) {
					lastTrusteePayment = day
					vec.Trustee.LastPaymentDate = day.Format("2006-01-02")
				}
			}
			if strings.Contains(text, "NSF") || strings.Contains(text, "RETURN") {
				vec.Trustee.FailedPayments++
			}
		}

		if !nsfSeeded {
			if isNSF(tx, text) {
				vec.NSFOverdraft.NSFCount++
			}
			if isOverdraft(tx, text) {
				vec.NSFOverdraft.OverdraftCount++
			}
		}
	}

	// Provider statistics win for cashflow when present; otherwise the
	// transaction scan supplies the totals.
	if !cashflowSeeded {
		vec.Cashflow.CreditsTotal = txCredits
		vec.Cashflow.DebitsTotal = txDebits
	}
	vec.Cashflow.Net = vec.Cashflow.CreditsTotal - vec.Cashflow.DebitsTotal

	vec.PaydayLoans.DistinctLenders = len(lenders)
	vec.PaydayLoans.ActiveLoansEstimate = len(lendersWithDebit)
	vec.Gambling.DistinctDays = len(gamblingDays)
	vec.Gambling.Detected = vec.Gambling.TxnCount > 0

	totalIncome := vec.Income.GovTotal + vec.Income.PayrollTotal
	if totalIncome > 0 && vec.Income.GovTotal/totalIncome >= govIncomeShare {
		vec.Income.PrimaryIncomeIsGov = true
	}

	return vec
}

// seedFromStatistics folds the provider's per-account aggregate blocks into
// the vector. Cashflow and NSF/overdraft seeding are tracked independently:
// a provider's figures win only for the counters it actually supplies, and
// the transaction scan still computes the rest.
func seedFromStatistics(vec *model.FeatureVector, report model.Report, windowDays int) (cashflowSeeded, nsfSeeded bool) {
	creditsKey := fmt.Sprintf("credits_%d_total", windowDays)
	debitsKey := fmt.Sprintf("debits_%d_total", windowDays)
	nsfKey := fmt.Sprintf("nsf_%d_count", windowDays)
	overdraftKey := fmt.Sprintf("overdraft_%d_count", windowDays)

	for _, acc := range report.Accounts {
		if len(acc.Statistics) == 0 {
			continue
		}
		if v, ok := acc.Statistics[creditsKey]; ok {
			vec.Cashflow.CreditsTotal += v.Float()
			cashflowSeeded = true
		}
		if v, ok := acc.Statistics[debitsKey]; ok {
			vec.Cashflow.DebitsTotal += v.Float()
			cashflowSeeded = true
		}
		if v, ok := acc.Statistics[nsfKey]; ok {
			vec.NSFOverdraft.NSFCount += int(v.Float())
			nsfSeeded = true
		}
		if v, ok := acc.Statistics[overdraftKey]; ok {
			vec.NSFOverdraft.OverdraftCount += int(v.Float())
			nsfSeeded = true
		}
	}
	return cashflowSeeded, nsfSeeded
}

// resolveDirection returns the transaction's credit and debit amounts.
// Explicit credit/debit fields are authoritative; the description's keyword
// cues are consulted only when both are absent. A transaction whose
// direction cannot be determined contributes to no directional bucket.
func resolveDirection(tx model.ReportTransaction) (credit, debit float64) {
	if tx.Credit > 0 || tx.Debit > 0 {
		return tx.Credit.Float(), tx.Debit.Float()
	}

	amount := tx.Amount.Float()
	if amount == 0 {
		return 0, 0
	}
	if amount < 0 {
		return 0, -amount
	}

	switch strings.ToLower(strings.TrimSpace(tx.Type)) {
	case "credit", "deposit":
		return amount, 0
	case "debit", "withdrawal", "payment":
		return 0, amount
	}

	text := strings.ToUpper(tx.Text())
	switch {
	case containsAny(text, []string{"DEPOSIT", "RECEIVED", "REFUND", "AUTODEPOSIT"}):
		return amount, 0
	case containsAny(text, []string{"PAYMENT", "WITHDRAWAL", "PURCHASE", "SENT", "PAD", "FEE"}):
		return 0, amount
	}
	return 0, 0
}

// parseDay parses a transaction date at day resolution, tolerating trailing
// time components.
func parseDay(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 10 {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", raw[:10])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
