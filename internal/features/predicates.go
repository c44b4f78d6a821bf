package features

import (
	"strings"

	"github.com/xcash-fin/loanflow/internal/model"
)

// Provider flags observed on transaction records.
const (
	flagPayroll   = "is_payroll"
	flagLoan      = "is_loan"
	flagPayday    = "is_payday"
	flagTrustee   = "is_bankruptcy_trustee"
	flagNSF       = "is_nsf"
	flagOverdraft = "is_overdraft"
)

// govIncomeKeywords flag Canadian government benefit deposits.
var govIncomeKeywords = []string{
	"CANADA CHILD", "CHILD BENEFIT", "CHILD TAX", "CCTB", "CCB",
	"ODSP", "DISABILITY", "CPP", "OAS", "GST/HST", "GST CREDIT",
	"CANADA FED", "CANADA PRO", "EI CANADA",
}

// eTransferKeywords flag Interac e-transfer activity.
var eTransferKeywords = []string{
	"INTERAC ETRNSFR", "INTERAC E-TRANSFER", "E-TRANSFER", "ETRANSFER", "SEND E-TFR",
}

// paydayBrands is the keyword fallback for payday/high-cost lenders, used
// only when a transaction carries no provider metadata at all.
var paydayBrands = []string{
	"MONEY MART", "CASH MONEY", "SPEEDY CASH", "CASH 4 YOU", "ICASH",
	"MOGO", "PAY2DAY", "GODAY", "CAPTAIN CASH", "PAYDAY",
}

// gamblingBrands is the keyword/brand fallback for gambling merchants.
var gamblingBrands = []string{
	"GAMBL", "CASINO", "LOTTO", "LOTTERY", "SPORTSBOOK", "BETTING",
	"BET365", "BETANO", "BETMGM", "BET99", "BETWAY", "DRAFTKINGS",
	"FANDUEL", "POKERSTARS", "PARTYPOKER", "GGPOKER", "LEOVEGAS",
	"THESCORE", "PROLINE", "PLAYNOW", "OLG", "WCLC", "MISE-O-JEU",
}

// trusteeKeywords is the fallback for consumer-proposal/trustee payments.
var trusteeKeywords = []string{
	"BANKRUPTCY", "CONSUMER PROPOSAL", "TRUSTEE", "INSOLVENCY",
}

// hasMetadata reports whether the provider classified this transaction at
// all. Keyword fallbacks only apply when it did not.
func hasMetadata(tx model.ReportTransaction) bool {
	return len(tx.Flags) > 0 || strings.TrimSpace(tx.Category) != ""
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// isPayroll relies on the provider's payroll flag only; merchant guessing
// for payroll produces too many false positives to be useful.
func isPayroll(tx model.ReportTransaction) bool {
	return tx.HasFlag(flagPayroll)
}

func isGovBenefit(tx model.ReportTransaction, text string) bool {
	return containsAny(text, govIncomeKeywords)
}

func isETransfer(tx model.ReportTransaction, text string) bool {
	if strings.Contains(strings.ToLower(tx.Category), "etransfer") {
		return true
	}
	return containsAny(text, eTransferKeywords)
}

// isPaydayLoan treats is_loan exactly the same as is_payday: both count for
// new loans and deductions.
func isPaydayLoan(tx model.ReportTransaction, text string) bool {
	if tx.HasFlag(flagPayday) || tx.HasFlag(flagLoan) {
		return true
	}
	category := strings.ToLower(tx.Category)
	if strings.Contains(category, "loans/payday") || strings.Contains(category, "loans/high_cost") {
		return true
	}
	if hasMetadata(tx) {
		return false
	}
	return containsAny(text, paydayBrands)
}

func isGambling(tx model.ReportTransaction, text string) bool {
	category := strings.ToLower(tx.Category)
	if strings.Contains(category, "entertainment/gambling") || strings.Contains(category, "/gambling") {
		return true
	}
	if hasMetadata(tx) {
		return false
	}
	return containsAny(text, gamblingBrands)
}

func isTrustee(tx model.ReportTransaction, text string) bool {
	if tx.HasFlag(flagTrustee) {
		return true
	}
	if hasMetadata(tx) {
		return false
	}
	return containsAny(text, trusteeKeywords)
}

func isNSF(tx model.ReportTransaction, text string) bool {
	if tx.HasFlag(flagNSF) {
		return true
	}
	return strings.Contains(text, "NSF") || strings.Contains(text, "RETURNED ITEM")
}

func isOverdraft(tx model.ReportTransaction, text string) bool {
	if tx.HasFlag(flagOverdraft) {
		return true
	}
	return strings.Contains(text, "OVERDRAFT")
}
