package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Amount is a float64 that tolerates the report feed's loose typing: numeric
// values, quoted numbers, empty strings and null all decode without error.
type Amount float64

// UnmarshalJSON accepts numbers, numeric strings, "" and null.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*a = 0
			return nil
		}
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
		if s == "" {
			*a = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*a = 0
			return nil
		}
		*a = Amount(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		*a = 0
		return nil
	}
	*a = Amount(f)
	return nil
}

// Float returns the amount as a plain float64.
func (a Amount) Float() float64 { return float64(a) }

// ReportApplicant identifies the subject of a financial report.
type ReportApplicant struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// PaySchedule is one detected recurring income stream on an account.
type PaySchedule struct {
	Frequency      string   `json:"frequency"`
	IncomeType     string   `json:"income_type"`
	MonthlyIncome  Amount   `json:"monthly_income"`
	Details        string   `json:"details"`
	FuturePayments []string `json:"future_payments"`
}

// Account is one connected bank account in a report. Statistics is a flat
// map of provider-computed aggregates (keys like "credits_30_total") whose
// exact set varies by provider and report vintage.
type Account struct {
	Statistics     map[string]Amount   `json:"statistics"`
	FlagsSummary   map[string]int      `json:"flags_summary"`
	Institution    string              `json:"institution"`
	Type           string              `json:"type"`
	Transit        string              `json:"transit"`
	Number         string              `json:"account"`
	CurrentBalance Amount              `json:"current_balance"`
	PaySchedule    []PaySchedule       `json:"pay_schedule"`
	Transactions   []ReportTransaction `json:"transactions"`
}

// ReportTransaction is one raw transaction record. Credit and Debit are the
// explicit direction fields; when both are zero the description keywords
// decide direction. Flags and Category carry the provider's classification
// metadata ("is_payroll", "fees_and_charges/loans/payday", ...).
type ReportTransaction struct {
	Date        string   `json:"date"`
	Details     string   `json:"details"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Type        string   `json:"type"`
	Flags       []string `json:"flags"`
	Credit      Amount   `json:"credit"`
	Debit       Amount   `json:"debit"`
	Amount      Amount   `json:"amount"`
}

// Text returns the best available free-text description.
func (t ReportTransaction) Text() string {
	if t.Details != "" {
		return t.Details
	}
	return t.Description
}

// HasFlag reports whether the provider tagged the transaction with flag.
func (t ReportTransaction) HasFlag(flag string) bool {
	for _, f := range t.Flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// Report is a structured financial report fetched from the verification
// provider. Transactions may appear at the top level, per account, or both;
// consumers flatten the union.
type Report struct {
	Summary      map[string]Amount   `json:"summary"`
	Applicant    ReportApplicant     `json:"applicant"`
	CreatedAt    string              `json:"created_at"`
	Accounts     []Account           `json:"accounts"`
	Transactions []ReportTransaction `json:"transactions"`
}

// AllTransactions flattens top-level and per-account transactions into one
// sequence, preserving report order.
func (r Report) AllTransactions() []ReportTransaction {
	out := make([]ReportTransaction, 0, len(r.Transactions))
	out = append(out, r.Transactions...)
	for _, acc := range r.Accounts {
		out = append(out, acc.Transactions...)
	}
	return out
}

// CompletedAt parses the report's creation timestamp at day resolution.
// Returns the zero time when absent or unparseable.
func (r Report) CompletedAt() time.Time {
	raw := strings.TrimSpace(r.CreatedAt)
	if len(raw) < 10 {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", raw[:10])
	if err != nil {
		return time.Time{}
	}
	return t
}
