package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultLoanType is assumed when a submission omits the loan type.
const DefaultLoanType = "payday"

// PendingApplicant is a loan request that has not yet been matched to a
// verification event. GUID is set the first time a correlation match is
// found so re-matching never recurs for the same applicant. Attempts counts
// failed processing passes after a match and drives the dead-letter policy.
type PendingApplicant struct {
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	LoanType    string    `json:"loan_type"`
	LoanAmount  float64   `json:"loan_amount"`
	SubmittedAt time.Time `json:"timestamp"`
	GUID        string    `json:"guid,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
}

// Normalize trims names and applies defaults. Called on every intake path so
// queue keys stay stable regardless of how the form rendered the fields.
func (a *PendingApplicant) Normalize() {
	a.FirstName = strings.TrimSpace(a.FirstName)
	a.LastName = strings.TrimSpace(a.LastName)
	a.LoanType = strings.TrimSpace(a.LoanType)
	if a.LoanType == "" {
		a.LoanType = DefaultLoanType
	}
}

// Key is the case-insensitive upsert identity for the pending queue.
func (a PendingApplicant) Key() string {
	return strings.ToLower(fmt.Sprintf("%s|%s|%s",
		strings.TrimSpace(a.FirstName),
		strings.TrimSpace(a.LastName),
		strings.TrimSpace(a.LoanType)))
}

// FullName renders the applicant's display name.
func (a PendingApplicant) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// ParseAmount coerces free-text loan amounts ("1,500", "$500.00", " 750 ")
// into a float. Invalid input yields zero rather than failing the pipeline;
// the decision step treats a zero request as "amount unknown".
func ParseAmount(raw string) float64 {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if cleaned == "" {
		return 0
	}
	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || amount < 0 {
		return 0
	}
	return amount
}
