package model

import (
	"fmt"
	"time"
)

// Decision is the underwriting outcome category.
type Decision string

// Decision values. DecisionError is the explicit sentinel recorded when the
// decision service itself failed, so the applicant is never silently lost.
const (
	DecisionApproved      Decision = "Approved"
	DecisionApprovedLower Decision = "Approved for Lower Amount"
	DecisionDeclined      Decision = "Declined"
	DecisionError         Decision = "Error"
)

// Valid reports whether d is one of the known decision categories.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApproved, DecisionApprovedLower, DecisionDeclined, DecisionError:
		return true
	}
	return false
}

// Judgment is the normalized output of the decision service before it is
// bound to an applicant. ApprovedAmount is nil unless the decision carries
// a dollar figure.
type Judgment struct {
	ApprovedAmount *float64
	Decision       Decision
	Rationale      string
}

// DecisionRecord is one completed evaluation, as persisted in the ledger.
type DecisionRecord struct {
	Timestamp      time.Time
	ApprovedAmount *float64
	FirstName      string
	LastName       string
	GUID           string
	Rationale      string
	Decision       Decision
	LoanAmount     float64
}

// DedupKey is the natural key the ledger deduplicates on.
func (r DecisionRecord) DedupKey() string {
	return fmt.Sprintf("%s|%s", r.GUID, r.Timestamp.UTC().Format(time.RFC3339))
}

// SkippedApplicant is a submission turned away at intake, typically because
// the detected province is not serviceable. Kept for the review surface.
type SkippedApplicant struct {
	Timestamp        time.Time
	FirstName        string
	LastName         string
	Address          string
	DetectedProvince string
}
