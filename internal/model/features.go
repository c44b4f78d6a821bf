package model

// FeatureVector is the deterministic, windowed aggregation of transaction
// signals fed to the decision step. Every field defaults to zero/false when
// the underlying data is absent; no field is ever fabricated.
type FeatureVector struct {
	Income        IncomeSignals     `json:"income"`
	PaydayLoans   PaydayLoanSignals `json:"payday_loans"`
	Gambling      GamblingSignals   `json:"gambling"`
	ETransfers    ETransferSignals  `json:"etransfers"`
	Trustee       TrusteeSignals    `json:"proposal_trustee"`
	NSFOverdraft  NSFSignals        `json:"nsf_overdraft"`
	Cashflow      CashflowSignals   `json:"cashflow"`
	WindowDays    int               `json:"window_days"`
	AccountsCount int               `json:"accounts_count"`
}

// IncomeSignals covers payroll and government-benefit income.
type IncomeSignals struct {
	PayrollCount       int     `json:"payroll_count"`
	PayrollTotal       float64 `json:"payroll_total"`
	GovCount           int     `json:"gov_count"`
	GovTotal           float64 `json:"gov_total"`
	PrimaryIncomeIsGov bool    `json:"primary_income_is_gov"`
}

// PaydayLoanSignals covers payday/high-cost loan activity. NewLoans are
// credits (money arriving from a lender), Deductions are debits (repayments).
type PaydayLoanSignals struct {
	NewLoanCount        int     `json:"new_loan_count"`
	NewLoanTotal        float64 `json:"new_loan_total"`
	DeductionCount      int     `json:"deduction_count"`
	DeductionTotal      float64 `json:"deduction_total"`
	DistinctLenders     int     `json:"distinct_lenders"`
	ActiveLoansEstimate int     `json:"active_loans_estimate"`
}

// GamblingSignals covers gambling spend in the window.
type GamblingSignals struct {
	TxnCount     int     `json:"txn_count"`
	Total        float64 `json:"total"`
	MaxSingle    float64 `json:"max_single"`
	DistinctDays int     `json:"distinct_days"`
	Detected     bool    `json:"detected"`
}

// ETransferSignals covers e-transfer volume in both directions.
type ETransferSignals struct {
	SentCount     int     `json:"sent_count"`
	SentTotal     float64 `json:"sent_total"`
	ReceivedCount int     `json:"received_count"`
	ReceivedTotal float64 `json:"received_total"`
}

// TrusteeSignals covers consumer-proposal / bankruptcy-trustee activity.
type TrusteeSignals struct {
	Active          bool    `json:"active"`
	PaymentCount    int     `json:"payment_count"`
	PaymentTotal    float64 `json:"payment_total"`
	FailedPayments  int     `json:"failed_payments"`
	LastPaymentDate string  `json:"last_payment_date"`
}

// NSFSignals counts NSF and overdraft incidents.
type NSFSignals struct {
	NSFCount       int `json:"nsf_count"`
	OverdraftCount int `json:"overdraft_count"`
}

// CashflowSignals totals credits and debits over the window.
type CashflowSignals struct {
	CreditsTotal float64 `json:"credits_total"`
	DebitsTotal  float64 `json:"debits_total"`
	Net          float64 `json:"net"`
}
