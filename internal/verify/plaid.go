package verify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/plaid/plaid-go/v20/plaid"

	"github.com/xcash-fin/loanflow/internal/common"
	"github.com/xcash-fin/loanflow/internal/model"
	"github.com/xcash-fin/loanflow/internal/service"
)

// PlaidConfig holds Plaid API configuration for the fallback fetcher.
type PlaidConfig struct {
	ClientID     string
	Secret       string
	Environment  string // sandbox or production
	AccessToken  string
	LookbackDays int
}

// Validate ensures all required fields are present.
func (c *PlaidConfig) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("plaid client ID is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("plaid secret is required")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("plaid access token is required")
	}
	switch c.Environment {
	case "sandbox", "production":
		return nil
	default:
		return fmt.Errorf("invalid Plaid environment: must be sandbox or production")
	}
}

// PlaidFetcher implements service.ReportFetcher against the Plaid API. It is
// the fallback path for applicants connected through Plaid rather than the
// primary verification provider; the correlation id is ignored because the
// access token already pins the account set.
type PlaidFetcher struct {
	client       *plaid.APIClient
	logger       *slog.Logger
	retryOpts    service.RetryOptions
	accessToken  string
	lookbackDays int
}

// NewPlaidFetcher creates a Plaid-backed report fetcher.
func NewPlaidFetcher(cfg PlaidConfig) (*PlaidFetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)
	switch cfg.Environment {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	}

	lookback := cfg.LookbackDays
	if lookback <= 0 {
		lookback = 90
	}

	return &PlaidFetcher{
		client:       plaid.NewAPIClient(configuration),
		accessToken:  cfg.AccessToken,
		lookbackDays: lookback,
		logger:       slog.Default().With("component", "plaid"),
		retryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}, nil
}

// Fetch assembles a report from Plaid accounts and transactions.
func (f *PlaidFetcher) Fetch(ctx context.Context, guid string) (model.Report, error) {
	endDate := time.Now()
	startDate := endDate.AddDate(0, 0, -f.lookbackDays)

	f.logger.Info("fetching report from Plaid",
		"guid", guid,
		"start_date", startDate.Format("2006-01-02"),
		"end_date", endDate.Format("2006-01-02"))

	accounts, err := f.fetchAccounts(ctx)
	if err != nil {
		return model.Report{}, fmt.Errorf("%w: %v", common.ErrReportUnavailable, err)
	}

	transactions, err := f.fetchTransactions(ctx, startDate, endDate)
	if err != nil {
		return model.Report{}, fmt.Errorf("%w: %v", common.ErrReportUnavailable, err)
	}

	report := model.Report{
		CreatedAt: endDate.Format("2006-01-02 15:04:05"),
		Accounts:  accounts,
	}
	for _, pt := range transactions {
		report.Transactions = append(report.Transactions, mapPlaidTransaction(pt))
	}
	return report, nil
}

func (f *PlaidFetcher) fetchAccounts(ctx context.Context) ([]model.Account, error) {
	var plaidAccounts []plaid.AccountBase
	err := common.WithRetry(ctx, func() error {
		request := plaid.NewAccountsGetRequest(f.accessToken)
		resp, _, err := f.client.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*request).Execute()
		if err != nil {
			return classifyPlaidError(err, f.logger)
		}
		plaidAccounts = resp.GetAccounts()
		return nil
	}, f.retryOpts)
	if err != nil {
		return nil, err
	}

	accounts := make([]model.Account, 0, len(plaidAccounts))
	for _, acc := range plaidAccounts {
		balances := acc.GetBalances()
		balance := balances.GetCurrent()
		institution := acc.GetOfficialName()
		if institution == "" {
			institution = acc.GetName()
		}
		accounts = append(accounts, model.Account{
			Institution:    institution,
			Type:           string(acc.GetType()),
			Number:         acc.GetMask(),
			CurrentBalance: model.Amount(balance),
		})
	}
	return accounts, nil
}

func (f *PlaidFetcher) fetchTransactions(ctx context.Context, startDate, endDate time.Time) ([]plaid.Transaction, error) {
	var all []plaid.Transaction
	offset := int32(0)
	const pageSize = int32(500) // Plaid's max page size

	for {
		var page []plaid.Transaction
		err := common.WithRetry(ctx, func() error {
			request := plaid.NewTransactionsGetRequest(
				f.accessToken,
				startDate.Format("2006-01-02"),
				endDate.Format("2006-01-02"),
			)
			options := plaid.TransactionsGetRequestOptions{
				Count:  plaid.PtrInt32(pageSize),
				Offset: plaid.PtrInt32(offset),
			}
			request.SetOptions(options)

			resp, _, err := f.client.PlaidApi.TransactionsGet(ctx).TransactionsGetRequest(*request).Execute()
			if err != nil {
				return classifyPlaidError(err, f.logger)
			}
			page = resp.GetTransactions()
			return nil
		}, f.retryOpts)
		if err != nil {
			return nil, err
		}

		all = append(all, page...)
		if len(page) < int(pageSize) {
			break
		}
		offset += pageSize
	}

	f.logger.Debug("fetched Plaid transactions", "count", len(all))
	return all, nil
}

// mapPlaidTransaction converts a Plaid transaction to a report transaction.
// Plaid amounts are positive for money out, negative for money in.
func mapPlaidTransaction(pt plaid.Transaction) model.ReportTransaction {
	tx := model.ReportTransaction{
		Date:    pt.GetDate(),
		Details: pt.GetName(),
	}
	if merchant := pt.GetMerchantName(); merchant != "" {
		tx.Description = merchant
	}
	if categories := pt.GetCategory(); len(categories) > 0 {
		tx.Category = strings.ToLower(strings.Join(categories, "/"))
	}

	amount := pt.GetAmount()
	if amount > 0 {
		tx.Debit = model.Amount(amount)
	} else if amount < 0 {
		tx.Credit = model.Amount(-amount)
	}
	return tx
}

// classifyPlaidError marks rate-limit failures retryable and everything else
// permanent.
func classifyPlaidError(err error, logger *slog.Logger) error {
	if plaidErr, convErr := plaid.ToPlaidError(err); convErr == nil {
		if plaidErr.ErrorCode == "RATE_LIMIT_EXCEEDED" {
			logger.Warn("Plaid rate limit hit, will retry", "error", plaidErr.ErrorMessage)
			return common.Retryable(err)
		}
		return common.Permanent(fmt.Errorf("plaid API error: %s - %s", plaidErr.ErrorCode, plaidErr.ErrorMessage))
	}
	return fmt.Errorf("plaid request failed: %w", err)
}

var _ service.ReportFetcher = (*PlaidFetcher)(nil)
