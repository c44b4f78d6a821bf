// Package ofx parses OFX/QFX statement files into financial reports so an
// operator can run extraction on a manually supplied statement.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"

	"github.com/xcash-fin/loanflow/internal/model"
)

// Parser implements OFX/QFX file parsing.
type Parser struct{}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{}
}

// preprocessOFX fixes common formatting issues in OFX files.
func (p *Parser) preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")

	// Fix mixed-case SEVERITY values (should be INFO, WARN, or ERROR)
	severityRegex := regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	content = severityRegex.ReplaceAllStringFunc(content, func(match string) string {
		return strings.ToUpper(match)
	})

	// Fix missing closing angle brackets in SGML-style OFX files
	tagFixRegex := regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	content = tagFixRegex.ReplaceAllString(content, "$1>")

	return content
}

// ParseReport parses an OFX/QFX file into a report with one account per
// statement. The report's creation time is the latest posted transaction so
// the extraction window anchors at the statement's end, not at parse time.
func (p *Parser) ParseReport(_ context.Context, reader io.Reader) (model.Report, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return model.Report{}, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocessOFX(string(content))))
	if err != nil {
		return model.Report{}, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var report model.Report
	var latest time.Time

	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok {
			continue
		}
		account := model.Account{
			Institution: string(resp.Signon.Org),
			Type:        "bank",
			Transit:     string(stmt.BankAcctFrom.BankID),
			Number:      string(stmt.BankAcctFrom.AcctID),
		}
		balance, _ := stmt.BalAmt.Float64()
		account.CurrentBalance = model.Amount(balance)
		if stmt.BankTranList != nil {
			for _, ofxTx := range stmt.BankTranList.Transactions {
				tx := convertTransaction(ofxTx)
				account.Transactions = append(account.Transactions, tx)
				latest = laterOf(latest, ofxTx.DtPosted.Time)
			}
		}
		report.Accounts = append(report.Accounts, account)
	}

	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok {
			continue
		}
		account := model.Account{
			Institution: string(resp.Signon.Org),
			Type:        "credit_card",
			Number:      string(stmt.CCAcctFrom.AcctID),
		}
		balance, _ := stmt.BalAmt.Float64()
		account.CurrentBalance = model.Amount(balance)
		if stmt.BankTranList != nil {
			for _, ofxTx := range stmt.BankTranList.Transactions {
				tx := convertTransaction(ofxTx)
				account.Transactions = append(account.Transactions, tx)
				latest = laterOf(latest, ofxTx.DtPosted.Time)
			}
		}
		report.Accounts = append(report.Accounts, account)
	}

	if !latest.IsZero() {
		report.CreatedAt = latest.Format("2006-01-02 15:04:05")
	}

	slog.Info("parsed OFX statement",
		"accounts", len(report.Accounts),
		"transactions", len(report.AllTransactions()))

	return report, nil
}

// convertTransaction maps one OFX transaction. OFX amounts are negative for
// money out, positive for money in.
func convertTransaction(ofxTx ofxgo.Transaction) model.ReportTransaction {
	tx := model.ReportTransaction{
		Date:    ofxTx.DtPosted.Time.Format("2006-01-02"),
		Details: transactionText(ofxTx),
		Type:    fmt.Sprintf("%v", ofxTx.TrnType),
	}

	amount, _ := ofxTx.TrnAmt.Float64()
	if amount >= 0 {
		tx.Credit = model.Amount(amount)
	} else {
		tx.Debit = model.Amount(-amount)
	}
	return tx
}

// transactionText picks the most descriptive text field: payee, then name,
// with the memo appended when it adds information.
func transactionText(tx ofxgo.Transaction) string {
	text := string(tx.Name)
	if tx.Payee != nil && tx.Payee.Name != "" {
		text = string(tx.Payee.Name)
	}
	memo := strings.TrimSpace(string(tx.Memo))
	if memo != "" && !strings.EqualFold(memo, text) {
		if text == "" {
			return memo
		}
		return text + " " + memo
	}
	return strings.TrimSpace(text)
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
