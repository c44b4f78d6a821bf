package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/xcash-fin/loanflow/internal/common"
	"github.com/xcash-fin/loanflow/internal/model"
	"github.com/xcash-fin/loanflow/internal/service"
)

// Exporter writes the decision ledger to a Google Sheets spreadsheet.
type Exporter struct {
	service *sheets.Service
	logger  *slog.Logger
	config  Config
}

// NewExporter creates a sheets exporter.
func NewExporter(ctx context.Context, config Config, logger *slog.Logger) (*Exporter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	svc, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Exporter{config: config, service: svc, logger: logger}, nil
}

// createSheetsService builds the API client from either a service account
// key or stored OAuth2 credentials.
func createSheetsService(ctx context.Context, config Config) (*sheets.Service, error) {
	var tokenSource oauth2.TokenSource

	if config.ServiceAccountPath != "" {
		jsonKey, err := os.ReadFile(config.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}
		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		oauthConfig := &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{sheets.SpreadsheetsScope},
		}
		tokenSource = oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: config.RefreshToken})
	}

	svc, err := sheets.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets client: %w", err)
	}
	return svc, nil
}

// Export replaces the spreadsheet's contents with the given decisions,
// most recent first, matching the ledger's read order.
func (e *Exporter) Export(ctx context.Context, records []model.DecisionRecord) error {
	e.logger.Info("starting ledger export", "records", len(records))

	spreadsheetID, err := e.getOrCreateSpreadsheet(ctx)
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  e.config.RetryAttempts,
		InitialDelay: e.config.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	if err := common.WithRetry(ctx, func() error {
		return e.clearSheet(ctx, spreadsheetID)
	}, retryOpts); err != nil {
		return fmt.Errorf("failed to clear sheet: %w", err)
	}

	values := buildRows(records)
	if err := common.WithRetry(ctx, func() error {
		return e.writeValues(ctx, spreadsheetID, values)
	}, retryOpts); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}

	if e.config.EnableFormatting {
		if err := common.WithRetry(ctx, func() error {
			return e.applyFormatting(ctx, spreadsheetID)
		}, retryOpts); err != nil {
			// Formatting is cosmetic; the export already succeeded.
			e.logger.Warn("failed to apply formatting", "error", err)
		}
	}

	e.logger.Info("ledger export completed",
		"spreadsheet_id", spreadsheetID,
		"rows_written", len(values))
	return nil
}

// buildRows renders the header plus one row per decision.
func buildRows(records []model.DecisionRecord) [][]any {
	values := [][]any{
		{"Timestamp", "GUID", "First Name", "Last Name", "Requested", "Decision", "Approved Amount", "Rationale"},
	}
	for _, r := range records {
		approved := ""
		if r.ApprovedAmount != nil {
			approved = fmt.Sprintf("%.2f", *r.ApprovedAmount)
		}
		values = append(values, []any{
			r.Timestamp.UTC().Format(time.RFC3339),
			r.GUID,
			r.FirstName,
			r.LastName,
			fmt.Sprintf("%.2f", r.LoanAmount),
			string(r.Decision),
			approved,
			r.Rationale,
		})
	}
	return values
}

// getOrCreateSpreadsheet returns the configured spreadsheet id, creating a
// new spreadsheet when none is configured.
func (e *Exporter) getOrCreateSpreadsheet(ctx context.Context) (string, error) {
	if e.config.SpreadsheetID != "" {
		return e.config.SpreadsheetID, nil
	}

	spreadsheet := &sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: e.config.SpreadsheetName},
	}
	created, err := e.service.Spreadsheets.Create(spreadsheet).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create spreadsheet: %w", err)
	}
	e.logger.Info("created spreadsheet",
		"spreadsheet_id", created.SpreadsheetId,
		"title", e.config.SpreadsheetName)
	return created.SpreadsheetId, nil
}

func (e *Exporter) clearSheet(ctx context.Context, spreadsheetID string) error {
	_, err := e.service.Spreadsheets.Values.
		Clear(spreadsheetID, "A:Z", &sheets.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to clear values: %w", err)
	}
	return nil
}

func (e *Exporter) writeValues(ctx context.Context, spreadsheetID string, values [][]any) error {
	_, err := e.service.Spreadsheets.Values.
		Update(spreadsheetID, "A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update values: %w", err)
	}
	return nil
}

// applyFormatting bolds the header row and freezes it.
func (e *Exporter) applyFormatting(ctx context.Context, spreadsheetID string) error {
	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{StartRowIndex: 0, EndRowIndex: 1},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat: &sheets.TextFormat{Bold: true},
					},
				},
				Fields: "userEnteredFormat.textFormat.bold",
			},
		},
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
				},
				Fields: "gridProperties.frozenRowCount",
			},
		},
	}

	_, err := e.service.Spreadsheets.
		BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to apply formatting: %w", err)
	}
	return nil
}
