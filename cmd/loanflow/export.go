package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xcash-fin/loanflow/internal/service"
	"github.com/xcash-fin/loanflow/internal/sheets"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the decision ledger to Google Sheets",
		Long: `Replace the configured spreadsheet's contents with the full decision
ledger, most recent decisions first. Credentials come from either a
service account key or stored OAuth2 credentials in the config.`,
		RunE: runExport,
	}

	cmd.Flags().String("spreadsheet-id", "", "existing spreadsheet id (a new one is created when empty)")
	cmd.Flags().String("since", "", "only export decisions at or after this time")

	_ = viper.BindPFlag("sheets.spreadsheet_id", cmd.Flags().Lookup("spreadsheet-id"))
	_ = viper.BindPFlag("export.since", cmd.Flags().Lookup("since"))

	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	db, err := openLedger(slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	filter := service.DecisionFilter{}
	if s := viper.GetString("export.since"); s != "" {
		since, err := parseTimeFlag(s)
		if err != nil {
			return err
		}
		filter.Since = &since
	}

	records, err := db.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list decisions: %w", err)
	}

	cfg := sheets.DefaultConfig()
	cfg.ClientID = viper.GetString("sheets.client_id")
	cfg.ClientSecret = viper.GetString("sheets.client_secret")
	cfg.RefreshToken = viper.GetString("sheets.refresh_token")
	cfg.ServiceAccountPath = expandPath(viper.GetString("sheets.service_account"))
	cfg.SpreadsheetID = viper.GetString("sheets.spreadsheet_id")
	if name := viper.GetString("sheets.spreadsheet_name"); name != "" {
		cfg.SpreadsheetName = name
	}

	exporter, err := sheets.NewExporter(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create exporter: %w", err)
	}

	if err := exporter.Export(ctx, records); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	slog.Info("export complete", "records", len(records))
	return nil
}
