package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xcash-fin/loanflow/internal/cli"
	"github.com/xcash-fin/loanflow/internal/features"
	"github.com/xcash-fin/loanflow/internal/ofx"
	"github.com/xcash-fin/loanflow/internal/verify"
)

func importOFXCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-ofx <file>",
		Short: "Parse an OFX statement and extract underwriting features",
		Long: `Parse a bank-exported OFX statement into a financial report and run
feature extraction over it. Useful for inspecting what the decision
model would see for a given statement.

With --decide and --amount, the statement is also run through the
decision model.`,
		Args: cobra.ExactArgs(1),
		RunE: runImportOFX,
	}

	cmd.Flags().Int("window-days", 0, "feature extraction window in days")
	cmd.Flags().Bool("render", false, "print the rendered report narrative instead of features")
	cmd.Flags().Bool("decide", false, "run the decision model against the statement")
	cmd.Flags().Float64("amount", 0, "requested loan amount (required with --decide)")

	_ = viper.BindPFlag("import_ofx.window_days", cmd.Flags().Lookup("window-days"))
	_ = viper.BindPFlag("import_ofx.render", cmd.Flags().Lookup("render"))
	_ = viper.BindPFlag("import_ofx.decide", cmd.Flags().Lookup("decide"))
	_ = viper.BindPFlag("import_ofx.amount", cmd.Flags().Lookup("amount"))

	return cmd
}

func runImportOFX(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	file, err := os.Open(expandPath(args[0]))
	if err != nil {
		return fmt.Errorf("failed to open OFX file: %w", err)
	}
	defer func() { _ = file.Close() }()

	report, err := ofx.NewParser().ParseReport(ctx, file)
	if err != nil {
		return fmt.Errorf("failed to parse OFX file: %w", err)
	}

	if viper.GetBool("import_ofx.render") {
		fmt.Println(verify.RenderText(report))
		return nil
	}

	windowDays := viper.GetInt("import_ofx.window_days")
	vector := features.Extract(report, windowDays)

	out, err := json.MarshalIndent(vector, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}
	fmt.Println(cli.TitleStyle.Render("Extracted Features"))
	fmt.Println(string(out))

	if !viper.GetBool("import_ofx.decide") {
		return nil
	}

	amount := viper.GetFloat64("import_ofx.amount")
	if amount <= 0 {
		return fmt.Errorf("--amount is required with --decide")
	}

	dec, err := newDecider(slog.Default())
	if err != nil {
		return err
	}

	judgment, err := dec.Decide(ctx, vector, verify.RenderText(report), amount)
	if err != nil {
		return fmt.Errorf("decision failed: %w", err)
	}

	fmt.Println(cli.TitleStyle.Render("Decision"))
	fmt.Println(cli.DecisionStyle(judgment.Decision).Render(string(judgment.Decision)))
	if judgment.ApprovedAmount != nil {
		fmt.Printf("Approved amount: $%.2f\n", *judgment.ApprovedAmount)
	}
	fmt.Println(judgment.Rationale)
	return nil
}
