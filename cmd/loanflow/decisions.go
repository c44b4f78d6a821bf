package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xcash-fin/loanflow/internal/cli"
	"github.com/xcash-fin/loanflow/internal/model"
	"github.com/xcash-fin/loanflow/internal/service"
)

func decisionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "List recorded loan decisions",
		RunE:  runDecisions,
	}

	cmd.Flags().String("since", "", "only decisions at or after this time (2006-01-02 or RFC3339)")
	cmd.Flags().String("decision", "", "filter by decision category")
	cmd.Flags().String("name", "", "filter by first or last name substring")
	cmd.Flags().IntP("limit", "n", 0, "maximum number of rows (0 for all)")
	cmd.Flags().Bool("json", false, "emit JSON instead of a table")

	_ = viper.BindPFlag("decisions.since", cmd.Flags().Lookup("since"))
	_ = viper.BindPFlag("decisions.decision", cmd.Flags().Lookup("decision"))
	_ = viper.BindPFlag("decisions.name", cmd.Flags().Lookup("name"))
	_ = viper.BindPFlag("decisions.limit", cmd.Flags().Lookup("limit"))
	_ = viper.BindPFlag("decisions.json", cmd.Flags().Lookup("json"))

	return cmd
}

func runDecisions(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	db, err := openLedger(slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	filter := service.DecisionFilter{
		Name:  viper.GetString("decisions.name"),
		Limit: viper.GetInt("decisions.limit"),
	}
	if d := viper.GetString("decisions.decision"); d != "" {
		decision := model.Decision(d)
		if !decision.Valid() {
			return fmt.Errorf("unknown decision category: %s", d)
		}
		filter.Decision = decision
	}
	if s := viper.GetString("decisions.since"); s != "" {
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

	if viper.GetBool("decisions.json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Println(cli.SubtleStyle.Render("No decisions recorded."))
		return nil
	}

	fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("Loan Decisions (%d)", len(records))))
	for _, r := range records {
		approved := ""
		if r.ApprovedAmount != nil {
			approved = fmt.Sprintf(" approved=$%.2f", *r.ApprovedAmount)
		}
		fmt.Printf("%s  %s  %s $%.2f%s\n",
			cli.SubtleStyle.Render(r.Timestamp.UTC().Format(time.RFC3339)),
			cli.DecisionStyle(r.Decision).Render(fmt.Sprintf("%-25s", string(r.Decision))),
			cli.BoldStyle.Render(fmt.Sprintf("%s %s", r.FirstName, r.LastName)),
			r.LoanAmount,
			approved,
		)
		if r.Rationale != "" {
			fmt.Printf("    %s\n", cli.SubtleStyle.Render(r.Rationale))
		}
	}
	return nil
}

// parseTimeFlag accepts a plain date or a full RFC3339 timestamp.
func parseTimeFlag(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use 2006-01-02 or RFC3339", value)
	}
	return t.UTC(), nil
}
