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
)

func skippedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skipped",
		Short: "List submissions skipped for being out of serviceable provinces",
		RunE:  runSkipped,
	}

	cmd.Flags().Bool("json", false, "emit JSON instead of a table")
	_ = viper.BindPFlag("skipped.json", cmd.Flags().Lookup("json"))

	return cmd
}

func runSkipped(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	db, err := openLedger(slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	skipped, err := db.ListSkipped(ctx)
	if err != nil {
		return fmt.Errorf("failed to list skipped applicants: %w", err)
	}

	if viper.GetBool("skipped.json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(skipped)
	}

	if len(skipped) == 0 {
		fmt.Println(cli.SubtleStyle.Render("No skipped submissions."))
		return nil
	}

	fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("Skipped Submissions (%d)", len(skipped))))
	for _, s := range skipped {
		fmt.Printf("%s  %s  %s\n",
			cli.SubtleStyle.Render(s.Timestamp.UTC().Format(time.RFC3339)),
			cli.WarningStyle.Render(fmt.Sprintf("%-4s", s.DetectedProvince)),
			cli.BoldStyle.Render(fmt.Sprintf("%s %s", s.FirstName, s.LastName)),
		)
		if s.Address != "" {
			fmt.Printf("    %s\n", cli.SubtleStyle.Render(s.Address))
		}
	}
	return nil
}
