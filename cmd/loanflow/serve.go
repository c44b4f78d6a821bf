package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xcash-fin/loanflow/internal/intake"
	"github.com/xcash-fin/loanflow/internal/reconcile"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the intake HTTP server",
		Long: `Start the intake server. It records verification webhooks, accepts
loan submissions, and serves the decision ledger read view.

Submissions with a verified match on file are decided inline; everything
else waits in the pending queue for the next processing cycle.`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("forward-url", "", "forward a copy of each verification webhook to this URL")
	cmd.Flags().StringSlice("provinces", nil, "serviceable provinces (two-letter codes; empty accepts all)")

	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.forward_url", cmd.Flags().Lookup("forward-url"))
	_ = viper.BindPFlag("server.provinces", cmd.Flags().Lookup("provinces"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	p, err := buildPipeline(reconcile.Config{})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := p.Close(); closeErr != nil {
			slog.Error("failed to close pipeline", "error", closeErr)
		}
	}()

	srv := intake.NewServer(p.log, p.queue, p.ledger, p.engine, intake.Config{
		ForwardURL:           viper.GetString("server.forward_url"),
		ServiceableProvinces: viper.GetStringSlice("server.provinces"),
	}, slog.Default())

	addr := viper.GetString("server.addr")
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handlers.LoggingHandler(os.Stdout, srv.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("intake server listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		slog.Info("intake server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}
