package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/xcash-fin/loanflow/internal/corrlog"
	"github.com/xcash-fin/loanflow/internal/decider"
	"github.com/xcash-fin/loanflow/internal/ledger"
	"github.com/xcash-fin/loanflow/internal/queue"
	"github.com/xcash-fin/loanflow/internal/reconcile"
	"github.com/xcash-fin/loanflow/internal/service"
	"github.com/xcash-fin/loanflow/internal/verify"
)

// pipeline bundles the wired stores and engine so commands can share one
// setup path and one teardown path.
type pipeline struct {
	log    *corrlog.Log
	queue  *queue.Store
	ledger *ledger.SQLiteLedger
	engine *reconcile.Engine
}

func (p *pipeline) Close() error {
	if p.ledger != nil {
		return p.ledger.Close()
	}
	return nil
}

// expandPath resolves a leading ~ and any $VAR references in a configured
// file path.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	} else if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// dataPath returns the configured path for key, falling back to a file
// under ~/.local/share/loanflow.
func dataPath(key, fallback string) string {
	path := viper.GetString(key)
	if path == "" {
		path = "~/.local/share/loanflow/" + fallback
	}
	return expandPath(path)
}

func openCorrelationLog() (*corrlog.Log, error) {
	log, err := corrlog.New(dataPath("events.path", "events.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open correlation log: %w", err)
	}
	return log, nil
}

func openQueue() (*queue.Store, error) {
	store, err := queue.New(dataPath("queue.path", "pending.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to open pending queue: %w", err)
	}
	return store, nil
}

func openLedger(logger *slog.Logger) (*ledger.SQLiteLedger, error) {
	db, err := ledger.New(dataPath("database.path", "loanflow.db"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open decision ledger: %w", err)
	}
	return db, nil
}

// newFetcher builds the configured report fetcher. The default provider is
// the verification partner's fetch API; "plaid" pulls accounts and
// transactions from Plaid instead.
func newFetcher() (service.ReportFetcher, error) {
	switch provider := viper.GetString("verify.provider"); provider {
	case "", "partner":
		return verify.NewClient(verify.Config{
			BaseURL: viper.GetString("verify.base_url"),
			APIKey:  viper.GetString("verify.api_key"),
		})
	case "plaid":
		return verify.NewPlaidFetcher(verify.PlaidConfig{
			ClientID:     viper.GetString("plaid.client_id"),
			Secret:       viper.GetString("plaid.secret"),
			Environment:  viper.GetString("plaid.environment"),
			AccessToken:  viper.GetString("plaid.access_token"),
			LookbackDays: viper.GetInt("plaid.lookback_days"),
		})
	default:
		return nil, fmt.Errorf("unknown verification provider: %s", provider)
	}
}

func newDecider(logger *slog.Logger) (*decider.Decider, error) {
	client, err := decider.NewClient(decider.Config{
		Provider:    viper.GetString("decider.provider"),
		APIKey:      viper.GetString("decider.api_key"),
		Model:       viper.GetString("decider.model"),
		BaseURL:     viper.GetString("decider.base_url"),
		Temperature: viper.GetFloat64("decider.temperature"),
		MaxTokens:   viper.GetInt("decider.max_tokens"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decision client: %w", err)
	}
	return decider.New(client, logger), nil
}

// buildPipeline wires stores, fetcher, decider and the reconciliation
// engine from configuration. Callers own Close.
func buildPipeline(engineCfg reconcile.Config) (*pipeline, error) {
	logger := slog.Default()

	log, err := openCorrelationLog()
	if err != nil {
		return nil, err
	}
	pending, err := openQueue()
	if err != nil {
		return nil, err
	}
	db, err := openLedger(logger)
	if err != nil {
		return nil, err
	}

	fetcher, err := newFetcher()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := newDecider(logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if engineCfg.WindowDays <= 0 {
		engineCfg.WindowDays = viper.GetInt("process.window_days")
	}
	if engineCfg.MaxAttempts <= 0 {
		engineCfg.MaxAttempts = viper.GetInt("process.max_attempts")
	}

	return &pipeline{
		log:    log,
		queue:  pending,
		ledger: db,
		engine: reconcile.New(log, pending, db, fetcher, dec, engineCfg, logger),
	}, nil
}
